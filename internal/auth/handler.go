package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/babushkafon/auth-api/internal/httputil"
	"github.com/babushkafon/auth-api/internal/logging"
	"github.com/babushkafon/auth-api/internal/ratelimit"
)

// Response messages. The "instructions sent if applicable" messages are
// shared constants so the non-enumeration endpoints return byte-identical
// bodies whether or not the address exists.
const (
	MsgConfirmationInstructions = "If your email is registered and not yet confirmed, a confirmation link has been sent."
	MsgResetInstructions        = "If an account exists with that email, password reset instructions have been sent."
	MsgTryAgainLater            = "too many requests, please try again later"
	MsgTokenInvalid             = "This link is invalid or has expired. Please request a new one."
)

// Rate-limited actions. Each gets its own sliding window per client.
const (
	actionRegister           = "register"
	actionLogin              = "login"
	actionPasswordReset      = "password_reset"
	actionResendConfirmation = "resend_confirmation"
)

// Handler contains HTTP handlers for the authentication endpoints
type Handler struct {
	service      *Service
	rateLimiter  *ratelimit.Limiter
	logger       *logging.Logger
	isProduction bool
}

func NewHandler(service *Service, rateLimiter *ratelimit.Limiter, logger *logging.Logger, isProduction bool) *Handler {
	return &Handler{
		service:      service,
		rateLimiter:  rateLimiter,
		logger:       logger,
		isProduction: isProduction,
	}
}

// RegisterRequest represents the registration request body
type RegisterRequest struct {
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// EmailRequest carries just an email address (resend confirmation, forgot password)
type EmailRequest struct {
	Email string `json:"email"`
}

// ResetPasswordRequest represents the password reset submission
type ResetPasswordRequest struct {
	Token                string `json:"token"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}

// UserResponse represents a user in API responses
type UserResponse struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Confirmed bool      `json:"confirmed"`
}

// MessageResponse is a plain informational response
type MessageResponse struct {
	Message string `json:"message"`
}

// RegisterResponse represents the registration response
type RegisterResponse struct {
	User    UserResponse `json:"user"`
	Message string       `json:"message"`
}

// Register handles user registration. The account is created unconfirmed and
// a confirmation mail is attempted once; mail problems never fail the request.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if !h.allow(w, r, actionRegister) {
		return
	}

	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid registration request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	newUser, err := h.service.Register(r.Context(), req.Email, req.Password, req.PasswordConfirmation)
	if err != nil {
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			logger.Warn("registration failed: validation error", "error", err.Error())
			httputil.RespondValidationError(w, "registration failed", validationErr.Fields)
			return
		}
		logger.Error("registration failed: internal error", "error", err.Error())
		respondError(w, "failed to register", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("user registered", "user_id", newUser.ID)

	respondJSON(w, RegisterResponse{
		User: UserResponse{
			ID:        newUser.ID,
			Email:     newUser.Email,
			Confirmed: newUser.Confirmed(),
		},
		Message: "Registration successful. Please check your email to confirm your address.",
	}, http.StatusCreated)
}

// Login authenticates a user and opens a session. Unknown email and wrong
// password get the same answer; a correct password on an unconfirmed account
// gets an explicit confirm-first message and no session.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if !h.allow(w, r, actionLogin) {
		return
	}

	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid login request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	handle, loggedIn, err := h.service.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			logger.Warn("login failed: invalid credentials")
			respondError(w, "Try another email address or password.", httputil.CodeInvalidCredentials, http.StatusUnauthorized)
			return
		}
		if errors.Is(err, ErrEmailNotConfirmed) {
			logger.Warn("login failed: email not confirmed")
			respondError(w, "Please confirm your email before logging in. Check your inbox or request a new confirmation link.", httputil.CodeEmailNotConfirmed, http.StatusForbidden)
			return
		}
		logger.Error("login failed: internal error", "error", err.Error())
		respondError(w, "failed to login", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("user logged in", "user_id", loggedIn.ID)

	SetSessionCookie(w, handle, h.isProduction)
	respondJSON(w, MessageResponse{Message: "logged in successfully"}, http.StatusOK)
}

// Logout destroys the current session and clears the cookie. Logging out
// without a session still succeeds.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if handle, err := GetSessionFromCookie(r); err == nil {
		if err := h.service.Logout(r.Context(), handle); err != nil {
			logger.Warn("failed to destroy session", "error", err.Error())
			// Still clear the cookie
		}
	}

	ClearSessionCookie(w, h.isProduction)

	logger.Info("user logged out")

	respondJSON(w, MessageResponse{Message: "logged out"}, http.StatusOK)
}

// ConfirmEmail redeems a confirmation link. Every failure mode shows the
// same generic message; the specific reason is only logged.
func (h *Handler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	token := r.URL.Query().Get("token")
	if token == "" {
		logger.Warn("email confirmation failed: token missing")
		respondError(w, "confirmation token required", httputil.CodeTokenRequired, http.StatusBadRequest)
		return
	}

	confirmed, err := h.service.ConfirmEmail(r.Context(), token)
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			respondError(w, MsgTokenInvalid, httputil.CodeTokenInvalid, http.StatusBadRequest)
			return
		}
		logger.Error("email confirmation failed: internal error", "error", err.Error())
		respondError(w, "failed to confirm email", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("email confirmed", "user_id", confirmed.ID)

	respondJSON(w, MessageResponse{Message: "Email confirmed successfully. You can now log in."}, http.StatusOK)
}

// ResendConfirmation sends a new confirmation link if applicable. The
// response is identical whether the address is unknown, unconfirmed or
// already confirmed.
func (h *Handler) ResendConfirmation(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if !h.allow(w, r, actionResendConfirmation) {
		return
	}

	var req EmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid resend confirmation request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	_ = h.service.ResendConfirmation(r.Context(), req.Email)

	respondJSON(w, MessageResponse{Message: MsgConfirmationInstructions}, http.StatusOK)
}

// ForgotPassword mails reset instructions if applicable. The response is
// identical whether or not the address is registered.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	if !h.allow(w, r, actionPasswordReset) {
		return
	}

	var req EmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid forgot password request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	_ = h.service.RequestPasswordReset(r.Context(), req.Email)

	respondJSON(w, MessageResponse{Message: MsgResetInstructions}, http.StatusOK)
}

// CheckResetToken validates a reset token for the reset form without
// consuming it. The token stays usable until it expires.
func (h *Handler) CheckResetToken(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	token := r.URL.Query().Get("token")
	if token == "" {
		respondError(w, "reset token required", httputil.CodeTokenRequired, http.StatusBadRequest)
		return
	}

	if _, err := h.service.CheckPasswordResetToken(r.Context(), token); err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			respondError(w, MsgTokenInvalid, httputil.CodeTokenInvalid, http.StatusBadRequest)
			return
		}
		logger.Error("reset token check failed: internal error", "error", err.Error())
		respondError(w, "failed to check reset token", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	respondJSON(w, MessageResponse{Message: "token is valid"}, http.StatusOK)
}

// ResetPassword applies a new password via a reset token and destroys all of
// the user's sessions. Validation failures are field-level so the form can
// be retried with the same token.
func (h *Handler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	logger := logging.GetLoggerFromContext(r.Context())

	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid reset password request body", "error", err.Error())
		respondError(w, "invalid request body", httputil.CodeInvalidRequestBody, http.StatusBadRequest)
		return
	}

	if req.Token == "" {
		respondError(w, "reset token required", httputil.CodeTokenRequired, http.StatusBadRequest)
		return
	}

	err := h.service.ResetPassword(r.Context(), req.Token, req.Password, req.PasswordConfirmation)
	if err != nil {
		if errors.Is(err, ErrTokenInvalid) {
			respondError(w, MsgTokenInvalid, httputil.CodeTokenInvalid, http.StatusBadRequest)
			return
		}
		var validationErr *ValidationError
		if errors.As(err, &validationErr) {
			logger.Warn("password reset failed: validation error", "error", err.Error())
			httputil.RespondValidationError(w, "password reset failed", validationErr.Fields)
			return
		}
		logger.Error("password reset failed: internal error", "error", err.Error())
		respondError(w, "failed to reset password", httputil.CodeInternalError, http.StatusInternalServerError)
		return
	}

	logger.Info("password reset successfully")

	respondJSON(w, MessageResponse{Message: "Password reset successfully. You can now log in with your new password."}, http.StatusOK)
}

// Me returns the authenticated user. Mounted behind RequireSession.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	u, ok := UserFromContext(r.Context())
	if !ok {
		respondError(w, "authentication required", httputil.CodeMissingSession, http.StatusUnauthorized)
		return
	}

	respondJSON(w, UserResponse{
		ID:        u.ID,
		Email:     u.Email,
		Confirmed: u.Confirmed(),
	}, http.StatusOK)
}

// allow runs the sliding-window check for the action. When the window is
// exhausted the client gets the same error envelope as any other failure
// with a generic retry-later message. Limiter infrastructure errors fail
// open so Redis trouble does not lock everyone out.
func (h *Handler) allow(w http.ResponseWriter, r *http.Request, action string) bool {
	logger := logging.GetLoggerFromContext(r.Context())

	ip := getClientIP(r)
	ok, err := h.rateLimiter.Allow(r.Context(), ip, action)
	if err != nil {
		logger.Error("failed to check rate limit", "action", action, "error", err.Error())
		return true
	}
	if !ok {
		logger.Warn("rate limit exceeded", "action", action, "ip", ip)
		respondError(w, MsgTryAgainLater, httputil.CodeTooManyRequests, http.StatusTooManyRequests)
		return false
	}

	return true
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, data any, statusCode int) {
	httputil.RespondJSON(w, data, statusCode)
}

// respondError sends an error response with a machine-readable code
func respondError(w http.ResponseWriter, message string, code string, statusCode int) {
	httputil.RespondErrorWithCode(w, message, code, statusCode)
}

// getClientIP extracts the client IP address from the request
func getClientIP(r *http.Request) string {
	// X-Forwarded-For can contain multiple IPs, take the first one
	xff := r.Header.Get("X-Forwarded-For")
	if xff != "" {
		ips := strings.Split(xff, ",")
		if len(ips) > 0 {
			return strings.TrimSpace(ips[0])
		}
	}

	xri := r.Header.Get("X-Real-IP")
	if xri != "" {
		return strings.TrimSpace(xri)
	}

	// RemoteAddr format is "IP:port", extract just the IP
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}
