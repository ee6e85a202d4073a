package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babushkafon/auth-api/internal/logging"
	"github.com/babushkafon/auth-api/internal/ratelimit"
)

type handlerEnv struct {
	*testEnv
	router  *chi.Mux
	limiter *ratelimit.Limiter
}

func newHandlerEnv(t *testing.T, limitCfg ratelimit.Config) *handlerEnv {
	t.Helper()

	env := newTestEnv(t)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	limiter := ratelimit.NewLimiter(client, limitCfg)

	handler := NewHandler(env.service, limiter, logging.NewLogger(true), false)
	authMiddleware := NewMiddleware(env.sessions)

	router := chi.NewRouter()
	router.Route("/auth", func(r chi.Router) {
		r.Post("/register", handler.Register)
		r.Post("/login", handler.Login)
		r.Post("/logout", handler.Logout)
		r.Get("/confirm-email", handler.ConfirmEmail)
		r.Post("/resend-confirmation", handler.ResendConfirmation)
		r.Post("/forgot-password", handler.ForgotPassword)
		r.Get("/reset-password", handler.CheckResetToken)
		r.Post("/reset-password", handler.ResetPassword)
	})
	router.Group(func(r chi.Router) {
		r.Use(authMiddleware.RequireSession)
		r.Get("/me", handler.Me)
	})

	return &handlerEnv{testEnv: env, router: router, limiter: limiter}
}

func (e *handlerEnv) postJSON(t *testing.T, path string, body any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	payload, err := json.Marshal(body)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "192.0.2.1:54321"
	for _, c := range cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *handlerEnv) get(t *testing.T, path string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "192.0.2.1:54321"
	for _, c := range cookies {
		req.AddCookie(c)
	}

	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func sessionCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()

	for _, c := range rec.Result().Cookies() {
		if c.Name == "session" {
			return c
		}
	}
	t.Fatal("no session cookie in response")
	return nil
}

func TestRegisterEndpoint(t *testing.T) {
	env := newHandlerEnv(t, ratelimit.DefaultConfig())

	rec := env.postJSON(t, "/auth/register", RegisterRequest{
		Email:                "fresh@example.com",
		Password:             "password123",
		PasswordConfirmation: "password123",
	})

	require.Equal(t, http.StatusCreated, rec.Code)

	var resp RegisterResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "fresh@example.com", resp.User.Email)
	assert.False(t, resp.User.Confirmed)
	assert.Equal(t, 1, env.mailer.confirmationCount())
}

func TestRegisterEndpointValidation(t *testing.T) {
	env := newHandlerEnv(t, ratelimit.DefaultConfig())

	rec := env.postJSON(t, "/auth/register", RegisterRequest{
		Email:                "bad",
		Password:             "short",
		PasswordConfirmation: "different",
	})

	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	var resp struct {
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.Fields, "email")
	assert.Contains(t, resp.Fields, "password")
	assert.Contains(t, resp.Fields, "password_confirmation")
}

func TestLoginFlowWithCookie(t *testing.T) {
	env := newHandlerEnv(t, ratelimit.DefaultConfig())

	env.postJSON(t, "/auth/register", RegisterRequest{
		Email: "member@example.com", Password: "password123", PasswordConfirmation: "password123",
	})

	// Unconfirmed: 403, no cookie, no session
	rec := env.postJSON(t, "/auth/login", LoginRequest{Email: "member@example.com", Password: "password123"})
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Result().Cookies())
	assert.Equal(t, 0, env.sessions.count())

	// Confirm via the mailed link, then log in
	token := env.mailer.lastConfirmation().token
	rec = env.get(t, "/auth/confirm-email?token="+token)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.postJSON(t, "/auth/login", LoginRequest{Email: "member@example.com", Password: "password123"})
	require.Equal(t, http.StatusOK, rec.Code)
	cookie := sessionCookie(t, rec)
	assert.True(t, cookie.HttpOnly)

	// The cookie authenticates /me
	rec = env.get(t, "/me", cookie)
	require.Equal(t, http.StatusOK, rec.Code)
	var me UserResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &me))
	assert.Equal(t, "member@example.com", me.Email)
	assert.True(t, me.Confirmed)

	// Logout kills the session; the old cookie is now worthless
	rec = env.postJSON(t, "/auth/logout", struct{}{}, cookie)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.get(t, "/me", cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	env := newHandlerEnv(t, ratelimit.DefaultConfig())

	rec := env.postJSON(t, "/auth/login", LoginRequest{Email: "nobody@example.com", Password: "password123"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "Try another email address or password.")
}

func TestMeWithoutCookie(t *testing.T) {
	env := newHandlerEnv(t, ratelimit.DefaultConfig())

	rec := env.get(t, "/me")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.get(t, "/me", &http.Cookie{Name: "session", Value: "forged"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestConfirmEmailGenericFailure(t *testing.T) {
	env := newHandlerEnv(t, ratelimit.DefaultConfig())

	rec := env.get(t, "/auth/confirm-email?token=garbage")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), MsgTokenInvalid)

	rec = env.get(t, "/auth/confirm-email")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestNonEnumerationIdenticalBodies(t *testing.T) {
	env := newHandlerEnv(t, ratelimit.DefaultConfig())

	env.postJSON(t, "/auth/register", RegisterRequest{
		Email: "exists@example.com", Password: "password123", PasswordConfirmation: "password123",
	})

	t.Run("forgot password", func(t *testing.T) {
		known := env.postJSON(t, "/auth/forgot-password", EmailRequest{Email: "exists@example.com"})
		unknown := env.postJSON(t, "/auth/forgot-password", EmailRequest{Email: "ghost@example.com"})

		require.Equal(t, http.StatusOK, known.Code)
		require.Equal(t, http.StatusOK, unknown.Code)
		assert.Equal(t, known.Body.String(), unknown.Body.String())
	})

	t.Run("resend confirmation", func(t *testing.T) {
		known := env.postJSON(t, "/auth/resend-confirmation", EmailRequest{Email: "exists@example.com"})
		unknown := env.postJSON(t, "/auth/resend-confirmation", EmailRequest{Email: "ghost@example.com"})

		require.Equal(t, http.StatusOK, known.Code)
		require.Equal(t, http.StatusOK, unknown.Code)
		assert.Equal(t, known.Body.String(), unknown.Body.String())
	})
}

func TestLoginRateLimit(t *testing.T) {
	env := newHandlerEnv(t, ratelimit.DefaultConfig())

	env.postJSON(t, "/auth/register", RegisterRequest{
		Email: "target@example.com", Password: "password123", PasswordConfirmation: "password123",
	})
	token := env.mailer.lastConfirmation().token
	env.get(t, "/auth/confirm-email?token="+token)

	for i := 0; i < 10; i++ {
		rec := env.postJSON(t, "/auth/login", LoginRequest{Email: "target@example.com", Password: "wrong-password"})
		require.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
	}

	// The 11th attempt is throttled even with the right password
	rec := env.postJSON(t, "/auth/login", LoginRequest{Email: "target@example.com", Password: "password123"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), MsgTryAgainLater)
	assert.Equal(t, 0, env.sessions.count())
}

func TestRateLimitKeyedByClient(t *testing.T) {
	env := newHandlerEnv(t, ratelimit.Config{MaxAttempts: 1, Window: ratelimit.DefaultConfig().Window})

	rec := env.postJSON(t, "/auth/login", LoginRequest{Email: "a@example.com", Password: "x"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = env.postJSON(t, "/auth/login", LoginRequest{Email: "a@example.com", Password: "x"})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	// A different client IP gets its own window
	payload, err := json.Marshal(LoginRequest{Email: "a@example.com", Password: "x"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/auth/login", bytes.NewReader(payload))
	req.Header.Set("X-Forwarded-For", "198.51.100.99, 10.0.0.1")
	rec2 := httptest.NewRecorder()
	env.router.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusUnauthorized, rec2.Code)
}

func TestPasswordResetFlow(t *testing.T) {
	env := newHandlerEnv(t, ratelimit.DefaultConfig())

	env.postJSON(t, "/auth/register", RegisterRequest{
		Email: "reset-me@example.com", Password: "password123", PasswordConfirmation: "password123",
	})
	confirmToken := env.mailer.lastConfirmation().token
	env.get(t, "/auth/confirm-email?token="+confirmToken)

	login := env.postJSON(t, "/auth/login", LoginRequest{Email: "reset-me@example.com", Password: "password123"})
	require.Equal(t, http.StatusOK, login.Code)
	cookie := sessionCookie(t, login)

	rec := env.postJSON(t, "/auth/forgot-password", EmailRequest{Email: "reset-me@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	resetToken := env.mailer.lastReset().token

	// The reset form checks the token without consuming it
	rec = env.get(t, "/auth/reset-password?token="+resetToken)
	require.Equal(t, http.StatusOK, rec.Code)

	// A short password is a retryable validation failure
	rec = env.postJSON(t, "/auth/reset-password", ResetPasswordRequest{
		Token: resetToken, Password: "short", PasswordConfirmation: "short",
	})
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.postJSON(t, "/auth/reset-password", ResetPasswordRequest{
		Token: resetToken, Password: "newpassword456", PasswordConfirmation: "newpassword456",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	// The pre-reset session is gone
	rec = env.get(t, "/me", cookie)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Only the new password logs in
	rec = env.postJSON(t, "/auth/login", LoginRequest{Email: "reset-me@example.com", Password: "password123"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = env.postJSON(t, "/auth/login", LoginRequest{Email: "reset-me@example.com", Password: "newpassword456"})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestResetPasswordRequiresToken(t *testing.T) {
	env := newHandlerEnv(t, ratelimit.DefaultConfig())

	rec := env.postJSON(t, "/auth/reset-password", ResetPasswordRequest{
		Password: "newpassword456", PasswordConfirmation: "newpassword456",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.get(t, "/auth/reset-password")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.get(t, "/auth/reset-password?token=garbage")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), MsgTokenInvalid)
}

func TestInvalidRequestBodies(t *testing.T) {
	env := newHandlerEnv(t, ratelimit.DefaultConfig())

	for _, path := range []string{
		"/auth/register",
		"/auth/login",
		"/auth/resend-confirmation",
		"/auth/forgot-password",
		"/auth/reset-password",
	} {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader([]byte("{not json")))
		req.RemoteAddr = fmt.Sprintf("192.0.2.%d:1000", len(path)) // spread across limiter keys
		rec := httptest.NewRecorder()
		env.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "path %s", path)
	}
}
