package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"

	"github.com/google/uuid"

	"github.com/babushkafon/auth-api/internal/email"
	"github.com/babushkafon/auth-api/internal/logging"
	"github.com/babushkafon/auth-api/internal/user"
)

// UserStore is the credential-store surface the orchestrator needs.
type UserStore interface {
	Create(ctx context.Context, email, passwordHash string) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
	ConfirmEmail(ctx context.Context, id uuid.UUID) (*user.User, error)
	UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error
}

// Sessions is the session-manager surface the orchestrator needs.
type Sessions interface {
	Create(ctx context.Context, u *user.User) (string, error)
	Destroy(ctx context.Context, handle string) error
	DestroyAll(ctx context.Context, userID uuid.UUID) error
	Resolve(ctx context.Context, handle string) (*user.User, error)
}

// Mailer renders and sends the two verification mails.
type Mailer interface {
	SendConfirmationEmail(ctx context.Context, toEmail, token string) error
	SendPasswordResetEmail(ctx context.Context, toEmail, token string) error
}

// Service composes the credential store, token service, session manager and
// mail delivery into the user-facing authentication flows.
type Service struct {
	users    UserStore
	sessions Sessions
	tokens   *Tokens
	mailer   Mailer
	delivery email.Delivery
	logger   *logging.Logger
}

func NewService(
	users UserStore,
	sessions Sessions,
	tokens *Tokens,
	mailer Mailer,
	delivery email.Delivery,
	logger *logging.Logger,
) *Service {
	return &Service{
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		mailer:   mailer,
		delivery: delivery,
		logger:   logger,
	}
}

// Register creates a new unconfirmed account and attempts to send the
// confirmation mail exactly once. Delivery failure is logged, never surfaced:
// the account exists either way and the user can request a resend.
func (s *Service) Register(ctx context.Context, rawEmail, password, passwordConfirmation string) (*user.User, error) {
	normalized := user.NormalizeEmail(rawEmail)

	fields := map[string]string{}
	validateEmail(fields, normalized)
	validatePassword(fields, password, passwordConfirmation)
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	passwordHash, err := HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	newUser, err := s.users.Create(ctx, normalized, passwordHash)
	if err != nil {
		if errors.Is(err, user.ErrDuplicateEmail) {
			return nil, &ValidationError{Fields: map[string]string{
				"email": "has already been taken",
			}}
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.sendConfirmation(newUser)

	return newUser, nil
}

// Login verifies credentials and opens a session. Unknown email and wrong
// password share one failure so the endpoint cannot be used to enumerate
// accounts. An unconfirmed account with the right password is told to
// confirm first and gets no session; that message intentionally reveals
// confirmation state, since without it the user has no way forward.
func (s *Service) Login(ctx context.Context, rawEmail, password string) (string, *user.User, error) {
	u, err := s.authenticate(ctx, rawEmail, password)
	if err != nil {
		return "", nil, err
	}

	if !u.Confirmed() {
		return "", nil, ErrEmailNotConfirmed
	}

	handle, err := s.sessions.Create(ctx, u)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create session: %w", err)
	}

	return handle, u, nil
}

// Logout destroys the session behind the handle. Absent or undecodable
// handles are fine; logging out twice is not an error.
func (s *Service) Logout(ctx context.Context, handle string) error {
	return s.sessions.Destroy(ctx, handle)
}

// ConfirmEmail redeems a confirmation token. Success moves (or refreshes)
// email_confirmed_at, which makes every other outstanding confirmation token
// stale. All verification failures collapse to ErrTokenInvalid.
func (s *Service) ConfirmEmail(ctx context.Context, token string) (*user.User, error) {
	u, err := s.tokens.Verify(ctx, PurposeEmailConfirmation, token)
	if err != nil {
		return nil, ClassifyTokenError(s.logger, PurposeEmailConfirmation, err)
	}

	confirmed, err := s.users.ConfirmEmail(ctx, u.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to confirm email: %w", err)
	}

	s.logger.Info("email confirmed", "user_id", confirmed.ID)

	return confirmed, nil
}

// ResendConfirmation sends a fresh confirmation mail when the address
// belongs to an unconfirmed account. Unknown and already-confirmed addresses
// do nothing; the caller responds identically in every branch.
func (s *Service) ResendConfirmation(ctx context.Context, rawEmail string) error {
	u, err := s.users.GetByEmail(ctx, user.NormalizeEmail(rawEmail))
	if err != nil {
		if !errors.Is(err, user.ErrNotFound) {
			s.logger.Warn("failed to look up user for confirmation resend", "error", err.Error())
		}
		return nil
	}

	if u.Confirmed() {
		return nil
	}

	s.sendConfirmation(u)

	return nil
}

// RequestPasswordReset mails a reset link when the address is registered,
// regardless of confirmation state. Unknown addresses do nothing; the caller
// responds identically either way.
func (s *Service) RequestPasswordReset(ctx context.Context, rawEmail string) error {
	u, err := s.users.GetByEmail(ctx, user.NormalizeEmail(rawEmail))
	if err != nil {
		if !errors.Is(err, user.ErrNotFound) {
			s.logger.Warn("failed to look up user for password reset", "error", err.Error())
		}
		return nil
	}

	token, err := s.tokens.Mint(u, PurposePasswordReset)
	if err != nil {
		s.logger.Error("failed to mint password reset token", "error", err.Error())
		return nil
	}

	toEmail := u.Email
	s.delivery.Dispatch(func(ctx context.Context) error {
		return s.mailer.SendPasswordResetEmail(ctx, toEmail, token)
	})

	return nil
}

// CheckPasswordResetToken resolves a reset token to its user without
// consuming it, so the reset form can be shown and retried until the token
// expires.
func (s *Service) CheckPasswordResetToken(ctx context.Context, token string) (*user.User, error) {
	u, err := s.tokens.Verify(ctx, PurposePasswordReset, token)
	if err != nil {
		return nil, ClassifyTokenError(s.logger, PurposePasswordReset, err)
	}

	return u, nil
}

// ResetPassword redeems a reset token and replaces the password, then
// destroys every session the user had so old logins cannot outlive the old
// credential. Validation failures leave the token usable for a retry.
func (s *Service) ResetPassword(ctx context.Context, token, password, passwordConfirmation string) error {
	u, err := s.tokens.Verify(ctx, PurposePasswordReset, token)
	if err != nil {
		return ClassifyTokenError(s.logger, PurposePasswordReset, err)
	}

	fields := map[string]string{}
	validatePassword(fields, password, passwordConfirmation)
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}

	passwordHash, err := HashPassword(password)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	if err := s.users.UpdatePassword(ctx, u.ID, passwordHash); err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}

	if err := s.sessions.DestroyAll(ctx, u.ID); err != nil {
		return fmt.Errorf("failed to destroy sessions after password reset: %w", err)
	}

	s.logger.Info("password reset completed", "user_id", u.ID)

	return nil
}

// ResolveSession maps a session handle to its user.
func (s *Service) ResolveSession(ctx context.Context, handle string) (*user.User, error) {
	return s.sessions.Resolve(ctx, handle)
}

func (s *Service) authenticate(ctx context.Context, rawEmail, password string) (*user.User, error) {
	if rawEmail == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	u, err := s.users.GetByEmail(ctx, user.NormalizeEmail(rawEmail))
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if !VerifyPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	return u, nil
}

// sendConfirmation mints a confirmation token and hands the mail to the
// delivery capability. Mint failures are logged and swallowed for the same
// reason delivery failures are: the triggering state change stands.
func (s *Service) sendConfirmation(u *user.User) {
	token, err := s.tokens.Mint(u, PurposeEmailConfirmation)
	if err != nil {
		s.logger.Error("failed to mint confirmation token", "error", err.Error())
		return
	}

	toEmail := u.Email
	s.delivery.Dispatch(func(ctx context.Context) error {
		return s.mailer.SendConfirmationEmail(ctx, toEmail, token)
	})
}

func validateEmail(fields map[string]string, normalized string) {
	switch {
	case normalized == "":
		fields["email"] = "is required"
	case len(normalized) > 254:
		fields["email"] = "is too long"
	default:
		if _, err := mail.ParseAddress(normalized); err != nil {
			fields["email"] = "is not a valid email address"
		}
	}
}

func validatePassword(fields map[string]string, password, confirmation string) {
	switch {
	case password == "":
		fields["password"] = "is required"
	case len(password) < 8:
		fields["password"] = "must be at least 8 characters"
	}

	if password != confirmation {
		fields["password_confirmation"] = "does not match password"
	}
}
