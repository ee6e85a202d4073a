package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"aidanwoods.dev/go-paseto"
	"github.com/google/uuid"

	"github.com/babushkafon/auth-api/internal/user"
)

// Purpose scopes a verification token to one flow. A token minted for one
// purpose is rejected when presented for another.
type Purpose string

const (
	PurposePasswordReset     Purpose = "password_reset"
	PurposeEmailConfirmation Purpose = "email_confirmation"
)

// Default validity windows per purpose.
const (
	DefaultPasswordResetTTL     = 2 * time.Hour
	DefaultEmailConfirmationTTL = 24 * time.Hour
)

// Typed verification failures. Callers must collapse all of them into one
// generic user-facing message (see ClassifyTokenError); the subtypes exist
// for logging and tests only.
var (
	ErrBadSignature     = errors.New("token authentication failed")
	ErrWrongPurpose     = errors.New("token minted for a different purpose")
	ErrTokenExpired     = errors.New("token has expired")
	ErrUnknownUser      = errors.New("token references an unknown user")
	ErrStaleFingerprint = errors.New("token fingerprint no longer matches user state")
)

// UserProvider supplies current account state so Verify can detect tokens
// made stale by a later mutation.
type UserProvider interface {
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
}

// TokenConfig carries per-purpose TTLs. Zero values fall back to the defaults.
type TokenConfig struct {
	PasswordResetTTL     time.Duration
	EmailConfirmationTTL time.Duration
}

// Tokens mints and verifies purpose-scoped verification tokens as PASETO
// v4.local payloads. Tokens are self-contained: purpose, user id, expiry and
// a fingerprint of mutable account state travel inside the token, so nothing
// is persisted when one is minted.
type Tokens struct {
	key   paseto.V4SymmetricKey
	users UserProvider
	cfg   TokenConfig
	now   func() time.Time
}

// NewTokens builds a token service around a 32-byte symmetric key loaded at
// startup. The key lives for the whole process; rotation is out of scope.
func NewTokens(symmetricKey []byte, users UserProvider, cfg TokenConfig) (*Tokens, error) {
	if len(symmetricKey) != 32 {
		return nil, fmt.Errorf("symmetric key must be exactly 32 bytes, got %d", len(symmetricKey))
	}

	key, err := paseto.V4SymmetricKeyFromBytes(symmetricKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create symmetric key: %w", err)
	}

	if cfg.PasswordResetTTL <= 0 {
		cfg.PasswordResetTTL = DefaultPasswordResetTTL
	}
	if cfg.EmailConfirmationTTL <= 0 {
		cfg.EmailConfirmationTTL = DefaultEmailConfirmationTTL
	}

	return &Tokens{
		key:   key,
		users: users,
		cfg:   cfg,
		now:   time.Now,
	}, nil
}

// Mint produces a token for the given user and purpose. Purely a function of
// current state; minting has no side effects and an arbitrary number of
// tokens may be outstanding at once.
func (t *Tokens) Mint(u *user.User, purpose Purpose) (string, error) {
	ttl, err := t.ttlFor(purpose)
	if err != nil {
		return "", err
	}

	now := t.now()

	token := paseto.NewToken()
	token.SetIssuedAt(now)
	token.SetExpiration(now.Add(ttl))
	token.SetString("purpose", string(purpose))
	token.SetString("user_id", u.ID.String())
	token.SetString("fingerprint", fingerprint(purpose, u))

	return token.V4Encrypt(t.key, nil), nil
}

// Verify checks a token end to end: authenticity, purpose, expiry, user
// existence and fingerprint freshness, in that order. The first failure wins.
func (t *Tokens) Verify(ctx context.Context, purpose Purpose, raw string) (*user.User, error) {
	// Expiry is checked manually against the injected clock, so parse
	// without the library's implicit time rules.
	parser := paseto.NewParserWithoutExpiryCheck()

	token, err := parser.ParseV4Local(t.key, raw, nil)
	if err != nil {
		return nil, ErrBadSignature
	}

	gotPurpose, err := token.GetString("purpose")
	if err != nil || Purpose(gotPurpose) != purpose {
		return nil, ErrWrongPurpose
	}

	expiry, err := token.GetExpiration()
	if err != nil {
		return nil, ErrBadSignature
	}
	if !t.now().Before(expiry) {
		return nil, ErrTokenExpired
	}

	rawID, err := token.GetString("user_id")
	if err != nil {
		return nil, ErrBadSignature
	}
	userID, err := uuid.Parse(rawID)
	if err != nil {
		return nil, ErrBadSignature
	}

	u, err := t.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrUnknownUser
		}
		return nil, fmt.Errorf("failed to load user for token verification: %w", err)
	}

	minted, err := token.GetString("fingerprint")
	if err != nil {
		return nil, ErrBadSignature
	}
	current := fingerprint(purpose, u)
	if subtle.ConstantTimeCompare([]byte(minted), []byte(current)) != 1 {
		return nil, ErrStaleFingerprint
	}

	return u, nil
}

func (t *Tokens) ttlFor(purpose Purpose) (time.Duration, error) {
	switch purpose {
	case PurposePasswordReset:
		return t.cfg.PasswordResetTTL, nil
	case PurposeEmailConfirmation:
		return t.cfg.EmailConfirmationTTL, nil
	default:
		return 0, fmt.Errorf("unknown token purpose %q", purpose)
	}
}

// fingerprint derives the mutable-state digest embedded in a token.
//
// Email confirmation tokens sign the current email_confirmed_at value: an
// empty digest signs the pre-confirmation state, so redeeming any one token
// (which moves the timestamp) invalidates every other outstanding token of
// the same purpose. Password reset tokens carry no state digest and remain
// usable for their whole TTL, matching the documented reset semantics.
func fingerprint(purpose Purpose, u *user.User) string {
	if purpose != PurposeEmailConfirmation || u.EmailConfirmedAt == nil {
		return ""
	}

	sum := sha256.Sum256([]byte(u.EmailConfirmedAt.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(sum[:])
}
