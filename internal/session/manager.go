package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"aidanwoods.dev/go-paseto"
	"github.com/google/uuid"

	"github.com/babushkafon/auth-api/internal/user"
)

// ErrNoSession covers every resolution failure: malformed handle, forged
// handle, destroyed session, deleted user. Callers cannot tell these apart.
var ErrNoSession = errors.New("no active session")

// UserProvider loads the owning user when a handle resolves.
type UserProvider interface {
	GetByID(ctx context.Context, id uuid.UUID) (*user.User, error)
}

// Manager creates, resolves and destroys sessions. The client-visible handle
// is a PASETO v4.local token wrapping the session row id, so the raw
// identifier never leaves the server and an arbitrary row id cannot be
// forged into a handle.
type Manager struct {
	store Store
	users UserProvider
	key   paseto.V4SymmetricKey
}

func NewManager(store Store, users UserProvider, symmetricKey []byte) (*Manager, error) {
	if len(symmetricKey) != 32 {
		return nil, fmt.Errorf("symmetric key must be exactly 32 bytes, got %d", len(symmetricKey))
	}

	key, err := paseto.V4SymmetricKeyFromBytes(symmetricKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create symmetric key: %w", err)
	}

	return &Manager{
		store: store,
		users: users,
		key:   key,
	}, nil
}

// Create persists a new session for the user and returns its signed handle.
func (m *Manager) Create(ctx context.Context, u *user.User) (string, error) {
	s := &Session{
		ID:        uuid.New(),
		UserID:    u.ID,
		CreatedAt: time.Now(),
	}

	if err := m.store.Insert(ctx, s); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}

	return m.encodeHandle(s.ID), nil
}

// Destroy removes the session behind the handle. Undecodable handles and
// already-destroyed sessions are no-ops, not errors: logout should never
// fail from the user's point of view.
func (m *Manager) Destroy(ctx context.Context, handle string) error {
	id, err := m.decodeHandle(handle)
	if err != nil {
		return nil
	}

	return m.store.DeleteByID(ctx, id)
}

// DestroyAll removes every session owned by the user.
func (m *Manager) DestroyAll(ctx context.Context, userID uuid.UUID) error {
	return m.store.DeleteAllForUser(ctx, userID)
}

// Resolve maps a handle back to its user for authenticated requests.
func (m *Manager) Resolve(ctx context.Context, handle string) (*user.User, error) {
	id, err := m.decodeHandle(handle)
	if err != nil {
		return nil, ErrNoSession
	}

	s, err := m.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to resolve session: %w", err)
	}

	u, err := m.users.GetByID(ctx, s.UserID)
	if err != nil {
		if errors.Is(err, user.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to load session user: %w", err)
	}

	return u, nil
}

// encodeHandle wraps a session id in an authenticated token. Sessions have
// no automatic expiry, so the handle carries no expiration claim.
func (m *Manager) encodeHandle(id uuid.UUID) string {
	token := paseto.NewToken()
	token.SetString("session_id", id.String())
	return token.V4Encrypt(m.key, nil)
}

func (m *Manager) decodeHandle(handle string) (uuid.UUID, error) {
	parser := paseto.NewParserWithoutExpiryCheck()

	token, err := parser.ParseV4Local(m.key, handle, nil)
	if err != nil {
		return uuid.Nil, err
	}

	raw, err := token.GetString("session_id")
	if err != nil {
		return uuid.Nil, err
	}

	return uuid.Parse(raw)
}
