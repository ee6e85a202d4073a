package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/babushkafon/auth-api/internal/user"
)

var testKey = []byte("abcdefghijklmnopqrstuvwxyz012345")

type memStore struct {
	mu   sync.Mutex
	byID map[uuid.UUID]*Session
}

func newMemStore() *memStore {
	return &memStore{byID: make(map[uuid.UUID]*Session)}
}

func (s *memStore) Insert(_ context.Context, sess *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *sess
	s.byID[sess.ID] = &cp
	return nil
}

func (s *memStore) GetByID(_ context.Context, id uuid.UUID) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byID[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *memStore) DeleteByID(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.byID, id)
	return nil
}

func (s *memStore) DeleteAllForUser(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sess := range s.byID {
		if sess.UserID == userID {
			delete(s.byID, id)
		}
	}
	return nil
}

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

type staticUsers struct {
	byID map[uuid.UUID]*user.User
}

func (s *staticUsers) GetByID(_ context.Context, id uuid.UUID) (*user.User, error) {
	u, ok := s.byID[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u, nil
}

func newTestManager(t *testing.T) (*Manager, *memStore, *user.User) {
	t.Helper()

	u := &user.User{
		ID:        uuid.New(),
		Email:     "owner@example.com",
		CreatedAt: time.Now(),
	}

	store := newMemStore()
	users := &staticUsers{byID: map[uuid.UUID]*user.User{u.ID: u}}

	manager, err := NewManager(store, users, testKey)
	require.NoError(t, err)

	return manager, store, u
}

func TestNewManagerRejectsBadKeyLength(t *testing.T) {
	_, err := NewManager(newMemStore(), &staticUsers{}, []byte("short"))
	assert.Error(t, err)
}

func TestCreateAndResolve(t *testing.T) {
	manager, store, u := newTestManager(t)
	ctx := context.Background()

	handle, err := manager.Create(ctx, u)
	require.NoError(t, err)
	assert.NotEmpty(t, handle)
	assert.Equal(t, 1, store.count())

	resolved, err := manager.Resolve(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, u.ID, resolved.ID)
}

func TestEachLoginGetsItsOwnSession(t *testing.T) {
	manager, store, u := newTestManager(t)
	ctx := context.Background()

	first, err := manager.Create(ctx, u)
	require.NoError(t, err)
	second, err := manager.Create(ctx, u)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, store.count())
}

func TestDestroyInvalidatesHandle(t *testing.T) {
	manager, _, u := newTestManager(t)
	ctx := context.Background()

	handle, err := manager.Create(ctx, u)
	require.NoError(t, err)

	require.NoError(t, manager.Destroy(ctx, handle))

	_, err = manager.Resolve(ctx, handle)
	assert.ErrorIs(t, err, ErrNoSession)

	// Destroying again, or destroying garbage, is a quiet no-op
	assert.NoError(t, manager.Destroy(ctx, handle))
	assert.NoError(t, manager.Destroy(ctx, "not a handle"))
}

func TestDestroyAllLeavesOtherUsersAlone(t *testing.T) {
	manager, store, u := newTestManager(t)
	ctx := context.Background()

	other := &user.User{ID: uuid.New(), Email: "other@example.com"}
	store.Insert(ctx, &Session{ID: uuid.New(), UserID: other.ID, CreatedAt: time.Now()})

	h1, err := manager.Create(ctx, u)
	require.NoError(t, err)
	h2, err := manager.Create(ctx, u)
	require.NoError(t, err)

	require.NoError(t, manager.DestroyAll(ctx, u.ID))

	_, err = manager.Resolve(ctx, h1)
	assert.ErrorIs(t, err, ErrNoSession)
	_, err = manager.Resolve(ctx, h2)
	assert.ErrorIs(t, err, ErrNoSession)
	assert.Equal(t, 1, store.count())
}

func TestResolveRejectsBadHandles(t *testing.T) {
	manager, _, u := newTestManager(t)
	ctx := context.Background()

	// Handle minted under a different key
	otherManager, err := NewManager(newMemStore(), &staticUsers{byID: map[uuid.UUID]*user.User{u.ID: u}}, []byte("00000000000000000000000000000000"))
	require.NoError(t, err)
	forged, err := otherManager.Create(ctx, u)
	require.NoError(t, err)

	for _, handle := range []string{"", "garbage", "v4.local.AAAA", forged} {
		_, err := manager.Resolve(ctx, handle)
		assert.ErrorIs(t, err, ErrNoSession, "handle %q", handle)
	}
}

func TestResolveRejectsDeletedUser(t *testing.T) {
	manager, _, u := newTestManager(t)
	ctx := context.Background()

	handle, err := manager.Create(ctx, u)
	require.NoError(t, err)

	manager.users = &staticUsers{byID: map[uuid.UUID]*user.User{}}

	_, err = manager.Resolve(ctx, handle)
	assert.ErrorIs(t, err, ErrNoSession)
}
