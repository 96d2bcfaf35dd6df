package authcore

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mlenahan/authcore/password"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return mr, client
}

type mockUserStore struct {
	mu    sync.Mutex
	users map[int64]UserRecord

	// failWith, when set, makes every call return it.
	failWith error
}

func newMockUserStore(users ...UserRecord) *mockUserStore {
	s := &mockUserStore{users: make(map[int64]UserRecord)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *mockUserStore) put(u UserRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *mockUserStore) get(id int64) UserRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.users[id]
}

func (s *mockUserStore) GetUserByID(_ context.Context, id int64) (UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return UserRecord{}, s.failWith
	}
	u, ok := s.users[id]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u, nil
}

func (s *mockUserStore) GetUserByEmail(_ context.Context, email string) (UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return UserRecord{}, s.failWith
	}
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return UserRecord{}, ErrUserNotFound
}

func (s *mockUserStore) ListUsers(_ context.Context) ([]UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	var out []UserRecord
	for _, u := range s.users {
		if !u.IsDeleted {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *mockUserStore) MarkEmailVerified(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.EmailVerifiedAt = &at
	s.users[id] = u
	return nil
}

func (s *mockUserStore) UpdatePasswordDigest(_ context.Context, id int64, digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.PasswordDigest = digest
	s.users[id] = u
	return nil
}

func (s *mockUserStore) SoftDeleteUser(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.IsDeleted = true
	u.DeletedAt = &at
	s.users[id] = u
	return nil
}

func (s *mockUserStore) AnonymizeUser(_ context.Context, id int64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return ErrUserNotFound
	}
	u.Email = ""
	u.Username = ""
	u.IsActive = false
	u.IsDeleted = true
	u.DeletedAt = &at
	s.users[id] = u
	return nil
}

type mockAPIKeyStore struct {
	mu              sync.Mutex
	keys            []APIKeyRecord
	deactivateCalls int
	listActiveCalls int
}

func newMockAPIKeyStore(keys ...APIKeyRecord) *mockAPIKeyStore {
	return &mockAPIKeyStore{keys: keys}
}

func (s *mockAPIKeyStore) ListKeys(_ context.Context) ([]APIKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]APIKeyRecord(nil), s.keys...), nil
}

func (s *mockAPIKeyStore) ListActiveKeys(_ context.Context) ([]APIKeyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listActiveCalls++
	var out []APIKeyRecord
	for _, k := range s.keys {
		if k.IsActive {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *mockAPIKeyStore) DeactivateExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deactivateCalls++
	var n int64
	for i, k := range s.keys {
		if k.IsActive && k.ExpiresAt != nil && !now.Before(*k.ExpiresAt) {
			s.keys[i].IsActive = false
			n++
		}
	}
	return n, nil
}

type mockBlacklist struct {
	mu      sync.Mutex
	digests map[string]bool
}

func newMockBlacklist() *mockBlacklist {
	return &mockBlacklist{digests: make(map[string]bool)}
}

func (b *mockBlacklist) AddIdentityDigests(_ context.Context, emailDigest, usernameDigest string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.digests[emailDigest] = true
	b.digests[usernameDigest] = true
	return nil
}

func (b *mockBlacklist) IsDigestBlacklisted(_ context.Context, digest string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.digests[digest], nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Message
}

func (n *recordingNotifier) Send(_ context.Context, msg Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) messages() []Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Message(nil), n.sent...)
}

// testConfig returns DefaultConfig with auditing synchronizable in tests.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Audit.BufferSize = 64
	return cfg
}

func newTestEngine(t *testing.T, users *mockUserStore, opts ...func(*Builder)) (*Engine, *miniredis.Miniredis) {
	t.Helper()

	mr, client := newTestRedis(t)
	b := NewBuilder().
		WithConfig(testConfig()).
		WithRedis(client).
		WithUserStore(users)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, mr
}

// newTestEngineHasher returns a hasher with cheap parameters so tests do not
// burn CPU on full-strength Argon2. Verification reads parameters from the
// hash itself, so the engine's default hasher accepts these digests.
func newTestEngineHasher(t *testing.T) *password.Hasher {
	t.Helper()
	return password.NewHasher(password.Params{
		Memory:      8 * 1024,
		Iterations:  1,
		Parallelism: 1,
	})
}

func activeUser(id int64, email, username string) UserRecord {
	return UserRecord{
		ID:        id,
		Email:     email,
		Username:  username,
		Role:      "member",
		IsActive:  true,
		CreatedAt: time.Now().Add(-24 * time.Hour),
	}
}
