package authcore

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/finwise/authcore/password"
)

const (
	testUserID     = "u1"
	testIdentifier = "alice@example.com"
	testPassword   = "correct-password-123"
)

// stubStore is the in-memory UserStore used across the engine tests. It
// counts identifier lookups so tests can prove the credential path was
// never reached.
type stubStore struct {
	mu      sync.Mutex
	byID    map[string]UserRecord
	byIdent map[string]string
	totp    map[string]*TOTPRecord
	backup  map[string][]BackupCodeRecord

	identifierLookups atomic.Int64
}

func newStubStore() *stubStore {
	return &stubStore{
		byID:    make(map[string]UserRecord),
		byIdent: make(map[string]string),
		totp:    make(map[string]*TOTPRecord),
		backup:  make(map[string][]BackupCodeRecord),
	}
}

func (s *stubStore) put(u UserRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[u.UserID] = u
	s.byIdent[u.Identifier] = u.UserID
}

func (s *stubStore) setStatus(userID string, status AccountStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.byID[userID]
	u.Status = status
	s.byID[userID] = u
}

func (s *stubStore) GetUserByIdentifier(_ context.Context, identifier string) (UserRecord, error) {
	s.identifierLookups.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byIdent[identifier]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return s.byID[id], nil
}

func (s *stubStore) GetUserByID(_ context.Context, userID string) (UserRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return UserRecord{}, ErrUserNotFound
	}
	return u, nil
}

func (s *stubStore) UpdateCredential(_ context.Context, userID string, alg password.Algorithm, digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[userID]
	if !ok {
		return ErrUserNotFound
	}
	u.Algorithm = alg
	u.CredentialDigest = digest
	s.byID[userID] = u
	return nil
}

func (s *stubStore) GetTOTP(_ context.Context, userID string) (*TOTPRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.totp[userID]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (s *stubStore) EnableTOTP(_ context.Context, userID string, secret []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totp[userID] = &TOTPRecord{Secret: append([]byte(nil), secret...), Enabled: true}
	return nil
}

func (s *stubStore) MarkTOTPVerified(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.totp[userID]
	if !ok {
		return ErrTOTPNotConfigured
	}
	rec.Verified = true
	u := s.byID[userID]
	u.TOTPEnabled = true
	s.byID[userID] = u
	return nil
}

func (s *stubStore) DisableTOTP(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.totp, userID)
	u := s.byID[userID]
	u.TOTPEnabled = false
	s.byID[userID] = u
	return nil
}

func (s *stubStore) UpdateTOTPLastUsedCounter(_ context.Context, userID string, counter int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.totp[userID]
	if !ok {
		return ErrTOTPNotConfigured
	}
	if counter > rec.LastUsedCounter {
		rec.LastUsedCounter = counter
	}
	return nil
}

func (s *stubStore) ReplaceBackupCodes(_ context.Context, userID string, codes []BackupCodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backup[userID] = append([]BackupCodeRecord(nil), codes...)
	return nil
}

func (s *stubStore) CountBackupCodes(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.backup[userID]), nil
}

func (s *stubStore) ConsumeBackupCode(_ context.Context, userID string, codeHash [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := s.backup[userID]
	for i, code := range codes {
		if code.Hash == codeHash {
			s.backup[userID] = append(codes[:i], codes[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// testConfig returns a config tuned for fast tests: cheap argon2
// parameters, a low lockout threshold, and generous rate limits so
// throttling never interferes unless a test asks for it.
func testConfig(t *testing.T) Config {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey failed: %v", err)
	}

	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.Password.Argon2 = password.Argon2Params{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
	cfg.Lockout.Threshold = 3
	cfg.Lockout.Window = time.Minute
	cfg.Lockout.Cooldown = time.Minute
	cfg.RateLimit.LoginPerIdentifier = 100
	cfg.RateLimit.LoginPerIP = 100
	cfg.RateLimit.RefreshPerSession = 100
	cfg.Audit.Enabled = false
	return cfg
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func newTestEngine(t *testing.T, cfg Config, store *stubStore) (*Engine, *miniredis.Miniredis) {
	t.Helper()

	mr, rdb := newTestRedis(t)
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(store).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, mr
}

// seedUser hashes testPassword with the config's argon2 parameters and
// registers the standard test account.
func seedUser(t *testing.T, cfg Config, store *stubStore) {
	t.Helper()

	hasher, err := password.NewHasher(password.Config{
		Current: password.AlgorithmArgon2id,
		Argon2:  cfg.Password.Argon2,
	})
	if err != nil {
		t.Fatalf("NewHasher failed: %v", err)
	}
	alg, digest, err := hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}

	store.put(UserRecord{
		UserID:           testUserID,
		Identifier:       testIdentifier,
		Algorithm:        alg,
		CredentialDigest: digest,
		Role:             "member",
		Status:           AccountActive,
	})
}
