// Package memstore provides an in-memory [authcore.UserStore] backed by a
// mutex-guarded map. It is meant for tests, examples, and prototypes; data
// does not survive a restart. For production use store/pgstore or your own
// implementation.
package memstore

import (
	"context"
	"sync"

	authcore "github.com/finwise/authcore"
	"github.com/finwise/authcore/password"
)

type userEntry struct {
	record authcore.UserRecord
	totp   *authcore.TOTPRecord
	backup []authcore.BackupCodeRecord
}

// Store is a thread-safe in-memory user store.
type Store struct {
	mu           sync.RWMutex
	users        map[string]*userEntry // keyed by user ID
	byIdentifier map[string]string     // identifier -> user ID
}

// New returns an empty store.
func New() *Store {
	return &Store{
		users:        make(map[string]*userEntry),
		byIdentifier: make(map[string]string),
	}
}

// AddUser registers an account. It overwrites any existing account with the
// same user ID and claims the identifier for it.
func (s *Store) AddUser(record authcore.UserRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.users[record.UserID]; ok {
		delete(s.byIdentifier, old.record.Identifier)
	}
	s.users[record.UserID] = &userEntry{record: record}
	s.byIdentifier[record.Identifier] = record.UserID
}

// SetStatus changes an account's lifecycle status. Unknown user IDs are
// ignored.
func (s *Store) SetStatus(userID string, status authcore.AccountStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.users[userID]; ok {
		entry.record.Status = status
	}
}

func (s *Store) GetUserByIdentifier(_ context.Context, identifier string) (authcore.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	userID, ok := s.byIdentifier[identifier]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return s.users[userID].record, nil
}

func (s *Store) GetUserByID(_ context.Context, userID string) (authcore.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.users[userID]
	if !ok {
		return authcore.UserRecord{}, authcore.ErrUserNotFound
	}
	return entry.record, nil
}

func (s *Store) UpdateCredential(_ context.Context, userID string, alg password.Algorithm, digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.users[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	entry.record.Algorithm = alg
	entry.record.CredentialDigest = digest
	return nil
}

func (s *Store) GetTOTP(_ context.Context, userID string) (*authcore.TOTPRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.users[userID]
	if !ok {
		return nil, authcore.ErrUserNotFound
	}
	if entry.totp == nil {
		return nil, nil
	}
	cp := *entry.totp
	cp.Secret = append([]byte(nil), entry.totp.Secret...)
	return &cp, nil
}

func (s *Store) EnableTOTP(_ context.Context, userID string, secret []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.users[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	entry.totp = &authcore.TOTPRecord{
		Secret:  append([]byte(nil), secret...),
		Enabled: true,
	}
	return nil
}

func (s *Store) MarkTOTPVerified(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.users[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	if entry.totp == nil {
		return authcore.ErrTOTPNotConfigured
	}
	entry.totp.Verified = true
	entry.record.TOTPEnabled = true
	return nil
}

func (s *Store) DisableTOTP(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.users[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	entry.totp = nil
	entry.record.TOTPEnabled = false
	return nil
}

func (s *Store) UpdateTOTPLastUsedCounter(_ context.Context, userID string, counter int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.users[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	if entry.totp == nil {
		return authcore.ErrTOTPNotConfigured
	}
	if counter > entry.totp.LastUsedCounter {
		entry.totp.LastUsedCounter = counter
	}
	return nil
}

func (s *Store) ReplaceBackupCodes(_ context.Context, userID string, codes []authcore.BackupCodeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.users[userID]
	if !ok {
		return authcore.ErrUserNotFound
	}
	entry.backup = append([]authcore.BackupCodeRecord(nil), codes...)
	return nil
}

func (s *Store) CountBackupCodes(_ context.Context, userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.users[userID]
	if !ok {
		return 0, authcore.ErrUserNotFound
	}
	return len(entry.backup), nil
}

// ConsumeBackupCode removes a matching code under the store lock, so two
// concurrent calls with the same code can never both succeed.
func (s *Store) ConsumeBackupCode(_ context.Context, userID string, codeHash [32]byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.users[userID]
	if !ok {
		return false, authcore.ErrUserNotFound
	}
	for i, code := range entry.backup {
		if code.Hash == codeHash {
			entry.backup = append(entry.backup[:i], entry.backup[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}
