package memstore

import (
	"context"
	"crypto/sha256"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	authcore "github.com/finwise/authcore"
	"github.com/finwise/authcore/password"
)

var _ authcore.UserStore = (*Store)(nil)

func seedUser(s *Store) authcore.UserRecord {
	record := authcore.UserRecord{
		UserID:           "u-1",
		Identifier:       "alice@example.com",
		Algorithm:        password.AlgorithmArgon2id,
		CredentialDigest: "$argon2id$...",
		Role:             "member",
		Status:           authcore.AccountActive,
	}
	s.AddUser(record)
	return record
}

func TestLookupByIdentifierAndID(t *testing.T) {
	s := New()
	want := seedUser(s)
	ctx := context.Background()

	got, err := s.GetUserByIdentifier(ctx, want.Identifier)
	require.NoError(t, err)
	require.Equal(t, want.UserID, got.UserID)

	got, err = s.GetUserByID(ctx, want.UserID)
	require.NoError(t, err)
	require.Equal(t, want.Identifier, got.Identifier)

	_, err = s.GetUserByIdentifier(ctx, "nobody@example.com")
	require.ErrorIs(t, err, authcore.ErrUserNotFound)
}

func TestUpdateCredentialRetags(t *testing.T) {
	s := New()
	user := seedUser(s)
	ctx := context.Background()

	require.NoError(t, s.UpdateCredential(ctx, user.UserID, password.AlgorithmBcrypt, "$2a$..."))

	got, err := s.GetUserByID(ctx, user.UserID)
	require.NoError(t, err)
	require.Equal(t, password.AlgorithmBcrypt, got.Algorithm)
	require.Equal(t, "$2a$...", got.CredentialDigest)
}

func TestTOTPLifecycle(t *testing.T) {
	s := New()
	user := seedUser(s)
	ctx := context.Background()

	rec, err := s.GetTOTP(ctx, user.UserID)
	require.NoError(t, err)
	require.Nil(t, rec)

	secret := []byte("0123456789abcdefghij")
	require.NoError(t, s.EnableTOTP(ctx, user.UserID, secret))

	// Pending secret: the account must not require MFA yet.
	got, err := s.GetUserByID(ctx, user.UserID)
	require.NoError(t, err)
	require.False(t, got.TOTPEnabled)

	require.NoError(t, s.MarkTOTPVerified(ctx, user.UserID))
	got, err = s.GetUserByID(ctx, user.UserID)
	require.NoError(t, err)
	require.True(t, got.TOTPEnabled)

	require.NoError(t, s.UpdateTOTPLastUsedCounter(ctx, user.UserID, 42))
	// A lower counter must never move the high-water mark backwards.
	require.NoError(t, s.UpdateTOTPLastUsedCounter(ctx, user.UserID, 7))
	rec, err = s.GetTOTP(ctx, user.UserID)
	require.NoError(t, err)
	require.EqualValues(t, 42, rec.LastUsedCounter)

	require.NoError(t, s.DisableTOTP(ctx, user.UserID))
	rec, err = s.GetTOTP(ctx, user.UserID)
	require.NoError(t, err)
	require.Nil(t, rec)
	got, err = s.GetUserByID(ctx, user.UserID)
	require.NoError(t, err)
	require.False(t, got.TOTPEnabled)
}

func TestConsumeBackupCodeSingleWinner(t *testing.T) {
	s := New()
	user := seedUser(s)
	ctx := context.Background()

	hash := sha256.Sum256([]byte("AAAAA-BBBBB"))
	require.NoError(t, s.ReplaceBackupCodes(ctx, user.UserID, []authcore.BackupCodeRecord{{Hash: hash}}))

	var wins uint32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ConsumeBackupCode(ctx, user.UserID, hash)
			assert.NoError(t, err)
			if ok {
				atomic.AddUint32(&wins, 1)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, wins, "exactly one consumer may win the code")
	n, err := s.CountBackupCodes(ctx, user.UserID)
	require.NoError(t, err)
	require.Zero(t, n)
}
