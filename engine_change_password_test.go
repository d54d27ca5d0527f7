package authcore

import (
	"context"
	"errors"
	"testing"

	"github.com/finwise/authcore/password"
)

func TestChangePasswordRevokesAllSessions(t *testing.T) {
	cfg := testConfig(t)
	store := newStubStore()
	seedUser(t, cfg, store)
	engine, _ := newTestEngine(t, cfg, store)

	ctx := context.Background()
	first := login(t, engine)
	second := login(t, engine)

	const newPassword = "battery-staple-456"
	if err := engine.ChangePassword(ctx, testUserID, testPassword, newPassword); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	for i, token := range []string{first.Tokens.RefreshToken, second.Tokens.RefreshToken} {
		if _, err := engine.Refresh(ctx, token); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("session %d survived password change: %v", i, err)
		}
	}

	if _, err := engine.Login(ctx, testIdentifier, testPassword); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password still accepted: %v", err)
	}
	if _, err := engine.Login(ctx, testIdentifier, newPassword); err != nil {
		t.Fatalf("new password rejected: %v", err)
	}
}

func TestChangePasswordWrongCurrent(t *testing.T) {
	cfg := testConfig(t)
	store := newStubStore()
	seedUser(t, cfg, store)
	engine, _ := newTestEngine(t, cfg, store)

	err := engine.ChangePassword(context.Background(), testUserID, "wrong-password", "next-password-789")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestChangePasswordRejectsReuse(t *testing.T) {
	cfg := testConfig(t)
	store := newStubStore()
	seedUser(t, cfg, store)
	engine, _ := newTestEngine(t, cfg, store)

	err := engine.ChangePassword(context.Background(), testUserID, testPassword, testPassword)
	if !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("expected ErrPasswordReuse, got %v", err)
	}
}

func TestChangePasswordCorruptDigestReportsIntegrity(t *testing.T) {
	cfg := testConfig(t)
	store := newStubStore()
	store.put(UserRecord{
		UserID:           testUserID,
		Identifier:       testIdentifier,
		Algorithm:        password.AlgorithmArgon2id,
		CredentialDigest: "$argon2id$not-a-valid-digest",
		Role:             "member",
		Status:           AccountActive,
	})
	engine, _ := newTestEngine(t, cfg, store)

	err := engine.ChangePassword(context.Background(), testUserID, testPassword, "next-password-789")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if got := engine.metrics.Value(MetricCredentialCorrupt); got != 1 {
		t.Fatalf("expected one corrupt-credential sample, got %d", got)
	}
}

func TestChangePasswordUnknownUser(t *testing.T) {
	cfg := testConfig(t)
	store := newStubStore()
	seedUser(t, cfg, store)
	engine, _ := newTestEngine(t, cfg, store)

	err := engine.ChangePassword(context.Background(), "ghost", testPassword, "next-password-789")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}
