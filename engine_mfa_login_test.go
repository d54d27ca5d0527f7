package authcore

import (
	"context"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"strings"
	"testing"
	"time"
)

// enrollTOTP provisions and activates an authenticator for the standard
// test user, returning the raw secret for code generation.
func enrollTOTP(t *testing.T, engine *Engine) []byte {
	t.Helper()

	ctx := context.Background()
	prov, err := engine.ProvisionTOTP(ctx, testUserID)
	if err != nil {
		t.Fatalf("ProvisionTOTP failed: %v", err)
	}

	secret, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(prov.SecretBase32)
	if err != nil {
		t.Fatalf("decode provisioned secret: %v", err)
	}

	if err := engine.ActivateTOTP(ctx, testUserID, totpCodeAt(t, engine, secret, 0)); err != nil {
		t.Fatalf("ActivateTOTP failed: %v", err)
	}
	return secret
}

// totpCodeAt computes the code for the current time step shifted by the
// given number of steps. Activation consumes the current step, so tests
// confirm logins with offset +1, which is still inside the skew window.
func totpCodeAt(t *testing.T, engine *Engine, secret []byte, offset int64) string {
	t.Helper()

	cfg := engine.config.TOTP
	counter := time.Now().Unix()/int64(cfg.Period) + offset
	code, err := hotpCode(secret, counter, cfg.Digits, cfg.Algorithm)
	if err != nil {
		t.Fatalf("hotpCode failed: %v", err)
	}
	return code
}

func loginForChallenge(t *testing.T, engine *Engine) string {
	t.Helper()

	result, err := engine.Login(context.Background(), testIdentifier, testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !result.MFARequired {
		t.Fatal("expected MFA challenge for enrolled account")
	}
	if result.Tokens != nil {
		t.Fatal("tokens issued before second factor")
	}
	if result.MFAChallenge == "" {
		t.Fatal("empty challenge ID")
	}
	return result.MFAChallenge
}

func TestConfirmLoginMFAWithTOTP(t *testing.T) {
	cfg := testConfig(t)
	store := newStubStore()
	seedUser(t, cfg, store)
	engine, _ := newTestEngine(t, cfg, store)

	secret := enrollTOTP(t, engine)
	challenge := loginForChallenge(t, engine)

	ctx := context.Background()
	result, err := engine.ConfirmLoginMFA(ctx, challenge, totpCodeAt(t, engine, secret, 1))
	if err != nil {
		t.Fatalf("ConfirmLoginMFA failed: %v", err)
	}
	if result.Tokens == nil || result.Tokens.AccessToken == "" {
		t.Fatal("expected tokens after MFA confirmation")
	}

	// The challenge is single-use.
	if _, err := engine.ConfirmLoginMFA(ctx, challenge, totpCodeAt(t, engine, secret, 1)); !errors.Is(err, ErrMFAInvalid) {
		t.Fatalf("expected ErrMFAInvalid for consumed challenge, got %v", err)
	}
}

func TestConfirmLoginMFARejectsCodeReplay(t *testing.T) {
	cfg := testConfig(t)
	store := newStubStore()
	seedUser(t, cfg, store)
	engine, _ := newTestEngine(t, cfg, store)

	secret := enrollTOTP(t, engine)
	code := totpCodeAt(t, engine, secret, 1)

	ctx := context.Background()
	challenge := loginForChallenge(t, engine)
	if _, err := engine.ConfirmLoginMFA(ctx, challenge, code); err != nil {
		t.Fatalf("first confirmation failed: %v", err)
	}

	// The same code at the same counter never verifies twice.
	challenge = loginForChallenge(t, engine)
	if _, err := engine.ConfirmLoginMFA(ctx, challenge, code); !errors.Is(err, ErrMFAInvalid) {
		t.Fatalf("expected ErrMFAInvalid for replayed code, got %v", err)
	}
}

func TestConfirmLoginMFAAttemptBudget(t *testing.T) {
	cfg := testConfig(t)
	cfg.TOTP.MaxAttempts = 2
	store := newStubStore()
	seedUser(t, cfg, store)
	engine, _ := newTestEngine(t, cfg, store)

	secret := enrollTOTP(t, engine)
	challenge := loginForChallenge(t, engine)

	ctx := context.Background()
	if _, err := engine.ConfirmLoginMFA(ctx, challenge, "000000"); !errors.Is(err, ErrMFAInvalid) {
		t.Fatalf("first wrong code: expected ErrMFAInvalid, got %v", err)
	}
	if _, err := engine.ConfirmLoginMFA(ctx, challenge, "000000"); !errors.Is(err, ErrMFAAttemptsExceeded) {
		t.Fatalf("second wrong code: expected ErrMFAAttemptsExceeded, got %v", err)
	}

	// Exhaustion destroys the challenge; even the right code is too late.
	if _, err := engine.ConfirmLoginMFA(ctx, challenge, totpCodeAt(t, engine, secret, 1)); !errors.Is(err, ErrMFAInvalid) {
		t.Fatalf("expected ErrMFAInvalid for destroyed challenge, got %v", err)
	}
}

func TestConfirmLoginMFAExpiredChallenge(t *testing.T) {
	cfg := testConfig(t)
	cfg.TOTP.ChallengeTTL = 2 * time.Second
	store := newStubStore()
	seedUser(t, cfg, store)
	engine, mr := newTestEngine(t, cfg, store)

	secret := enrollTOTP(t, engine)
	challenge := loginForChallenge(t, engine)

	mr.FastForward(3 * time.Second)

	// The key may be reaped by TTL or caught by the logical expiry check;
	// either way the challenge is gone.
	_, err := engine.ConfirmLoginMFA(context.Background(), challenge, totpCodeAt(t, engine, secret, 1))
	if !errors.Is(err, ErrMFAInvalid) && !errors.Is(err, ErrMFAExpired) {
		t.Fatalf("expected expired or invalid challenge, got %v", err)
	}
}

func TestBackupCodeLoginSingleUse(t *testing.T) {
	cfg := testConfig(t)
	store := newStubStore()
	seedUser(t, cfg, store)
	engine, _ := newTestEngine(t, cfg, store)

	enrollTOTP(t, engine)

	ctx := context.Background()
	codes, err := engine.GenerateBackupCodes(ctx, testUserID)
	if err != nil {
		t.Fatalf("GenerateBackupCodes failed: %v", err)
	}
	if len(codes) != cfg.TOTP.BackupCodeCount {
		t.Fatalf("expected %d codes, got %d", cfg.TOTP.BackupCodeCount, len(codes))
	}

	challenge := loginForChallenge(t, engine)
	result, err := engine.ConfirmLoginMFA(ctx, challenge, codes[0])
	if err != nil {
		t.Fatalf("backup code confirmation failed: %v", err)
	}
	if result.Tokens == nil {
		t.Fatal("expected tokens after backup code login")
	}

	// Spent codes never verify again; the rest of the batch still works.
	challenge = loginForChallenge(t, engine)
	if _, err := engine.ConfirmLoginMFA(ctx, challenge, codes[0]); !errors.Is(err, ErrMFAInvalid) {
		t.Fatalf("expected ErrMFAInvalid for spent code, got %v", err)
	}
	if _, err := engine.ConfirmLoginMFA(ctx, challenge, codes[1]); err != nil {
		t.Fatalf("fresh backup code rejected: %v", err)
	}

	if n, _ := store.CountBackupCodes(ctx, testUserID); n != cfg.TOTP.BackupCodeCount-2 {
		t.Fatalf("expected %d remaining codes, got %d", cfg.TOTP.BackupCodeCount-2, n)
	}
}

func TestBackupCodeNormalization(t *testing.T) {
	cfg := testConfig(t)
	store := newStubStore()
	seedUser(t, cfg, store)
	engine, _ := newTestEngine(t, cfg, store)

	enrollTOTP(t, engine)

	ctx := context.Background()
	codes, err := engine.GenerateBackupCodes(ctx, testUserID)
	if err != nil {
		t.Fatalf("GenerateBackupCodes failed: %v", err)
	}

	// Lowercase with the dash stripped still verifies.
	mangled := strings.ToLower(strings.ReplaceAll(codes[0], "-", ""))
	challenge := loginForChallenge(t, engine)
	if _, err := engine.ConfirmLoginMFA(ctx, challenge, mangled); err != nil {
		t.Fatalf("normalized code rejected: %v", err)
	}
}

func TestGenerateBackupCodesRequiresActiveTOTP(t *testing.T) {
	cfg := testConfig(t)
	store := newStubStore()
	seedUser(t, cfg, store)
	engine, _ := newTestEngine(t, cfg, store)

	if _, err := engine.GenerateBackupCodes(context.Background(), testUserID); !errors.Is(err, ErrTOTPNotConfigured) {
		t.Fatalf("expected ErrTOTPNotConfigured, got %v", err)
	}
}

func TestRegenerateBackupCodesInvalidatesOldBatch(t *testing.T) {
	cfg := testConfig(t)
	store := newStubStore()
	seedUser(t, cfg, store)
	engine, _ := newTestEngine(t, cfg, store)

	enrollTOTP(t, engine)

	ctx := context.Background()
	old, err := engine.GenerateBackupCodes(ctx, testUserID)
	if err != nil {
		t.Fatalf("GenerateBackupCodes failed: %v", err)
	}
	fresh, err := engine.GenerateBackupCodes(ctx, testUserID)
	if err != nil {
		t.Fatalf("second GenerateBackupCodes failed: %v", err)
	}

	challenge := loginForChallenge(t, engine)
	if _, err := engine.ConfirmLoginMFA(ctx, challenge, old[0]); !errors.Is(err, ErrMFAInvalid) {
		t.Fatalf("expected old batch to be dead, got %v", err)
	}
	if _, err := engine.ConfirmLoginMFA(ctx, challenge, fresh[0]); err != nil {
		t.Fatalf("fresh batch rejected: %v", err)
	}
}

func TestBackupCodeHashSaltedPerUser(t *testing.T) {
	normalized := normalizeBackupCode("d3f9a-k2m7q")

	h1 := backupCodeHash("u1", normalized)
	h2 := backupCodeHash("u2", normalized)
	if h1 == h2 {
		t.Fatal("same code hashed identically for two users")
	}
	if h1 != backupCodeHash("u1", normalized) {
		t.Fatal("hash not deterministic for one user")
	}
	if h1 == sha256.Sum256([]byte(normalized)) {
		t.Fatal("user salt had no effect on the stored hash")
	}
}

func TestBackupCodesStoredAsSaltedHashes(t *testing.T) {
	cfg := testConfig(t)
	store := newStubStore()
	seedUser(t, cfg, store)
	engine, _ := newTestEngine(t, cfg, store)

	enrollTOTP(t, engine)

	codes, err := engine.GenerateBackupCodes(context.Background(), testUserID)
	if err != nil {
		t.Fatalf("GenerateBackupCodes failed: %v", err)
	}

	stored := make(map[[32]byte]bool)
	for _, rec := range store.backup[testUserID] {
		stored[rec.Hash] = true
	}
	for _, code := range codes {
		if !stored[backupCodeHash(testUserID, normalizeBackupCode(code))] {
			t.Fatalf("stored hash for %q is not the user-salted digest", code)
		}
	}
}
