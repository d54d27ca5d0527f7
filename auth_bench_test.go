package authcore

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/finwise/authcore/password"
)

func BenchmarkValidateAccess(b *testing.B) {
	engine, cleanup := newBenchmarkEngine(b)
	defer cleanup()

	result, err := engine.Login(context.Background(), testIdentifier, testPassword)
	if err != nil {
		b.Fatalf("login failed: %v", err)
	}
	access := result.Tokens.AccessToken

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := engine.ValidateAccess(context.Background(), access); err != nil {
			b.Fatalf("validate failed: %v", err)
		}
	}
}

func BenchmarkRefresh(b *testing.B) {
	engine, cleanup := newBenchmarkEngine(b)
	defer cleanup()

	result, err := engine.Login(context.Background(), testIdentifier, testPassword)
	if err != nil {
		b.Fatalf("login failed: %v", err)
	}
	refresh := result.Tokens.RefreshToken

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		next, err := engine.Refresh(context.Background(), refresh)
		if err != nil {
			b.Fatalf("refresh failed: %v", err)
		}
		refresh = next.RefreshToken
	}
}

func BenchmarkLogin(b *testing.B) {
	engine, cleanup := newBenchmarkEngine(b)
	defer cleanup()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		result, err := engine.Login(context.Background(), testIdentifier, testPassword)
		if err != nil {
			b.Fatalf("login failed: %v", err)
		}
		_ = engine.Logout(context.Background(), result.Tokens.RefreshToken)
	}
}

func newBenchmarkEngine(b *testing.B) (*Engine, func()) {
	b.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		b.Fatalf("miniredis.Run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		b.Fatalf("ed25519.GenerateKey failed: %v", err)
	}

	cfg := DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.JWT.AccessTTL = 10 * time.Minute
	cfg.Password.Argon2 = password.Argon2Params{
		Memory:      8 * 1024,
		Time:        1,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
	// Throttles off: b.N outruns any sane window.
	cfg.RateLimit.LoginPerIdentifier = 0
	cfg.RateLimit.LoginPerIP = 0
	cfg.RateLimit.RefreshPerSession = 0
	cfg.Metrics.Enabled = false
	cfg.Audit.Enabled = false

	hasher, err := password.NewHasher(password.Config{
		Current: password.AlgorithmArgon2id,
		Argon2:  cfg.Password.Argon2,
	})
	if err != nil {
		b.Fatalf("hasher init failed: %v", err)
	}
	alg, digest, err := hasher.Hash(testPassword)
	if err != nil {
		b.Fatalf("hash failed: %v", err)
	}

	store := newStubStore()
	store.put(UserRecord{
		UserID:           testUserID,
		Identifier:       testIdentifier,
		Algorithm:        alg,
		CredentialDigest: digest,
		Role:             "member",
		Status:           AccountActive,
	})

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(store).
		Build()
	if err != nil {
		b.Fatalf("Build failed: %v", err)
	}

	return engine, func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	}
}
