package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"strings"
	"testing"
	"time"
)

func hs256Config(ttl time.Duration) Config {
	return Config{
		AccessTTL:     ttl,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "authcore-test",
	}
}

func TestCreateAndParseAccessHS256(t *testing.T) {
	mgr, err := NewManager(hs256Config(time.Minute))
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}

	token, err := mgr.CreateAccess("u1", "s1", "member")
	if err != nil {
		t.Fatalf("CreateAccess error: %v", err)
	}

	claims, err := mgr.ParseAccess(token)
	if err != nil {
		t.Fatalf("ParseAccess error: %v", err)
	}
	if claims.UID != "u1" || claims.SID != "s1" || claims.Role != "member" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ExpiresAt == nil || time.Until(claims.ExpiresAt.Time) > time.Minute {
		t.Fatal("expiry not bounded by AccessTTL")
	}
}

func TestParseAccessEd25519(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("keygen error: %v", err)
	}

	mgr, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
	})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}

	token, err := mgr.CreateAccess("u2", "s2", "")
	if err != nil {
		t.Fatalf("CreateAccess error: %v", err)
	}
	claims, err := mgr.ParseAccess(token)
	if err != nil {
		t.Fatalf("ParseAccess error: %v", err)
	}
	if claims.UID != "u2" || claims.SID != "s2" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestParseAccessRejectsExpired(t *testing.T) {
	mgr, err := NewManager(hs256Config(time.Millisecond))
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}

	token, err := mgr.CreateAccess("u1", "s1", "member")
	if err != nil {
		t.Fatalf("CreateAccess error: %v", err)
	}

	time.Sleep(5 * time.Millisecond)
	if _, err := mgr.ParseAccess(token); err == nil {
		t.Fatal("expected expired token to be rejected")
	}
}

func TestParseAccessRejectsTamperedSignature(t *testing.T) {
	mgr, err := NewManager(hs256Config(time.Minute))
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}

	token, err := mgr.CreateAccess("u1", "s1", "member")
	if err != nil {
		t.Fatalf("CreateAccess error: %v", err)
	}

	parts := strings.Split(token, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := mgr.ParseAccess(tampered); err == nil {
		t.Fatal("expected tampered signature to be rejected")
	}

	other, err := NewManager(Config{
		AccessTTL:     time.Minute,
		SigningMethod: MethodHS256,
		PrivateKey:    []byte("ffffffffffffffffffffffffffffffff"),
		Issuer:        "authcore-test",
	})
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	if _, err := other.ParseAccess(token); err == nil {
		t.Fatal("expected token signed with a different key to be rejected")
	}
}

func TestNewManagerRejectsBadConfig(t *testing.T) {
	if _, err := NewManager(Config{SigningMethod: MethodHS256}); err == nil {
		t.Fatal("expected zero TTL rejection")
	}
	if _, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: MethodHS256}); err == nil {
		t.Fatal("expected missing hs256 key rejection")
	}
	if _, err := NewManager(Config{AccessTTL: time.Minute, SigningMethod: "rs512"}); err == nil {
		t.Fatal("expected unsupported method rejection")
	}
}
