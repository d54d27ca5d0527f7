package authcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/finwise/authcore/password"
)

// Config is the full engine configuration. Zero values are filled from
// [DefaultConfig] by the [Builder]; Validate runs on Build.
type Config struct {
	Password  PasswordConfig
	JWT       JWTConfig
	Session   SessionConfig
	Lockout   LockoutConfig
	RateLimit RateLimitConfig
	TOTP      TOTPConfig
	Audit     AuditConfig
	Metrics   MetricsConfig
}

// PasswordConfig tunes credential hashing.
type PasswordConfig struct {
	Argon2 password.Argon2Params
	// UpgradeOnLogin rehashes legacy or under-parameterized digests with
	// the current algorithm after a successful verification.
	UpgradeOnLogin bool
}

// JWTConfig holds signing material and validation policy for access tokens.
type JWTConfig struct {
	AccessTTL     time.Duration
	SigningMethod string
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	RequireIAT    bool
	MaxFutureIAT  time.Duration
}

// SessionConfig tunes refresh sessions.
type SessionConfig struct {
	// RefreshTTL is the idle lifetime of a session; every successful
	// rotation renews it.
	RefreshTTL  time.Duration
	RedisPrefix string
	// DeviceMemory is how long a device fingerprint stays known after its
	// last login. The new-device notification fires once per memory window.
	DeviceMemory time.Duration
}

// LockoutConfig tunes the per-account failure lockout.
type LockoutConfig struct {
	// Threshold is the consecutive-failure count that trips the lock.
	Threshold int
	// Window bounds how long failures keep counting without new activity.
	Window time.Duration
	// Cooldown is how long a tripped lock holds before lapsing back to clear.
	Cooldown time.Duration
}

// RateLimitConfig tunes the fixed-window counters. A limit of 0 disables
// that counter.
type RateLimitConfig struct {
	LoginPerIdentifier int
	LoginPerIP         int
	LoginWindow        time.Duration

	RefreshPerSession int
	RefreshWindow     time.Duration

	MFAPerChallenge int
	MFAWindow       time.Duration
}

// TOTPConfig tunes authenticator enrollment and verification.
type TOTPConfig struct {
	// Issuer is the label shown in authenticator apps.
	Issuer string
	Digits int
	Period int
	// Skew is the accepted time-step drift in each direction. At most 1.
	Skew      int
	Algorithm string

	// ChallengeTTL bounds how long a pending login may wait for its second
	// factor.
	ChallengeTTL time.Duration
	// MaxAttempts is the per-challenge code budget before the challenge is
	// destroyed.
	MaxAttempts int

	BackupCodeCount int
	// BackupCodeLowWater triggers a Notifier warning when the remaining
	// unused codes drop to or below it.
	BackupCodeLowWater int
}

// AuditConfig tunes the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig tunes the in-process metrics counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns the recommended production configuration, minus
// signing keys, Redis, and a user store, which the caller must supply.
func DefaultConfig() Config {
	return Config{
		Password: PasswordConfig{
			Argon2:         password.DefaultArgon2Params(),
			UpgradeOnLogin: true,
		},
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			SigningMethod: "ed25519",
			Leeway:        30 * time.Second,
			RequireIAT:    true,
			MaxFutureIAT:  time.Minute,
		},
		Session: SessionConfig{
			RefreshTTL:   30 * 24 * time.Hour,
			RedisPrefix:  "ac",
			DeviceMemory: 90 * 24 * time.Hour,
		},
		Lockout: LockoutConfig{
			Threshold: 5,
			Window:    15 * time.Minute,
			Cooldown:  15 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			LoginPerIdentifier: 10,
			LoginPerIP:         30,
			LoginWindow:        time.Minute,
			RefreshPerSession:  30,
			RefreshWindow:      time.Minute,
			MFAPerChallenge:    5,
			MFAWindow:          time.Minute,
		},
		TOTP: TOTPConfig{
			Issuer:             "authcore",
			Digits:             6,
			Period:             30,
			Skew:               1,
			Algorithm:          "SHA1",
			ChallengeTTL:       5 * time.Minute,
			MaxAttempts:        5,
			BackupCodeCount:    10,
			BackupCodeLowWater: 2,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// Validate rejects configurations the engine cannot run safely.
func (c *Config) Validate() error {
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT.AccessTTL must be positive")
	}
	if c.JWT.SigningMethod != "ed25519" && c.JWT.SigningMethod != "hs256" {
		return fmt.Errorf("JWT.SigningMethod must be ed25519 or hs256, got %q", c.JWT.SigningMethod)
	}
	if c.JWT.SigningMethod == "ed25519" && (len(c.JWT.PrivateKey) == 0 || len(c.JWT.PublicKey) == 0) {
		return errors.New("ed25519 requires PrivateKey and PublicKey")
	}
	if c.JWT.SigningMethod == "hs256" && len(c.JWT.PrivateKey) < 32 {
		return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
	}
	if c.Session.RefreshTTL <= 0 {
		return errors.New("Session.RefreshTTL must be positive")
	}
	if c.Session.RefreshTTL <= c.JWT.AccessTTL {
		return errors.New("Session.RefreshTTL must exceed JWT.AccessTTL")
	}
	if c.Session.DeviceMemory <= 0 {
		return errors.New("Session.DeviceMemory must be positive")
	}
	if c.Lockout.Threshold <= 0 {
		return errors.New("Lockout.Threshold must be positive")
	}
	if c.Lockout.Window <= 0 || c.Lockout.Cooldown <= 0 {
		return errors.New("Lockout.Window and Lockout.Cooldown must be positive")
	}
	if c.RateLimit.LoginWindow <= 0 || c.RateLimit.RefreshWindow <= 0 {
		return errors.New("RateLimit windows must be positive")
	}
	if c.TOTP.Digits < 6 || c.TOTP.Digits > 8 {
		return fmt.Errorf("TOTP.Digits must be 6..8, got %d", c.TOTP.Digits)
	}
	if c.TOTP.Period <= 0 {
		return errors.New("TOTP.Period must be positive")
	}
	if c.TOTP.Skew < 0 || c.TOTP.Skew > 1 {
		// Wider skew windows multiply the replay surface.
		return fmt.Errorf("TOTP.Skew must be 0 or 1, got %d", c.TOTP.Skew)
	}
	if c.TOTP.ChallengeTTL <= 0 {
		return errors.New("TOTP.ChallengeTTL must be positive")
	}
	if c.TOTP.MaxAttempts <= 0 {
		return errors.New("TOTP.MaxAttempts must be positive")
	}
	if c.TOTP.BackupCodeCount < 0 || c.TOTP.BackupCodeCount > 64 {
		return fmt.Errorf("TOTP.BackupCodeCount must be 0..64, got %d", c.TOTP.BackupCodeCount)
	}
	return nil
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
