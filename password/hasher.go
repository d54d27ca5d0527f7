package password

import (
	"errors"
	"fmt"
)

// Algorithm tags the hashing scheme that produced a stored digest.
type Algorithm string

const (
	// AlgorithmArgon2id is the current default hashing scheme.
	AlgorithmArgon2id Algorithm = "argon2id"
	// AlgorithmBcrypt verifies digests carried over from the legacy system.
	AlgorithmBcrypt Algorithm = "bcrypt"
)

// ErrCorruptCredential reports a digest that cannot be decoded for its tag,
// or a tag with no registered verification routine. It is a data-integrity
// failure and must never be surfaced to callers as a wrong password.
var ErrCorruptCredential = errors.New("corrupt credential digest")

// verifyFunc checks plaintext against one algorithm's digest encoding.
// A decode failure is reported as an error, a clean mismatch as (false, nil).
type verifyFunc func(h *Hasher, plaintext, digest string) (bool, error)

// verifiers is the tag dispatch table. The set of algorithms is fixed and
// small, so a flat table beats polymorphic hasher objects.
var verifiers = map[Algorithm]verifyFunc{
	AlgorithmArgon2id: (*Hasher).verifyArgon2id,
	AlgorithmBcrypt:   (*Hasher).verifyBcrypt,
}

// Config selects the current algorithm and its parameters.
type Config struct {
	Current Algorithm
	Argon2  Argon2Params
}

// Hasher produces digests with the current algorithm and verifies digests
// produced by any supported one.
type Hasher struct {
	current Algorithm
	argon2  Argon2Params
}

// NewHasher validates cfg and returns a ready Hasher.
func NewHasher(cfg Config) (*Hasher, error) {
	if cfg.Current == "" {
		cfg.Current = AlgorithmArgon2id
	}
	if _, ok := verifiers[cfg.Current]; !ok {
		return nil, fmt.Errorf("unsupported current algorithm %q", cfg.Current)
	}
	if cfg.Current == AlgorithmBcrypt {
		// bcrypt survives for verification only.
		return nil, errors.New("bcrypt cannot be the current algorithm")
	}
	if err := cfg.Argon2.validate(); err != nil {
		return nil, err
	}

	return &Hasher{current: cfg.Current, argon2: cfg.Argon2}, nil
}

// Hash digests plaintext with the current algorithm and returns the tag to
// persist alongside the digest.
func (h *Hasher) Hash(plaintext string) (Algorithm, string, error) {
	digest, err := h.hashArgon2id(plaintext)
	if err != nil {
		return "", "", err
	}
	return h.current, digest, nil
}

// Verify checks plaintext against a stored (tag, digest) pair. The
// comparison step is constant-time for every supported algorithm.
func (h *Hasher) Verify(plaintext string, tag Algorithm, digest string) (bool, error) {
	verify, ok := verifiers[tag]
	if !ok {
		return false, fmt.Errorf("%w: unknown algorithm tag %q", ErrCorruptCredential, tag)
	}
	return verify(h, plaintext, digest)
}

// NeedsRehash reports whether the stored digest should be replaced on the
// next successful login: either its tag is no longer the current algorithm
// or its parameters are weaker than the configured ones.
func (h *Hasher) NeedsRehash(tag Algorithm, digest string) (bool, error) {
	if tag != h.current {
		if _, ok := verifiers[tag]; !ok {
			return false, fmt.Errorf("%w: unknown algorithm tag %q", ErrCorruptCredential, tag)
		}
		return true, nil
	}
	return h.argon2NeedsRehash(digest)
}
