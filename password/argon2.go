package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	phcAlgorithmID        = "argon2id"
)

// Argon2Params tunes the Argon2id work factors.
type Argon2Params struct {
	Memory      uint32 // in KB
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// DefaultArgon2Params are the parameters used when the caller does not
// override them (OWASP second recommended configuration).
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

func (p Argon2Params) validate() error {
	if p.Memory < minMemoryKB {
		return errors.New("argon2 memory must be >= 8192 KB")
	}
	if p.Time < minTimeCost {
		return errors.New("argon2 time must be >= 1")
	}
	if p.Parallelism < minParallelism {
		return errors.New("argon2 parallelism must be >= 1")
	}
	if p.SaltLength < minSaltLength {
		return errors.New("argon2 salt length must be >= 16")
	}
	if p.KeyLength < minKeyLength {
		return errors.New("argon2 key length must be >= 16")
	}
	return nil
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
	keyLength   uint32
}

func (h *Hasher) hashArgon2id(plaintext string) (string, error) {
	salt := make([]byte, h.argon2.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(plaintext),
		salt,
		h.argon2.Time,
		h.argon2.Memory,
		h.argon2.Parallelism,
		h.argon2.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$%s$%s$%s",
		phcAlgorithmID,
		argon2.Version,
		paramBlock(h.argon2.Memory, h.argon2.Time, h.argon2.Parallelism),
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

// paramBlock renders the canonical PHC parameter segment. The parser
// rejects anything that does not round-trip through it.
func paramBlock(memory, time uint32, parallelism uint8) string {
	return fmt.Sprintf("m=%d,t=%d,p=%d", memory, time, parallelism)
}

func (h *Hasher) verifyArgon2id(plaintext, digest string) (bool, error) {
	parsed, err := parsePHC(digest)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCorruptCredential, err)
	}

	computed := argon2.IDKey(
		[]byte(plaintext),
		parsed.salt,
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		parsed.keyLength,
	)

	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

func (h *Hasher) argon2NeedsRehash(digest string) (bool, error) {
	parsed, err := parsePHC(digest)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCorruptCredential, err)
	}

	weaker := h.argon2.Memory > parsed.memory ||
		h.argon2.Time > parsed.time ||
		h.argon2.Parallelism > parsed.parallelism ||
		h.argon2.KeyLength != parsed.keyLength
	return weaker, nil
}

// parsePHC decodes a "$argon2id$v=19$m=..,t=..,p=..$salt$hash" digest.
// Only the canonical parameter rendering is accepted: anything Sscanf
// tolerates but paramBlock would not re-emit is treated as corrupt.
func parsePHC(digest string) (*parsedPHC, error) {
	parts := strings.Split(digest, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != phcAlgorithmID {
		return nil, errors.New("not an argon2id PHC string")
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	var p parsedPHC
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.memory, &p.time, &p.parallelism); err != nil {
		return nil, errors.New("invalid parameter block")
	}
	if paramBlock(p.memory, p.time, p.parallelism) != parts[3] {
		return nil, errors.New("non-canonical parameter block")
	}
	if p.memory < minMemoryKB || p.time < minTimeCost || p.parallelism < minParallelism {
		return nil, errors.New("parameters below minimum work factors")
	}

	salt, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < int(minSaltLength) {
		return nil, errors.New("invalid salt")
	}
	hash, err := base64.StdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return nil, errors.New("invalid hash")
	}

	p.salt = salt
	p.hash = hash
	p.keyLength = uint32(len(hash))
	return &p, nil
}
