package authcore

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// 160-bit secrets per RFC 4226 recommendation.
const totpSecretBytes = 20

var base32NoPad = base32.StdEncoding.WithPadding(base32.NoPadding)

type totpManager struct {
	config TOTPConfig
}

func newTOTPManager(cfg TOTPConfig) *totpManager {
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	if cfg.Skew > 1 {
		cfg.Skew = 1
	}
	return &totpManager{config: cfg}
}

func (m *totpManager) GenerateSecret() ([]byte, string, error) {
	if m == nil {
		return nil, "", ErrEngineNotReady
	}
	raw := make([]byte, totpSecretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}
	return raw, base32NoPad.EncodeToString(raw), nil
}

// ProvisionURI builds the otpauth:// URI authenticator apps enroll from.
func (m *totpManager) ProvisionURI(secretBase32, account string) string {
	issuer := m.config.Issuer

	params := url.Values{
		"secret":    {secretBase32},
		"issuer":    {issuer},
		"period":    {strconv.Itoa(m.config.Period)},
		"digits":    {strconv.Itoa(m.config.Digits)},
		"algorithm": {strings.ToUpper(m.config.Algorithm)},
	}
	return "otpauth://totp/" + url.PathEscape(issuer+":"+account) + "?" + params.Encode()
}

// VerifyCode checks code against the secret at the current time step and
// one step in each configured skew direction. On match it returns the
// matched counter so the caller can persist it and refuse replays at or
// below it.
func (m *totpManager) VerifyCode(secret []byte, code string, now time.Time) (bool, int64, error) {
	if m == nil {
		return false, 0, ErrEngineNotReady
	}

	trimmed := strings.TrimSpace(code)
	if len(trimmed) != m.config.Digits || !allDigits(trimmed) {
		return false, 0, nil
	}
	if len(secret) == 0 {
		return false, 0, errors.New("empty totp secret")
	}

	for _, counter := range m.window(now) {
		generated, err := hotpCode(secret, counter, m.config.Digits, m.config.Algorithm)
		if err != nil {
			return false, 0, err
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, counter, nil
		}
	}
	return false, 0, nil
}

// window lists the counters to try, centered on the current time step.
func (m *totpManager) window(now time.Time) []int64 {
	center := now.Unix() / int64(m.config.Period)
	counters := make([]int64, 0, 2*m.config.Skew+1)
	for step := -m.config.Skew; step <= m.config.Skew; step++ {
		if c := center + int64(step); c >= 0 {
			counters = append(counters, c)
		}
	}
	return counters
}

// hotpCode computes the RFC 4226 HOTP value for one counter.
func hotpCode(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	newHash, err := hashForAlgorithm(algorithm)
	if err != nil {
		return "", err
	}

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))
	mac := hmac.New(newHash, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	// Dynamic truncation: low nibble of the last byte picks the offset,
	// high bit of the extracted word is masked off.
	off := sum[len(sum)-1] & 0x0f
	word := binary.BigEndian.Uint32(sum[off:off+4]) & 0x7fffffff

	return fmt.Sprintf("%0*d", digits, int(word)%pow10(digits)), nil
}

func hashForAlgorithm(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, errors.New("unsupported totp algorithm")
	}
}

func pow10(n int) int {
	out := 1
	for ; n > 0; n-- {
		out *= 10
	}
	return out
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}
