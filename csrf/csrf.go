// Package csrf implements the double-submit token pair protecting
// state-changing requests.
//
// One random token is issued per session: the transport carries it back in
// a cookie the browser attaches automatically, and the client echoes the
// same value in a request header. Validation accepts a request only when
// both halves are present and byte-for-byte equal; every other combination
// fails closed with the same error, so a caller cannot learn which half
// was wrong. The token rotates with the session's refresh token, which
// makes a captured pair useless once the session moves forward.
package csrf

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
)

const (
	// CookieName is the readable cookie carrying the server half.
	CookieName = "__Host-csrf"
	// HeaderName is the request header carrying the client echo.
	HeaderName = "X-CSRF-Token"

	tokenBytes = 32
)

// ErrMismatch is the single failure mode: missing cookie, missing header,
// and unequal halves are deliberately indistinguishable.
var ErrMismatch = errors.New("csrf token mismatch")

// NewToken returns a fresh random token in unpadded base64url.
func NewToken() (string, error) {
	raw := make([]byte, tokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// Pair is the two halves a client must submit on every mutating call.
type Pair struct {
	CookieToken string
	HeaderToken string
}

// NewPair issues a token and returns it as both halves.
func NewPair() (Pair, error) {
	token, err := NewToken()
	if err != nil {
		return Pair{}, err
	}
	return Pair{CookieToken: token, HeaderToken: token}, nil
}

// Validate checks the double-submit invariant. The comparison is
// constant-time; the length check alone leaks nothing an attacker does not
// already control.
func Validate(cookieToken, headerToken string) error {
	if cookieToken == "" || headerToken == "" {
		return ErrMismatch
	}
	if len(cookieToken) != len(headerToken) {
		return ErrMismatch
	}
	if subtle.ConstantTimeCompare([]byte(cookieToken), []byte(headerToken)) != 1 {
		return ErrMismatch
	}
	return nil
}
