package password

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// verifyBcrypt checks digests minted by the legacy system. bcrypt is
// verification-only: authcore never produces new bcrypt digests.
func (h *Hasher) verifyBcrypt(plaintext, digest string) (bool, error) {
	if !strings.HasPrefix(digest, "$2") {
		return false, fmt.Errorf("%w: invalid bcrypt format", ErrCorruptCredential)
	}

	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(plaintext))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		// Truncated or malformed digest, not a wrong password.
		return false, fmt.Errorf("%w: %v", ErrCorruptCredential, err)
	}
}
