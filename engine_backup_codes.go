package authcore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"
)

const backupCodeBytes = 5

var backupCodeEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// GenerateBackupCodes mints a fresh set of single-use recovery codes for a
// user with an active authenticator, replacing any previous set. The
// plaintext codes are returned exactly once; only their user-salted SHA-256
// hashes are stored.
func (e *Engine) GenerateBackupCodes(ctx context.Context, userID string) ([]string, error) {
	if e == nil || e.userStore == nil {
		return nil, ErrEngineNotReady
	}

	record, err := e.userStore.GetTOTP(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if record == nil || !record.Enabled || !record.Verified {
		// Backup codes are a fallback for a second factor, not a factor of
		// their own.
		return nil, ErrTOTPNotConfigured
	}

	count := e.config.TOTP.BackupCodeCount
	if count <= 0 {
		return nil, ErrBackupCodesNotConfigured
	}

	plaintexts := make([]string, 0, count)
	records := make([]BackupCodeRecord, 0, count)
	for i := 0; i < count; i++ {
		code, err := newBackupCode()
		if err != nil {
			return nil, err
		}
		plaintexts = append(plaintexts, code)
		records = append(records, BackupCodeRecord{
			Hash: backupCodeHash(userID, normalizeBackupCode(code)),
		})
	}

	if err := e.userStore.ReplaceBackupCodes(ctx, userID, records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metricInc(MetricBackupCodesRegenerated)
	e.emitAudit(ctx, auditEventBackupCodesIssued, true, userID, "", nil, nil)

	return plaintexts, nil
}

// newBackupCode returns a code like "D3F9A-K2M7Q": 8 random bytes, base32,
// split for readability.
func newBackupCode() (string, error) {
	raw := make([]byte, backupCodeBytes+backupCodeBytes/2+1)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	encoded := backupCodeEncoding.EncodeToString(raw)
	if len(encoded) < 10 {
		return "", errors.New("short backup code encoding")
	}
	return encoded[:5] + "-" + encoded[5:10], nil
}

// normalizeBackupCode canonicalizes user input: case, separators, and
// surrounding whitespace are not part of the code.
func normalizeBackupCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	code = strings.ReplaceAll(code, "-", "")
	return strings.ReplaceAll(code, " ", "")
}

// backupCodeHash binds a code to its owner: the user ID salts the digest,
// so equal codes issued to different users never share a stored value.
func backupCodeHash(userID, normalized string) [32]byte {
	data := make([]byte, 0, len(userID)+1+len(normalized))
	data = append(data, userID...)
	data = append(data, 0)
	data = append(data, normalized...)
	return sha256.Sum256(data)
}
