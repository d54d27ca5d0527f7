package authcore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConfirmLoginMFA completes a pending login with a second factor. The code
// may be a live authenticator code or one of the user's backup codes; the
// engine tells them apart by shape. Each challenge carries a fixed attempt
// budget and is destroyed on success, exhaustion, or expiry.
func (e *Engine) ConfirmLoginMFA(ctx context.Context, challengeID, code string) (*LoginResult, error) {
	if e == nil || e.mfaChallenges == nil {
		return nil, ErrEngineNotReady
	}

	record, err := e.mfaChallenges.Get(ctx, challengeID)
	if err != nil {
		switch {
		case errors.Is(err, errMFAChallengeNotFound):
			return nil, ErrMFAInvalid
		case errors.Is(err, errMFAChallengeExpired):
			return nil, ErrMFAExpired
		default:
			return nil, fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
		}
	}

	user, err := e.userStore.GetUserByID(ctx, record.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_, _ = e.mfaChallenges.Delete(ctx, challengeID)
			return nil, ErrMFAInvalid
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	var verified bool
	var usedBackup bool
	if e.looksLikeTOTPCode(code) {
		verified, err = e.verifyTOTPCode(ctx, user.UserID, code)
		if err != nil {
			return nil, err
		}
	} else {
		verified, err = e.consumeBackupCode(ctx, user.UserID, code)
		if err != nil {
			return nil, err
		}
		usedBackup = verified
	}

	if !verified {
		return nil, e.failMFA(ctx, challengeID, user.UserID)
	}

	// The challenge is single-use; only the caller that deletes it may
	// finish the login.
	removed, err := e.mfaChallenges.Delete(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
	}
	if !removed {
		return nil, ErrMFAInvalid
	}

	e.metricInc(MetricMFASuccess)
	e.emitAudit(ctx, auditEventMFASuccess, true, user.UserID, "", nil, nil)
	if usedBackup {
		e.metricInc(MetricBackupCodeUsed)
		e.emitAudit(ctx, auditEventBackupCodeUsed, true, user.UserID, "", nil, nil)
		e.warnIfBackupCodesLow(ctx, user.UserID)
	}

	return e.completeLogin(ctx, user)
}

func (e *Engine) failMFA(ctx context.Context, challengeID, userID string) error {
	exceeded, err := e.mfaChallenges.RecordFailure(ctx, challengeID, e.config.TOTP.MaxAttempts)
	if err != nil {
		switch {
		case errors.Is(err, errMFAChallengeNotFound):
			return ErrMFAInvalid
		case errors.Is(err, errMFAChallengeExpired):
			return ErrMFAExpired
		default:
			return fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
		}
	}

	e.metricInc(MetricMFAFailure)
	if exceeded {
		e.emitAudit(ctx, auditEventMFAAttemptsExceeded, false, userID, "", ErrMFAAttemptsExceeded, nil)
		return ErrMFAAttemptsExceeded
	}
	e.emitAudit(ctx, auditEventMFAFailure, false, userID, "", ErrMFAInvalid, nil)
	return ErrMFAInvalid
}

func (e *Engine) looksLikeTOTPCode(code string) bool {
	trimmed := strings.TrimSpace(code)
	return len(trimmed) == e.config.TOTP.Digits && allDigits(trimmed)
}

// verifyTOTPCode checks a live code for an active authenticator and
// advances the replay counter on success. A code at or below the stored
// counter never verifies, even inside the skew window.
func (e *Engine) verifyTOTPCode(ctx context.Context, userID, code string) (bool, error) {
	record, err := e.userStore.GetTOTP(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if record == nil || !record.Enabled || !record.Verified {
		return false, nil
	}

	ok, counter, err := e.totp.VerifyCode(record.Secret, code, time.Now())
	if err != nil {
		return false, err
	}
	if !ok || counter <= record.LastUsedCounter {
		return false, nil
	}

	if err := e.userStore.UpdateTOTPLastUsedCounter(ctx, userID, counter); err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return true, nil
}

func (e *Engine) consumeBackupCode(ctx context.Context, userID, code string) (bool, error) {
	normalized := normalizeBackupCode(code)
	if normalized == "" {
		return false, nil
	}

	used, err := e.userStore.ConsumeBackupCode(ctx, userID, backupCodeHash(userID, normalized))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if !used {
		e.metricInc(MetricBackupCodeFailed)
	}
	return used, nil
}

func (e *Engine) warnIfBackupCodesLow(ctx context.Context, userID string) {
	low := e.config.TOTP.BackupCodeLowWater
	if low <= 0 {
		return
	}
	remaining, err := e.userStore.CountBackupCodes(ctx, userID)
	if err != nil {
		return
	}
	if remaining <= low {
		e.notifier.NotifyBackupCodesLow(ctx, userID, remaining)
	}
}
