package authcore

import (
	"context"
	"errors"
	"time"

	"github.com/finwise/authcore/internal/audit"
	"github.com/finwise/authcore/password"
)

const (
	auditEventLoginSuccess        = "login_success"
	auditEventLoginFailure        = "login_failure"
	auditEventCredentialCorrupt   = "credential_corrupt"
	auditEventLoginThrottled      = "login_throttled"
	auditEventLockoutTriggered    = "lockout_triggered"
	auditEventLockoutRejected     = "lockout_rejected"
	auditEventMFARequired         = "mfa_required"
	auditEventMFASuccess          = "mfa_success"
	auditEventMFAFailure          = "mfa_failure"
	auditEventMFAAttemptsExceeded = "mfa_attempts_exceeded"
	auditEventBackupCodeUsed      = "backup_code_used"
	auditEventBackupCodesIssued   = "backup_codes_issued"
	auditEventTOTPProvisioned     = "totp_provisioned"
	auditEventTOTPActivated       = "totp_activated"
	auditEventTOTPDisabled        = "totp_disabled"
	auditEventRefreshSuccess      = "refresh_success"
	auditEventRefreshInvalid      = "refresh_invalid"
	auditEventRefreshThrottled    = "refresh_throttled"
	auditEventReplayDetected      = "refresh_replay_detected"
	auditEventLogout              = "logout"
	auditEventLogoutAll           = "logout_all"
	auditEventPasswordChanged     = "password_changed"
	auditEventPasswordRehashed    = "password_rehashed"
)

type auditErrorCode string

const (
	auditErrUnauthorized       auditErrorCode = "unauthorized"
	auditErrInvalidCredentials auditErrorCode = "invalid_credentials"
	auditErrCorruptCredential  auditErrorCode = "corrupt_credential"
	auditErrThrottled          auditErrorCode = "throttled"
	auditErrLocked             auditErrorCode = "account_locked"
	auditErrDisabled           auditErrorCode = "account_disabled"
	auditErrMFAInvalid         auditErrorCode = "mfa_invalid"
	auditErrMFAExceeded        auditErrorCode = "mfa_attempts_exceeded"
	auditErrReplay             auditErrorCode = "refresh_replay"
	auditErrSessionNotFound    auditErrorCode = "session_not_found"
	auditErrInvalidToken       auditErrorCode = "invalid_token"
	auditErrUnavailable        auditErrorCode = "backend_unavailable"
	auditErrInternal           auditErrorCode = "internal_error"
)

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := audit.Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		SessionID: sessionID,
		IP:        clientIPFromContext(ctx),
		Device:    deviceFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := errorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func errorCode(err error) auditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrUnauthorized):
		return auditErrUnauthorized
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrUserNotFound):
		return auditErrInvalidCredentials
	case errors.Is(err, password.ErrCorruptCredential):
		return auditErrCorruptCredential
	case errors.Is(err, ErrThrottled):
		return auditErrThrottled
	case errors.Is(err, ErrAccountLocked):
		return auditErrLocked
	case errors.Is(err, ErrAccountDisabled):
		return auditErrDisabled
	case errors.Is(err, ErrMFAInvalid),
		errors.Is(err, ErrMFAExpired),
		errors.Is(err, ErrTOTPInvalid),
		errors.Is(err, ErrTOTPNotConfigured),
		errors.Is(err, ErrBackupCodesNotConfigured):
		return auditErrMFAInvalid
	case errors.Is(err, ErrMFAAttemptsExceeded):
		return auditErrMFAExceeded
	case errors.Is(err, ErrSessionCompromised):
		return auditErrReplay
	case errors.Is(err, ErrSessionNotFound):
		return auditErrSessionNotFound
	case errors.Is(err, ErrRefreshInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrMFAUnavailable), errors.Is(err, ErrBackendUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}
