package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ProvisionTOTP generates and stores a pending authenticator secret for
// the user, returned with its otpauth:// URI for QR display. The secret is
// inert until [Engine.ActivateTOTP] proves the user enrolled it.
// Re-provisioning replaces any earlier pending secret.
func (e *Engine) ProvisionTOTP(ctx context.Context, userID string) (*TOTPProvision, error) {
	if e == nil || e.userStore == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.userStore.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	secret, secretBase32, err := e.totp.GenerateSecret()
	if err != nil {
		return nil, err
	}
	if err := e.userStore.EnableTOTP(ctx, userID, secret); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.emitAudit(ctx, auditEventTOTPProvisioned, true, userID, "", nil, nil)

	return &TOTPProvision{
		SecretBase32: secretBase32,
		URI:          e.totp.ProvisionURI(secretBase32, user.Identifier),
	}, nil
}

// ActivateTOTP turns a pending secret into an active second factor by
// verifying one live code against it. From this point logins require MFA.
func (e *Engine) ActivateTOTP(ctx context.Context, userID, code string) error {
	if e == nil || e.userStore == nil {
		return ErrEngineNotReady
	}

	record, err := e.userStore.GetTOTP(ctx, userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if record == nil || len(record.Secret) == 0 {
		return ErrTOTPNotConfigured
	}
	if record.Verified {
		return nil
	}

	ok, counter, err := e.totp.VerifyCode(record.Secret, code, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		return ErrTOTPInvalid
	}

	if err := e.userStore.MarkTOTPVerified(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if err := e.userStore.UpdateTOTPLastUsedCounter(ctx, userID, counter); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.emitAudit(ctx, auditEventTOTPActivated, true, userID, "", nil, nil)

	return nil
}

// DisableTOTP removes the authenticator after a live code confirms the
// owner holds it. Backup codes die with it; they exist only as a TOTP
// fallback.
func (e *Engine) DisableTOTP(ctx context.Context, userID, code string) error {
	if e == nil || e.userStore == nil {
		return ErrEngineNotReady
	}

	ok, err := e.verifyTOTPCode(ctx, userID, code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTOTPInvalid
	}

	if err := e.userStore.DisableTOTP(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if err := e.userStore.ReplaceBackupCodes(ctx, userID, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.emitAudit(ctx, auditEventTOTPDisabled, true, userID, "", nil, nil)

	return nil
}
