package authcore

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrUnauthorized is returned when an access token fails validation.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInvalidCredentials is returned for any identifier/password mismatch.
	// Unknown identifiers and wrong passwords are indistinguishable to the caller.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserNotFound is returned by [UserStore] implementations. The engine
	// folds it into [ErrInvalidCredentials] before it reaches callers.
	ErrUserNotFound = errors.New("user not found")
	// ErrAccountLocked means the lockout cooldown is active. The engine does
	// not verify credentials while locked, so a correct password still gets
	// this error. Returned as a [*LockedError] carrying RetryAfter.
	ErrAccountLocked = errors.New("account locked")
	// ErrThrottled means a fixed-window rate limit rejected the attempt.
	// Returned as a [*ThrottledError] carrying RetryAfter.
	ErrThrottled = errors.New("too many attempts")
	// ErrAccountDisabled is returned when the account status forbids login.
	ErrAccountDisabled = errors.New("account disabled")
	// ErrMFAInvalid covers a wrong TOTP code or an unrecognized backup code.
	ErrMFAInvalid = errors.New("invalid mfa code")
	// ErrMFAExpired means the MFA challenge outlived its window.
	ErrMFAExpired = errors.New("mfa challenge expired")
	// ErrMFAAttemptsExceeded means the challenge burned all its attempts and
	// was destroyed.
	ErrMFAAttemptsExceeded = errors.New("mfa attempts exceeded")
	// ErrMFAUnavailable means the challenge backend could not be reached.
	ErrMFAUnavailable = errors.New("mfa backend unavailable")
	// ErrTOTPNotConfigured is returned when a TOTP operation targets a user
	// with no enrolled authenticator.
	ErrTOTPNotConfigured = errors.New("totp not configured")
	// ErrTOTPInvalid is returned when an activation or disable code does not
	// verify.
	ErrTOTPInvalid = errors.New("invalid totp code")
	// ErrBackupCodesNotConfigured is returned when no backup codes exist.
	ErrBackupCodesNotConfigured = errors.New("backup codes not configured")
	// ErrRefreshInvalid covers malformed or undecodable refresh tokens.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrSessionCompromised means a superseded refresh token was presented.
	// The whole token family has been revoked.
	ErrSessionCompromised = errors.New("refresh token replay detected, session family revoked")
	// ErrSessionNotFound means the session is gone: expired, logged out, or
	// revoked with its family.
	ErrSessionNotFound = errors.New("session not found")
	// ErrPasswordReuse rejects a password change to the current password.
	ErrPasswordReuse = errors.New("new password must differ from current password")
	// ErrEngineNotReady is returned when an Engine method is called before
	// Build wired its dependencies.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrBackendUnavailable wraps counter, lockout, and session store
	// failures the engine cannot translate into a more specific error.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// LockedError reports an active lockout. errors.Is(err, ErrAccountLocked)
// matches it.
type LockedError struct {
	RetryAfter time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked, retry after %s", e.RetryAfter)
}

func (e *LockedError) Is(target error) bool { return target == ErrAccountLocked }

// ThrottledError reports a tripped rate limit. errors.Is(err, ErrThrottled)
// matches it.
type ThrottledError struct {
	// Scope names the limited operation class: "login_ip", "login_id",
	// "refresh".
	Scope      string
	RetryAfter time.Duration
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("too many %s attempts, retry after %s", e.Scope, e.RetryAfter)
}

func (e *ThrottledError) Is(target error) bool { return target == ErrThrottled }
