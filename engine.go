package authcore

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/finwise/authcore/csrf"
	"github.com/finwise/authcore/internal"
	"github.com/finwise/authcore/internal/audit"
	"github.com/finwise/authcore/internal/lockout"
	"github.com/finwise/authcore/internal/rate"
	"github.com/finwise/authcore/jwt"
	"github.com/finwise/authcore/password"
	"github.com/finwise/authcore/session"
	"github.com/google/uuid"
)

const (
	rateClassLoginIP = "login_ip"
	rateClassLoginID = "login_id"
	rateClassRefresh = "refresh"
)

// Engine is the authentication orchestrator. Construct one with [New] and
// [Builder.Build]; all methods are safe for concurrent use.
type Engine struct {
	config        Config
	userStore     UserStore
	sessions      *session.Store
	limiter       *rate.Limiter
	lockouts      *lockout.Machine
	mfaChallenges *mfaChallengeStore
	hasher        *password.Hasher
	jwtManager    *jwt.Manager
	totp          *totpManager
	notifier      Notifier
	metrics       *Metrics
	audit         *audit.Dispatcher

	// dummyDigest is verified against when the identifier is unknown, so
	// the miss path costs the same as a real verification.
	dummyDigest string
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were discarded under
// backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a deep copy of the engine's counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

func (e *Engine) metricInc(id MetricID) {
	if e != nil {
		e.metrics.Inc(id)
	}
}

// Login verifies the identifier/password pair and either issues tokens or
// opens an MFA challenge when the account has an authenticator enrolled.
//
// The failure order is fixed: rate limits first, then the lockout gate,
// then credential verification. A locked account never reaches
// verification, so the lock cannot be probed with candidate passwords.
func (e *Engine) Login(ctx context.Context, identifier, plaintext string) (*LoginResult, error) {
	if e == nil || e.userStore == nil {
		return nil, ErrEngineNotReady
	}

	if err := e.checkLoginLimits(ctx, identifier); err != nil {
		return nil, err
	}

	lockStatus, err := e.lockouts.Check(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if lockStatus.State == lockout.StateLocked {
		e.metricInc(MetricLockoutRejected)
		e.emitAudit(ctx, auditEventLockoutRejected, false, "", "", ErrAccountLocked, func() map[string]string {
			return map[string]string{"identifier": identifier}
		})
		return nil, &LockedError{RetryAfter: lockStatus.RetryAfter}
	}

	if plaintext == "" {
		return nil, e.failLogin(ctx, identifier, "", "empty_password")
	}

	user, err := e.userStore.GetUserByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Keep the miss path as expensive as a hit.
			_, _ = e.hasher.Verify(plaintext, password.AlgorithmArgon2id, e.dummyDigest)
			return nil, e.failLogin(ctx, identifier, "", "unknown_identifier")
		}
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	ok, err := e.hasher.Verify(plaintext, user.Algorithm, user.CredentialDigest)
	if err != nil {
		if errors.Is(err, password.ErrCorruptCredential) {
			e.reportCorruptCredential(ctx, user.UserID, identifier, err)
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !ok {
		return nil, e.failLogin(ctx, identifier, user.UserID, "credential_mismatch")
	}

	if statusErr := accountStatusToError(user.Status); statusErr != nil {
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, user.UserID, "", statusErr, func() map[string]string {
			return map[string]string{"identifier": identifier, "reason": "account_status"}
		})
		return nil, statusErr
	}

	e.maybeRehash(ctx, user, plaintext)

	if user.TOTPEnabled {
		return e.openMFAChallenge(ctx, user)
	}

	return e.completeLogin(ctx, user)
}

// checkLoginLimits consumes the per-IP and per-identifier fixed windows.
func (e *Engine) checkLoginLimits(ctx context.Context, identifier string) error {
	cfg := e.config.RateLimit

	if ip := clientIPFromContext(ctx); ip != "" && cfg.LoginPerIP > 0 {
		res, err := e.limiter.TryConsume(ctx, rateClassLoginIP, ip, cfg.LoginPerIP, cfg.LoginWindow)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		if !res.Allowed {
			e.metricInc(MetricLoginThrottled)
			e.emitAudit(ctx, auditEventLoginThrottled, false, "", "", ErrThrottled, func() map[string]string {
				return map[string]string{"scope": rateClassLoginIP}
			})
			return &ThrottledError{Scope: rateClassLoginIP, RetryAfter: res.RetryAfter}
		}
	}

	if cfg.LoginPerIdentifier > 0 {
		res, err := e.limiter.TryConsume(ctx, rateClassLoginID, identifier, cfg.LoginPerIdentifier, cfg.LoginWindow)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		if !res.Allowed {
			e.metricInc(MetricLoginThrottled)
			e.emitAudit(ctx, auditEventLoginThrottled, false, "", "", ErrThrottled, func() map[string]string {
				return map[string]string{"scope": rateClassLoginID, "identifier": identifier}
			})
			return &ThrottledError{Scope: rateClassLoginID, RetryAfter: res.RetryAfter}
		}
	}

	return nil
}

// failLogin records one failed attempt and reports either the generic
// credential error or, when this failure tripped the threshold, the lock.
func (e *Engine) failLogin(ctx context.Context, identifier, userID, reason string) error {
	status, err := e.lockouts.RecordFailure(ctx, identifier)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metricInc(MetricLoginFailure)
	e.emitAudit(ctx, auditEventLoginFailure, false, userID, "", ErrInvalidCredentials, func() map[string]string {
		return map[string]string{"identifier": identifier, "reason": reason}
	})

	if status.State == lockout.StateLocked {
		e.metricInc(MetricLockoutTriggered)
		e.emitAudit(ctx, auditEventLockoutTriggered, false, userID, "", ErrAccountLocked, func() map[string]string {
			return map[string]string{"identifier": identifier}
		})
		if userID != "" {
			e.notifier.NotifyLockout(ctx, userID, status.RetryAfter)
		}
		return &LockedError{RetryAfter: status.RetryAfter}
	}

	return ErrInvalidCredentials
}

// reportCorruptCredential surfaces a stored digest that no longer decodes.
// The caller still answers with the generic credential error, but the
// failure is a data-integrity incident, not an attempt: it never feeds the
// lockout counter.
func (e *Engine) reportCorruptCredential(ctx context.Context, userID, identifier string, cause error) {
	e.metricInc(MetricCredentialCorrupt)
	e.emitAudit(ctx, auditEventCredentialCorrupt, false, userID, "", cause, func() map[string]string {
		return map[string]string{"identifier": identifier}
	})
}

func (e *Engine) maybeRehash(ctx context.Context, user UserRecord, plaintext string) {
	if !e.config.Password.UpgradeOnLogin {
		return
	}
	needs, err := e.hasher.NeedsRehash(user.Algorithm, user.CredentialDigest)
	if err != nil || !needs {
		return
	}
	alg, digest, err := e.hasher.Hash(plaintext)
	if err != nil {
		return
	}
	// Best effort: a store failure must not block a successful login.
	if err := e.userStore.UpdateCredential(ctx, user.UserID, alg, digest); err == nil {
		e.metricInc(MetricPasswordRehashed)
		e.emitAudit(ctx, auditEventPasswordRehashed, true, user.UserID, "", nil, nil)
	}
}

func (e *Engine) openMFAChallenge(ctx context.Context, user UserRecord) (*LoginResult, error) {
	challengeID := uuid.NewString()
	record := &mfaChallenge{
		UserID:    user.UserID,
		Device:    deviceFromContext(ctx),
		ExpiresAt: time.Now().Add(e.config.TOTP.ChallengeTTL).Unix(),
	}
	if err := e.mfaChallenges.Save(ctx, challengeID, record, e.config.TOTP.ChallengeTTL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMFAUnavailable, err)
	}

	e.metricInc(MetricMFARequired)
	e.emitAudit(ctx, auditEventMFARequired, true, user.UserID, "", nil, nil)

	return &LoginResult{MFARequired: true, MFAChallenge: challengeID}, nil
}

// completeLogin clears the failure state and mints the session.
func (e *Engine) completeLogin(ctx context.Context, user UserRecord) (*LoginResult, error) {
	if err := e.lockouts.Reset(ctx, user.Identifier); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if e.config.RateLimit.LoginPerIdentifier > 0 {
		if err := e.limiter.Reset(ctx, rateClassLoginID, user.Identifier); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	sessionID, pair, err := e.issueSession(ctx, user)
	if err != nil {
		return nil, err
	}

	e.metricInc(MetricSessionCreated)
	e.metricInc(MetricLoginSuccess)
	e.emitAudit(ctx, auditEventLoginSuccess, true, user.UserID, sessionID, nil, func() map[string]string {
		return map[string]string{"identifier": user.Identifier}
	})
	if device := deviceFromContext(ctx); device != "" {
		// Best effort: a store hiccup here silences the notification, it
		// never fails the login.
		first, err := e.sessions.RecordDevice(ctx, user.UserID, device, e.config.Session.DeviceMemory)
		if err == nil && first {
			e.notifier.NotifyNewDeviceLogin(ctx, user.UserID, device)
		}
	}

	return &LoginResult{SessionID: sessionID, Tokens: pair}, nil
}

// issueSession starts a fresh token family: new session, new refresh
// secret, new CSRF token, and an access token bound to all three.
func (e *Engine) issueSession(ctx context.Context, user UserRecord) (string, *TokenPair, error) {
	sid, err := internal.NewSessionID()
	if err != nil {
		return "", nil, err
	}
	sessionID := sid.String()

	secret, err := internal.NewRefreshSecret()
	if err != nil {
		return "", nil, err
	}
	csrfToken, err := csrf.NewToken()
	if err != nil {
		return "", nil, err
	}

	now := time.Now()
	ttl := e.config.Session.RefreshTTL
	sess := &session.Session{
		SessionID:         sessionID,
		UserID:            user.UserID,
		FamilyID:          uuid.NewString(),
		DeviceFingerprint: deviceFromContext(ctx),
		Role:              user.Role,
		RefreshHash:       internal.HashRefreshSecret(secret),
		CSRFToken:         csrfToken,
		CreatedAt:         now.Unix(),
		ExpiresAt:         now.Add(ttl).Unix(),
	}
	if err := e.sessions.Save(ctx, sess, ttl); err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	access, err := e.jwtManager.CreateAccess(user.UserID, sessionID, user.Role)
	if err != nil {
		return "", nil, err
	}
	refresh, err := internal.EncodeRefreshToken(sessionID, secret)
	if err != nil {
		return "", nil, err
	}

	return sessionID, &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		CSRFToken:    csrfToken,
	}, nil
}

// Refresh rotates the refresh chain: the presented token is retired and a
// new access/refresh/CSRF set is issued. Presenting a superseded token
// revokes the whole family and returns [ErrSessionCompromised].
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	sessionID, providedSecret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, "", "", ErrRefreshInvalid, func() map[string]string {
			return map[string]string{"reason": "decode_failed"}
		})
		return nil, ErrRefreshInvalid
	}

	cfg := e.config.RateLimit
	if cfg.RefreshPerSession > 0 {
		res, err := e.limiter.TryConsume(ctx, rateClassRefresh, sessionID, cfg.RefreshPerSession, cfg.RefreshWindow)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
		if !res.Allowed {
			e.metricInc(MetricRefreshThrottled)
			e.emitAudit(ctx, auditEventRefreshThrottled, false, "", sessionID, ErrThrottled, nil)
			return nil, &ThrottledError{Scope: rateClassRefresh, RetryAfter: res.RetryAfter}
		}
	}

	nextSecret, err := internal.NewRefreshSecret()
	if err != nil {
		return nil, err
	}
	nextCSRF, err := csrf.NewToken()
	if err != nil {
		return nil, err
	}

	sess, err := e.sessions.Rotate(
		ctx,
		sessionID,
		internal.HashRefreshSecret(providedSecret),
		internal.HashRefreshSecret(nextSecret),
		nextCSRF,
		e.config.Session.RefreshTTL,
	)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrReplayed):
			e.metricInc(MetricReplayDetected)
			e.metricInc(MetricSessionRevoked)
			e.emitAudit(ctx, auditEventReplayDetected, false, "", sessionID, ErrSessionCompromised, nil)
			return nil, ErrSessionCompromised
		case errors.Is(err, session.ErrNotFound):
			e.metricInc(MetricRefreshFailure)
			e.emitAudit(ctx, auditEventRefreshInvalid, false, "", sessionID, ErrSessionNotFound, func() map[string]string {
				return map[string]string{"reason": "session_not_found"}
			})
			return nil, ErrSessionNotFound
		default:
			e.metricInc(MetricRefreshFailure)
			return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}

	if err := e.gateRefreshedAccount(ctx, sess); err != nil {
		return nil, err
	}

	access, err := e.jwtManager.CreateAccess(sess.UserID, sess.SessionID, sess.Role)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}
	refresh, err := internal.EncodeRefreshToken(sess.SessionID, nextSecret)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		return nil, err
	}

	e.metricInc(MetricRefreshSuccess)
	e.emitAudit(ctx, auditEventRefreshSuccess, true, sess.UserID, sess.SessionID, nil, nil)

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		CSRFToken:    nextCSRF,
	}, nil
}

// gateRefreshedAccount re-checks account status on rotation so a disabled
// account cannot keep minting access tokens for a month of refreshes.
func (e *Engine) gateRefreshedAccount(ctx context.Context, sess *session.Session) error {
	user, err := e.userStore.GetUserByID(ctx, sess.UserID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_ = e.sessions.Delete(ctx, sess.SessionID)
			e.metricInc(MetricSessionRevoked)
			e.metricInc(MetricRefreshFailure)
			return ErrSessionNotFound
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if statusErr := accountStatusToError(user.Status); statusErr != nil {
		_ = e.sessions.Delete(ctx, sess.SessionID)
		e.metricInc(MetricSessionRevoked)
		e.metricInc(MetricRefreshFailure)
		e.emitAudit(ctx, auditEventRefreshInvalid, false, sess.UserID, sess.SessionID, statusErr, func() map[string]string {
			return map[string]string{"reason": "account_status"}
		})
		return statusErr
	}
	return nil
}

// Logout revokes the session a refresh token belongs to. Unknown or
// already revoked sessions are not an error; logout is idempotent.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	sessionID, providedSecret, err := internal.DecodeRefreshToken(refreshToken)
	if err != nil {
		return ErrRefreshInvalid
	}

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	providedHash := internal.HashRefreshSecret(providedSecret)
	if subtle.ConstantTimeCompare(providedHash[:], sess.RefreshHash[:]) != 1 {
		// A stale token cannot log the live session out, but it is proof of
		// theft just like a stale rotation.
		return ErrRefreshInvalid
	}

	if err := e.sessions.Delete(ctx, sessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metricInc(MetricLogout)
	e.metricInc(MetricSessionRevoked)
	e.emitAudit(ctx, auditEventLogout, true, sess.UserID, sessionID, nil, nil)

	return nil
}

// LogoutAll revokes every session of one user and reports how many fell.
func (e *Engine) LogoutAll(ctx context.Context, userID string) (int, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}

	revoked, err := e.sessions.DeleteAllForUser(ctx, userID)
	if err != nil {
		return revoked, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metricInc(MetricLogoutAll)
	e.emitAudit(ctx, auditEventLogoutAll, true, userID, "", nil, func() map[string]string {
		return map[string]string{"revoked": strconv.Itoa(revoked)}
	})

	return revoked, nil
}

// ValidateAccess parses and verifies an access token without touching any
// backend. Revocation is handled at refresh time; access tokens are
// short-lived by construction.
func (e *Engine) ValidateAccess(ctx context.Context, tokenStr string) (*AuthResult, error) {
	if e == nil || e.jwtManager == nil {
		return nil, ErrEngineNotReady
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricValidateLatency, time.Since(start)) }()
	}

	claims, err := e.jwtManager.ParseAccess(tokenStr)
	if err != nil {
		return nil, ErrUnauthorized
	}

	return &AuthResult{
		UserID:    claims.UID,
		SessionID: claims.SID,
		Role:      claims.Role,
	}, nil
}

// ValidateCSRF checks the double-submit pair for a mutating request.
func (e *Engine) ValidateCSRF(cookieToken, headerToken string) error {
	return csrf.Validate(cookieToken, headerToken)
}

// ChangePassword verifies the current password, installs the new digest,
// and revokes every session of the user.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPlaintext, newPlaintext string) error {
	if e == nil || e.userStore == nil {
		return ErrEngineNotReady
	}

	user, err := e.userStore.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrInvalidCredentials
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	ok, err := e.hasher.Verify(oldPlaintext, user.Algorithm, user.CredentialDigest)
	if err != nil {
		if errors.Is(err, password.ErrCorruptCredential) {
			e.reportCorruptCredential(ctx, userID, user.Identifier, err)
		}
		return ErrInvalidCredentials
	}
	if !ok {
		return ErrInvalidCredentials
	}
	if newPlaintext == oldPlaintext {
		return ErrPasswordReuse
	}

	alg, digest, err := e.hasher.Hash(newPlaintext)
	if err != nil {
		return err
	}
	if err := e.userStore.UpdateCredential(ctx, userID, alg, digest); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	if _, err := e.sessions.DeleteAllForUser(ctx, userID); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	e.metricInc(MetricPasswordChanged)
	e.emitAudit(ctx, auditEventPasswordChanged, true, userID, "", nil, nil)

	return nil
}

func accountStatusToError(status AccountStatus) error {
	switch status {
	case AccountActive:
		return nil
	default:
		return ErrAccountDisabled
	}
}
