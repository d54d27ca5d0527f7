package authcore

import (
	"context"
	"io"
	"time"

	"github.com/finwise/authcore/internal/audit"
	"github.com/finwise/authcore/password"
)

// AccountStatus is the lifecycle state of a user account.
type AccountStatus uint8

const (
	// AccountActive accounts may log in.
	AccountActive AccountStatus = iota
	// AccountDisabled accounts are rejected at login and on refresh.
	AccountDisabled
	// AccountDeleted accounts behave like disabled ones; the distinct value
	// exists so stores can keep tombstones.
	AccountDeleted
)

// UserRecord is the account snapshot returned by [UserStore]. The credential
// digest is tagged with the algorithm that produced it so legacy digests
// keep verifying while new ones use the current algorithm.
type UserRecord struct {
	UserID           string
	Identifier       string
	Algorithm        password.Algorithm
	CredentialDigest string
	Role             string
	Status           AccountStatus
	TOTPEnabled      bool
}

// TOTPRecord carries a user's authenticator state. LastUsedCounter is the
// highest accepted time-step counter and blocks code replay inside the
// skew window.
type TOTPRecord struct {
	Secret          []byte
	Enabled         bool
	Verified        bool
	LastUsedCounter int64
}

// BackupCodeRecord stores the user-salted SHA-256 hash of a single backup
// code. The plaintext is shown once at generation and never persisted.
type BackupCodeRecord struct {
	Hash [32]byte
}

// UserStore is the interface callers implement to connect the engine to
// their user database. See store/memstore and store/pgstore for complete
// implementations.
//
// ConsumeBackupCode must be atomic: when two concurrent calls present the
// same code, exactly one may return true.
type UserStore interface {
	GetUserByIdentifier(ctx context.Context, identifier string) (UserRecord, error)
	GetUserByID(ctx context.Context, userID string) (UserRecord, error)
	UpdateCredential(ctx context.Context, userID string, alg password.Algorithm, digest string) error

	GetTOTP(ctx context.Context, userID string) (*TOTPRecord, error)
	EnableTOTP(ctx context.Context, userID string, secret []byte) error
	MarkTOTPVerified(ctx context.Context, userID string) error
	DisableTOTP(ctx context.Context, userID string) error
	UpdateTOTPLastUsedCounter(ctx context.Context, userID string, counter int64) error

	ReplaceBackupCodes(ctx context.Context, userID string, codes []BackupCodeRecord) error
	CountBackupCodes(ctx context.Context, userID string) (int, error)
	ConsumeBackupCode(ctx context.Context, userID string, codeHash [32]byte) (bool, error)
}

// TokenPair is one issued credential set: a short-lived access JWT, the
// opaque refresh token, and the CSRF token bound to the session.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	CSRFToken    string
}

// LoginResult is returned by [Engine.Login]. Either Tokens is set, or
// MFARequired is true and MFAChallenge identifies the pending challenge to
// pass to [Engine.ConfirmLoginMFA].
type LoginResult struct {
	SessionID string
	Tokens    *TokenPair

	MFARequired  bool
	MFAChallenge string
}

// AuthResult is the identity extracted from a valid access token.
type AuthResult struct {
	UserID    string
	SessionID string
	Role      string
}

// TOTPProvision holds the raw secret and otpauth:// URI returned by
// [Engine.ProvisionTOTP] for QR display. The secret is not active until
// [Engine.ActivateTOTP] verifies a live code.
type TOTPProvision struct {
	SecretBase32 string
	URI          string
}

// Notifier receives security events the account owner should hear about.
// Implementations must not block; the engine calls them inline.
type Notifier interface {
	NotifyLockout(ctx context.Context, userID string, retryAfter time.Duration)
	NotifyNewDeviceLogin(ctx context.Context, userID, device string)
	NotifyBackupCodesLow(ctx context.Context, userID string, remaining int)
}

// NoOpNotifier discards all notifications.
type NoOpNotifier struct{}

func (NoOpNotifier) NotifyLockout(context.Context, string, time.Duration) {}
func (NoOpNotifier) NotifyNewDeviceLogin(context.Context, string, string) {}
func (NoOpNotifier) NotifyBackupCodesLow(context.Context, string, int)    {}

// AuditEvent is a structured audit record emitted by the engine.
type AuditEvent = audit.Event

// AuditSink receives [AuditEvent] values from the engine's audit dispatcher.
type AuditSink = audit.Sink

// NoOpSink is an [AuditSink] that silently discards all events.
type NoOpSink = audit.NoOpSink

// ChannelSink is a buffered channel-based [AuditSink].
type ChannelSink = audit.ChannelSink

// JSONWriterSink is an [AuditSink] that writes one JSON event per line.
type JSONWriterSink = audit.JSONWriterSink

// MultiSink fans every event out to a list of sinks in order.
type MultiSink = audit.MultiSink

// NewChannelSink creates a [ChannelSink] with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink creates a [JSONWriterSink] that writes to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}
