package session

// Session is one logical device login and the head of its refresh chain.
// Instances are snapshots; all mutation happens inside the store.
type Session struct {
	SessionID string
	UserID    string
	// FamilyID links every refresh token descended from one login.
	FamilyID string
	// DeviceFingerprint identifies the client device at login time and is
	// used for new-device notification, not for binding enforcement.
	DeviceFingerprint string
	Role              string

	// RefreshHash is the SHA-256 of the currently valid refresh secret.
	// The secret itself is never stored.
	RefreshHash [32]byte
	// CSRFToken is the double-submit token half bound to this session.
	// It rotates together with the refresh hash.
	CSRFToken string

	CreatedAt int64
	ExpiresAt int64
}
