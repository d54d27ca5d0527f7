// Package authcore is a credential and session security engine: multi-algorithm
// password verification, per-account lockout, fixed-window rate limiting,
// TOTP and backup-code MFA, rotating refresh token families with replay
// revocation, and CSRF double-submit tokens, behind a single [Engine] facade.
//
// The package is designed for concurrent server workloads: Engine methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// the [UserStore] integration interface, and value types (LoginResult,
// TokenPair, MetricsSnapshot). Coordination primitives — credential hashing,
// token codecs, lockout and rate counters, audit dispatch — live in
// sub-packages and under internal/.
//
// # What this package must NOT do
//
//   - Store user accounts, credentials, or MFA secrets itself; that is the
//     caller's [UserStore].
//   - Expose Redis clients or key layouts in its public API.
//   - Return errors that distinguish unknown identifiers from wrong passwords.
//
// # Performance contract
//
// ValidateAccess is the hot path: pure JWT verification, no Redis
// round-trips. Login, Refresh, and MFA operations are allowed the Redis
// traffic their atomicity needs, batched where possible.
package authcore
