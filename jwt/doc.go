// Package jwt manages access-token issuance and verification using
// configured signing keys and strict validation semantics suitable for
// low-latency authentication paths.
//
// Access tokens are deliberately stateless: validity is a function of
// signature and expiry alone, so verifying one never touches a store. The
// cost of that choice is bounded by the access TTL — a revoked session's
// already-issued access tokens stay honored until they expire.
package jwt
