// Package middleware exposes HTTP adapters for bearer-token authorization
// and CSRF double-submit enforcement built on authcore.Engine.
//
// # Guards
//
//   - [Guard] — reads the Authorization header, calls Engine.ValidateAccess,
//     and injects the validated identity into the request context.
//   - [RequireCSRF] — enforces the cookie/header double-submit invariant on
//     mutating methods.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into engine calls. It does NOT
// implement authentication logic itself.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to Engine).
//   - Access Redis.
//   - Make authorization decisions beyond pass/reject.
package middleware
