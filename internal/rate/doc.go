// Package rate implements the fixed-window counter primitive behind every
// throttle in authcore.
//
// # Design
//
// A bucket is a Redis counter keyed by (endpoint class, client key). The
// limiter increments first and compares after: an over-limit increment is
// not rolled back, which is slightly conservative under concurrent bursts
// and therefore fails closed. The window is a fixed wall-clock span armed
// by the first hit's TTL rather than a sliding log; that trades precision
// for a single round trip per attempt.
//
// # What this package must NOT do
//
//   - Decide which operations are throttled; the Engine owns the policy.
//   - Import any other authcore package.
package rate
