// Package session stores refresh-chain session records in Redis and owns
// the rotation and replay-revocation semantics of the refresh token family.
//
// # Data model
//
// One record per logical device login, stored as a Redis hash with the
// session lifetime as its TTL. Two index sets exist per record: one by
// user (logout-everywhere) and one by family (replay revocation). A
// family is the set of refresh tokens descended from one login; at most
// one token is current per session at any time.
//
// # Rotation
//
// [Store.Rotate] runs a single Lua script: it compares the presented
// refresh hash against the stored one and either swaps in the successor
// hash or, when the hashes differ — meaning a previously-valid token was
// replayed — deletes every session in the family and writes a tombstone.
// Because compare and swap happen inside the store, retrying a rotation
// with an already-rotated-away token is always classified as replay, never
// silently absorbed.
//
// # What this package must NOT do
//
//   - Mint or parse tokens; the opaque wire format lives in internal.
//   - Decide what happens after a replay; the Engine surfaces that.
package session
