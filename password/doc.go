// Package password implements credential hashing and tag-dispatched
// verification across every algorithm that ever produced a stored digest.
//
// # Digest model
//
// A credential is persisted as an ([Algorithm], digest) pair. New digests
// are always produced by the single configured current algorithm
// (Argon2id by default, PHC string format):
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// Verification selects the routine for the stored tag from a fixed lookup
// table, so digests minted under a previous default (bcrypt) keep
// verifying after the default changes. [Hasher.NeedsRehash] reports when a
// digest should be transparently re-hashed on the next successful login.
//
// # Architecture boundaries
//
// This package owns hashing and verification only. Password policy (length,
// reuse history) and persistence of the resulting pair are enforced by the
// Engine.
//
// # What this package must NOT do
//
//   - Store or retrieve credentials — callers supply plaintext and receive digests.
//   - Import any other authcore package.
//   - Report a malformed digest as a wrong password; that is [ErrCorruptCredential].
package password
