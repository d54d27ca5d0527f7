// Package internal contains helper utilities that are intentionally private
// to authcore, including secure random generation and the opaque token
// codecs shared by the Engine and the session store.
//
// # Sub-packages
//
//   - audit — async security-event dispatch (Dispatcher + Sink implementations)
//
// # What this package must NOT do
//
//   - Export types that appear in the public authcore API.
//   - Be imported by any package outside the authcore module.
package internal
