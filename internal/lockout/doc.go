// Package lockout tracks failed authentication attempts per login
// identifier and gates login once the failure threshold is reached.
//
// # State machine
//
// Clear → Warning on the first failure, Warning → Locked when the counter
// reaches the threshold, Locked → Clear when the cooldown elapses or the
// user authenticates successfully. The increment and the threshold check
// run inside one Lua script so two concurrent failures can never both
// observe threshold-1 and leave the account unlocked.
//
// Expiry is lazy: locking arms a TTL and the state is re-derived on the
// next attempt. There is no background sweeper.
//
// # What this package must NOT do
//
//   - Verify credentials or decide what counts as a failure.
//   - Import any other authcore package.
package lockout
