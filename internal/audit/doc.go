// Package audit carries security-relevant events from the engine to
// caller-supplied sinks without blocking the authentication path.
//
// # Components
//
//   - [Event] — structured record: timestamp, type, user, session, IP, device, outcome.
//   - [Sink] — consumer interface, with channel, JSON-lines, fan-out and no-op implementations.
//   - [Dispatcher] — single-worker async relay; drop-if-full or block-if-full per [Config].
//
// # Architecture boundaries
//
// This package owns buffering and delivery only. Deciding which events exist
// and when they fire is the Engine's job.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import authcore or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
