// Package audit relays security-relevant events to sinks off the request path.
//
// # Components
//
//   - [Event]: one record (type, subject, hashed nonce reference, client IP, outcome).
//   - [Sink]: consumer interface with channel, JSON-lines, zap and fan-out implementations.
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full semantics.
//
// # Architecture boundaries
//
// This package owns buffering and delivery. It does NOT decide which events to
// emit; the Engine does.
//
// # What this package must NOT do
//
//   - Carry raw nonces. Producers pass [NonceRef] values only.
//   - Import authkit or any sibling internal package.
//   - Perform network I/O beyond what a caller-supplied Sink does.
package audit
