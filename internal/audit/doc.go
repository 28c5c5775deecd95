// Package audit fans security activity items out to external sinks.
//
// # Components
//
//   - [Sink]: consumer interface (channel, JSON lines writer, zap logger, no-op, multi).
//   - [Dispatcher]: buffered async relay with drop-if-full or block-if-full semantics.
//
// The durable record lives in the activity store; sinks are best-effort copies
// and never decide whether an operation succeeds.
package audit
