// Package river tails a MongoDB or TokuMX change log and republishes it as
// an ordered stream of change events.
//
// # Components
//
//   - Validator filters raw records down to the ones the river acts on
//   - PKSchemaCache names TokuMX key tuples from index metadata
//   - Materializer turns a record into events: post-image lookups,
//     overflow-chain walks, attachment lookups, drop expansion
//   - Tailer owns the cursor, the position and the retry state machine
//   - Queue is the bounded EventSink the publisher drains
//
// # State machine
//
//	INIT -> RUNNING -> {STOPPED, STALE, FATAL}
//
// Transient store failures are retried after a fixed delay. A resume
// position that no longer exists in the log moves the river to STALE; it
// stays there until an operator resets it. Protocol violations are FATAL.
//
// # Delivery
//
// Events are emitted in change-log order, at least once. Queue.Put blocks
// when the publisher falls behind, which throttles tailing.
package river
