// Package api contains the types shared by every relyq queue implementation:
// the Item and Queue contracts, the error taxonomy and the Observer hooks.
//
// Most users interact with the higher-level relyq package, which re-exports
// the types from this package and wires them to a storage backend. The api
// package is intended for code that accepts any queue (workers, harnesses,
// adapters) and for contributors adding a backend.
//
// # Items and Queues
//
// An Item is a key plus an opaque payload. A Queue moves each key through
// three states:
//
//	Absent --Enqueue--> Pending --Dequeue--> Working --Release--> Absent
//	                       ^                    |
//	                       +--Requeue / Sweep---+
//
// Only one of several racing Requeue, Release or Sweep calls on the same
// checked-out key takes effect; the others are silent no-ops.
//
// # Errors
//
// Store failures match ErrStoreUnavailable. A key found without its value
// produces a *ConsistencyError matching ErrConsistencyViolation. Queue
// variants without a working set return ErrNotImplemented from Sweep. Benign
// races are never reported as errors.
//
// # Observability
//
// The Observer interface receives a callback for every queue transition.
// LoggingObserver writes them with log/slog, BasicMetrics counts them, and
// CompositeObserver fans out to several observers.
package api
