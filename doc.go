// Package relyq is a reliable work queue over a shared key-value store.
//
// Producers and consumers in any number of processes share a queue by name.
// Nothing about the queue lives in process memory: every operation is one
// atomic batch against the store, so a consumer that crashes in the middle of
// processing never loses an item.
//
// # Lifecycle
//
// An item is a key and an opaque value. It moves through three states:
//
//	Enqueue            key appended to the pending sequence <name>
//	Dequeue            key moved to the working set <name>working,
//	                   stamped with the checkout time
//	Release            key removed from working, value deleted
//	Requeue / Sweep    key moved from working back to the pending tail
//
// Values live in the map <name>values until the item is released. Sweep
// reclaims items checked out longer than a caller-supplied threshold, which
// is how work held by a crashed consumer comes back. When several callers
// race to requeue, release or sweep the same key, exactly one wins.
//
// # Backends
//
// Queues run over any store.Store:
//
//   - In-memory (single process, best for tests)
//   - Redis (lists, sorted sets and hashes, made atomic with MULTI/EXEC or a
//     Lua script)
//   - SQLite
//   - PostgreSQL
//   - MongoDB (multi-document transactions; needs a replica set)
//
// # Workers
//
// Runner starts a pool of worker.Worker loops and a worker.Sweeper over one
// queue. A handler that returns nil releases its item, an error requeues it,
// and worker.ErrAbandon leaves it checked out for the sweeper.
//
// Typed wraps a queue with a codec.Codec so payloads are Go values instead
// of strings.
//
// For runnable programs, see the /examples directory and cmd/relyq.
package relyq
