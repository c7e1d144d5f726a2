// Package worker drives a relyq queue: it polls for items, hands them to a
// handler and settles each item according to the handler's outcome.
//
// # Settlement
//
// ProcessOne dequeues at most one item and then:
//
//   - releases it when the handler returns nil;
//   - requeues it at the tail when the handler returns an error;
//   - leaves it checked out when the handler returns ErrAbandon (or an error
//     wrapping it), so that a Sweeper reclaims it once the abandonment
//     threshold has passed. This is also what happens when the process
//     crashes mid-handler.
//
// # Polling
//
// Dequeue never blocks. Run therefore polls, sleeping with an exponential
// Backoff while the queue is empty and resetting it as soon as an item
// arrives.
//
// # Sweeping
//
// A Sweeper calls Queue.Sweep on a fixed interval. Several sweepers on the
// same queue are safe. Queues that report api.ErrNotImplemented from Sweep
// are tolerated and the sweeper stops quietly.
package worker
