package api

import (
	"context"
	"time"
)

// Item is a unit of work held by a Queue.
//
// Key identifies the item inside the queue and must be unique among the
// items currently pending or checked out. Value is an opaque payload; a Go
// string can carry arbitrary bytes. Items are comparable with ==.
type Item struct {
	Key   string
	Value string
}

// Stats is a point-in-time view of a queue's two key sets.
type Stats struct {
	// Pending is the number of keys waiting to be dequeued.
	Pending int64
	// Working is the number of keys currently checked out.
	Working int64
}

// Empty reports whether the queue holds neither pending nor checked-out keys.
func (s Stats) Empty() bool {
	return s.Pending == 0 && s.Working == 0
}

// Queue is a reliable work queue shared by independent producers and
// consumers.
//
// A reliable implementation keeps track of items that were dequeued but not
// yet released. Such items may be requeued explicitly, or reclaimed by Sweep
// once they have been checked out for longer than a caller-chosen threshold
// (the consumer holding them is presumed to have crashed).
type Queue interface {
	// Enqueue appends item to the tail of the queue.
	Enqueue(ctx context.Context, item Item) error

	// Dequeue checks out the item at the head of the queue. ok is false
	// when the queue is empty; that is not an error.
	Dequeue(ctx context.Context) (item Item, ok bool, err error)

	// Release marks a checked-out item as done and removes it from the
	// queue. Releasing an item that is not checked out does nothing.
	Release(ctx context.Context, item Item) error

	// Requeue returns a checked-out item to the tail of the queue. If the
	// item is not checked out (already released, requeued or swept) it
	// does nothing.
	Requeue(ctx context.Context, item Item) error

	// Sweep requeues every item that has been checked out for at least
	// abandoned and returns how many were moved. Implementations without
	// a working set return ErrNotImplemented.
	Sweep(ctx context.Context, abandoned time.Duration) (int, error)

	// Name returns the queue name.
	Name() string
}
