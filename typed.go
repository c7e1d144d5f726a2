package relyq

import (
	"context"
	"fmt"

	"github.com/petrijr/relyq/pkg/api"
	"github.com/petrijr/relyq/pkg/codec"
)

// Typed is a queue whose values are T, encoded with a codec.Codec.
type Typed[T any] struct {
	q     api.Queue
	codec codec.Codec[T]
}

// NewTyped wraps q. A nil codec means codec.Gob[T]().
func NewTyped[T any](q api.Queue, c codec.Codec[T]) *Typed[T] {
	if c == nil {
		c = codec.Gob[T]()
	}
	return &Typed[T]{q: q, codec: c}
}

// Queue returns the wrapped queue.
func (t *Typed[T]) Queue() api.Queue { return t.q }

// Enqueue encodes v and enqueues it under key.
func (t *Typed[T]) Enqueue(ctx context.Context, key string, v T) error {
	data, err := t.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("relyq: encode %q: %w", key, err)
	}
	return t.q.Enqueue(ctx, api.Item{Key: key, Value: data})
}

// Dequeue dequeues the next item and decodes its value. ok is false when the
// queue is empty. If decoding fails the key is returned with the error and
// stays checked out, so the caller can Release or Requeue it.
func (t *Typed[T]) Dequeue(ctx context.Context) (key string, v T, ok bool, err error) {
	item, ok, err := t.q.Dequeue(ctx)
	if err != nil || !ok {
		return item.Key, v, false, err
	}
	v, err = t.codec.Decode(item.Value)
	if err != nil {
		return item.Key, v, false, fmt.Errorf("relyq: decode %q: %w", item.Key, err)
	}
	return item.Key, v, true, nil
}

// Release marks key as processed.
func (t *Typed[T]) Release(ctx context.Context, key string) error {
	return t.q.Release(ctx, api.Item{Key: key})
}

// Requeue returns key to the pending tail. Only the key travels, so on a
// queue from NewSimpleQueue, which no longer holds the value of a dequeued
// item, Requeue fails with api.ErrInvalidArgument.
func (t *Typed[T]) Requeue(ctx context.Context, key string) error {
	return t.q.Requeue(ctx, api.Item{Key: key})
}
