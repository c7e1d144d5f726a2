package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/petrijr/relyq/internal/store"
	"github.com/petrijr/relyq/pkg/api"
)

// Simple is a non-reliable queue over the same layout minus the working set.
// A dequeued item is gone from the store: a consumer that crashes loses it.
type Simple struct {
	st      store.Store
	name    string
	pending string
	values  string
	opts    options
}

var _ api.Queue = (*Simple)(nil)

// NewSimple returns a non-reliable queue named name over st.
func NewSimple(st store.Store, name string, opts ...Option) *Simple {
	return &Simple{
		st:      st,
		name:    name,
		pending: name,
		values:  name + "values",
		opts:    buildOptions(opts),
	}
}

func (s *Simple) Name() string { return s.name }

func (s *Simple) Enqueue(ctx context.Context, item api.Item) error {
	if item.Key == "" {
		return api.ErrEmptyKey
	}
	b := store.NewBatch()
	b.Append(s.pending, store.Lit(item.Key))
	b.Set(s.values, store.Lit(item.Key), item.Value)
	if _, err := s.st.Exec(ctx, b); err != nil {
		s.opts.observer.OnError(ctx, s.name, "enqueue", err)
		return err
	}
	s.opts.observer.OnEnqueue(ctx, s.name, item)
	return nil
}

// Dequeue pops the head and reads and deletes its value in one batch.
func (s *Simple) Dequeue(ctx context.Context) (api.Item, bool, error) {
	b := store.NewBatch()
	pop := b.PopHead(s.pending)
	val := b.Get(s.values, store.ResultOf(pop))
	b.Delete(s.values, store.ResultOf(pop))

	res, err := s.st.Exec(ctx, b)
	if err != nil {
		s.opts.observer.OnError(ctx, s.name, "dequeue", err)
		return api.Item{}, false, err
	}
	key := res.At(pop)
	if key.Nil {
		return api.Item{}, false, nil
	}
	v := res.At(val)
	if v.Nil {
		err := &api.ConsistencyError{Queue: s.name, Keys: []string{key.Str}}
		s.opts.observer.OnError(ctx, s.name, "dequeue", err)
		return api.Item{Key: key.Str}, false, err
	}
	item := api.Item{Key: key.Str, Value: v.Str}
	s.opts.observer.OnDequeue(ctx, s.name, item)
	return item, true, nil
}

// Release does nothing: the item left the store when it was dequeued.
func (s *Simple) Release(ctx context.Context, item api.Item) error {
	s.opts.observer.OnRelease(ctx, s.name, item, true)
	return nil
}

// Requeue enqueues item again at the tail. The store no longer holds the
// value of a dequeued item, so item must be the one Dequeue returned: a
// key-only item is rejected with api.ErrInvalidArgument.
func (s *Simple) Requeue(ctx context.Context, item api.Item) error {
	if item.Key != "" && item.Value == "" {
		return fmt.Errorf("%w: requeue %q on a non-reliable queue needs the dequeued value", api.ErrInvalidArgument, item.Key)
	}
	if err := s.Enqueue(ctx, item); err != nil {
		return err
	}
	s.opts.observer.OnRequeue(ctx, s.name, item, true)
	return nil
}

// Sweep is not supported without a working set.
func (s *Simple) Sweep(ctx context.Context, abandoned time.Duration) (int, error) {
	return 0, api.ErrNotImplemented
}

// Stats reports the pending length. Working is always zero.
func (s *Simple) Stats(ctx context.Context) (api.Stats, error) {
	b := store.NewBatch()
	p := b.SeqLen(s.pending)
	res, err := s.st.Exec(ctx, b)
	if err != nil {
		s.opts.observer.OnError(ctx, s.name, "stats", err)
		return api.Stats{}, err
	}
	return api.Stats{Pending: res.At(p).Int}, nil
}
