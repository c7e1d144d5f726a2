// Package engine implements the queue state-transition protocol on top of
// a store.Store.
//
// Engines hold no queue contents in process: every operation is a single
// store batch, so any number of engines in any number of processes may
// operate on the same queue name concurrently.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/petrijr/relyq/internal/store"
	"github.com/petrijr/relyq/pkg/api"
)

// Engine is the reliable queue. A key moves between the pending sequence
// <name>, the working association <name>working and back, while its payload
// lives in the map <name>values until the key is released.
type Engine struct {
	st      store.Store
	name    string
	pending string
	working string
	values  string
	opts    options
}

var _ api.Queue = (*Engine)(nil)

// New returns a reliable queue named name over st.
func New(st store.Store, name string, opts ...Option) *Engine {
	return &Engine{
		st:      st,
		name:    name,
		pending: name,
		working: name + "working",
		values:  name + "values",
		opts:    buildOptions(opts),
	}
}

func (e *Engine) Name() string { return e.name }

func (e *Engine) fail(ctx context.Context, op string, err error) error {
	e.opts.observer.OnError(ctx, e.name, op, err)
	return err
}

// Enqueue appends item.Key to the pending tail and stores its value in one
// batch. Duplicate keys are not detected.
func (e *Engine) Enqueue(ctx context.Context, item api.Item) error {
	if item.Key == "" {
		return api.ErrEmptyKey
	}
	b := store.NewBatch()
	b.Append(e.pending, store.Lit(item.Key))
	b.Set(e.values, store.Lit(item.Key), item.Value)
	if _, err := e.st.Exec(ctx, b); err != nil {
		return e.fail(ctx, "enqueue", err)
	}
	e.opts.observer.OnEnqueue(ctx, e.name, item)
	return nil
}

// EnqueueValue enqueues value under a freshly generated key and returns the
// resulting item.
func (e *Engine) EnqueueValue(ctx context.Context, value string) (api.Item, error) {
	item := api.Item{Key: uuid.NewString(), Value: value}
	if err := e.Enqueue(ctx, item); err != nil {
		return api.Item{}, err
	}
	return item, nil
}

// Dequeue pops the pending head, records it as checked out now and reads its
// value, all in one batch. ok is false when the queue is empty.
//
// A popped key without a value yields a *api.ConsistencyError together with
// Item{Key: key}; the key stays checked out so Release can clear it.
func (e *Engine) Dequeue(ctx context.Context) (api.Item, bool, error) {
	b := store.NewBatch()
	pop := b.PopHead(e.pending)
	b.ScoreAdd(e.working, store.ResultOf(pop), e.opts.now().UnixMilli())
	val := b.Get(e.values, store.ResultOf(pop))

	res, err := e.st.Exec(ctx, b)
	if err != nil {
		return api.Item{}, false, e.fail(ctx, "dequeue", err)
	}

	key := res.At(pop)
	if key.Nil {
		return api.Item{}, false, nil
	}
	v := res.At(val)
	if v.Nil {
		err := &api.ConsistencyError{Queue: e.name, Keys: []string{key.Str}}
		return api.Item{Key: key.Str}, false, e.fail(ctx, "dequeue", err)
	}

	item := api.Item{Key: key.Str, Value: v.Str}
	e.opts.observer.OnDequeue(ctx, e.name, item)
	return item, true, nil
}

// Release removes item.Key from the working set and, only if this call
// removed it, deletes its value. Releasing a key that is not checked out is a
// no-op.
func (e *Engine) Release(ctx context.Context, item api.Item) error {
	b := store.NewBatch()
	rem := b.ScoreRemove(e.working, store.Lit(item.Key))
	b.When(rem, func(b *store.Batch) {
		b.Delete(e.values, store.Lit(item.Key))
	})

	res, err := e.st.Exec(ctx, b)
	if err != nil {
		return e.fail(ctx, "release", err)
	}
	e.opts.observer.OnRelease(ctx, e.name, item, res.At(rem).Int == 1)
	return nil
}

// Requeue moves item.Key from the working set to the pending tail. The
// removal count decides which of several racing callers performs the move;
// the others do nothing.
func (e *Engine) Requeue(ctx context.Context, item api.Item) error {
	b := store.NewBatch()
	rem := b.ScoreRemove(e.working, store.Lit(item.Key))
	b.When(rem, func(b *store.Batch) {
		b.Append(e.pending, store.Lit(item.Key))
	})

	res, err := e.st.Exec(ctx, b)
	if err != nil {
		return e.fail(ctx, "requeue", err)
	}
	e.opts.observer.OnRequeue(ctx, e.name, item, res.At(rem).Int == 1)
	return nil
}

// Sweep requeues every key checked out at or before now-abandoned and
// returns how many it moved.
//
// Each key goes through the same conditional removal as Requeue, bounded by
// the threshold score, so a key that was requeued and dequeued again after
// the range query keeps its fresh checkout. Keys are moved in batches of at
// most the configured sweep batch size; a store failure stops the sweep and
// the count moved so far is returned with the error.
func (e *Engine) Sweep(ctx context.Context, abandoned time.Duration) (int, error) {
	if abandoned < 0 {
		return 0, fmt.Errorf("%w: abandoned must be >= 0, got %s", api.ErrInvalidArgument, abandoned)
	}
	threshold := e.opts.now().UnixMilli() - abandoned.Milliseconds()

	keys, err := e.st.RangeByScore(ctx, e.working, 0, threshold)
	if err != nil {
		return 0, e.fail(ctx, "sweep", err)
	}

	var (
		moved   int
		missing []string
	)
	for start := 0; start < len(keys); start += e.opts.sweepBatchSize {
		chunk := keys[start:min(start+e.opts.sweepBatchSize, len(keys))]

		type refs struct{ rem, exists store.Ref }
		b := store.NewBatch()
		rs := make([]refs, len(chunk))
		for i, key := range chunk {
			rs[i].rem = b.ScoreRemoveAtMost(e.working, store.Lit(key), threshold)
			b.When(rs[i].rem, func(b *store.Batch) {
				rs[i].exists = b.Exists(e.values, store.Lit(key))
				b.Append(e.pending, store.Lit(key))
			})
		}

		res, err := e.st.Exec(ctx, b)
		if err != nil {
			e.opts.observer.OnSweep(ctx, e.name, moved)
			return moved, e.fail(ctx, "sweep", err)
		}
		for i, key := range chunk {
			if res.At(rs[i].rem).Int != 1 {
				continue
			}
			moved++
			if res.At(rs[i].exists).Int == 0 {
				missing = append(missing, key)
			}
		}
	}

	e.opts.observer.OnSweep(ctx, e.name, moved)
	if len(missing) > 0 {
		return moved, e.fail(ctx, "sweep", &api.ConsistencyError{Queue: e.name, Keys: missing})
	}
	return moved, nil
}

// Stats reports the pending length and the working cardinality, read in one
// batch.
func (e *Engine) Stats(ctx context.Context) (api.Stats, error) {
	b := store.NewBatch()
	p := b.SeqLen(e.pending)
	w := b.ScoreCard(e.working)
	res, err := e.st.Exec(ctx, b)
	if err != nil {
		return api.Stats{}, e.fail(ctx, "stats", err)
	}
	return api.Stats{Pending: res.At(p).Int, Working: res.At(w).Int}, nil
}
