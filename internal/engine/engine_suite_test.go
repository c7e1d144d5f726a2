package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"github.com/petrijr/relyq/internal/store"
	"github.com/petrijr/relyq/pkg/api"
)

// fakeClock is a manually advanced clock shared by the engines of a test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1_700_000_000_000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// engineSuite runs the queue contract against one backend. Backend test
// files embed it and set store (and optionally raceTrials) before suite.Run.
type engineSuite struct {
	suite.Suite
	store      store.Store
	raceTrials int

	ctx   context.Context
	clock *fakeClock
	name  string
	q     *Engine
}

func (s *engineSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = newFakeClock()
	s.name = "jobs-" + uuid.NewString()[:8]
	s.q = s.newEngine()
}

func (s *engineSuite) newEngine(opts ...Option) *Engine {
	return New(s.store, s.name, append([]Option{WithClock(s.clock.Now)}, opts...)...)
}

func (s *engineSuite) enqueue(keys ...string) {
	for _, k := range keys {
		s.Require().NoError(s.q.Enqueue(s.ctx, api.Item{Key: k, Value: "value-" + k}))
	}
}

func (s *engineSuite) mustDequeue() api.Item {
	item, ok, err := s.q.Dequeue(s.ctx)
	s.Require().NoError(err)
	s.Require().True(ok, "expected an item")
	return item
}

func (s *engineSuite) requireEmpty() {
	item, ok, err := s.q.Dequeue(s.ctx)
	s.Require().NoError(err)
	s.Require().False(ok, "expected empty queue, got %+v", item)
	s.Equal(api.Item{}, item)
}

func (s *engineSuite) stats() api.Stats {
	st, err := s.q.Stats(s.ctx)
	s.Require().NoError(err)
	return st
}

func (s *engineSuite) TestName() {
	s.Equal(s.name, s.q.Name())
}

func (s *engineSuite) TestDequeueReturnsItemsInEnqueueOrder() {
	keys := []string{"a", "b", "c", "d", "e"}
	s.enqueue(keys...)

	for _, k := range keys {
		item := s.mustDequeue()
		s.Equal(api.Item{Key: k, Value: "value-" + k}, item)
	}
	s.requireEmpty()
}

func (s *engineSuite) TestDequeueOnEmptyQueue() {
	s.requireEmpty()
	s.Equal(api.Stats{}, s.stats())
}

func (s *engineSuite) TestEnqueueDequeueRelease() {
	in := api.Item{Key: "k1", Value: "payload"}
	s.Require().NoError(s.q.Enqueue(s.ctx, in))

	out := s.mustDequeue()
	s.Equal(in, out)
	s.Equal(api.Stats{Pending: 0, Working: 1}, s.stats())

	s.Require().NoError(s.q.Release(s.ctx, out))
	s.requireEmpty()
	s.True(s.stats().Empty())
}

func (s *engineSuite) TestReleaseIsIdempotent() {
	s.enqueue("a")
	x := s.mustDequeue()

	s.Require().NoError(s.q.Release(s.ctx, x))
	s.Require().NoError(s.q.Release(s.ctx, x))
	s.Require().NoError(s.q.Release(s.ctx, api.Item{Key: "never-enqueued"}))
	s.True(s.stats().Empty())
}

func (s *engineSuite) TestReleaseOfPendingKeyKeepsItsValue() {
	s.enqueue("a")

	// "a" is pending, not checked out: releasing it must not orphan the key.
	s.Require().NoError(s.q.Release(s.ctx, api.Item{Key: "a"}))

	item := s.mustDequeue()
	s.Equal("value-a", item.Value)
}

func (s *engineSuite) TestRequeueMovesItemToTail() {
	s.enqueue("A", "B")

	x := s.mustDequeue()
	s.Equal("A", x.Key)
	s.Require().NoError(s.q.Requeue(s.ctx, x))

	s.Equal("B", s.mustDequeue().Key)
	s.Equal(api.Item{Key: "A", Value: "value-A"}, s.mustDequeue())
	s.requireEmpty()
}

func (s *engineSuite) TestDoubleRequeueEnqueuesOnce() {
	s.enqueue("A")

	x := s.mustDequeue()
	s.Require().NoError(s.q.Requeue(s.ctx, x))
	s.Require().NoError(s.q.Requeue(s.ctx, x))

	s.Equal(x, s.mustDequeue())
	s.requireEmpty()
}

func (s *engineSuite) TestRequeueAfterReleaseIsNoop() {
	s.enqueue("A")

	x := s.mustDequeue()
	s.Require().NoError(s.q.Release(s.ctx, x))
	s.Require().NoError(s.q.Requeue(s.ctx, x))

	s.requireEmpty()
	s.True(s.stats().Empty())
}

func (s *engineSuite) TestSweepRequeuesAbandonedItems() {
	s.enqueue("A", "B")
	s.mustDequeue()
	s.mustDequeue()

	s.clock.Advance(600 * time.Millisecond)

	// Checked out just now: must survive the sweep.
	s.enqueue("C")
	fresh := s.mustDequeue()

	moved, err := s.q.Sweep(s.ctx, 500*time.Millisecond)
	s.Require().NoError(err)
	s.Equal(2, moved)
	s.Equal(api.Stats{Pending: 2, Working: 1}, s.stats())

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		got[s.mustDequeue().Key] = true
	}
	s.Equal(map[string]bool{"A": true, "B": true}, got)
	s.requireEmpty()

	// The fresh item is still checked out and can be released normally.
	s.Require().NoError(s.q.Release(s.ctx, fresh))
	s.Equal(api.Stats{Pending: 0, Working: 2}, s.stats())
}

func (s *engineSuite) TestSweepWithNothingAbandoned() {
	s.enqueue("A")
	s.mustDequeue()

	moved, err := s.q.Sweep(s.ctx, time.Second)
	s.Require().NoError(err)
	s.Zero(moved)
	s.Equal(api.Stats{Pending: 0, Working: 1}, s.stats())
}

func (s *engineSuite) TestSweepInBatches() {
	q := s.newEngine(WithSweepBatchSize(2))
	s.q = q

	keys := []string{"a", "b", "c", "d", "e"}
	s.enqueue(keys...)
	for range keys {
		s.mustDequeue()
	}
	s.clock.Advance(time.Second)

	moved, err := q.Sweep(s.ctx, 0)
	s.Require().NoError(err)
	s.Equal(len(keys), moved)
	s.Equal(api.Stats{Pending: int64(len(keys))}, s.stats())
}

func (s *engineSuite) TestSweepSkipsReleasedItems() {
	s.enqueue("A", "B")
	a := s.mustDequeue()
	s.mustDequeue()
	s.clock.Advance(time.Second)

	// A second engine releases "A" before the sweep runs.
	other := s.newEngine()
	s.Require().NoError(other.Release(s.ctx, a))

	moved, err := s.q.Sweep(s.ctx, 500*time.Millisecond)
	s.Require().NoError(err)
	s.Equal(1, moved)
	s.Equal("B", s.mustDequeue().Key)
	s.requireEmpty()
}

func (s *engineSuite) TestSweepRejectsNegativeThreshold() {
	_, err := s.q.Sweep(s.ctx, -time.Millisecond)
	s.ErrorIs(err, api.ErrInvalidArgument)
}

func (s *engineSuite) TestEnqueueRejectsEmptyKey() {
	err := s.q.Enqueue(s.ctx, api.Item{Value: "v"})
	s.ErrorIs(err, api.ErrEmptyKey)
	s.True(s.stats().Empty())
}

func (s *engineSuite) TestEnqueueValueAssignsKey() {
	item, err := s.q.EnqueueValue(s.ctx, "payload")
	s.Require().NoError(err)
	s.NotEmpty(item.Key)

	s.Equal(item, s.mustDequeue())
}

func (s *engineSuite) TestDequeueDetectsMissingValue() {
	b := store.NewBatch()
	b.Append(s.name, store.Lit("orphan"))
	_, err := s.store.Exec(s.ctx, b)
	s.Require().NoError(err)

	item, ok, err := s.q.Dequeue(s.ctx)
	s.False(ok)
	s.Equal("orphan", item.Key)
	s.Require().ErrorIs(err, api.ErrConsistencyViolation)

	var ce *api.ConsistencyError
	s.Require().True(errors.As(err, &ce))
	s.Equal([]string{"orphan"}, ce.Keys)

	// The key stays checked out and can be cleared.
	s.Equal(api.Stats{Working: 1}, s.stats())
	s.Require().NoError(s.q.Release(s.ctx, item))
	s.True(s.stats().Empty())
}

func (s *engineSuite) TestSweepDetectsMissingValue() {
	b := store.NewBatch()
	b.ScoreAdd(s.name+"working", store.Lit("orphan"), s.clock.Now().UnixMilli())
	_, err := s.store.Exec(s.ctx, b)
	s.Require().NoError(err)
	s.clock.Advance(time.Second)

	moved, err := s.q.Sweep(s.ctx, 0)
	s.Equal(1, moved)
	s.Require().ErrorIs(err, api.ErrConsistencyViolation)
}

func (s *engineSuite) TestStorageLayout() {
	s.enqueue("A", "B")
	s.mustDequeue()

	got, err := s.store.RangeByScore(s.ctx, s.name+"working", 0, s.clock.Now().UnixMilli())
	s.Require().NoError(err)
	s.Equal([]string{"A"}, got)

	b := store.NewBatch()
	v := b.Get(s.name+"values", store.Lit("B"))
	n := b.SeqLen(s.name)
	res, err := s.store.Exec(s.ctx, b)
	s.Require().NoError(err)
	s.Equal("value-B", res.At(v).Str)
	s.Equal(int64(1), res.At(n).Int)
}

// Two independent engines on the same queue race to requeue one checked-out
// item. Exactly one requeue must win in every trial.
func (s *engineSuite) TestConcurrentRequeueRace() {
	e1, e2 := s.newEngine(), s.newEngine()

	for i := 0; i < s.trials(); i++ {
		s.Require().NoError(e1.Enqueue(s.ctx, api.Item{Key: "k", Value: "v"}))
		x, ok, err := e1.Dequeue(s.ctx)
		s.Require().NoError(err)
		s.Require().True(ok)

		var (
			wg    sync.WaitGroup
			start = make(chan struct{})
			errs  = make([]error, 2)
		)
		for j, e := range []*Engine{e1, e2} {
			wg.Add(1)
			go func(j int, e *Engine) {
				defer wg.Done()
				<-start
				errs[j] = e.Requeue(s.ctx, x)
			}(j, e)
		}
		close(start)
		wg.Wait()
		s.Require().NoError(errors.Join(errs...))

		got, ok, err := e2.Dequeue(s.ctx)
		s.Require().NoError(err)
		s.Require().True(ok, "trial %d: item lost", i)
		s.Require().Equal(x, got)

		_, ok, err = e1.Dequeue(s.ctx)
		s.Require().NoError(err)
		s.Require().False(ok, "trial %d: item requeued twice", i)

		s.Require().NoError(e1.Release(s.ctx, got))
	}
	s.True(s.stats().Empty())
}

func (s *engineSuite) TestConcurrentDequeueNeverDuplicates() {
	const n = 50
	for i := 0; i < n; i++ {
		s.Require().NoError(s.q.Enqueue(s.ctx, api.Item{Key: uuid.NewString(), Value: "v"}))
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := s.newEngine()
			for {
				item, ok, err := e.Dequeue(s.ctx)
				if err != nil || !ok {
					return
				}
				mu.Lock()
				seen[item.Key]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Len(seen, n)
	for k, c := range seen {
		s.Equal(1, c, "key %s dequeued %d times", k, c)
	}
}

func (s *engineSuite) trials() int {
	if s.raceTrials == 0 {
		return 1000
	}
	return s.raceTrials
}

// race runs the given funcs on separate goroutines released together.
func race(fns ...func() error) error {
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, len(fns))
	)
	for i, fn := range fns {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs[i] = fn()
		}()
	}
	close(start)
	wg.Wait()
	return errors.Join(errs...)
}

// Several sweepers reclaiming the same abandoned keys move each key once.
func (s *engineSuite) TestConcurrentSweepersMoveEachKeyOnce() {
	const n = 20
	keys := make([]string, n)
	for i := range keys {
		keys[i] = uuid.NewString()
	}
	s.enqueue(keys...)
	for range keys {
		s.mustDequeue()
	}
	s.clock.Advance(time.Second)

	sweepers := []*Engine{s.newEngine(), s.newEngine(), s.newEngine(WithSweepBatchSize(3))}
	counts := make([]int, len(sweepers))
	fns := make([]func() error, len(sweepers))
	for i, e := range sweepers {
		fns[i] = func() (err error) {
			counts[i], err = e.Sweep(s.ctx, 500*time.Millisecond)
			return err
		}
	}
	s.Require().NoError(race(fns...))

	total := 0
	for _, c := range counts {
		total += c
	}
	s.Equal(n, total)
	s.Equal(api.Stats{Pending: n}, s.stats())

	seen := map[string]bool{}
	for range keys {
		item := s.mustDequeue()
		s.False(seen[item.Key], "key %s appended twice", item.Key)
		seen[item.Key] = true
	}
	s.requireEmpty()
}

// Sweep and Requeue of the same abandoned key: exactly one moves it.
func (s *engineSuite) TestSweepRacingRequeue() {
	sweeper, requeuer := s.newEngine(), s.newEngine()

	for i := 0; i < s.trials(); i++ {
		s.enqueue("k")
		x := s.mustDequeue()
		s.clock.Advance(time.Second)

		var moved int
		s.Require().NoError(race(
			func() (err error) {
				moved, err = sweeper.Sweep(s.ctx, 500*time.Millisecond)
				return err
			},
			func() error { return requeuer.Requeue(s.ctx, x) },
		))
		s.Require().LessOrEqual(moved, 1)
		s.Require().Equal(api.Stats{Pending: 1}, s.stats(), "trial %d", i)

		got := s.mustDequeue()
		s.Require().Equal(x, got)
		s.requireEmpty()
		s.Require().NoError(s.q.Release(s.ctx, got))
	}
	s.True(s.stats().Empty())
}

// Sweep and Release of the same abandoned key: either the item is gone or
// it is back in pending with its value intact.
func (s *engineSuite) TestSweepRacingRelease() {
	sweeper, releaser := s.newEngine(), s.newEngine()

	for i := 0; i < s.trials(); i++ {
		s.enqueue("k")
		x := s.mustDequeue()
		s.clock.Advance(time.Second)

		var moved int
		s.Require().NoError(race(
			func() (err error) {
				moved, err = sweeper.Sweep(s.ctx, 500*time.Millisecond)
				return err
			},
			func() error { return releaser.Release(s.ctx, x) },
		))

		if moved == 0 {
			s.Require().True(s.stats().Empty(), "trial %d: released item left state behind", i)
			continue
		}
		s.Require().Equal(api.Stats{Pending: 1}, s.stats(), "trial %d", i)
		got := s.mustDequeue()
		s.Require().Equal(x, got, "trial %d: swept item lost its value", i)
		s.Require().NoError(s.q.Release(s.ctx, got))
		s.Require().True(s.stats().Empty())
	}
}

// rangeHookStore runs afterRange once, right after the first RangeByScore.
type rangeHookStore struct {
	store.Store
	once       sync.Once
	afterRange func()
}

func (h *rangeHookStore) RangeByScore(ctx context.Context, assoc string, min, max int64) ([]string, error) {
	keys, err := h.Store.RangeByScore(ctx, assoc, min, max)
	h.once.Do(h.afterRange)
	return keys, err
}

// A key requeued and dequeued again between the range query and the move
// keeps its fresh checkout.
func (s *engineSuite) TestSweepKeepsCheckoutRenewedAfterRangeQuery() {
	s.enqueue("A")
	x := s.mustDequeue()
	s.clock.Advance(time.Second)

	other := s.newEngine()
	hooked := &rangeHookStore{Store: s.store, afterRange: func() {
		s.Require().NoError(other.Requeue(s.ctx, x))
		again, ok, err := other.Dequeue(s.ctx)
		s.Require().NoError(err)
		s.Require().True(ok)
		s.Require().Equal(x, again)
	}}
	sweeper := New(hooked, s.name, WithClock(s.clock.Now))

	moved, err := sweeper.Sweep(s.ctx, 500*time.Millisecond)
	s.Require().NoError(err)
	s.Zero(moved)
	s.Equal(api.Stats{Working: 1}, s.stats())

	got, err := s.store.RangeByScore(s.ctx, s.name+"working", s.clock.Now().UnixMilli(), s.clock.Now().UnixMilli())
	s.Require().NoError(err)
	s.Equal([]string{"A"}, got, "checkout time must be the renewed one")
}
