package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/petrijr/relyq/pkg/api"
)

// ReliabilityConfig tunes a reliability run. Zero fields take the defaults
// noted on each field.
type ReliabilityConfig struct {
	Items     int // 1000
	ValueSize int // 16 bytes
	Producers int // 2
	Consumers int // 2

	// Abandoned is the sweep threshold (2s). The run also ends once the
	// queue has looked empty for Abandoned plus one second.
	Abandoned     time.Duration
	SweepInterval time.Duration // 100ms
	IdleSleep     time.Duration // 100ms

	// RequeueRatio and DropRatio split each dequeue between requeue, drop
	// (a simulated consumer crash) and release. Defaults 0.2 and 0.1.
	RequeueRatio float64
	DropRatio    float64

	Logger *slog.Logger
}

func (c ReliabilityConfig) withDefaults() ReliabilityConfig {
	if c.Items <= 0 {
		c.Items = 1000
	}
	if c.ValueSize <= 0 {
		c.ValueSize = 16
	}
	if c.Producers <= 0 {
		c.Producers = 2
	}
	if c.Consumers <= 0 {
		c.Consumers = 2
	}
	if c.Abandoned <= 0 {
		c.Abandoned = 2 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 100 * time.Millisecond
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = 100 * time.Millisecond
	}
	if c.RequeueRatio == 0 && c.DropRatio == 0 {
		c.RequeueRatio, c.DropRatio = 0.2, 0.1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// ReliabilityReport summarizes a reliability run.
type ReliabilityReport struct {
	Items int
	// Released counts the Release calls that took effect.
	Released int
	Requeued int
	Dropped  int
	Swept    int
	Elapsed  time.Duration

	// Lost holds the values that were never released.
	Lost []string
}

// LostPercent is the share of values never released.
func (r ReliabilityReport) LostPercent() float64 {
	if r.Items == 0 {
		return 0
	}
	return 100 * float64(len(r.Lost)) / float64(r.Items)
}

func (r ReliabilityReport) String() string {
	return fmt.Sprintf("items=%d released=%d requeued=%d dropped=%d swept=%d lost=%d (%.2f%%) elapsed=%s",
		r.Items, r.Released, r.Requeued, r.Dropped, r.Swept, len(r.Lost), r.LostPercent(), r.Elapsed)
}

type unconsumed struct {
	mu     sync.Mutex
	values map[string]struct{}
}

func (u *unconsumed) remove(v string) {
	u.mu.Lock()
	delete(u.values, v)
	u.mu.Unlock()
}

func (u *unconsumed) empty() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.values) == 0
}

func (u *unconsumed) list() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, 0, len(u.values))
	for v := range u.values {
		out = append(out, v)
	}
	return out
}

// releaseTracker consumes a value only once the queue reports that the
// Release took effect. A Release of an item swept back to pending in the
// meantime does not count.
type releaseTracker struct {
	api.NoopObserver
	pending  *unconsumed
	released atomic.Int64
}

func (r *releaseTracker) OnRelease(_ context.Context, _ string, item api.Item, released bool) {
	if !released {
		return
	}
	r.pending.remove(item.Value)
	r.released.Add(1)
}

// Reliability pushes cfg.Items random values through the queue with
// concurrent producers and consumers. Consumers requeue, drop or release
// what they dequeue at random while a sweeper returns abandoned items. The
// run ends when every value has been released, or when the queue has been
// empty for longer than the abandoned threshold plus one second.
//
// Values never released are reported in ReliabilityReport.Lost; the error is
// reserved for store failures and broken invariants.
func Reliability(ctx context.Context, factory Factory, cfg ReliabilityConfig) (ReliabilityReport, error) {
	cfg = cfg.withDefaults()
	start := time.Now()

	values := RandomHexes(cfg.ValueSize, cfg.Items)
	pending := &unconsumed{values: make(map[string]struct{}, len(values))}
	for _, v := range values {
		pending.values[v] = struct{}{}
	}

	tracker := &releaseTracker{pending: pending}

	probe, err := factory(ctx, nil)
	if err != nil {
		return ReliabilityReport{}, fmt.Errorf("open sweeper queue: %w", err)
	}

	var (
		next     atomic.Int64
		requeued atomic.Int64
		dropped  atomic.Int64
	)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	for i := 0; i < cfg.Producers; i++ {
		g.Go(func() error {
			q, err := factory(gctx, nil)
			if err != nil {
				return fmt.Errorf("producer %d: open queue: %w", i, err)
			}
			for idx := int(next.Add(1) - 1); idx < len(values); idx = int(next.Add(1) - 1) {
				item := api.Item{Key: RandomHex(8), Value: values[idx]}
				if err := q.Enqueue(gctx, item); err != nil {
					if gctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("producer %d: %w", i, err)
				}
			}
			return nil
		})
	}

	for i := 0; i < cfg.Consumers; i++ {
		g.Go(func() error {
			q, err := factory(gctx, tracker)
			if err != nil {
				return fmt.Errorf("consumer %d: open queue: %w", i, err)
			}
			for !pending.empty() {
				item, ok, err := q.Dequeue(gctx)
				if err != nil {
					if gctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("consumer %d: dequeue: %w", i, err)
				}
				if !ok {
					if !sleepCtx(gctx, cfg.IdleSleep) {
						return nil
					}
					continue
				}

				switch rv := rand.Float64(); {
				case rv < cfg.RequeueRatio:
					err = q.Requeue(gctx, item)
					requeued.Add(1)
				case rv < cfg.RequeueRatio+cfg.DropRatio:
					dropped.Add(1)
				default:
					err = q.Release(gctx, item)
				}
				if err != nil {
					if gctx.Err() != nil {
						return nil
					}
					return fmt.Errorf("consumer %d: %w", i, err)
				}
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var (
		swept    int
		waitErr  error
		finished bool
	)
	ticker := time.NewTicker(cfg.SweepInterval)
	defer ticker.Stop()
	emptySince := time.Now()

loop:
	for {
		select {
		case waitErr = <-done:
			finished = true
			break loop
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}

		stats, err := probe.Stats(ctx)
		if err != nil {
			waitErr = fmt.Errorf("stats: %w", err)
			break
		}
		if !stats.Empty() {
			emptySince = time.Now()
		}

		n, err := probe.Sweep(ctx, cfg.Abandoned)
		swept += n
		if err != nil && !errors.Is(err, api.ErrNotImplemented) {
			waitErr = fmt.Errorf("sweep: %w", err)
			break
		}
		if n > 0 {
			cfg.Logger.DebugContext(ctx, "harness_swept", slog.String("queue", probe.Name()), slog.Int("moved", n))
		}

		if time.Since(emptySince) > cfg.Abandoned+time.Second {
			cfg.Logger.InfoContext(ctx, "harness_queue_idle",
				slog.String("queue", probe.Name()),
				slog.Duration("empty_for", time.Since(emptySince)))
			break
		}
	}

	cancel()
	if !finished {
		if err := <-done; waitErr == nil {
			waitErr = err
		}
	}

	report := ReliabilityReport{
		Items:    cfg.Items,
		Released: int(tracker.released.Load()),
		Requeued: int(requeued.Load()),
		Dropped:  int(dropped.Load()),
		Swept:    swept,
		Elapsed:  time.Since(start),
		Lost:     pending.list(),
	}
	if waitErr == nil {
		waitErr = ctx.Err()
	}
	return report, waitErr
}
