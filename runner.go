package relyq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/petrijr/relyq/pkg/api"
	"github.com/petrijr/relyq/pkg/worker"
)

// Re-export the worker handler contract.

type Handler = worker.Handler

var ErrAbandon = worker.ErrAbandon

// RunnerConfig tunes a Runner. A zero SweepInterval disables the sweeper.
type RunnerConfig struct {
	SweepInterval time.Duration
	Abandoned     time.Duration
	IdleBackoff   worker.Backoff
	Logger        *slog.Logger
}

// Runner bundles a queue, a Worker and an optional Sweeper into a pool of
// goroutines that can be started and stopped together.
//
// Typical usage:
//
//	q := relyq.NewInMemoryQueue("emails")
//	r := relyq.NewRunner(q, send, relyq.RunnerConfig{
//	    SweepInterval: time.Second,
//	    Abandoned:     30 * time.Second,
//	})
//	_ = r.Start(ctx, 4)
//	...
//	r.Stop()
type Runner struct {
	// Queue is the queue workers consume from.
	Queue api.Queue

	// Worker processes items from Queue.
	Worker *worker.Worker

	// Sweeper reclaims abandoned items; nil when disabled.
	Sweeper *worker.Sweeper

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewRunner builds a Runner that feeds items from q to handler.
func NewRunner(q api.Queue, handler Handler, cfg RunnerConfig) *Runner {
	wopts := []worker.Option{worker.WithLogger(cfg.Logger)}
	if cfg.IdleBackoff != (worker.Backoff{}) {
		wopts = append(wopts, worker.WithIdleBackoff(cfg.IdleBackoff))
	}
	r := &Runner{
		Queue:  q,
		Worker: worker.New(q, handler, wopts...),
	}
	if cfg.SweepInterval > 0 {
		r.Sweeper = worker.NewSweeper(q, cfg.SweepInterval, cfg.Abandoned, cfg.Logger)
	}
	return r
}

// Start launches concurrency worker goroutines plus the sweeper. They run
// until ctx is cancelled or Stop is called.
//
// If Start is called more than once without Stop, it returns an error.
func (r *Runner) Start(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("relyq: Runner already started")
	}

	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer r.wg.Done()
			_ = r.Worker.Run(ctx)
		}()
	}

	if r.Sweeper != nil {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			_ = r.Sweeper.Run(ctx)
		}()
	}

	return nil
}

// Stop cancels all goroutines started by Start and waits for them to exit.
// Items being processed at that moment are settled before Stop returns.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}
