package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/petrijr/relyq/pkg/api"
)

// ErrAbandon tells the worker to leave the item checked out. It is reclaimed
// by Sweep once the abandonment threshold has passed.
var ErrAbandon = errors.New("worker: item abandoned")

// Handler processes one item.
type Handler func(ctx context.Context, item api.Item) error

// Worker pulls items from a Queue and settles them by handler outcome.
type Worker struct {
	queue   api.Queue
	handler Handler
	logger  *slog.Logger
	idle    Backoff
}

// Option configures a Worker.
type Option func(*Worker)

// WithLogger sets the logger used by Run. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithIdleBackoff sets the delay sequence Run uses while the queue is empty
// or the store is failing.
func WithIdleBackoff(b Backoff) Option {
	return func(w *Worker) { w.idle = b }
}

// New creates a Worker.
func New(queue api.Queue, handler Handler, opts ...Option) *Worker {
	w := &Worker{
		queue:   queue,
		handler: handler,
		logger:  slog.Default(),
		idle:    DefaultIdleBackoff,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// ProcessOne dequeues a single item and processes it.
// Returns (processed, error):
//   - processed == false, err == nil: the queue was empty.
//   - processed == false, err != nil: Dequeue failed.
//   - processed == true: an item was handled; err is the handler error, if
//     any, joined with a failure to settle the item.
//
// Settlement runs even if ctx was cancelled while the handler ran.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	item, ok, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	herr := w.handle(ctx, item)
	settleCtx := context.WithoutCancel(ctx)

	switch {
	case herr == nil:
		if err := w.queue.Release(settleCtx, item); err != nil {
			return true, fmt.Errorf("release %q: %w", item.Key, err)
		}
		return true, nil
	case errors.Is(herr, ErrAbandon):
		return true, herr
	default:
		if err := w.queue.Requeue(settleCtx, item); err != nil {
			return true, errors.Join(herr, fmt.Errorf("requeue %q: %w", item.Key, err))
		}
		return true, herr
	}
}

func (w *Worker) handle(ctx context.Context, item api.Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return w.handler(ctx, item)
}

// maxIdleSteps bounds the attempt number passed to the idle backoff.
const maxIdleSteps = 64

// Run calls ProcessOne until ctx is cancelled, then returns nil. Handler and
// store errors are logged and never stop the loop.
func (w *Worker) Run(ctx context.Context) error {
	idle := 0
	for {
		if ctx.Err() != nil {
			return nil
		}

		processed, err := w.ProcessOne(ctx)
		switch {
		case err == nil && processed:
			idle = 0
			continue
		case err == nil:
			// Queue empty.
		case ctx.Err() != nil:
			return nil
		case processed && errors.Is(err, ErrAbandon):
			w.logger.WarnContext(ctx, "worker_item_abandoned",
				slog.String("queue", w.queue.Name()),
				slog.Any("error", err),
			)
			idle = 0
			continue
		case processed:
			w.logger.WarnContext(ctx, "worker_handler_failed",
				slog.String("queue", w.queue.Name()),
				slog.Any("error", err),
			)
			idle = 0
			continue
		default:
			w.logger.ErrorContext(ctx, "worker_dequeue_failed",
				slog.String("queue", w.queue.Name()),
				slog.Any("error", err),
			)
		}

		if !sleep(ctx, w.idle.Delay(idle)) {
			return nil
		}
		if idle < maxIdleSteps {
			idle++
		}
	}
}

// sleep waits for d or until ctx is done; it reports whether d elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
