package api

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Observer receives callbacks from a queue for logging and metrics.
//
// Callbacks run synchronously on the caller's goroutine after the
// corresponding store batch has committed, so implementations should be fast
// and non-blocking.
type Observer interface {
	// OnEnqueue is called after an item has been appended to the pending
	// sequence.
	OnEnqueue(ctx context.Context, queue string, item Item)

	// OnDequeue is called after an item has been checked out.
	OnDequeue(ctx context.Context, queue string, item Item)

	// OnRelease is called after a Release call. released is false when the
	// item was not checked out and the call had no effect.
	OnRelease(ctx context.Context, queue string, item Item, released bool)

	// OnRequeue is called after a Requeue call. moved is false when another
	// caller won the race for the item.
	OnRequeue(ctx context.Context, queue string, item Item, moved bool)

	// OnSweep is called after a Sweep pass with the number of keys moved
	// back to pending.
	OnSweep(ctx context.Context, queue string, moved int)

	// OnError is called whenever an operation fails.
	OnError(ctx context.Context, queue string, op string, err error)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnEnqueue(ctx context.Context, queue string, item Item)                {}
func (NoopObserver) OnDequeue(ctx context.Context, queue string, item Item)                {}
func (NoopObserver) OnRelease(ctx context.Context, queue string, item Item, released bool) {}
func (NoopObserver) OnRequeue(ctx context.Context, queue string, item Item, moved bool)    {}
func (NoopObserver) OnSweep(ctx context.Context, queue string, moved int)                  {}
func (NoopObserver) OnError(ctx context.Context, queue string, op string, err error)       {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnEnqueue(ctx context.Context, queue string, item Item) {
	for _, o := range c.observers {
		o.OnEnqueue(ctx, queue, item)
	}
}

func (c *CompositeObserver) OnDequeue(ctx context.Context, queue string, item Item) {
	for _, o := range c.observers {
		o.OnDequeue(ctx, queue, item)
	}
}

func (c *CompositeObserver) OnRelease(ctx context.Context, queue string, item Item, released bool) {
	for _, o := range c.observers {
		o.OnRelease(ctx, queue, item, released)
	}
}

func (c *CompositeObserver) OnRequeue(ctx context.Context, queue string, item Item, moved bool) {
	for _, o := range c.observers {
		o.OnRequeue(ctx, queue, item, moved)
	}
}

func (c *CompositeObserver) OnSweep(ctx context.Context, queue string, moved int) {
	for _, o := range c.observers {
		o.OnSweep(ctx, queue, moved)
	}
}

func (c *CompositeObserver) OnError(ctx context.Context, queue string, op string, err error) {
	for _, o := range c.observers {
		o.OnError(ctx, queue, op, err)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs queue transitions using
// the provided slog.Logger. If logger is nil, slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnEnqueue(ctx context.Context, queue string, item Item) {
	o.Logger.DebugContext(ctx, "item_enqueued",
		slog.String("queue", queue),
		slog.String("key", item.Key),
	)
}

func (o *LoggingObserver) OnDequeue(ctx context.Context, queue string, item Item) {
	o.Logger.DebugContext(ctx, "item_dequeued",
		slog.String("queue", queue),
		slog.String("key", item.Key),
	)
}

func (o *LoggingObserver) OnRelease(ctx context.Context, queue string, item Item, released bool) {
	o.Logger.DebugContext(ctx, "item_released",
		slog.String("queue", queue),
		slog.String("key", item.Key),
		slog.Bool("released", released),
	)
}

func (o *LoggingObserver) OnRequeue(ctx context.Context, queue string, item Item, moved bool) {
	o.Logger.InfoContext(ctx, "item_requeued",
		slog.String("queue", queue),
		slog.String("key", item.Key),
		slog.Bool("moved", moved),
	)
}

func (o *LoggingObserver) OnSweep(ctx context.Context, queue string, moved int) {
	level := slog.LevelDebug
	if moved > 0 {
		level = slog.LevelInfo
	}
	o.Logger.Log(ctx, level, "sweep_completed",
		slog.String("queue", queue),
		slog.Int("moved", moved),
	)
}

func (o *LoggingObserver) OnError(ctx context.Context, queue string, op string, err error) {
	o.Logger.ErrorContext(ctx, "queue_error",
		slog.String("queue", queue),
		slog.String("op", op),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters of queue transitions.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	enqueued  atomic.Int64
	dequeued  atomic.Int64
	released  atomic.Int64
	requeued  atomic.Int64
	lostRaces atomic.Int64
	swept     atomic.Int64
	errors    atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	Enqueued int64
	Dequeued int64
	Released int64
	Requeued int64
	Swept    int64

	// LostRaces counts Release and Requeue calls that found the item no
	// longer checked out.
	LostRaces int64
	Errors    int64

	// InFlight is the number of dequeued items not yet released, requeued
	// or swept, as seen by this observer.
	InFlight int64
}

func (m *BasicMetrics) OnEnqueue(ctx context.Context, queue string, item Item) {
	m.enqueued.Add(1)
}

func (m *BasicMetrics) OnDequeue(ctx context.Context, queue string, item Item) {
	m.dequeued.Add(1)
}

func (m *BasicMetrics) OnRelease(ctx context.Context, queue string, item Item, released bool) {
	if released {
		m.released.Add(1)
	} else {
		m.lostRaces.Add(1)
	}
}

func (m *BasicMetrics) OnRequeue(ctx context.Context, queue string, item Item, moved bool) {
	if moved {
		m.requeued.Add(1)
	} else {
		m.lostRaces.Add(1)
	}
}

func (m *BasicMetrics) OnSweep(ctx context.Context, queue string, moved int) {
	m.swept.Add(int64(moved))
}

func (m *BasicMetrics) OnError(ctx context.Context, queue string, op string, err error) {
	m.errors.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	dequeued := m.dequeued.Load()
	released := m.released.Load()
	requeued := m.requeued.Load()
	swept := m.swept.Load()

	return BasicMetricsSnapshot{
		Enqueued:  m.enqueued.Load(),
		Dequeued:  dequeued,
		Released:  released,
		Requeued:  requeued,
		Swept:     swept,
		LostRaces: m.lostRaces.Load(),
		Errors:    m.errors.Load(),
		InFlight:  dequeued - released - requeued - swept,
	}
}
