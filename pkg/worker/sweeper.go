package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/petrijr/relyq/pkg/api"
)

// Sweeper periodically reclaims abandoned items.
type Sweeper struct {
	queue     api.Queue
	interval  time.Duration
	abandoned time.Duration
	logger    *slog.Logger
}

// NewSweeper returns a Sweeper that calls Sweep(abandoned) every interval.
// A nil logger means slog.Default().
func NewSweeper(queue api.Queue, interval, abandoned time.Duration, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		queue:     queue,
		interval:  interval,
		abandoned: abandoned,
		logger:    logger,
	}
}

// SweepOnce runs a single sweep.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	return s.queue.Sweep(ctx, s.abandoned)
}

// Run sweeps every interval until ctx is cancelled, then returns nil.
// Sweep failures are logged. If the queue does not support sweeping, Run
// returns immediately with nil.
func (s *Sweeper) Run(ctx context.Context) error {
	if s.interval <= 0 {
		return errors.New("worker: sweep interval must be > 0")
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		moved, err := s.SweepOnce(ctx)
		switch {
		case errors.Is(err, api.ErrNotImplemented):
			s.logger.InfoContext(ctx, "sweeper_unsupported", slog.String("queue", s.queue.Name()))
			return nil
		case err != nil && ctx.Err() != nil:
			return nil
		case err != nil:
			s.logger.ErrorContext(ctx, "sweeper_failed",
				slog.String("queue", s.queue.Name()),
				slog.Int("moved", moved),
				slog.Any("error", err),
			)
		case moved > 0:
			s.logger.InfoContext(ctx, "sweeper_reclaimed",
				slog.String("queue", s.queue.Name()),
				slog.Int("moved", moved),
			)
		}
	}
}
