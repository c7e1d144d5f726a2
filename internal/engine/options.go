package engine

import (
	"time"

	"github.com/petrijr/relyq/pkg/api"
)

// DefaultSweepBatchSize bounds how many keys a single sweep batch moves.
const DefaultSweepBatchSize = 512

type options struct {
	now            func() time.Time
	observer       api.Observer
	sweepBatchSize int
}

// Option configures an Engine or Simple queue.
type Option func(*options)

// WithClock overrides the clock used for checkout timestamps and sweep
// thresholds. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithObserver installs an observer. nil restores the no-op observer.
func WithObserver(obs api.Observer) Option {
	return func(o *options) {
		if obs == nil {
			obs = api.NoopObserver{}
		}
		o.observer = obs
	}
}

// WithSweepBatchSize sets the number of keys moved per sweep batch.
// Values < 1 are ignored.
func WithSweepBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.sweepBatchSize = n
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		now:            time.Now,
		observer:       api.NoopObserver{},
		sweepBatchSize: DefaultSweepBatchSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
