package harness

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/petrijr/relyq/pkg/api"
)

// LatencyReport holds dequeue latency statistics.
type LatencyReport struct {
	Samples int
	Avg     time.Duration
	StdDev  time.Duration
	Min     time.Duration
	Max     time.Duration
}

func (r LatencyReport) String() string {
	return fmt.Sprintf("samples=%d avg=%.3fµs stddev=%.3fµs min=%s max=%s",
		r.Samples, float64(r.Avg)/1e3, float64(r.StdDev)/1e3, r.Min, r.Max)
}

// Latency enqueues n random values, then times n dequeues, releasing each
// item after it is timed. The queue should be empty beforehand.
func Latency(ctx context.Context, q api.Queue, n int) (LatencyReport, error) {
	if n <= 0 {
		return LatencyReport{}, fmt.Errorf("%w: n must be > 0, got %d", api.ErrInvalidArgument, n)
	}

	for i, v := range RandomHexes(16, n) {
		if err := q.Enqueue(ctx, api.Item{Key: RandomHex(8), Value: v}); err != nil {
			return LatencyReport{}, fmt.Errorf("enqueue %d: %w", i, err)
		}
	}

	timings := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		start := time.Now()
		item, ok, err := q.Dequeue(ctx)
		elapsed := time.Since(start)
		if err != nil {
			return LatencyReport{}, fmt.Errorf("dequeue %d: %w", i, err)
		}
		if !ok {
			return LatencyReport{}, fmt.Errorf("queue %s drained after %d of %d dequeues", q.Name(), i, n)
		}
		timings = append(timings, elapsed)
		if err := q.Release(ctx, item); err != nil {
			return LatencyReport{}, fmt.Errorf("release %d: %w", i, err)
		}
	}

	return summarize(timings), nil
}

func summarize(timings []time.Duration) LatencyReport {
	r := LatencyReport{Samples: len(timings)}
	if len(timings) == 0 {
		return r
	}
	var total time.Duration
	r.Min, r.Max = timings[0], timings[0]
	for _, t := range timings {
		total += t
		r.Min = min(r.Min, t)
		r.Max = max(r.Max, t)
	}
	r.Avg = total / time.Duration(len(timings))

	var sq float64
	for _, t := range timings {
		d := float64(t - r.Avg)
		sq += d * d
	}
	r.StdDev = time.Duration(math.Sqrt(sq / float64(len(timings))))
	return r
}
