package worker

import (
	"math"
	"time"
)

// Backoff describes an exponential delay sequence.
//
//   - Initial is the first delay.
//   - Multiplier > 1 grows the delay each step (default 2.0 if <= 0).
//   - Max caps the delay; if <= 0, there is no cap.
type Backoff struct {
	Initial    time.Duration
	Multiplier float64
	Max        time.Duration
}

// ExponentialBackoff returns a Backoff starting at initial and capped at max.
//
// Example:
//
//	ExponentialBackoff(10*time.Millisecond, 2.0, time.Second)
func ExponentialBackoff(initial time.Duration, multiplier float64, max time.Duration) Backoff {
	if multiplier <= 0 {
		multiplier = 2.0
	}
	return Backoff{Initial: initial, Multiplier: multiplier, Max: max}
}

// ConstantBackoff returns a Backoff that always waits delay.
func ConstantBackoff(delay time.Duration) Backoff {
	return Backoff{Initial: delay, Multiplier: 1.0}
}

// DefaultIdleBackoff is used by Run while the queue is empty.
var DefaultIdleBackoff = ExponentialBackoff(5*time.Millisecond, 2.0, 500*time.Millisecond)

// maxDelay is the longest representable time.Duration.
const maxDelay = time.Duration(math.MaxInt64)

// Delay returns the wait before attempt n (0-based). Without a cap the delay
// saturates at the longest representable duration instead of overflowing.
func (b Backoff) Delay(n int) time.Duration {
	if b.Initial <= 0 {
		return 0
	}
	if n < 0 {
		n = 0
	}
	mult := b.Multiplier
	if mult <= 0 {
		mult = 2.0
	}
	d := float64(b.Initial) * math.Pow(mult, float64(n))
	if b.Max > 0 && d >= float64(b.Max) {
		return b.Max
	}
	if d >= float64(maxDelay) {
		return maxDelay
	}
	return time.Duration(d)
}
