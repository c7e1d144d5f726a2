// Package harness runs end-to-end exercises against a queue: a reliability
// run with producers, lossy consumers and a sweeper, and a dequeue latency
// benchmark.
package harness

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/petrijr/relyq/pkg/api"
)

// Queue is a queue that can also report its size.
type Queue interface {
	api.Queue
	Stats(ctx context.Context) (api.Stats, error)
}

// Factory opens a new handle on the same queue with obs attached. Every
// producer, consumer and the sweeper get their own handle, as separate
// processes would.
type Factory func(ctx context.Context, obs api.Observer) (Queue, error)

// RandomHex returns n random bytes hex encoded (2n characters).
func RandomHex(n int) string {
	buf := make([]byte, n)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

// RandomHexes returns m values produced by RandomHex(n).
func RandomHexes(n, m int) []string {
	out := make([]string, m)
	for i := range out {
		out[i] = RandomHex(n)
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
