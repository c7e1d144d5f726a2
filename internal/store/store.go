// Package store defines the key-value capability the queue engine is built on
// and its backends.
//
// Three structure kinds are exposed, each addressed by name:
//
//   - sequences: append at the tail, pop from the head;
//   - scored associations: member to int64 score, conditional removal that
//     reports how many members it removed, range queries by score;
//   - string maps: set, get, delete and exists by member.
//
// Every mutation is expressed as a Batch and executed with Store.Exec as one
// atomic all-or-nothing unit.
package store

import (
	"context"
	"fmt"

	"github.com/petrijr/relyq/pkg/api"
)

// Store executes batches of primitive operations atomically.
type Store interface {
	// Exec runs every op of b in order as one atomic unit and returns one
	// Reply per op. Either all effects of the batch become visible or none.
	Exec(ctx context.Context, b *Batch) (Results, error)

	// RangeByScore returns the members of assoc with min <= score <= max,
	// ordered by score. It is a read outside any batch.
	RangeByScore(ctx context.Context, assoc string, min, max int64) ([]string, error)
}

// UnavailableError wraps a failure of the backing store. It matches
// api.ErrStoreUnavailable and unwraps to the driver error.
type UnavailableError struct {
	Backend string
	Err     error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("%s store unavailable: %v", e.Backend, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, api.ErrStoreUnavailable) match.
func (e *UnavailableError) Is(target error) bool {
	return target == api.ErrStoreUnavailable
}

func unavailable(backend string, err error) error {
	if err == nil {
		return nil
	}
	return &UnavailableError{Backend: backend, Err: err}
}
