package api

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrStoreUnavailable is matched by every error caused by the backing
	// store being unreachable or refusing to commit a batch. The queue never
	// retries these; retry policy belongs to the caller.
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrConsistencyViolation is matched by ConsistencyError.
	ErrConsistencyViolation = errors.New("queue consistency violation")

	// ErrNotImplemented is returned by queue variants that do not support
	// an operation, e.g. Sweep on a queue without a working set.
	ErrNotImplemented = errors.New("not implemented")

	// ErrEmptyKey is returned when an item without a key is enqueued.
	ErrEmptyKey = errors.New("item key must not be empty")

	// ErrInvalidArgument is returned for out-of-range arguments.
	ErrInvalidArgument = errors.New("invalid argument")
)

// ConsistencyError reports keys that were present in the pending sequence or
// the working set but had no stored value. It indicates corrupted state, not a
// benign race.
type ConsistencyError struct {
	Queue string
	Keys  []string
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("queue %q: no value stored for key(s) %s", e.Queue, strings.Join(e.Keys, ", "))
}

// Is makes errors.Is(err, ErrConsistencyViolation) match.
func (e *ConsistencyError) Is(target error) bool {
	return target == ErrConsistencyViolation
}
