package pool

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidRequest is returned when an operation is attempted on a
	// closed handle or against a pool in a state that cannot serve it.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidConfig is returned by pool constructors when a
	// configuration value is out of range.
	ErrInvalidConfig = errors.New("invalid pool configuration")
)

// TimeoutError is returned when a bounded wait for a free connection
// exceeds the configured acquisition timeout. It carries the pool's
// configuration so operators can tell an undersized pool apart from an
// unreachable backend.
type TimeoutError struct {
	Size     int
	Overflow int
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("connection pool limit of size %d overflow %d reached, connection timed out, timeout %v",
		e.Size, e.Overflow, e.Timeout)
}

// DisconnectError signals that a dead connection was detected, either by a
// checkout listener or by a failed pre-ping. The pool responds by
// invalidating the record and retrying the checkout against a fresh
// connection. If InvalidatePool is set, every connection established before
// the failure is lazily recycled as well.
type DisconnectError struct {
	Cause          error
	InvalidatePool bool
}

func (e *DisconnectError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("disconnection detected: %v", e.Cause)
	}
	return "disconnection detected"
}

func (e *DisconnectError) Unwrap() error { return e.Cause }
