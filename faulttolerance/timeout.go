package faulttolerance

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// OperationTimeoutExceeded is returned when an operation does not complete
// within its configured deadline.
type OperationTimeoutExceeded struct {
	Duration time.Duration
}

// Error implements the error interface.
func (e *OperationTimeoutExceeded) Error() string {
	return fmt.Sprintf("operation timed out after %s", e.Duration)
}

// OperationTimeout enforces a deadline on a single call via context
// cancellation, the cooperative mechanism spec.md §4.4 requires ("the
// operation must observe ctx.Done() to actually stop work").
//
// Construction is validated eagerly: a non-positive duration is caught
// at NewOperationTimeout rather than deferred to the first call, per
// spec.md §6's construction-validation convention of returning a plain
// Go error rather than panicking.
type OperationTimeout struct {
	duration time.Duration
}

// NewOperationTimeout constructs an OperationTimeout. Returns an error
// if d <= 0.
func NewOperationTimeout(d time.Duration) (OperationTimeout, error) {
	if d <= 0 {
		return OperationTimeout{}, errors.New("faulttolerance: operation timeout duration must be positive")
	}
	return OperationTimeout{duration: d}, nil
}

// do runs fn bounded by the configured duration. If fn returns an error after
// its context deadline has expired, do returns OperationTimeoutExceeded rather than
// the raw context.DeadlineExceeded, so callers can distinguish a
// faulttolerance-imposed timeout from an externally supplied one.
func (t OperationTimeout) do(ctx context.Context, fn func(context.Context) error) error {
	cctx, cancel := context.WithTimeout(ctx, t.duration)
	defer cancel()

	err := fn(cctx)
	if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return &OperationTimeoutExceeded{Duration: t.duration}
	}
	return err
}
