package faulttolerance

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// RetryPolicy configures retry behavior for a suspendable call, grounded on
// the teacher's runtime/a2a/retry package but generalized to the
// predicate-based retryOn contract spec.md §4.4 requires.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first. Must
	// be >= 1.
	MaxAttempts int
	// Backoff computes the delay before each retry. A nil Backoff retries
	// without delay, the same as Fixed(0).
	Backoff Backoff
	// Jitter is a fraction in [0,1] applied symmetrically to each computed
	// backoff delay.
	Jitter float64
	// RetryOn decides whether a given error should be retried. A nil
	// RetryOn retries every error except context cancellation.
	RetryOn func(error) bool
}

// RetryExhausted is raised when every attempt permitted by a RetryPolicy has
// failed.
type RetryExhausted struct {
	Attempts  int
	LastCause error
}

// Error implements the error interface.
func (e *RetryExhausted) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempt(s): %v", e.Attempts, e.LastCause)
}

// Unwrap exposes the last cause for errors.As/errors.Is.
func (e *RetryExhausted) Unwrap() error { return e.LastCause }

// defaultRetryOn retries any error except context cancellation, matching
// spec.md's "InterruptedError ... is never retried and propagates
// immediately".
func defaultRetryOn(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// do runs fn, retrying per the policy. ctx cancellation aborts immediately
// (including during a backoff sleep) without wrapping the cancellation in
// RetryExhausted, preserving the cancellation signal for callers.
func (p RetryPolicy) do(ctx context.Context, fn func(context.Context) error) error {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	retryOn := p.RetryOn
	if retryOn == nil {
		retryOn = defaultRetryOn
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) {
			return err
		}
		if !retryOn(err) {
			return err
		}
		if attempt >= maxAttempts {
			break
		}

		delay := time.Duration(0)
		if p.Backoff != nil {
			delay = jittered(p.Backoff.Delay(attempt), p.Jitter)
		}
		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return &RetryExhausted{Attempts: maxAttempts, LastCause: lastErr}
}
