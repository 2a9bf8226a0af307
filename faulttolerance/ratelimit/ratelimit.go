// Package ratelimit provides an additive outer layer that throttles calls
// before they reach a faulttolerance.FaultTolerance pipeline, built on
// golang.org/x/time/rate as SPEC_FULL.md §4.4 describes.
package ratelimit

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// Exceeded is returned when a call would exceed the configured rate and
// waiting for a reservation was declined (Wait's context expired).
type Exceeded struct {
	Cause error
}

// Error implements the error interface.
func (e *Exceeded) Error() string {
	return fmt.Sprintf("rate limit exceeded: %v", e.Cause)
}

// Unwrap exposes the underlying context error.
func (e *Exceeded) Unwrap() error { return e.Cause }

// Limiter throttles calls to a maximum rate with burst capacity, wrapping
// golang.org/x/time/rate.Limiter.
type Limiter struct {
	limiter *rate.Limiter
}

// New constructs a Limiter allowing eventsPerSecond sustained throughput
// with up to burst events admitted instantaneously.
func New(eventsPerSecond float64, burst int) *Limiter {
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(eventsPerSecond), burst)}
}

// Wrap returns an operation that blocks until a token is available (or ctx
// is done) before invoking fn.
func (l *Limiter) Wrap(fn func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := l.limiter.Wait(ctx); err != nil {
			return &Exceeded{Cause: err}
		}
		return fn(ctx)
	}
}

// Allow reports whether a call may proceed right now without blocking,
// consuming a token if so.
func (l *Limiter) Allow() bool { return l.limiter.Allow() }
