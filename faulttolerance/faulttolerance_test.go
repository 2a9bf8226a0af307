package faulttolerance

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestFaultTolerance_Passthrough(t *testing.T) {
	ft := Passthrough()
	calls := 0
	err := ft.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestFaultTolerance_RetryInsideBreaker(t *testing.T) {
	breaker := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2})
	retry := RetryPolicy{MaxAttempts: 3, Backoff: Fixed(0)}
	ft := FaultTolerance{Breaker: breaker, Retry: &retry}

	calls := 0
	err := ft.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Retries happen inside one breaker-gated call, so the breaker records
	// only the sequence's final outcome (a success), not the failed first
	// attempt, even though fn ran twice.
	if breaker.State() != StateClosed {
		t.Errorf("expected breaker to remain closed, got %s", breaker.State())
	}
}

func TestFaultTolerance_TimeoutWrapsEverything(t *testing.T) {
	timeout, err := NewOperationTimeout(20 * time.Millisecond)
	if err != nil {
		t.Fatalf("NewOperationTimeout: %v", err)
	}
	retry := RetryPolicy{MaxAttempts: 10, Backoff: Fixed(5 * time.Millisecond)}
	ft := FaultTolerance{Timeout: &timeout, Retry: &retry}

	err = ft.Do(context.Background(), func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Millisecond):
			return errors.New("transient")
		}
	})

	var exceeded *OperationTimeoutExceeded
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected the outer timeout to bound the whole retry loop, got %v", err)
	}
}

func TestFaultTolerance_BreakerOpenShortCircuitsRetry(t *testing.T) {
	breaker := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, HalfOpenAfter: time.Hour})
	retry := RetryPolicy{MaxAttempts: 5, Backoff: Fixed(0)}
	ft := FaultTolerance{Breaker: breaker, Retry: &retry}

	_ = ft.Do(context.Background(), func(context.Context) error { return errors.New("boom") })
	if breaker.State() != StateOpen {
		t.Fatalf("expected breaker open after first failing call")
	}

	calls := 0
	err := ft.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})
	var open *CircuitBreakerOpen
	if !errors.As(err, &open) {
		t.Fatalf("expected CircuitBreakerOpen, got %v", err)
	}
	if calls != 0 {
		t.Errorf("expected retry to never invoke fn while breaker is open, got %d calls", calls)
	}
}
