package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_AllowsWithinBurst(t *testing.T) {
	l := New(1, 3)
	for i := 0; i < 3; i++ {
		if !l.Allow() {
			t.Fatalf("expected burst capacity to allow call %d", i)
		}
	}
}

func TestLimiter_RejectsBeyondBurstInstantaneously(t *testing.T) {
	l := New(0.001, 1)
	if !l.Allow() {
		t.Fatal("expected first call to be allowed")
	}
	if l.Allow() {
		t.Fatal("expected second immediate call to be rejected")
	}
}

func TestLimiter_WrapBlocksUntilTokenAvailable(t *testing.T) {
	l := New(100, 1)
	wrapped := l.Wrap(func(context.Context) error { return nil })

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := wrapped(context.Background()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if time.Since(start) <= 0 {
		t.Fatal("expected some wait to accrue across calls")
	}
}

func TestLimiter_WrapRespectsContextCancellation(t *testing.T) {
	l := New(0.001, 1)
	wrapped := l.Wrap(func(context.Context) error { return nil })
	_ = wrapped(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := wrapped(ctx)
	if err == nil {
		t.Fatal("expected Exceeded error when context expires before a token is available")
	}
}
