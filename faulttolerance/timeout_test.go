package faulttolerance

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestOperationTimeout_RejectsNonPositiveDuration(t *testing.T) {
	if _, err := NewOperationTimeout(0); err == nil {
		t.Fatal("expected an error for non-positive duration")
	}
}

func TestOperationTimeout_CompletesWithinDeadline(t *testing.T) {
	to, err := NewOperationTimeout(time.Second)
	if err != nil {
		t.Fatalf("NewOperationTimeout: %v", err)
	}
	if err := to.do(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOperationTimeout_ExceededWhenDeadlineElapses(t *testing.T) {
	to, err := NewOperationTimeout(10 * time.Millisecond)
	if err != nil {
		t.Fatalf("NewOperationTimeout: %v", err)
	}
	err = to.do(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	var exceeded *OperationTimeoutExceeded
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected OperationTimeoutExceeded, got %v", err)
	}
}

func TestOperationTimeout_PropagatesParentCancellation(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	cancel()

	to, err := NewOperationTimeout(time.Hour)
	if err != nil {
		t.Fatalf("NewOperationTimeout: %v", err)
	}
	err = to.do(parent, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	var exceeded *OperationTimeoutExceeded
	if errors.As(err, &exceeded) {
		t.Fatalf("expected raw cancellation, not OperationTimeoutExceeded: %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
