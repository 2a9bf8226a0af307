package faulttolerance

import (
	"testing"
	"time"
)

func TestFixedBackoff_ConstantDelay(t *testing.T) {
	b := Fixed(50 * time.Millisecond)
	for attempt := 1; attempt <= 5; attempt++ {
		if got := b.Delay(attempt); got != 50*time.Millisecond {
			t.Errorf("attempt %d: expected 50ms, got %s", attempt, got)
		}
	}
}

func TestFixedBackoff_NegativeDelayClampedToZero(t *testing.T) {
	b := Fixed(-time.Second)
	if got := b.Delay(1); got != 0 {
		t.Errorf("expected 0, got %s", got)
	}
}

func TestExponentialBackoff_Growth(t *testing.T) {
	b := Exponential(time.Second, 2, time.Hour)
	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
	}
	for _, c := range cases {
		if got := b.Delay(c.attempt); got != c.want {
			t.Errorf("attempt %d: expected %s, got %s", c.attempt, c.want, got)
		}
	}
}

func TestExponentialBackoff_CapsAtMaxDelay(t *testing.T) {
	b := Exponential(time.Second, 10, 5*time.Second)
	if got := b.Delay(10); got != 5*time.Second {
		t.Errorf("expected cap at 5s, got %s", got)
	}
}

func TestExponentialBackoff_DefaultMaxDelay(t *testing.T) {
	b := Exponential(time.Minute, 10, 0)
	if b.MaxDelay != defaultMaxDelay {
		t.Errorf("expected default max delay %s, got %s", defaultMaxDelay, b.MaxDelay)
	}
}

func TestJittered_ZeroJitterIsIdentity(t *testing.T) {
	if got := jittered(100*time.Millisecond, 0); got != 100*time.Millisecond {
		t.Errorf("expected unchanged delay, got %s", got)
	}
}

func TestJittered_NeverNegative(t *testing.T) {
	for i := 0; i < 1000; i++ {
		if got := jittered(10*time.Millisecond, 1.0); got < 0 {
			t.Fatalf("jittered delay went negative: %s", got)
		}
	}
}
