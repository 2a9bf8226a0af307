package faulttolerance

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is a CircuitBreaker lifecycle state.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// CircuitBreakerOpen is raised when a call is rejected because the breaker
// is OPEN.
type CircuitBreakerOpen struct {
	// Name identifies the breaker, for diagnostics.
	Name string
}

// Error implements the error interface.
func (e *CircuitBreakerOpen) Error() string {
	if e.Name == "" {
		return "circuit breaker is open"
	}
	return fmt.Sprintf("circuit breaker %q is open", e.Name)
}

// CircuitBreakerConfig configures a CircuitBreaker. Zero values are replaced
// with spec.md §4.4's documented defaults.
type CircuitBreakerConfig struct {
	// Name identifies the breaker for diagnostics; optional.
	Name string
	// FailureThreshold is the number of consecutive failures in CLOSED that
	// trips the breaker OPEN. Default 5.
	FailureThreshold int
	// SuccessThreshold is the number of consecutive successes in HALF_OPEN
	// required to close the breaker. Default 1.
	SuccessThreshold int
	// HalfOpenAfter is how long OPEN is held before the next call is allowed
	// through as a HALF_OPEN probe. Default 30s.
	HalfOpenAfter time.Duration
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 1
	}
	if c.HalfOpenAfter <= 0 {
		c.HalfOpenAfter = 30 * time.Second
	}
	return c
}

// CircuitBreaker implements the three-state breaker from spec.md §4.4.
// Transitions and counters are guarded by a mutex rather than lock-free CAS
// because the lazy OPEN -> HALF_OPEN transition must read the trip time and
// conditionally mutate state/counters as a single atomic unit (see
// DESIGN.md for why this rules out a pure compare-and-swap approach).
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	trippedAt time.Time
}

// NewCircuitBreaker constructs a CircuitBreaker in the CLOSED state.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg.withDefaults(), state: StateClosed}
}

// State returns the current state, applying the lazy OPEN -> HALF_OPEN
// transition if halfOpenAfter has elapsed since the trip.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

func (cb *CircuitBreaker) stateLocked() State {
	if cb.state == StateOpen && time.Since(cb.trippedAt) >= cb.cfg.HalfOpenAfter {
		cb.state = StateHalfOpen
		cb.successes = 0
	}
	return cb.state
}

// Reset forcibly returns the breaker to CLOSED with zero counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
}

// allow checks whether a call may proceed, returning CircuitBreakerOpen when
// the breaker is (still) OPEN.
func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.stateLocked() == StateOpen {
		return &CircuitBreakerOpen{Name: cb.cfg.Name}
	}
	return nil
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.stateLocked() {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
		}
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.stateLocked() {
	case StateClosed:
		cb.failures++
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.trip()
		}
	case StateHalfOpen:
		cb.trip()
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = StateOpen
	cb.trippedAt = time.Now()
	cb.failures = 0
	cb.successes = 0
}

// do executes fn if the breaker allows it, recording the outcome.
func (cb *CircuitBreaker) do(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		cb.recordFailure()
		return err
	}
	if err == nil {
		cb.recordSuccess()
	}
	return err
}
