// Package faulttolerance composes retry, circuit-breaking, and timeout
// policies around a suspendable operation, grounded on the teacher's
// runtime/a2a/retry package and enriched with a circuit breaker in the shape
// of haasonsaas-nexus's internal/infra/circuit.go, adapted to the layered
// single-policy contract spec.md §4.4 describes rather than that package's
// standalone registry.
package faulttolerance

import "context"

// Operation is a unit of work that can be retried, timed out, and gated by a
// circuit breaker. It must observe ctx cancellation to cooperate with
// OperationTimeout.
type Operation func(ctx context.Context) error

// FaultTolerance composes zero or more of OperationTimeout, CircuitBreaker,
// and RetryPolicy around an Operation. The composition order is fixed per
// spec.md §4.4: operationTimeout wraps circuitBreaker wraps retry wraps the
// operation itself, so the timeout bounds the whole retry sequence, and the
// breaker is consulted once per Do and records one outcome for the whole
// retry sequence. Individual attempts inside a sequence are not gated by the
// breaker.
type FaultTolerance struct {
	Timeout *OperationTimeout
	Breaker *CircuitBreaker
	Retry   *RetryPolicy
}

// Passthrough returns a FaultTolerance with no policies configured; Do
// simply invokes the operation.
func Passthrough() FaultTolerance { return FaultTolerance{} }

// Do executes op through the configured layers, outermost to innermost:
// timeout, then circuit breaker, then retry.
func (f FaultTolerance) Do(ctx context.Context, op Operation) error {
	inner := op

	if f.Retry != nil {
		retry := *f.Retry
		inner = func(ctx context.Context) error { return retry.do(ctx, op) }
	}

	if f.Breaker != nil {
		breaker := f.Breaker
		next := inner
		inner = func(ctx context.Context) error { return breaker.do(ctx, next) }
	}

	if f.Timeout != nil {
		timeout := *f.Timeout
		next := inner
		inner = func(ctx context.Context) error { return timeout.do(ctx, next) }
	}

	return inner(ctx)
}
