// Package workflow implements the orchestrator from spec.md §4.3:
// composable Step combinators (sequential, parallel, condition, loop,
// fallback, plus agent/function leaves) threaded over an immutable
// StepContext, with one WORKFLOW-kind span per top-level step. The
// sealed-type Step hierarchy and builder-with-copy StepContext follow the
// "sealed-type step hierarchy, builder-with-copy records" design note
// (spec.md §9), grounded on the teacher's own closed set of planner
// step kinds in runtime/agent/planner.
package workflow

import "github.com/agentcore/agentcore/session"

// StepResult is the outcome of running one Step: spec.md §4.3's
// (name, content?, data, success, error?). A skip is a success with nil
// Content and empty Data.
type StepResult struct {
	Name    string
	Content *string
	Data    map[string]string
	Success bool
	Error   string
}

// Success builds a successful StepResult carrying content and data.
func Success(name, content string, data map[string]string) StepResult {
	c := content
	return StepResult{Name: name, Content: &c, Data: data, Success: true}
}

// Failure builds a failed StepResult.
func Failure(name, message string) StepResult {
	return StepResult{Name: name, Success: false, Error: message}
}

// Skip builds a successful StepResult with no content, used when a
// Condition's predicate is false and no elseStep is configured, or a
// Loop's predicate is false on the first check.
func Skip(name string) StepResult {
	return StepResult{Name: name, Success: true}
}

type namedResult struct {
	name   string
	result StepResult
}

// StepContext is the immutable context threaded through a running
// Workflow: spec.md §4.3's (input, previousResults: ordered map,
// lastResult?, session?). WithResult returns a new StepContext; the
// receiver is never mutated, so concurrent Parallel branches can share one
// pre-parallel snapshot safely.
type StepContext struct {
	Input   string
	Session *session.Context

	results []namedResult
	last    *StepResult
}

// NewStepContext builds the context a Workflow.Run starts with.
func NewStepContext(input string, sess *session.Context) StepContext {
	return StepContext{Input: input, Session: sess}
}

// WithResult returns a new StepContext with r appended to previousResults
// (preserving insertion order) and set as LastResult.
func (c StepContext) WithResult(r StepResult) StepContext {
	next := c
	next.results = append(append([]namedResult{}, c.results...), namedResult{name: r.Name, result: r})
	last := r
	next.last = &last
	return next
}

// Result looks up a previously recorded result by step name.
func (c StepContext) Result(name string) (StepResult, bool) {
	for _, nr := range c.results {
		if nr.name == name {
			return nr.result, true
		}
	}
	return StepResult{}, false
}

// Results returns every previously recorded result, in insertion order.
func (c StepContext) Results() []StepResult {
	out := make([]StepResult, len(c.results))
	for i, nr := range c.results {
		out[i] = nr.result
	}
	return out
}

// LastResult returns the most recently recorded result, if any.
func (c StepContext) LastResult() (StepResult, bool) {
	if c.last == nil {
		return StepResult{}, false
	}
	return *c.last, true
}
