package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/agentcore/agentcore/agent"
	"github.com/agentcore/agentcore/model"
	"github.com/agentcore/agentcore/result"
	"github.com/agentcore/agentcore/session"
)

// Step is the sealed-shape union spec.md §4.3 names six variants of:
// AgentStep, FunctionStep, Sequential, Parallel, Condition, Loop, and
// Fallback. Go has no sealed interfaces, so the seal is by convention:
// every constructor in this file returns the Step interface, never a
// concrete type, so callers compose steps without depending on their
// internal shape.
//
// parent is the enclosing WORKFLOW-kind span, when the running Workflow
// carries listeners; it is nil otherwise. Combinators (Sequential,
// Parallel, Condition, Loop, Fallback) pass it through to their children
// unchanged so a leaf AgentStep can nest its Agent's own spans under it
// via agent.RunWithParent, per spec.md §2's "a Workflow ... producing
// spans of kind WORKFLOW that may nest AGENT, MODEL_CALL, and
// TOOL_EXECUTION spans".
type Step interface {
	Name() string
	Run(ctx context.Context, sc StepContext, parent agent.SpanParent) StepResult
}

// InputMapper builds the user message an AgentStep sends to its Agent
// from the current StepContext.
type InputMapper func(StepContext) string

type agentStep struct {
	name        string
	agent       *agent.Agent
	inputMapper InputMapper
}

// AgentStep runs ag with a user message built by inputMapper(context),
// reusing context.Session's identity when present so the nested run
// shares conversation history with the rest of the workflow.
func AgentStep(name string, ag *agent.Agent, inputMapper InputMapper) Step {
	return &agentStep{name: name, agent: ag, inputMapper: inputMapper}
}

func (s *agentStep) Name() string { return s.name }

func (s *agentStep) Run(ctx context.Context, sc StepContext, parent agent.SpanParent) StepResult {
	input := s.inputMapper(sc)

	var opts []session.Option
	if sc.Session != nil {
		opts = append(opts,
			session.WithSessionID(sc.Session.SessionID),
			session.WithUserID(sc.Session.UserID),
			session.WithPromptVars(sc.Session.PromptVars),
			session.WithMetadata(sc.Session.Metadata),
		)
	}
	sess := session.New(input, opts...)

	var res result.Result[model.Response]
	if parent != nil {
		res = s.agent.RunWithParent(ctx, sess, nil, parent)
	} else {
		res = s.agent.Run(ctx, sess, nil)
	}
	if !res.Ok() {
		return Failure(s.name, res.Err().Message)
	}
	return Success(s.name, res.Value().Content, nil)
}

// Fn is the body of a FunctionStep.
type Fn func(ctx context.Context, sc StepContext) (string, error)

type functionStep struct {
	name string
	fn   Fn
}

// FunctionStep invokes fn; a returned error becomes a failed StepResult.
func FunctionStep(name string, fn Fn) Step {
	return &functionStep{name: name, fn: fn}
}

func (s *functionStep) Name() string { return s.name }

func (s *functionStep) Run(ctx context.Context, sc StepContext, parent agent.SpanParent) StepResult {
	content, err := s.fn(ctx, sc)
	if err != nil {
		return Failure(s.name, err.Error())
	}
	return Success(s.name, content, nil)
}

type sequentialStep struct {
	name  string
	steps []Step
}

// Sequential runs steps in order, threading context.WithResult between
// them. Fail-fast: the first non-success result stops the chain and is
// returned as-is.
func Sequential(name string, steps []Step) Step {
	return &sequentialStep{name: name, steps: steps}
}

func (s *sequentialStep) Name() string { return s.name }

func (s *sequentialStep) Run(ctx context.Context, sc StepContext, parent agent.SpanParent) StepResult {
	if len(s.steps) == 0 {
		return Skip(s.name)
	}
	current := sc
	var last StepResult
	for _, step := range s.steps {
		last = step.Run(ctx, current, parent)
		current = current.WithResult(last)
		if !last.Success {
			return last
		}
	}
	return last
}

type parallelStep struct {
	name    string
	steps   []Step
	timeout time.Duration
}

// Parallel runs steps concurrently, each against the same pre-parallel
// context snapshot. On the first observed failure that failure is
// returned; on timeout, outstanding work is cancelled via ctx and a
// timeout failure is returned. On success, contents are joined by newline
// in step order (skipping nil content), while data maps are merged in
// completion order with last-writer-wins semantics, per spec.md §9's
// Open Question 1: callers must not depend on which branch's value for a
// shared key wins.
func Parallel(name string, steps []Step, timeout time.Duration) Step {
	return &parallelStep{name: name, steps: steps, timeout: timeout}
}

func (s *parallelStep) Name() string { return s.name }

func (s *parallelStep) Run(ctx context.Context, sc StepContext, parent agent.SpanParent) StepResult {
	if len(s.steps) == 0 {
		return Skip(s.name)
	}

	runCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	results := make([]StepResult, len(s.steps))
	failed := make(chan StepResult, len(s.steps))
	var mu sync.Mutex
	data := make(map[string]string)
	var wg sync.WaitGroup
	wg.Add(len(s.steps))
	for i, step := range s.steps {
		go func(i int, step Step) {
			defer wg.Done()
			r := step.Run(runCtx, sc, parent)
			results[i] = r
			if !r.Success {
				failed <- r
			}
			mu.Lock()
			for k, v := range r.Data {
				data[k] = v
			}
			mu.Unlock()
		}(i, step)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case r := <-failed:
		return r
	case <-runCtx.Done():
		if s.timeout > 0 {
			return Failure(s.name, fmt.Sprintf("Parallel execution timed out after %s", s.timeout))
		}
		return Failure(s.name, runCtx.Err().Error())
	}

	for _, r := range results {
		if !r.Success {
			return r
		}
	}

	var contents []string
	for _, r := range results {
		if r.Content != nil {
			contents = append(contents, *r.Content)
		}
	}
	content := strings.Join(contents, "\n")
	return StepResult{Name: s.name, Content: &content, Data: data, Success: true}
}

// Predicate evaluates a boolean condition against the current context. An
// error becomes a step failure rather than a panic.
type Predicate func(StepContext) (bool, error)

type conditionStep struct {
	name      string
	predicate Predicate
	ifStep    Step
	elseStep  Step
}

// Condition runs ifStep when predicate is true, elseStep when false and
// non-nil, or produces a Skip when false with no elseStep.
func Condition(name string, predicate Predicate, ifStep, elseStep Step) Step {
	return &conditionStep{name: name, predicate: predicate, ifStep: ifStep, elseStep: elseStep}
}

func (s *conditionStep) Name() string { return s.name }

func (s *conditionStep) Run(ctx context.Context, sc StepContext, parent agent.SpanParent) StepResult {
	ok, err := s.predicate(sc)
	if err != nil {
		return Failure(s.name, err.Error())
	}
	if ok {
		return s.ifStep.Run(ctx, sc, parent)
	}
	if s.elseStep != nil {
		return s.elseStep.Run(ctx, sc, parent)
	}
	return Skip(s.name)
}

type loopStep struct {
	name          string
	predicate     Predicate
	body          Step
	maxIterations int
}

// Loop runs body while predicate holds and the iteration count stays
// below maxIterations, threading context between iterations and breaking
// on the body's first failure. maxIterations must be >= 1; Loop returns
// an error at construction otherwise, per spec.md §4.3.
func Loop(name string, predicate Predicate, body Step, maxIterations int) (Step, error) {
	if maxIterations < 1 {
		return nil, fmt.Errorf("workflow: Loop %q: maxIterations must be >= 1", name)
	}
	return &loopStep{name: name, predicate: predicate, body: body, maxIterations: maxIterations}, nil
}

func (s *loopStep) Name() string { return s.name }

func (s *loopStep) Run(ctx context.Context, sc StepContext, parent agent.SpanParent) StepResult {
	current := sc
	var last StepResult
	ran := false
	for i := 0; i < s.maxIterations; i++ {
		ok, err := s.predicate(current)
		if err != nil {
			return Failure(s.name, err.Error())
		}
		if !ok {
			break
		}
		ran = true
		last = s.body.Run(ctx, current, parent)
		current = current.WithResult(last)
		if !last.Success {
			return last
		}
	}
	if !ran {
		return Skip(s.name)
	}
	return last
}

type fallbackStep struct {
	name  string
	steps []Step
}

// Fallback tries steps in order and returns the first success. If every
// step fails, the returned failure lists each child's name and error.
func Fallback(name string, steps []Step) Step {
	return &fallbackStep{name: name, steps: steps}
}

func (s *fallbackStep) Name() string { return s.name }

func (s *fallbackStep) Run(ctx context.Context, sc StepContext, parent agent.SpanParent) StepResult {
	var failures []string
	for _, step := range s.steps {
		r := step.Run(ctx, sc, parent)
		if r.Success {
			return r
		}
		failures = append(failures, fmt.Sprintf("%s: %s", step.Name(), r.Error))
	}
	return Failure(s.name, fmt.Sprintf("All fallback steps failed [%s]", strings.Join(failures, "; ")))
}
