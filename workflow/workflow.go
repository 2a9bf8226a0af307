package workflow

import (
	"context"

	"github.com/agentcore/agentcore/agent"
	"github.com/agentcore/agentcore/result"
	"github.com/agentcore/agentcore/session"
	"github.com/agentcore/agentcore/trace"
)

// Workflow runs a fixed sequence of top-level Steps against a shared
// StepContext, per spec.md §4.3's Workflow.run. Each top-level step
// contributes one WORKFLOW-kind span named "step.<stepName>"; the
// enclosing trace is named "workflow.<name>".
type Workflow struct {
	Name      string
	Steps     []Step
	Listeners []trace.Listener
}

// New constructs a Workflow. Listeners is optional; an empty slice means
// Run produces no trace.
func New(name string, steps []Step, listeners ...trace.Listener) *Workflow {
	return &Workflow{Name: name, Steps: steps, Listeners: listeners}
}

// Run executes every top-level step in order against input (and sess, if
// the caller supplies one), returning the last StepResult wrapped as a
// Result. On the first step failure the trace is failed and the error is
// returned as result.Failure.
func (w *Workflow) Run(ctx context.Context, input string, sess *session.Context) result.Result[StepResult] {
	var builder *trace.Builder
	if len(w.Listeners) > 0 {
		builder = trace.Start("workflow."+w.Name, w.Listeners...)
	}

	if len(w.Steps) == 0 {
		if builder != nil {
			_, _ = builder.End()
		}
		return result.Success(Skip(w.Name))
	}

	sc := NewStepContext(input, sess)
	var last StepResult
	for _, step := range w.Steps {
		var span *trace.SpanBuilder
		if builder != nil {
			span, _ = builder.Span("step."+step.Name(), trace.KindWorkflow)
		}

		last = step.Run(ctx, sc, spanParentOf(span))
		sc = sc.WithResult(last)

		if span != nil {
			if last.Success {
				_, _ = span.End()
			} else {
				_, _ = span.Fail(last.Error)
			}
		}

		if !last.Success {
			if builder != nil {
				_, _ = builder.Fail(last.Error)
			}
			return result.Failure[StepResult](last.Error)
		}
	}

	if builder != nil {
		_, _ = builder.End()
	}
	return result.Success(last)
}

// spanParentOf adapts span to agent.SpanParent, returning a true nil
// interface (rather than a non-nil interface wrapping a nil *SpanBuilder)
// when span is nil, so a nested agentStep can cheaply check "no parent"
// with parent == nil.
func spanParentOf(span *trace.SpanBuilder) agent.SpanParent {
	if span == nil {
		return nil
	}
	return span
}
