package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentcore/agentcore/agent"
	"github.com/agentcore/agentcore/model"
	"github.com/agentcore/agentcore/trace"
)

// stubModel replays a single scripted text response, enough to drive an
// agent.Agent through one complete turn.
type stubModel struct {
	response model.Response
}

func (m *stubModel) Chat(ctx context.Context, req model.Request) (model.Response, error) {
	return m.response, nil
}

func (m *stubModel) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	return nil, model.ErrStreamingUnsupported
}

func constStep(name, content string) Step {
	return FunctionStep(name, func(ctx context.Context, sc StepContext) (string, error) {
		return content, nil
	})
}

func failStep(name, message string) Step {
	return FunctionStep(name, func(ctx context.Context, sc StepContext) (string, error) {
		return "", errors.New(message)
	})
}

func TestSequential_ThreadsContextAndStopsOnFailure(t *testing.T) {
	seen := ""
	capture := FunctionStep("capture", func(ctx context.Context, sc StepContext) (string, error) {
		r, ok := sc.Result("first")
		if ok && r.Content != nil {
			seen = *r.Content
		}
		return "captured", nil
	})

	seq := Sequential("seq", []Step{constStep("first", "hello"), capture, failStep("boom", "nope"), constStep("never", "x")})
	res := seq.Run(context.Background(), NewStepContext("in", nil), nil)
	if res.Success {
		t.Fatal("expected failure to propagate")
	}
	if res.Name != "boom" {
		t.Errorf("expected failing step name boom, got %q", res.Name)
	}
	if seen != "hello" {
		t.Errorf("expected capture step to see prior result, got %q", seen)
	}
}

func TestParallel_JoinsContentInStepOrder(t *testing.T) {
	a := FunctionStep("a", func(ctx context.Context, sc StepContext) (string, error) { return "A", nil })
	b := FunctionStep("b", func(ctx context.Context, sc StepContext) (string, error) { return "B", nil })

	par := Parallel("par", []Step{a, b}, 0)
	res := par.Run(context.Background(), NewStepContext("in", nil), nil)
	if !res.Success {
		t.Fatalf("expected success, got error %q", res.Error)
	}
	if res.Content == nil {
		t.Fatal("expected non-nil content")
	}
	if *res.Content != "A\nB" {
		t.Errorf("unexpected merged content %q", *res.Content)
	}
}

func TestParallel_FirstFailureWins(t *testing.T) {
	ok := constStep("ok", "fine")
	bad := failStep("bad", "kaboom")

	par := Parallel("par", []Step{ok, bad}, 0)
	res := par.Run(context.Background(), NewStepContext("in", nil), nil)
	if res.Success {
		t.Fatal("expected failure")
	}
}

func TestParallel_TimesOut(t *testing.T) {
	slow := FunctionStep("slow", func(ctx context.Context, sc StepContext) (string, error) {
		select {
		case <-time.After(200 * time.Millisecond):
			return "late", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	})

	par := Parallel("par", []Step{slow}, 10*time.Millisecond)
	res := par.Run(context.Background(), NewStepContext("in", nil), nil)
	if res.Success {
		t.Fatal("expected timeout failure")
	}
}

func TestCondition_RunsIfStepWhenTrue(t *testing.T) {
	cond := Condition("cond", func(sc StepContext) (bool, error) { return true, nil }, constStep("yes", "y"), constStep("no", "n"))
	res := cond.Run(context.Background(), NewStepContext("in", nil), nil)
	if res.Content == nil || *res.Content != "y" {
		t.Errorf("expected if-step result, got %+v", res)
	}
}

func TestCondition_SkipsWhenFalseAndNoElse(t *testing.T) {
	cond := Condition("cond", func(sc StepContext) (bool, error) { return false, nil }, constStep("yes", "y"), nil)
	res := cond.Run(context.Background(), NewStepContext("in", nil), nil)
	if !res.Success || res.Content != nil {
		t.Errorf("expected a skip (success, nil content), got %+v", res)
	}
}

func TestLoop_RunsUntilPredicateFalse(t *testing.T) {
	count := 0
	body := FunctionStep("body", func(ctx context.Context, sc StepContext) (string, error) {
		count++
		return "tick", nil
	})
	loop, err := Loop("loop", func(sc StepContext) (bool, error) { return count < 3, nil }, body, 10)
	if err != nil {
		t.Fatalf("Loop: %v", err)
	}
	res := loop.Run(context.Background(), NewStepContext("in", nil), nil)
	if !res.Success {
		t.Fatalf("expected success, got %q", res.Error)
	}
	if count != 3 {
		t.Errorf("expected body to run 3 times, ran %d", count)
	}
}

func TestLoop_RejectsNonPositiveMaxIterations(t *testing.T) {
	if _, err := Loop("loop", func(StepContext) (bool, error) { return true, nil }, constStep("b", "x"), 0); err == nil {
		t.Fatal("expected an error for maxIterations < 1")
	}
}

func TestFallback_ReturnsFirstSuccess(t *testing.T) {
	fb := Fallback("fb", []Step{failStep("a", "no"), constStep("b", "yes"), constStep("c", "unreached")})
	res := fb.Run(context.Background(), NewStepContext("in", nil), nil)
	if !res.Success || res.Name != "b" {
		t.Errorf("expected step b to win, got %+v", res)
	}
}

func TestFallback_FailsWhenAllFail(t *testing.T) {
	fb := Fallback("fb", []Step{failStep("a", "no-a"), failStep("b", "no-b")})
	res := fb.Run(context.Background(), NewStepContext("in", nil), nil)
	if res.Success {
		t.Fatal("expected failure")
	}
}

func TestWorkflow_RunEmitsWorkflowSpans(t *testing.T) {
	var captured *trace.Trace
	listener := trace.ListenerFunc(func(tr *trace.Trace) { captured = tr })

	wf := New("greet", []Step{constStep("hello", "hi"), constStep("bye", "bye")}, listener)
	res := wf.Run(context.Background(), "in", nil)
	if !res.Ok() {
		t.Fatalf("Run failed: %v", res.Err())
	}
	if res.Value().Name != "bye" {
		t.Errorf("expected last step result, got %+v", res.Value())
	}
	if captured == nil || !captured.Success() {
		t.Fatal("expected a successful trace")
	}
	if len(captured.Spans) != 2 {
		t.Fatalf("expected 2 top-level WORKFLOW spans, got %d", len(captured.Spans))
	}
	for _, s := range captured.Spans {
		if s.Kind != trace.KindWorkflow {
			t.Errorf("expected WORKFLOW kind, got %v", s.Kind)
		}
	}
}

func TestWorkflow_AgentStepNestsAgentSpansUnderWorkflowSpan(t *testing.T) {
	var captured *trace.Trace
	listener := trace.ListenerFunc(func(tr *trace.Trace) { captured = tr })

	m := &stubModel{response: model.Response{Content: "hi", FinishReason: model.FinishStop}}
	ag, err := agent.New(agent.Config{Name: "assistant", Model: m, MaxIterations: 5})
	if err != nil {
		t.Fatalf("agent.New: %v", err)
	}

	step := AgentStep("ask", ag, func(sc StepContext) string { return sc.Input })
	wf := New("greet", []Step{step}, listener)

	res := wf.Run(context.Background(), "hi", nil)
	if !res.Ok() {
		t.Fatalf("Run failed: %v", res.Err())
	}

	if captured == nil || !captured.Success() {
		t.Fatal("expected a successful trace")
	}
	if len(captured.Spans) != 1 {
		t.Fatalf("expected 1 top-level WORKFLOW span, got %d", len(captured.Spans))
	}
	top := captured.Spans[0]
	if top.Kind != trace.KindWorkflow {
		t.Fatalf("expected top-level WORKFLOW span, got %v", top.Kind)
	}
	if len(top.Children) != 1 || top.Children[0].Kind != trace.KindModelCall {
		t.Fatalf("expected the agent's MODEL_CALL span nested under the WORKFLOW span, got %+v", top.Children)
	}
}

func TestWorkflow_FailsTraceOnFirstFailure(t *testing.T) {
	var captured *trace.Trace
	listener := trace.ListenerFunc(func(tr *trace.Trace) { captured = tr })

	wf := New("greet", []Step{failStep("boom", "bad")}, listener)
	res := wf.Run(context.Background(), "in", nil)
	if res.Ok() {
		t.Fatal("expected failure")
	}
	if captured == nil || captured.Success() {
		t.Fatal("expected a failed trace")
	}
}
