package model

import (
	"context"
	"testing"

	"github.com/agentcore/agentcore/memory"
)

func TestHasToolCalls_TrueWhenFinishReasonIsToolCallsAndCallsPresent(t *testing.T) {
	r := Response{
		FinishReason: FinishToolCalls,
		ToolCalls:    []memory.ToolCall{{ID: "1", Name: "search"}},
	}
	if !r.HasToolCalls() {
		t.Error("expected HasToolCalls to be true")
	}
}

func TestHasToolCalls_FalseWhenFinishReasonIsStop(t *testing.T) {
	r := Response{FinishReason: FinishStop, Content: "hi"}
	if r.HasToolCalls() {
		t.Error("expected HasToolCalls to be false for FinishStop")
	}
}

func TestHasToolCalls_FalseWhenToolCallsEmptyDespiteFinishReason(t *testing.T) {
	r := Response{FinishReason: FinishToolCalls}
	if r.HasToolCalls() {
		t.Error("expected HasToolCalls to be false with no tool calls")
	}
}

type stubClient struct{}

func (stubClient) Chat(context.Context, Request) (Response, error)   { return Response{}, nil }
func (stubClient) Stream(context.Context, Request) (Streamer, error) { return nil, nil }

func TestRegister_NewConstructsViaFactory(t *testing.T) {
	Register("test-provider", func(cfg Config) (Client, error) {
		if cfg.Model != "m" {
			t.Fatalf("unexpected model %q", cfg.Model)
		}
		return stubClient{}, nil
	})

	c, err := New("test-provider", Config{Model: "m"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c == nil {
		t.Fatal("expected non-nil client")
	}
}

func TestNew_UnknownProviderErrors(t *testing.T) {
	if _, err := New("does-not-exist", Config{}); err == nil {
		t.Fatal("expected error for unregistered provider")
	}
}
