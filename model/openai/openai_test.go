package openai

import (
	"context"
	"errors"
	"testing"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/agentcore/agentcore/memory"
	"github.com/agentcore/agentcore/model"
)

type stubChatClient struct {
	lastParams openai.ChatCompletionNewParams
	resp       *openai.ChatCompletion
	err        error

	stream *ssestream.Stream[openai.ChatCompletionChunk]
}

func (s *stubChatClient) New(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) (*openai.ChatCompletion, error) {
	s.lastParams = body
	return s.resp, s.err
}

func (s *stubChatClient) NewStreaming(_ context.Context, body openai.ChatCompletionNewParams, _ ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk] {
	s.lastParams = body
	return s.stream
}

func textRequest(text string) model.Request {
	return model.Request{Messages: []memory.Message{{Role: memory.RoleUser, Content: text}}}
}

func TestModelID_ReturnsConfiguredModel(t *testing.T) {
	cl, err := New(&stubChatClient{}, Options{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := cl.ModelID(); got != "gpt-4o" {
		t.Errorf("ModelID() = %q, want %q", got, "gpt-4o")
	}
	var _ model.Identifiable = cl
}

func TestChat_TextOnly(t *testing.T) {
	stub := &stubChatClient{}
	cl, err := New(stub, Options{Model: "gpt-4o", MaxTokens: 128})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	stub.resp = &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{FinishReason: "stop", Message: openai.ChatCompletionMessage{Content: "hi there"}},
		},
		Usage: openai.CompletionUsage{PromptTokens: 10, CompletionTokens: 5},
	}

	resp, err := cl.Chat(context.Background(), textRequest("ping"))
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "hi there" {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if resp.FinishReason != model.FinishStop {
		t.Fatalf("unexpected finish reason %q", resp.FinishReason)
	}
	if resp.Usage == nil || resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 5 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
}

func TestChat_ToolUse(t *testing.T) {
	stub := &stubChatClient{}
	cl, err := New(stub, Options{Model: "gpt-4o", MaxTokens: 128})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := textRequest("call tool")
	req.Tools = []model.ToolDefinition{{Name: "test.tool", Description: "a test tool"}}

	_, nameMap, err := cl.prepareRequest(req)
	if err != nil {
		t.Fatalf("prepareRequest: %v", err)
	}
	var sanitized string
	for san, canon := range nameMap {
		if canon == "test.tool" {
			sanitized = san
		}
	}
	if sanitized == "" {
		t.Fatalf("expected a sanitized name for test.tool")
	}

	stub.resp = &openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{
				FinishReason: "tool_calls",
				Message: openai.ChatCompletionMessage{
					ToolCalls: []openai.ChatCompletionMessageToolCallUnion{
						{
							ID: "call-1",
							Function: openai.ChatCompletionMessageToolCallFunction{
								Name:      sanitized,
								Arguments: `{"x":1}`,
							},
						},
					},
				},
			},
		},
	}

	resp, err := cl.Chat(context.Background(), req)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.FinishReason != model.FinishToolCalls {
		t.Fatalf("unexpected finish reason %q", resp.FinishReason)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(resp.ToolCalls))
	}
	call := resp.ToolCalls[0]
	if call.Name != "test.tool" {
		t.Fatalf("unexpected tool name %q", call.Name)
	}
	if call.ID != "call-1" {
		t.Fatalf("unexpected tool id %q", call.ID)
	}
	if call.Arguments["x"].(float64) != 1 {
		t.Fatalf("unexpected arguments %+v", call.Arguments)
	}
}

func TestChat_RateLimited(t *testing.T) {
	stub := &stubChatClient{err: &openai.Error{StatusCode: 429}}
	cl, err := New(stub, Options{Model: "gpt-4o", MaxTokens: 64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = cl.Chat(context.Background(), textRequest("hi"))
	if !errors.Is(err, model.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestChat_RequiresMaxTokens(t *testing.T) {
	stub := &stubChatClient{}
	cl, err := New(stub, Options{Model: "gpt-4o"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := cl.Chat(context.Background(), textRequest("hi")); err == nil {
		t.Fatalf("expected error when MaxTokens is unset")
	}
}

func TestSanitizeToolName_ReplacesDisallowedCharacters(t *testing.T) {
	if got := sanitizeToolName("weather.lookup"); got != "weather_lookup" {
		t.Fatalf("unexpected sanitized name %q", got)
	}
}
