package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/agentcore/agentcore/memory"
	"github.com/agentcore/agentcore/model"
)

type stubMessagesClient struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error

	stream *ssestream.Stream[sdk.MessageStreamEventUnion]
}

func (s *stubMessagesClient) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func (s *stubMessagesClient) NewStreaming(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion] {
	s.lastParams = body
	return s.stream
}

func textRequest(text string) model.Request {
	return model.Request{Messages: []memory.Message{{Role: memory.RoleUser, Content: text}}}
}

func TestModelID_ReturnsConfiguredModel(t *testing.T) {
	cl, err := New(&stubMessagesClient{}, Options{Model: "claude-3.5-sonnet"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := cl.ModelID(); got != "claude-3.5-sonnet" {
		t.Errorf("ModelID() = %q, want %q", got, "claude-3.5-sonnet")
	}
	var _ model.Identifiable = cl
}

func TestChat_TextOnly(t *testing.T) {
	stub := &stubMessagesClient{}
	cl, err := New(stub, Options{Model: "claude-3.5-sonnet", MaxTokens: 128})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	stub.resp = &sdk.Message{
		Content:    []sdk.ContentBlockUnion{{Type: "text", Text: "world"}},
		StopReason: sdk.StopReasonEndTurn,
		Usage:      sdk.Usage{InputTokens: 10, OutputTokens: 5},
	}

	resp, err := cl.Chat(context.Background(), textRequest("hello"))
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "world" {
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
	stub := &stubMessagesClient{}
	cl, err := New(stub, Options{Model: "claude-3.5-sonnet", MaxTokens: 128})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	req := textRequest("call tool")
	req.Tools = []model.ToolDefinition{
		{Name: "test.tool", Description: "a test tool", Parameters: json.RawMessage(`{"type":"object"}`)},
	}

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

	stub.resp = &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "tool_use", Name: sanitized, ID: "tool-1", Input: json.RawMessage(`{"x":1}`)},
		},
		StopReason: sdk.StopReasonToolUse,
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
	if call.ID != "tool-1" {
		t.Fatalf("unexpected tool id %q", call.ID)
	}
	if call.Arguments["x"].(float64) != 1 {
		t.Fatalf("unexpected arguments %+v", call.Arguments)
	}
}

func TestChat_RateLimited(t *testing.T) {
	stub := &stubMessagesClient{err: &sdk.Error{StatusCode: 429}}
	cl, err := New(stub, Options{Model: "claude-3.5-sonnet", MaxTokens: 64})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = cl.Chat(context.Background(), textRequest("hi"))
	if !errors.Is(err, model.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

func TestChat_RequiresMaxTokens(t *testing.T) {
	stub := &stubMessagesClient{}
	cl, err := New(stub, Options{Model: "claude-3.5-sonnet"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := cl.Chat(context.Background(), textRequest("hi")); err == nil {
		t.Fatalf("expected error when MaxTokens is unset")
	}
}

// testDecoder feeds a fixed sequence of events to the ssestream.Stream.
type testDecoder struct {
	events []ssestream.Event
	i      int
	err    error
}

func (d *testDecoder) Event() ssestream.Event { return d.events[d.i-1] }

func (d *testDecoder) Next() bool {
	if d.err != nil {
		return false
	}
	if d.i >= len(d.events) {
		return false
	}
	d.i++
	return true
}

func (d *testDecoder) Close() error { return nil }
func (d *testDecoder) Err() error   { return d.err }

func mustJSON(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

func unmarshalEvent(t *testing.T, raw string) sdk.MessageStreamEventUnion {
	t.Helper()
	var ev sdk.MessageStreamEventUnion
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	return ev
}

func TestStream_TextAndToolCall(t *testing.T) {
	textDelta := unmarshalEvent(t, `{
		"type": "content_block_delta",
		"index": 0,
		"delta": {"type": "text_delta", "text": "hello"}
	}`)
	toolStart := unmarshalEvent(t, `{
		"type": "content_block_start",
		"index": 1,
		"content_block": {"type": "tool_use", "id": "t1", "name": "tool_a"}
	}`)
	toolDelta := unmarshalEvent(t, `{
		"type": "content_block_delta",
		"index": 1,
		"delta": {"type": "input_json_delta", "partial_json": "{\"x\":1}"}
	}`)
	toolStop := unmarshalEvent(t, `{"type": "content_block_stop", "index": 1}`)
	msgStop := unmarshalEvent(t, `{"type": "message_stop"}`)

	events := []ssestream.Event{
		{Type: "content_block_delta", Data: mustJSON(textDelta)},
		{Type: "content_block_start", Data: mustJSON(toolStart)},
		{Type: "content_block_delta", Data: mustJSON(toolDelta)},
		{Type: "content_block_stop", Data: mustJSON(toolStop)},
		{Type: "message_stop", Data: mustJSON(msgStop)},
	}

	dec := &testDecoder{events: events}
	stream := ssestream.NewStream[sdk.MessageStreamEventUnion](dec, nil)
	nameMap := map[string]string{"tool_a": "toolset.tool"}

	s := newStreamer(context.Background(), stream, nameMap)
	defer func() { _ = s.Close() }()

	var evs []model.Event
	for {
		ev, err := s.Recv(context.Background())
		if err != nil {
			break
		}
		evs = append(evs, ev)
	}

	var sawText, sawToolComplete bool
	var final *model.Response
	for _, ev := range evs {
		switch ev.Kind {
		case model.EventTextDelta:
			sawText = true
			if ev.TextDelta != "hello" {
				t.Fatalf("unexpected text delta %q", ev.TextDelta)
			}
		case model.EventToolCallComplete:
			sawToolComplete = true
			if ev.ToolCall == nil || ev.ToolCall.Name != "toolset.tool" {
				t.Fatalf("unexpected tool call: %+v", ev.ToolCall)
			}
		case model.EventDone:
			final = ev.Response
		}
	}
	if !sawText {
		t.Fatalf("expected a text delta event")
	}
	if !sawToolComplete {
		t.Fatalf("expected a tool call complete event")
	}
	if final == nil {
		t.Fatalf("expected a done event carrying the aggregated response")
	}
	if final.Content != "hello" {
		t.Fatalf("unexpected aggregated content %q", final.Content)
	}
	if len(final.ToolCalls) != 1 || final.ToolCalls[0].Name != "toolset.tool" {
		t.Fatalf("unexpected aggregated tool calls %+v", final.ToolCalls)
	}
	if final.FinishReason != model.FinishToolCalls {
		t.Fatalf("unexpected aggregated finish reason %q", final.FinishReason)
	}
}
