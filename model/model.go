// Package model defines the Model capability from spec.md §4.1 and §6: a
// provider-agnostic chat interface the agent loop drives through Fault
// Tolerance. Request/Response shapes and the streaming event union are
// grounded on the teacher's runtime/agent/model package, narrowed from its
// full multi-part message model down to the Message/ToolCall types
// already shared with the memory package, since spec.md §3 defines one
// Message shape for the whole core rather than a provider-facing variant.
package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/agentcore/agentcore/memory"
)

// FinishReason explains why a model call stopped producing output.
type FinishReason string

const (
	FinishStop          FinishReason = "STOP"
	FinishToolCalls     FinishReason = "TOOL_CALLS"
	FinishLength        FinishReason = "LENGTH"
	FinishContentFilter FinishReason = "CONTENT_FILTER"
	FinishError         FinishReason = "ERROR"
)

// Usage reports token consumption for a single model call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// CitationLocation identifies where cited content was found in a source.
type CitationLocation struct {
	DocumentIndex int
	Start         int
	End           int
}

// Citation links generated content back to a source passed in the request.
type Citation struct {
	Title    string
	Source   string
	Location CitationLocation
}

// ToolDefinition describes a tool exposed to the model: the name, a
// description the model uses to decide when to call it, and the JSON
// Schema parameters document, emitted unchanged per spec.md §4.3.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

// Request captures the inputs to a single model call.
type Request struct {
	Messages []memory.Message
	Tools    []ToolDefinition

	// OutputSchema, when set, is the JSON Schema the final response should
	// conform to (spec.md §4.2); the model may still emit intervening tool
	// calls first. The anthropic, openai and bedrock adapters in this
	// module do not read it, so with them the schema is not sent to the
	// provider.
	OutputSchema json.RawMessage
}

// Response is the result of a non-streaming Chat call. Parsed structured
// output is not carried here: callers combine Content with the
// structured package's parse-recovery algorithm against their target
// type.
type Response struct {
	Content      string
	ToolCalls    []memory.ToolCall
	FinishReason FinishReason
	Usage        *Usage
	Thinking     string
	Citations    []Citation
	Metadata     map[string]string
}

// HasToolCalls reports whether this response requests tool invocations,
// true for well-formed responses exactly when FinishReason is
// FinishToolCalls.
func (r Response) HasToolCalls() bool {
	return r.FinishReason == FinishToolCalls && len(r.ToolCalls) > 0
}

// EventKind classifies a streaming Event.
type EventKind string

const (
	EventTextDelta        EventKind = "TEXT_DELTA"
	EventToolCallStart    EventKind = "TOOL_CALL_START"
	EventToolCallDelta    EventKind = "TOOL_CALL_DELTA"
	EventToolCallComplete EventKind = "TOOL_CALL_COMPLETE"
	EventDone             EventKind = "DONE"
	EventError            EventKind = "ERROR"
)

// Event is one item of a streaming Chat call. It is a tagged union over
// Kind; only the fields relevant to that Kind are populated.
type Event struct {
	Kind EventKind

	TextDelta string

	ToolCallID   string
	ToolCallName string
	ArgsDelta    string
	ToolCall     *memory.ToolCall

	Response *Response
	Err      error
}

// Streamer delivers the incremental events of a streaming Chat call. It
// is a scoped resource: callers must call Close on every exit path,
// including early abandonment, to release the underlying transport.
type Streamer interface {
	Recv(ctx context.Context) (Event, error)
	Close() error
}

// Client is the Model capability the agent loop drives: chat(messages,
// tools) and a streaming variant. OutputSchema on Request asks for
// schema-conforming output when the provider supports it.
type Client interface {
	Chat(ctx context.Context, req Request) (Response, error)
	Stream(ctx context.Context, req Request) (Streamer, error)
}

// Identifiable is implemented by Client adapters that were constructed
// with a concrete provider-side model identifier (e.g. "claude-opus-4",
// "gpt-4o"). The agent loop uses it, when available, to attach the
// model id rather than the agent's own name to MODEL_CALL spans.
type Identifiable interface {
	ModelID() string
}

// ErrStreamingUnsupported is returned by Stream implementations that do
// not support streaming for the requested configuration.
var ErrStreamingUnsupported = errors.New("model: streaming not supported")

// ErrRateLimited indicates the provider rejected the request due to rate
// limiting. It is a ModelTransient failure per spec.md §7: callers raise
// it to Fault Tolerance rather than retrying directly.
var ErrRateLimited = errors.New("model: rate limited")

// UnsupportedToolChoice reports a tool choice mode a provider adapter
// cannot honor. None of the adapters in this module return it.
type UnsupportedToolChoice struct {
	Mode string
}

func (e *UnsupportedToolChoice) Error() string {
	return fmt.Sprintf("model: unsupported tool choice mode %q", e.Mode)
}
