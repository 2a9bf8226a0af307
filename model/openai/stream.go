package openai

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/agentcore/agentcore/memory"
	"github.com/agentcore/agentcore/model"
)

// streamer adapts an OpenAI Chat Completions SSE stream to model.Streamer,
// following the same pump-goroutine-plus-buffered-channel shape as
// model/anthropic's streamer: OpenAI chunks identify tool calls by index
// rather than by a start/stop event pair, so tool call buffers are
// indexed by ChatCompletionChunk's tool_calls[].index instead.
type streamer struct {
	cancel context.CancelFunc
	stream *ssestream.Stream[openai.ChatCompletionChunk]

	events chan model.Event

	mu       sync.Mutex
	errSet   bool
	finalErr error
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[openai.ChatCompletionChunk], nameMap map[string]string) model.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{cancel: cancel, stream: stream, events: make(chan model.Event, 32)}
	go s.run(cctx, nameMap)
	return s
}

func (s *streamer) Recv(ctx context.Context) (model.Event, error) {
	select {
	case ev, ok := <-s.events:
		if ok {
			return ev, nil
		}
		if err := s.err(); err != nil {
			return model.Event{}, err
		}
		return model.Event{}, io.EOF
	case <-ctx.Done():
		return model.Event{}, ctx.Err()
	}
}

func (s *streamer) Close() error {
	s.cancel()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}

func (s *streamer) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errSet {
		return
	}
	s.errSet = true
	s.finalErr = err
}

func (s *streamer) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalErr
}

func (s *streamer) emit(ctx context.Context, ev model.Event) error {
	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *streamer) run(ctx context.Context, nameMap map[string]string) {
	defer close(s.events)
	defer func() {
		if s.stream != nil {
			_ = s.stream.Close()
		}
	}()

	p := &chunkAggregator{toolNames: nameMap, toolBlocks: make(map[int64]*toolBuffer)}

	for {
		select {
		case <-ctx.Done():
			s.setErr(ctx.Err())
			return
		default:
		}
		if !s.stream.Next() {
			if err := s.stream.Err(); err != nil {
				s.setErr(err)
				_ = s.emit(ctx, model.Event{Kind: model.EventError, Err: err})
			} else {
				if err := p.finish(ctx, s.emit); err != nil {
					s.setErr(err)
				}
			}
			return
		}
		if err := p.handle(ctx, s.stream.Current(), s.emit); err != nil {
			s.setErr(err)
			_ = s.emit(ctx, model.Event{Kind: model.EventError, Err: err})
			return
		}
	}
}

type toolBuffer struct {
	id        string
	name      string
	started   bool
	fragments []string
}

func (tb *toolBuffer) finalArgs() map[string]any {
	joined := strings.Join(tb.fragments, "")
	if strings.TrimSpace(joined) == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(joined), &args); err != nil {
		return map[string]any{}
	}
	return args
}

// chunkAggregator converts OpenAI ChatCompletionChunk deltas into
// model.Events, buffering tool call argument fragments by index until the
// stream ends (OpenAI chunks carry no explicit tool-call-stop marker).
type chunkAggregator struct {
	toolNames map[string]string

	toolOrder  []int64
	toolBlocks map[int64]*toolBuffer

	content      strings.Builder
	finishReason string
	usage        *model.Usage
}

func (p *chunkAggregator) handle(ctx context.Context, chunk openai.ChatCompletionChunk, emit func(context.Context, model.Event) error) error {
	if u := chunk.Usage; u.PromptTokens != 0 || u.CompletionTokens != 0 {
		p.usage = &model.Usage{InputTokens: int(u.PromptTokens), OutputTokens: int(u.CompletionTokens)}
	}
	if len(chunk.Choices) == 0 {
		return nil
	}
	choice := chunk.Choices[0]
	if choice.FinishReason != "" {
		p.finishReason = choice.FinishReason
	}
	if text := choice.Delta.Content; text != "" {
		p.content.WriteString(text)
		if err := emit(ctx, model.Event{Kind: model.EventTextDelta, TextDelta: text}); err != nil {
			return err
		}
	}
	for _, call := range choice.Delta.ToolCalls {
		if err := p.handleToolDelta(ctx, call, emit); err != nil {
			return err
		}
	}
	return nil
}

func (p *chunkAggregator) handleToolDelta(ctx context.Context, call openai.ChatCompletionChunkChoiceDeltaToolCall, emit func(context.Context, model.Event) error) error {
	tb := p.toolBlocks[call.Index]
	if tb == nil {
		tb = &toolBuffer{id: call.ID}
		if name := call.Function.Name; name != "" {
			if canonical, ok := p.toolNames[name]; ok {
				tb.name = canonical
			} else {
				tb.name = name
			}
		}
		p.toolBlocks[call.Index] = tb
		p.toolOrder = append(p.toolOrder, call.Index)
	}
	if call.ID != "" {
		tb.id = call.ID
	}
	if !tb.started {
		tb.started = true
		if err := emit(ctx, model.Event{Kind: model.EventToolCallStart, ToolCallID: tb.id, ToolCallName: tb.name}); err != nil {
			return err
		}
	}
	if args := call.Function.Arguments; args != "" {
		tb.fragments = append(tb.fragments, args)
		if err := emit(ctx, model.Event{Kind: model.EventToolCallDelta, ToolCallID: tb.id, ArgsDelta: args}); err != nil {
			return err
		}
	}
	return nil
}

func (p *chunkAggregator) finish(ctx context.Context, emit func(context.Context, model.Event) error) error {
	var toolCalls []memory.ToolCall
	for _, idx := range p.toolOrder {
		tb := p.toolBlocks[idx]
		call := memory.ToolCall{ID: tb.id, Name: tb.name, Arguments: tb.finalArgs()}
		toolCalls = append(toolCalls, call)
		if err := emit(ctx, model.Event{Kind: model.EventToolCallComplete, ToolCallID: call.ID, ToolCallName: call.Name, ToolCall: &call}); err != nil {
			return err
		}
	}

	resp := model.Response{Content: p.content.String(), ToolCalls: toolCalls, FinishReason: model.FinishStop, Usage: p.usage}
	if len(toolCalls) > 0 {
		resp.FinishReason = model.FinishToolCalls
	}
	switch p.finishReason {
	case "length":
		resp.FinishReason = model.FinishLength
	case "content_filter":
		resp.FinishReason = model.FinishContentFilter
	}
	return emit(ctx, model.Event{Kind: model.EventDone, Response: &resp})
}
