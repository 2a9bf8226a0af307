package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/agentcore/agentcore/memory"
	"github.com/agentcore/agentcore/model"
)

// streamer adapts an Anthropic Messages SSE stream to model.Streamer,
// grounded on the teacher's features/model/anthropic/stream.go
// anthropicStreamer: a pump goroutine converts SSE events into a buffered
// channel of model.Events, and a final aggregated model.Response is
// delivered with the EventDone event rather than being reconstructed by
// the caller from deltas.
type streamer struct {
	cancel context.CancelFunc
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]

	events chan model.Event

	mu       sync.Mutex
	errSet   bool
	finalErr error
}

func newStreamer(ctx context.Context, stream *ssestream.Stream[sdk.MessageStreamEventUnion], nameMap map[string]string) model.Streamer {
	cctx, cancel := context.WithCancel(ctx)
	s := &streamer{
		cancel: cancel,
		stream: stream,
		events: make(chan model.Event, 32),
	}
	go s.run(cctx, nameMap)
	return s
}

// Recv returns the next Event, or io.EOF once the stream has delivered its
// EventDone and drained. After an EventError, or when the stream was
// cancelled, it returns that error instead of io.EOF.
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

	p := &chunkProcessor{toolNames: nameMap, toolBlocks: make(map[int]*toolBuffer)}

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
			}
			return
		}
		event := s.stream.Current()
		done, err := p.handle(ctx, event, s.emit)
		if err != nil {
			s.setErr(err)
			_ = s.emit(ctx, model.Event{Kind: model.EventError, Err: err})
			return
		}
		if done {
			return
		}
	}
}

// chunkProcessor converts Anthropic streaming events into model.Events,
// accumulating enough state to emit a final aggregated Response with
// EventDone. Mirrors the teacher's anthropicChunkProcessor, narrowed to
// the core's text/tool-call event union (no thinking/citation chunk
// kinds, since model.EventKind does not carry them).
type chunkProcessor struct {
	toolNames map[string]string

	toolBlocks map[int]*toolBuffer

	content    strings.Builder
	toolCalls  []memory.ToolCall
	stopReason string
	usage      *model.Usage
}

type toolBuffer struct {
	id        string
	name      string
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

func (p *chunkProcessor) handle(ctx context.Context, event sdk.MessageStreamEventUnion, emit func(context.Context, model.Event) error) (bool, error) {
	switch ev := event.AsAny().(type) {
	case sdk.ContentBlockStartEvent:
		idx := int(ev.Index)
		if toolUse, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			if toolUse.ID == "" {
				return false, errors.New("anthropic stream: tool use block missing id")
			}
			name := toolUse.Name
			if canonical, ok := p.toolNames[name]; ok {
				name = canonical
			}
			p.toolBlocks[idx] = &toolBuffer{id: toolUse.ID, name: name}
			return false, emit(ctx, model.Event{Kind: model.EventToolCallStart, ToolCallID: toolUse.ID, ToolCallName: name})
		}
		return false, nil

	case sdk.ContentBlockDeltaEvent:
		idx := int(ev.Index)
		switch delta := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if delta.Text == "" {
				return false, nil
			}
			p.content.WriteString(delta.Text)
			return false, emit(ctx, model.Event{Kind: model.EventTextDelta, TextDelta: delta.Text})
		case sdk.InputJSONDelta:
			if delta.PartialJSON == "" {
				return false, nil
			}
			tb := p.toolBlocks[idx]
			if tb == nil {
				return false, nil
			}
			tb.fragments = append(tb.fragments, delta.PartialJSON)
			return false, emit(ctx, model.Event{Kind: model.EventToolCallDelta, ToolCallID: tb.id, ArgsDelta: delta.PartialJSON})
		default:
			return false, nil
		}

	case sdk.ContentBlockStopEvent:
		idx := int(ev.Index)
		tb := p.toolBlocks[idx]
		if tb == nil {
			return false, nil
		}
		delete(p.toolBlocks, idx)
		call := memory.ToolCall{ID: toolCallID(tb.id), Name: tb.name, Arguments: tb.finalArgs()}
		p.toolCalls = append(p.toolCalls, call)
		return false, emit(ctx, model.Event{
			Kind: model.EventToolCallComplete, ToolCallID: call.ID, ToolCallName: call.Name, ToolCall: &call,
		})

	case sdk.MessageDeltaEvent:
		p.stopReason = string(ev.Delta.StopReason)
		if u := ev.Usage; u.InputTokens != 0 || u.OutputTokens != 0 {
			p.usage = &model.Usage{InputTokens: int(u.InputTokens), OutputTokens: int(u.OutputTokens)}
		}
		return false, nil

	case sdk.MessageStopEvent:
		resp := model.Response{Content: p.content.String(), ToolCalls: p.toolCalls, FinishReason: model.FinishStop, Usage: p.usage}
		if len(resp.ToolCalls) > 0 {
			resp.FinishReason = model.FinishToolCalls
		}
		if p.stopReason == "max_tokens" {
			resp.FinishReason = model.FinishLength
		}
		if err := emit(ctx, model.Event{Kind: model.EventDone, Response: &resp}); err != nil {
			return true, err
		}
		return true, nil

	default:
		return false, nil
	}
}
