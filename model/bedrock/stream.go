package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/agentcore/agentcore/memory"
	"github.com/agentcore/agentcore/model"
)

// streamer adapts a Bedrock ConverseStream event stream to model.Streamer,
// grounded on the teacher's features/model/bedrock/stream.go
// bedrockStreamer, narrowed to text and tool_use content blocks (no
// reasoning/citation chunk kinds, which the core's event union does not
// model).
type streamer struct {
	cancel context.CancelFunc
	stream *bedrockruntime.ConverseStreamEventStream

	events chan model.Event

	mu       sync.Mutex
	errSet   bool
	finalErr error
}

func newStreamer(ctx context.Context, stream *bedrockruntime.ConverseStreamEventStream, nameMap map[string]string) model.Streamer {
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
		if err := s.stream.Close(); err != nil {
			s.setErr(err)
		}
	}()

	p := &chunkProcessor{toolNames: nameMap, toolBlocks: make(map[int]*toolBuffer)}
	events := s.stream.Events()

	for {
		select {
		case <-ctx.Done():
			s.setErr(ctx.Err())
			return
		case event, ok := <-events:
			if !ok {
				if err := s.stream.Err(); err != nil {
					s.setErr(err)
					_ = s.emit(ctx, model.Event{Kind: model.EventError, Err: err})
				}
				return
			}
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

type chunkProcessor struct {
	toolNames map[string]string

	toolBlocks map[int]*toolBuffer

	content    strings.Builder
	toolCalls  []memory.ToolCall
	stopReason string
	usage      *model.Usage
}

func (p *chunkProcessor) handle(ctx context.Context, event any, emit func(context.Context, model.Event) error) (bool, error) {
	switch ev := event.(type) {
	case *brtypes.ConverseStreamOutputMemberContentBlockStart:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return false, err
		}
		toolUse, ok := ev.Value.Start.(*brtypes.ContentBlockStartMemberToolUse)
		if !ok {
			return false, nil
		}
		if toolUse.Value.ToolUseId == nil || *toolUse.Value.ToolUseId == "" {
			return false, fmt.Errorf("bedrock stream: tool use block missing tool_use_id")
		}
		id := *toolUse.Value.ToolUseId
		name := ""
		if toolUse.Value.Name != nil {
			name = *toolUse.Value.Name
			if canonical, ok := p.toolNames[name]; ok {
				name = canonical
			}
		}
		p.toolBlocks[idx] = &toolBuffer{id: id, name: name}
		return false, emit(ctx, model.Event{Kind: model.EventToolCallStart, ToolCallID: id, ToolCallName: name})

	case *brtypes.ConverseStreamOutputMemberContentBlockDelta:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return false, err
		}
		switch delta := ev.Value.Delta.(type) {
		case *brtypes.ContentBlockDeltaMemberText:
			if delta.Value == "" {
				return false, nil
			}
			p.content.WriteString(delta.Value)
			return false, emit(ctx, model.Event{Kind: model.EventTextDelta, TextDelta: delta.Value})
		case *brtypes.ContentBlockDeltaMemberToolUse:
			tb := p.toolBlocks[idx]
			if tb == nil || delta.Value.Input == nil {
				return false, nil
			}
			fragment := *delta.Value.Input
			tb.fragments = append(tb.fragments, fragment)
			return false, emit(ctx, model.Event{Kind: model.EventToolCallDelta, ToolCallID: tb.id, ArgsDelta: fragment})
		default:
			return false, nil
		}

	case *brtypes.ConverseStreamOutputMemberContentBlockStop:
		idx, err := contentIndex(ev.Value.ContentBlockIndex)
		if err != nil {
			return false, err
		}
		tb := p.toolBlocks[idx]
		if tb == nil {
			return false, nil
		}
		delete(p.toolBlocks, idx)
		call := memory.ToolCall{ID: tb.id, Name: tb.name, Arguments: tb.finalArgs()}
		p.toolCalls = append(p.toolCalls, call)
		return false, emit(ctx, model.Event{Kind: model.EventToolCallComplete, ToolCallID: call.ID, ToolCallName: call.Name, ToolCall: &call})

	case *brtypes.ConverseStreamOutputMemberMetadata:
		if ev.Value.Usage == nil {
			return false, nil
		}
		p.usage = &model.Usage{InputTokens: int32Value(ev.Value.Usage.InputTokens), OutputTokens: int32Value(ev.Value.Usage.OutputTokens)}
		return false, nil

	case *brtypes.ConverseStreamOutputMemberMessageStop:
		p.stopReason = string(ev.Value.StopReason)
		resp := model.Response{Content: p.content.String(), ToolCalls: p.toolCalls, FinishReason: model.FinishStop, Usage: p.usage}
		if len(resp.ToolCalls) > 0 {
			resp.FinishReason = model.FinishToolCalls
		}
		if p.stopReason == string(brtypes.StopReasonMaxTokens) {
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

func contentIndex(idx *int32) (int, error) {
	if idx == nil {
		return 0, fmt.Errorf("bedrock: content block index missing")
	}
	return int(*idx), nil
}

func int32Value(ptr *int32) int {
	if ptr == nil {
		return 0
	}
	return int(*ptr)
}
