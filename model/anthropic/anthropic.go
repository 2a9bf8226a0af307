// Package anthropic implements model.Client backed by the Anthropic
// Claude Messages API, grounded on the teacher's
// features/model/anthropic/client.go adapter: the same MessagesClient
// seam (so tests can substitute a fake), the same tool-name sanitization
// since Anthropic restricts tool names to a narrower character set than
// spec.md's tool identifiers, and the same translate-response shape,
// narrowed to the core's single Message/ToolCall types instead of the
// teacher's provider-facing Part union.
package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/agentcore/agentcore/id"
	"github.com/agentcore/agentcore/memory"
	"github.com/agentcore/agentcore/model"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter, satisfied by *sdk.MessageService or a test fake.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options configures the adapter.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Client implements model.Client against Anthropic Claude Messages.
type Client struct {
	msg    MessagesClient
	model  string
	maxTok int
	temp   float64
}

// New builds a Client from an Anthropic Messages client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("anthropic: model identifier is required")
	}
	return &Client{msg: msg, model: opts.Model, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

// NewFromAPIKey constructs a Client using the SDK's default HTTP client.
func NewFromAPIKey(apiKey, modelID string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	sdkClient := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&sdkClient.Messages, Options{Model: modelID})
}

func init() {
	model.Register("anthropic", func(cfg model.Config) (model.Client, error) {
		c, err := NewFromAPIKey(cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		c.maxTok = cfg.MaxTokens
		c.temp = cfg.Temperature
		return c, nil
	})
}

// ModelID returns the Claude model identifier this Client was built
// with, satisfying model.Identifiable.
func (c *Client) ModelID() string { return c.model }

// Chat issues a non-streaming Messages.New request.
func (c *Client) Chat(ctx context.Context, req model.Request) (model.Response, error) {
	params, nameMap, err := c.prepareRequest(req)
	if err != nil {
		return model.Response{}, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		if isRateLimited(err) {
			return model.Response{}, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return model.Response{}, fmt.Errorf("anthropic: messages.new: %w", err)
	}
	return translateResponse(msg, nameMap)
}

// Stream invokes Messages.NewStreaming.
func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	params, nameMap, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("anthropic: messages.new stream: %w", err)
	}
	return newStreamer(ctx, stream, nameMap), nil
}

func (c *Client) prepareRequest(req model.Request) (*sdk.MessageNewParams, map[string]string, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("anthropic: messages are required")
	}
	toolParams, sanToCanon, err := encodeTools(req.Tools)
	if err != nil {
		return nil, nil, err
	}
	msgs, system, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, nil, err
	}
	if c.maxTok <= 0 {
		return nil, nil, errors.New("anthropic: max tokens must be configured and positive")
	}
	params := sdk.MessageNewParams{
		MaxTokens: int64(c.maxTok),
		Messages:  msgs,
		Model:     sdk.Model(c.model),
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if len(toolParams) > 0 {
		params.Tools = toolParams
	}
	if c.temp > 0 {
		params.Temperature = sdk.Float(c.temp)
	}
	return &params, sanToCanon, nil
}

func encodeMessages(msgs []memory.Message) ([]sdk.MessageParam, string, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	var system string

	for _, m := range msgs {
		switch m.Role {
		case memory.RoleSystem:
			if system != "" {
				system += "\n"
			}
			system += m.Content
		case memory.RoleUser:
			blocks := encodeUserBlocks(m)
			if len(blocks) > 0 {
				conversation = append(conversation, sdk.NewUserMessage(blocks...))
			}
		case memory.RoleAssistant:
			blocks := encodeAssistantBlocks(m)
			if len(blocks) > 0 {
				conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
			}
		case memory.RoleTool:
			content := sdk.NewToolResultBlock(m.ToolCallID, m.Content, false)
			conversation = append(conversation, sdk.NewUserMessage(content))
		default:
			return nil, "", fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, "", errors.New("anthropic: at least one user/assistant/tool message is required")
	}
	return conversation, system, nil
}

func encodeUserBlocks(m memory.Message) []sdk.ContentBlockParamUnion {
	if m.Content == "" {
		return nil
	}
	return []sdk.ContentBlockParamUnion{sdk.NewTextBlock(m.Content)}
}

func encodeAssistantBlocks(m memory.Message) []sdk.ContentBlockParamUnion {
	var blocks []sdk.ContentBlockParamUnion
	if m.Content != "" {
		blocks = append(blocks, sdk.NewTextBlock(m.Content))
	}
	for _, call := range m.ToolCalls {
		blocks = append(blocks, sdk.NewToolUseBlock(call.ID, call.Arguments, sanitizeToolName(call.Name)))
	}
	return blocks
}

func encodeTools(defs []model.ToolDefinition) ([]sdk.ToolUnionParam, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil
	}
	params := make([]sdk.ToolUnionParam, 0, len(defs))
	sanToCanon := make(map[string]string, len(defs))

	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		sanitized := sanitizeToolName(def.Name)
		sanToCanon[sanitized] = def.Name

		schema, err := toolInputSchema(def.Parameters)
		if err != nil {
			return nil, nil, fmt.Errorf("anthropic: tool %q schema: %w", def.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, sanitized)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		params = append(params, u)
	}
	return params, sanToCanon, nil
}

func toolInputSchema(schema json.RawMessage) (sdk.ToolInputSchemaParam, error) {
	if len(schema) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(schema, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

// sanitizeToolName replaces characters Anthropic does not accept in tool
// names with '_'. spec.md tool identifiers are otherwise unconstrained.
func sanitizeToolName(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_' || r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

func translateResponse(msg *sdk.Message, sanToCanon map[string]string) (model.Response, error) {
	if msg == nil {
		return model.Response{}, errors.New("anthropic: response message is nil")
	}
	resp := model.Response{FinishReason: model.FinishStop}

	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			resp.Content += block.Text
		case "tool_use":
			name := block.Name
			if canonical, ok := sanToCanon[name]; ok {
				name = canonical
			}
			var args map[string]any
			_ = json.Unmarshal(block.Input, &args)
			resp.ToolCalls = append(resp.ToolCalls, memory.ToolCall{
				ID: toolCallID(block.ID), Name: name, Arguments: args,
			})
		}
	}
	if len(resp.ToolCalls) > 0 {
		resp.FinishReason = model.FinishToolCalls
	}
	switch msg.StopReason {
	case "max_tokens":
		resp.FinishReason = model.FinishLength
	}
	if u := msg.Usage; u.InputTokens != 0 || u.OutputTokens != 0 {
		resp.Usage = &model.Usage{InputTokens: int(u.InputTokens), OutputTokens: int(u.OutputTokens)}
	}
	return resp, nil
}

func toolCallID(id_ string) string {
	if id_ != "" {
		return id_
	}
	return id.New()
}
