// Package openai implements model.Client backed by the OpenAI Chat
// Completions API via the official github.com/openai/openai-go SDK.
// Grounded on the teacher's features/model/openai/client.go adapter shape
// (a narrow ChatClient seam, request/response translation, tools encoded
// as JSON Schema function definitions) and on model/anthropic's use of
// the sibling stainless-generated SDK for the option/streaming
// conventions openai-go shares with it.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
	"github.com/openai/openai-go/shared"

	"github.com/agentcore/agentcore/id"
	"github.com/agentcore/agentcore/memory"
	"github.com/agentcore/agentcore/model"
)

// ChatClient captures the subset of the OpenAI SDK used by the adapter,
// satisfied by the SDK's Chat.Completions service or a test fake.
type ChatClient interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
	NewStreaming(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) *ssestream.Stream[openai.ChatCompletionChunk]
}

// Options configures the adapter.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float64
}

// Client implements model.Client against OpenAI Chat Completions.
type Client struct {
	chat   ChatClient
	model  string
	maxTok int
	temp   float64
}

// New builds a Client from a Chat Completions client.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if strings.TrimSpace(opts.Model) == "" {
		return nil, errors.New("openai: model identifier is required")
	}
	return &Client{chat: chat, model: opts.Model, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

// NewFromAPIKey constructs a Client using the SDK's default HTTP client.
func NewFromAPIKey(apiKey, modelID string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	sdkClient := openai.NewClient(option.WithAPIKey(apiKey))
	return New(&sdkClient.Chat.Completions, Options{Model: modelID})
}

func init() {
	model.Register("openai", func(cfg model.Config) (model.Client, error) {
		c, err := NewFromAPIKey(cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		c.maxTok = cfg.MaxTokens
		c.temp = cfg.Temperature
		return c, nil
	})
}

// ModelID returns the model identifier this Client was built with,
// satisfying model.Identifiable.
func (c *Client) ModelID() string { return c.model }

// Chat issues a non-streaming Chat Completions request.
func (c *Client) Chat(ctx context.Context, req model.Request) (model.Response, error) {
	params, nameMap, err := c.prepareRequest(req)
	if err != nil {
		return model.Response{}, err
	}
	resp, err := c.chat.New(ctx, *params)
	if err != nil {
		if isRateLimited(err) {
			return model.Response{}, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return model.Response{}, fmt.Errorf("openai: chat completions: %w", err)
	}
	return translateResponse(resp, nameMap)
}

// Stream invokes Chat.Completions.NewStreaming.
func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	params, nameMap, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	stream := c.chat.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("openai: chat completions stream: %w", err)
	}
	return newStreamer(ctx, stream, nameMap), nil
}

func (c *Client) prepareRequest(req model.Request) (*openai.ChatCompletionNewParams, map[string]string, error) {
	if len(req.Messages) == 0 {
		return nil, nil, errors.New("openai: messages are required")
	}
	messages, err := encodeMessages(req.Messages)
	if err != nil {
		return nil, nil, err
	}
	tools, sanToCanon, err := encodeTools(req.Tools)
	if err != nil {
		return nil, nil, err
	}
	if c.maxTok <= 0 {
		return nil, nil, errors.New("openai: max tokens must be configured and positive")
	}
	params := openai.ChatCompletionNewParams{
		Model:               c.model,
		Messages:            messages,
		MaxCompletionTokens: openai.Int(int64(c.maxTok)),
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if c.temp > 0 {
		params.Temperature = openai.Float(c.temp)
	}
	return &params, sanToCanon, nil
}

func encodeMessages(msgs []memory.Message) ([]openai.ChatCompletionMessageParamUnion, error) {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case memory.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case memory.RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case memory.RoleAssistant:
			out = append(out, encodeAssistantMessage(m))
		case memory.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("openai: at least one message is required")
	}
	return out, nil
}

func encodeAssistantMessage(m memory.Message) openai.ChatCompletionMessageParamUnion {
	msg := openai.AssistantMessage(m.Content)
	if len(m.ToolCalls) == 0 {
		return msg
	}
	calls := make([]openai.ChatCompletionMessageToolCallUnionParam, 0, len(m.ToolCalls))
	for _, call := range m.ToolCalls {
		args, _ := json.Marshal(call.Arguments)
		calls = append(calls, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: call.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      sanitizeToolName(call.Name),
					Arguments: string(args),
				},
			},
		})
	}
	msg.OfAssistant.ToolCalls = calls
	return msg
}

func encodeTools(defs []model.ToolDefinition) ([]openai.ChatCompletionToolUnionParam, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil
	}
	params := make([]openai.ChatCompletionToolUnionParam, 0, len(defs))
	sanToCanon := make(map[string]string, len(defs))
	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		sanitized := sanitizeToolName(def.Name)
		sanToCanon[sanitized] = def.Name

		var parameters map[string]any
		if len(def.Parameters) > 0 {
			if err := json.Unmarshal(def.Parameters, &parameters); err != nil {
				return nil, nil, fmt.Errorf("openai: tool %q schema: %w", def.Name, err)
			}
		}
		params = append(params, openai.ChatCompletionFunctionTool(shared.FunctionDefinitionParam{
			Name:        sanitized,
			Description: openai.String(def.Description),
			Parameters:  shared.FunctionParameters(parameters),
		}))
	}
	return params, sanToCanon, nil
}

// sanitizeToolName keeps tool identifiers within the character set OpenAI
// accepts for function names; spec.md tool identifiers are otherwise
// unconstrained.
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
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

func translateResponse(resp *openai.ChatCompletion, sanToCanon map[string]string) (model.Response, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return model.Response{}, errors.New("openai: response has no choices")
	}
	choice := resp.Choices[0]
	out := model.Response{Content: choice.Message.Content, FinishReason: model.FinishStop}

	for _, call := range choice.Message.ToolCalls {
		name := call.Function.Name
		if canonical, ok := sanToCanon[name]; ok {
			name = canonical
		}
		var args map[string]any
		_ = json.Unmarshal([]byte(call.Function.Arguments), &args)
		out.ToolCalls = append(out.ToolCalls, memory.ToolCall{ID: toolCallID(call.ID), Name: name, Arguments: args})
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = model.FinishToolCalls
	}
	switch choice.FinishReason {
	case "length":
		out.FinishReason = model.FinishLength
	case "content_filter":
		out.FinishReason = model.FinishContentFilter
	}
	if u := resp.Usage; u.PromptTokens != 0 || u.CompletionTokens != 0 {
		out.Usage = &model.Usage{InputTokens: int(u.PromptTokens), OutputTokens: int(u.CompletionTokens)}
	}
	return out, nil
}

func toolCallID(callID string) string {
	if callID != "" {
		return callID
	}
	return id.New()
}
