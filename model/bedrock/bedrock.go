// Package bedrock implements model.Client backed by the AWS Bedrock
// Converse API. Grounded on the teacher's features/model/bedrock/client.go
// adapter: the same RuntimeClient seam, tool name sanitization with a
// hash-suffixed truncation for names over Bedrock's 64-character limit,
// and ConverseOutput/ConverseStreamOutput translation, narrowed to the
// core's single Message/ToolCall shape and dropping the teacher's
// Temporal ledger rehydration and prompt-cache checkpoint options, which
// have no equivalent capability in this core.
package bedrock

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/agentcore/agentcore/id"
	"github.com/agentcore/agentcore/memory"
	"github.com/agentcore/agentcore/model"
)

// RuntimeClient captures the subset of the Bedrock runtime client used by
// the adapter, satisfied by *bedrockruntime.Client or a test fake.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, params *bedrockruntime.ConverseStreamInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Options configures the adapter.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float32
}

// Client implements model.Client against AWS Bedrock Converse.
type Client struct {
	runtime RuntimeClient
	model   string
	maxTok  int
	temp    float32
}

// New builds a Client from a Bedrock runtime client.
func New(runtime RuntimeClient, opts Options) (*Client, error) {
	if runtime == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.Model == "" {
		return nil, errors.New("bedrock: model identifier is required")
	}
	return &Client{runtime: runtime, model: opts.Model, maxTok: opts.MaxTokens, temp: opts.Temperature}, nil
}

// NewFromDefaultConfig constructs a Client using the AWS SDK's default
// credential and region resolution chain.
func NewFromDefaultConfig(ctx context.Context, modelID string) (*Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config: %w", err)
	}
	return New(bedrockruntime.NewFromConfig(cfg), Options{Model: modelID})
}

func init() {
	model.Register("bedrock", func(cfg model.Config) (model.Client, error) {
		c, err := NewFromDefaultConfig(context.Background(), cfg.Model)
		if err != nil {
			return nil, err
		}
		c.maxTok = cfg.MaxTokens
		c.temp = float32(cfg.Temperature)
		return c, nil
	})
}

// ModelID returns the Bedrock model identifier this Client was built
// with, satisfying model.Identifiable.
func (c *Client) ModelID() string { return c.model }

// Chat issues a Converse request.
func (c *Client) Chat(ctx context.Context, req model.Request) (model.Response, error) {
	parts, err := c.prepareRequest(req)
	if err != nil {
		return model.Response{}, err
	}
	output, err := c.runtime.Converse(ctx, c.buildConverseInput(parts))
	if err != nil {
		if isRateLimited(err) {
			return model.Response{}, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return model.Response{}, fmt.Errorf("bedrock: converse: %w", err)
	}
	return translateResponse(output, parts.sanToCanon)
}

// Stream invokes ConverseStream.
func (c *Client) Stream(ctx context.Context, req model.Request) (model.Streamer, error) {
	parts, err := c.prepareRequest(req)
	if err != nil {
		return nil, err
	}
	out, err := c.runtime.ConverseStream(ctx, c.buildConverseStreamInput(parts))
	if err != nil {
		if isRateLimited(err) {
			return nil, fmt.Errorf("%w: %w", model.ErrRateLimited, err)
		}
		return nil, fmt.Errorf("bedrock: converse stream: %w", err)
	}
	stream := out.GetStream()
	if stream == nil {
		return nil, errors.New("bedrock: stream output missing event stream")
	}
	return newStreamer(ctx, stream, parts.sanToCanon), nil
}

type requestParts struct {
	messages   []brtypes.Message
	system     []brtypes.SystemContentBlock
	toolConfig *brtypes.ToolConfiguration
	sanToCanon map[string]string
}

func (c *Client) prepareRequest(req model.Request) (*requestParts, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	toolConfig, canonToSan, sanToCanon, err := encodeTools(req.Tools)
	if err != nil {
		return nil, err
	}
	messages, system, err := encodeMessages(req.Messages, canonToSan)
	if err != nil {
		return nil, err
	}
	return &requestParts{messages: messages, system: system, toolConfig: toolConfig, sanToCanon: sanToCanon}, nil
}

func (c *Client) buildConverseInput(parts *requestParts) *bedrockruntime.ConverseInput {
	input := &bedrockruntime.ConverseInput{ModelId: aws.String(c.model), Messages: parts.messages}
	if len(parts.system) > 0 {
		input.System = parts.system
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}
	if cfg := c.inferenceConfig(); cfg != nil {
		input.InferenceConfig = cfg
	}
	return input
}

func (c *Client) buildConverseStreamInput(parts *requestParts) *bedrockruntime.ConverseStreamInput {
	input := &bedrockruntime.ConverseStreamInput{ModelId: aws.String(c.model), Messages: parts.messages}
	if len(parts.system) > 0 {
		input.System = parts.system
	}
	if parts.toolConfig != nil {
		input.ToolConfig = parts.toolConfig
	}
	if cfg := c.inferenceConfig(); cfg != nil {
		input.InferenceConfig = cfg
	}
	return input
}

func (c *Client) inferenceConfig() *brtypes.InferenceConfiguration {
	var cfg brtypes.InferenceConfiguration
	if c.maxTok > 0 {
		cfg.MaxTokens = aws.Int32(int32(c.maxTok))
	}
	if c.temp > 0 {
		cfg.Temperature = aws.Float32(c.temp)
	}
	if cfg.MaxTokens == nil && cfg.Temperature == nil {
		return nil
	}
	return &cfg
}

func encodeMessages(msgs []memory.Message, nameMap map[string]string) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	conversation := make([]brtypes.Message, 0, len(msgs))
	system := make([]brtypes.SystemContentBlock, 0, len(msgs))

	for _, m := range msgs {
		switch m.Role {
		case memory.RoleSystem:
			if m.Content != "" {
				system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
			}
		case memory.RoleUser:
			if m.Content == "" {
				continue
			}
			conversation = append(conversation, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})
		case memory.RoleAssistant:
			blocks, err := encodeAssistantBlocks(m, nameMap)
			if err != nil {
				return nil, nil, err
			}
			if len(blocks) > 0 {
				conversation = append(conversation, brtypes.Message{Role: brtypes.ConversationRoleAssistant, Content: blocks})
			}
		case memory.RoleTool:
			tr := brtypes.ToolResultBlock{
				ToolUseId: aws.String(m.ToolCallID),
				Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: m.Content}},
			}
			conversation = append(conversation, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberToolResult{Value: tr}},
			})
		default:
			return nil, nil, fmt.Errorf("bedrock: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("bedrock: at least one user/assistant/tool message is required")
	}
	return conversation, system, nil
}

func encodeAssistantBlocks(m memory.Message, nameMap map[string]string) ([]brtypes.ContentBlock, error) {
	var blocks []brtypes.ContentBlock
	if m.Content != "" {
		blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: m.Content})
	}
	for _, call := range m.ToolCalls {
		sanitized, ok := nameMap[call.Name]
		if !ok {
			return nil, fmt.Errorf("bedrock: tool call references %q which is not in the current tool configuration", call.Name)
		}
		tb := brtypes.ToolUseBlock{Name: aws.String(sanitized), ToolUseId: aws.String(call.ID), Input: toDocument(call.Arguments)}
		blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: tb})
	}
	return blocks, nil
}

func encodeTools(defs []model.ToolDefinition) (*brtypes.ToolConfiguration, map[string]string, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil, nil
	}
	toolList := make([]brtypes.Tool, 0, len(defs))
	canonToSan := make(map[string]string, len(defs))
	sanToCanon := make(map[string]string, len(defs))

	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		sanitized := sanitizeToolName(def.Name)
		if prev, ok := sanToCanon[sanitized]; ok && prev != def.Name {
			return nil, nil, nil, fmt.Errorf("bedrock: tool name %q sanitizes to %q which collides with %q", def.Name, sanitized, prev)
		}
		sanToCanon[sanitized] = def.Name
		canonToSan[def.Name] = sanitized

		spec := brtypes.ToolSpecification{
			Name:        aws.String(sanitized),
			Description: aws.String(def.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: toDocumentFromSchema(def.Parameters)},
		}
		toolList = append(toolList, &brtypes.ToolMemberToolSpec{Value: spec})
	}
	if len(toolList) == 0 {
		return nil, nil, nil, nil
	}
	return &brtypes.ToolConfiguration{Tools: toolList}, canonToSan, sanToCanon, nil
}

// sanitizeToolName maps a canonical tool identifier to Bedrock's
// [a-zA-Z0-9_-]+, <=64 character constraint, truncating with a stable
// hash suffix when the mapped name would overflow.
func sanitizeToolName(in string) string {
	const maxLen = 64
	const hashLen = 8

	out := make([]rune, 0, len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_' || r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	sanitized := string(out)
	if len(sanitized) <= maxLen {
		return sanitized
	}
	sum := sha256.Sum256([]byte(in))
	suffix := hex.EncodeToString(sum[:])[:hashLen]
	prefixLen := maxLen - (1 + hashLen)
	if prefixLen < 1 {
		prefixLen = 1
	}
	return sanitized[:prefixLen] + "_" + suffix
}

func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429 {
		return true
	}
	return false
}

func translateResponse(output *bedrockruntime.ConverseOutput, sanToCanon map[string]string) (model.Response, error) {
	if output == nil {
		return model.Response{}, errors.New("bedrock: response is nil")
	}
	resp := model.Response{FinishReason: model.FinishStop}

	if msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch v := block.(type) {
			case *brtypes.ContentBlockMemberText:
				resp.Content += v.Value
			case *brtypes.ContentBlockMemberToolUse:
				name := ""
				if v.Value.Name != nil {
					name = *v.Value.Name
					if canonical, ok := sanToCanon[name]; ok {
						name = canonical
					}
				}
				var callID string
				if v.Value.ToolUseId != nil {
					callID = *v.Value.ToolUseId
				}
				var args map[string]any
				if data := decodeDocument(v.Value.Input); data != nil {
					_ = json.Unmarshal(data, &args)
				}
				resp.ToolCalls = append(resp.ToolCalls, memory.ToolCall{ID: toolCallID(callID), Name: name, Arguments: args})
			}
		}
	}
	if len(resp.ToolCalls) > 0 {
		resp.FinishReason = model.FinishToolCalls
	}
	if output.StopReason == brtypes.StopReasonMaxTokens {
		resp.FinishReason = model.FinishLength
	}
	if u := output.Usage; u != nil {
		resp.Usage = &model.Usage{InputTokens: int(ptrValue(u.InputTokens)), OutputTokens: int(ptrValue(u.OutputTokens))}
	}
	return resp, nil
}

func toolCallID(callID string) string {
	if callID != "" {
		return callID
	}
	return id.New()
}

func toDocument(v map[string]any) document.Interface {
	if v == nil {
		v = map[string]any{}
	}
	return document.NewLazyDocument(&v)
}

func toDocumentFromSchema(schema json.RawMessage) document.Interface {
	if len(schema) == 0 {
		m := map[string]any{"type": "object"}
		return document.NewLazyDocument(&m)
	}
	var decoded any
	if err := json.Unmarshal(schema, &decoded); err != nil {
		m := map[string]any{"type": "object"}
		return document.NewLazyDocument(&m)
	}
	return document.NewLazyDocument(&decoded)
}

func decodeDocument(doc document.Interface) []byte {
	if doc == nil {
		return nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil || len(data) == 0 {
		return nil
	}
	return data
}

func ptrValue[T ~int32 | ~int64](ptr *T) T {
	if ptr == nil {
		return 0
	}
	return *ptr
}
