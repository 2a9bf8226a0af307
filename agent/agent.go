// Package agent implements the Agent loop from spec.md §4.1: a bounded
// step machine that alternates model invocations with tool dispatch,
// threading session-scoped conversational state through memory and
// fault tolerance. The single-step algorithm, system-prompt rendering,
// and MODEL_CALL/TOOL_EXECUTION span wiring are grounded on the shape of
// the teacher's runtime/agent/runtime package (a planner-driven
// model-then-tools turn over a persisted run), narrowed from its
// Temporal-workflow machinery down to a single in-process loop, since
// distributed/durable execution is an explicit non-goal here.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/agentcore/agentcore/faulttolerance"
	"github.com/agentcore/agentcore/log"
	"github.com/agentcore/agentcore/memory"
	"github.com/agentcore/agentcore/model"
	"github.com/agentcore/agentcore/prompt"
	"github.com/agentcore/agentcore/result"
	"github.com/agentcore/agentcore/session"
	"github.com/agentcore/agentcore/tool"
	"github.com/agentcore/agentcore/trace"
)

// DefaultSystemPromptTemplate is used when Config.SystemPromptTemplate is
// empty. It references the two variables spec.md §4.1 guarantees are
// always available: {name} and {core_memory}.
const DefaultSystemPromptTemplate = "You are {name}, a helpful assistant.\n\n{core_memory}"

// noMemoryConfigured is the sentinel core-memory rendering for agents built
// without a Memory backend.
const noMemoryConfigured = "(no memory configured)"

// Config configures an Agent. Construction-time validation (New) follows
// the teacher's "fail fast at construction" convention (see e.g.
// features/policy/basic.New, runtime/a2a/retry.Config): invalid
// configuration is a plain Go error returned once, not a panic discovered
// mid-run.
type Config struct {
	// Name is the agent's identity, substituted for {name} in the system
	// prompt. It is the model attribute on MODEL_CALL spans only when Model
	// does not implement model.Identifiable.
	Name string
	// Model is the capability the loop drives every step. Required.
	Model model.Client
	// Tools is the base tool set offered to the model every step. May be
	// nil for a tool-free agent.
	Tools *tool.Registry
	// Memory is the optional Memory capability backing core blocks,
	// history, and archival search. Nil disables all memory-aware
	// behavior (history loading, persistence, memory tools).
	Memory memory.Memory
	// IncludeMemoryTools adds the built-in core-memory/archival tools to
	// the effective tool set when Memory is configured.
	IncludeMemoryTools bool
	// SystemPromptTemplate overrides DefaultSystemPromptTemplate.
	SystemPromptTemplate string
	// FaultTolerance wraps every model call and every tool dispatch.
	// The zero value is Passthrough (no retry/breaker/timeout).
	FaultTolerance faulttolerance.FaultTolerance
	// MaxIterations bounds the step loop. Must be >= 1.
	MaxIterations int
	// Listeners receive the completed trace of each Run, when non-empty.
	Listeners []trace.Listener
	// Logger receives structured step logs. Defaults to log.NoOp.
	Logger log.Logger
}

// Agent drives a Model through a tool-augmented step loop per spec.md
// §4.1. The zero value is not usable; construct with New.
type Agent struct {
	cfg Config

	// toolSets memoizes the effective tool set per sessionId (step 3 of
	// the single-step algorithm), invalidated only by process restart,
	// mirroring the teacher's per-run tool-binding caches.
	toolSets sync.Map // sessionID string -> toolSet
}

// New validates cfg and constructs an Agent.
func New(cfg Config) (*Agent, error) {
	if strings.TrimSpace(cfg.Name) == "" {
		return nil, errors.New("agent: Name must not be empty")
	}
	if cfg.Model == nil {
		return nil, errors.New("agent: Model must not be nil")
	}
	if cfg.MaxIterations < 1 {
		return nil, errors.New("agent: MaxIterations must be >= 1")
	}
	if cfg.SystemPromptTemplate == "" {
		cfg.SystemPromptTemplate = DefaultSystemPromptTemplate
	}
	return &Agent{cfg: cfg}, nil
}

// AgentState is the immutable-per-step run state from spec.md §3: each
// step returns a new value rather than mutating the caller's.
type AgentState struct {
	SessionID    string
	Messages     []memory.Message
	LastResponse *model.Response
	Iterations   int
	IsComplete   bool
	Error        string
}

// InitialState builds the seed state for sess: system prompt render plus
// prior memory history load, per spec.md §4.1's initialState operation.
// The user message is appended last and, when Memory is configured,
// persisted under sess.SessionID so subsequent steps (and future
// sessions sharing history) observe it.
func (a *Agent) InitialState(ctx context.Context, sess session.Context) (AgentState, error) {
	systemMsg := memory.Message{Role: memory.RoleSystem, Content: a.renderSystemPrompt(sess)}
	messages := []memory.Message{systemMsg}

	if a.cfg.Memory != nil {
		messages = append(messages, a.cfg.Memory.History(sess.SessionID)...)
	}

	userMsg := memory.Message{Role: memory.RoleUser, Content: sess.UserInput}
	messages = append(messages, userMsg)
	if a.cfg.Memory != nil {
		a.cfg.Memory.AddMessage(sess.SessionID, userMsg)
	}

	return AgentState{SessionID: sess.SessionID, Messages: messages}, nil
}

// renderSystemPrompt substitutes {name} and {core_memory}, then merges
// sess.PromptVars without letting them shadow either built-in.
func (a *Agent) renderSystemPrompt(sess session.Context) string {
	coreMemory := noMemoryConfigured
	if a.cfg.Memory != nil {
		coreMemory = a.cfg.Memory.RenderCoreMemory()
	}

	vars := make(map[string]string, len(sess.PromptVars)+2)
	vars["name"] = a.cfg.Name
	vars["core_memory"] = coreMemory
	for k, v := range sess.PromptVars {
		if k == "name" || k == "core_memory" {
			continue
		}
		vars[k] = v
	}

	return prompt.Prompt{Content: a.cfg.SystemPromptTemplate}.Render(vars)
}

// Run drives state to completion starting from sess, per spec.md §4.1's
// run operation. outputSchema, when non-nil, asks the model for
// schema-conforming output every step (structured.OutputSchema.Schema());
// the caller parses Response.Content against their target type
// afterward, since Go forbids generic methods on Agent.
func (a *Agent) Run(ctx context.Context, sess session.Context, outputSchema json.RawMessage) result.Result[model.Response] {
	if len(a.cfg.Listeners) == 0 {
		return a.run(ctx, sess, outputSchema, nil, nil)
	}
	builder := trace.Start("agent."+a.cfg.Name, a.cfg.Listeners...)
	builder.Attribute("session_id", sess.SessionID)
	return a.run(ctx, sess, outputSchema, spanParentOf(builder), builder)
}

// RunWithParent behaves like Run but opens the run's MODEL_CALL and
// TOOL_EXECUTION spans as children of parent instead of starting a fresh
// top-level trace. workflow.AgentStep uses this to nest a run's spans
// under the workflow's own per-step WORKFLOW-kind span, per spec.md §2's
// "a Workflow ... producing spans of kind WORKFLOW that may nest AGENT,
// MODEL_CALL, and TOOL_EXECUTION spans".
func (a *Agent) RunWithParent(ctx context.Context, sess session.Context, outputSchema json.RawMessage, parent SpanParent) result.Result[model.Response] {
	return a.run(ctx, sess, outputSchema, parent, nil)
}

// run is shared by Run and RunWithParent. builder is non-nil only when
// this call owns the trace (started by Run) and must End/Fail it;
// RunWithParent's caller owns its own span lifecycle instead.
func (a *Agent) run(ctx context.Context, sess session.Context, outputSchema json.RawMessage, parent spanParent, builder *trace.Builder) result.Result[model.Response] {
	if strings.TrimSpace(sess.UserInput) == "" {
		return result.Failure[model.Response]("userInput must not be null or blank")
	}

	if a.cfg.Memory != nil && sess.UserID != "" {
		a.cfg.Memory.RegisterSession(sess.UserID, sess.SessionID)
	}

	state, err := a.InitialState(ctx, sess)
	if err != nil {
		return result.Failure[model.Response](err.Error(), err)
	}

	for {
		stepResult := a.step(ctx, state, outputSchema, parent)
		if !stepResult.Ok() {
			if builder != nil {
				_, _ = builder.Fail(stepResult.Err().Message)
			}
			return result.Failure[model.Response](stepResult.Err().Message, stepResult.Err().Cause)
		}
		state = stepResult.Value()
		if state.IsComplete {
			break
		}
	}

	if state.Error != "" {
		if builder != nil {
			_, _ = builder.Fail(state.Error)
		}
		return result.Failure[model.Response](state.Error)
	}

	if builder != nil {
		_, _ = builder.End()
	}

	if state.LastResponse == nil {
		return result.Failure[model.Response]("agent completed without a response")
	}
	return result.Success(*state.LastResponse)
}

// Step advances state by one model-plus-tool round, per spec.md §4.1's
// canonical single-step algorithm. It is exported for manual, external
// control; Run drives it in a loop with trace spans attached, while a
// caller using Step directly gets untraced steps.
func (a *Agent) Step(ctx context.Context, state AgentState, outputSchema json.RawMessage) result.Result[AgentState] {
	return a.step(ctx, state, outputSchema, nil)
}

func (a *Agent) step(ctx context.Context, state AgentState, outputSchema json.RawMessage, parent spanParent) result.Result[AgentState] {
	fields := []any{"session_id", state.SessionID, "iteration", state.Iterations}
	a.logger().Debug(ctx, "agent step start", fields...)

	if state.IsComplete {
		return result.Success(state)
	}

	if state.Iterations >= a.cfg.MaxIterations {
		a.logger().Warn(ctx, "agent max iterations reached", fields...)
		next := state
		next.IsComplete = true
		next.Error = fmt.Sprintf("Max iterations (%d) reached", a.cfg.MaxIterations)
		return result.Success(next)
	}

	tools := a.toolSet(state.SessionID)

	modelSpan := openSpan(parent, "model.chat", trace.KindModelCall)
	attr(modelSpan, "model", a.modelID())

	req := model.Request{Messages: state.Messages, Tools: tools.defs, OutputSchema: outputSchema}
	var resp model.Response
	callErr := a.cfg.FaultTolerance.Do(ctx, func(ctx context.Context) error {
		r, err := a.cfg.Model.Chat(ctx, req)
		if err != nil {
			return err
		}
		resp = r
		return nil
	})
	if callErr != nil {
		failSpan(modelSpan, callErr.Error())
		a.logger().Error(ctx, "agent model call failed", append(fields, "error", callErr.Error())...)
		return result.Failure[AgentState]("Agent step failed: "+callErr.Error(), callErr)
	}
	if resp.Usage != nil {
		attr(modelSpan, "inputTokens", strconv.Itoa(resp.Usage.InputTokens))
		attr(modelSpan, "outputTokens", strconv.Itoa(resp.Usage.OutputTokens))
	}
	endSpan(modelSpan)

	respMsg := memory.Message{
		Role:      memory.RoleAssistant,
		Content:   resp.Content,
		ToolCalls: resp.ToolCalls,
		Metadata:  resp.Metadata,
	}
	next := state
	next.Messages = appendMessage(state.Messages, respMsg)
	if a.cfg.Memory != nil {
		a.cfg.Memory.AddMessage(state.SessionID, respMsg)
	}

	if !resp.HasToolCalls() {
		responseCopy := resp
		next.LastResponse = &responseCopy
		next.IsComplete = true
		next.Iterations = state.Iterations + 1
		a.logger().Debug(ctx, "agent step complete", fields...)
		return result.Success(next)
	}

	for _, call := range resp.ToolCalls {
		next.Messages = append(next.Messages, a.dispatchTool(ctx, state.SessionID, call, tools, parent, fields))
	}

	next.Iterations = state.Iterations + 1
	next.IsComplete = false
	a.logger().Debug(ctx, "agent step complete", fields...)
	return result.Success(next)
}

// dispatchTool executes one tool call through fault tolerance and returns
// the TOOL message to append. An unknown tool is a synthesized failure,
// not a step failure: the model may recover on the next iteration.
func (a *Agent) dispatchTool(ctx context.Context, sessionID string, call memory.ToolCall, tools toolSet, parent spanParent, fields []any) memory.Message {
	toolSpan := openSpan(parent, "tool."+call.Name, trace.KindToolExecution)
	attr(toolSpan, "toolName", call.Name)
	attr(toolSpan, "toolCallId", call.ID)

	var toolResult tool.Result
	t, ok := tools.byName[call.Name]
	if !ok {
		a.logger().Warn(ctx, "agent unknown tool", append(append([]any{}, fields...), "tool_name", call.Name)...)
		toolResult = tool.FailureResult("Unknown tool: " + call.Name)
		failSpan(toolSpan, toolResult.Output)
	} else {
		execErr := a.cfg.FaultTolerance.Do(ctx, func(ctx context.Context) error {
			r := t.Call(ctx, call.Arguments)
			toolResult = r
			if !r.Success {
				return errors.New(r.Output)
			}
			return nil
		})
		if execErr != nil {
			failSpan(toolSpan, toolResult.Output)
		} else {
			endSpan(toolSpan)
		}
	}

	toolMsg := memory.Message{
		Role:       memory.RoleTool,
		Content:    toolResult.Output,
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}
	if a.cfg.Memory != nil {
		a.cfg.Memory.AddMessage(sessionID, toolMsg)
	}
	return toolMsg
}

func (a *Agent) logger() log.Logger { return log.Or(a.cfg.Logger) }

// modelID returns the provider-side model identifier for the MODEL_CALL
// span's "model" attribute, per spec.md §4.1 step 4 ("attach model id
// attribute"). Falls back to the agent's own Name when cfg.Model doesn't
// expose one (e.g. a test stub).
func (a *Agent) modelID() string {
	if id, ok := a.cfg.Model.(model.Identifiable); ok {
		return id.ModelID()
	}
	return a.cfg.Name
}

func appendMessage(messages []memory.Message, msg memory.Message) []memory.Message {
	next := make([]memory.Message, len(messages), len(messages)+1)
	copy(next, messages)
	return append(next, msg)
}

// toolSet is the cached, per-session effective tool set: base tools union
// memory tools bound to a sessionId, keyed by name for O(1) dispatch.
type toolSet struct {
	defs   []model.ToolDefinition
	byName map[string]*tool.Tool
}

func (a *Agent) toolSet(sessionID string) toolSet {
	if cached, ok := a.toolSets.Load(sessionID); ok {
		return cached.(toolSet)
	}

	var all []*tool.Tool
	if a.cfg.Tools != nil {
		all = append(all, a.cfg.Tools.List()...)
	}
	if a.cfg.Memory != nil && a.cfg.IncludeMemoryTools {
		all = append(all, memoryTools(sessionID, a.cfg.Memory)...)
	}

	ts := toolSet{byName: make(map[string]*tool.Tool, len(all))}
	for _, t := range all {
		ts.byName[t.Name] = t
		ts.defs = append(ts.defs, model.ToolDefinition{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	actual, _ := a.toolSets.LoadOrStore(sessionID, ts)
	return actual.(toolSet)
}

// spanParent is satisfied by both *trace.Builder and *trace.SpanBuilder,
// letting step open top-level spans on a fresh trace or nested spans
// under an enclosing WORKFLOW/AGENT span without step knowing which.
type spanParent interface {
	Span(name string, kind trace.Kind) (*trace.SpanBuilder, error)
}

// SpanParent is the exported name for spanParent, satisfied structurally
// by both *trace.Builder and *trace.SpanBuilder. workflow.AgentStep passes
// its own open step span as the parent to RunWithParent.
type SpanParent = spanParent

func spanParentOf(b *trace.Builder) spanParent {
	if b == nil {
		return nil
	}
	return b
}

func openSpan(parent spanParent, name string, kind trace.Kind) *trace.SpanBuilder {
	if parent == nil {
		return nil
	}
	sb, err := parent.Span(name, kind)
	if err != nil {
		return nil
	}
	return sb
}

func attr(sb *trace.SpanBuilder, key, value string) {
	if sb != nil {
		sb.Attribute(key, value)
	}
}

func endSpan(sb *trace.SpanBuilder) {
	if sb != nil {
		_, _ = sb.End()
	}
}

func failSpan(sb *trace.SpanBuilder, message string) {
	if sb != nil {
		_, _ = sb.Fail(message)
	}
}
