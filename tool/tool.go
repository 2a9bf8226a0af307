// Package tool implements the Tool capability from spec.md §4.3 and §6:
// named, typed callables with JSON-schema-described parameters that the
// agent loop dispatches against. Schema compilation and payload
// validation are grounded on the teacher's
// registry/service.go:validatePayloadJSONAgainstSchema, generalized from a
// one-shot validation helper into a per-tool compiled-and-cached schema.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Result is the outcome of a tool invocation: Tool capability's
// ToolResult = success|failure + output:string + data?:any.
type Result struct {
	Success bool
	Output  string
	Data    any
}

// SuccessResult builds a successful Result.
func SuccessResult(output string, data any) Result {
	return Result{Success: true, Output: output, Data: data}
}

// FailureResult builds a failed Result. Tool executor panics and errors
// are both normalized to this shape at the dispatch boundary; they never
// propagate as exceptions per spec.md §9's "no exception-as-control-flow"
// design note.
func FailureResult(output string) Result {
	return Result{Success: false, Output: output}
}

// Executor invokes a tool's business logic given validated arguments.
type Executor func(ctx context.Context, args map[string]any) Result

// Tool is a named, typed callable surface the agent loop can dispatch
// against. Parameters is a JSON Schema document describing and
// constraining Arguments; the core emits it to the model unchanged.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
	Execute     Executor

	mu        sync.Mutex
	schema    *jsonschema.Schema
	schemaErr error
	compiled  bool
}

// New constructs a Tool. Parameters may be nil, meaning any arguments are
// accepted.
func New(name, description string, parameters json.RawMessage, exec Executor) *Tool {
	return &Tool{Name: name, Description: description, Parameters: parameters, Execute: exec}
}

func (t *Tool) compile() (*jsonschema.Schema, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.compiled {
		return t.schema, t.schemaErr
	}
	t.compiled = true

	if len(t.Parameters) == 0 {
		return nil, nil
	}
	var doc any
	if err := json.Unmarshal(t.Parameters, &doc); err != nil {
		t.schemaErr = fmt.Errorf("tool %q: unmarshal parameters schema: %w", t.Name, err)
		return nil, t.schemaErr
	}
	c := jsonschema.NewCompiler()
	resource := "tool://" + t.Name + "/parameters.json"
	if err := c.AddResource(resource, doc); err != nil {
		t.schemaErr = fmt.Errorf("tool %q: add schema resource: %w", t.Name, err)
		return nil, t.schemaErr
	}
	schema, err := c.Compile(resource)
	if err != nil {
		t.schemaErr = fmt.Errorf("tool %q: compile parameters schema: %w", t.Name, err)
		return nil, t.schemaErr
	}
	t.schema = schema
	return t.schema, nil
}

// Validate checks args against Parameters, compiling and caching the
// schema on first use. A tool with no declared parameters accepts
// anything.
func (t *Tool) Validate(args map[string]any) error {
	schema, err := t.compile()
	if err != nil {
		return err
	}
	if schema == nil {
		return nil
	}
	if err := schema.Validate(map[string]any(args)); err != nil {
		return fmt.Errorf("tool %q: invalid arguments: %w", t.Name, err)
	}
	return nil
}

// Call validates args and, if valid, invokes Execute. A validation
// failure, a nil Execute, or a panicking Execute all produce a failed
// Result rather than an error or a crash, matching spec.md §7's
// ToolExecutionFailure handling and spec.md §9's "tool exceptions must
// be caught at the step boundary": the model may recover on the next
// iteration.
func (t *Tool) Call(ctx context.Context, args map[string]any) (res Result) {
	if err := t.Validate(args); err != nil {
		return FailureResult(err.Error())
	}
	if t.Execute == nil {
		return FailureResult(fmt.Sprintf("tool %q has no executor", t.Name))
	}

	defer func() {
		if r := recover(); r != nil {
			res = FailureResult(fmt.Sprintf("tool %q panicked: %v", t.Name, r))
		}
	}()
	return t.Execute(ctx, args)
}

// Registry is the agent-facing set of tools resolvable by name. §4.1
// step 3 caches the effective set per session; Registry itself is a
// plain name-indexed lookup, safe for concurrent reads once populated.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Get returns the named tool, if registered.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every registered tool in no particular order.
func (r *Registry) List() []*Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}
