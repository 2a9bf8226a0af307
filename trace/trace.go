// Package trace implements the hierarchical span builder described in
// spec.md §4.5: traces are built incrementally via TraceBuilder/SpanBuilder,
// delivered to fan-out listeners on completion, and carry derived
// aggregates (total token usage) computed from descendant MODEL_CALL spans.
package trace

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/agentcore/agentcore/id"
)

// Kind classifies a span by the subsystem that produced it.
type Kind string

const (
	KindAgent         Kind = "AGENT"
	KindWorkflow      Kind = "WORKFLOW"
	KindModelCall     Kind = "MODEL_CALL"
	KindToolExecution Kind = "TOOL_EXECUTION"
	KindCustom        Kind = "CUSTOM"
)

// ErrAlreadyEnded is returned by End/Fail/Span when the builder they are
// called on has already been closed. It is a TraceBuilderMisuse error per
// spec.md §7 — a programmer error, not a recoverable runtime condition.
var ErrAlreadyEnded = errors.New("trace: has already ended")

// Span is a timed, named, typed unit of work within a trace. Children are
// strictly owned by their parent; spans never share a children slice and
// never hold back-references to their parent.
type Span struct {
	ID         string
	Name       string
	Kind       Kind
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Error      string
	Children   []*Span
	Attributes map[string]string
}

// Trace is the root span plus metadata for one top-level operation (an
// agent run or a workflow run).
type Trace struct {
	ID         string
	Name       string
	StartTime  time.Time
	EndTime    time.Time
	Duration   time.Duration
	Error      string
	Spans      []*Span
	Attributes map[string]string

	TotalTokens     int
	ThumbsUpCount   int
	ThumbsDownCount int

	InputText     string
	OutputText    string
	UserID        string
	SessionID     string
	ModelID       string
	PromptName    string
	PromptVersion int
	GroupID       string
	Labels        []string
}

// Success reports whether the trace completed without error.
func (t *Trace) Success() bool { return t.Error == "" }

// Listener receives completed traces. Implementations may be invoked from
// any thread and must not block indefinitely; a panicking listener must not
// prevent other listeners from running (see Builder.deliver).
type Listener interface {
	OnTrace(trace *Trace)
}

// ListenerFunc adapts a plain function to the Listener interface.
type ListenerFunc func(*Trace)

// OnTrace implements Listener.
func (f ListenerFunc) OnTrace(trace *Trace) { f(trace) }

// Builder accumulates top-level spans for one trace and fans the finished
// Trace out to all registered listeners on End/Fail.
type Builder struct {
	mu        sync.Mutex
	id        string
	name      string
	startTime time.Time
	ended     bool
	spans     []*spanNode
	attrs     map[string]string
	listeners []Listener
}

type spanNode struct {
	mu       sync.Mutex
	id       string
	name     string
	kind     Kind
	start    time.Time
	end      time.Time
	ended    bool
	errMsg   string
	attrs    map[string]string
	children []*spanNode
}

// SpanBuilder is the open-state handle returned by Builder.Span and
// SpanBuilder.Span while the span accumulates children and attributes.
type SpanBuilder struct {
	node *spanNode
}

// Start begins a new trace, optionally fanning completion out to listeners.
// An empty listeners slice means tracing produces no side effects beyond the
// returned Trace value (spec.md: "tracing off" when no listeners configured).
func Start(name string, listeners ...Listener) *Builder {
	return &Builder{
		id:        id.New(),
		name:      name,
		startTime: time.Now(),
		attrs:     make(map[string]string),
		listeners: listeners,
	}
}

// Attribute sets a string attribute on the trace, overwriting any existing
// value for the same key.
func (b *Builder) Attribute(key, value string) *Builder {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.attrs[key] = value
	return b
}

// Span opens a new top-level child span under this trace. Returns
// ErrAlreadyEnded if the trace has already ended.
func (b *Builder) Span(name string, kind Kind) (*SpanBuilder, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ended {
		return nil, ErrAlreadyEnded
	}
	n := newSpanNode(name, kind)
	b.spans = append(b.spans, n)
	return &SpanBuilder{node: n}, nil
}

// End closes the trace successfully. It fails if any child span is still
// open or the trace has already ended.
func (b *Builder) End() (*Trace, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ended {
		return nil, ErrAlreadyEnded
	}
	if n := countOpen(b.spans); n != 0 {
		return nil, errors.New(strconv.Itoa(n) + " child span(s) still open")
	}
	now := time.Now()
	b.ended = true
	t := b.build("", now)
	b.deliver(t)
	return t, nil
}

// Fail closes the trace with an error, recursively failing any open
// children. Each child closed this way carries an error beginning with
// "Parent span '<name>' failed: ".
func (b *Builder) Fail(message string) (*Trace, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ended {
		return nil, ErrAlreadyEnded
	}
	now := time.Now()
	for _, n := range b.spans {
		failOpenChildren(n, b.name, message)
	}
	b.ended = true
	t := b.build(message, now)
	b.deliver(t)
	return t, nil
}

func (b *Builder) build(errMsg string, end time.Time) *Trace {
	spans := make([]*Span, 0, len(b.spans))
	for _, n := range b.spans {
		n.mu.Lock()
		spans = append(spans, n.toSpan())
		n.mu.Unlock()
	}
	attrs := make(map[string]string, len(b.attrs))
	for k, v := range b.attrs {
		attrs[k] = v
	}
	t := &Trace{
		ID:         b.id,
		Name:       b.name,
		StartTime:  b.startTime,
		EndTime:    end,
		Duration:   end.Sub(b.startTime),
		Error:      errMsg,
		Spans:      spans,
		Attributes: attrs,
	}
	t.TotalTokens = sumModelTokens(spans)
	return t
}

// deliver invokes every listener with the built trace. A listener observed
// to panic is isolated so the remaining listeners still run (spec.md
// property 4: every listener invoked exactly once even if some throw).
func (b *Builder) deliver(t *Trace) {
	for _, l := range b.listeners {
		invokeListener(l, t)
	}
}

func invokeListener(l Listener, t *Trace) {
	defer func() { _ = recover() }()
	l.OnTrace(t)
}

func newSpanNode(name string, kind Kind) *spanNode {
	return &spanNode{
		id:    id.New(),
		name:  name,
		kind:  kind,
		start: time.Now(),
		attrs: make(map[string]string),
	}
}

// Attribute sets a string attribute on the span, overwriting any existing
// value for the same key.
func (s *SpanBuilder) Attribute(key, value string) *SpanBuilder {
	s.node.mu.Lock()
	defer s.node.mu.Unlock()
	s.node.attrs[key] = value
	return s
}

// ID returns the span's identifier.
func (s *SpanBuilder) ID() string { return s.node.id }

// Span opens a new child span under s. Returns ErrAlreadyEnded if s has
// already ended.
func (s *SpanBuilder) Span(name string, kind Kind) (*SpanBuilder, error) {
	s.node.mu.Lock()
	defer s.node.mu.Unlock()
	if s.node.ended {
		return nil, ErrAlreadyEnded
	}
	n := newSpanNode(name, kind)
	s.node.children = append(s.node.children, n)
	return &SpanBuilder{node: n}, nil
}

// End closes the span successfully. It fails if any child is still open or
// the span has already ended.
func (s *SpanBuilder) End() (*Span, error) {
	s.node.mu.Lock()
	defer s.node.mu.Unlock()
	if s.node.ended {
		return nil, ErrAlreadyEnded
	}
	if n := countOpen(s.node.children); n != 0 {
		return nil, errors.New(strconv.Itoa(n) + " child span(s) still open")
	}
	s.node.end = time.Now()
	s.node.ended = true
	return s.node.toSpan(), nil
}

// Fail closes the span with an error, recursively failing any open children
// with an error beginning with "Parent span '<name>' failed: <message>".
func (s *SpanBuilder) Fail(message string) (*Span, error) {
	s.node.mu.Lock()
	defer s.node.mu.Unlock()
	if s.node.ended {
		return nil, ErrAlreadyEnded
	}
	for _, c := range s.node.children {
		failOpenChildren(c, s.node.name, message)
	}
	s.node.end = time.Now()
	s.node.ended = true
	s.node.errMsg = message
	return s.node.toSpan(), nil
}

func failOpenChildren(n *spanNode, parentName, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ended {
		return
	}
	for _, c := range n.children {
		failOpenChildren(c, n.name, message)
	}
	n.end = time.Now()
	n.ended = true
	n.errMsg = "Parent span '" + parentName + "' failed: " + message
}

// countOpen returns the count of direct children not yet ended.
func countOpen(nodes []*spanNode) int {
	count := 0
	for _, n := range nodes {
		n.mu.Lock()
		open := !n.ended
		n.mu.Unlock()
		if open {
			count++
		}
	}
	return count
}

func (n *spanNode) toSpan() *Span {
	children := make([]*Span, 0, len(n.children))
	for _, c := range n.children {
		c.mu.Lock()
		children = append(children, c.toSpan())
		c.mu.Unlock()
	}
	attrs := make(map[string]string, len(n.attrs))
	for k, v := range n.attrs {
		attrs[k] = v
	}
	end := n.end
	if end.IsZero() {
		end = n.start
	}
	dur := end.Sub(n.start)
	if dur < 0 {
		dur = 0
	}
	return &Span{
		ID:         n.id,
		Name:       n.name,
		Kind:       n.kind,
		StartTime:  n.start,
		EndTime:    end,
		Duration:   dur,
		Error:      n.errMsg,
		Children:   children,
		Attributes: attrs,
	}
}

// sumModelTokens computes totalTokens = Σ over MODEL_CALL descendants of
// (inputTokens + outputTokens), attributes parsed as integers defaulting to
// 0 when missing or malformed.
func sumModelTokens(spans []*Span) int {
	total := 0
	for _, s := range spans {
		if s.Kind == KindModelCall {
			total += attrInt(s, "inputTokens") + attrInt(s, "outputTokens")
		}
		total += sumModelTokens(s.Children)
	}
	return total
}

func attrInt(s *Span, key string) int {
	v, ok := s.Attributes[key]
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
