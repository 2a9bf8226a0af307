// Package otel adapts completed trace.Trace values onto OpenTelemetry spans,
// grounded on the teacher's runtime/agent/telemetry.ClueTracer: the same
// otel.Tracer/trace.SpanStartOption seam, the same codes.Error status on
// failure, generalized from a live ctx-scoped span to a listener that
// replays an already-finished span tree after the fact, since spec.md's
// TraceListener fires once per completed trace rather than around each
// live operation.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/agentcore/agentcore/trace"
)

// Listener mirrors finished traces onto an OTEL Tracer. Each trace.Span
// becomes one OTEL span, nested to match the Children hierarchy; span and
// trace Attributes become OTEL string attributes, and a non-empty Error sets
// codes.Error status with the error message as description.
type Listener struct {
	tracer oteltrace.Tracer
}

// New constructs a Listener backed by tracer. Configure tracer's provider
// via otel.SetTracerProvider (or goa.design/clue's ConfigureOpenTelemetry)
// before traces start arriving.
func New(tracer oteltrace.Tracer) *Listener {
	return &Listener{tracer: tracer}
}

// OnTrace implements trace.Listener.
func (l *Listener) OnTrace(tr *trace.Trace) {
	ctx, root := l.tracer.Start(context.Background(), tr.Name, oteltrace.WithTimestamp(tr.StartTime))
	for k, v := range tr.Attributes {
		root.SetAttributes(attribute.String(k, v))
	}
	if tr.Error != "" {
		root.SetStatus(codes.Error, tr.Error)
	}
	for _, s := range tr.Spans {
		l.mirror(ctx, s)
	}
	root.End(oteltrace.WithTimestamp(tr.EndTime))
}

func (l *Listener) mirror(ctx context.Context, s *trace.Span) {
	childCtx, span := l.tracer.Start(ctx, s.Name, oteltrace.WithTimestamp(s.StartTime))
	span.SetAttributes(attribute.String("kind", string(s.Kind)))
	for k, v := range s.Attributes {
		span.SetAttributes(attribute.String(k, v))
	}
	if s.Error != "" {
		span.SetStatus(codes.Error, s.Error)
	}
	for _, child := range s.Children {
		l.mirror(childCtx, child)
	}
	span.End(oteltrace.WithTimestamp(s.EndTime))
}
