// Package pulse publishes completed traces onto goa.design/pulse streams,
// grounded on the teacher's features/stream/pulse package: the same
// Client/Stream seam over a Redis-backed Pulse stream and the same
// envelope-then-marshal publish shape, narrowed from per-event runtime
// streaming to one publish per completed trace.Trace.
package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/agentcore/agentcore/trace"
)

type (
	// Client exposes the subset of Pulse APIs the trace listener needs.
	Client interface {
		// Stream returns a handle to the named Pulse stream, creating it if needed.
		Stream(name string, opts ...streamopts.Stream) (Stream, error)
		// Close releases resources owned by the client.
		Close(ctx context.Context) error
	}

	// Stream is the narrow publish surface used by Listener.
	Stream interface {
		// Add publishes an event with the given name and payload, returning the
		// Redis-assigned entry ID.
		Add(ctx context.Context, event string, payload []byte) (string, error)
	}

	// ClientOptions configures NewClient.
	ClientOptions struct {
		// Redis is the connection backing Pulse streams. Required.
		Redis *redis.Client
		// StreamMaxLen bounds entries retained per stream. Zero uses Pulse defaults.
		StreamMaxLen int
		// OperationTimeout bounds individual Add calls. Zero means no timeout.
		OperationTimeout time.Duration
	}

	client struct {
		redis   *redis.Client
		maxLen  int
		timeout time.Duration
	}

	handle struct {
		stream  *streaming.Stream
		timeout time.Duration
	}
)

// NewClient constructs a Pulse Client backed by a Redis connection.
func NewClient(opts ClientOptions) (Client, error) {
	if opts.Redis == nil {
		return nil, errors.New("pulse: redis client is required")
	}
	return &client{redis: opts.Redis, maxLen: opts.StreamMaxLen, timeout: opts.OperationTimeout}, nil
}

func (c *client) Stream(name string, opts ...streamopts.Stream) (Stream, error) {
	if name == "" {
		return nil, errors.New("pulse: stream name is required")
	}
	var streamOptions []streamopts.Stream
	if c.maxLen > 0 {
		streamOptions = append(streamOptions, streamopts.WithStreamMaxLen(c.maxLen))
	}
	streamOptions = append(streamOptions, opts...)
	str, err := streaming.NewStream(name, c.redis, streamOptions...)
	if err != nil {
		return nil, fmt.Errorf("pulse: create stream: %w", err)
	}
	return &handle{stream: str, timeout: c.timeout}, nil
}

func (c *client) Close(ctx context.Context) error { return nil }

func (h *handle) Add(ctx context.Context, event string, payload []byte) (string, error) {
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}
	return h.stream.Add(ctx, event, payload)
}

// Envelope wraps a completed trace for transmission over a Pulse stream.
type Envelope struct {
	TraceID   string       `json:"trace_id"`
	Name      string       `json:"name"`
	SessionID string       `json:"session_id,omitempty"`
	Success   bool         `json:"success"`
	Error     string       `json:"error,omitempty"`
	Trace     *trace.Trace `json:"trace"`
}

// Listener publishes completed traces as JSON envelopes onto a Pulse stream
// derived from the trace's SessionID field, defaulting to "traces" when it
// is empty. trace.Builder does not set that field (the agent records the
// session as the "session_id" attribute instead), so traces built by
// Builder go to "traces" unless Options.StreamID is set.
type Listener struct {
	client   Client
	streamID func(*trace.Trace) string
}

// Options configures a Listener.
type Options struct {
	// Client is the Pulse client used to publish envelopes. Required.
	Client Client
	// StreamID derives the target stream name from a trace. Defaults to
	// "session/<SessionID>", or "traces" if SessionID is empty.
	StreamID func(*trace.Trace) string
}

// New constructs a Listener. Panics-free misuse is avoided by returning an
// error when opts.Client is nil.
func New(opts Options) (*Listener, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse: client is required")
	}
	streamID := opts.StreamID
	if streamID == nil {
		streamID = defaultStreamID
	}
	return &Listener{client: opts.Client, streamID: streamID}, nil
}

// OnTrace implements trace.Listener. Publish errors are swallowed per
// trace.Listener's contract that listeners must not block the caller's
// control flow; callers needing delivery guarantees should wrap Client with
// their own retry/alerting.
func (l *Listener) OnTrace(tr *trace.Trace) {
	env := Envelope{
		TraceID:   tr.ID,
		Name:      tr.Name,
		SessionID: tr.SessionID,
		Success:   tr.Success(),
		Error:     tr.Error,
		Trace:     tr,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return
	}
	stream, err := l.client.Stream(l.streamID(tr))
	if err != nil {
		return
	}
	_, _ = stream.Add(context.Background(), "trace", payload)
}

func defaultStreamID(tr *trace.Trace) string {
	if tr.SessionID == "" {
		return "traces"
	}
	return fmt.Sprintf("session/%s", tr.SessionID)
}
