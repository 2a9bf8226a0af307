package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/agentcore/agentcore/trace"
)

type fakeStream struct {
	events  []string
	payload []byte
}

func (s *fakeStream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	s.events = append(s.events, event)
	s.payload = payload
	return "1-0", nil
}

type fakeClient struct {
	streams map[string]*fakeStream
	err     error
}

func newFakeClient() *fakeClient {
	return &fakeClient{streams: make(map[string]*fakeStream)}
}

func (c *fakeClient) Stream(name string, opts ...streamopts.Stream) (Stream, error) {
	if c.err != nil {
		return nil, c.err
	}
	s, ok := c.streams[name]
	if !ok {
		s = &fakeStream{}
		c.streams[name] = s
	}
	return s, nil
}

func (c *fakeClient) Close(ctx context.Context) error { return nil }

func TestOnTrace_PublishesEnvelopeToSessionStream(t *testing.T) {
	cli := newFakeClient()
	l, err := New(Options{Client: cli})
	require.NoError(t, err)

	l.OnTrace(&trace.Trace{ID: "t1", Name: "agent.assistant", SessionID: "sess-1", Error: ""})

	stream, ok := cli.streams["session/sess-1"]
	require.True(t, ok, "expected a stream keyed by session id")
	require.Len(t, stream.events, 1)
	require.Equal(t, "trace", stream.events[0])

	var env Envelope
	require.NoError(t, json.Unmarshal(stream.payload, &env))
	require.Equal(t, "t1", env.TraceID)
	require.True(t, env.Success)
}

func TestOnTrace_DefaultsToTracesStreamWithoutSessionID(t *testing.T) {
	cli := newFakeClient()
	l, err := New(Options{Client: cli})
	require.NoError(t, err)

	l.OnTrace(&trace.Trace{ID: "t2", Name: "workflow.x"})

	_, ok := cli.streams["traces"]
	require.True(t, ok, "expected the default stream name")
}

func TestOnTrace_CustomStreamID(t *testing.T) {
	cli := newFakeClient()
	l, err := New(Options{
		Client:   cli,
		StreamID: func(tr *trace.Trace) string { return "custom/" + tr.ID },
	})
	require.NoError(t, err)

	l.OnTrace(&trace.Trace{ID: "t3", Name: "workflow.x"})

	_, ok := cli.streams["custom/t3"]
	require.True(t, ok)
}

func TestOnTrace_SwallowsStreamCreationError(t *testing.T) {
	cli := newFakeClient()
	cli.err = errors.New("boom")
	l, err := New(Options{Client: cli})
	require.NoError(t, err)

	require.NotPanics(t, func() {
		l.OnTrace(&trace.Trace{ID: "t4", Name: "workflow.x"})
	})
}

func TestNew_RequiresClient(t *testing.T) {
	_, err := New(Options{})
	require.Error(t, err)
}
