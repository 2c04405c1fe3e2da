package pulse

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odai-labs/bridge/event"
)

type fakeStream struct {
	events   []string
	payloads [][]byte
}

func (s *fakeStream) Add(_ context.Context, event string, payload []byte) (string, error) {
	s.events = append(s.events, event)
	s.payloads = append(s.payloads, payload)
	return "1-0", nil
}

type fakeClient struct {
	streams map[string]*fakeStream
}

func (c *fakeClient) Stream(name string) (Stream, error) {
	if c.streams == nil {
		c.streams = make(map[string]*fakeStream)
	}
	s, ok := c.streams[name]
	if !ok {
		s = &fakeStream{}
		c.streams[name] = s
	}
	return s, nil
}

func (c *fakeClient) Close(context.Context) error { return nil }

func TestMirrorPublishesEnvelope(t *testing.T) {
	client := &fakeClient{}
	m, err := NewMirror(MirrorOptions{Client: client})
	require.NoError(t, err)

	rec := event.Record{Type: event.TypeCostEstimate, Data: json.RawMessage(`{"estimated_cost_usd":2.5}`)}
	require.NoError(t, m.Publish(context.Background(), "sess-1", rec))

	stream := client.streams["session/sess-1"]
	require.NotNil(t, stream)
	require.Equal(t, []string{"cost.estimate"}, stream.events)

	var env envelope
	require.NoError(t, json.Unmarshal(stream.payloads[0], &env))
	require.Equal(t, "cost.estimate", env.EventType)
	require.Equal(t, "sess-1", env.SessionID)
	require.JSONEq(t, `{"estimated_cost_usd":2.5}`, string(env.Payload))
	require.False(t, env.Timestamp.IsZero())
}

func TestMirrorRequiresClientAndSession(t *testing.T) {
	_, err := NewMirror(MirrorOptions{})
	require.EqualError(t, err, "pulse client is required")

	m, err := NewMirror(MirrorOptions{Client: &fakeClient{}})
	require.NoError(t, err)
	require.Error(t, m.Publish(context.Background(), "", event.Record{Type: event.TypeError}))
}
