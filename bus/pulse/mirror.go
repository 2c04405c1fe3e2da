package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/odai-labs/bridge/event"
)

type (
	// MirrorOptions configures the Pulse mirror.
	MirrorOptions struct {
		// Client publishes the envelopes. Required.
		Client Client
		// StreamID derives the target stream name from a session id.
		// Defaults to "session/<id>".
		StreamID func(sessionID string) string
	}

	// Mirror publishes session telemetry records into Pulse streams. It
	// implements bus.Mirror. Thread-safe for concurrent Publish calls.
	Mirror struct {
		client   Client
		streamID func(string) string
	}

	// envelope is the wire form of a mirrored record. Payload stays raw so
	// mirroring never re-encodes vendor JSON.
	envelope struct {
		EventType string          `json:"event_type"`
		SessionID string          `json:"session_id"`
		Timestamp time.Time       `json:"timestamp"`
		Payload   json.RawMessage `json:"payload,omitempty"`
	}
)

// NewMirror constructs a Pulse-backed telemetry mirror. The Client field in
// opts is required; StreamID defaults to the built-in session naming.
func NewMirror(opts MirrorOptions) (*Mirror, error) {
	if opts.Client == nil {
		return nil, errors.New("pulse client is required")
	}
	streamID := opts.StreamID
	if streamID == nil {
		streamID = func(sessionID string) string { return "session/" + sessionID }
	}
	return &Mirror{client: opts.Client, streamID: streamID}, nil
}

// Publish appends the record to the session's Pulse stream.
func (m *Mirror) Publish(ctx context.Context, sessionID string, rec event.Record) error {
	if sessionID == "" {
		return errors.New("session id is required")
	}
	handle, err := m.client.Stream(m.streamID(sessionID))
	if err != nil {
		return err
	}
	payload, err := json.Marshal(envelope{
		EventType: string(rec.Type),
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
		Payload:   rec.Data,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if _, err := handle.Add(ctx, string(rec.Type), payload); err != nil {
		return err
	}
	return nil
}

// Close releases resources owned by the mirror's client.
func (m *Mirror) Close(ctx context.Context) error {
	return m.client.Close(ctx)
}
