package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/odai-labs/bridge/event"
	"github.com/odai-labs/bridge/sse"
)

// eventFrame is the wire shape of one telemetry frame on /events.
type eventFrame struct {
	EventType string          `json:"eventType"`
	Data      json.RawMessage `json:"data"`
}

// handleEvents streams the session's telemetry over SSE: a connected marker,
// then the buffered backlog, then live records until the client disconnects.
// Disconnecting only cancels the subscription; the session keeps buffering
// for the next subscriber.
func (s *Service) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := r.URL.Query().Get("sessionId")
	if _, err := uuid.Parse(sessionID); err != nil {
		http.Error(w, "sessionId must be a valid UUID", http.StatusBadRequest)
		return
	}

	out, err := sse.NewWriter(w)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	if err := out.WriteData([]byte(`{"type":"connected"}`)); err != nil {
		return
	}

	sub := s.bus.Subscribe(sessionID)
	// Anything the client did not receive goes back to the session buffer so
	// a reconnect resumes where this stream stopped.
	var unflushed []event.Record
	defer func() { sub.Cancel(unflushed...) }()
	s.metrics.IncCounter("events.subscribed", 1)
	s.logger.Debug(ctx, "telemetry subscriber attached",
		"session_id", sessionID, "backlog", len(sub.Backlog))

	for i, rec := range sub.Backlog {
		if err := s.writeFrame(out, rec); err != nil {
			unflushed = sub.Backlog[i:]
			return
		}
	}
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-sub.C:
			if !ok {
				// Evicted by a newer subscriber or bus shutdown.
				return
			}
			if err := s.writeFrame(out, rec); err != nil {
				unflushed = []event.Record{rec}
				return
			}
		}
	}
}

func (s *Service) writeFrame(out *sse.Writer, rec event.Record) error {
	frame, err := json.Marshal(eventFrame{EventType: string(rec.Type), Data: rec.Data})
	if err != nil {
		return err
	}
	return out.WriteData(frame)
}
