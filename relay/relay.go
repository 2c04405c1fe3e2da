// Package relay bridges the vendor's pipeline event stream to the two
// protocols the bridge exposes: a generic text-generation stream for the chat
// response and the telemetry side-channel on the session bus. One Relay
// drives one chat turn; its read loop is the single consumer of the vendor
// connection.
package relay

import (
	"bufio"
	"context"
	"errors"
	"io"

	"github.com/odai-labs/bridge/event"
	"github.com/odai-labs/bridge/sse"
	"github.com/odai-labs/bridge/telemetry"
)

// Kind identifies one generic text stream event.
type Kind int

const (
	// KindTextStart opens the text span. Emitted lazily, once, before the
	// first non-empty delta.
	KindTextStart Kind = iota + 1
	// KindTextDelta carries a non-empty text fragment.
	KindTextDelta
	// KindTextEnd closes the text span.
	KindTextEnd
	// KindFinish terminates a successful stream and carries total usage.
	// Emitted at most once per turn.
	KindFinish
	// KindError terminates the stream with a vendor-reported fatal error.
	KindError
)

type (
	// TextEvent is one event of the generic text-generation stream.
	TextEvent struct {
		Kind  Kind
		Delta string          // KindTextDelta only
		Usage *event.Usage    // KindFinish only
		Cost  *event.UsageUSD // KindFinish only, when the vendor reports cost
		Err   string          // KindError only
	}

	// Publisher delivers telemetry records to the session side-channel. The
	// session bus satisfies it. Publish must not block.
	Publisher interface {
		Publish(ctx context.Context, sessionID string, rec event.Record)
	}

	// Options configures a Relay.
	Options struct {
		// SessionID keys the telemetry side-channel. Required.
		SessionID string
		// Publisher receives telemetry records. Required.
		Publisher Publisher
		// Logger defaults to the clue-backed logger.
		Logger telemetry.Logger
		// Metrics defaults to a no-op recorder.
		Metrics telemetry.Metrics
	}

	// Relay consumes one vendor stream and produces the generic text stream.
	// Construct with New, then call Run exactly once.
	Relay struct {
		sessionID string
		pub       Publisher
		logger    telemetry.Logger
		metrics   telemetry.Metrics
	}

	// runState tracks per-turn emission guards.
	runState struct {
		started  bool
		finished bool
	}
)

// New validates opts and constructs a Relay.
func New(opts Options) (*Relay, error) {
	if opts.SessionID == "" {
		return nil, errors.New("session id is required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewClueLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NopMetrics{}
	}
	return &Relay{
		sessionID: opts.SessionID,
		pub:       opts.Publisher,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}, nil
}

// Run consumes body until the done sentinel, a fatal error record, transport
// EOF, or ctx cancellation, whichever comes first, and returns the text
// stream as a channel. The channel closes when the stream ends. Telemetry is
// published as a side effect and is never retracted on cancellation; a slow
// or absent telemetry subscriber cannot stall this loop because the bus
// publish path does not block.
func (r *Relay) Run(ctx context.Context, body io.Reader) <-chan TextEvent {
	out := make(chan TextEvent, 32)
	go r.loop(ctx, body, out)
	return out
}

func (r *Relay) loop(ctx context.Context, body io.Reader, out chan<- TextEvent) {
	defer close(out)
	parser := sse.NewParser()
	reader := bufio.NewReader(body)
	state := &runState{}
	buf := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := reader.Read(buf)
		if n > 0 {
			for _, rec := range parser.Feed(ctx, buf[:n]) {
				if done := r.handle(ctx, rec, state, out); done {
					return
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				r.logger.Error(ctx, "vendor stream read failed", "session_id", r.sessionID, "err", err.Error())
				r.emit(ctx, out, TextEvent{Kind: KindError, Err: "upstream connection lost"})
			}
			return
		}
	}
}

// handle routes one record. It returns true when the stream is finished and
// the read loop should stop.
func (r *Relay) handle(ctx context.Context, rec event.Record, state *runState, out chan<- TextEvent) bool {
	if event.IsTelemetry(rec.Type) {
		r.pub.Publish(ctx, r.sessionID, rec)
		r.metrics.IncCounter("relay.telemetry_forwarded", 1, "event_type", string(rec.Type))
	}
	switch event.Classify(rec.Type) {
	case event.ClassText:
		r.handleText(ctx, rec, state, out)
	case event.ClassCompletion:
		r.handleCompletion(ctx, rec, state, out)
	case event.ClassError:
		return r.handleError(ctx, rec, out)
	case event.ClassTerminal:
		return true
	case event.ClassUnknown:
		r.logger.Debug(ctx, "unknown vendor event ignored", "event_type", string(rec.Type))
	}
	return false
}

// handleText extracts the delta fragment and emits it, opening the text span
// on the first non-empty fragment. message.start carries no text and empty
// deltas are never forwarded.
func (r *Relay) handleText(ctx context.Context, rec event.Record, state *runState, out chan<- TextEvent) {
	if rec.Type != event.TypeMessageDelta {
		return
	}
	var delta event.MessageDelta
	if err := rec.Decode(&delta); err != nil {
		r.logger.Warn(ctx, "undecodable message.delta dropped", "session_id", r.sessionID, "err", err.Error())
		return
	}
	if len(delta.Choices) == 0 {
		return
	}
	content := delta.Choices[0].Delta.Content
	if content == "" {
		return
	}
	if !state.started {
		state.started = true
		r.emit(ctx, out, TextEvent{Kind: KindTextStart})
	}
	r.emit(ctx, out, TextEvent{Kind: KindTextDelta, Delta: content})
}

// handleCompletion closes the text span if one was opened and emits the
// usage-bearing finish event. The vendor sends at most one completion per
// call; a duplicate is dropped with a warning.
func (r *Relay) handleCompletion(ctx context.Context, rec event.Record, state *runState, out chan<- TextEvent) {
	if state.finished {
		r.logger.Warn(ctx, "duplicate message.complete dropped", "session_id", r.sessionID)
		return
	}
	state.finished = true
	var complete event.MessageComplete
	if err := rec.Decode(&complete); err != nil {
		r.logger.Warn(ctx, "undecodable message.complete", "session_id", r.sessionID, "err", err.Error())
	}
	if state.started {
		r.emit(ctx, out, TextEvent{Kind: KindTextEnd})
	}
	usage := complete.Usage
	if usage == nil {
		usage = &event.Usage{}
	}
	r.emit(ctx, out, TextEvent{Kind: KindFinish, Usage: usage, Cost: complete.UsageUSD})
}

// handleError surfaces a vendor error. Recoverable errors already reached the
// session bus above and do not disturb the text stream; unrecoverable ones
// terminate it with an error event.
func (r *Relay) handleError(ctx context.Context, rec event.Record, out chan<- TextEvent) bool {
	var streamErr event.StreamError
	if err := rec.Decode(&streamErr); err != nil {
		r.logger.Warn(ctx, "undecodable error record", "session_id", r.sessionID, "err", err.Error())
		streamErr.Message = "unknown upstream error"
	}
	if streamErr.Recoverable {
		r.logger.Info(ctx, "recoverable pipeline error",
			"session_id", r.sessionID, "code", streamErr.Code, "phase", streamErr.Phase)
		return false
	}
	msg := streamErr.Message
	if msg == "" {
		msg = "unknown upstream error"
	}
	r.emit(ctx, out, TextEvent{Kind: KindError, Err: msg})
	return true
}

// emit delivers a text event unless the turn was canceled.
func (r *Relay) emit(ctx context.Context, out chan<- TextEvent, ev TextEvent) {
	select {
	case out <- ev:
	case <-ctx.Done():
	}
}
