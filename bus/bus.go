// Package bus implements the per-session telemetry buffer that decouples the
// producer of pipeline events (the relay driving one chat turn) from their
// consumer (a browser tab's long-lived event stream). The two sides attach at
// unpredictable times relative to each other: the chat turn may produce
// telemetry before the tab opens its stream, and the tab may hold one stream
// open across many turns. The bus buffers records while no subscriber is
// registered and switches to direct channel delivery once one is.
package bus

import (
	"context"
	"sync"
	"time"

	"github.com/odai-labs/bridge/event"
	"github.com/odai-labs/bridge/telemetry"
)

type (
	// Mirror receives a copy of every published record. It exists so the bus
	// can tee telemetry into a secondary transport (for example Pulse streams
	// for multi-process deployments) without the relay knowing about it.
	// Mirror failures are logged and never affect delivery.
	Mirror interface {
		Publish(ctx context.Context, sessionID string, rec event.Record) error
	}

	// Options configures a Bus.
	Options struct {
		// SubscriberBuffer is the live delivery channel capacity. Defaults to 64.
		SubscriberBuffer int
		// IdleTTL is how long a session with no subscriber and no publishes
		// survives before the janitor purges it. Defaults to 10 minutes.
		IdleTTL time.Duration
		// SweepInterval is how often the janitor scans for idle sessions.
		// Defaults to 1 minute.
		SweepInterval time.Duration
		// Mirror optionally tees published records to a secondary transport.
		Mirror Mirror
		// Logger defaults to the clue-backed logger.
		Logger telemetry.Logger
		// Metrics defaults to a no-op recorder.
		Metrics telemetry.Metrics
	}

	// Bus routes telemetry records by session id. Construct with New and stop
	// with Close; the zero value is not usable. All methods are safe for
	// concurrent use.
	Bus struct {
		mu       sync.Mutex
		sessions map[string]*session
		closed   bool

		buffer  int
		idleTTL time.Duration
		mirror  Mirror
		logger  telemetry.Logger
		metrics telemetry.Metrics

		stop chan struct{}
		wg   sync.WaitGroup
	}

	// Subscription is the result of Subscribe: the backlog accumulated before
	// registration, the live channel for everything after it, and a cancel
	// function that deregisters the subscriber. The channel is closed on
	// cancel, on bus Close, and when a later Subscribe for the same session
	// evicts this one.
	Subscription struct {
		// Backlog holds records published before this subscription, in
		// arrival order. Flush it before reading C.
		Backlog []event.Record
		// C delivers records published after this subscription.
		C <-chan event.Record

		cancel func(unflushed []event.Record)
	}

	// session is the per-session state. Guarded by Bus.mu.
	session struct {
		backlog    []event.Record
		sub        chan event.Record // nil when no subscriber is registered
		lastActive time.Time
	}
)

// New constructs a Bus and starts its idle-session janitor.
func New(opts Options) *Bus {
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = 64
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = 10 * time.Minute
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = time.Minute
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewClueLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NopMetrics{}
	}
	b := &Bus{
		sessions: make(map[string]*session),
		buffer:   opts.SubscriberBuffer,
		idleTTL:  opts.IdleTTL,
		mirror:   opts.Mirror,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
		stop:     make(chan struct{}),
	}
	b.wg.Add(1)
	go b.janitor(opts.SweepInterval)
	return b
}

// Publish delivers rec to the session's subscriber if one is registered and
// keeping up, and buffers it otherwise. It never blocks: a full subscriber
// channel spills to the backlog, and from then on records keep spilling so
// arrival order is preserved until the subscriber reconnects and drains.
// Publish is fire-and-forget by contract; it has no failure mode visible to
// the caller.
func (b *Bus) Publish(ctx context.Context, sessionID string, rec event.Record) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	s := b.session(sessionID)
	s.lastActive = time.Now()
	delivered := false
	if s.sub != nil && len(s.backlog) == 0 {
		select {
		case s.sub <- rec:
			delivered = true
		default:
			// Subscriber is not draining; fall through to the backlog.
		}
	}
	if !delivered {
		s.backlog = append(s.backlog, rec)
	}
	b.mu.Unlock()

	b.metrics.IncCounter("bus.published", 1, "delivery", deliveryTag(delivered))
	if b.mirror != nil {
		if err := b.mirror.Publish(ctx, sessionID, rec); err != nil {
			b.logger.Warn(ctx, "telemetry mirror publish failed",
				"session_id", sessionID, "event_type", string(rec.Type), "err", err.Error())
		}
	}
}

// Subscribe registers the single current subscriber for the session and hands
// back the backlog accumulated so far. Registration and backlog hand-off
// happen under one lock hold, so a concurrent Publish lands either in the
// returned backlog or on the live channel, never both and never neither.
// A second Subscribe for the same session evicts the first: records still
// sitting on its channel move back to the front of the backlog, its channel
// is closed, and the new subscription becomes current.
func (b *Bus) Subscribe(sessionID string) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.session(sessionID)
	if s.sub != nil {
		s.backlog = append(drain(s.sub), s.backlog...)
		close(s.sub)
	}
	ch := make(chan event.Record, b.buffer)
	s.sub = ch
	backlog := s.backlog
	s.backlog = nil
	s.lastActive = time.Now()
	return &Subscription{
		Backlog: backlog,
		C:       ch,
		cancel: func(unflushed []event.Record) {
			b.mu.Lock()
			defer b.mu.Unlock()
			if s.sub != ch {
				// Already evicted; the newer subscription took over the
				// session buffer.
				return
			}
			s.sub = nil
			// Undelivered records go back to the front of the buffer in
			// publish order: the unflushed backlog tail predates anything
			// on the channel, and the channel predates later spills.
			s.backlog = append(append(append([]event.Record(nil), unflushed...), drain(ch)...), s.backlog...)
			close(ch)
		},
	}
}

// Cancel deregisters the subscription. Records the subscriber received in
// Backlog but never delivered may be passed back; they rejoin the session
// buffer ahead of anything still queued on the live channel, so a later
// subscriber resumes exactly where this one stopped. The session keeps
// buffering until a new subscriber attaches or the janitor purges it.
// Cancel is idempotent.
func (sub *Subscription) Cancel(unflushed ...event.Record) {
	sub.cancel(unflushed)
}

// Close stops the janitor and closes every live subscriber channel. Publishes
// after Close are dropped.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, s := range b.sessions {
		if s.sub != nil {
			close(s.sub)
			s.sub = nil
		}
	}
	b.sessions = make(map[string]*session)
	b.mu.Unlock()
	close(b.stop)
	b.wg.Wait()
}

// session returns the state for id, creating it if needed. Caller holds mu.
func (b *Bus) session(id string) *session {
	s, ok := b.sessions[id]
	if !ok {
		s = &session{}
		b.sessions[id] = s
	}
	return s
}

// janitor purges sessions that have no subscriber and have been inactive for
// longer than the idle TTL. Sessions with a live subscriber are never purged
// regardless of inactivity; an open event stream is activity enough.
func (b *Bus) janitor(interval time.Duration) {
	defer b.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			b.sweep(time.Now())
		}
	}
}

// sweep removes idle sessions as of now. Split from janitor for testing.
func (b *Bus) sweep(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.sessions {
		if s.sub == nil && now.Sub(s.lastActive) > b.idleTTL {
			delete(b.sessions, id)
			b.metrics.IncCounter("bus.sessions_purged", 1)
		}
	}
}

// drain empties ch without blocking and returns its records in order.
func drain(ch chan event.Record) []event.Record {
	var recs []event.Record
	for {
		select {
		case rec := <-ch:
			recs = append(recs, rec)
		default:
			return recs
		}
	}
}

func deliveryTag(live bool) string {
	if live {
		return "live"
	}
	return "buffered"
}
