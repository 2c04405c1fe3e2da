// Package httpapi exposes the bridge over HTTP: the chat completion proxy,
// the per-session telemetry stream, and budget confirmations.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"goa.design/clue/debug"
	"goa.design/clue/log"
	goahttp "goa.design/goa/v3/http"
	"golang.org/x/time/rate"

	"github.com/odai-labs/bridge/bus"
	"github.com/odai-labs/bridge/odai"
	"github.com/odai-labs/bridge/telemetry"
)

type (
	// ChatClient is the subset of the vendor client used by the service.
	ChatClient interface {
		StreamChat(ctx context.Context, req odai.ChatRequest) (io.ReadCloser, error)
		ConfirmBudget(ctx context.Context, req odai.ConfirmBudgetRequest) (odai.ConfirmBudgetResponse, error)
	}

	// Options configures the HTTP service.
	Options struct {
		// Bus carries telemetry between chat turns and event subscribers.
		// Required.
		Bus *bus.Bus
		// Client calls the upstream pipeline. Required.
		Client ChatClient
		// ChatPerMinute caps chat turns per session. Zero disables the
		// limiter.
		ChatPerMinute int
		// Logger defaults to the clue-backed logger.
		Logger telemetry.Logger
		// Metrics defaults to a no-op recorder.
		Metrics telemetry.Metrics
	}

	// Service implements the bridge HTTP endpoints.
	Service struct {
		bus     *bus.Bus
		client  ChatClient
		logger  telemetry.Logger
		metrics telemetry.Metrics

		perMinute int
		mu        sync.Mutex
		limiters  map[string]*rate.Limiter
	}
)

// New validates opts and constructs the service.
func New(opts Options) (*Service, error) {
	if opts.Bus == nil {
		return nil, errors.New("bus is required")
	}
	if opts.Client == nil {
		return nil, errors.New("client is required")
	}
	if opts.Logger == nil {
		opts.Logger = telemetry.NewClueLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = telemetry.NopMetrics{}
	}
	return &Service{
		bus:       opts.Bus,
		client:    opts.Client,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
		perMinute: opts.ChatPerMinute,
		limiters:  make(map[string]*rate.Limiter),
	}, nil
}

// Mount registers all endpoints on mux.
func (s *Service) Mount(mux goahttp.Muxer) {
	mux.Handle(http.MethodGet, "/events", s.handleEvents)
	mux.Handle(http.MethodPost, "/v1/chat", s.handleChat)
	mux.Handle(http.MethodPost, "/v1/chat/confirm-budget", s.handleConfirmBudget)
	mux.Handle(http.MethodGet, "/ping", s.handlePing)
}

// Handler builds the full HTTP handler: muxer, request logging and, in debug
// mode, pprof and the debug-log enabler.
func (s *Service) Handler(ctx context.Context, dbg bool) http.Handler {
	// Keeps the caller's logger when one is set and falls back to the
	// default options otherwise, so request logging never panics.
	ctx = log.Context(ctx)
	mux := goahttp.NewMuxer()
	if dbg {
		debug.MountPprofHandlers(debug.Adapt(mux))
		debug.MountDebugLogEnabler(debug.Adapt(mux))
	}
	s.Mount(mux)
	var handler http.Handler = mux
	if dbg {
		handler = debug.HTTP()(handler)
	}
	return log.HTTP(ctx)(handler)
}

func (s *Service) handlePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "pong")
}

// allowChat applies the per-session rate limit.
func (s *Service) allowChat(sessionID string) bool {
	if s.perMinute <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.limiters[sessionID]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(s.perMinute)), s.perMinute)
		s.limiters[sessionID] = lim
	}
	return lim.Allow()
}
