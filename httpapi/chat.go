package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/odai-labs/bridge/odai"
	"github.com/odai-labs/bridge/relay"
	"github.com/odai-labs/bridge/sse"
)

// chatSchema validates POST /v1/chat bodies before anything reaches the
// upstream.
const chatSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["session_id", "model", "messages"],
	"additionalProperties": false,
	"properties": {
		"session_id": {"type": "string", "minLength": 1},
		"model": {"enum": ["odai-frontier", "odai-fast"]},
		"messages": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["role", "content"],
				"additionalProperties": false,
				"properties": {
					"role": {"enum": ["system", "user", "assistant"]},
					"content": {"type": "string"},
					"name": {"type": "string"}
				}
			}
		},
		"temperature": {"type": "number", "minimum": 0, "maximum": 2},
		"max_tokens": {"type": "integer", "minimum": 1},
		"top_p": {"type": "number", "minimum": 0, "maximum": 1},
		"include_phase_events": {"type": "boolean"},
		"skip_safety_check": {"type": "boolean"},
		"skip_llm_enhancement": {"type": "boolean"},
		"skip_llm_judge": {"type": "boolean"},
		"max_samples_per_model": {"type": "integer", "minimum": 1, "maximum": 10}
	}
}`

var compiledChatSchema = mustCompileSchema(chatSchema)

func mustCompileSchema(src string) *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
	if err != nil {
		panic(fmt.Sprintf("unmarshal chat schema: %v", err))
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("chat.json", doc); err != nil {
		panic(fmt.Sprintf("add chat schema resource: %v", err))
	}
	schema, err := c.Compile("chat.json")
	if err != nil {
		panic(fmt.Sprintf("compile chat schema: %v", err))
	}
	return schema
}

// chatRequest is the decoded POST /v1/chat body.
type chatRequest struct {
	SessionID string `json:"session_id"`
	odai.ChatRequest
}

// handleChat proxies one chat turn: the upstream vendor stream is split into
// the text stream written back here and telemetry published to the session
// bus for /events subscribers.
func (s *Service) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		http.Error(w, "bearer token required", http.StatusUnauthorized)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := compiledChatSchema.Validate(instance); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if !s.allowChat(req.SessionID) {
		s.metrics.IncCounter("chat.rate_limited", 1)
		http.Error(w, "too many chat turns for session", http.StatusTooManyRequests)
		return
	}

	rel, err := relay.New(relay.Options{
		SessionID: req.SessionID,
		Publisher: s.bus,
		Logger:    s.logger,
		Metrics:   s.metrics,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	upstream, err := s.client.StreamChat(ctx, req.ChatRequest)
	if err != nil {
		s.writeUpstreamError(w, r, err)
		return
	}
	defer func() { _ = upstream.Close() }()

	out, err := sse.NewWriter(w)
	if err != nil {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	s.logger.Info(ctx, "chat turn started",
		"session_id", req.SessionID, "model", string(req.Model))
	for ev := range rel.Run(ctx, upstream) {
		frame, err := marshalTextFrame(ev)
		if err != nil {
			continue
		}
		if err := out.WriteData(frame); err != nil {
			return
		}
	}
	_ = out.WriteDone()
}

// marshalTextFrame renders one generic text stream event as a wire frame.
func marshalTextFrame(ev relay.TextEvent) ([]byte, error) {
	switch ev.Kind {
	case relay.KindTextStart:
		return json.Marshal(map[string]any{"type": "text.start"})
	case relay.KindTextDelta:
		return json.Marshal(map[string]any{"type": "text.delta", "delta": ev.Delta})
	case relay.KindTextEnd:
		return json.Marshal(map[string]any{"type": "text.end"})
	case relay.KindFinish:
		frame := map[string]any{"type": "finish"}
		if ev.Usage != nil {
			frame["usage"] = ev.Usage
		}
		if ev.Cost != nil {
			frame["cost"] = ev.Cost
		}
		return json.Marshal(frame)
	case relay.KindError:
		return json.Marshal(map[string]any{"type": "error", "message": ev.Err})
	default:
		return nil, fmt.Errorf("unknown text event kind %d", ev.Kind)
	}
}

// writeUpstreamError relays vendor auth failures with their original status
// and maps everything else to 502.
func (s *Service) writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	var authErr *odai.AuthError
	if errors.As(err, &authErr) {
		http.Error(w, authErr.Message, authErr.StatusCode)
		return
	}
	s.logger.Error(r.Context(), "upstream chat call failed", "err", err.Error())
	http.Error(w, "upstream unavailable", http.StatusBadGateway)
}

// handleConfirmBudget forwards a budget confirmation to the vendor and echoes
// its response.
func (s *Service) handleConfirmBudget(w http.ResponseWriter, r *http.Request) {
	var req odai.ConfirmBudgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if req.ConfirmationID == "" {
		http.Error(w, "confirmation_id is required", http.StatusBadRequest)
		return
	}
	switch req.Action {
	case odai.BudgetContinue, odai.BudgetReduce, odai.BudgetAbort:
	default:
		http.Error(w, fmt.Sprintf("unknown action %q", req.Action), http.StatusBadRequest)
		return
	}
	resp, err := s.client.ConfirmBudget(r.Context(), req)
	if err != nil {
		var authErr *odai.AuthError
		if errors.As(err, &authErr) {
			http.Error(w, authErr.Message, authErr.StatusCode)
			return
		}
		s.logger.Error(r.Context(), "budget confirmation failed", "err", err.Error())
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
