// Package odai is a client for the ODAI pipeline API. It covers the
// access-code session lifecycle, the streaming chat completions endpoint the
// relay consumes, and budget confirmations.
package odai

import (
	"fmt"
	"time"
)

type (
	// Model selects the upstream pipeline tier.
	Model string

	// Message is a single chat turn sent upstream.
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
		Name    string `json:"name,omitempty"`
	}

	// ChatRequest is the body of a chat completions call. Streaming is
	// always requested; the zero value of the pipeline toggles matches the
	// upstream defaults except IncludePhaseEvents, which defaults to true
	// when unset.
	ChatRequest struct {
		Model       Model     `json:"model"`
		Messages    []Message `json:"messages"`
		Stream      bool      `json:"stream"`
		Temperature float64   `json:"temperature,omitempty"`
		MaxTokens   int       `json:"max_tokens,omitempty"`
		TopP        float64   `json:"top_p,omitempty"`
		User        string    `json:"user,omitempty"`

		IncludePhaseEvents *bool `json:"include_phase_events,omitempty"`
		SkipSafetyCheck    bool  `json:"skip_safety_check,omitempty"`
		SkipLLMEnhancement bool  `json:"skip_llm_enhancement,omitempty"`
		SkipLLMJudge       bool  `json:"skip_llm_judge,omitempty"`

		// MaxSamplesPerModel is clamped to [1,10] upstream; zero means the
		// default of 3.
		MaxSamplesPerModel int `json:"max_samples_per_model,omitempty"`
	}

	// ConfirmBudgetRequest resolves a budget.confirmation_required event.
	ConfirmBudgetRequest struct {
		ConfirmationID string `json:"confirmation_id"`
		Action         string `json:"action"`
	}

	// ConfirmBudgetResponse echoes the resolved confirmation.
	ConfirmBudgetResponse struct {
		Success        bool   `json:"success"`
		ConfirmationID string `json:"confirmation_id"`
		Action         string `json:"action"`
	}

	// Session is the token grant returned by the access-code exchange.
	Session struct {
		SessionToken   string    `json:"session_token"`
		TokenType      string    `json:"token_type"`
		ExpiresIn      int       `json:"expires_in"`
		ExpiresAt      time.Time `json:"expires_at"`
		Quota          int       `json:"quota"`
		QuotaRemaining int       `json:"quota_remaining"`
		Scope          string    `json:"scope"`
		AccessCodeID   string    `json:"access_code_id"`
	}

	// SessionStatus reports the health of an existing session token.
	SessionStatus struct {
		SessionToken   string    `json:"session_token"`
		QuotaRemaining int       `json:"quota_remaining"`
		QuotaLimit     int       `json:"quota_limit"`
		ExpiresAt      time.Time `json:"expires_at"`
		IsValid        bool      `json:"is_valid"`
	}

	// AuthError is returned when the upstream rejects credentials or when a
	// cached session can no longer be used. StatusCode carries the HTTP
	// status a proxy should relay.
	AuthError struct {
		StatusCode int
		Message    string
	}
)

// Pipeline tiers accepted by the chat completions endpoint.
const (
	ModelFrontier Model = "odai-frontier"
	ModelFast     Model = "odai-fast"
)

const (
	// DefaultMaxSamples is applied when ChatRequest.MaxSamplesPerModel is
	// zero.
	DefaultMaxSamples = 3

	maxSamplesLimit = 10
)

// Budget confirmation actions.
const (
	BudgetContinue = "continue"
	BudgetReduce   = "reduce"
	BudgetAbort    = "abort"
)

func (e *AuthError) Error() string {
	return fmt.Sprintf("odai auth: %s (status %d)", e.Message, e.StatusCode)
}

// Valid reports whether m names a known pipeline tier.
func (m Model) Valid() bool {
	return m == ModelFrontier || m == ModelFast
}

// Validate checks the request fields the upstream rejects outright.
func (r *ChatRequest) Validate() error {
	if !r.Model.Valid() {
		return fmt.Errorf("unknown model %q", r.Model)
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("messages are required")
	}
	if r.MaxSamplesPerModel < 0 || r.MaxSamplesPerModel > maxSamplesLimit {
		return fmt.Errorf("max_samples_per_model %d out of range [1,%d]", r.MaxSamplesPerModel, maxSamplesLimit)
	}
	return nil
}

// withDefaults returns a copy with streaming forced on and unset toggles
// filled in.
func (r ChatRequest) withDefaults() ChatRequest {
	r.Stream = true
	if r.IncludePhaseEvents == nil {
		t := true
		r.IncludePhaseEvents = &t
	}
	if r.MaxSamplesPerModel == 0 {
		r.MaxSamplesPerModel = DefaultMaxSamples
	}
	return r
}
