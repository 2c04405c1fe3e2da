package odai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"goa.design/clue/log"
)

type (
	// Doer is the subset of http.Client used by the API client.
	Doer interface {
		Do(*http.Request) (*http.Response, error)
	}

	// TokenSource yields the bearer token attached to authenticated calls.
	TokenSource interface {
		Token(ctx context.Context) (string, error)
	}

	// StaticToken is a TokenSource wrapping a pre-configured access token.
	StaticToken string

	// Options configures the API client.
	Options struct {
		// BaseURL is the upstream endpoint, e.g. "https://api.example.com".
		BaseURL string
		// Tokens supplies bearer tokens for authenticated calls.
		Tokens TokenSource
		// HTTPClient overrides the transport. Defaults to a client with no
		// overall timeout so streams can run for minutes.
		HTTPClient Doer
	}

	// Client calls the ODAI pipeline API.
	Client struct {
		base   string
		tokens TokenSource
		http   Doer
	}
)

// Token implements TokenSource.
func (t StaticToken) Token(context.Context) (string, error) {
	if t == "" {
		return "", &AuthError{StatusCode: http.StatusUnauthorized, Message: "no access token configured"}
	}
	return string(t), nil
}

// NewClient validates the options and builds a client.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("base URL is required")
	}
	u, err := url.Parse(opts.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", opts.BaseURL)
	}
	if opts.Tokens == nil {
		return nil, errors.New("token source is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		base:   strings.TrimRight(opts.BaseURL, "/"),
		tokens: opts.Tokens,
		http:   httpClient,
	}, nil
}

// StreamChat starts a streaming chat completion and returns the raw SSE body.
// The caller owns the returned reader and must close it; cancelling ctx also
// tears the stream down.
func (c *Client) StreamChat(ctx context.Context, req ChatRequest) (io.ReadCloser, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(req.withDefaults())
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("chat completions: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusTooManyRequests {
			return nil, &AuthError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		}
		return nil, fmt.Errorf("chat completions status %d: %s", resp.StatusCode, string(raw))
	}
	if ct := strings.ToLower(resp.Header.Get("Content-Type")); ct != "" && !strings.HasPrefix(ct, "text/event-stream") {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected content type %q: %s", resp.Header.Get("Content-Type"), string(raw))
	}
	log.Debug(ctx, log.KV{K: "msg", V: "odai stream open"}, log.KV{K: "model", V: string(req.Model)})
	return resp.Body, nil
}

// ConfirmBudget resolves a pending budget confirmation.
func (c *Client) ConfirmBudget(ctx context.Context, req ConfirmBudgetRequest) (ConfirmBudgetResponse, error) {
	if req.ConfirmationID == "" {
		return ConfirmBudgetResponse{}, errors.New("confirmation ID is required")
	}
	switch req.Action {
	case BudgetContinue, BudgetReduce, BudgetAbort:
	default:
		return ConfirmBudgetResponse{}, fmt.Errorf("unknown budget action %q", req.Action)
	}
	var out ConfirmBudgetResponse
	if err := c.call(ctx, http.MethodPost, "/v1/chat/confirm-budget", req, &out, true); err != nil {
		return ConfirmBudgetResponse{}, err
	}
	return out, nil
}

// Authenticate exchanges an access code for a session token grant.
func (c *Client) Authenticate(ctx context.Context, accessCode string) (Session, error) {
	if accessCode == "" {
		return Session{}, errors.New("access code is required")
	}
	var out Session
	req := struct {
		AccessCode string `json:"access_code"`
	}{AccessCode: accessCode}
	if err := c.call(ctx, http.MethodPost, "/v1/auth/access", req, &out, false); err != nil {
		return Session{}, err
	}
	return out, nil
}

// Status checks the validity and remaining quota of a session token.
func (c *Client) Status(ctx context.Context) (SessionStatus, error) {
	var out SessionStatus
	if err := c.call(ctx, http.MethodGet, "/v1/session/status", nil, &out, true); err != nil {
		return SessionStatus{}, err
	}
	return out, nil
}

// Revoke invalidates the session token upstream.
func (c *Client) Revoke(ctx context.Context, sessionToken string) error {
	if sessionToken == "" {
		return errors.New("session token is required")
	}
	req := struct {
		SessionToken string `json:"session_token"`
	}{SessionToken: sessionToken}
	return c.call(ctx, http.MethodPost, "/v1/token/revoke", req, nil, false)
}

// call performs a JSON request/response round trip. Non-2xx responses become
// AuthErrors so callers can relay the upstream status.
func (c *Client) call(ctx context.Context, method, path string, in, out any, authed bool) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if authed {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &AuthError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// now is swapped in tests.
var now = time.Now
