package odai

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, tokens TokenSource) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	if tokens == nil {
		tokens = StaticToken("tok-1")
	}
	c, err := NewClient(Options{BaseURL: srv.URL, Tokens: tokens})
	require.NoError(t, err)
	return c
}

func TestNewClientValidation(t *testing.T) {
	_, err := NewClient(Options{Tokens: StaticToken("t")})
	require.EqualError(t, err, "base URL is required")

	_, err = NewClient(Options{BaseURL: "not a url", Tokens: StaticToken("t")})
	require.ErrorContains(t, err, "invalid base URL")

	_, err = NewClient(Options{BaseURL: "http://example.com"})
	require.EqualError(t, err, "token source is required")
}

func TestStreamChatSendsRequestAndReturnsBody(t *testing.T) {
	var got ChatRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		require.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event: done\ndata: [DONE]\n\n")
	}, nil)

	body, err := c.StreamChat(context.Background(), ChatRequest{
		Model:    ModelFrontier,
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	defer body.Close()

	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	require.Contains(t, string(raw), "[DONE]")

	require.True(t, got.Stream)
	require.NotNil(t, got.IncludePhaseEvents)
	require.True(t, *got.IncludePhaseEvents)
	require.Equal(t, DefaultMaxSamples, got.MaxSamplesPerModel)
}

func TestStreamChatRequestValidation(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("request must not reach the server")
	}, nil)

	_, err := c.StreamChat(context.Background(), ChatRequest{
		Model:    "gpt-5",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.ErrorContains(t, err, `unknown model "gpt-5"`)

	_, err = c.StreamChat(context.Background(), ChatRequest{Model: ModelFast})
	require.ErrorContains(t, err, "messages are required")

	_, err = c.StreamChat(context.Background(), ChatRequest{
		Model:              ModelFast,
		Messages:           []Message{{Role: "user", Content: "hi"}},
		MaxSamplesPerModel: 11,
	})
	require.ErrorContains(t, err, "out of range")
}

func TestStreamChatUpstreamAuthFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "token revoked", http.StatusUnauthorized)
	}, nil)

	_, err := c.StreamChat(context.Background(), ChatRequest{
		Model:    ModelFast,
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	require.Contains(t, authErr.Message, "token revoked")
}

func TestStreamChatRejectsWrongContentType(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"oops":true}`)
	}, nil)

	_, err := c.StreamChat(context.Background(), ChatRequest{
		Model:    ModelFast,
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.ErrorContains(t, err, "unexpected content type")
}

func TestConfirmBudget(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/chat/confirm-budget", r.URL.Path)
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		var req ConfirmBudgetRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(ConfirmBudgetResponse{
			Success:        true,
			ConfirmationID: req.ConfirmationID,
			Action:         req.Action,
		})
	}, nil)

	out, err := c.ConfirmBudget(context.Background(), ConfirmBudgetRequest{
		ConfirmationID: "c1",
		Action:         BudgetContinue,
	})
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Equal(t, "c1", out.ConfirmationID)

	_, err = c.ConfirmBudget(context.Background(), ConfirmBudgetRequest{Action: BudgetAbort})
	require.ErrorContains(t, err, "confirmation ID is required")

	_, err = c.ConfirmBudget(context.Background(), ConfirmBudgetRequest{ConfirmationID: "c1", Action: "maybe"})
	require.ErrorContains(t, err, `unknown budget action "maybe"`)
}

func TestAuthenticateAndStatus(t *testing.T) {
	expires := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/auth/access":
			var req struct {
				AccessCode string `json:"access_code"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			if req.AccessCode != "code-1" {
				http.Error(w, "bad code", http.StatusForbidden)
				return
			}
			_ = json.NewEncoder(w).Encode(Session{
				SessionToken:   "sess-tok",
				TokenType:      "Bearer",
				ExpiresAt:      expires,
				Quota:          100,
				QuotaRemaining: 100,
			})
		case "/v1/session/status":
			require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			_ = json.NewEncoder(w).Encode(SessionStatus{
				SessionToken:   "sess-tok",
				QuotaRemaining: 42,
				QuotaLimit:     100,
				IsValid:        true,
			})
		default:
			http.NotFound(w, r)
		}
	}, nil)

	sess, err := c.Authenticate(context.Background(), "code-1")
	require.NoError(t, err)
	require.Equal(t, "sess-tok", sess.SessionToken)
	require.Equal(t, expires, sess.ExpiresAt.UTC())

	_, err = c.Authenticate(context.Background(), "wrong")
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, http.StatusForbidden, authErr.StatusCode)

	status, err := c.Status(context.Background())
	require.NoError(t, err)
	require.True(t, status.IsValid)
	require.Equal(t, 42, status.QuotaRemaining)
}

func TestStaticToken(t *testing.T) {
	tok, err := StaticToken("abc").Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "abc", tok)

	_, err = StaticToken("").Token(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
}

type staticAuth struct {
	sess Session
	err  error
}

func (a staticAuth) Authenticate(context.Context, string) (Session, error) {
	return a.sess, a.err
}

func TestSessionTokensLifecycle(t *testing.T) {
	restore := now
	t.Cleanup(func() { now = restore })
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	now = func() time.Time { return clock }

	tokens := NewSessionTokens(staticAuth{sess: Session{
		SessionToken:   "sess-tok",
		ExpiresAt:      clock.Add(time.Hour),
		Quota:          10,
		QuotaRemaining: 10,
	}})

	// No session cached yet.
	_, err := tokens.Token(context.Background())
	var authErr *AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	require.Contains(t, authErr.Message, "no active session")

	_, err = tokens.Exchange(context.Background(), "code-1")
	require.NoError(t, err)
	tok, err := tokens.Token(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sess-tok", tok)

	remaining, limit, ok := tokens.Quota()
	require.True(t, ok)
	require.Equal(t, 10, remaining)
	require.Equal(t, 10, limit)

	// Quota exhaustion maps to 429.
	tokens.Set(Session{SessionToken: "sess-tok", ExpiresAt: clock.Add(time.Hour)})
	_, err = tokens.Token(context.Background())
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, http.StatusTooManyRequests, authErr.StatusCode)

	// Expiry maps to 401 and clears the cache.
	tokens.Set(Session{SessionToken: "sess-tok", ExpiresAt: clock.Add(time.Hour), QuotaRemaining: 5})
	clock = clock.Add(2 * time.Hour)
	_, err = tokens.Token(context.Background())
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	require.Contains(t, authErr.Message, "expired")
	_, _, ok = tokens.Quota()
	require.False(t, ok)

	tokens.Set(Session{SessionToken: "s2", ExpiresAt: clock.Add(time.Hour), QuotaRemaining: 1})
	tokens.Clear()
	_, err = tokens.Token(context.Background())
	require.Error(t, err)
}

func TestSessionTokensExchangeFailure(t *testing.T) {
	tokens := NewSessionTokens(staticAuth{err: errors.New("upstream down")})
	_, err := tokens.Exchange(context.Background(), "code-1")
	require.EqualError(t, err, "upstream down")
	_, err = tokens.Token(context.Background())
	require.Error(t, err)
}
