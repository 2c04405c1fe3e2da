package odai

import (
	"context"
	"net/http"
	"sync"
)

// Authenticator is the subset of Client used for the access-code exchange.
type Authenticator interface {
	Authenticate(ctx context.Context, accessCode string) (Session, error)
}

// SessionTokens is a TokenSource backed by a cached access-code session. It
// refuses expired or quota-exhausted sessions with the status code the
// upstream itself would return, so proxies can relay it unchanged.
type SessionTokens struct {
	auth Authenticator

	mu      sync.Mutex
	session *Session
}

// NewSessionTokens returns an empty cache; Exchange must run before Token
// succeeds.
func NewSessionTokens(auth Authenticator) *SessionTokens {
	return &SessionTokens{auth: auth}
}

// Exchange trades an access code for a session grant and caches it.
func (s *SessionTokens) Exchange(ctx context.Context, accessCode string) (Session, error) {
	sess, err := s.auth.Authenticate(ctx, accessCode)
	if err != nil {
		return Session{}, err
	}
	s.mu.Lock()
	s.session = &sess
	s.mu.Unlock()
	return sess, nil
}

// Set installs a session obtained elsewhere.
func (s *SessionTokens) Set(sess Session) {
	s.mu.Lock()
	s.session = &sess
	s.mu.Unlock()
}

// Clear drops the cached session.
func (s *SessionTokens) Clear() {
	s.mu.Lock()
	s.session = nil
	s.mu.Unlock()
}

// Token implements TokenSource. An expired session is cleared so the next
// error message asks for re-authentication rather than reporting expiry
// again.
func (s *SessionTokens) Token(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return "", &AuthError{
			StatusCode: http.StatusUnauthorized,
			Message:    "no active session, authenticate with an access code",
		}
	}
	if !s.session.ExpiresAt.After(now()) {
		s.session = nil
		return "", &AuthError{StatusCode: http.StatusUnauthorized, Message: "session expired"}
	}
	if s.session.QuotaRemaining <= 0 {
		return "", &AuthError{StatusCode: http.StatusTooManyRequests, Message: "quota exhausted"}
	}
	return s.session.SessionToken, nil
}

// Quota reports the cached session's remaining and total quota; ok is false
// when no session is cached.
func (s *SessionTokens) Quota() (remaining, limit int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return 0, 0, false
	}
	return s.session.QuotaRemaining, s.session.Quota, true
}
