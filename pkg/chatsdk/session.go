package chatsdk

import (
	"context"
	"errors"
	"sync"

	"github.com/aussiebroadwan/randchat/pkg/idx"
)

// Session represents an authenticated session with transparent re-login.
// All Session methods obtain their token through ValidToken.
type Session struct {
	client *SDKClient
	id     idx.ID

	mu     sync.RWMutex
	secret Secret
	token  *Token
	fatal  error // set once the secret is rejected
}

// ID is a local correlation id for log lines belonging to this session.
func (s *Session) ID() idx.ID { return s.id }

// Client returns the SDKClient the session was created from.
func (s *Session) Client() *SDKClient { return s.client }

// Secret returns the credential the session re-authenticates with.
func (s *Session) Secret() Secret {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.secret
}

// UserID returns the user id from the current token, or "" before the
// first login.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return ""
	}
	return s.token.UserID
}

// ValidToken returns a token that is unexpired at the instant of return,
// logging in again with the stored secret if needed. Concurrent callers
// share a single login.
func (s *Session) ValidToken(ctx context.Context) (*Token, error) {
	s.mu.RLock()
	if s.fatal == nil && s.token != nil && !s.token.ExpiredAt(s.client.now()) {
		token := s.token
		s.mu.RUnlock()
		return token, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock (another goroutine may have logged in)
	if s.fatal != nil {
		return nil, s.fatal
	}
	if s.token != nil && !s.token.ExpiredAt(s.client.now()) {
		return s.token, nil
	}

	log := s.client.logger(ctx).With("session_id", s.id.String())
	log.Debug("access token missing or expired, logging in")

	token, err := s.client.Login(ctx, s.secret)
	if err != nil {
		s.token = nil
		if errors.Is(err, ErrIncorrectCredential) {
			s.fatal = err
			log.Warn("secret rejected, session is unusable")
		}
		return nil, err
	}

	s.token = token
	return token, nil
}

// invalidate drops stale if it is still the cached token, so the next
// ValidToken logs in again. A token another caller already replaced is left
// alone.
func (s *Session) invalidate(stale *Token) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == stale {
		s.token = nil
	}
}
