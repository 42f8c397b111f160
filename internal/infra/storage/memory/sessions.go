package memory

import (
	"context"
	"sync"
	"time"

	"chatter/internal/domain/auth"
)

// SessionStore keeps bearer sessions in memory with lazy expiry.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[auth.Token]*auth.Session
}

func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[auth.Token]*auth.Session)}
}

func (s *SessionStore) Save(ctx context.Context, session *auth.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *session
	s.sessions[session.Token] = &clone
	return nil
}

func (s *SessionStore) Get(ctx context.Context, token auth.Token) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[token]
	if !ok {
		return nil, auth.ErrSessionNotFound
	}
	if session.Expired(time.Now()) {
		delete(s.sessions, token)
		return nil, auth.ErrSessionNotFound
	}
	clone := *session
	return &clone, nil
}

func (s *SessionStore) Delete(ctx context.Context, token auth.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

func (s *SessionStore) DeleteByUser(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for token, session := range s.sessions {
		if session.UserID == userID {
			delete(s.sessions, token)
		}
	}
	return nil
}

var _ auth.SessionStore = (*SessionStore)(nil)
