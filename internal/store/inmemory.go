package store

import (
	"context"
	"sync"

	"github.com/antoniostano/codepair/internal/session"
)

// InMemoryStore is a simple in-process store for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]*session.Session)}
}

func (s *InMemoryStore) Save(_ context.Context, sess *session.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.Token] = sess.Clone()
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, token)
	return nil
}

func (s *InMemoryStore) LoadAll(_ context.Context) ([]*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		c := sess.Clone()
		resetPresence(c)
		out = append(out, c)
	}
	return out, nil
}

func (s *InMemoryStore) Close() error { return nil }

func resetPresence(s *session.Session) {
	for i := range s.Participants {
		s.Participants[i].IsActive = false
		s.Participants[i].Cursor = nil
		s.Participants[i].Selection = nil
	}
}
