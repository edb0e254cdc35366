package store

import (
	"context"
	"strings"

	"github.com/antoniostano/codepair/internal/session"
)

// Store persists durable session records so sessions survive a process
// restart and stay joinable by token. Presence data (active flags,
// cursors, selections) is deliberately not durable; LoadAll returns
// every participant marked inactive.
type Store interface {
	Save(ctx context.Context, s *session.Session) error
	Delete(ctx context.Context, token string) error
	LoadAll(ctx context.Context) ([]*session.Session, error)
	Close() error
}

// New creates a postgres-backed store when configured, otherwise in-memory.
func New(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewInMemoryStore(), nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
