package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/antoniostano/codepair/internal/session"
)

// PostgresStore persists session records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			language TEXT NOT NULL,
			code TEXT NOT NULL DEFAULT '',
			settings JSONB NOT NULL,
			participants JSONB NOT NULL,
			chat JSONB NOT NULL,
			is_public BOOLEAN NOT NULL DEFAULT FALSE,
			max_participants INT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			last_activity TIMESTAMPTZ NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_last_activity ON sessions (last_activity);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, sess *session.Session) error {
	settings, err := json.Marshal(sess.Settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	participants, err := json.Marshal(sess.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	chat, err := json.Marshal(sess.Chat)
	if err != nil {
		return fmt.Errorf("marshal chat: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO sessions
			(token, owner_id, title, description, language, code, settings, participants, chat, is_public, max_participants, created_at, last_activity)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (token) DO UPDATE SET
			title = EXCLUDED.title,
			description = EXCLUDED.description,
			language = EXCLUDED.language,
			code = EXCLUDED.code,
			settings = EXCLUDED.settings,
			participants = EXCLUDED.participants,
			chat = EXCLUDED.chat,
			is_public = EXCLUDED.is_public,
			max_participants = EXCLUDED.max_participants,
			last_activity = EXCLUDED.last_activity`,
		sess.Token,
		sess.OwnerID,
		sess.Title,
		sess.Description,
		sess.Language,
		sess.Code,
		settings,
		participants,
		chat,
		sess.IsPublic,
		sess.MaxParticipants,
		sess.CreatedAt,
		sess.LastActivity,
	)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, token string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE token=$1`, token); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadAll(ctx context.Context) ([]*session.Session, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT token, owner_id, title, description, language, code, settings, participants, chat, is_public, max_participants, created_at, last_activity
		 FROM sessions ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []*session.Session
	for rows.Next() {
		var (
			sess         session.Session
			settings     []byte
			participants []byte
			chat         []byte
		)
		if err := rows.Scan(
			&sess.Token, &sess.OwnerID, &sess.Title, &sess.Description,
			&sess.Language, &sess.Code, &settings, &participants, &chat,
			&sess.IsPublic, &sess.MaxParticipants, &sess.CreatedAt, &sess.LastActivity,
		); err != nil {
			return nil, fmt.Errorf("scan session row: %w", err)
		}
		if err := json.Unmarshal(settings, &sess.Settings); err != nil {
			return nil, fmt.Errorf("unmarshal settings for %s: %w", sess.Token, err)
		}
		if err := json.Unmarshal(participants, &sess.Participants); err != nil {
			return nil, fmt.Errorf("unmarshal participants for %s: %w", sess.Token, err)
		}
		if err := json.Unmarshal(chat, &sess.Chat); err != nil {
			return nil, fmt.Errorf("unmarshal chat for %s: %w", sess.Token, err)
		}
		resetPresence(&sess)
		out = append(out, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate session rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
