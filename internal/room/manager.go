package room

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/antoniostano/codepair/internal/backplane"
	"github.com/antoniostano/codepair/internal/observability"
	"github.com/antoniostano/codepair/internal/session"
	"github.com/antoniostano/codepair/internal/store"
)

// Manager is the session lifecycle authority: it creates rooms, indexes
// them by token, rehydrates persisted sessions at startup and runs the
// idle-eviction sweep.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	opts                   Options
	idleTimeout            time.Duration
	defaultMaxParticipants int

	st      store.Store
	bp      backplane.Backplane
	metrics *observability.Metrics
}

// ManagerConfig wires the manager's collaborators and policies.
type ManagerConfig struct {
	IdleTimeout            time.Duration
	DefaultMaxParticipants int
	Room                   Options
}

func NewManager(cfg ManagerConfig, st store.Store, bp backplane.Backplane, metrics *observability.Metrics) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.DefaultMaxParticipants < 1 {
		cfg.DefaultMaxParticipants = 10
	}
	return &Manager{
		rooms:                  make(map[string]*Room),
		opts:                   cfg.Room,
		idleTimeout:            cfg.IdleTimeout,
		defaultMaxParticipants: cfg.DefaultMaxParticipants,
		st:                     st,
		bp:                     bp,
		metrics:                metrics,
	}
}

// Hydrate loads persisted sessions and brings a room up for each, so
// tokens stay joinable across a process restart.
func (m *Manager) Hydrate(ctx context.Context) error {
	sessions, err := m.st.LoadAll(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	for _, sess := range sessions {
		if _, ok := m.rooms[sess.Token]; ok {
			continue
		}
		m.rooms[sess.Token] = newRoom(sess, m.st, m.bp, m.metrics, m.opts)
	}
	count := len(m.rooms)
	m.mu.Unlock()

	m.metrics.ActiveSessions.Set(float64(count))
	if len(sessions) > 0 {
		log.Printf("rehydrated %d persisted sessions", len(sessions))
	}
	return nil
}

// Create validates params and starts a room for the new session.
func (m *Manager) Create(ownerID, ownerName string, params session.CreateParams) (*session.Session, error) {
	if params.MaxParticipants == 0 {
		params.MaxParticipants = m.defaultMaxParticipants
	}
	sess, err := session.New(ownerID, ownerName, params)
	if err != nil {
		return nil, err
	}

	r := newRoom(sess, m.st, m.bp, m.metrics, m.opts)

	m.mu.Lock()
	m.rooms[sess.Token] = r
	count := len(m.rooms)
	m.mu.Unlock()

	m.metrics.ActiveSessions.Set(float64(count))
	m.metrics.SessionEvents.WithLabelValues("created").Inc()
	return sess.Clone(), nil
}

// Get resolves a token to its room.
func (m *Manager) Get(token string) (*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[token]
	if !ok {
		return nil, session.ErrNotFound
	}
	return r, nil
}

// ListMine returns snapshots of every session userID participates in,
// oldest first.
func (m *Manager) ListMine(userID string) []*session.Session {
	var out []*session.Session
	for _, r := range m.snapshotRooms() {
		snap, err := r.Snapshot()
		if err != nil {
			continue
		}
		if snap.Participant(userID) != nil {
			out = append(out, snap)
		}
	}
	sortByCreation(out)
	return out
}

// ListPublic returns one page of public sessions plus the total count.
// page is 1-based; a non-positive limit gets a sane default.
func (m *Manager) ListPublic(page, limit int) ([]*session.Session, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var public []*session.Session
	for _, r := range m.snapshotRooms() {
		snap, err := r.Snapshot()
		if err != nil {
			continue
		}
		if snap.IsPublic {
			public = append(public, snap)
		}
	}
	sortByCreation(public)

	total := len(public)
	start := (page - 1) * limit
	if start >= total {
		return []*session.Session{}, total
	}
	end := start + limit
	if end > total {
		end = total
	}
	return public[start:end], total
}

// StartJanitor runs the idle-eviction sweep until ctx is done. A
// session is evicted only when it has zero live connections and its
// last activity is older than the idle timeout.
func (m *Manager) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.evictIdle(ctx)
			}
		}
	}()
}

func (m *Manager) evictIdle(ctx context.Context) {
	now := time.Now().UTC()
	for _, r := range m.snapshotRooms() {
		info, ok := r.idleInfo()
		if !ok {
			continue
		}
		if info.Connections > 0 {
			continue
		}
		if now.Sub(info.LastActivity) < m.idleTimeout {
			continue
		}

		m.mu.Lock()
		delete(m.rooms, r.Token())
		count := len(m.rooms)
		m.mu.Unlock()

		r.Close()
		if err := m.st.Delete(ctx, r.Token()); err != nil {
			log.Printf("evict %s: store delete failed: %v", r.Token(), err)
		}
		m.metrics.ActiveSessions.Set(float64(count))
		m.metrics.SessionEvents.WithLabelValues("evicted").Inc()
		log.Printf("evicted idle session %s", r.Token())
	}
}

// Close stops every room. Used on shutdown; persisted state survives.
func (m *Manager) Close() {
	m.mu.Lock()
	rooms := m.rooms
	m.rooms = make(map[string]*Room)
	m.mu.Unlock()

	for _, r := range rooms {
		r.Close()
	}
}

func (m *Manager) snapshotRooms() []*Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Room, 0, len(m.rooms))
	for _, r := range m.rooms {
		out = append(out, r)
	}
	return out
}

func sortByCreation(sessions []*session.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].Token < sessions[j].Token
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
}
