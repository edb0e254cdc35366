package backplane

import (
	"context"
	"encoding/json"
	"strings"
)

// Event is a room broadcast relayed between service instances. Payload
// is the already-encoded protocol event; ExcludeUserID carries the
// originator exclusion across the wire.
type Event struct {
	Origin        string          `json:"origin"`
	Token         string          `json:"token"`
	ExcludeUserID string          `json:"exclude_user_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// Backplane fans room events out to every instance holding connections
// for a session. Single-instance deployments use the no-op variant.
type Backplane interface {
	Publish(ctx context.Context, ev Event) error
	// Subscribe registers fn for remote events on the session's channel
	// and returns an unsubscribe func. Events originated by this
	// instance are filtered out before fn is called.
	Subscribe(ctx context.Context, token string, fn func(Event)) (func(), error)
	Close() error
}

// New creates a Redis-backed backplane when configured, otherwise no-op.
func New(ctx context.Context, redisURL, instanceID string) (Backplane, error) {
	if strings.TrimSpace(redisURL) == "" {
		return NewNoop(), nil
	}
	return NewRedis(ctx, redisURL, instanceID)
}

// Noop is the single-instance backplane: publishes go nowhere and no
// remote events ever arrive.
type Noop struct{}

func NewNoop() *Noop { return &Noop{} }

func (*Noop) Publish(context.Context, Event) error { return nil }

func (*Noop) Subscribe(context.Context, string, func(Event)) (func(), error) {
	return func() {}, nil
}

func (*Noop) Close() error { return nil }
