package room

import "github.com/google/uuid"

// Subscriber is one live connection's attachment to a room. The room
// actor is the only sender on the events channel and closes it when the
// subscriber detaches; the connection gateway drains it until then.
type Subscriber struct {
	id       string
	userID   string
	username string
	send     chan any
}

func NewSubscriber(userID, username string, buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 256
	}
	return &Subscriber{
		id:       uuid.NewString(),
		userID:   userID,
		username: username,
		send:     make(chan any, buffer),
	}
}

func (s *Subscriber) ID() string       { return s.id }
func (s *Subscriber) UserID() string   { return s.userID }
func (s *Subscriber) Username() string { return s.username }

// Events yields protocol events for this connection. Values are either
// typed protocol structs or json.RawMessage frames relayed from other
// instances; both encode correctly via WriteJSON.
func (s *Subscriber) Events() <-chan any { return s.send }
