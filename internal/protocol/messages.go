package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/antoniostano/codepair/internal/session"
)

// MessageType identifies websocket payload variants.
type MessageType string

// Client-to-server message types.
const (
	TypeJoinRoom        MessageType = "join-room"
	TypeCodeChange      MessageType = "code-change"
	TypeCursorPosition  MessageType = "cursor-position"
	TypeSelectionChange MessageType = "selection-change"
	TypeLanguageChange  MessageType = "language-change"
	TypeChat            MessageType = "chat"
	TypeLeaveRoom       MessageType = "leave-room"
)

// Server-to-client message types.
const (
	TypeSessionState    MessageType = "session-state"
	TypeUserJoined      MessageType = "user-joined"
	TypeUserLeft        MessageType = "user-left"
	TypeCodeUpdate      MessageType = "code-update"
	TypeCursorUpdate    MessageType = "cursor-update"
	TypeSelectionUpdate MessageType = "selection-update"
	TypeLanguageUpdate  MessageType = "language-update"
	TypeChatMessage     MessageType = "chat-message"
	TypeError           MessageType = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// JoinRoom binds the connection to the session identified by Token and
// triggers a full-state resync via SessionState.
type JoinRoom struct {
	Type  MessageType `json:"type"`
	Token string      `json:"token"`
}

// CodeChange carries the entire new document. The protocol has
// whole-document replace semantics; there is no incremental patching.
type CodeChange struct {
	Type  MessageType `json:"type"`
	Token string      `json:"token"`
	Code  string      `json:"code"`
}

type CursorPosition struct {
	Type     MessageType      `json:"type"`
	Token    string           `json:"token"`
	Position session.Position `json:"position"`
}

// SelectionChange with a nil Selection clears the sender's selection.
type SelectionChange struct {
	Type      MessageType        `json:"type"`
	Selection *session.Selection `json:"selection"`
}

type LanguageChange struct {
	Type     MessageType `json:"type"`
	Token    string      `json:"token"`
	Language string      `json:"language"`
}

type Chat struct {
	Type    MessageType `json:"type"`
	Token   string      `json:"token"`
	Message string      `json:"message"`
}

type LeaveRoom struct {
	Type MessageType `json:"type"`
}

// SessionState is sent only to the joining connection; it is the resync
// snapshot, identical for first join and reconnect.
type SessionState struct {
	Type    MessageType      `json:"type"`
	Session *session.Session `json:"session"`
}

type UserJoined struct {
	Type     MessageType `json:"type"`
	UserID   string      `json:"user_id"`
	Username string      `json:"username"`
}

type UserLeft struct {
	Type     MessageType `json:"type"`
	UserID   string      `json:"user_id"`
	Username string      `json:"username"`
}

type CodeUpdate struct {
	Type     MessageType `json:"type"`
	Code     string      `json:"code"`
	UserID   string      `json:"user_id"`
	Username string      `json:"username"`
}

type CursorUpdate struct {
	Type     MessageType      `json:"type"`
	UserID   string           `json:"user_id"`
	Position session.Position `json:"position"`
}

type SelectionUpdate struct {
	Type      MessageType        `json:"type"`
	UserID    string             `json:"user_id"`
	Selection *session.Selection `json:"selection"`
}

type LanguageUpdate struct {
	Type      MessageType `json:"type"`
	Language  string      `json:"language"`
	ChangedBy string      `json:"changed_by"`
}

type ChatMessage struct {
	Type    MessageType         `json:"type"`
	Message session.ChatMessage `json:"message"`
}

// Error is delivered only to the originating connection, never broadcast.
type Error struct {
	Type    MessageType `json:"type"`
	Code    string      `json:"code"`
	Message string      `json:"message"`
}

// ParseClientMessage decodes a raw inbound frame into its typed struct.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}

	decode := func(out any) (any, error) {
		if err := json.Unmarshal(raw, out); err != nil {
			return nil, fmt.Errorf("decode %s: %w", env.Type, err)
		}
		return out, nil
	}

	switch env.Type {
	case TypeJoinRoom:
		var m JoinRoom
		if _, err := decode(&m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeCodeChange:
		var m CodeChange
		if _, err := decode(&m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeCursorPosition:
		var m CursorPosition
		if _, err := decode(&m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeSelectionChange:
		var m SelectionChange
		if _, err := decode(&m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeLanguageChange:
		var m LanguageChange
		if _, err := decode(&m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeChat:
		var m Chat
		if _, err := decode(&m); err != nil {
			return nil, err
		}
		return m, nil
	case TypeLeaveRoom:
		var m LeaveRoom
		if _, err := decode(&m); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, env.Type)
	}
}

// TypeOf reports the message type of a protocol value for metrics labels.
func TypeOf(v any) (MessageType, bool) {
	switch m := v.(type) {
	case SessionState:
		return m.Type, true
	case UserJoined:
		return m.Type, true
	case UserLeft:
		return m.Type, true
	case CodeUpdate:
		return m.Type, true
	case CursorUpdate:
		return m.Type, true
	case SelectionUpdate:
		return m.Type, true
	case LanguageUpdate:
		return m.Type, true
	case ChatMessage:
		return m.Type, true
	case Error:
		return m.Type, true
	case JoinRoom:
		return m.Type, true
	case CodeChange:
		return m.Type, true
	case CursorPosition:
		return m.Type, true
	case SelectionChange:
		return m.Type, true
	case LanguageChange:
		return m.Type, true
	case Chat:
		return m.Type, true
	case LeaveRoom:
		return m.Type, true
	default:
		return "", false
	}
}
