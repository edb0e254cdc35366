package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EditPolicy controls which participants may change the session's code.
type EditPolicy string

const (
	EditHostOnly        EditPolicy = "host-only"
	EditAllParticipants EditPolicy = "all-participants"
	// EditInvitedOnly behaves like EditAllParticipants. The upstream
	// product never shipped an invitation mechanism, so the value is
	// accepted but not distinguished.
	EditInvitedOnly EditPolicy = "invited-only"
)

// ChatMessageType distinguishes user chat from system-generated entries.
type ChatMessageType string

const (
	ChatTypeMessage    ChatMessageType = "message"
	ChatTypeSystem     ChatMessageType = "system"
	ChatTypeCodeChange ChatMessageType = "code-change"
)

// Position is a zero-based cursor location in the document.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Selection is a contiguous range in the document. A nil *Selection
// means the participant has no active selection.
type Selection struct {
	StartLine   int `json:"start_line"`
	StartColumn int `json:"start_column"`
	EndLine     int `json:"end_line"`
	EndColumn   int `json:"end_column"`
}

// Settings holds the host-controlled session options.
type Settings struct {
	AllowEdit  EditPolicy `json:"allow_edit"`
	AllowChat  bool       `json:"allow_chat"`
	AllowVoice bool       `json:"allow_voice"`
	Theme      string     `json:"theme"`
	FontSize   int        `json:"font_size"`
}

// DefaultSettings returns the settings applied when the creator supplies none.
func DefaultSettings() Settings {
	return Settings{
		AllowEdit:  EditAllParticipants,
		AllowChat:  true,
		AllowVoice: false,
		Theme:      "vs-dark",
		FontSize:   14,
	}
}

// SettingsPatch carries a partial settings update; nil fields are left as-is.
type SettingsPatch struct {
	AllowEdit  *EditPolicy `json:"allow_edit,omitempty"`
	AllowChat  *bool       `json:"allow_chat,omitempty"`
	AllowVoice *bool       `json:"allow_voice,omitempty"`
	Theme      *string     `json:"theme,omitempty"`
	FontSize   *int        `json:"font_size,omitempty"`
}

// Apply merges the patch into s and reports whether anything changed.
func (p SettingsPatch) Apply(s *Settings) bool {
	changed := false
	if p.AllowEdit != nil && *p.AllowEdit != s.AllowEdit {
		s.AllowEdit = *p.AllowEdit
		changed = true
	}
	if p.AllowChat != nil && *p.AllowChat != s.AllowChat {
		s.AllowChat = *p.AllowChat
		changed = true
	}
	if p.AllowVoice != nil && *p.AllowVoice != s.AllowVoice {
		s.AllowVoice = *p.AllowVoice
		changed = true
	}
	if p.Theme != nil && *p.Theme != s.Theme {
		s.Theme = *p.Theme
		changed = true
	}
	if p.FontSize != nil && *p.FontSize != s.FontSize {
		s.FontSize = *p.FontSize
		changed = true
	}
	return changed
}

// Participant is one user's membership in a session. Cursor and
// Selection are advisory presence data, not part of the durable record.
type Participant struct {
	UserID    string     `json:"user_id"`
	Username  string     `json:"username"`
	IsActive  bool       `json:"is_active"`
	JoinedAt  time.Time  `json:"joined_at"`
	Cursor    *Position  `json:"cursor,omitempty"`
	Selection *Selection `json:"selection,omitempty"`
}

// ChatMessage is one entry in the session's append-only chat log.
// Timestamp is assigned at append time so every participant observes
// the same total order.
type ChatMessage struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Username  string          `json:"username"`
	Message   string          `json:"message"`
	Type      ChatMessageType `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
}

// CodeChange is a transient mutation request against the document.
// Clients always send Operation "replace" with the full new document in
// Content; the other fields exist for wire compatibility only.
type CodeChange struct {
	Operation string `json:"operation"`
	Position  int    `json:"position,omitempty"`
	Content   string `json:"content"`
	Length    int    `json:"length,omitempty"`
}

// Session is the authoritative record for one collaborative editing
// session. All mutation goes through the owning room actor; the methods
// below assume single-threaded access.
type Session struct {
	Token           string        `json:"token"`
	Title           string        `json:"title"`
	Description     string        `json:"description,omitempty"`
	OwnerID         string        `json:"owner_id"`
	Language        string        `json:"language"`
	Code            string        `json:"code"`
	Settings        Settings      `json:"settings"`
	Participants    []Participant `json:"participants"`
	Chat            []ChatMessage `json:"chat"`
	IsPublic        bool          `json:"is_public"`
	MaxParticipants int           `json:"max_participants"`
	CreatedAt       time.Time     `json:"created_at"`
	LastActivity    time.Time     `json:"last_activity"`
}

// CreateParams is the caller-supplied portion of a new session.
type CreateParams struct {
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Language        string         `json:"language"`
	IsPublic        bool           `json:"is_public"`
	MaxParticipants int            `json:"max_participants"`
	Settings        *SettingsPatch `json:"settings,omitempty"`
}

const defaultMaxParticipants = 10

// New validates params and builds a session with the owner as its first
// participant. The token is generated here and never changes.
func New(ownerID, ownerName string, params CreateParams) (*Session, error) {
	if strings.TrimSpace(params.Title) == "" {
		return nil, ErrInvalidParameters
	}
	if params.MaxParticipants == 0 {
		params.MaxParticipants = defaultMaxParticipants
	}
	if params.MaxParticipants < 1 {
		return nil, ErrInvalidParameters
	}
	if strings.TrimSpace(params.Language) == "" {
		params.Language = "javascript"
	}

	settings := DefaultSettings()
	if params.Settings != nil {
		params.Settings.Apply(&settings)
	}

	now := time.Now().UTC()
	return &Session{
		Token:       uuid.NewString(),
		Title:       strings.TrimSpace(params.Title),
		Description: strings.TrimSpace(params.Description),
		OwnerID:     ownerID,
		Language:    params.Language,
		Settings:    settings,
		Participants: []Participant{{
			UserID:   ownerID,
			Username: ownerName,
			IsActive: false,
			JoinedAt: now,
		}},
		IsPublic:        params.IsPublic,
		MaxParticipants: params.MaxParticipants,
		CreatedAt:       now,
		LastActivity:    now,
	}, nil
}

// Participant returns the membership entry for userID, if present.
func (s *Session) Participant(userID string) *Participant {
	for i := range s.Participants {
		if s.Participants[i].UserID == userID {
			return &s.Participants[i]
		}
	}
	return nil
}

// ActiveCount reports how many participants have a live connection bound.
func (s *Session) ActiveCount() int {
	n := 0
	for i := range s.Participants {
		if s.Participants[i].IsActive {
			n++
		}
	}
	return n
}

// Upsert adds userID to the session or updates an existing entry.
// activate marks the participant as having a live connection bound;
// passing false never deactivates an already-active entry. A full
// session rejects newcomers but never an existing member, so
// reconnects are not blocked by capacity.
func (s *Session) Upsert(userID, username string, activate bool) (*Participant, error) {
	if p := s.Participant(userID); p != nil {
		if activate {
			p.IsActive = true
		}
		if username != "" {
			p.Username = username
		}
		s.touch()
		return p, nil
	}
	if len(s.Participants) >= s.MaxParticipants {
		return nil, ErrFull
	}
	s.Participants = append(s.Participants, Participant{
		UserID:   userID,
		Username: username,
		IsActive: activate,
		JoinedAt: time.Now().UTC(),
	})
	s.touch()
	return &s.Participants[len(s.Participants)-1], nil
}

// Remove drops userID from the participant list entirely. Used for
// explicit leave; transient disconnects go through Deactivate instead.
func (s *Session) Remove(userID string) bool {
	for i := range s.Participants {
		if s.Participants[i].UserID == userID {
			s.Participants = append(s.Participants[:i], s.Participants[i+1:]...)
			s.touch()
			return true
		}
	}
	return false
}

// Deactivate marks userID disconnected while keeping its seat.
func (s *Session) Deactivate(userID string) bool {
	p := s.Participant(userID)
	if p == nil || !p.IsActive {
		return false
	}
	p.IsActive = false
	p.Cursor = nil
	p.Selection = nil
	return true
}

// SetCode replaces the whole document. The sync protocol has no
// incremental operations; the last accepted replace wins.
func (s *Session) SetCode(code string) {
	s.Code = code
	s.touch()
}

// SetLanguage updates the editing language.
func (s *Session) SetLanguage(language string) {
	s.Language = language
	s.touch()
}

// ApplySettings merges the patch and stamps activity when anything changed.
func (s *Session) ApplySettings(patch SettingsPatch) (Settings, bool) {
	changed := patch.Apply(&s.Settings)
	if changed {
		s.touch()
	}
	return s.Settings, changed
}

// AppendChat appends a message and returns the canonical stored entry.
func (s *Session) AppendChat(userID, username, text string, typ ChatMessageType) ChatMessage {
	msg := ChatMessage{
		ID:        uuid.NewString(),
		UserID:    userID,
		Username:  username,
		Message:   text,
		Type:      typ,
		Timestamp: time.Now().UTC(),
	}
	s.Chat = append(s.Chat, msg)
	s.touch()
	return msg
}

func (s *Session) touch() {
	s.LastActivity = time.Now().UTC()
}

// Clone deep-copies the session. Snapshots handed to other goroutines
// must not alias the actor-owned record.
func (s *Session) Clone() *Session {
	c := *s
	c.Participants = make([]Participant, len(s.Participants))
	copy(c.Participants, s.Participants)
	for i := range c.Participants {
		if cur := c.Participants[i].Cursor; cur != nil {
			dup := *cur
			c.Participants[i].Cursor = &dup
		}
		if sel := c.Participants[i].Selection; sel != nil {
			dup := *sel
			c.Participants[i].Selection = &dup
		}
	}
	c.Chat = make([]ChatMessage, len(s.Chat))
	copy(c.Chat, s.Chat)
	return &c
}
