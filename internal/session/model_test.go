package session

import (
	"errors"
	"testing"
)

func newTestSession(t *testing.T, max int) *Session {
	t.Helper()
	s, err := New("u1", "alice", CreateParams{Title: "T", MaxParticipants: max})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestNewValidation(t *testing.T) {
	cases := []struct {
		name    string
		params  CreateParams
		wantErr error
	}{
		{"empty title", CreateParams{Title: "   "}, ErrInvalidParameters},
		{"negative capacity", CreateParams{Title: "T", MaxParticipants: -1}, ErrInvalidParameters},
		{"ok", CreateParams{Title: "T"}, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New("u1", "alice", tc.params)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("New() error = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestNewDefaults(t *testing.T) {
	s := newTestSession(t, 0)
	if s.Token == "" {
		t.Fatalf("missing token")
	}
	if s.MaxParticipants != defaultMaxParticipants {
		t.Fatalf("MaxParticipants = %d, want %d", s.MaxParticipants, defaultMaxParticipants)
	}
	if s.Settings.AllowEdit != EditAllParticipants {
		t.Fatalf("AllowEdit = %q, want %q", s.Settings.AllowEdit, EditAllParticipants)
	}
	if len(s.Participants) != 1 || s.Participants[0].UserID != "u1" {
		t.Fatalf("owner not seeded as first participant: %+v", s.Participants)
	}
}

func TestNewSettingsOverride(t *testing.T) {
	hostOnly := EditHostOnly
	noChat := false
	s, err := New("u1", "alice", CreateParams{
		Title:    "T",
		Settings: &SettingsPatch{AllowEdit: &hostOnly, AllowChat: &noChat},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if s.Settings.AllowEdit != EditHostOnly {
		t.Fatalf("AllowEdit = %q, want %q", s.Settings.AllowEdit, EditHostOnly)
	}
	if s.Settings.AllowChat {
		t.Fatalf("AllowChat = true, want false")
	}
	if s.Settings.FontSize != DefaultSettings().FontSize {
		t.Fatalf("unpatched field changed: FontSize = %d", s.Settings.FontSize)
	}
}

func TestUpsertNoDuplicates(t *testing.T) {
	s := newTestSession(t, 5)
	for i := 0; i < 3; i++ {
		if _, err := s.Upsert("u2", "bob", true); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}
	if len(s.Participants) != 2 {
		t.Fatalf("participants = %d, want 2", len(s.Participants))
	}
	seen := map[string]bool{}
	for _, p := range s.Participants {
		if seen[p.UserID] {
			t.Fatalf("duplicate participant %q", p.UserID)
		}
		seen[p.UserID] = true
	}
}

func TestUpsertFull(t *testing.T) {
	s := newTestSession(t, 2)
	if _, err := s.Upsert("u2", "bob", true); err != nil {
		t.Fatalf("Upsert(u2) error = %v", err)
	}
	if _, err := s.Upsert("u3", "carol", true); !errors.Is(err, ErrFull) {
		t.Fatalf("Upsert(u3) error = %v, want ErrFull", err)
	}
	// An existing member is never blocked by capacity.
	if _, err := s.Upsert("u2", "bob", true); err != nil {
		t.Fatalf("re-Upsert(u2) error = %v", err)
	}
}

func TestDeactivateKeepsSeat(t *testing.T) {
	s := newTestSession(t, 2)
	p, err := s.Upsert("u2", "bob", true)
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	p.Cursor = &Position{Line: 3, Column: 1}

	if !s.Deactivate("u2") {
		t.Fatalf("Deactivate(u2) = false")
	}
	got := s.Participant("u2")
	if got == nil {
		t.Fatalf("disconnected participant was removed")
	}
	if got.IsActive || got.Cursor != nil {
		t.Fatalf("presence not cleared on disconnect: %+v", got)
	}
	// Seat still counts against capacity.
	if _, err := s.Upsert("u3", "carol", true); !errors.Is(err, ErrFull) {
		t.Fatalf("Upsert(u3) error = %v, want ErrFull", err)
	}
}

func TestRemoveFreesSeat(t *testing.T) {
	s := newTestSession(t, 2)
	if _, err := s.Upsert("u2", "bob", true); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if !s.Remove("u2") {
		t.Fatalf("Remove(u2) = false")
	}
	if s.Participant("u2") != nil {
		t.Fatalf("participant still present after Remove")
	}
	if _, err := s.Upsert("u3", "carol", true); err != nil {
		t.Fatalf("Upsert(u3) after Remove error = %v", err)
	}
}

func TestAppendChatOrder(t *testing.T) {
	s := newTestSession(t, 5)
	first := s.AppendChat("u1", "alice", "hello", ChatTypeMessage)
	second := s.AppendChat("u1", "alice", "world", ChatTypeMessage)
	if len(s.Chat) != 2 {
		t.Fatalf("chat length = %d, want 2", len(s.Chat))
	}
	if s.Chat[0].ID != first.ID || s.Chat[1].ID != second.ID {
		t.Fatalf("chat order does not match append order")
	}
	if first.ID == second.ID {
		t.Fatalf("chat messages share an ID")
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	s := newTestSession(t, 5)
	s.Participants[0].Cursor = &Position{Line: 1}
	s.AppendChat("u1", "alice", "hi", ChatTypeMessage)

	c := s.Clone()
	c.Participants[0].Cursor.Line = 99
	c.Participants[0].Username = "mallory"
	c.Chat[0].Message = "tampered"
	c.Code = "changed"

	if s.Participants[0].Cursor.Line != 1 {
		t.Fatalf("clone aliases cursor")
	}
	if s.Participants[0].Username != "alice" {
		t.Fatalf("clone aliases participants")
	}
	if s.Chat[0].Message != "hi" {
		t.Fatalf("clone aliases chat")
	}
	if s.Code != "" {
		t.Fatalf("clone aliases code")
	}
}

func TestSettingsPatchApply(t *testing.T) {
	s := DefaultSettings()
	if changed := (SettingsPatch{}).Apply(&s); changed {
		t.Fatalf("empty patch reported a change")
	}
	size := 18
	if changed := (SettingsPatch{FontSize: &size}).Apply(&s); !changed {
		t.Fatalf("patch reported no change")
	}
	if s.FontSize != 18 {
		t.Fatalf("FontSize = %d, want 18", s.FontSize)
	}
}
