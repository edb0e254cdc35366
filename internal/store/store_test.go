package store

import (
	"context"
	"testing"

	"github.com/antoniostano/codepair/internal/session"
)

func TestNewDefaultsToInMemory(t *testing.T) {
	s, err := New(context.Background(), "  ")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := s.(*InMemoryStore); !ok {
		t.Fatalf("store type = %T, want *InMemoryStore", s)
	}
}

func TestInMemoryRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	sess, err := session.New("u1", "alice", session.CreateParams{Title: "T"})
	if err != nil {
		t.Fatalf("session.New() error = %v", err)
	}
	if _, err := sess.Upsert("u2", "bob", true); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	sess.Participants[1].Cursor = &session.Position{Line: 2}
	sess.SetCode("package main")
	sess.AppendChat("u2", "bob", "hi", session.ChatTypeMessage)

	if err := s.Save(ctx, sess); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Mutating the original must not leak into the stored copy.
	sess.SetCode("tampered")

	loaded, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(loaded) != 1 {
		t.Fatalf("loaded %d sessions, want 1", len(loaded))
	}
	got := loaded[0]
	if got.Code != "package main" {
		t.Fatalf("Code = %q, want %q", got.Code, "package main")
	}
	if len(got.Participants) != 2 || len(got.Chat) != 1 {
		t.Fatalf("durable fields lost: %+v", got)
	}
	for _, p := range got.Participants {
		if p.IsActive || p.Cursor != nil || p.Selection != nil {
			t.Fatalf("presence survived reload: %+v", p)
		}
	}
}

func TestInMemoryDelete(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	sess, err := session.New("u1", "alice", session.CreateParams{Title: "T"})
	if err != nil {
		t.Fatalf("session.New() error = %v", err)
	}
	if err := s.Save(ctx, sess); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Delete(ctx, sess.Token); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	loaded, err := s.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(loaded) != 0 {
		t.Fatalf("loaded %d sessions after delete, want 0", len(loaded))
	}
}
