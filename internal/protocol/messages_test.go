package protocol

import (
	"errors"
	"testing"
)

func TestParseClientMessageJoinRoom(t *testing.T) {
	raw := []byte(`{"type":"join-room","token":"abc-123"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	join, ok := msg.(JoinRoom)
	if !ok {
		t.Fatalf("message type = %T, want JoinRoom", msg)
	}
	if join.Token != "abc-123" {
		t.Fatalf("Token = %q, want %q", join.Token, "abc-123")
	}
}

func TestParseClientMessageCodeChange(t *testing.T) {
	raw := []byte(`{"type":"code-change","token":"abc","code":"package main"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	change, ok := msg.(CodeChange)
	if !ok {
		t.Fatalf("message type = %T, want CodeChange", msg)
	}
	if change.Code != "package main" {
		t.Fatalf("Code = %q, want full document", change.Code)
	}
}

func TestParseClientMessageCursorPosition(t *testing.T) {
	raw := []byte(`{"type":"cursor-position","token":"abc","position":{"line":4,"column":12}}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	cursor, ok := msg.(CursorPosition)
	if !ok {
		t.Fatalf("message type = %T, want CursorPosition", msg)
	}
	if cursor.Position.Line != 4 || cursor.Position.Column != 12 {
		t.Fatalf("unexpected position: %+v", cursor.Position)
	}
}

func TestParseClientMessageSelectionNull(t *testing.T) {
	raw := []byte(`{"type":"selection-change","selection":null}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	sel, ok := msg.(SelectionChange)
	if !ok {
		t.Fatalf("message type = %T, want SelectionChange", msg)
	}
	if sel.Selection != nil {
		t.Fatalf("Selection = %+v, want nil (cleared)", sel.Selection)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageRejectsMalformedJSON(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":`)); err == nil {
		t.Fatalf("ParseClientMessage() accepted malformed JSON")
	}
}
