package backplane

import (
	"context"
	"testing"
)

func TestNewDefaultsToNoop(t *testing.T) {
	bp, err := New(context.Background(), "", "inst-1")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, ok := bp.(*Noop); !ok {
		t.Fatalf("backplane type = %T, want *Noop", bp)
	}
}

func TestNoopNeverDelivers(t *testing.T) {
	ctx := context.Background()
	bp := NewNoop()

	delivered := false
	cancel, err := bp.Subscribe(ctx, "tok", func(Event) { delivered = true })
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	defer cancel()

	if err := bp.Publish(ctx, Event{Token: "tok"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if delivered {
		t.Fatalf("noop backplane delivered an event")
	}
}
