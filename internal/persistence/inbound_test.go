package persistence

import (
	"context"
	"testing"

	"github.com/basket/nudge/internal/shared"
)

func TestLogInbound_RoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := shared.WithTraceID(context.Background(), "trace-abc")

	if err := store.LogInbound(ctx, "972501234567", "taken", "confirmed", "thanks!"); err != nil {
		t.Fatalf("log inbound: %v", err)
	}
	if err := store.LogInbound(ctx, "972501234567", "help", "help", "commands: ..."); err != nil {
		t.Fatalf("log inbound: %v", err)
	}

	msgs, err := store.ListInbound(ctx, 10)
	if err != nil {
		t.Fatalf("list inbound: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	// Newest first.
	if msgs[0].Action != "help" || msgs[1].Action != "confirmed" {
		t.Fatalf("unexpected ordering: %+v", msgs)
	}
	if msgs[0].TraceID != "trace-abc" {
		t.Fatalf("trace_id = %q, want trace-abc", msgs[0].TraceID)
	}
}

func TestListInbound_Limit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := store.LogInbound(ctx, "972501234567", "hello", "unknown", ""); err != nil {
			t.Fatalf("log inbound: %v", err)
		}
	}

	msgs, err := store.ListInbound(ctx, 3)
	if err != nil {
		t.Fatalf("list inbound: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected limit 3, got %d", len(msgs))
	}
}
