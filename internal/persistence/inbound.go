package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/basket/nudge/internal/shared"
)

// InboundMessage is one received gateway message and how it was handled.
type InboundMessage struct {
	ID        int64     `json:"id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	Action    string    `json:"action"`
	Reply     string    `json:"reply"`
	TraceID   string    `json:"trace_id"`
	CreatedAt time.Time `json:"created_at"`
}

// LogInbound records a received message and the action taken on it.
// The trace ID is taken from ctx.
func (s *Store) LogInbound(ctx context.Context, sender, body, action, reply string) error {
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO inbound_messages (sender, body, action, reply, trace_id)
			VALUES (?, ?, ?, ?, ?);
		`, sender, body, action, reply, shared.TraceID(ctx))
		return err
	})
	if err != nil {
		return fmt.Errorf("log inbound message: %w", err)
	}
	return nil
}

// ListInbound returns the most recent inbound messages, newest first.
func (s *Store) ListInbound(ctx context.Context, limit int) ([]InboundMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender, body, action, reply, trace_id, created_at
		FROM inbound_messages
		ORDER BY id DESC
		LIMIT ?;
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list inbound messages: %w", err)
	}
	defer rows.Close()

	var out []InboundMessage
	for rows.Next() {
		var m InboundMessage
		if err := rows.Scan(&m.ID, &m.Sender, &m.Body, &m.Action, &m.Reply, &m.TraceID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan inbound message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
