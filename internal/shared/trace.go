package shared

import (
	"context"

	"github.com/google/uuid"
)

type traceKey struct{}
type recipientIDKey struct{}
type reminderIDKey struct{}

// WithTraceID attaches a trace_id to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceKey{}, traceID)
}

// TraceID extracts trace_id from context. Returns "-" if absent.
func TraceID(ctx context.Context) string {
	if v, ok := ctx.Value(traceKey{}).(string); ok && v != "" {
		return v
	}
	return "-"
}

// NewTraceID generates a new trace_id.
func NewTraceID() string {
	return uuid.NewString()
}

// WithRecipientID attaches a recipient_id to the context.
func WithRecipientID(ctx context.Context, recipientID int64) context.Context {
	return context.WithValue(ctx, recipientIDKey{}, recipientID)
}

// RecipientID extracts recipient_id from context. Returns 0 if absent.
func RecipientID(ctx context.Context) int64 {
	if v, ok := ctx.Value(recipientIDKey{}).(int64); ok {
		return v
	}
	return 0
}

// WithReminderID attaches a reminder_id to the context.
func WithReminderID(ctx context.Context, reminderID int64) context.Context {
	return context.WithValue(ctx, reminderIDKey{}, reminderID)
}

// ReminderID extracts reminder_id from context. Returns 0 if absent.
func ReminderID(ctx context.Context) int64 {
	if v, ok := ctx.Value(reminderIDKey{}).(int64); ok {
		return v
	}
	return 0
}
