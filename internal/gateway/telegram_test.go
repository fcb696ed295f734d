package gateway

import (
	"context"
	"errors"
	"testing"
)

type memCursorStore struct {
	values map[string]string
	err    error
}

func (m *memCursorStore) SetKV(_ context.Context, key, value string) error {
	if m.err != nil {
		return m.err
	}
	if m.values == nil {
		m.values = map[string]string{}
	}
	m.values[key] = value
	return nil
}

func (m *memCursorStore) GetKV(_ context.Context, key string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	return m.values[key], nil
}

func TestTelegramOffsetRoundTrip(t *testing.T) {
	ctx := context.Background()
	cursors := &memCursorStore{}
	tg := NewTelegram("token", nil, nil, nil, cursors, discardLogger())

	if got := tg.loadOffset(ctx); got != 0 {
		t.Fatalf("fresh offset = %d, want 0", got)
	}

	tg.storeOffset(ctx, 421)
	if got := tg.loadOffset(ctx); got != 421 {
		t.Fatalf("offset after store = %d, want 421", got)
	}

	// A restarted gateway sees the same cursor.
	tg2 := NewTelegram("token", nil, nil, nil, cursors, discardLogger())
	if got := tg2.loadOffset(ctx); got != 421 {
		t.Fatalf("offset after restart = %d, want 421", got)
	}
}

func TestTelegramOffsetInvalidValueResets(t *testing.T) {
	ctx := context.Background()
	cursors := &memCursorStore{values: map[string]string{
		telegramOffsetKey: "not-a-number",
	}}
	tg := NewTelegram("token", nil, nil, nil, cursors, discardLogger())
	if got := tg.loadOffset(ctx); got != 0 {
		t.Fatalf("corrupt offset = %d, want 0", got)
	}
}

func TestTelegramOffsetStoreOptional(t *testing.T) {
	ctx := context.Background()
	tg := NewTelegram("token", nil, nil, nil, nil, discardLogger())
	tg.storeOffset(ctx, 7)
	if got := tg.loadOffset(ctx); got != 0 {
		t.Fatalf("offset without store = %d, want 0", got)
	}

	// A failing store degrades to offset 0 instead of blocking polling.
	broken := &memCursorStore{err: errors.New("db locked")}
	tg = NewTelegram("token", nil, nil, nil, broken, discardLogger())
	tg.storeOffset(ctx, 7)
	if got := tg.loadOffset(ctx); got != 0 {
		t.Fatalf("offset with failing store = %d, want 0", got)
	}
}
