package cron_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/basket/nudge/internal/cron"
)

// waitFor polls check at short intervals until it returns true or the deadline
// elapses. This avoids fixed time.Sleep calls that cause flaky tests.
func waitFor(t *testing.T, deadline time.Duration, check func() bool) {
	t.Helper()
	end := time.Now().Add(deadline)
	for time.Now().Before(end) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestTicker_FiresImmediatelyAndRepeats(t *testing.T) {
	var ticks atomic.Int64
	ticker := cron.NewTicker("test", 20*time.Millisecond, func(ctx context.Context, now time.Time) {
		ticks.Add(1)
	}, nil)

	ticker.Start(context.Background())
	defer ticker.Stop()

	waitFor(t, 2*time.Second, func() bool { return ticks.Load() >= 3 })
}

func TestTicker_StopDrainsInFlightTick(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var finished atomic.Bool

	ticker := cron.NewTicker("slow", time.Hour, func(ctx context.Context, now time.Time) {
		close(started)
		<-release
		finished.Store(true)
	}, nil)

	ticker.Start(context.Background())
	<-started

	done := make(chan struct{})
	go func() {
		ticker.Stop()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Stop returned while a tick was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after tick finished")
	}
	if !finished.Load() {
		t.Fatal("tick did not run to completion")
	}
}

func TestSlotExpr(t *testing.T) {
	tests := []struct {
		slot    string
		want    string
		wantErr bool
	}{
		{slot: "08:00", want: "0 8 * * *"},
		{slot: "20:30", want: "30 20 * * *"},
		{slot: "00:00", want: "0 0 * * *"},
		{slot: "23:59", want: "59 23 * * *"},
		{slot: "24:00", wantErr: true},
		{slot: "08:60", wantErr: true},
		{slot: "8am", wantErr: true},
		{slot: "", wantErr: true},
	}
	for _, tt := range tests {
		got, err := cron.SlotExpr(tt.slot)
		if tt.wantErr {
			if err == nil {
				t.Errorf("SlotExpr(%q) = %q, want error", tt.slot, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("SlotExpr(%q): %v", tt.slot, err)
			continue
		}
		if got != tt.want {
			t.Errorf("SlotExpr(%q) = %q, want %q", tt.slot, got, tt.want)
		}
	}
}

func TestNextSlotFire(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Jerusalem")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	after := time.Date(2026, 8, 12, 7, 30, 0, 0, loc)

	next, err := cron.NextSlotFire("08:00", after)
	if err != nil {
		t.Fatalf("next fire: %v", err)
	}
	want := time.Date(2026, 8, 12, 8, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}

	// Already past today's slot rolls to tomorrow.
	after = time.Date(2026, 8, 12, 9, 0, 0, 0, loc)
	next, err = cron.NextSlotFire("08:00", after)
	if err != nil {
		t.Fatalf("next fire: %v", err)
	}
	want = time.Date(2026, 8, 13, 8, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("next = %v, want %v", next, want)
	}
}
