// Package cron provides the periodic tickers that drive reminder dispatch
// and escalation checks, plus slot-to-cron next-fire computation.
package cron

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
)

// cronParser parses standard 5-field cron expressions (minute, hour, dom, month, dow).
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// TickFunc runs one scheduler pass. It must be idempotent: the store's
// conditional updates make a repeated pass a no-op.
type TickFunc func(ctx context.Context, now time.Time)

// Ticker invokes a TickFunc at a fixed interval, firing once immediately
// on start.
type Ticker struct {
	name     string
	interval time.Duration
	tick     TickFunc
	logger   *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewTicker creates a ticker. interval defaults to 1 minute when zero.
func NewTicker(name string, interval time.Duration, tick TickFunc, logger *slog.Logger) *Ticker {
	if interval <= 0 {
		interval = 1 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ticker{
		name:     name,
		interval: interval,
		tick:     tick,
		logger:   logger,
	}
}

// Start begins the ticker loop in a background goroutine.
func (t *Ticker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	t.wg.Add(1)
	go t.loop(ctx)
	t.logger.Info("ticker started", "name", t.name, "interval", t.interval.String())
}

// Stop cancels the loop and waits for the in-flight tick to finish.
func (t *Ticker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	t.wg.Wait()
	t.logger.Info("ticker stopped", "name", t.name)
}

func (t *Ticker) loop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	// Fire immediately on startup, then on each tick.
	t.tick(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.tick(ctx, time.Now())
		}
	}
}

// SlotExpr converts an HH:MM slot to a 5-field cron expression.
func SlotExpr(slot string) (string, error) {
	var hh, mm int
	if _, err := fmt.Sscanf(strings.TrimSpace(slot), "%d:%d", &hh, &mm); err != nil {
		return "", fmt.Errorf("invalid slot %q: want HH:MM", slot)
	}
	if hh < 0 || hh > 23 || mm < 0 || mm > 59 {
		return "", fmt.Errorf("invalid slot %q: out of range", slot)
	}
	return fmt.Sprintf("%d %d * * *", mm, hh), nil
}

// NextSlotFire returns the next wall-clock time the HH:MM slot fires after
// the given time, in after's location.
func NextSlotFire(slot string, after time.Time) (time.Time, error) {
	expr, err := SlotExpr(slot)
	if err != nil {
		return time.Time{}, err
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse slot %q: %w", slot, err)
	}
	return sched.Next(after), nil
}
