package persistence

import (
	"context"
	"database/sql"
	"fmt"
)

// ConfirmationStats summarizes reminder outcomes since a given date.
type ConfirmationStats struct {
	SinceDate          string  `json:"since_date"`
	TotalSent          int     `json:"total_sent"`
	Confirmed          int     `json:"confirmed"`
	Unconfirmed        int     `json:"unconfirmed"`
	ConfirmationRate   float64 `json:"confirmation_rate"`
	AvgResponseMinutes float64 `json:"avg_response_minutes"`
}

// EscalationStats summarizes escalation activity since a given date.
type EscalationStats struct {
	SinceDate          string      `json:"since_date"`
	RemindersEscalated int         `json:"reminders_escalated"`
	TotalEscalations   int         `json:"total_escalations"`
	ByLevel            map[int]int `json:"by_level"`
	GaveUp             int         `json:"gave_up"`
	ConfirmedAfterEsc  int         `json:"confirmed_after_escalation"`
}

// ConfirmationStatsSince aggregates sent reminders from sinceDate (inclusive,
// YYYY-MM-DD) onward.
func (s *Store) ConfirmationStatsSince(ctx context.Context, sinceDate string) (*ConfirmationStats, error) {
	stats := &ConfirmationStats{SinceDate: sinceDate}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(1),
			COALESCE(SUM(confirmed), 0)
		FROM daily_reminders
		WHERE reminder_date >= ? AND sent = 1;
	`, sinceDate).Scan(&stats.TotalSent, &stats.Confirmed)
	if err != nil {
		return nil, fmt.Errorf("confirmation stats totals: %w", err)
	}
	stats.Unconfirmed = stats.TotalSent - stats.Confirmed
	if stats.TotalSent > 0 {
		stats.ConfirmationRate = float64(stats.Confirmed) / float64(stats.TotalSent)
	}

	var avg sql.NullFloat64
	err = s.db.QueryRowContext(ctx, `
		SELECT AVG((julianday(confirmation_time) - julianday(sent_at)) * 1440.0)
		FROM daily_reminders
		WHERE reminder_date >= ? AND confirmed = 1 AND sent_at IS NOT NULL AND confirmation_time IS NOT NULL;
	`, sinceDate).Scan(&avg)
	if err != nil {
		return nil, fmt.Errorf("confirmation stats response time: %w", err)
	}
	if avg.Valid {
		stats.AvgResponseMinutes = avg.Float64
	}
	return stats, nil
}

// EscalationStatsSince aggregates escalation activity from sinceDate
// (inclusive, YYYY-MM-DD) onward.
func (s *Store) EscalationStatsSince(ctx context.Context, sinceDate string) (*EscalationStats, error) {
	stats := &EscalationStats{SinceDate: sinceDate, ByLevel: make(map[int]int)}

	rows, err := s.db.QueryContext(ctx, `
		SELECT escalation_level, COUNT(1)
		FROM daily_reminders
		WHERE reminder_date >= ? AND escalation_level > 0
		GROUP BY escalation_level;
	`, sinceDate)
	if err != nil {
		return nil, fmt.Errorf("escalation stats by level: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var level, count int
		if err := rows.Scan(&level, &count); err != nil {
			return nil, fmt.Errorf("scan escalation level: %w", err)
		}
		stats.ByLevel[level] = count
		stats.RemindersEscalated += count
		// A reminder at level N received N escalation messages.
		stats.TotalEscalations += level * count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("escalation level rows: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(1)
		FROM daily_reminders
		WHERE reminder_date >= ? AND sent = 1 AND confirmed = 0 AND next_escalation_time IS NULL;
	`, sinceDate).Scan(&stats.GaveUp)
	if err != nil {
		return nil, fmt.Errorf("escalation stats gave up: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(1)
		FROM daily_reminders
		WHERE reminder_date >= ? AND confirmed = 1 AND escalation_level > 0;
	`, sinceDate).Scan(&stats.ConfirmedAfterEsc)
	if err != nil {
		return nil, fmt.Errorf("escalation stats confirmed after escalation: %w", err)
	}
	return stats, nil
}
