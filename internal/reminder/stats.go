package reminder

import (
	"context"
	"fmt"
	"time"

	"github.com/basket/nudge/internal/persistence"
)

const defaultStatsDays = 7

func (s *Service) sinceDate(daysBack int) string {
	if daysBack <= 0 {
		daysBack = defaultStatsDays
	}
	return s.clock().In(s.loc).AddDate(0, 0, -daysBack).Format("2006-01-02")
}

// ConfirmationStats aggregates outcomes over the trailing daysBack days
// (default 7).
func (s *Service) ConfirmationStats(ctx context.Context, daysBack int) (*persistence.ConfirmationStats, error) {
	return s.store.ConfirmationStatsSince(ctx, s.sinceDate(daysBack))
}

// EscalationStats aggregates ladder activity over the trailing daysBack
// days (default 7).
func (s *Service) EscalationStats(ctx context.Context, daysBack int) (*persistence.EscalationStats, error) {
	return s.store.EscalationStatsSince(ctx, s.sinceDate(daysBack))
}

// PendingEscalations lists reminders still awaiting confirmation with an
// armed escalation clock.
func (s *Service) PendingEscalations(ctx context.Context) ([]persistence.PendingReminder, error) {
	return s.store.ListPending(ctx)
}

// RemindersForDate lists every reminder record for date (YYYY-MM-DD),
// confirmed or not. An empty date means today.
func (s *Service) RemindersForDate(ctx context.Context, date string) ([]persistence.PendingReminder, error) {
	if date == "" {
		date = s.dateOf(s.clock())
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return nil, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrValidation, date)
	}
	return s.store.ListRemindersForDate(ctx, date)
}

// RecentMessages returns the newest inbound messages, newest first.
func (s *Service) RecentMessages(ctx context.Context, limit int) ([]persistence.InboundMessage, error) {
	return s.store.ListInbound(ctx, limit)
}
