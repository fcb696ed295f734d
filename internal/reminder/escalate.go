package reminder

import (
	"context"
	"time"

	"github.com/basket/nudge/internal/bus"
	"github.com/basket/nudge/internal/persistence"
	"github.com/basket/nudge/internal/shared"
)

// EscalationReport summarizes one escalation pass.
type EscalationReport struct {
	Checked int `json:"checked"`
	Sent    int `json:"sent"`
	Stopped int `json:"stopped"`
	Failed  int `json:"failed"`
}

// CheckEscalations advances the ladder for every due unconfirmed
// reminder. A confirmation arriving mid-pass loses nothing: the
// conditional updates reject the stale write and the candidate is
// counted as already resolved.
func (s *Service) CheckEscalations(ctx context.Context, now time.Time) (*EscalationReport, error) {
	due, err := s.store.ListDueEscalations(ctx, now)
	if err != nil {
		return nil, err
	}
	report := &EscalationReport{Checked: len(due)}
	for _, p := range due {
		switch outcome := s.escalateOne(ctx, p, now); outcome {
		case escalated:
			report.Sent++
		case stopped:
			report.Stopped++
		case failed:
			report.Failed++
		}
	}
	return report, nil
}

type escalationOutcome int

const (
	escalated escalationOutcome = iota
	stopped
	failed
	superseded
)

func (s *Service) escalateOne(ctx context.Context, p persistence.PendingReminder, now time.Time) escalationOutcome {
	rem, rec := p.Reminder, p.Recipient
	ctx = s.reminderCtx(ctx, rec.ID, rem.ID)

	if rem.EscalationLevel >= s.policy.MaxLevel || now.Sub(rem.CreatedAt) > s.policy.Cutoff {
		return s.giveUp(ctx, rem, rec)
	}

	level := rem.EscalationLevel + 1
	elapsed := now.Sub(rem.CreatedAt)
	text := s.gen.EscalationMessage(ctx, level, rec.Name, elapsed)
	if err := s.send(ctx, rec.Phone, text); err != nil {
		s.logger.Error("escalation send failed",
			"reminder_id", rem.ID,
			"level", level,
			"phone", shared.MaskPhone(rec.Phone),
			"error", err)
		return failed
	}

	// The final rung disarms the timer instead of scheduling another.
	var next *time.Time
	if level < s.policy.MaxLevel {
		t := now.Add(s.policy.Spacing)
		next = &t
	}
	applied, err := s.store.AdvanceEscalation(ctx, rem.ID, rem.EscalationLevel, text, now, next)
	if err != nil {
		s.logger.Error("advance escalation failed", "reminder_id", rem.ID, "error", err)
		return failed
	}
	if !applied {
		// Confirmed or advanced by someone else between list and write.
		s.logger.Info("escalation superseded", "reminder_id", rem.ID, "level", level)
		return superseded
	}
	if s.metrics != nil {
		s.metrics.EscalationsSent.Add(ctx, 1)
	}
	s.publish(bus.TopicEscalationSent, bus.EscalationEvent{
		ReminderID:  rem.ID,
		RecipientID: rec.ID,
		Level:       level,
	})
	s.logger.Info("escalation sent",
		"reminder_id", rem.ID,
		"level", level,
		"phone", shared.MaskPhone(rec.Phone))
	return escalated
}

func (s *Service) giveUp(ctx context.Context, rem persistence.Reminder, rec persistence.Recipient) escalationOutcome {
	applied, err := s.store.StopEscalation(ctx, rem.ID)
	if err != nil {
		s.logger.Error("stop escalation failed", "reminder_id", rem.ID, "error", err)
		return failed
	}
	if !applied {
		return superseded
	}
	if s.metrics != nil {
		s.metrics.GaveUpTotal.Add(ctx, 1)
	}
	s.publish(bus.TopicReminderGaveUp, bus.ReminderEvent{
		ReminderID:  rem.ID,
		RecipientID: rec.ID,
		Date:        rem.Date,
		Slot:        rem.Slot,
		Level:       rem.EscalationLevel,
	})
	s.logger.Warn("escalation gave up",
		"reminder_id", rem.ID,
		"level", rem.EscalationLevel,
		"phone", shared.MaskPhone(rec.Phone))
	return stopped
}
