package reminder

import (
	"context"
	"time"

	"github.com/basket/nudge/internal/bus"
	"github.com/basket/nudge/internal/persistence"
	"github.com/basket/nudge/internal/shared"
)

// DispatchReport summarizes one dispatch pass.
type DispatchReport struct {
	Slot    string `json:"slot,omitempty"`
	Date    string `json:"date"`
	Created int    `json:"created"`
	Sent    int    `json:"sent"`
	Skipped int    `json:"skipped"`
	Failed  int    `json:"failed"`
}

// DispatchSlot ensures a reminder row exists for every active recipient
// in the slot and sends the initial message for any row not yet sent.
// Rows are created before sending so a crash between the two steps is
// retried on the next tick instead of double-creating.
func (s *Service) DispatchSlot(ctx context.Context, slot string, now time.Time) (*DispatchReport, error) {
	date := s.dateOf(now)
	report := &DispatchReport{Slot: slot, Date: date}

	recipients, err := s.store.ListActiveBySlot(ctx, slot)
	if err != nil {
		return nil, err
	}
	for _, rec := range recipients {
		rem, created, err := s.store.CreateReminder(ctx, rec.ID, date, slot)
		if err != nil {
			s.logger.Error("create reminder failed",
				"recipient_id", rec.ID, "slot", slot, "error", err)
			report.Failed++
			continue
		}
		if created {
			report.Created++
		}
		if rem.Sent {
			report.Skipped++
			continue
		}
		if err := s.sendInitial(ctx, rec, rem.ID, now); err != nil {
			report.Failed++
			continue
		}
		report.Sent++
	}
	return report, nil
}

// sendInitial generates and delivers the first reminder, then marks the
// row sent and arms the escalation timer. Marking happens only after a
// successful send; a send failure leaves the row unsent for retry.
func (s *Service) sendInitial(ctx context.Context, rec persistence.Recipient, reminderID int64, now time.Time) error {
	ctx = s.reminderCtx(ctx, rec.ID, reminderID)
	text := s.gen.ReminderMessage(ctx, rec.Name)
	if err := s.send(ctx, rec.Phone, text); err != nil {
		s.logger.Error("reminder send failed",
			"recipient_id", rec.ID,
			"phone", shared.MaskPhone(rec.Phone),
			"error", err)
		return err
	}
	applied, err := s.store.MarkSent(ctx, reminderID, now, now.Add(s.policy.Spacing))
	if err != nil {
		s.logger.Error("mark sent failed", "reminder_id", reminderID, "error", err)
		return err
	}
	if !applied {
		// Another dispatcher beat us; the message went out twice but
		// the record stays consistent.
		s.logger.Warn("reminder already marked sent", "reminder_id", reminderID)
		return nil
	}
	if s.metrics != nil {
		s.metrics.RemindersSent.Add(ctx, 1)
	}
	s.publish(bus.TopicReminderSent, bus.ReminderEvent{
		ReminderID:  reminderID,
		RecipientID: rec.ID,
		Date:        s.dateOf(now),
		Slot:        rec.ReminderTime,
	})
	s.logger.Info("reminder sent",
		"recipient_id", rec.ID,
		"phone", shared.MaskPhone(rec.Phone),
		"slot", rec.ReminderTime)
	return nil
}

// DispatchDueSlots runs DispatchSlot for every active slot at or before
// the current time of day. Already-sent rows are skipped, so re-running
// past slots retries failed sends and catches up after downtime without
// duplicating messages.
func (s *Service) DispatchDueSlots(ctx context.Context, now time.Time) (*DispatchReport, error) {
	slots, err := s.Slots(ctx)
	if err != nil {
		return nil, err
	}
	cur := s.slotOf(now)
	merged := &DispatchReport{Date: s.dateOf(now)}
	for _, slot := range slots {
		if slot > cur {
			continue
		}
		r, err := s.DispatchSlot(ctx, slot, now)
		if err != nil {
			s.logger.Error("dispatch slot failed", "slot", slot, "error", err)
			merged.Failed++
			continue
		}
		merged.Created += r.Created
		merged.Sent += r.Sent
		merged.Skipped += r.Skipped
		merged.Failed += r.Failed
	}
	return merged, nil
}
