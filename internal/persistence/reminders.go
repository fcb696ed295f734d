package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/basket/nudge/internal/bus"
)

const reminderColumns = `id, recipient_id, reminder_date, reminder_time, sent, sent_at,
	confirmed, confirmation_time, confirmation_message, last_reply, last_reply_at,
	escalation_level, next_escalation_time, gave_up, escalation_history, created_at, updated_at`

func scanReminder(scanFn func(dest ...any) error, r *Reminder) error {
	var sent, confirmed, gaveUp int
	var sentAt, confirmationTime, lastReplyAt, nextEscalation sql.NullTime
	if err := scanFn(
		&r.ID,
		&r.RecipientID,
		&r.Date,
		&r.Slot,
		&sent,
		&sentAt,
		&confirmed,
		&confirmationTime,
		&r.ConfirmationMessage,
		&r.LastReply,
		&lastReplyAt,
		&r.EscalationLevel,
		&nextEscalation,
		&gaveUp,
		&r.EscalationHistory,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return err
	}
	r.Sent = sent != 0
	r.Confirmed = confirmed != 0
	r.GaveUp = gaveUp != 0
	if sentAt.Valid {
		t := sentAt.Time
		r.SentAt = &t
	}
	if confirmationTime.Valid {
		t := confirmationTime.Time
		r.ConfirmationTime = &t
	}
	if lastReplyAt.Valid {
		t := lastReplyAt.Time
		r.LastReplyAt = &t
	}
	if nextEscalation.Valid {
		t := nextEscalation.Time
		r.NextEscalationTime = &t
	}
	return nil
}

// History decodes the reminder's escalation history.
func (r Reminder) History() ([]EscalationRecord, error) {
	raw := r.EscalationHistory
	if raw == "" {
		raw = "[]"
	}
	var out []EscalationRecord
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("decode escalation history: %w", err)
	}
	return out, nil
}

// CreateReminder inserts a reminder for (recipientID, date). The UNIQUE
// constraint is the sole duplicate arbiter: on conflict the existing row
// is returned with created=false and no fields are modified.
func (s *Store) CreateReminder(ctx context.Context, recipientID int64, date, slot string) (*Reminder, bool, error) {
	var id int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO daily_reminders (recipient_id, reminder_date, reminder_time, created_at, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
		`, recipientID, date, slot)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			existing, gerr := s.GetReminderByRecipientAndDate(ctx, recipientID, date)
			if gerr != nil {
				return nil, false, gerr
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("create reminder: %w", err)
	}
	reminder, err := s.GetReminder(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if s.bus != nil {
		s.bus.Publish(bus.TopicReminderCreated, bus.ReminderEvent{
			ReminderID:  reminder.ID,
			RecipientID: reminder.RecipientID,
			Date:        reminder.Date,
			Slot:        reminder.Slot,
		})
	}
	return reminder, true, nil
}

func (s *Store) GetReminder(ctx context.Context, id int64) (*Reminder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reminderColumns+` FROM daily_reminders WHERE id = ?;`, id)
	var r Reminder
	if err := scanReminder(row.Scan, &r); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get reminder: %w", err)
	}
	return &r, nil
}

func (s *Store) GetReminderByRecipientAndDate(ctx context.Context, recipientID int64, date string) (*Reminder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+reminderColumns+`
		FROM daily_reminders
		WHERE recipient_id = ? AND reminder_date = ?;
	`, recipientID, date)
	var r Reminder
	if err := scanReminder(row.Scan, &r); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get reminder by recipient/date: %w", err)
	}
	return &r, nil
}

// MarkSent flips the reminder to sent and arms its first escalation. The
// conditional WHERE makes concurrent dispatchers race-safe: only one
// caller observes applied=true.
func (s *Store) MarkSent(ctx context.Context, id int64, sentAt, nextEscalation time.Time) (bool, error) {
	var applied bool
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE daily_reminders
			SET sent = 1,
				sent_at = ?,
				next_escalation_time = ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND sent = 0;
		`, sentAt.UTC(), nextEscalation.UTC(), id)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		applied = affected == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("mark reminder sent: %w", err)
	}
	return applied, nil
}

// Confirm resolves a pending reminder. confirmation_time and
// confirmation_message are written once: a second confirming reply observes
// applied=false and changes nothing. Gave-up records are terminal and
// never transition to confirmed.
func (s *Store) Confirm(ctx context.Context, id int64, message string, at time.Time) (bool, error) {
	var applied bool
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE daily_reminders
			SET confirmed = 1,
				confirmation_time = ?,
				confirmation_message = ?,
				next_escalation_time = NULL,
				last_reply = ?,
				last_reply_at = ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND confirmed = 0 AND gave_up = 0;
		`, at.UTC(), message, message, at.UTC(), id)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		applied = affected == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("confirm reminder: %w", err)
	}
	return applied, nil
}

// RecordReply stores the latest raw inbound text on the reminder without
// touching confirmation state.
func (s *Store) RecordReply(ctx context.Context, id int64, text string, at time.Time) error {
	err := retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			UPDATE daily_reminders
			SET last_reply = ?,
				last_reply_at = ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ?;
		`, text, at.UTC(), id)
		return err
	})
	if err != nil {
		return fmt.Errorf("record reply: %w", err)
	}
	return nil
}

// AdvanceEscalation moves the reminder from expectedLevel to
// expectedLevel+1, appends the sent message to the history, and arms the
// next escalation (nil next marks the ladder's last rung). The level guard
// in the WHERE clause rejects stale writers: a checker that lost the race
// observes applied=false.
func (s *Store) AdvanceEscalation(ctx context.Context, id int64, expectedLevel int, message string, at time.Time, next *time.Time) (bool, error) {
	var nextVal any
	if next != nil {
		nextVal = next.UTC()
	}
	var applied bool
	err := retryOnBusy(ctx, 5, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin escalation tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		var rawHistory string
		err = tx.QueryRowContext(ctx, `
			SELECT escalation_history FROM daily_reminders
			WHERE id = ? AND confirmed = 0 AND gave_up = 0 AND sent = 1 AND escalation_level = ?;
		`, id, expectedLevel).Scan(&rawHistory)
		if errors.Is(err, sql.ErrNoRows) {
			applied = false
			return nil
		}
		if err != nil {
			return fmt.Errorf("read escalation history: %w", err)
		}

		var history []EscalationRecord
		if rawHistory == "" {
			rawHistory = "[]"
		}
		if err := json.Unmarshal([]byte(rawHistory), &history); err != nil {
			return fmt.Errorf("decode escalation history: %w", err)
		}
		history = append(history, EscalationRecord{
			Level:     expectedLevel + 1,
			Message:   message,
			Timestamp: at.UTC(),
		})
		encoded, err := json.Marshal(history)
		if err != nil {
			return fmt.Errorf("encode escalation history: %w", err)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE daily_reminders
			SET escalation_level = ?,
				next_escalation_time = ?,
				escalation_history = ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND confirmed = 0 AND gave_up = 0 AND sent = 1 AND escalation_level = ?;
		`, expectedLevel+1, nextVal, string(encoded), id, expectedLevel)
		if err != nil {
			return fmt.Errorf("advance escalation: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		applied = affected == 1
		return tx.Commit()
	})
	if err != nil {
		return false, err
	}
	return applied, nil
}

// StopEscalation marks a pending reminder gave-up and disarms its
// escalation clock (cutoff reached or ladder exhausted). Gave-up is
// terminal: the record can no longer be confirmed or escalated.
func (s *Store) StopEscalation(ctx context.Context, id int64) (bool, error) {
	var applied bool
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE daily_reminders
			SET next_escalation_time = NULL,
				gave_up = 1,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND confirmed = 0 AND gave_up = 0;
		`, id)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		applied = affected == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("stop escalation: %w", err)
	}
	return applied, nil
}

// PendingReminder pairs a reminder with its recipient for dispatch and
// escalation work.
type PendingReminder struct {
	Reminder  Reminder
	Recipient Recipient
}

const joinedColumns = `r.id, r.recipient_id, r.reminder_date, r.reminder_time, r.sent, r.sent_at,
	r.confirmed, r.confirmation_time, r.confirmation_message, r.last_reply, r.last_reply_at,
	r.escalation_level, r.next_escalation_time, r.gave_up, r.escalation_history, r.created_at, r.updated_at,
	c.id, c.name, c.phone, c.gateway, c.reminder_time, c.active, c.created_at, c.updated_at`

func scanPending(scanFn func(dest ...any) error, p *PendingReminder) error {
	var sent, confirmed, gaveUp, active int
	var sentAt, confirmationTime, lastReplyAt, nextEscalation sql.NullTime
	if err := scanFn(
		&p.Reminder.ID,
		&p.Reminder.RecipientID,
		&p.Reminder.Date,
		&p.Reminder.Slot,
		&sent,
		&sentAt,
		&confirmed,
		&confirmationTime,
		&p.Reminder.ConfirmationMessage,
		&p.Reminder.LastReply,
		&lastReplyAt,
		&p.Reminder.EscalationLevel,
		&nextEscalation,
		&gaveUp,
		&p.Reminder.EscalationHistory,
		&p.Reminder.CreatedAt,
		&p.Reminder.UpdatedAt,
		&p.Recipient.ID,
		&p.Recipient.Name,
		&p.Recipient.Phone,
		&p.Recipient.Gateway,
		&p.Recipient.ReminderTime,
		&active,
		&p.Recipient.CreatedAt,
		&p.Recipient.UpdatedAt,
	); err != nil {
		return err
	}
	p.Reminder.Sent = sent != 0
	p.Reminder.Confirmed = confirmed != 0
	p.Reminder.GaveUp = gaveUp != 0
	p.Recipient.Active = active != 0
	if sentAt.Valid {
		t := sentAt.Time
		p.Reminder.SentAt = &t
	}
	if confirmationTime.Valid {
		t := confirmationTime.Time
		p.Reminder.ConfirmationTime = &t
	}
	if lastReplyAt.Valid {
		t := lastReplyAt.Time
		p.Reminder.LastReplyAt = &t
	}
	if nextEscalation.Valid {
		t := nextEscalation.Time
		p.Reminder.NextEscalationTime = &t
	}
	return nil
}

// ListDueEscalations returns sent, unconfirmed reminders whose escalation
// clock has expired as of now.
func (s *Store) ListDueEscalations(ctx context.Context, now time.Time) ([]PendingReminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+joinedColumns+`
		FROM daily_reminders r
		JOIN recipients c ON c.id = r.recipient_id
		WHERE r.sent = 1 AND r.confirmed = 0 AND r.gave_up = 0
			AND r.next_escalation_time IS NOT NULL
			AND r.next_escalation_time <= ?
		ORDER BY r.next_escalation_time ASC;
	`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("list due escalations: %w", err)
	}
	defer rows.Close()
	return collectPending(rows)
}

// ListPending returns all sent, unconfirmed reminders that have not
// gone terminal.
func (s *Store) ListPending(ctx context.Context) ([]PendingReminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+joinedColumns+`
		FROM daily_reminders r
		JOIN recipients c ON c.id = r.recipient_id
		WHERE r.sent = 1 AND r.confirmed = 0 AND r.gave_up = 0
		ORDER BY r.reminder_date DESC, r.id ASC;
	`)
	if err != nil {
		return nil, fmt.Errorf("list pending reminders: %w", err)
	}
	defer rows.Close()
	return collectPending(rows)
}

// FindPendingByPhone returns the given day's sent, unconfirmed,
// non-terminal reminder for the active recipient registered under phone.
// Returns ErrNotFound when the recipient is unknown, deactivated, or has
// nothing pending for that date: a reply can only resolve the day it
// belongs to, never an earlier record.
func (s *Store) FindPendingByPhone(ctx context.Context, phone, date string) (*PendingReminder, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+joinedColumns+`
		FROM daily_reminders r
		JOIN recipients c ON c.id = r.recipient_id
		WHERE c.phone = ? AND c.active = 1
			AND r.reminder_date = ?
			AND r.sent = 1 AND r.confirmed = 0 AND r.gave_up = 0
		LIMIT 1;
	`, phone, date)
	var p PendingReminder
	if err := scanPending(row.Scan, &p); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("find pending by phone: %w", err)
	}
	return &p, nil
}

// ListRemindersForDate returns all reminders for a date joined with recipients.
func (s *Store) ListRemindersForDate(ctx context.Context, date string) ([]PendingReminder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+joinedColumns+`
		FROM daily_reminders r
		JOIN recipients c ON c.id = r.recipient_id
		WHERE r.reminder_date = ?
		ORDER BY r.id ASC;
	`, date)
	if err != nil {
		return nil, fmt.Errorf("list reminders for date: %w", err)
	}
	defer rows.Close()
	return collectPending(rows)
}

func collectPending(rows *sql.Rows) ([]PendingReminder, error) {
	var out []PendingReminder
	for rows.Next() {
		var p PendingReminder
		if err := scanPending(rows.Scan, &p); err != nil {
			return nil, fmt.Errorf("scan reminder row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reminder rows: %w", err)
	}
	return out, nil
}
