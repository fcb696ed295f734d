package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

func scanRecipient(scanFn func(dest ...any) error, r *Recipient) error {
	var active int
	if err := scanFn(
		&r.ID,
		&r.Name,
		&r.Phone,
		&r.Gateway,
		&r.ReminderTime,
		&active,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return err
	}
	r.Active = active != 0
	return nil
}

const recipientColumns = `id, name, phone, gateway, reminder_time, active, created_at, updated_at`

// CreateRecipient inserts a new recipient. Returns ErrDuplicatePhone when
// the phone number is already registered.
func (s *Store) CreateRecipient(ctx context.Context, name, phone, gateway, reminderTime string) (*Recipient, error) {
	if gateway == "" {
		gateway = "green_api"
	}
	var id int64
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			INSERT INTO recipients (name, phone, gateway, reminder_time, created_at, updated_at)
			VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP);
		`, name, phone, gateway, reminderTime)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicatePhone
		}
		return nil, fmt.Errorf("create recipient: %w", err)
	}
	return s.GetRecipient(ctx, id)
}

func (s *Store) GetRecipient(ctx context.Context, id int64) (*Recipient, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE id = ?;`, id)
	var r Recipient
	if err := scanRecipient(row.Scan, &r); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get recipient: %w", err)
	}
	return &r, nil
}

// GetRecipientByPhone looks up a recipient by exact phone match.
func (s *Store) GetRecipientByPhone(ctx context.Context, phone string) (*Recipient, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recipientColumns+` FROM recipients WHERE phone = ?;`, phone)
	var r Recipient
	if err := scanRecipient(row.Scan, &r); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get recipient by phone: %w", err)
	}
	return &r, nil
}

// ListRecipients returns recipients ordered by id. When activeOnly is set,
// inactive recipients are skipped.
func (s *Store) ListRecipients(ctx context.Context, activeOnly bool) ([]Recipient, error) {
	query := `SELECT ` + recipientColumns + ` FROM recipients ORDER BY id ASC;`
	if activeOnly {
		query = `SELECT ` + recipientColumns + ` FROM recipients WHERE active = 1 ORDER BY id ASC;`
	}
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		var r Recipient
		if err := scanRecipient(rows.Scan, &r); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recipient rows: %w", err)
	}
	return out, nil
}

// ListActiveBySlot returns active recipients whose reminder_time equals slot.
func (s *Store) ListActiveBySlot(ctx context.Context, slot string) ([]Recipient, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recipientColumns+`
		FROM recipients
		WHERE active = 1 AND reminder_time = ?
		ORDER BY id ASC;
	`, slot)
	if err != nil {
		return nil, fmt.Errorf("list recipients by slot: %w", err)
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		var r Recipient
		if err := scanRecipient(rows.Scan, &r); err != nil {
			return nil, fmt.Errorf("scan recipient: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recipient rows: %w", err)
	}
	return out, nil
}

// ActiveSlots returns the distinct reminder_time values in use by active
// recipients. Each value is one independent dispatch slot.
func (s *Store) ActiveSlots(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT reminder_time FROM recipients
		WHERE active = 1
		ORDER BY reminder_time ASC;
	`)
	if err != nil {
		return nil, fmt.Errorf("list active slots: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var slot string
		if err := rows.Scan(&slot); err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		out = append(out, slot)
	}
	return out, rows.Err()
}

// UpdateRecipient updates mutable fields. Empty strings leave the field
// unchanged; active is always applied.
func (s *Store) UpdateRecipient(ctx context.Context, id int64, name, reminderTime string, active bool) (*Recipient, error) {
	err := retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE recipients
			SET name = CASE WHEN ? != '' THEN ? ELSE name END,
				reminder_time = CASE WHEN ? != '' THEN ? ELSE reminder_time END,
				active = ?,
				updated_at = CURRENT_TIMESTAMP
			WHERE id = ?;
		`, name, name, reminderTime, reminderTime, active, id)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("update recipient: %w", err)
	}
	return s.GetRecipient(ctx, id)
}

