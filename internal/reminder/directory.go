package reminder

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/basket/nudge/internal/config"
	"github.com/basket/nudge/internal/persistence"
	"github.com/basket/nudge/internal/shared"
)

// Sentinel errors for recipient directory operations.
var (
	// ErrValidation is returned when recipient input fails validation.
	ErrValidation = errors.New("validation failed")
	// ErrNotApplicable is returned when an inbound message has no pending
	// reminder to act on.
	ErrNotApplicable = errors.New("no applicable reminder")
)

// phonePattern accepts E.164-style numbers with an optional leading plus.
var phonePattern = regexp.MustCompile(`^\+?\d{10,15}$`)

// chatIDPattern covers Telegram recipients, whose phone field holds a
// numeric chat ID. Chat IDs can be shorter than a phone number.
var chatIDPattern = regexp.MustCompile(`^\d{5,15}$`)

func validatePhone(phone, gw string) error {
	if gw == "telegram" {
		if !chatIDPattern.MatchString(phone) {
			return fmt.Errorf("%w: chat id %q must be 5-15 digits", ErrValidation, shared.MaskPhone(phone))
		}
		return nil
	}
	if !phonePattern.MatchString(phone) {
		return fmt.Errorf("%w: phone %q must be 10-15 digits with optional leading +", ErrValidation, shared.MaskPhone(phone))
	}
	return nil
}

func validateSlot(slot string) error {
	if !config.ValidSlot(slot) {
		return fmt.Errorf("%w: reminder time %q must be HH:MM", ErrValidation, slot)
	}
	return nil
}

// AddRecipient registers a recipient for daily reminders at the given
// slot. Gateway defaults to the active gateway name when empty.
func (s *Service) AddRecipient(ctx context.Context, name, phone, gw, slot string) (*persistence.Recipient, error) {
	name = strings.TrimSpace(name)
	phone = strings.TrimSpace(phone)
	slot = strings.TrimSpace(slot)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if gw == "" {
		gw = s.gateway.Name()
	}
	if err := validatePhone(phone, gw); err != nil {
		return nil, err
	}
	if err := validateSlot(slot); err != nil {
		return nil, err
	}
	rec, err := s.store.CreateRecipient(ctx, name, phone, gw, slot)
	if err != nil {
		return nil, err
	}
	s.logger.Info("recipient added",
		"recipient_id", rec.ID,
		"phone", shared.MaskPhone(rec.Phone),
		"slot", rec.ReminderTime)
	return rec, nil
}

// ListRecipients returns recipients, optionally only active ones.
func (s *Service) ListRecipients(ctx context.Context, activeOnly bool) ([]persistence.Recipient, error) {
	return s.store.ListRecipients(ctx, activeOnly)
}

// GetRecipient returns a recipient by ID.
func (s *Service) GetRecipient(ctx context.Context, id int64) (*persistence.Recipient, error) {
	return s.store.GetRecipient(ctx, id)
}

// UpdateRecipient applies partial updates: empty name or slot leaves the
// field unchanged; active is always applied.
func (s *Service) UpdateRecipient(ctx context.Context, id int64, name, slot string, active bool) (*persistence.Recipient, error) {
	slot = strings.TrimSpace(slot)
	if slot != "" {
		if err := validateSlot(slot); err != nil {
			return nil, err
		}
	}
	rec, err := s.store.UpdateRecipient(ctx, id, strings.TrimSpace(name), slot, active)
	if err != nil {
		return nil, err
	}
	s.logger.Info("recipient updated", "recipient_id", id, "active", active)
	return rec, nil
}

// DeactivateRecipient soft-deletes a recipient. History is retained and
// the row can be reactivated later.
func (s *Service) DeactivateRecipient(ctx context.Context, id int64) error {
	rec, err := s.store.GetRecipient(ctx, id)
	if err != nil {
		return err
	}
	_, err = s.store.UpdateRecipient(ctx, id, "", "", false)
	if err != nil {
		return err
	}
	s.logger.Info("recipient deactivated",
		"recipient_id", id,
		"phone", shared.MaskPhone(rec.Phone))
	return nil
}

// Slots returns the distinct reminder slots with at least one active
// recipient.
func (s *Service) Slots(ctx context.Context) ([]string, error) {
	return s.store.ActiveSlots(ctx)
}
