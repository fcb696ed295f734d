package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/basket/nudge/internal/audit"
	"github.com/basket/nudge/internal/cron"
	"github.com/basket/nudge/internal/persistence"
	"github.com/basket/nudge/internal/reminder"
	"github.com/basket/nudge/internal/shared"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	dbOK := true
	dbDetail := "ok"
	if s.cfg.DBCheck != nil {
		if err := s.cfg.DBCheck(ctx); err != nil {
			dbOK = false
			dbDetail = err.Error()
		}
	}

	gwState := "configured"
	if sc, ok := s.cfg.Gateway.(stateChecker); ok {
		state, err := sc.State(ctx)
		if err != nil {
			gwState = "unreachable"
		} else {
			gwState = state
		}
	}

	generatorOn := false
	if s.cfg.GeneratorEnabled != nil {
		generatorOn = s.cfg.GeneratorEnabled()
	}

	payload := map[string]any{
		"healthy":        dbOK,
		"db_ok":          dbOK,
		"db_detail":      dbDetail,
		"gateway":        s.cfg.Gateway.Name(),
		"gateway_state":  gwState,
		"generator_on":   generatorOn,
		"version":        s.cfg.Version,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
	}
	status := http.StatusOK
	if !dbOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, payload)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	ctx := r.Context()
	slots, err := s.cfg.Service.Slots(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	now := time.Now().In(s.cfg.Service.Location())
	type slotStatus struct {
		Slot     string `json:"slot"`
		NextFire string `json:"next_fire"`
	}
	schedule := make([]slotStatus, 0, len(slots))
	for _, slot := range slots {
		next, err := cron.NextSlotFire(slot, now)
		if err != nil {
			continue
		}
		schedule = append(schedule, slotStatus{Slot: slot, NextFire: next.Format(time.RFC3339)})
	}

	policy := s.cfg.Service.Policy()
	payload := map[string]any{
		"version":        s.cfg.Version,
		"uptime_seconds": int(time.Since(s.startedAt).Seconds()),
		"timezone":       s.cfg.Service.Location().String(),
		"schedule":       schedule,
		"escalation": map[string]any{
			"max_level":       policy.MaxLevel,
			"spacing_minutes": int(policy.Spacing.Minutes()),
			"cutoff_minutes":  int(policy.Cutoff.Minutes()),
		},
		"audit_denies": audit.DenyCount(),
	}
	if s.cfg.Bus != nil {
		payload["bus_subscribers"] = s.cfg.Bus.SubscriberCount()
	}
	writeJSON(w, http.StatusOK, payload)
}

type recipientRequest struct {
	Name         string `json:"name"`
	Phone        string `json:"phone"`
	Gateway      string `json:"gateway"`
	ReminderTime string `json:"reminder_time"`
	Active       *bool  `json:"active"`
}

func (s *Server) handleRecipients(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		activeOnly := r.URL.Query().Get("active") == "true"
		recipients, err := s.cfg.Service.ListRecipients(r.Context(), activeOnly)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if recipients == nil {
			// Empty list marshals as [], not null.
			recipients = []persistence.Recipient{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"recipients": recipients})
	case http.MethodPost:
		var req recipientRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		rec, err := s.cfg.Service.AddRecipient(r.Context(), req.Name, req.Phone, req.Gateway, req.ReminderTime)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		audit.Record("allow", "admin.recipient.add",
			fmt.Sprintf("recipient %d at %s", rec.ID, rec.ReminderTime),
			shared.MaskPhone(rec.Phone))
		writeJSON(w, http.StatusCreated, rec)
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleRecipientByID(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/api/recipients/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid recipient id")
		return
	}

	switch r.Method {
	case http.MethodGet:
		rec, err := s.cfg.Service.GetRecipient(r.Context(), id)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	case http.MethodPut, http.MethodPatch:
		var req recipientRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		active := true
		if req.Active != nil {
			active = *req.Active
		} else if current, err := s.cfg.Service.GetRecipient(r.Context(), id); err == nil {
			active = current.Active
		}
		rec, err := s.cfg.Service.UpdateRecipient(r.Context(), id, req.Name, req.ReminderTime, active)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		audit.Record("allow", "admin.recipient.update",
			fmt.Sprintf("recipient %d active=%t", id, active), "")
		writeJSON(w, http.StatusOK, rec)
	case http.MethodDelete:
		// Delete is always a deactivation; reminder history is kept.
		if err := s.cfg.Service.DeactivateRecipient(r.Context(), id); err != nil {
			s.writeServiceError(w, err)
			return
		}
		audit.Record("allow", "admin.recipient.delete",
			fmt.Sprintf("recipient %d deactivated", id), "")
		writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleTriggerReminder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	now := time.Now()
	var report *reminder.DispatchReport
	var err error
	if slot := r.URL.Query().Get("slot"); slot != "" {
		report, err = s.cfg.Service.DispatchSlot(r.Context(), slot, now)
	} else {
		report, err = s.cfg.Service.DispatchDueSlots(r.Context(), now)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	audit.Record("allow", "admin.reminder.trigger",
		fmt.Sprintf("sent=%d failed=%d", report.Sent, report.Failed), "")
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleTriggerEscalation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	report, err := s.cfg.Service.CheckEscalations(r.Context(), time.Now())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	audit.Record("allow", "admin.escalation.check",
		fmt.Sprintf("checked=%d sent=%d stopped=%d", report.Checked, report.Sent, report.Stopped), "")
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handlePendingEscalations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	pending, err := s.cfg.Service.PendingEscalations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type pendingItem struct {
		ReminderID     int64      `json:"reminder_id"`
		RecipientID    int64      `json:"recipient_id"`
		Name           string     `json:"name"`
		Phone          string     `json:"phone"`
		Date           string     `json:"date"`
		Slot           string     `json:"slot"`
		Level          int        `json:"escalation_level"`
		NextEscalation *time.Time `json:"next_escalation_time,omitempty"`
	}
	items := make([]pendingItem, 0, len(pending))
	for _, p := range pending {
		items = append(items, pendingItem{
			ReminderID:     p.Reminder.ID,
			RecipientID:    p.Recipient.ID,
			Name:           p.Recipient.Name,
			Phone:          shared.MaskPhone(p.Recipient.Phone),
			Date:           p.Reminder.Date,
			Slot:           p.Reminder.Slot,
			Level:          p.Reminder.EscalationLevel,
			NextEscalation: p.Reminder.NextEscalationTime,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": items})
}

func (s *Server) handleReminders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	reminders, err := s.cfg.Service.RemindersForDate(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	type reminderItem struct {
		ReminderID       int64      `json:"reminder_id"`
		RecipientID      int64      `json:"recipient_id"`
		Name             string     `json:"name"`
		Phone            string     `json:"phone"`
		Date             string     `json:"date"`
		Slot             string     `json:"slot"`
		Sent             bool       `json:"sent"`
		Confirmed        bool       `json:"confirmed"`
		ConfirmationTime *time.Time `json:"confirmation_time,omitempty"`
		Level            int        `json:"escalation_level"`
		GaveUp           bool       `json:"gave_up"`
	}
	items := make([]reminderItem, 0, len(reminders))
	for _, p := range reminders {
		items = append(items, reminderItem{
			ReminderID:       p.Reminder.ID,
			RecipientID:      p.Recipient.ID,
			Name:             p.Recipient.Name,
			Phone:            shared.MaskPhone(p.Recipient.Phone),
			Date:             p.Reminder.Date,
			Slot:             p.Reminder.Slot,
			Sent:             p.Reminder.Sent,
			Confirmed:        p.Reminder.Confirmed,
			ConfirmationTime: p.Reminder.ConfirmationTime,
			Level:            p.Reminder.EscalationLevel,
			GaveUp:           p.Reminder.GaveUp,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"reminders": items})
}

func statsDays(r *http.Request) int {
	if raw := r.URL.Query().Get("days"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil && v > 0 {
			return v
		}
	}
	return 0
}

func (s *Server) handleConfirmationStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := s.cfg.Service.ConfirmationStats(r.Context(), statsDays(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleEscalationStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	stats, err := s.cfg.Service.EscalationStats(r.Context(), statsDays(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}
	messages, err := s.cfg.Service.RecentMessages(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if messages == nil {
		messages = []persistence.InboundMessage{}
	}
	for i := range messages {
		messages[i].Sender = shared.MaskPhone(messages[i].Sender)
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reminder.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, persistence.ErrDuplicatePhone):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, persistence.ErrNotFound):
		writeError(w, http.StatusNotFound, "recipient not found")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
