package reminder

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/basket/nudge/internal/bus"
	"github.com/basket/nudge/internal/genai"
	"github.com/basket/nudge/internal/persistence"
	"github.com/basket/nudge/internal/shared"
)

// Inbound actions recorded in the message log.
const (
	ActionConfirmed = "confirmed"
	ActionMissed    = "missed"
	ActionUnclear   = "unclear"
	ActionHelp      = "help"
	ActionUnknown   = "unknown"
	ActionIgnored   = "ignored"
)

// Canned replies. Kept in Hebrew to match the reminder audience.
const (
	replyConfirmed = "מעולה! רשמתי שלקחת את הגלולה. תישארי בריאה! 💪"
	replyMissed    = "אל דאגה! קחי אותה בהקדם האפשרי. הבריאות שלך חשובה! 🏥"
	replyUnclear   = "לא הבנתי את זה. תכתבי 'לקחתי' אם לקחת או 'החמצתי' אם החמצת."
	replyHelp      = "אני תזכורת יומית לגלולה. כשאני שולח תזכורת, עני 'לקחתי' כדי לאשר או 'החמצתי' אם שכחת."
	replyUnknown   = "I didn't understand that. Type 'help' for available commands."
)

var confirmKeywords = []string{
	"taken", "yes", "done", "took", "swallowed", "consumed", "✅",
	"לקחתי", "כן", "סיימתי", "אוקיי", "לקחת", "בלעתי", "גמרתי",
}

var missedKeywords = []string{
	"missed", "forgot", "forgotten", "didn't", "haven't", "❌",
	"החמצתי", "שכחתי", "שכחת",
}

var helpKeywords = []string{"help", "עזרה"}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// HandleInbound processes one inbound message and returns the reply to
// send back. It is a gateway.Handler bound with the service. Every
// message is recorded, including ones with no pending reminder.
func (s *Service) HandleInbound(ctx context.Context, from, text string) (string, error) {
	now := s.clock()
	trimmed := strings.TrimSpace(text)
	if s.metrics != nil {
		s.metrics.InboundMessages.Add(ctx, 1)
	}

	// A reply only resolves today's record; yesterday's confirmed or
	// gave-up reminders stay terminal.
	pending, err := s.store.FindPendingByPhone(ctx, from, s.dateOf(now))
	if err != nil && !errors.Is(err, persistence.ErrNotFound) {
		return "", err
	}
	if pending == nil {
		action, reply := s.handleGeneric(ctx, from, trimmed)
		s.logInbound(ctx, from, trimmed, action, reply)
		if action != ActionIgnored {
			s.publish(bus.TopicInboundReceived, bus.InboundEvent{
				Gateway: s.gateway.Name(),
				From:    from,
				Matched: false,
			})
		}
		return reply, nil
	}

	ctx = s.reminderCtx(ctx, pending.Recipient.ID, pending.Reminder.ID)
	verdict, source, modelReply := s.classify(ctx, trimmed)

	if err := s.store.RecordReply(ctx, pending.Reminder.ID, trimmed, now); err != nil {
		s.logger.Error("record reply failed", "reminder_id", pending.Reminder.ID, "error", err)
	}

	var action, reply string
	switch verdict {
	case verdictConfirmed:
		action, reply = ActionConfirmed, replyConfirmed
		s.confirm(ctx, pending, trimmed, now, source)
	case verdictMissed:
		action, reply = ActionMissed, replyMissed
	default:
		action, reply = ActionUnclear, replyUnclear
	}
	// The model writes its own reply; canned text is the fallback.
	if modelReply != "" {
		reply = modelReply
	}

	s.logInbound(ctx, from, trimmed, action, reply)
	s.publish(bus.TopicInboundReceived, bus.InboundEvent{
		Gateway: s.gateway.Name(),
		From:    from,
		Matched: true,
	})
	s.logger.Info("inbound handled",
		"phone", shared.MaskPhone(from),
		"action", action,
		"source", source)
	return reply, nil
}

// handleGeneric covers messages with no pending reminder: unknown
// senders and already-resolved days.
func (s *Service) handleGeneric(ctx context.Context, from, text string) (action, reply string) {
	lower := strings.ToLower(text)
	if containsAny(lower, helpKeywords) {
		return ActionHelp, replyHelp
	}
	rec, err := s.store.GetRecipientByPhone(ctx, from)
	if err != nil || rec == nil {
		// Not one of ours; stay silent rather than replying to strangers.
		return ActionIgnored, ""
	}
	return ActionUnknown, replyUnknown
}

func (s *Service) confirm(ctx context.Context, pending *persistence.PendingReminder, message string, now time.Time, source string) {
	applied, err := s.store.Confirm(ctx, pending.Reminder.ID, message, now)
	if err != nil {
		s.logger.Error("confirm failed", "reminder_id", pending.Reminder.ID, "error", err)
		return
	}
	if !applied {
		s.logger.Info("already confirmed", "reminder_id", pending.Reminder.ID)
		return
	}
	if s.metrics != nil {
		s.metrics.ConfirmationsTotal.Add(ctx, 1)
	}
	s.publish(bus.TopicReminderConfirmed, bus.ConfirmedEvent{
		ReminderID:  pending.Reminder.ID,
		RecipientID: pending.Recipient.ID,
		Level:       pending.Reminder.EscalationLevel,
		Source:      source,
	})
	s.logger.Info("reminder confirmed",
		"reminder_id", pending.Reminder.ID,
		"level", pending.Reminder.EscalationLevel,
		"source", source)
}

type replyVerdict int

const (
	verdictUnclear replyVerdict = iota
	verdictConfirmed
	verdictMissed
)

// classify decides what a reply means, preferring the model and falling
// back to keyword matching when analysis is unavailable. On the model
// path the model's localized reply comes back too, so the user sees the
// text written for their message rather than a canned line.
func (s *Service) classify(ctx context.Context, text string) (replyVerdict, string, string) {
	start := time.Now()
	analysis, err := s.gen.AnalyzeReply(ctx, text)
	if s.metrics != nil {
		s.metrics.ClassifyDuration.Record(ctx, time.Since(start).Seconds())
	}
	if err == nil {
		if analysis.Confirmed {
			return verdictConfirmed, "ai", analysis.Reply
		}
		return verdictMissed, "ai", analysis.Reply
	}
	if !errors.Is(err, genai.ErrAnalysisUnavailable) {
		s.logger.Warn("reply analysis failed", "error", err)
	}
	if s.metrics != nil {
		s.metrics.ClassifyFallbacks.Add(ctx, 1)
	}
	return classifyKeywords(text), "keyword", ""
}

func classifyKeywords(text string) replyVerdict {
	lower := strings.ToLower(strings.TrimSpace(text))
	switch {
	case containsAny(lower, confirmKeywords):
		return verdictConfirmed
	case containsAny(lower, missedKeywords):
		return verdictMissed
	default:
		return verdictUnclear
	}
}

func (s *Service) logInbound(ctx context.Context, from, body, action, reply string) {
	if err := s.store.LogInbound(ctx, from, body, action, reply); err != nil {
		s.logger.Error("log inbound failed", "error", err)
	}
}
