// Package reminder implements the daily reminder lifecycle: slot dispatch,
// the escalation ladder, and inbound confirmation handling.
package reminder

import (
	"context"
	"log/slog"
	"time"

	"github.com/basket/nudge/internal/bus"
	"github.com/basket/nudge/internal/gateway"
	"github.com/basket/nudge/internal/genai"
	"github.com/basket/nudge/internal/otel"
	"github.com/basket/nudge/internal/persistence"
	"github.com/basket/nudge/internal/shared"
)

// EscalationPolicy bounds the ladder: MaxLevel rungs, Spacing between
// sends, and an absolute Cutoff measured from record creation.
type EscalationPolicy struct {
	MaxLevel int
	Spacing  time.Duration
	Cutoff   time.Duration
}

// DefaultPolicy returns the canonical ladder: 4 levels, 30 minutes apart,
// 2 hour cutoff.
func DefaultPolicy() EscalationPolicy {
	return EscalationPolicy{
		MaxLevel: 4,
		Spacing:  30 * time.Minute,
		Cutoff:   2 * time.Hour,
	}
}

// TextGenerator produces outbound text. Every method has a deterministic
// fallback behind it; AnalyzeReply is the only one that can fail.
type TextGenerator interface {
	ReminderMessage(ctx context.Context, name string) string
	EscalationMessage(ctx context.Context, level int, name string, elapsed time.Duration) string
	AnalyzeReply(ctx context.Context, text string) (*genai.ReplyAnalysis, error)
}

// Config holds the collaborators for a Service.
type Config struct {
	Store     *persistence.Store
	Gateway   gateway.Gateway
	Generator TextGenerator
	Bus       *bus.Bus      // may be nil
	Metrics   *otel.Metrics // may be nil
	Logger    *slog.Logger
	Policy    EscalationPolicy
	Location  *time.Location // day-boundary location; nil means UTC
}

// Service drives the reminder lifecycle against the store.
type Service struct {
	store   *persistence.Store
	gateway gateway.Gateway
	gen     TextGenerator
	bus     *bus.Bus
	metrics *otel.Metrics
	logger  *slog.Logger
	policy  EscalationPolicy
	loc     *time.Location

	clock func() time.Time
}

// New creates a Service. Zero policy fields take the defaults.
func New(cfg Config) *Service {
	policy := cfg.Policy
	if policy.MaxLevel <= 0 {
		policy.MaxLevel = DefaultPolicy().MaxLevel
	}
	if policy.Spacing <= 0 {
		policy.Spacing = DefaultPolicy().Spacing
	}
	if policy.Cutoff <= 0 {
		policy.Cutoff = DefaultPolicy().Cutoff
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:   cfg.Store,
		gateway: cfg.Gateway,
		gen:     cfg.Generator,
		bus:     cfg.Bus,
		metrics: cfg.Metrics,
		logger:  logger,
		policy:  policy,
		loc:     loc,
		clock:   time.Now,
	}
}

// Policy returns the active escalation policy.
func (s *Service) Policy() EscalationPolicy { return s.policy }

// Location returns the day-boundary location.
func (s *Service) Location() *time.Location { return s.loc }

// dateOf returns the reminder_date key for now.
func (s *Service) dateOf(now time.Time) string {
	return now.In(s.loc).Format("2006-01-02")
}

// slotOf returns the HH:MM slot for now.
func (s *Service) slotOf(now time.Time) string {
	return now.In(s.loc).Format("15:04")
}

// send delivers text through the gateway, recording send duration and
// errors.
func (s *Service) send(ctx context.Context, to, text string) error {
	start := time.Now()
	err := s.gateway.Send(ctx, to, text)
	if s.metrics != nil {
		s.metrics.GatewaySendDuration.Record(ctx, time.Since(start).Seconds())
		if err != nil {
			s.metrics.GatewaySendErrors.Add(ctx, 1)
		}
	}
	return err
}

func (s *Service) publish(topic string, payload any) {
	if s.bus != nil {
		s.bus.Publish(topic, payload)
	}
}

func (s *Service) reminderCtx(ctx context.Context, recipientID, reminderID int64) context.Context {
	if shared.TraceID(ctx) == "-" {
		ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	}
	ctx = shared.WithRecipientID(ctx, recipientID)
	return shared.WithReminderID(ctx, reminderID)
}
