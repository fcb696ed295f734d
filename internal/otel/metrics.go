package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds all nudge metrics instruments.
type Metrics struct {
	RemindersSent       metric.Int64Counter
	EscalationsSent     metric.Int64Counter
	ConfirmationsTotal  metric.Int64Counter
	GaveUpTotal         metric.Int64Counter
	GatewaySendDuration metric.Float64Histogram
	GatewaySendErrors   metric.Int64Counter
	ClassifyDuration    metric.Float64Histogram
	ClassifyFallbacks   metric.Int64Counter
	InboundMessages     metric.Int64Counter
	RateLimitRejects    metric.Int64Counter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RemindersSent, err = meter.Int64Counter("nudge.reminders.sent",
		metric.WithDescription("Initial reminder messages sent"),
	)
	if err != nil {
		return nil, err
	}

	m.EscalationsSent, err = meter.Int64Counter("nudge.escalations.sent",
		metric.WithDescription("Escalation messages sent"),
	)
	if err != nil {
		return nil, err
	}

	m.ConfirmationsTotal, err = meter.Int64Counter("nudge.confirmations",
		metric.WithDescription("Reminders resolved by a confirming reply"),
	)
	if err != nil {
		return nil, err
	}

	m.GaveUpTotal, err = meter.Int64Counter("nudge.gaveup",
		metric.WithDescription("Reminders the escalation ladder gave up on"),
	)
	if err != nil {
		return nil, err
	}

	m.GatewaySendDuration, err = meter.Float64Histogram("nudge.gateway.send.duration",
		metric.WithDescription("Outbound gateway send duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.GatewaySendErrors, err = meter.Int64Counter("nudge.gateway.send.errors",
		metric.WithDescription("Outbound gateway send error count"),
	)
	if err != nil {
		return nil, err
	}

	m.ClassifyDuration, err = meter.Float64Histogram("nudge.classify.duration",
		metric.WithDescription("Reply classification duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.ClassifyFallbacks, err = meter.Int64Counter("nudge.classify.fallbacks",
		metric.WithDescription("Replies classified by keyword fallback instead of the model"),
	)
	if err != nil {
		return nil, err
	}

	m.InboundMessages, err = meter.Int64Counter("nudge.inbound.messages",
		metric.WithDescription("Inbound messages received across gateways"),
	)
	if err != nil {
		return nil, err
	}

	m.RateLimitRejects, err = meter.Int64Counter("nudge.ratelimit.rejects",
		metric.WithDescription("Requests rejected by rate limiter"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
