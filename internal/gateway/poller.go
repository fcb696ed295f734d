package gateway

import (
	"context"
	"log/slog"
	"time"

	"github.com/basket/nudge/internal/bus"
	"github.com/basket/nudge/internal/shared"
)

// Poller drains the Green API notification queue: receive, handle, reply,
// ack. Receipts are acked even when handling fails, otherwise the queue
// re-delivers the same message forever.
type Poller struct {
	client   *GreenAPI
	handler  Handler
	eventBus *bus.Bus // may be nil
	logger   *slog.Logger
	interval time.Duration
}

// NewPoller creates a poller. interval is the idle wait when the queue is
// empty; zero means 5 seconds.
func NewPoller(client *GreenAPI, handler Handler, eventBus *bus.Bus, logger *slog.Logger, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Poller{
		client:   client,
		handler:  handler,
		eventBus: eventBus,
		logger:   logger,
		interval: interval,
	}
}

// Run blocks until ctx is canceled. Errors from the API are logged and
// retried after the idle interval.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("inbound poller started", "gateway", p.client.Name(), "interval", p.interval.String())
	for {
		if ctx.Err() != nil {
			return
		}

		n, err := p.client.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("receive notification failed", "error", err)
			p.sleep(ctx)
			continue
		}
		if n == nil {
			p.sleep(ctx)
			continue
		}

		p.handleOne(ctx, n)

		if err := p.client.Ack(ctx, n.ReceiptID); err != nil {
			p.logger.Warn("ack notification failed", "receipt_id", n.ReceiptID, "error", err)
		}
	}
}

func (p *Poller) handleOne(ctx context.Context, n *Notification) {
	if n.Body.TypeWebhook != "incomingMessageReceived" {
		return
	}
	from := n.Body.Sender()
	text := n.Body.Text()
	if from == "" || text == "" {
		return
	}

	ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	p.logger.Info("inbound message received",
		"gateway", p.client.Name(),
		"from", from,
		"trace_id", shared.TraceID(ctx))

	if p.eventBus != nil {
		p.eventBus.Publish(bus.TopicInboundReceived, bus.InboundEvent{
			Gateway: p.client.Name(),
			From:    from,
		})
	}

	reply, err := p.handler(ctx, from, text)
	if err != nil {
		p.logger.Error("inbound handler failed", "from", from, "error", err)
		return
	}
	if reply == "" {
		return
	}
	if err := p.client.Send(ctx, from, reply); err != nil {
		p.logger.Error("send reply failed", "from", from, "error", err)
	}
}

func (p *Poller) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(p.interval):
	}
}
