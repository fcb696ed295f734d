package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/nudge/internal/bus"
	"github.com/basket/nudge/internal/shared"
)

// CursorStore persists the long-poll cursor so a restart resumes after
// the last handled update instead of replaying it.
type CursorStore interface {
	SetKV(ctx context.Context, key, value string) error
	GetKV(ctx context.Context, key string) (string, error)
}

const telegramOffsetKey = "telegram.update_offset"

// Telegram delivers reminders over a Telegram bot. Recipients on this
// gateway store their numeric chat ID in the phone field.
type Telegram struct {
	token      string
	allowedIDs map[int64]struct{}
	handler    Handler
	eventBus   *bus.Bus    // may be nil
	cursors    CursorStore // may be nil
	logger     *slog.Logger
	bot        *tgbotapi.BotAPI
}

// NewTelegram creates a Telegram gateway. allowedIDs is an allowlist of
// user IDs whose messages are handled; empty means allow all. A nil
// cursors store means polling restarts from Telegram's default offset.
func NewTelegram(token string, allowedIDs []int64, handler Handler, eventBus *bus.Bus, cursors CursorStore, logger *slog.Logger) *Telegram {
	allowed := make(map[int64]struct{})
	for _, id := range allowedIDs {
		allowed[id] = struct{}{}
	}
	return &Telegram{
		token:      token,
		allowedIDs: allowed,
		handler:    handler,
		eventBus:   eventBus,
		cursors:    cursors,
		logger:     logger,
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Send delivers text to the chat identified by to (a decimal chat ID).
func (t *Telegram) Send(ctx context.Context, to, text string) error {
	if t.bot == nil {
		return &TransientError{Gateway: t.Name(), Err: fmt.Errorf("bot not started")}
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(to), 10, 64)
	if err != nil {
		return fmt.Errorf("telegram address %q is not a chat id: %w", to, err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		return &TransientError{Gateway: t.Name(), Err: err}
	}
	return nil
}

// Start begins long-polling for updates. It blocks until ctx is canceled,
// reconnecting with exponential backoff on poll failures.
func (t *Telegram) Start(ctx context.Context) error {
	var err error
	t.bot, err = tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}

	t.logger.Info("telegram bot started", "user", t.bot.Self.UserName)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(t.loadOffset(ctx))
		u.Timeout = 60
		updates := t.bot.GetUpdatesChan(u)

		pollErr := t.pollUpdates(ctx, updates)

		// Always clean up the old polling goroutine before reconnecting.
		t.bot.StopReceivingUpdates()

		if pollErr != nil {
			t.logger.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		// pollUpdates returned nil means ctx was cancelled.
		return nil
	}
}

// pollUpdates reads from the update channel until ctx is done, the channel
// closes, or no updates arrive within 2x the long-poll timeout (stall
// detection). Returns nil on context cancellation, or an error to trigger
// reconnection.
func (t *Telegram) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	// tgbotapi uses a 60s long-poll timeout. If we see nothing for 2.5
	// minutes the connection is likely dead (the library blocks rather
	// than closing the channel).
	const stallTimeout = 150 * time.Second

	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}

			// Reset stall timer on every received update (including empty
			// long-poll returns).
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			// Advance the cursor past every update we see, handled or
			// not, so a restart does not replay it.
			t.storeOffset(ctx, update.UpdateID+1)

			if update.Message == nil {
				continue
			}
			if len(t.allowedIDs) > 0 {
				if _, ok := t.allowedIDs[update.Message.From.ID]; !ok {
					t.logger.Warn("telegram access denied", "user_id", update.Message.From.ID)
					continue
				}
			}
			t.handleMessage(ctx, update.Message)

		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		}
	}
}

// loadOffset returns the persisted update offset, or 0 when absent or
// unreadable.
func (t *Telegram) loadOffset(ctx context.Context) int {
	if t.cursors == nil {
		return 0
	}
	raw, err := t.cursors.GetKV(ctx, telegramOffsetKey)
	if err != nil {
		t.logger.Warn("load update offset failed", "error", err)
		return 0
	}
	if raw == "" {
		return 0
	}
	offset, err := strconv.Atoi(raw)
	if err != nil || offset < 0 {
		t.logger.Warn("stored update offset invalid, resetting", "value", raw)
		return 0
	}
	return offset
}

func (t *Telegram) storeOffset(ctx context.Context, offset int) {
	if t.cursors == nil {
		return
	}
	if err := t.cursors.SetKV(ctx, telegramOffsetKey, strconv.Itoa(offset)); err != nil {
		t.logger.Warn("persist update offset failed", "error", err)
	}
}

func (t *Telegram) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	from := strconv.FormatInt(msg.Chat.ID, 10)

	ctx = shared.WithTraceID(ctx, shared.NewTraceID())
	t.logger.Info("inbound message received",
		"gateway", t.Name(),
		"from", from,
		"trace_id", shared.TraceID(ctx))

	if t.eventBus != nil {
		t.eventBus.Publish(bus.TopicInboundReceived, bus.InboundEvent{
			Gateway: t.Name(),
			From:    from,
		})
	}

	reply, err := t.handler(ctx, from, text)
	if err != nil {
		t.logger.Error("inbound handler failed", "from", from, "error", err)
		return
	}
	if reply == "" {
		return
	}
	if _, err := t.bot.Send(tgbotapi.NewMessage(msg.Chat.ID, reply)); err != nil {
		t.logger.Error("send reply failed", "from", from, "error", err)
	}
}
