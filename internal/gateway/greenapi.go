package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

const defaultGreenAPIBaseURL = "https://api.green-api.com"

// GreenAPI is a WhatsApp client for the Green API REST service.
type GreenAPI struct {
	baseURL    string
	instanceID string
	token      string
	client     *http.Client
	logger     *slog.Logger
}

// NewGreenAPI creates a Green API client. baseURL may be empty to use the
// public endpoint.
func NewGreenAPI(baseURL, instanceID, token string, logger *slog.Logger) (*GreenAPI, error) {
	if instanceID == "" || token == "" {
		return nil, fmt.Errorf("green api credentials not configured")
	}
	if baseURL == "" {
		baseURL = defaultGreenAPIBaseURL
	}
	return &GreenAPI{
		baseURL:    strings.TrimRight(baseURL, "/"),
		instanceID: instanceID,
		token:      token,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}, nil
}

func (g *GreenAPI) Name() string { return "green_api" }

func (g *GreenAPI) url(method string, extra ...string) string {
	u := fmt.Sprintf("%s/waInstance%s/%s/%s", g.baseURL, g.instanceID, method, g.token)
	if len(extra) > 0 {
		u += "/" + strings.Join(extra, "/")
	}
	return u
}

// Send delivers a WhatsApp message. The address is a phone number with
// country code and no leading plus.
func (g *GreenAPI) Send(ctx context.Context, to, text string) error {
	payload := map[string]string{
		"chatId":  strings.TrimPrefix(to, "+") + "@c.us",
		"message": text,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal send payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url("SendMessage"), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return &TransientError{Gateway: g.Name(), Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &TransientError{Gateway: g.Name(), Err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))}
	}
	return nil
}

// Notification is one queued inbound event from GetNotification.
type Notification struct {
	ReceiptID int64            `json:"receiptId"`
	Body      NotificationBody `json:"body"`
}

type NotificationBody struct {
	TypeWebhook string       `json:"typeWebhook"`
	SenderData  senderData   `json:"senderData"`
	MessageData *messageData `json:"messageData"`
}

type senderData struct {
	ChatID     string `json:"chatId"`
	Sender     string `json:"sender"`
	SenderName string `json:"senderName"`
}

type messageData struct {
	TypeMessage             string           `json:"typeMessage"`
	TextMessageData         *textMessage     `json:"textMessageData"`
	ExtendedTextMessageData *extendedMessage `json:"extendedTextMessageData"`
}

type textMessage struct {
	TextMessage string `json:"textMessage"`
}

type extendedMessage struct {
	Text string `json:"text"`
}

// Sender returns the sender phone number without the @c.us suffix.
func (b NotificationBody) Sender() string {
	id := b.SenderData.ChatID
	if id == "" {
		id = b.SenderData.Sender
	}
	if i := strings.IndexByte(id, '@'); i >= 0 {
		id = id[:i]
	}
	return id
}

// Text extracts the message text from the supported payload shapes.
// Empty for non-text message types.
func (b NotificationBody) Text() string {
	if b.MessageData == nil {
		return ""
	}
	if ext := b.MessageData.ExtendedTextMessageData; ext != nil && ext.Text != "" {
		return ext.Text
	}
	if tm := b.MessageData.TextMessageData; tm != nil {
		return tm.TextMessage
	}
	return ""
}

// Receive fetches the next queued notification, or nil when the queue is
// empty. The caller must Ack the receipt after handling it.
func (g *GreenAPI) Receive(ctx context.Context) (*Notification, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url("GetNotification"), nil)
	if err != nil {
		return nil, fmt.Errorf("build receive request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("get notification: status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read notification body: %w", err)
	}
	// The API returns a bare "null" when there is nothing queued.
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	return &n, nil
}

// Ack deletes a handled notification from the queue. An unacked receipt is
// re-delivered, so handling must be idempotent.
func (g *GreenAPI) Ack(ctx context.Context, receiptID int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, g.url("DeleteNotification", fmt.Sprintf("%d", receiptID)), nil)
	if err != nil {
		return fmt.Errorf("build ack request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("delete notification %d: %w", receiptID, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("delete notification %d: status %d", receiptID, resp.StatusCode)
	}
	return nil
}

// State returns the WhatsApp instance state ("authorized" when ready).
func (g *GreenAPI) State(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.url("getStateInstance"), nil)
	if err != nil {
		return "", fmt.Errorf("build state request: %w", err)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("get instance state: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("get instance state: status %d", resp.StatusCode)
	}

	var out struct {
		StateInstance string `json:"stateInstance"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode instance state: %w", err)
	}
	return out.StateInstance, nil
}
