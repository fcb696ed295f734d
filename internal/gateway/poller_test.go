package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"
)

// queueServer serves a fixed sequence of notifications and records sends
// and acks, mimicking the Green API receive/ack cycle.
type queueServer struct {
	mu            sync.Mutex
	notifications []string
	acked         []string
	sent          []map[string]string
}

func (q *queueServer) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q.mu.Lock()
		defer q.mu.Unlock()
		switch {
		case strings.Contains(r.URL.Path, "/GetNotification/"):
			if len(q.notifications) == 0 {
				w.Write([]byte("null"))
				return
			}
			next := q.notifications[0]
			q.notifications = q.notifications[1:]
			w.Write([]byte(next))
		case strings.Contains(r.URL.Path, "/DeleteNotification/"):
			parts := strings.Split(r.URL.Path, "/")
			q.acked = append(q.acked, parts[len(parts)-1])
			w.Write([]byte(`{"result": true}`))
		case strings.Contains(r.URL.Path, "/SendMessage/"):
			var payload map[string]string
			json.NewDecoder(r.Body).Decode(&payload)
			q.sent = append(q.sent, payload)
			w.Write([]byte(`{"idMessage":"x"}`))
		default:
			http.NotFound(w, r)
		}
	})
}

func (q *queueServer) snapshot() (acked []string, sent []map[string]string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.acked...), append([]map[string]string(nil), q.sent...)
}

func TestPoller_HandleReplyAck(t *testing.T) {
	q := &queueServer{notifications: []string{
		`{
			"receiptId": 1,
			"body": {
				"typeWebhook": "incomingMessageReceived",
				"senderData": {"chatId": "972501234567@c.us"},
				"messageData": {"typeMessage": "textMessage", "textMessageData": {"textMessage": "taken"}}
			}
		}`,
		`{
			"receiptId": 2,
			"body": {"typeWebhook": "stateInstanceChanged"}
		}`,
	}}
	client, _ := newTestClient(t, q.handler())

	var handledMu sync.Mutex
	var handled []string
	handler := func(ctx context.Context, from, text string) (string, error) {
		handledMu.Lock()
		handled = append(handled, from+":"+text)
		handledMu.Unlock()
		return "recorded, thanks!", nil
	}

	poller := NewPoller(client, handler, nil, discardLogger(), 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Run(ctx)
		close(done)
	}()

	// Wait for both receipts to be acked.
	deadline := time.After(3 * time.Second)
	for {
		acked, _ := q.snapshot()
		if len(acked) >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timeout waiting for acks")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	acked, sent := q.snapshot()
	if acked[0] != "1" || acked[1] != "2" {
		t.Fatalf("unexpected ack order: %v", acked)
	}

	handledMu.Lock()
	defer handledMu.Unlock()
	// Only the text message reaches the handler; the state change is
	// acked without handling.
	if len(handled) != 1 || handled[0] != "972501234567:taken" {
		t.Fatalf("unexpected handled messages: %v", handled)
	}
	if len(sent) != 1 || sent[0]["message"] != "recorded, thanks!" {
		t.Fatalf("unexpected replies: %v", sent)
	}
	if sent[0]["chatId"] != "972501234567@c.us" {
		t.Fatalf("reply addressed to %q", sent[0]["chatId"])
	}
}

func TestPoller_HandlerErrorStillAcks(t *testing.T) {
	q := &queueServer{notifications: []string{
		`{
			"receiptId": 7,
			"body": {
				"typeWebhook": "incomingMessageReceived",
				"senderData": {"chatId": "972501234567@c.us"},
				"messageData": {"typeMessage": "textMessage", "textMessageData": {"textMessage": "hello"}}
			}
		}`,
	}}
	client, _ := newTestClient(t, q.handler())

	handler := func(ctx context.Context, from, text string) (string, error) {
		return "", context.DeadlineExceeded
	}

	poller := NewPoller(client, handler, nil, discardLogger(), 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		poller.Run(ctx)
		close(done)
	}()

	deadline := time.After(3 * time.Second)
	for {
		acked, _ := q.snapshot()
		if len(acked) >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timeout waiting for ack")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	acked, sent := q.snapshot()
	if acked[0] != "7" {
		t.Fatalf("unexpected acks: %v", acked)
	}
	if len(sent) != 0 {
		t.Fatalf("no reply expected after handler error, got %v", sent)
	}
}
