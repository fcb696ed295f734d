package gateway

import (
	"context"
	"errors"
	"fmt"
)

// Gateway sends outbound messages to a recipient address. Implementations
// must be safe for concurrent use.
type Gateway interface {
	// Name returns the gateway identifier ("green_api", "telegram").
	Name() string

	// Send delivers text to the given address (a phone number for WhatsApp,
	// a chat ID for Telegram).
	Send(ctx context.Context, to, text string) error
}

// Handler processes one inbound message and returns the reply to send back.
// An empty reply means no response is needed.
type Handler func(ctx context.Context, from, text string) (reply string, err error)

// TransientError marks a delivery failure that should be logged and skipped
// rather than aborting the batch.
type TransientError struct {
	Gateway string
	Err     error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s send failed: %v", e.Gateway, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a gateway delivery failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
