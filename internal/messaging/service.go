// Package messaging connects chat transports to the supervisor.
//
// A Transport delivers inbound events and sends outbound messages. The Router
// reads a transport's events, feeds them to the supervisor with per-user
// ordering, and delivers the resulting outbound actions back through the
// transport.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
)

// Constants for transport configuration
const (
	// DefaultChannelBufferSize is the buffer size of a transport's event channel.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long a transport waits to emit an event.
	DefaultChannelTimeout = 1 * time.Second
)

var (
	// ErrServiceStopped is returned when sending through a stopped transport.
	ErrServiceStopped = errors.New("messaging service stopped")
	// ErrUnsupported is returned for operations a transport cannot perform.
	ErrUnsupported = errors.New("operation not supported by transport")
)

// TextOptions carries optional formatting for a text message.
type TextOptions struct {
	ParseMode   string
	ReplyMarkup []byte
	Choices     []models.Choice
}

// Transport is a pluggable chat transport.
type Transport interface {
	// Name identifies the transport in logs and metrics.
	Name() string

	// ValidateAndCanonicalizeRecipient validates and canonicalizes a chat identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendText sends a text message.
	SendText(ctx context.Context, chatID, text string, opts TextOptions) error

	// SendPhoto sends a photo by reference with an optional caption.
	SendPhoto(ctx context.Context, chatID, ref, caption string) error

	// DeleteMessage deletes a previously sent message.
	DeleteMessage(ctx context.Context, chatID, messageID string) error

	// SupportsChoices reports whether the transport renders choices as
	// buttons that come back as callback data.
	SupportsChoices() bool

	// Start begins any background processing.
	Start(ctx context.Context) error

	// Stop stops background processing and closes Events.
	Stop() error

	// Events returns the channel of inbound events.
	Events() <-chan Inbound
}

// Inbound is one event received from a user.
type Inbound struct {
	MessageID    string            `json:"message_id,omitempty"`
	UserID       string            `json:"user_id"`
	ChatID       string            `json:"chat_id"`
	DisplayName  string            `json:"display_name,omitempty"`
	Text         string            `json:"text,omitempty"`
	Photos       []models.PhotoRef `json:"photos,omitempty"`
	CallbackData string            `json:"callback_data,omitempty"`
	Time         time.Time         `json:"time"`
}

// Kind returns "callback", "photo", or "text".
func (in Inbound) Kind() string {
	switch {
	case in.CallbackData != "":
		return "callback"
	case len(in.Photos) > 0:
		return "photo"
	default:
		return "text"
	}
}

// emit pushes ev onto ch, giving up after DefaultChannelTimeout.
func emit(ch chan<- Inbound, ev Inbound) bool {
	select {
	case ch <- ev:
		return true
	case <-time.After(DefaultChannelTimeout):
		return false
	}
}
