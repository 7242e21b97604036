package messaging

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// SentMessage records one message sent through MockTransport.
type SentMessage struct {
	Kind      string
	ChatID    string
	Text      string
	PhotoRef  string
	MessageID string
	Opts      TextOptions
}

// MockTransport records outbound messages and lets callers inject inbound
// events. It backs tests and the "mock" transport mode.
type MockTransport struct {
	mu      sync.Mutex
	sent    []SentMessage
	events  chan Inbound
	stopped bool
	choices bool
	SendErr error
}

// NewMockTransport creates a MockTransport. withChoices controls SupportsChoices.
func NewMockTransport(withChoices bool) *MockTransport {
	return &MockTransport{events: make(chan Inbound, DefaultChannelBufferSize), choices: withChoices}
}

func (m *MockTransport) Name() string { return "mock" }

func (m *MockTransport) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	r := strings.TrimSpace(recipient)
	if r == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	return r, nil
}

func (m *MockTransport) SendText(ctx context.Context, chatID, text string, opts TextOptions) error {
	return m.record(SentMessage{Kind: "text", ChatID: chatID, Text: text, Opts: opts})
}

func (m *MockTransport) SendPhoto(ctx context.Context, chatID, ref, caption string) error {
	return m.record(SentMessage{Kind: "photo", ChatID: chatID, PhotoRef: ref, Text: caption})
}

func (m *MockTransport) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	return m.record(SentMessage{Kind: "delete", ChatID: chatID, MessageID: messageID})
}

func (m *MockTransport) record(msg SentMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrServiceStopped
	}
	if m.SendErr != nil {
		return m.SendErr
	}
	m.sent = append(m.sent, msg)
	return nil
}

func (m *MockTransport) SupportsChoices() bool { return m.choices }

func (m *MockTransport) Start(ctx context.Context) error { return nil }

func (m *MockTransport) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopped {
		m.stopped = true
		close(m.events)
	}
	return nil
}

func (m *MockTransport) Events() <-chan Inbound { return m.events }

// Inject queues an inbound event.
func (m *MockTransport) Inject(ev Inbound) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		return ErrServiceStopped
	}
	if !emit(m.events, ev) {
		return fmt.Errorf("mock transport event queue full")
	}
	return nil
}

// Sent returns a copy of every recorded message.
func (m *MockTransport) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}
