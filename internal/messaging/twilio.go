package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// phoneNumberRegex matches every non-digit character.
var phoneNumberRegex = regexp.MustCompile(`\D`)

// TwilioOpts holds configuration for the Twilio WhatsApp transport.
type TwilioOpts struct {
	AccountSID string
	AuthToken  string
	FromWhats  string
}

// TwilioOption configures TwilioOpts.
type TwilioOption func(*TwilioOpts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) TwilioOption {
	return func(o *TwilioOpts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) TwilioOption {
	return func(o *TwilioOpts) { o.AuthToken = token }
}

// WithFromWhats sets the sender, in "whatsapp:+1234567890" format.
func WithFromWhats(from string) TwilioOption {
	return func(o *TwilioOpts) { o.FromWhats = from }
}

// twilioSender creates messages through the Twilio REST API.
type twilioSender interface {
	CreateMessage(params *twilioApi.CreateMessageParams) error
}

type restSender struct {
	client *twilio.RestClient
}

func (s restSender) CreateMessage(params *twilioApi.CreateMessageParams) error {
	_, err := s.client.Api.CreateMessage(params)
	return err
}

// TwilioTransport sends WhatsApp messages through Twilio and receives them via
// the inbound webhook.
type TwilioTransport struct {
	sender    twilioSender
	fromWhats string
	events    chan Inbound
	mu        sync.RWMutex
	stopped   bool
}

// NewTwilioTransport creates a transport with a real Twilio REST client.
// Missing options fall back to TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewTwilioTransport(opts ...TwilioOption) (*TwilioTransport, error) {
	var cfg TwilioOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromWhats == "" {
		cfg.FromWhats = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("NewTwilioTransport: config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromWhats_set", cfg.FromWhats != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromWhats == "" {
		return nil, fmt.Errorf("fromWhats number must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilioTransport(restSender{client: client}, cfg.FromWhats), nil
}

func newTwilioTransport(sender twilioSender, from string) *TwilioTransport {
	return &TwilioTransport{
		sender:    sender,
		fromWhats: from,
		events:    make(chan Inbound, DefaultChannelBufferSize),
	}
}

func (t *TwilioTransport) Name() string { return "twilio" }

// ValidateAndCanonicalizeRecipient strips every non-digit and requires at least 6 digits.
func (t *TwilioTransport) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	return canonical, nil
}

func (t *TwilioTransport) checkRunning() error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.stopped {
		return ErrServiceStopped
	}
	return nil
}

// SendText sends a WhatsApp text. Choices are rendered by the Router.
func (t *TwilioTransport) SendText(ctx context.Context, chatID, text string, opts TextOptions) error {
	return t.send(chatID, text, "")
}

// SendPhoto sends a media message; ref must be a publicly reachable URL.
func (t *TwilioTransport) SendPhoto(ctx context.Context, chatID, ref, caption string) error {
	return t.send(chatID, caption, ref)
}

func (t *TwilioTransport) send(chatID, body, mediaURL string) error {
	if err := t.checkRunning(); err != nil {
		return err
	}
	to, err := t.ValidateAndCanonicalizeRecipient(chatID)
	if err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo("whatsapp:+" + to)
	params.SetFrom(t.fromWhats)
	if body != "" {
		params.SetBody(body)
	}
	if mediaURL != "" {
		params.SetMediaUrl([]string{mediaURL})
	}
	if err := t.sender.CreateMessage(params); err != nil {
		slog.Error("TwilioTransport.send: CreateMessage failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	slog.Debug("TwilioTransport.send: message sent", "to", to, "media", mediaURL != "")
	return nil
}

// DeleteMessage is not available for WhatsApp messages sent through Twilio.
func (t *TwilioTransport) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	return ErrUnsupported
}

func (t *TwilioTransport) SupportsChoices() bool { return false }

// Start is a no-op; inbound messages arrive through WebhookHandler.
func (t *TwilioTransport) Start(ctx context.Context) error { return nil }

// Stop closes the event channel.
func (t *TwilioTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return nil
	}
	t.stopped = true
	close(t.events)
	return nil
}

func (t *TwilioTransport) Events() <-chan Inbound { return t.events }

// WebhookHandler handles inbound Twilio webhook requests and emits them as events.
func (t *TwilioTransport) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioTransport.WebhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	ev, err := t.parseWebhook(r)
	if err != nil {
		slog.Warn("TwilioTransport.WebhookHandler: rejected webhook", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.stopped {
		http.Error(w, "Service stopped", http.StatusServiceUnavailable)
		return
	}
	if !emit(t.events, ev) {
		slog.Warn("TwilioTransport.WebhookHandler: events channel blocked, dropping message", "from", ev.UserID)
		http.Error(w, "Busy", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

func (t *TwilioTransport) parseWebhook(r *http.Request) (Inbound, error) {
	from := r.FormValue("From")
	if from == "" {
		return Inbound{}, fmt.Errorf("missing From")
	}
	user, err := t.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		return Inbound{}, err
	}
	ev := Inbound{
		MessageID:   r.FormValue("MessageSid"),
		UserID:      user,
		ChatID:      user,
		DisplayName: r.FormValue("ProfileName"),
		Text:        r.FormValue("Body"),
		Time:        time.Now().UTC(),
	}
	numMedia, _ := strconv.Atoi(r.FormValue("NumMedia"))
	for i := 0; i < numMedia; i++ {
		url := r.FormValue(fmt.Sprintf("MediaUrl%d", i))
		if url == "" {
			continue
		}
		ev.Photos = append(ev.Photos, models.PhotoRef{Ref: url})
	}
	if ev.Text == "" && len(ev.Photos) == 0 {
		return Inbound{}, fmt.Errorf("missing Body")
	}
	return ev, nil
}
