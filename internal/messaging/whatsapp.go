package messaging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/store"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
)

const (
	// DefaultWhatsAppDBPath is the default whatsmeow SQLite database.
	DefaultWhatsAppDBPath = "/var/lib/supportbot/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID server for regular users.
	JIDSuffix = "s.whatsapp.net"
	// maxPhotoBytes bounds photos downloaded for upload.
	maxPhotoBytes = 16 << 20
)

// WhatsAppOpts holds whatsmeow database and login settings.
type WhatsAppOpts struct {
	DBDSN       string
	QRPath      string
	NumericCode bool
}

// WhatsAppOption configures WhatsAppOpts.
type WhatsAppOption func(*WhatsAppOpts)

// WithDBDSN sets the whatsmeow database connection string.
func WithDBDSN(dsn string) WhatsAppOption {
	return func(o *WhatsAppOpts) { o.DBDSN = dsn }
}

// WithQRCodeOutput writes the login QR code to path instead of stdout.
func WithQRCodeOutput(path string) WhatsAppOption {
	return func(o *WhatsAppOpts) { o.QRPath = path }
}

// WithNumericCode prints the raw login code instead of a QR code.
func WithNumericCode() WhatsAppOption {
	return func(o *WhatsAppOpts) { o.NumericCode = true }
}

// WhatsAppTransport is a Transport backed by a whatsmeow client.
type WhatsAppTransport struct {
	client  *whatsmeow.Client
	http    *http.Client
	events  chan Inbound
	mu      sync.RWMutex
	stopped bool
	handler uint32
}

// NewWhatsAppTransport connects to WhatsApp, running the QR login flow when
// the device store has no session.
func NewWhatsAppTransport(ctx context.Context, opts ...WhatsAppOption) (*WhatsAppTransport, error) {
	var cfg WhatsAppOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultWhatsAppDBPath
	}
	dbDriver := store.DetectDSNType(dbDSN)
	if dbDriver == "sqlite3" && !strings.Contains(dbDSN, "foreign_keys") {
		slog.Warn("NewWhatsAppTransport: SQLite DSN without foreign keys; whatsmeow recommends enabling them",
			"dsn_example", "file:"+dbDSN+"?_foreign_keys=on")
	}

	container, err := sqlstore.New(ctx, dbDriver, dbDSN, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}
	device, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}
	client := whatsmeow.NewClient(device, waLog.Stdout("Client", "INFO", true))

	if client.Store.ID == nil {
		if err := login(ctx, client, cfg); err != nil {
			return nil, err
		}
	} else if err := client.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
	}
	slog.Info("NewWhatsAppTransport: connected")

	return &WhatsAppTransport{
		client: client,
		http:   &http.Client{Timeout: 30 * time.Second},
		events: make(chan Inbound, DefaultChannelBufferSize),
	}, nil
}

func login(ctx context.Context, client *whatsmeow.Client, cfg WhatsAppOpts) error {
	slog.Info("NewWhatsAppTransport: login required; starting QR code flow")
	qrChan, _ := client.GetQRChannel(ctx)
	if err := client.Connect(); err != nil {
		return fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}
	writer := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			return fmt.Errorf("failed to create QR file: %w", err)
		}
		defer f.Close()
		writer = f
	}
	for evt := range qrChan {
		if evt.Event != "code" {
			slog.Debug("NewWhatsAppTransport: login event", "event", evt.Event)
			continue
		}
		if cfg.NumericCode {
			fmt.Fprintln(writer, evt.Code)
		} else {
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
		}
	}
	return nil
}

func (t *WhatsAppTransport) Name() string { return "whatsapp" }

// ValidateAndCanonicalizeRecipient strips every non-digit and requires at least 6 digits.
func (t *WhatsAppTransport) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number %q", recipient)
	}
	return canonical, nil
}

func (t *WhatsAppTransport) jid(chatID string) (types.JID, error) {
	user, err := t.ValidateAndCanonicalizeRecipient(chatID)
	if err != nil {
		return types.JID{}, err
	}
	return types.NewJID(user, JIDSuffix), nil
}

func (t *WhatsAppTransport) sendMessage(ctx context.Context, chatID string, msg *waE2E.Message) error {
	t.mu.RLock()
	stopped := t.stopped
	t.mu.RUnlock()
	if stopped {
		return ErrServiceStopped
	}
	jid, err := t.jid(chatID)
	if err != nil {
		return err
	}
	if _, err := t.client.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("failed to send message to %s: %w", chatID, err)
	}
	return nil
}

// SendText sends a plain conversation message.
func (t *WhatsAppTransport) SendText(ctx context.Context, chatID, text string, opts TextOptions) error {
	return t.sendMessage(ctx, chatID, textMessage(text))
}

// SendPhoto downloads ref and uploads it as an image message.
func (t *WhatsAppTransport) SendPhoto(ctx context.Context, chatID, ref, caption string) error {
	data, err := t.download(ctx, ref)
	if err != nil {
		return err
	}
	uploaded, err := t.client.Upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		return fmt.Errorf("failed to upload photo: %w", err)
	}
	msg := &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
		Caption:       proto.String(caption),
		Mimetype:      proto.String(http.DetectContentType(data)),
		URL:           proto.String(uploaded.URL),
		DirectPath:    proto.String(uploaded.DirectPath),
		MediaKey:      uploaded.MediaKey,
		FileEncSHA256: uploaded.FileEncSHA256,
		FileSHA256:    uploaded.FileSHA256,
		FileLength:    proto.Uint64(uploaded.FileLength),
	}}
	return t.sendMessage(ctx, chatID, msg)
}

func (t *WhatsAppTransport) download(ctx context.Context, ref string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid photo reference %q: %w", ref, err)
	}
	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download photo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download photo: status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxPhotoBytes))
}

// DeleteMessage revokes a message previously sent by the bot.
func (t *WhatsAppTransport) DeleteMessage(ctx context.Context, chatID, messageID string) error {
	jid, err := t.jid(chatID)
	if err != nil {
		return err
	}
	return t.sendMessage(ctx, chatID, t.client.BuildRevoke(jid, types.EmptyJID, types.MessageID(messageID)))
}

func (t *WhatsAppTransport) SupportsChoices() bool { return false }

// Start registers the whatsmeow event handler.
func (t *WhatsAppTransport) Start(ctx context.Context) error {
	t.handler = t.client.AddEventHandler(func(evt interface{}) {
		msg, ok := evt.(*events.Message)
		if !ok {
			return
		}
		ev, ok := inboundFromWhatsApp(msg)
		if !ok {
			return
		}
		t.mu.RLock()
		defer t.mu.RUnlock()
		if t.stopped {
			return
		}
		if !emit(t.events, ev) {
			slog.Warn("WhatsAppTransport: events channel blocked, dropping message", "from", ev.UserID)
		}
	})
	return nil
}

// Stop disconnects the client and closes the event channel.
func (t *WhatsAppTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return nil
	}
	t.stopped = true
	t.client.RemoveEventHandler(t.handler)
	t.client.Disconnect()
	close(t.events)
	return nil
}

func (t *WhatsAppTransport) Events() <-chan Inbound { return t.events }

func textMessage(text string) *waE2E.Message {
	return &waE2E.Message{Conversation: proto.String(text)}
}

// inboundFromWhatsApp converts a whatsmeow message event. Messages from
// groups, from the bot itself, and of unsupported types are skipped.
func inboundFromWhatsApp(evt *events.Message) (Inbound, bool) {
	if evt == nil || evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return Inbound{}, false
	}
	user := evt.Info.Sender.User
	ev := Inbound{
		MessageID:   string(evt.Info.ID),
		UserID:      user,
		ChatID:      user,
		DisplayName: evt.Info.PushName,
		Time:        evt.Info.Timestamp,
	}
	m := evt.Message
	switch {
	case m.GetConversation() != "":
		ev.Text = m.GetConversation()
	case m.GetExtendedTextMessage().GetText() != "":
		ev.Text = m.GetExtendedTextMessage().GetText()
	case m.GetImageMessage() != nil:
		img := m.GetImageMessage()
		ev.Text = img.GetCaption()
		ev.Photos = []models.PhotoRef{{
			Ref:      "whatsapp:" + string(evt.Info.ID),
			Width:    int(img.GetWidth()),
			Height:   int(img.GetHeight()),
			FileSize: int(img.GetFileLength()),
		}}
	default:
		slog.Debug("WhatsAppTransport: ignoring unsupported message type", "from", user)
		return Inbound{}, false
	}
	return ev, true
}
