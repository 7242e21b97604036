// Package dispatcher sends user messages to the assistant and executes the
// actions it requests against the catalog, guarantee, and conversation stores.
package dispatcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/assistant"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/metrics"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/store"
)

// Catalog limits.
const (
	DefaultCatalogLimit = 5
	MaxCatalogLimit     = 10
)

// Assistant answers one user message. *assistant.Service satisfies it: on
// failure it returns a fallback response together with the cause.
type Assistant interface {
	Ask(ctx context.Context, req models.AssistantRequest) (*models.AssistantResponse, error)
}

// Repos is the persistence surface the actions read and write.
type Repos interface {
	store.CatalogRepo
	store.GuaranteeRepo
	store.ConversationRepo
}

// Request is one message to dispatch.
type Request struct {
	Message     string
	UserID      string
	ChatID      string
	SessionData map[string]any
}

// Result aggregates the assistant reply and every action outcome of a turn.
type Result struct {
	Reply         models.AssistantReply
	SessionData   map[string]any
	ActionResults []models.ActionResult
	// Fallback is set when the reply is the canned degraded response.
	Fallback bool
	// StartGuarantee asks the caller to open the guarantee flow.
	StartGuarantee bool
	// EndedConversationID is set when an action ended the user's conversation;
	// the caller sends the survey for it.
	EndedConversationID string
}

// Outbound returns the reply followed by every action's outbound messages, in order.
func (r Result) Outbound(chatID string) models.OutboundActions {
	out := models.OutboundActions{}
	if r.Reply.Text != "" {
		out = append(out, models.Outbound{
			Kind:        models.OutboundText,
			ChatID:      chatID,
			Text:        r.Reply.Text,
			ParseMode:   r.Reply.ParseMode,
			ReplyMarkup: r.Reply.ReplyMarkup,
		})
	}
	for _, ar := range r.ActionResults {
		out = append(out, ar.Outbound...)
	}
	return out
}

// Opts configures a Dispatcher.
type Opts struct {
	DefaultLimit int
	MaxLimit     int
	Rates        RateLookup
	Metrics      *metrics.Metrics
	Now          func() time.Time
}

// Option sets a field on Opts.
type Option func(*Opts)

// WithCatalogLimits sets the default and maximum number of products returned.
func WithCatalogLimits(defaultLimit, maxLimit int) Option {
	return func(o *Opts) {
		if defaultLimit > 0 {
			o.DefaultLimit = defaultLimit
		}
		if maxLimit > 0 {
			o.MaxLimit = maxLimit
		}
	}
}

// WithRateLookup enables currency conversion for catalog results.
func WithRateLookup(r RateLookup) Option {
	return func(o *Opts) { o.Rates = r }
}

// WithMetrics records action outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

type actionFunc func(ctx context.Context, call actionCall, res *Result) models.ActionResult

type actionCall struct {
	userID string
	chatID string
	params map[string]any
}

// Dispatcher runs one assistant exchange per turn.
type Dispatcher struct {
	assistant Assistant
	repos     Repos
	opts      Opts
	handlers  map[string]actionFunc
}

// New creates a Dispatcher.
func New(a Assistant, repos Repos, opts ...Option) *Dispatcher {
	cfg := Opts{DefaultLimit: DefaultCatalogLimit, MaxLimit: MaxCatalogLimit, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxLimit < cfg.DefaultLimit {
		cfg.MaxLimit = cfg.DefaultLimit
	}
	d := &Dispatcher{assistant: a, repos: repos, opts: cfg}
	d.handlers = map[string]actionFunc{
		models.CommandConsultCatalog:    d.consultCatalog,
		models.CommandConsultGuarantees: d.consultGuarantees,
		models.CommandRegisterGuarantee: d.registerGuarantee,
		models.CommandConsultSchedule:   d.consultSchedule,
		models.CommandSendGeolocation:   d.sendGeolocation,
		models.CommandSendImage:         d.sendImage,
		models.CommandEndConversation:   d.endConversation,
	}
	return d
}

// Dispatch asks the assistant about req and executes the returned actions in order.
// It never fails: provider errors surface as a fallback reply.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) Result {
	slog.Debug("Dispatcher.Dispatch: asking assistant", "userID", req.UserID)
	resp, err := d.assistant.Ask(ctx, models.AssistantRequest{
		Message:     req.Message,
		UserID:      req.UserID,
		ChatID:      req.ChatID,
		SessionData: req.SessionData,
		Timestamp:   d.opts.Now().UTC(),
	})
	if resp == nil {
		// Only a misbehaving Assistant gets here.
		slog.Error("Dispatcher.Dispatch: assistant returned no response", "userID", req.UserID, "error", err)
		return Result{
			Reply:       models.AssistantReply{Text: msgAssistantUnavailable},
			SessionData: req.SessionData,
			Fallback:    true,
		}
	}

	res := Result{
		Reply:       resp.Response,
		SessionData: resp.SessionData,
		Fallback:    err != nil,
	}
	if res.SessionData == nil {
		res.SessionData = req.SessionData
	}
	if res.Fallback {
		return res
	}
	res.SessionData = withoutFallbackFlags(res.SessionData)

	for i, action := range resp.Actions {
		ar := d.execute(ctx, actionCall{userID: req.UserID, chatID: req.ChatID, params: action.Parameters}, action.Command, &res)
		if !ar.Success {
			slog.Warn("Dispatcher.Dispatch: action failed", "userID", req.UserID, "index", i, "command", action.Command, "error", ar.Error)
		}
		d.opts.Metrics.ActionResult(action.Command, ar.Success)
		res.ActionResults = append(res.ActionResults, ar)
	}
	return res
}

func (d *Dispatcher) execute(ctx context.Context, call actionCall, command string, res *Result) (result models.ActionResult) {
	h, ok := d.handlers[command]
	if !ok {
		return failure(command, "unknown command")
	}
	if call.params == nil {
		call.params = map[string]any{}
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Dispatcher.execute: action panicked", "command", command, "panic", r)
			result = failure(command, "internal error")
		}
	}()
	return h(ctx, call, res)
}

func failure(command, msg string) models.ActionResult {
	return models.ActionResult{Command: command, Success: false, Error: msg}
}

func success(command string, data any, out ...models.Outbound) models.ActionResult {
	return models.ActionResult{Command: command, Success: true, Data: data, Outbound: out}
}

// withoutFallbackFlags returns data minus the keys left by an earlier fallback turn.
func withoutFallbackFlags(data map[string]any) map[string]any {
	_, flagged := data[assistant.SessionKeyFallback]
	_, reason := data[assistant.SessionKeyFallbackReason]
	if !flagged && !reason {
		return data
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	delete(out, assistant.SessionKeyFallback)
	delete(out, assistant.SessionKeyFallbackReason)
	return out
}
