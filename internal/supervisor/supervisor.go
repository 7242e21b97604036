// Package supervisor coordinates every inbound event for a user: it owns the
// session state machine, routes events to the guarantee flow, the survey, or
// the assistant, and keeps conversations and their inactivity timers in step.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/dispatcher"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/guarantee"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/metrics"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/session"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/store"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/survey"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/timeout"
	"github.com/google/uuid"
)

// Routes reported to metrics.
const (
	RouteGuarantee = "guarantee"
	RouteSurvey    = "survey"
	RouteAssistant = "assistant"
	RouteCancel    = "cancel"
	RouteTimeout   = "timeout"
)

// Conversation end reasons reported to metrics.
const (
	EndReasonAssistant = "assistant"
	EndReasonTimeout   = "timeout"
)

const (
	msgNothingToCancel = "No hay ninguna operación en curso para cancelar."
	msgSurveySkipped   = "Encuesta omitida. ¡Gracias por contactarnos!"
	msgSurveyExpired   = "Esta encuesta ya no está disponible. ¡Gracias!"
	photoPlaceholder   = "[foto]"
	expiryTimeout      = 30 * time.Second
)

// Repos is the persistence surface the supervisor uses directly.
type Repos interface {
	store.UserRepo
	store.ConversationRepo
	store.MessageRepo
}

// Dispatcher runs one assistant turn. *dispatcher.Dispatcher satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, req dispatcher.Request) dispatcher.Result
}

// Notifier delivers messages that are not a reply to an inbound event, such as
// the survey sent when a conversation times out.
type Notifier interface {
	Deliver(ctx context.Context, out models.OutboundActions) error
}

// Deps groups the collaborators of a Supervisor.
type Deps struct {
	Repos      Repos
	Sessions   session.Repository
	Timeouts   *timeout.Manager
	Guarantees *guarantee.Engine
	Surveys    *survey.Engine
	Dispatcher Dispatcher
}

// Opts configures a Supervisor.
type Opts struct {
	TimeoutMinutes int
	Metrics        *metrics.Metrics
	Now            func() time.Time
}

// Option sets a field on Opts.
type Option func(*Opts)

// WithTimeoutMinutes sets the inactivity window.
func WithTimeoutMinutes(minutes int) Option {
	return func(o *Opts) { o.TimeoutMinutes = minutes }
}

// WithMetrics records turn and lifecycle metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Supervisor is the entry point for inbound events. Events for different users
// run concurrently; events for the same user are serialized.
type Supervisor struct {
	deps    Deps
	opts    Opts
	locks   *userLocks
	metrics *metrics.Metrics

	notifierMu sync.RWMutex
	notifier   Notifier
}

// New creates a Supervisor and registers it as the timeout expiry handler.
func New(deps Deps, opts ...Option) (*Supervisor, error) {
	if deps.Repos == nil || deps.Sessions == nil || deps.Timeouts == nil ||
		deps.Guarantees == nil || deps.Surveys == nil || deps.Dispatcher == nil {
		return nil, errors.New("supervisor: missing dependency")
	}
	cfg := Opts{TimeoutMinutes: timeout.DefaultMinutes, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TimeoutMinutes <= 0 {
		cfg.TimeoutMinutes = timeout.DefaultMinutes
	}
	s := &Supervisor{deps: deps, opts: cfg, locks: newUserLocks(), metrics: cfg.Metrics}
	deps.Timeouts.SetExpiryHandler(s.HandleTimeout)
	return s, nil
}

// SetNotifier sets where unsolicited messages are delivered.
func (s *Supervisor) SetNotifier(n Notifier) {
	s.notifierMu.Lock()
	defer s.notifierMu.Unlock()
	s.notifier = n
}

// TimeoutMinutes returns the configured inactivity window.
func (s *Supervisor) TimeoutMinutes() int {
	return s.opts.TimeoutMinutes
}

// HandleInboundText processes a text message.
func (s *Supervisor) HandleInboundText(ctx context.Context, userID, chatID, text string) (models.OutboundActions, error) {
	return s.run(ctx, userID, chatID, "text", text, true, func(t *turn) models.OutboundActions {
		if isCancelCommand(text) {
			return s.cancel(t)
		}
		if t.session.State == models.SessionStateGuaranteeFlow {
			if res := s.deps.Guarantees.ProcessStep(ctx, t.session, chatID, guarantee.Input{Text: text}); res.Handled {
				t.route = RouteGuarantee
				s.noteGuarantee(res)
				return res.Outbound
			}
		}
		if t.session.State == models.SessionStateSurveyWaiting {
			t.route = RouteSurvey
			return survey.RejectText(chatID)
		}
		return s.assistant(t, text)
	})
}

// HandleInboundPhoto processes a photo. photos holds every resolution the
// transport offers; caption may be empty.
func (s *Supervisor) HandleInboundPhoto(ctx context.Context, userID, chatID string, photos []models.PhotoRef, caption string) (models.OutboundActions, error) {
	body := photoPlaceholder
	if best, ok := models.LargestPhoto(photos); ok {
		body = best.Ref
	}
	return s.run(ctx, userID, chatID, "photo", body, true, func(t *turn) models.OutboundActions {
		if t.session.State == models.SessionStateGuaranteeFlow {
			if res := s.deps.Guarantees.ProcessStep(ctx, t.session, chatID, guarantee.Input{Text: caption, Photos: photos}); res.Handled {
				t.route = RouteGuarantee
				s.noteGuarantee(res)
				return res.Outbound
			}
		}
		if t.session.State == models.SessionStateSurveyWaiting {
			t.route = RouteSurvey
			return survey.RejectText(chatID)
		}
		msg := strings.TrimSpace(caption)
		if msg == "" {
			msg = photoPlaceholder
		}
		return s.assistant(t, msg)
	})
}

// HandleCallback processes callback data from a choice the user selected.
func (s *Supervisor) HandleCallback(ctx context.Context, userID, chatID, data string) (models.OutboundActions, error) {
	return s.run(ctx, userID, chatID, "callback", data, true, func(t *turn) models.OutboundActions {
		if survey.IsRatingCallback(data) {
			t.route = RouteSurvey
			t.mayOpen = false
			if !survey.IsWaiting(t.session) {
				return models.OutboundActions{models.TextMessage(chatID, msgSurveyExpired)}
			}
			rating, err := survey.ParseCallback(data)
			if err != nil {
				slog.Warn("Supervisor.HandleCallback: bad rating callback", "userID", userID, "data", data, "error", err)
				rating = 0
			}
			res := s.deps.Surveys.ProcessResponse(ctx, t.session, chatID, rating)
			if res.Accepted {
				s.metrics.SurveyRating(fmt.Sprint(rating))
			}
			return res.Outbound
		}
		if t.session.State == models.SessionStateSurveyWaiting {
			t.route = RouteSurvey
			return survey.RejectText(chatID)
		}
		return s.assistant(t, data)
	})
}

// CancelCurrent abandons whatever flow the user is in.
func (s *Supervisor) CancelCurrent(ctx context.Context, userID, chatID string) (models.OutboundActions, error) {
	return s.run(ctx, userID, chatID, "command", "/cancel", false, s.cancel)
}

func (s *Supervisor) cancel(t *turn) models.OutboundActions {
	t.route = RouteCancel
	t.mayOpen = false
	switch t.session.State {
	case models.SessionStateGuaranteeFlow:
		return s.deps.Guarantees.CancelFlow(t.session, t.chatID)
	case models.SessionStateSurveyWaiting:
		t.session.ResetIdle()
		return models.OutboundActions{models.TextMessage(t.chatID, msgSurveySkipped)}
	default:
		return models.OutboundActions{models.TextMessage(t.chatID, msgNothingToCancel)}
	}
}

// assistant forwards the message to the dispatcher and applies the signals
// raised by its actions.
func (s *Supervisor) assistant(t *turn, message string) models.OutboundActions {
	t.route = RouteAssistant
	res := s.deps.Dispatcher.Dispatch(t.ctx, dispatcher.Request{
		Message:     message,
		UserID:      t.userID,
		ChatID:      t.chatID,
		SessionData: t.aiSessionData(),
	})
	t.session.AISessionData = res.SessionData
	t.aiDataChanged = true

	out := res.Outbound(t.chatID)
	if res.StartGuarantee {
		out = append(out, s.deps.Guarantees.StartFlow(t.session, t.chatID)...)
		t.refreshConversation = true
	}
	if res.EndedConversationID != "" {
		out = append(out, s.endWithSurvey(t.session, t.chatID, res.EndedConversationID, EndReasonAssistant)...)
		t.endedConversationID = res.EndedConversationID
	}
	return out
}

// endWithSurvey cancels the user's timer and moves the session to the survey.
// The conversation must already be ended in storage.
func (s *Supervisor) endWithSurvey(sess *models.Session, chatID, conversationID, reason string) models.OutboundActions {
	s.deps.Timeouts.Cancel(sess.UserID)
	sess.MarkConversationEnded()
	s.metrics.ConversationEnded(reason)
	slog.Info("Supervisor.endWithSurvey: conversation ended", "userID", sess.UserID, "conversationID", conversationID, "reason", reason)
	return s.deps.Surveys.SendPrompt(sess, chatID, conversationID)
}

func (s *Supervisor) noteGuarantee(res guarantee.StepResult) {
	if res.Completed {
		s.metrics.GuaranteeRegistered()
	}
}

func isCancelCommand(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "/cancel", "/cancelar", "cancelar":
		return true
	}
	return false
}

// newMessage builds a message log entry.
func newMessage(userID, conversationID string, dir models.MessageDirection, kind, body string, at time.Time) models.Message {
	return models.Message{
		ID:             uuid.NewString(),
		UserID:         userID,
		ConversationID: conversationID,
		Direction:      dir,
		Kind:           kind,
		Body:           body,
		CreatedAt:      at,
	}
}
