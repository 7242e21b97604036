package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/store"
	"github.com/google/uuid"
)

// turn carries the state of one inbound event while the user's lock is held.
type turn struct {
	ctx     context.Context
	userID  string
	chatID  string
	session *models.Session
	conv    *models.Conversation
	route   string

	// mayOpen allows the turn to open a conversation when none is active.
	mayOpen             bool
	aiDataChanged       bool
	refreshConversation bool
	endedConversationID string
}

// aiSessionData returns the assistant context, preferring the conversation row.
func (t *turn) aiSessionData() map[string]any {
	if t.conv != nil && t.conv.AISessionData != nil {
		return t.conv.AISessionData
	}
	return t.session.AISessionData
}

// run executes handle for one event under the user's lock, then persists the
// session and keeps the conversation and its timer in step.
func (s *Supervisor) run(ctx context.Context, userID, chatID, kind, body string, mayOpen bool, handle func(t *turn) models.OutboundActions) (models.OutboundActions, error) {
	if userID == "" {
		return nil, models.ErrEmptyUserID
	}
	if chatID == "" {
		return nil, models.ErrEmptyChatID
	}
	start := s.opts.Now()
	unlock := s.locks.lock(userID)
	defer unlock()

	s.registerUser(ctx, userID, chatID, start)
	t := &turn{
		ctx:     ctx,
		userID:  userID,
		chatID:  chatID,
		session: s.loadSession(ctx, userID, start),
		conv:    s.activeConversation(ctx, userID),
		mayOpen: mayOpen,
	}
	t.session.Touch(start)
	s.logMessage(ctx, t, models.MessageDirectionInbound, kind, body)

	out := handle(t)

	s.finishTurn(t)
	for _, o := range out {
		if o.Kind == models.OutboundText {
			s.logMessage(ctx, t, models.MessageDirectionOutbound, string(o.Kind), o.Text)
		}
	}
	s.metrics.Inbound(kind, t.route)
	s.metrics.ObserveTurn(t.route, s.opts.Now().Sub(start))
	return out, nil
}

// finishTurn runs after the reply is computed: it opens or renews the
// conversation timer, stores the assistant context, and saves the session.
func (s *Supervisor) finishTurn(t *turn) {
	ctx := t.ctx
	switch {
	case t.endedConversationID != "":
		// Timer already cancelled when the survey was sent.
		t.conv = nil
	default:
		if t.conv == nil || t.refreshConversation {
			t.conv = s.activeConversation(ctx, t.userID)
		}
		if t.conv == nil && t.mayOpen && t.session.State == models.SessionStateIdle {
			t.conv = s.openConversation(ctx, t)
		}
		if t.conv != nil {
			s.deps.Timeouts.Renew(t.userID, t.conv.ID, s.opts.TimeoutMinutes)
		}
	}

	if t.aiDataChanged && t.conv != nil {
		if err := s.deps.Repos.UpdateConversationAISessionData(ctx, t.conv.ID, t.session.AISessionData); err != nil {
			slog.Error("Supervisor.finishTurn: failed to store assistant context", "userID", t.userID, "conversationID", t.conv.ID, "error", err)
		}
	}

	if err := s.deps.Sessions.Save(ctx, t.session); err != nil {
		slog.Error("Supervisor.finishTurn: failed to save session", "userID", t.userID, "state", t.session.State, "error", err)
	}
}

// loadSession returns the persisted session, or a fresh idle one when none
// exists or the stored copy cannot be read.
func (s *Supervisor) loadSession(ctx context.Context, userID string, now time.Time) *models.Session {
	sess, err := s.deps.Sessions.Load(ctx, userID)
	if err != nil {
		slog.Warn("Supervisor.loadSession: discarding unreadable session", "userID", userID, "error", err)
		return models.NewSession(userID, now)
	}
	if sess == nil {
		return models.NewSession(userID, now)
	}
	return sess
}

func (s *Supervisor) activeConversation(ctx context.Context, userID string) *models.Conversation {
	conv, err := s.deps.Repos.GetActiveConversation(ctx, userID)
	if err != nil {
		slog.Error("Supervisor.activeConversation: lookup failed", "userID", userID, "error", err)
		return nil
	}
	return conv
}

func (s *Supervisor) openConversation(ctx context.Context, t *turn) *models.Conversation {
	conv := &models.Conversation{
		ID:            uuid.NewString(),
		UserID:        t.userID,
		StartedAt:     s.opts.Now().UTC(),
		Status:        models.ConversationStatusActive,
		AISessionData: t.session.AISessionData,
	}
	if err := s.deps.Repos.CreateConversation(ctx, conv); err != nil {
		if errors.Is(err, store.ErrActiveConversationExists) {
			return s.activeConversation(ctx, t.userID)
		}
		slog.Error("Supervisor.openConversation: failed to create conversation", "userID", t.userID, "error", err)
		return nil
	}
	slog.Info("Supervisor.openConversation: conversation started", "userID", t.userID, "conversationID", conv.ID)
	return conv
}

func (s *Supervisor) registerUser(ctx context.Context, userID, chatID string, now time.Time) {
	if err := s.deps.Repos.UpsertUser(ctx, models.User{ID: userID, ChatID: chatID, CreatedAt: now.UTC(), UpdatedAt: now.UTC()}); err != nil {
		slog.Warn("Supervisor.registerUser: upsert failed", "userID", userID, "error", err)
	}
}

func (s *Supervisor) logMessage(ctx context.Context, t *turn, dir models.MessageDirection, kind, body string) {
	convID := ""
	if t.conv != nil {
		convID = t.conv.ID
	}
	if err := s.deps.Repos.AddMessage(ctx, newMessage(t.userID, convID, dir, kind, body, s.opts.Now().UTC())); err != nil {
		slog.Debug("Supervisor.logMessage: failed to log message", "userID", t.userID, "error", err)
	}
}
