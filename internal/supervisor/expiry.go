package supervisor

import (
	"context"
	"errors"
	"log/slog"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/store"
)

// HandleTimeout is the timeout expiry handler. It ends the conversation and
// sends the survey. It is a no-op when the timer was renewed or the
// conversation already ended while the expiry was waiting for the user's lock.
func (s *Supervisor) HandleTimeout(userID, conversationID string) {
	ctx, cancel := context.WithTimeout(context.Background(), expiryTimeout)
	defer cancel()

	unlock := s.locks.lock(userID)
	defer unlock()

	if current, ok := s.deps.Timeouts.ConversationFor(userID); ok {
		slog.Debug("Supervisor.HandleTimeout: timer re-armed, skipping", "userID", userID, "conversationID", conversationID, "current", current)
		return
	}

	now := s.opts.Now().UTC()
	ended, err := s.deps.Repos.EndConversation(ctx, conversationID, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.Warn("Supervisor.HandleTimeout: conversation not found", "userID", userID, "conversationID", conversationID)
			return
		}
		slog.Error("Supervisor.HandleTimeout: failed to end conversation", "userID", userID, "conversationID", conversationID, "error", err)
		return
	}
	if !ended {
		slog.Debug("Supervisor.HandleTimeout: conversation already ended", "userID", userID, "conversationID", conversationID)
		return
	}

	user, err := s.deps.Repos.GetUser(ctx, userID)
	if err != nil {
		slog.Error("Supervisor.HandleTimeout: failed to resolve user", "userID", userID, "error", err)
		return
	}

	sess := s.loadSession(ctx, userID, now)
	out := s.endWithSurvey(sess, user.ChatID, conversationID, EndReasonTimeout)
	if err := s.deps.Sessions.Save(ctx, sess); err != nil {
		slog.Error("Supervisor.HandleTimeout: failed to save session", "userID", userID, "error", err)
	}

	t := &turn{ctx: ctx, userID: userID, chatID: user.ChatID, session: sess}
	for _, o := range out {
		s.logMessage(ctx, t, models.MessageDirectionOutbound, string(o.Kind), o.Text)
	}
	s.metrics.Inbound("timeout", RouteTimeout)

	s.notifierMu.RLock()
	n := s.notifier
	s.notifierMu.RUnlock()
	if n == nil {
		slog.Warn("Supervisor.HandleTimeout: no notifier, survey not delivered", "userID", userID)
		return
	}
	if err := n.Deliver(ctx, out); err != nil {
		slog.Error("Supervisor.HandleTimeout: failed to deliver survey", "userID", userID, "error", err)
	}
}
