package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/timeout"
)

// TimerRecoveryHandler re-arms recovered timers on the timeout manager.
func TimerRecoveryHandler(m *timeout.Manager) func(TimerRecoveryInfo) error {
	return func(info TimerRecoveryInfo) error {
		if info.UserID == "" || info.ConversationID == "" {
			return fmt.Errorf("incomplete timer recovery info: user %q conversation %q", info.UserID, info.ConversationID)
		}
		slog.Info("Recovering timer", "userID", info.UserID, "conversationID", info.ConversationID, "remaining", info.Remaining)
		m.StartAfter(info.UserID, info.ConversationID, info.Remaining)
		return nil
	}
}

// ConversationTimers re-arms the inactivity timer of every active conversation.
// The remaining window is measured from the session's last activity, falling
// back to the conversation start when no session is stored.
type ConversationTimers struct {
	Window time.Duration
}

// NewConversationTimers creates a recoverable for a window of the given minutes.
func NewConversationTimers(minutes int) *ConversationTimers {
	return &ConversationTimers{Window: time.Duration(minutes) * time.Minute}
}

// RecoverState implements Recoverable.
func (c *ConversationTimers) RecoverState(ctx context.Context, registry *RecoveryRegistry) error {
	convs, err := registry.Conversations().ListActiveConversations(ctx)
	if err != nil {
		return fmt.Errorf("failed to list active conversations: %w", err)
	}

	now := registry.Now()
	failed := 0
	for _, conv := range convs {
		last := conv.StartedAt
		if sessions := registry.Sessions(); sessions != nil {
			s, err := sessions.Load(ctx, conv.UserID)
			if err != nil {
				slog.Warn("ConversationTimers.RecoverState: session unreadable, using conversation start", "userID", conv.UserID, "error", err)
			} else if s != nil && s.LastActivity.After(last) {
				last = s.LastActivity
			}
		}

		remaining := c.Window - now.Sub(last)
		if remaining < 0 {
			remaining = 0
		}
		err := registry.RecoverTimer(TimerRecoveryInfo{
			UserID:         conv.UserID,
			ConversationID: conv.ID,
			LastActivity:   last,
			Remaining:      remaining,
		})
		if err != nil {
			slog.Error("ConversationTimers.RecoverState: failed to recover timer", "userID", conv.UserID, "conversationID", conv.ID, "error", err)
			failed++
		}
	}

	slog.Info("ConversationTimers.RecoverState: timers recovered", "count", len(convs)-failed, "failed", failed)
	if failed > 0 {
		return fmt.Errorf("failed to recover %d of %d timers", failed, len(convs))
	}
	return nil
}
