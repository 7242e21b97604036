// Package recovery restores process-local state after a restart.
//
// Timers live only in memory, so conversations that were still active when the
// process stopped need their inactivity timer re-armed. Components implement
// Recoverable and are run in order by a RecoveryManager.
package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/session"
	"github.com/GODE-Organization/test-chatbot-sub000/internal/store"
)

// Recoverable defines the interface for components that can recover their state
type Recoverable interface {
	// RecoverState is called during application startup to restore component state
	RecoverState(ctx context.Context, registry *RecoveryRegistry) error
}

// TimerRecoveryInfo describes an inactivity timer that needs to be re-armed.
type TimerRecoveryInfo struct {
	UserID         string
	ConversationID string
	LastActivity   time.Time
	// Remaining is the unexpired part of the window; zero means it already elapsed.
	Remaining time.Duration
}

// RecoveryRegistry provides services that components can use during recovery
type RecoveryRegistry struct {
	conversations store.ConversationRepo
	sessions      session.Repository
	now           func() time.Time

	timerRecoveryFunc func(TimerRecoveryInfo) error
}

// NewRecoveryRegistry creates a new recovery registry
func NewRecoveryRegistry(conversations store.ConversationRepo, sessions session.Repository) *RecoveryRegistry {
	return &RecoveryRegistry{
		conversations: conversations,
		sessions:      sessions,
		now:           time.Now,
	}
}

// RegisterTimerRecovery registers a callback for timer recovery
func (r *RecoveryRegistry) RegisterTimerRecovery(fn func(TimerRecoveryInfo) error) {
	r.timerRecoveryFunc = fn
}

// RecoverTimer requests recovery of a timer
func (r *RecoveryRegistry) RecoverTimer(info TimerRecoveryInfo) error {
	if r.timerRecoveryFunc == nil {
		return fmt.Errorf("no timer recovery handler registered")
	}
	return r.timerRecoveryFunc(info)
}

// Conversations gives recoverables access to conversation storage.
func (r *RecoveryRegistry) Conversations() store.ConversationRepo {
	return r.conversations
}

// Sessions gives recoverables access to session storage.
func (r *RecoveryRegistry) Sessions() session.Repository {
	return r.sessions
}

// Now returns the registry clock.
func (r *RecoveryRegistry) Now() time.Time {
	return r.now()
}

// RecoveryManager orchestrates recovery of all registered components
type RecoveryManager struct {
	registry     *RecoveryRegistry
	recoverables []Recoverable
}

// NewRecoveryManager creates a new recovery manager
func NewRecoveryManager(conversations store.ConversationRepo, sessions session.Repository) *RecoveryManager {
	return &RecoveryManager{
		registry: NewRecoveryRegistry(conversations, sessions),
	}
}

// RegisterRecoverable adds a component that can be recovered
func (rm *RecoveryManager) RegisterRecoverable(r Recoverable) {
	rm.recoverables = append(rm.recoverables, r)
}

// RegisterTimerRecovery registers the timer recovery infrastructure
func (rm *RecoveryManager) RegisterTimerRecovery(fn func(TimerRecoveryInfo) error) {
	rm.registry.RegisterTimerRecovery(fn)
}

// SetClock overrides the clock used to compute remaining windows.
func (rm *RecoveryManager) SetClock(now func() time.Time) {
	rm.registry.now = now
}

// RecoverAll performs recovery of all registered components
func (rm *RecoveryManager) RecoverAll(ctx context.Context) error {
	slog.Info("RecoveryManager.RecoverAll: starting", "components", len(rm.recoverables))

	recoveredCount := 0
	errorCount := 0
	for _, recoverable := range rm.recoverables {
		if err := recoverable.RecoverState(ctx, rm.registry); err != nil {
			slog.Error("RecoveryManager.RecoverAll: component recovery failed", "error", err, "component", fmt.Sprintf("%T", recoverable))
			errorCount++
			continue
		}
		recoveredCount++
	}

	slog.Info("RecoveryManager.RecoverAll: completed", "recovered", recoveredCount, "errors", errorCount)
	if errorCount > 0 {
		return fmt.Errorf("recovery completed with %d errors out of %d components", errorCount, len(rm.recoverables))
	}
	return nil
}

// GetRegistry provides access to the recovery registry for infrastructure setup
func (rm *RecoveryManager) GetRegistry() *RecoveryRegistry {
	return rm.registry
}
