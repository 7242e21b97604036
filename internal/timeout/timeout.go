// Package timeout owns the per-user inactivity timers.
//
// Each user has at most one armed timer, tied to the conversation it was armed
// for. Renew always replaces the timer rather than extending it. When a timer
// fires, its entry is removed before the expiry handler runs, so a failing
// handler never leaves the user stuck with a stale entry.
package timeout

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
)

// DefaultMinutes is the inactivity window used when none is configured.
const DefaultMinutes = 10

// ExpiryHandler is invoked once per fired timer, outside the manager's lock.
type ExpiryHandler func(userID, conversationID string)

type entry struct {
	timer          *time.Timer
	conversationID string
	armedAt        time.Time
	expiresAt      time.Time
}

// Opts holds configuration options for the Manager.
type Opts struct {
	OnExpire ExpiryHandler
	// Unit scales the minutes passed to Start and Renew. Defaults to time.Minute.
	Unit time.Duration
}

// Option defines a function that configures Opts.
type Option func(*Opts)

// WithExpiryHandler sets the handler called when a timer fires.
func WithExpiryHandler(h ExpiryHandler) Option {
	return func(o *Opts) {
		o.OnExpire = h
	}
}

// WithUnit overrides the duration of one "minute". Intended for tests.
func WithUnit(unit time.Duration) Option {
	return func(o *Opts) {
		o.Unit = unit
	}
}

// Manager tracks one inactivity timer per user.
type Manager struct {
	mu      sync.Mutex
	entries map[string]*entry
	onExp   ExpiryHandler
	unit    time.Duration
	stopped bool
}

// NewManager creates a Manager. Call Stop on shutdown to cancel all timers.
func NewManager(opts ...Option) *Manager {
	cfg := Opts{Unit: time.Minute}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Unit <= 0 {
		cfg.Unit = time.Minute
	}
	slog.Debug("timeout.NewManager: creating timeout manager", "unit", cfg.Unit)
	return &Manager{
		entries: make(map[string]*entry),
		onExp:   cfg.OnExpire,
		unit:    cfg.Unit,
	}
}

// SetExpiryHandler replaces the expiry handler. Used when the handler's owner
// is constructed after the manager.
func (m *Manager) SetExpiryHandler(h ExpiryHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onExp = h
}

// Start arms a timer for the user, replacing any existing one.
func (m *Manager) Start(userID, conversationID string, minutes int) {
	if minutes <= 0 {
		minutes = DefaultMinutes
	}
	m.StartAfter(userID, conversationID, time.Duration(minutes)*m.unit)
}

// Renew cancels the user's timer and arms a fresh one.
func (m *Manager) Renew(userID, conversationID string, minutes int) {
	m.Start(userID, conversationID, minutes)
}

// StartAfter arms a timer that fires after d, replacing any existing one.
// A non-positive d fires on the next scheduler tick.
func (m *Manager) StartAfter(userID, conversationID string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stopped {
		slog.Warn("timeout.Manager.StartAfter: manager stopped, ignoring", "userID", userID)
		return
	}
	if old, ok := m.entries[userID]; ok {
		old.timer.Stop()
		delete(m.entries, userID)
	}

	now := time.Now()
	e := &entry{conversationID: conversationID, armedAt: now, expiresAt: now.Add(d)}
	e.timer = time.AfterFunc(d, func() { m.fire(userID, e) })
	m.entries[userID] = e
	slog.Debug("timeout.Manager.StartAfter: timer armed", "userID", userID, "conversationID", conversationID, "after", d)
}

// fire removes the entry if it is still current and invokes the handler.
func (m *Manager) fire(userID string, e *entry) {
	m.mu.Lock()
	if cur, ok := m.entries[userID]; !ok || cur != e {
		// Superseded by a renew or cancel that raced with this callback.
		m.mu.Unlock()
		return
	}
	delete(m.entries, userID)
	handler := m.onExp
	m.mu.Unlock()

	slog.Info("timeout.Manager: inactivity timer expired", "userID", userID, "conversationID", e.conversationID)
	if handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("timeout.Manager: expiry handler panicked", "userID", userID, "panic", r)
		}
	}()
	handler(userID, e.conversationID)
}

// Cancel stops the user's timer. It reports whether a timer was removed.
func (m *Manager) Cancel(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[userID]
	if !ok {
		return false
	}
	e.timer.Stop()
	delete(m.entries, userID)
	slog.Debug("timeout.Manager.Cancel: timer cancelled", "userID", userID, "conversationID", e.conversationID)
	return true
}

// HasActive reports whether the user has an armed timer.
func (m *Manager) HasActive(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[userID]
	return ok
}

// ConversationFor returns the conversation the user's timer was armed for.
func (m *Manager) ConversationFor(userID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[userID]
	if !ok {
		return "", false
	}
	return e.conversationID, true
}

// ActiveCount returns the number of armed timers.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// List returns a snapshot of the armed timers ordered by expiry.
func (m *Manager) List() []models.TimerInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	out := make([]models.TimerInfo, 0, len(m.entries))
	for userID, e := range m.entries {
		remaining := e.expiresAt.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		out = append(out, models.TimerInfo{
			UserID:         userID,
			ConversationID: e.conversationID,
			ArmedAt:        e.armedAt,
			ExpiresAt:      e.expiresAt,
			Remaining:      remaining.Round(time.Second).String(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}

// Stop cancels every timer and rejects further Start calls.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for userID, e := range m.entries {
		e.timer.Stop()
		delete(m.entries, userID)
	}
	m.stopped = true
	slog.Debug("timeout.Manager.Stop: all timers cancelled")
}
