package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/models"
)

// Layered reads through a fast cache in front of a durable repository.
// Writes go to the durable layer first; cache failures are logged only.
// A user whose cached copy could not be updated or evicted is marked stale
// and read from the durable layer until the cache accepts a write again.
type Layered struct {
	cache   Repository
	durable Repository

	mu    sync.Mutex
	stale map[string]struct{}
}

// Compile-time check that Layered implements Repository.
var _ Repository = (*Layered)(nil)

// NewLayered combines a cache (typically Redis) with a durable repository.
func NewLayered(cache, durable Repository) *Layered {
	return &Layered{cache: cache, durable: durable, stale: make(map[string]struct{})}
}

// Load tries the cache, then the durable layer, refilling the cache on a miss.
func (l *Layered) Load(ctx context.Context, userID string) (*models.Session, error) {
	if !l.isStale(userID) {
		s, err := l.cache.Load(ctx, userID)
		if err == nil && s != nil {
			return s, nil
		}
		if err != nil && !errors.Is(err, ErrMalformed) {
			slog.Warn("session.Layered.Load: cache read failed", "userID", userID, "error", err)
		}
	}

	s, err := l.durable.Load(ctx, userID)
	if err != nil || s == nil {
		return s, err
	}
	l.writeCache(ctx, s)
	return s, nil
}

// Save writes the durable layer, then the cache.
func (l *Layered) Save(ctx context.Context, s *models.Session) error {
	if err := l.durable.Save(ctx, s); err != nil {
		return err
	}
	l.writeCache(ctx, s)
	return nil
}

// Delete removes the session from both layers.
func (l *Layered) Delete(ctx context.Context, userID string) error {
	if err := l.cache.Delete(ctx, userID); err != nil {
		slog.Warn("session.Layered.Delete: cache delete failed", "userID", userID, "error", err)
		l.markStale(userID, true)
	} else {
		l.markStale(userID, false)
	}
	return l.durable.Delete(ctx, userID)
}

// writeCache stores s in the cache. On failure the cached copy is evicted,
// and if that fails too the user is marked stale.
func (l *Layered) writeCache(ctx context.Context, s *models.Session) {
	err := l.cache.Save(ctx, s)
	if err == nil {
		l.markStale(s.UserID, false)
		return
	}
	slog.Warn("session.Layered: cache write failed, evicting", "userID", s.UserID, "error", err)
	if derr := l.cache.Delete(ctx, s.UserID); derr != nil {
		slog.Warn("session.Layered: cache evict failed, bypassing cache", "userID", s.UserID, "error", derr)
		l.markStale(s.UserID, true)
		return
	}
	l.markStale(s.UserID, false)
}

func (l *Layered) isStale(userID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.stale[userID]
	return ok
}

func (l *Layered) markStale(userID string, stale bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if stale {
		l.stale[userID] = struct{}{}
	} else {
		delete(l.stale, userID)
	}
}
