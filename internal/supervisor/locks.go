package supervisor

import "sync"

// lockEntry is a per-user mutex with a reference count so idle users are
// dropped from the map.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

type userLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

func newUserLocks() *userLocks {
	return &userLocks{locks: make(map[string]*lockEntry)}
}

// lock blocks until the caller holds userID's lock and returns its release func.
func (l *userLocks) lock(userID string) func() {
	l.mu.Lock()
	e, ok := l.locks[userID]
	if !ok {
		e = &lockEntry{}
		l.locks[userID] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs <= 0 {
			delete(l.locks, userID)
		}
		l.mu.Unlock()
	}
}

func (l *userLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
