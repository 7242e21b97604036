package timeout

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type expiryRecorder struct {
	mu    sync.Mutex
	calls [][2]string
	ch    chan struct{}
}

func newExpiryRecorder() *expiryRecorder {
	return &expiryRecorder{ch: make(chan struct{}, 16)}
}

func (r *expiryRecorder) handle(userID, conversationID string) {
	r.mu.Lock()
	r.calls = append(r.calls, [2]string{userID, conversationID})
	r.mu.Unlock()
	r.ch <- struct{}{}
}

func (r *expiryRecorder) wait(t *testing.T, timeout time.Duration) {
	t.Helper()
	select {
	case <-r.ch:
	case <-time.After(timeout):
		t.Fatal("timed out waiting for expiry")
	}
}

func (r *expiryRecorder) snapshot() [][2]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]string(nil), r.calls...)
}

func TestStartFiresHandlerAndClearsEntry(t *testing.T) {
	rec := newExpiryRecorder()
	m := NewManager(WithExpiryHandler(rec.handle), WithUnit(10*time.Millisecond))
	defer m.Stop()

	m.Start("u1", "c1", 1)
	if !m.HasActive("u1") {
		t.Fatal("expected active timer after Start")
	}

	rec.wait(t, time.Second)
	calls := rec.snapshot()
	if len(calls) != 1 || calls[0] != [2]string{"u1", "c1"} {
		t.Fatalf("unexpected expiry calls: %v", calls)
	}
	if m.HasActive("u1") {
		t.Error("entry should be removed once the timer fired")
	}
}

func TestRenewReplacesTimer(t *testing.T) {
	rec := newExpiryRecorder()
	m := NewManager(WithExpiryHandler(rec.handle), WithUnit(time.Millisecond))
	defer m.Stop()

	m.Start("u1", "c1", 30)
	m.Renew("u1", "c2", 60)

	if m.ActiveCount() != 1 {
		t.Fatalf("expected exactly one timer after renew, got %d", m.ActiveCount())
	}
	conv, ok := m.ConversationFor("u1")
	if !ok || conv != "c2" {
		t.Fatalf("expected timer armed for c2, got %q", conv)
	}

	rec.wait(t, time.Second)
	// Give a superseded timer a chance to misfire.
	time.Sleep(50 * time.Millisecond)
	calls := rec.snapshot()
	if len(calls) != 1 || calls[0][1] != "c2" {
		t.Fatalf("expected only the renewed timer to fire, got %v", calls)
	}
}

func TestStartTwiceIsIdempotentReArm(t *testing.T) {
	m := NewManager(WithUnit(time.Hour))
	defer m.Stop()

	m.Start("u1", "c1", 1)
	m.Start("u1", "c1", 1)
	if m.ActiveCount() != 1 {
		t.Errorf("expected one timer, got %d", m.ActiveCount())
	}
}

func TestCancelPreventsExpiry(t *testing.T) {
	var fired int32
	m := NewManager(WithExpiryHandler(func(string, string) { atomic.AddInt32(&fired, 1) }), WithUnit(5*time.Millisecond))
	defer m.Stop()

	m.Start("u1", "c1", 2)
	if !m.Cancel("u1") {
		t.Fatal("Cancel should report a removed timer")
	}
	if m.Cancel("u1") {
		t.Error("second Cancel should report nothing removed")
	}
	time.Sleep(40 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Error("cancelled timer fired")
	}
	if m.HasActive("u1") {
		t.Error("cancelled timer still active")
	}
}

func TestHandlerPanicDoesNotLeakEntry(t *testing.T) {
	done := make(chan struct{})
	m := NewManager(WithExpiryHandler(func(string, string) {
		defer close(done)
		panic("boom")
	}), WithUnit(time.Millisecond))
	defer m.Stop()

	m.Start("u1", "c1", 1)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
	if m.HasActive("u1") {
		t.Error("entry should be removed even when the handler panics")
	}

	// The user can be armed again afterwards.
	m.Start("u1", "c2", 1000)
	if !m.HasActive("u1") {
		t.Error("expected user to be re-armable after a failed expiry")
	}
}

func TestTimersAreIndependentPerUser(t *testing.T) {
	rec := newExpiryRecorder()
	m := NewManager(WithExpiryHandler(rec.handle), WithUnit(time.Millisecond))
	defer m.Stop()

	m.Start("fast", "c1", 5)
	m.Start("slow", "c2", 100000)

	rec.wait(t, time.Second)
	if m.HasActive("fast") {
		t.Error("fast timer should have fired")
	}
	if !m.HasActive("slow") {
		t.Error("slow timer should still be armed")
	}
}

func TestListAndStop(t *testing.T) {
	m := NewManager(WithUnit(time.Hour))
	m.Start("a", "c1", 2)
	m.Start("b", "c2", 1)

	list := m.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 timers, got %d", len(list))
	}
	if list[0].UserID != "b" {
		t.Errorf("expected soonest expiry first, got %s", list[0].UserID)
	}

	m.Stop()
	if m.ActiveCount() != 0 {
		t.Errorf("expected no timers after Stop, got %d", m.ActiveCount())
	}
	m.Start("c", "c3", 1)
	if m.HasActive("c") {
		t.Error("Start after Stop must be ignored")
	}
}

func TestConcurrentRenewKeepsSingleEntry(t *testing.T) {
	m := NewManager(WithUnit(time.Hour))
	defer m.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Renew("u1", "c1", 1)
		}()
	}
	wg.Wait()
	if m.ActiveCount() != 1 {
		t.Errorf("expected one timer after concurrent renewals, got %d", m.ActiveCount())
	}
}
