package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/store"
)

func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	if err := s.AddJob("* * * * *", func() {}); err != nil {
		t.Errorf("Expected no error adding job, got %v", err)
	}
	if err := s.AddJob("every minute", func() {}); err == nil {
		t.Error("expected error for invalid expression")
	}
	if s.Jobs() != 1 {
		t.Errorf("expected one registered job, got %d", s.Jobs())
	}
}

func TestScheduleDedupPruning(t *testing.T) {
	s := NewScheduler()
	defer s.Stop()

	p := NewDedupPruner(store.NewInMemoryStore(), 0)
	if p.Retention != DefaultDedupRetention {
		t.Errorf("expected default retention, got %s", p.Retention)
	}
	if err := ScheduleDedupPruning(s, DefaultPruneSchedule, p); err != nil {
		t.Fatalf("ScheduleDedupPruning: %v", err)
	}
}

func TestDedupPrunerRemovesOldRecords(t *testing.T) {
	ctx := context.Background()
	st := store.NewInMemoryStore()
	if _, err := st.RecordInbound(ctx, "SM1", "u1"); err != nil {
		t.Fatal(err)
	}

	p := NewDedupPruner(st, time.Hour)
	n, err := p.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 0 {
		t.Errorf("fresh record should survive, removed %d", n)
	}

	p.Now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	n, err = p.Prune(ctx)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if n != 1 {
		t.Errorf("expected one record removed, got %d", n)
	}
	fresh, err := st.RecordInbound(ctx, "SM1", "u1")
	if err != nil || !fresh {
		t.Errorf("pruned id should be accepted again, got %v %v", fresh, err)
	}
}
