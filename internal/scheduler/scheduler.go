// Package scheduler runs periodic maintenance jobs for the support bot.
//
// Jobs are registered with cron expressions (robfig/cron, five-field syntax)
// and a panicking job is recovered without stopping the scheduler.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/GODE-Organization/test-chatbot-sub000/internal/store"
	"github.com/robfig/cron/v3"
)

// DefaultPruneSchedule runs dedup pruning hourly.
const DefaultPruneSchedule = "17 * * * *"

// DefaultDedupRetention is how long processed inbound ids are kept.
const DefaultDedupRetention = 7 * 24 * time.Hour

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{cron: c}
}

// AddJob schedules task with a cron expression.
func (s *Scheduler) AddJob(expr string, task func()) error {
	if _, err := s.cron.AddFunc(expr, task); err != nil {
		return fmt.Errorf("failed to schedule job %q: %w", expr, err)
	}
	return nil
}

// Jobs returns the number of registered jobs.
func (s *Scheduler) Jobs() int {
	return len(s.cron.Entries())
}

// Stop stops the scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// DedupPruner deletes inbound dedup records older than Retention.
type DedupPruner struct {
	Repo      store.DedupRepo
	Retention time.Duration
	Now       func() time.Time
}

// NewDedupPruner creates a pruner. A non-positive retention uses DefaultDedupRetention.
func NewDedupPruner(repo store.DedupRepo, retention time.Duration) *DedupPruner {
	if retention <= 0 {
		retention = DefaultDedupRetention
	}
	return &DedupPruner{Repo: repo, Retention: retention, Now: time.Now}
}

// Prune removes expired records once.
func (p *DedupPruner) Prune(ctx context.Context) (int64, error) {
	cutoff := p.Now().UTC().Add(-p.Retention)
	n, err := p.Repo.PruneDedup(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune dedup records: %w", err)
	}
	slog.Info("DedupPruner.Prune: pruned inbound records", "removed", n, "cutoff", cutoff)
	return n, nil
}

// ScheduleDedupPruning registers p on s with the given cron expression.
func ScheduleDedupPruning(s *Scheduler, expr string, p *DedupPruner) error {
	return s.AddJob(expr, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := p.Prune(ctx); err != nil {
			slog.Error("DedupPruner: scheduled prune failed", "error", err)
		}
	})
}
