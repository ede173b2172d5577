package cron

import (
	"context"
	"log/slog"
	"time"

	"github.com/alekspetrov/overseer/internal/logging"
	"github.com/alekspetrov/overseer/internal/store"
)

// Trigger creates the background job for a due cron entry. Implemented by
// the job orchestrator.
type Trigger interface {
	TriggerCronJob(ctx context.Context, c *store.CronJob) (string, error)
}

// Scheduler ticks once a minute and triggers every enabled cron job whose
// next run time has passed. The last-run update is a compare-and-swap
// against the previously observed value, so two schedulers ticking at once
// trigger each entry at most once.
type Scheduler struct {
	store    *store.Store
	trigger  Trigger
	interval time.Duration
	log      *slog.Logger

	now func() time.Time
}

func NewScheduler(st *store.Store, trigger Trigger) *Scheduler {
	return &Scheduler{
		store:    st,
		trigger:  trigger,
		interval: time.Minute,
		log:      logging.WithComponent("cron"),
		now:      time.Now,
	}
}

// Name identifies the scheduler in engine logs.
func (s *Scheduler) Name() string { return "cron-scheduler" }

// Run ticks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.log.Error("tick failed", "error", err)
			}
		}
	}
}

// Tick evaluates all enabled cron jobs once. A malformed schedule is logged
// and skipped; it never stops the remaining entries from being evaluated.
func (s *Scheduler) Tick(ctx context.Context) error {
	entries, err := s.store.ListCronJobs(ctx, true)
	if err != nil {
		return err
	}

	now := s.now()
	for _, entry := range entries {
		if err := s.evaluate(ctx, entry, now); err != nil {
			s.log.Error("cron evaluation failed", "cron_job", entry.ID, "error", err)
		}
	}
	return nil
}

func (s *Scheduler) evaluate(ctx context.Context, entry *store.CronJob, now time.Time) error {
	anchor := entry.LastRunAt
	if anchor.IsZero() {
		anchor = entry.CreatedAt
	}

	next, err := NextRun(entry.Schedule, anchor)
	if err != nil {
		return err
	}
	if next.After(now) {
		return nil
	}

	claimed, err := s.store.ClaimCronRun(ctx, entry.ID, entry.LastRunAt, now)
	if err != nil {
		return err
	}
	if !claimed {
		// Another tick already triggered this run, or the entry was
		// disabled since we listed it.
		return nil
	}

	jobID, err := s.trigger.TriggerCronJob(ctx, entry)
	if err != nil {
		return err
	}
	s.log.Info("triggered cron job", "cron_job", entry.ID, "job", jobID, "next_run", next)
	return nil
}
