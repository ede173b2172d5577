package orchestrator

import (
	"context"
	"time"

	"github.com/alekspetrov/overseer/internal/store"
)

// BackgroundLoop drains PENDING and partially processed background jobs.
// Interval and concurrency cap are re-read from settings each cycle.
type BackgroundLoop struct {
	orch *Orchestrator
}

func NewBackgroundLoop(orch *Orchestrator) *BackgroundLoop {
	return &BackgroundLoop{orch: orch}
}

func (l *BackgroundLoop) Name() string { return "background-jobs" }

// Run processes pending jobs until ctx is cancelled.
func (l *BackgroundLoop) Run(ctx context.Context) error {
	for {
		interval := l.orch.resolver.Current().IdlePollInterval
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
			if err := l.ProcessPending(ctx); err != nil {
				l.orch.log.Error("background pass failed", "error", err)
			}
		}
	}
}

// ProcessPending runs one pass over unfinished jobs, bounded by the
// configured concurrency cap. One failing job never blocks the rest of
// the batch.
func (l *BackgroundLoop) ProcessPending(ctx context.Context) error {
	limit := l.orch.resolver.Current().MaxConcurrentBackground

	var batch []*store.Job
	for _, status := range []store.JobStatus{store.JobPending, store.JobProcessing} {
		jobs, err := l.orch.store.ListJobs(ctx, store.JobFilter{Status: status})
		if err != nil {
			return err
		}
		batch = append(batch, jobs...)
	}

	processed := 0
	for _, job := range batch {
		if !job.Background {
			continue
		}
		if processed >= limit {
			break
		}
		processed++
		if err := l.orch.Process(ctx, job.ID); err != nil {
			l.orch.log.Error("job processing failed", "job", job.ID, "error", err)
		}
	}
	return nil
}
