// Package orchestrator turns job requests into remote sessions and tracks
// their completion.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alekspetrov/overseer/internal/config"
	"github.com/alekspetrov/overseer/internal/logging"
	"github.com/alekspetrov/overseer/internal/remote"
	"github.com/alekspetrov/overseer/internal/store"
)

// JobSpec is a request to create a job.
type JobSpec struct {
	Name         string
	Repo         string
	Branch       string
	Prompt       string
	SessionCount int
	Background   bool
	AutoApproval bool
	CronJobID    string
	ProfileID    string
}

// Orchestrator creates jobs, fans each one out into its sessions and drives
// partially processed jobs to completion.
type Orchestrator struct {
	store    *store.Store
	remote   remote.Client
	resolver *config.Resolver
	log      *slog.Logger

	now func() time.Time
}

func New(st *store.Store, rc remote.Client, resolver *config.Resolver) *Orchestrator {
	return &Orchestrator{
		store:    st,
		remote:   rc,
		resolver: resolver,
		log:      logging.WithComponent("orchestrator"),
		now:      time.Now,
	}
}

// CreateJob validates spec, persists the job as PENDING and, unless the job
// is marked background, processes it immediately. The persisted job is
// returned even when synchronous processing only partially succeeded; the
// background pass finishes the remainder.
func (o *Orchestrator) CreateJob(ctx context.Context, spec JobSpec) (*store.Job, error) {
	if spec.Repo == "" {
		return nil, &ValidationError{Field: "repo", Reason: "is required"}
	}
	if spec.Prompt == "" {
		return nil, &ValidationError{Field: "prompt", Reason: "is required"}
	}
	if err := ValidateRepo(spec.Repo); err != nil {
		return nil, err
	}
	if err := ValidateBranch(spec.Branch); err != nil {
		return nil, err
	}

	cfg := o.resolver.Current()
	count := spec.SessionCount
	if count <= 0 {
		count = cfg.DefaultSessionCount
	}
	profileID := spec.ProfileID
	if profileID == "" {
		profileID = cfg.ProfileID
	}

	job := &store.Job{
		ID:           uuid.New().String(),
		Name:         spec.Name,
		Repo:         spec.Repo,
		Branch:       spec.Branch,
		Prompt:       spec.Prompt,
		SessionCount: count,
		Status:       store.JobPending,
		Background:   spec.Background,
		AutoApproval: spec.AutoApproval || !cfg.RequirePlanApproval,
		CronJobID:    spec.CronJobID,
		ProfileID:    profileID,
		CreatedAt:    o.now(),
	}
	if err := o.store.PutJob(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to persist job: %w", err)
	}
	o.log.Info("created job", "job", job.ID, "repo", job.Repo, "sessions", count, "background", job.Background)

	if !job.Background {
		if err := o.Process(ctx, job.ID); err != nil {
			o.log.Error("synchronous processing incomplete", "job", job.ID, "error", err)
		}
		return o.store.GetJob(ctx, job.ID)
	}
	return job, nil
}

// TriggerCronJob creates the background job for a due cron entry.
func (o *Orchestrator) TriggerCronJob(ctx context.Context, c *store.CronJob) (string, error) {
	job, err := o.CreateJob(ctx, JobSpec{
		Name:         c.Name,
		Repo:         c.Repo,
		Branch:       c.Branch,
		Prompt:       c.Prompt,
		SessionCount: c.SessionCount,
		Background:   true,
		AutoApproval: c.AutoApproval,
		CronJobID:    c.ID,
		ProfileID:    c.ProfileID,
	})
	if err != nil {
		return "", err
	}
	return job.ID, nil
}

// Process creates sessions for every unresolved slot of the job. It is
// resumable: already created sessions and permanently failed slots are
// skipped, so repeated passes only ever create the remainder. A transient
// remote failure leaves the job PROCESSING for the next pass.
func (o *Orchestrator) Process(ctx context.Context, jobID string) error {
	job, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}

	switch job.Status {
	case store.JobPending:
		err := o.store.CompareAndSwapJobStatus(ctx, jobID, store.JobPending, store.JobProcessing)
		if errors.Is(err, store.ErrConflict) {
			// Another pass claimed the job first.
			return nil
		}
		if err != nil {
			return err
		}
	case store.JobProcessing:
		// Resuming a partially processed job.
	default:
		return nil
	}

	remaining := job.SessionCount - len(job.SessionIDs) - job.FailedSlots
	for i := 0; i < remaining; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := o.createSlot(ctx, job); err != nil {
			return err
		}
	}
	return nil
}

// createSlot creates one remote session and records the outcome. Transient
// errors propagate so the pass stops and retries later; anything else
// consumes the slot as a permanent failure.
func (o *Orchestrator) createSlot(ctx context.Context, job *store.Job) error {
	snap, err := o.remote.CreateSession(ctx, job.Repo, job.Branch, job.Prompt)
	if err != nil {
		if remote.IsTransient(err) {
			return fmt.Errorf("session creation for job %s: %w", job.ID, err)
		}
		o.log.Warn("session slot permanently failed", "job", job.ID, "error", err)
		return o.store.RecordJobSlotFailure(ctx, job.ID)
	}

	now := o.now()
	sess := &store.Session{
		ID:             snap.ID,
		Title:          snap.Title,
		State:          snap.State,
		Branch:         snap.Branch,
		PRStatus:       snap.PRStatus,
		JobID:          job.ID,
		CreateTime:     now,
		StateChangedAt: now,
		LastSyncedAt:   now,
		ProfileID:      job.ProfileID,
	}
	if err := o.store.PutSession(ctx, sess); err != nil {
		return fmt.Errorf("failed to persist session %s: %w", snap.ID, err)
	}
	if err := o.store.AppendJobSession(ctx, job.ID, snap.ID); err != nil {
		return fmt.Errorf("failed to record session %s on job %s: %w", snap.ID, job.ID, err)
	}
	job.SessionIDs = append(job.SessionIDs, snap.ID)
	o.log.Info("created session", "job", job.ID, "session", snap.ID)
	return nil
}
