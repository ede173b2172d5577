// Package automation applies the configured hands-off policies to sessions
// and jobs.
package automation

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/alekspetrov/overseer/internal/config"
	"github.com/alekspetrov/overseer/internal/logging"
	"github.com/alekspetrov/overseer/internal/remote"
	"github.com/alekspetrov/overseer/internal/store"
)

// minInterval is the floor on the evaluation cadence regardless of
// configured value.
const minInterval = 10 * time.Second

// Engine runs the policy rules on one loop. Each rule is independently
// toggled in settings and claims its action through a store CAS before
// touching the remote service, so a rule fires at most once per entity and
// trigger even with concurrent engines.
type Engine struct {
	store    *store.Store
	remote   remote.Client
	resolver *config.Resolver
	log      *slog.Logger

	now func() time.Time
}

func New(st *store.Store, rc remote.Client, resolver *config.Resolver) *Engine {
	return &Engine{
		store:    st,
		remote:   rc,
		resolver: resolver,
		log:      logging.WithComponent("automation"),
		now:      time.Now,
	}
}

func (e *Engine) Name() string { return "automation" }

// Run evaluates policies until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	for {
		cfg, err := e.resolver.Resolve(ctx)
		if err != nil {
			e.log.Error("failed to resolve settings", "error", err)
			cfg = e.resolver.Current()
		}
		interval := cfg.AutoApprovalInterval
		if interval < minInterval {
			interval = minInterval
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
			if err := e.Evaluate(ctx, cfg); err != nil {
				e.log.Error("policy evaluation failed", "error", err)
			}
		}
	}
}

// Evaluate runs each rule once. Auto-approval always gets a pass because
// jobs can opt in individually; the other rules are gated by their settings
// toggle. Rules are independent: one rule failing is logged and does not
// stop the others.
func (e *Engine) Evaluate(ctx context.Context, cfg config.EffectiveConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := e.autoApprove(ctx, cfg); err != nil {
		e.log.Error("auto-approval pass failed", "error", err)
	}
	if cfg.AutoRetryEnabled {
		if err := e.autoRetry(ctx, cfg); err != nil {
			e.log.Error("auto-retry pass failed", "error", err)
		}
	}
	if cfg.AutoContinueEnabled {
		if err := e.autoContinue(ctx, cfg); err != nil {
			e.log.Error("auto-continue pass failed", "error", err)
		}
	}
	if cfg.AutoDeleteStaleBranches {
		if err := e.cleanupStaleBranches(ctx, cfg); err != nil {
			e.log.Error("stale branch pass failed", "error", err)
		}
	}
	return nil
}

// autoApprove approves plans that waited at least the configured interval,
// measured from when the session entered AWAITING_APPROVAL. A session is
// eligible when the profile-wide toggle is on or its owning job is marked
// for auto-approval, so cron entries opt in per job.
func (e *Engine) autoApprove(ctx context.Context, cfg config.EffectiveConfig) error {
	sessions, err := e.store.ListSessions(ctx, store.SessionFilter{
		States: []store.SessionState{store.SessionAwaitingApproval},
	})
	if err != nil {
		return err
	}

	now := e.now()
	for _, sess := range sessions {
		if now.Sub(sess.StateChangedAt) < cfg.AutoApprovalInterval {
			continue
		}
		if !cfg.AutoApprovalEnabled {
			ok, err := e.jobWantsApproval(ctx, sess.JobID)
			if err != nil {
				e.log.Error("approval eligibility check failed", "session", sess.ID, "error", err)
				continue
			}
			if !ok {
				continue
			}
		}
		claimed, err := e.store.ClaimApproval(ctx, sess.ID, now)
		if err != nil {
			e.log.Error("approval claim failed", "session", sess.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		if err := e.remote.ApprovePlan(ctx, sess.ID); err != nil {
			e.log.Error("plan approval failed", "session", sess.ID, "error", err)
			continue
		}
		e.log.Info("auto-approved plan", "session", sess.ID)
		e.resync(ctx, sess.ID, store.SessionAwaitingApproval)
	}
	return nil
}

// jobWantsApproval reports whether the session's owning job opted in to
// plan auto-approval. Sessions created outside a job never qualify here.
func (e *Engine) jobWantsApproval(ctx context.Context, jobID string) (bool, error) {
	if jobID == "" {
		return false, nil
	}
	job, err := e.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return job.AutoApproval, nil
}

// autoRetry re-runs FAILED sessions up to the configured retry cap.
func (e *Engine) autoRetry(ctx context.Context, cfg config.EffectiveConfig) error {
	sessions, err := e.store.ListSessions(ctx, store.SessionFilter{
		States: []store.SessionState{store.SessionFailed},
	})
	if err != nil {
		return err
	}

	for _, sess := range sessions {
		claimed, err := e.store.ClaimRetry(ctx, sess.ID, cfg.AutoRetryMax)
		if err != nil {
			e.log.Error("retry claim failed", "session", sess.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		if err := e.remote.RetrySession(ctx, sess.ID); err != nil {
			e.log.Error("session retry failed", "session", sess.ID, "error", err)
			continue
		}
		e.log.Info("auto-retried session", "session", sess.ID, "attempt", sess.RetryCount+1)
		e.resync(ctx, sess.ID, store.SessionFailed)
	}
	return nil
}

// autoContinue nudges COMPLETED sessions that finished without a pull
// request, capped per session to avoid a message loop.
func (e *Engine) autoContinue(ctx context.Context, cfg config.EffectiveConfig) error {
	sessions, err := e.store.ListSessions(ctx, store.SessionFilter{
		States: []store.SessionState{store.SessionCompleted},
	})
	if err != nil {
		return err
	}

	for _, sess := range sessions {
		if sess.PRStatus != "" {
			continue
		}
		claimed, err := e.store.ClaimContinue(ctx, sess.ID, cfg.AutoContinueMax)
		if err != nil {
			e.log.Error("continue claim failed", "session", sess.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		if err := e.remote.SendMessage(ctx, sess.ID, cfg.AutoContinueMessage); err != nil {
			e.log.Error("continue message failed", "session", sess.ID, "error", err)
			continue
		}
		e.log.Info("sent continue message", "session", sess.ID, "count", sess.ContinueCount+1)
		e.resync(ctx, sess.ID, store.SessionCompleted)
	}
	return nil
}

// cleanupStaleBranches deletes branches of jobs whose sessions saw no
// activity for the configured window. Each branch is deleted once ever.
func (e *Engine) cleanupStaleBranches(ctx context.Context, cfg config.EffectiveConfig) error {
	cutoff := e.now().Add(-cfg.AutoDeleteAfter)
	jobs, err := e.store.ListJobs(ctx, store.JobFilter{CreatedBefore: cutoff})
	if err != nil {
		return err
	}

	for _, job := range jobs {
		if job.Branch == "" || !job.BranchDeletedAt.IsZero() {
			continue
		}
		if active, err := e.jobActiveSince(ctx, job, cutoff); err != nil {
			e.log.Error("stale check failed", "job", job.ID, "error", err)
			continue
		} else if active {
			continue
		}
		claimed, err := e.store.ClaimBranchDeletion(ctx, job.ID)
		if err != nil {
			e.log.Error("branch deletion claim failed", "job", job.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}
		if err := e.remote.DeleteBranch(ctx, job.Repo, job.Branch); err != nil && !remote.IsNotFound(err) {
			e.log.Error("branch deletion failed", "job", job.ID, "branch", job.Branch, "error", err)
			continue
		}
		e.log.Info("deleted stale branch", "job", job.ID, "repo", job.Repo, "branch", job.Branch)
	}
	return nil
}

// jobActiveSince reports whether any of the job's sessions changed state
// after the cutoff.
func (e *Engine) jobActiveSince(ctx context.Context, job *store.Job, cutoff time.Time) (bool, error) {
	for _, id := range job.SessionIDs {
		sess, err := e.store.GetSession(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return false, err
		}
		if sess.StateChangedAt.After(cutoff) {
			return true, nil
		}
	}
	return false, nil
}

// resync pulls the remote state right after an action so the local row
// reflects the action's effect without waiting for the next poll cycle.
func (e *Engine) resync(ctx context.Context, id string, expect store.SessionState) {
	snap, err := e.remote.FetchSession(ctx, id)
	if err != nil {
		e.log.Warn("post-action sync failed", "session", id, "error", err)
		return
	}
	if err := e.store.ApplySync(ctx, id, expect, snap.State, snap.PRStatus, e.now()); err != nil {
		e.log.Warn("post-action sync not applied", "session", id, "error", err)
	}
}
