// Package poller keeps local session rows converged with the remote
// service.
package poller

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gammazero/workerpool"

	"github.com/alekspetrov/overseer/internal/config"
	"github.com/alekspetrov/overseer/internal/logging"
	"github.com/alekspetrov/overseer/internal/remote"
	"github.com/alekspetrov/overseer/internal/store"
)

// fetchConcurrency bounds parallel remote fetches per cycle.
const fetchConcurrency = 5

// Loop polls one session category on its own cadence. Categories run as
// independent goroutines so a slow or rate-limited category never delays
// another.
type Loop struct {
	name     string
	states   []store.SessionState
	interval func(config.EffectiveConfig) time.Duration

	store    *store.Store
	remote   remote.Client
	resolver *config.Resolver
	pool     *workerpool.WorkerPool
	log      *slog.Logger

	now func() time.Time
}

// NewActiveLoop polls QUEUED and IN_PROGRESS sessions at the short
// interval.
func NewActiveLoop(st *store.Store, rc remote.Client, resolver *config.Resolver) *Loop {
	return newLoop("poller-active", st, rc, resolver,
		[]store.SessionState{store.SessionQueued, store.SessionInProgress},
		func(cfg config.EffectiveConfig) time.Duration { return cfg.ActivePollInterval })
}

// NewIdleLoop polls sessions blocked on a human at the longer interval.
func NewIdleLoop(st *store.Store, rc remote.Client, resolver *config.Resolver) *Loop {
	return newLoop("poller-idle", st, rc, resolver,
		[]store.SessionState{store.SessionAwaitingApproval, store.SessionAwaitingFeedback},
		func(cfg config.EffectiveConfig) time.Duration { return cfg.IdlePollInterval })
}

func newLoop(name string, st *store.Store, rc remote.Client, resolver *config.Resolver,
	states []store.SessionState, interval func(config.EffectiveConfig) time.Duration) *Loop {
	return &Loop{
		name:     name,
		states:   states,
		interval: interval,
		store:    st,
		remote:   rc,
		resolver: resolver,
		pool:     workerpool.New(fetchConcurrency),
		log:      logging.WithComponent(name),
		now:      time.Now,
	}
}

func (l *Loop) Name() string { return l.name }

// Run polls until ctx is cancelled. The interval is resolved fresh at each
// cycle so settings changes and profile switches apply at the next cycle.
func (l *Loop) Run(ctx context.Context) error {
	defer l.pool.StopWait()

	for {
		cfg, err := l.resolver.Resolve(ctx)
		if err != nil {
			l.log.Error("failed to resolve settings", "error", err)
			cfg = l.resolver.Current()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.interval(cfg)):
			if err := l.Sync(ctx, cfg); err != nil {
				l.log.Error("sync cycle failed", "error", err)
			}
		}
	}
}

// Sync runs one cycle: list local candidates, fetch their remote state with
// bounded parallelism, apply each observation with a state CAS.
func (l *Loop) Sync(ctx context.Context, cfg config.EffectiveConfig) error {
	sessions, err := l.store.ListSessions(ctx, store.SessionFilter{States: l.states})
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		l.pool.Submit(func() {
			defer wg.Done()
			l.syncSession(ctx, sess, cfg)
		})
	}
	wg.Wait()
	return nil
}

func (l *Loop) syncSession(ctx context.Context, sess *store.Session, cfg config.EffectiveConfig) {
	snap, err := l.remote.FetchSession(ctx, sess.ID)
	if err != nil {
		l.log.Warn("fetch failed", "session", sess.ID, "error", err)
		if err := l.store.RecordSyncFailure(ctx, sess.ID, cfg.SyncFailureThreshold); err != nil {
			l.log.Error("failed to record sync failure", "session", sess.ID, "error", err)
		}
		return
	}

	err = l.store.ApplySync(ctx, sess.ID, sess.State, snap.State, snap.PRStatus, l.now())
	switch {
	case errors.Is(err, store.ErrConflict):
		// Raced with another writer; next cycle re-reads the row.
	case errors.Is(err, store.ErrNotFound):
		l.log.Warn("session disappeared during sync", "session", sess.ID)
	case err != nil:
		l.log.Error("failed to apply sync", "session", sess.ID, "error", err)
	case snap.State != sess.State:
		l.log.Info("session state changed", "session", sess.ID, "from", sess.State, "to", snap.State)
	}
}
