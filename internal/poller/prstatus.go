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

// prStatusMaxAge bounds the PR status refresh to recent sessions. Older
// sessions keep their last known status until someone refreshes by hand.
const prStatusMaxAge = 72 * time.Hour

// PRStatusLoop refreshes pull request status for sessions that have a
// branch. It hits a separately rate-limited endpoint, so it runs on its own
// interval rather than piggybacking on session sync.
type PRStatusLoop struct {
	store    *store.Store
	remote   remote.Client
	resolver *config.Resolver
	pool     *workerpool.WorkerPool
	log      *slog.Logger

	now func() time.Time
}

func NewPRStatusLoop(st *store.Store, rc remote.Client, resolver *config.Resolver) *PRStatusLoop {
	return &PRStatusLoop{
		store:    st,
		remote:   rc,
		resolver: resolver,
		pool:     workerpool.New(fetchConcurrency),
		log:      logging.WithComponent("poller-prstatus"),
		now:      time.Now,
	}
}

func (l *PRStatusLoop) Name() string { return "poller-prstatus" }

func (l *PRStatusLoop) Run(ctx context.Context) error {
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
		case <-time.After(cfg.PRStatusPollInterval):
			if err := l.Sync(ctx, cfg); err != nil {
				l.log.Error("pr status cycle failed", "error", err)
			}
		}
	}
}

// Sync refreshes PR status for every recent session with a branch.
func (l *PRStatusLoop) Sync(ctx context.Context, cfg config.EffectiveConfig) error {
	sessions, err := l.store.ListSessions(ctx, store.SessionFilter{
		HasBranch: true,
		MaxAge:    prStatusMaxAge,
	})
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		l.pool.Submit(func() {
			defer wg.Done()
			l.refresh(ctx, sess, cfg)
		})
	}
	wg.Wait()
	return nil
}

func (l *PRStatusLoop) refresh(ctx context.Context, sess *store.Session, cfg config.EffectiveConfig) {
	status, err := l.remote.FetchPRStatus(ctx, sess.ID)
	if err != nil {
		if remote.IsNotFound(err) {
			// No PR attached yet.
			return
		}
		l.log.Warn("pr status fetch failed", "session", sess.ID, "error", err)
		if err := l.store.RecordSyncFailure(ctx, sess.ID, cfg.SyncFailureThreshold); err != nil {
			l.log.Error("failed to record sync failure", "session", sess.ID, "error", err)
		}
		return
	}
	if status == sess.PRStatus {
		return
	}

	err = l.store.ApplySync(ctx, sess.ID, sess.State, sess.State, status, l.now())
	if err != nil && !errors.Is(err, store.ErrConflict) && !errors.Is(err, store.ErrNotFound) {
		l.log.Error("failed to store pr status", "session", sess.ID, "error", err)
	}
}
