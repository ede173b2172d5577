package automation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alekspetrov/overseer/internal/config"
	"github.com/alekspetrov/overseer/internal/remote"
	"github.com/alekspetrov/overseer/internal/store"
)

// fakeClient records action calls and serves FetchSession from a state map.
// Sessions absent from the map fetch as IN_PROGRESS.
type fakeClient struct {
	mu       sync.Mutex
	states   map[string]store.SessionState
	approved []string
	retried  []string
	messages []string
	deleted  []string
}

func newFakeClient() *fakeClient {
	return &fakeClient{states: make(map[string]store.SessionState)}
}

func (f *fakeClient) CreateSession(ctx context.Context, repo, branch, prompt string) (remote.SessionSnapshot, error) {
	return remote.SessionSnapshot{}, nil
}

func (f *fakeClient) FetchSession(ctx context.Context, id string) (remote.SessionSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.states[id]
	if !ok {
		state = store.SessionInProgress
	}
	return remote.SessionSnapshot{ID: id, State: state}, nil
}

func (f *fakeClient) FetchPRStatus(ctx context.Context, id string) (string, error) { return "", nil }

func (f *fakeClient) ApprovePlan(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.approved = append(f.approved, id)
	return nil
}

func (f *fakeClient) RetrySession(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.retried = append(f.retried, id)
	return nil
}

func (f *fakeClient) SendMessage(ctx context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeClient) DeleteBranch(ctx context.Context, repo, branch string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, repo+"@"+branch)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *store.Store, *fakeClient) {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	resolver, err := config.NewResolver(context.Background(), st)
	if err != nil {
		t.Fatalf("failed to build resolver: %v", err)
	}
	client := newFakeClient()
	return New(st, client, resolver), st, client
}

func putSession(t *testing.T, st *store.Store, id string, state store.SessionState, changedAt time.Time) {
	t.Helper()
	err := st.PutSession(context.Background(), &store.Session{
		ID:             id,
		Title:          "session " + id,
		State:          state,
		CreateTime:     changedAt,
		StateChangedAt: changedAt,
		LastSyncedAt:   changedAt,
		ProfileID:      store.DefaultProfileID,
	})
	if err != nil {
		t.Fatalf("PutSession failed: %v", err)
	}
}

func TestAutoApproveRespectsInterval(t *testing.T) {
	e, st, client := newTestEngine(t)
	ctx := context.Background()

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	putSession(t, st, "sess-old", store.SessionAwaitingApproval, now.Add(-2*time.Minute))
	putSession(t, st, "sess-new", store.SessionAwaitingApproval, now.Add(-10*time.Second))

	cfg := config.EffectiveConfig{
		AutoApprovalEnabled:  true,
		AutoApprovalInterval: time.Minute,
	}
	if err := e.Evaluate(ctx, cfg); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if len(client.approved) != 1 || client.approved[0] != "sess-old" {
		t.Errorf("approved = %v, want [sess-old]", client.approved)
	}

	// The waiting session was resynced to the remote state after approval.
	sess, err := st.GetSession(ctx, "sess-old")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess.State != store.SessionInProgress {
		t.Errorf("sess-old state = %s, want IN_PROGRESS after resync", sess.State)
	}
}

func TestAutoApproveAtMostOnce(t *testing.T) {
	e, st, client := newTestEngine(t)
	ctx := context.Background()

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	putSession(t, st, "sess-1", store.SessionAwaitingApproval, now.Add(-time.Hour))
	// Remote still reports AWAITING_APPROVAL, so the session stays listed.
	client.states["sess-1"] = store.SessionAwaitingApproval

	cfg := config.EffectiveConfig{
		AutoApprovalEnabled:  true,
		AutoApprovalInterval: time.Minute,
	}
	for i := 0; i < 3; i++ {
		if err := e.Evaluate(ctx, cfg); err != nil {
			t.Fatalf("Evaluate pass %d failed: %v", i, err)
		}
	}

	if len(client.approved) != 1 {
		t.Errorf("approvals = %d, want exactly 1 across repeated passes", len(client.approved))
	}
}

func TestAutoApproveAgainAfterNewPlan(t *testing.T) {
	e, st, client := newTestEngine(t)
	ctx := context.Background()

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	putSession(t, st, "sess-1", store.SessionAwaitingApproval, now.Add(-time.Hour))

	cfg := config.EffectiveConfig{
		AutoApprovalEnabled:  true,
		AutoApprovalInterval: time.Minute,
	}
	if err := e.Evaluate(ctx, cfg); err != nil {
		t.Fatalf("first Evaluate failed: %v", err)
	}
	if len(client.approved) != 1 {
		t.Fatalf("approvals = %d, want 1 after first plan", len(client.approved))
	}

	// The session executed the plan and came back with a second one.
	err := st.ApplySync(ctx, "sess-1", store.SessionInProgress, store.SessionAwaitingApproval, "", now.Add(-30*time.Minute))
	if err != nil {
		t.Fatalf("ApplySync back to AWAITING_APPROVAL failed: %v", err)
	}

	if err := e.Evaluate(ctx, cfg); err != nil {
		t.Fatalf("second Evaluate failed: %v", err)
	}
	if len(client.approved) != 2 {
		t.Errorf("approvals = %d, want the second plan approved too", len(client.approved))
	}
}

func TestAutoApprovePerJobOptIn(t *testing.T) {
	e, st, client := newTestEngine(t)
	ctx := context.Background()

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	putApprovalJob := func(id string, autoApproval bool) {
		err := st.PutJob(ctx, &store.Job{
			ID:           id,
			Repo:         "acme/widgets",
			Prompt:       "do the thing",
			SessionCount: 1,
			Status:       store.JobProcessing,
			AutoApproval: autoApproval,
			ProfileID:    store.DefaultProfileID,
			CreatedAt:    now.Add(-time.Hour),
		})
		if err != nil {
			t.Fatalf("PutJob failed: %v", err)
		}
	}
	putJobSession := func(id, jobID string) {
		err := st.PutSession(ctx, &store.Session{
			ID:             id,
			Title:          "session " + id,
			State:          store.SessionAwaitingApproval,
			JobID:          jobID,
			CreateTime:     now.Add(-time.Hour),
			StateChangedAt: now.Add(-time.Hour),
			LastSyncedAt:   now.Add(-time.Hour),
			ProfileID:      store.DefaultProfileID,
		})
		if err != nil {
			t.Fatalf("PutSession failed: %v", err)
		}
	}

	putApprovalJob("job-opted", true)
	putApprovalJob("job-plain", false)
	putJobSession("sess-opted", "job-opted")
	putJobSession("sess-plain", "job-plain")
	putJobSession("sess-loose", "")

	// The profile-wide toggle is off; only the opted-in job's session goes.
	cfg := config.EffectiveConfig{AutoApprovalInterval: time.Minute}
	if err := e.Evaluate(ctx, cfg); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if len(client.approved) != 1 || client.approved[0] != "sess-opted" {
		t.Errorf("approved = %v, want [sess-opted]", client.approved)
	}
}

func TestAutoRetryBounded(t *testing.T) {
	e, st, client := newTestEngine(t)
	ctx := context.Background()

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	putSession(t, st, "sess-1", store.SessionFailed, now.Add(-time.Hour))
	// Every retry fails again on the remote side.
	client.states["sess-1"] = store.SessionFailed

	cfg := config.EffectiveConfig{
		AutoRetryEnabled: true,
		AutoRetryMax:     2,
	}
	for i := 0; i < 5; i++ {
		if err := e.Evaluate(ctx, cfg); err != nil {
			t.Fatalf("Evaluate pass %d failed: %v", i, err)
		}
	}

	if len(client.retried) != 2 {
		t.Errorf("retries = %d, want capped at 2", len(client.retried))
	}
}

func TestAutoContinueSkipsSessionsWithPR(t *testing.T) {
	e, st, client := newTestEngine(t)
	ctx := context.Background()

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	putSession(t, st, "sess-no-pr", store.SessionCompleted, now.Add(-time.Hour))
	err := st.PutSession(ctx, &store.Session{
		ID:             "sess-with-pr",
		State:          store.SessionCompleted,
		PRStatus:       "OPEN",
		CreateTime:     now.Add(-time.Hour),
		StateChangedAt: now.Add(-time.Hour),
		LastSyncedAt:   now,
		ProfileID:      store.DefaultProfileID,
	})
	if err != nil {
		t.Fatalf("PutSession failed: %v", err)
	}
	client.states["sess-no-pr"] = store.SessionCompleted

	cfg := config.EffectiveConfig{
		AutoContinueEnabled: true,
		AutoContinueMessage: "keep going",
		AutoContinueMax:     3,
	}
	if err := e.Evaluate(ctx, cfg); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if len(client.messages) != 1 {
		t.Fatalf("messages = %v, want exactly 1", client.messages)
	}
	if client.messages[0] != "keep going" {
		t.Errorf("message = %q, want configured continue message", client.messages[0])
	}
}

func TestAutoContinueBounded(t *testing.T) {
	e, st, client := newTestEngine(t)
	ctx := context.Background()

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	putSession(t, st, "sess-1", store.SessionCompleted, now.Add(-time.Hour))
	client.states["sess-1"] = store.SessionCompleted

	cfg := config.EffectiveConfig{
		AutoContinueEnabled: true,
		AutoContinueMessage: "keep going",
		AutoContinueMax:     2,
	}
	for i := 0; i < 4; i++ {
		if err := e.Evaluate(ctx, cfg); err != nil {
			t.Fatalf("Evaluate pass %d failed: %v", i, err)
		}
	}

	if len(client.messages) != 2 {
		t.Errorf("messages = %d, want capped at 2", len(client.messages))
	}
}

func putStaleJob(t *testing.T, st *store.Store, id, branch string, createdAt time.Time, sessionIDs ...string) {
	t.Helper()
	ctx := context.Background()
	err := st.PutJob(ctx, &store.Job{
		ID:           id,
		Repo:         "acme/widgets",
		Branch:       branch,
		Prompt:       "do the thing",
		SessionCount: len(sessionIDs),
		Status:       store.JobComplete,
		ProfileID:    store.DefaultProfileID,
		CreatedAt:    createdAt,
	})
	if err != nil {
		t.Fatalf("PutJob failed: %v", err)
	}
	for _, sid := range sessionIDs {
		if err := st.AppendJobSession(ctx, id, sid); err != nil {
			t.Fatalf("AppendJobSession failed: %v", err)
		}
	}
}

func TestStaleBranchDeletedOnce(t *testing.T) {
	e, st, client := newTestEngine(t)
	ctx := context.Background()

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	old := now.Add(-5 * 24 * time.Hour)
	putSession(t, st, "sess-1", store.SessionCompleted, old)
	putStaleJob(t, st, "job-1", "feat/pagination", old, "sess-1")

	cfg := config.EffectiveConfig{
		AutoDeleteStaleBranches: true,
		AutoDeleteAfter:         3 * 24 * time.Hour,
	}
	for i := 0; i < 2; i++ {
		if err := e.Evaluate(ctx, cfg); err != nil {
			t.Fatalf("Evaluate pass %d failed: %v", i, err)
		}
	}

	if len(client.deleted) != 1 || client.deleted[0] != "acme/widgets@feat/pagination" {
		t.Errorf("deleted = %v, want [acme/widgets@feat/pagination] exactly once", client.deleted)
	}

	job, err := st.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if job.BranchDeletedAt.IsZero() {
		t.Error("branch deletion not recorded on the job")
	}
}

func TestStaleBranchKeptWhileSessionsActive(t *testing.T) {
	e, st, client := newTestEngine(t)
	ctx := context.Background()

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	// Old job, but one session changed state within the window.
	putSession(t, st, "sess-1", store.SessionInProgress, now.Add(-time.Hour))
	putStaleJob(t, st, "job-1", "feat/pagination", now.Add(-10*24*time.Hour), "sess-1")

	cfg := config.EffectiveConfig{
		AutoDeleteStaleBranches: true,
		AutoDeleteAfter:         3 * 24 * time.Hour,
	}
	if err := e.Evaluate(ctx, cfg); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if len(client.deleted) != 0 {
		t.Errorf("deleted = %v, want no deletions while sessions are active", client.deleted)
	}
}

func TestDisabledRulesDoNothing(t *testing.T) {
	e, st, client := newTestEngine(t)
	ctx := context.Background()

	now := time.Date(2026, 8, 29, 12, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return now }

	putSession(t, st, "sess-approval", store.SessionAwaitingApproval, now.Add(-time.Hour))
	putSession(t, st, "sess-failed", store.SessionFailed, now.Add(-time.Hour))
	putSession(t, st, "sess-done", store.SessionCompleted, now.Add(-time.Hour))
	putStaleJob(t, st, "job-1", "feat/x", now.Add(-10*24*time.Hour), "sess-done")

	if err := e.Evaluate(ctx, config.EffectiveConfig{}); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if len(client.approved)+len(client.retried)+len(client.messages)+len(client.deleted) != 0 {
		t.Errorf("disabled rules acted: approved=%v retried=%v messages=%v deleted=%v",
			client.approved, client.retried, client.messages, client.deleted)
	}
}
