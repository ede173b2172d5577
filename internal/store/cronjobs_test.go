package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func putTestCronJob(t *testing.T, s *Store, id string, lastRun time.Time) *CronJob {
	t.Helper()
	c := &CronJob{
		ID:           id,
		Name:         "nightly cleanup",
		Schedule:     "0 3 * * *",
		Repo:         "acme/widgets",
		Branch:       "main",
		Prompt:       "clean up dead code",
		SessionCount: 1,
		Enabled:      true,
		LastRunAt:    lastRun,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.PutCronJob(context.Background(), c); err != nil {
		t.Fatalf("PutCronJob failed: %v", err)
	}
	return c
}

func TestCronJobRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lastRun := time.Date(2026, 8, 28, 3, 0, 0, 0, time.UTC)
	putTestCronJob(t, s, "cron-1", lastRun)

	loaded, err := s.GetCronJob(ctx, "cron-1")
	if err != nil {
		t.Fatalf("GetCronJob failed: %v", err)
	}
	if loaded.Schedule != "0 3 * * *" {
		t.Errorf("Schedule = %s, want 0 3 * * *", loaded.Schedule)
	}
	if !loaded.LastRunAt.Equal(lastRun) {
		t.Errorf("LastRunAt = %v, want %v", loaded.LastRunAt, lastRun)
	}
	if !loaded.Enabled {
		t.Error("Enabled should round-trip true")
	}
}

func TestCronJobZeroLastRun(t *testing.T) {
	s := newTestStore(t)
	putTestCronJob(t, s, "cron-1", time.Time{})

	loaded, err := s.GetCronJob(context.Background(), "cron-1")
	if err != nil {
		t.Fatalf("GetCronJob failed: %v", err)
	}
	if !loaded.LastRunAt.IsZero() {
		t.Errorf("LastRunAt = %v, want zero for never-run entry", loaded.LastRunAt)
	}
}

func TestPutCronJobPreservesLastRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lastRun := time.Date(2026, 8, 28, 3, 0, 0, 0, time.UTC)
	c := putTestCronJob(t, s, "cron-1", lastRun)

	now := time.Date(2026, 8, 29, 3, 0, 5, 0, time.UTC)
	claimed, err := s.ClaimCronRun(ctx, "cron-1", lastRun, now)
	if err != nil || !claimed {
		t.Fatalf("claim = (%v, %v), want win", claimed, err)
	}

	// An edit that read the entry before the claim re-persists the stale
	// last_run_at; the upsert must not restore it.
	c.Prompt = "clean up dead code and stale docs"
	c.LastRunAt = lastRun
	if err := s.PutCronJob(ctx, c); err != nil {
		t.Fatalf("PutCronJob failed: %v", err)
	}

	loaded, err := s.GetCronJob(ctx, "cron-1")
	if err != nil {
		t.Fatalf("GetCronJob failed: %v", err)
	}
	if loaded.Prompt != "clean up dead code and stale docs" {
		t.Errorf("Prompt = %q, want edited value", loaded.Prompt)
	}
	if !loaded.LastRunAt.Equal(now) {
		t.Errorf("LastRunAt = %v, want claimed %v untouched by the edit", loaded.LastRunAt, now)
	}
}

func TestClaimCronRunSingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	lastRun := time.Date(2026, 8, 28, 3, 0, 0, 0, time.UTC)
	putTestCronJob(t, s, "cron-1", lastRun)

	now := time.Date(2026, 8, 29, 3, 0, 5, 0, time.UTC)

	// Two ticks observed the same last_run_at; only one may win.
	first, err := s.ClaimCronRun(ctx, "cron-1", lastRun, now)
	if err != nil {
		t.Fatalf("first claim failed: %v", err)
	}
	second, err := s.ClaimCronRun(ctx, "cron-1", lastRun, now.Add(time.Second))
	if err != nil {
		t.Fatalf("second claim failed: %v", err)
	}
	if !first || second {
		t.Errorf("claims = (%v, %v), want exactly one winner", first, second)
	}

	loaded, _ := s.GetCronJob(ctx, "cron-1")
	if !loaded.LastRunAt.Equal(now) {
		t.Errorf("LastRunAt = %v, want %v", loaded.LastRunAt, now)
	}
}

func TestClaimCronRunNeverRunEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	putTestCronJob(t, s, "cron-1", time.Time{})

	now := time.Now().UTC()
	claimed, err := s.ClaimCronRun(ctx, "cron-1", time.Time{}, now)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if !claimed {
		t.Fatal("claim with zero previous run should win")
	}
	claimed, _ = s.ClaimCronRun(ctx, "cron-1", time.Time{}, now)
	if claimed {
		t.Error("stale zero-previous claim should lose after first trigger")
	}
}

func TestClaimCronRunDisabledEntry(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := putTestCronJob(t, s, "cron-1", time.Time{})

	if err := s.ToggleCronJob(ctx, c.ID, false); err != nil {
		t.Fatalf("ToggleCronJob failed: %v", err)
	}
	claimed, err := s.ClaimCronRun(ctx, "cron-1", time.Time{}, time.Now().UTC())
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if claimed {
		t.Error("disabled entry must not be claimable")
	}
}

func TestListCronJobsEnabledOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	putTestCronJob(t, s, "cron-1", time.Time{})
	c2 := putTestCronJob(t, s, "cron-2", time.Time{})
	if err := s.ToggleCronJob(ctx, c2.ID, false); err != nil {
		t.Fatalf("ToggleCronJob failed: %v", err)
	}

	all, err := s.ListCronJobs(ctx, false)
	if err != nil {
		t.Fatalf("ListCronJobs failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("all entries = %d, want 2", len(all))
	}

	enabled, err := s.ListCronJobs(ctx, true)
	if err != nil {
		t.Fatalf("ListCronJobs enabled failed: %v", err)
	}
	if len(enabled) != 1 || enabled[0].ID != "cron-1" {
		t.Errorf("enabled entries = %d, want exactly cron-1", len(enabled))
	}
}

func TestDeleteCronJob(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	putTestCronJob(t, s, "cron-1", time.Time{})

	if err := s.DeleteCronJob(ctx, "cron-1"); err != nil {
		t.Fatalf("DeleteCronJob failed: %v", err)
	}
	if err := s.DeleteCronJob(ctx, "cron-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}
