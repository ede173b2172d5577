package store

import (
	"context"
	"database/sql"
	"time"
)

const cronColumns = `id, name, schedule, repo, branch, prompt, auto_approval,
	session_count, enabled, last_run_at, created_at, updated_at, profile_id`

// cronTime is the canonical encoding for cron_jobs.last_run_at. It is stored
// as text so the CAS in ClaimCronRun can compare the exact persisted value.
const cronTime = time.RFC3339Nano

// PutCronJob inserts or updates a cron job record. On update last_run_at is
// left alone: only ClaimCronRun ever advances it, so an edit racing a
// scheduler tick cannot restore a stale value and re-arm the trigger.
func (s *Store) PutCronJob(ctx context.Context, c *CronJob) error {
	createdAt := c.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cron_jobs (`+cronColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			schedule = excluded.schedule,
			repo = excluded.repo,
			branch = excluded.branch,
			prompt = excluded.prompt,
			auto_approval = excluded.auto_approval,
			session_count = excluded.session_count,
			enabled = excluded.enabled,
			updated_at = CURRENT_TIMESTAMP,
			profile_id = excluded.profile_id
	`, c.ID, c.Name, c.Schedule, c.Repo, c.Branch, c.Prompt, c.AutoApproval,
		c.SessionCount, c.Enabled, encodeCronTime(c.LastRunAt), createdAt,
		time.Now().UTC(), c.ProfileID)
	return err
}

// GetCronJob retrieves a cron job by id.
func (s *Store) GetCronJob(ctx context.Context, id string) (*CronJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cronColumns+` FROM cron_jobs WHERE id = ?`, id)
	c, err := scanCronJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// DeleteCronJob removes a cron job record.
func (s *Store) DeleteCronJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cron_jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListCronJobs returns cron jobs, optionally only enabled ones, newest first.
func (s *Store) ListCronJobs(ctx context.Context, enabledOnly bool) ([]*CronJob, error) {
	query := `SELECT ` + cronColumns + ` FROM cron_jobs`
	if enabledOnly {
		query += ` WHERE enabled = 1`
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var jobs []*CronJob
	for rows.Next() {
		c, err := scanCronJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, c)
	}
	return jobs, rows.Err()
}

// ToggleCronJob flips the enabled flag.
func (s *Store) ToggleCronJob(ctx context.Context, id string, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cron_jobs SET enabled = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		enabled, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimCronRun CAS-advances last_run_at from its previously observed value
// to now. Only one of two overlapping ticks that both see the same due entry
// wins the claim; the loser gets false and must not trigger.
func (s *Store) ClaimCronRun(ctx context.Context, id string, prevLastRun, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE cron_jobs SET last_run_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND enabled = 1 AND IFNULL(last_run_at, '') = ?
	`, encodeCronTime(now), id, encodeCronTimeOrEmpty(prevLastRun))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func encodeCronTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(cronTime)
}

func encodeCronTimeOrEmpty(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(cronTime)
}

func scanCronJob(scan func(dest ...any) error) (*CronJob, error) {
	var c CronJob
	var lastRunAt sql.NullString
	var createdAt, updatedAt sql.NullTime
	err := scan(
		&c.ID, &c.Name, &c.Schedule, &c.Repo, &c.Branch, &c.Prompt, &c.AutoApproval,
		&c.SessionCount, &c.Enabled, &lastRunAt, &createdAt, &updatedAt, &c.ProfileID,
	)
	if err != nil {
		return nil, err
	}
	if lastRunAt.Valid && lastRunAt.String != "" {
		if t, perr := time.Parse(cronTime, lastRunAt.String); perr == nil {
			c.LastRunAt = t
		}
	}
	c.CreatedAt = fromNullTime(createdAt)
	c.UpdatedAt = fromNullTime(updatedAt)
	return &c, nil
}
