package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

const jobColumns = `id, name, repo, branch, prompt, session_count, session_ids,
	failed_slots, status, background, auto_approval, cron_job_id, profile_id,
	branch_deleted_at, created_at`

// PutJob inserts or replaces a job record.
func (s *Store) PutJob(ctx context.Context, j *Job) error {
	ids, err := json.Marshal(j.SessionIDs)
	if err != nil {
		return fmt.Errorf("failed to encode session ids: %w", err)
	}
	if j.SessionIDs == nil {
		ids = []byte("[]")
	}
	createdAt := j.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			repo = excluded.repo,
			branch = excluded.branch,
			prompt = excluded.prompt,
			session_count = excluded.session_count,
			session_ids = excluded.session_ids,
			failed_slots = excluded.failed_slots,
			status = excluded.status,
			background = excluded.background,
			auto_approval = excluded.auto_approval,
			cron_job_id = excluded.cron_job_id,
			profile_id = excluded.profile_id,
			branch_deleted_at = excluded.branch_deleted_at
	`, j.ID, j.Name, j.Repo, j.Branch, j.Prompt, j.SessionCount, string(ids),
		j.FailedSlots, string(j.Status), j.Background, j.AutoApproval, j.CronJobID,
		j.ProfileID, nullTime(j.BranchDeletedAt), createdAt)
	return err
}

// GetJob retrieves a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return j, nil
}

// DeleteJob removes a job record.
func (s *Store) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListJobs returns jobs matching the filter, newest first.
func (s *Store) ListJobs(ctx context.Context, f JobFilter) ([]*Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []any
	if f.Repo != "" {
		query += ` AND repo = ?`
		args = append(args, f.Repo)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if !f.CreatedAfter.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, f.CreatedAfter)
	}
	if !f.CreatedBefore.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, f.CreatedBefore)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// CompareAndSwapJobStatus transitions a job's status only if it currently
// equals from. Terminal statuses never regress because callers always CAS
// from the observed non-terminal status.
func (s *Store) CompareAndSwapJobStatus(ctx context.Context, id string, from, to JobStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from))
	if err != nil {
		return err
	}
	return s.casOutcome(ctx, res, `SELECT 1 FROM jobs WHERE id = ?`, id)
}

// AppendJobSession appends a session id to the job's ordered session_ids.
// The append is idempotent per session id and enforces
// len(session_ids) <= session_count. When all slots are resolved the job
// transitions to COMPLETE inside the same transaction.
func (s *Store) AppendJobSession(ctx context.Context, jobID, sessionID string) error {
	return s.resolveJobSlot(ctx, jobID, sessionID, false)
}

// RecordJobSlotFailure records one permanently failed session slot.
// Like AppendJobSession, it completes the job when all slots are resolved.
func (s *Store) RecordJobSlotFailure(ctx context.Context, jobID string) error {
	return s.resolveJobSlot(ctx, jobID, "", true)
}

func (s *Store) resolveJobSlot(ctx context.Context, jobID, sessionID string, failed bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var idsJSON string
	var count, failedSlots int
	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT session_ids, session_count, failed_slots, status FROM jobs WHERE id = ?`,
		jobID).Scan(&idsJSON, &count, &failedSlots, &status)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	var ids []string
	if err := json.Unmarshal([]byte(idsJSON), &ids); err != nil {
		ids = nil
	}

	if failed {
		failedSlots++
	} else {
		for _, id := range ids {
			if id == sessionID {
				return tx.Commit() // already attached
			}
		}
		if len(ids)+failedSlots >= count {
			return fmt.Errorf("job %s has no open session slots (%d/%d)", jobID, len(ids), count)
		}
		ids = append(ids, sessionID)
	}

	newStatus := JobProcessing
	if len(ids)+failedSlots >= count {
		newStatus = JobComplete
	}
	// Never regress a terminal status.
	if status == string(JobComplete) || status == string(JobFailed) {
		newStatus = JobStatus(status)
	}

	encoded, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	if ids == nil {
		encoded = []byte("[]")
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET session_ids = ?, failed_slots = ?, status = ? WHERE id = ?`,
		string(encoded), failedSlots, string(newStatus), jobID)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// ClaimBranchDeletion marks the job's branch as deleted exactly once.
// Returns true if this caller won the claim, false if the branch was
// already recorded as deleted.
func (s *Store) ClaimBranchDeletion(ctx context.Context, jobID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET branch_deleted_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND branch_deleted_at IS NULL`, jobID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// casOutcome maps a zero-row UPDATE to ErrConflict (row exists, precondition
// failed) or ErrNotFound (row missing).
func (s *Store) casOutcome(ctx context.Context, res sql.Result, existsQuery string, args ...any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	var one int
	err = s.db.QueryRowContext(ctx, existsQuery, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrConflict
}

func scanJob(scan func(dest ...any) error) (*Job, error) {
	var j Job
	var idsJSON, status string
	var branchDeletedAt, createdAt sql.NullTime
	err := scan(
		&j.ID, &j.Name, &j.Repo, &j.Branch, &j.Prompt, &j.SessionCount, &idsJSON,
		&j.FailedSlots, &status, &j.Background, &j.AutoApproval, &j.CronJobID,
		&j.ProfileID, &branchDeletedAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}
	j.Status = JobStatus(status)
	if err := json.Unmarshal([]byte(idsJSON), &j.SessionIDs); err != nil {
		j.SessionIDs = []string{}
	}
	j.BranchDeletedAt = fromNullTime(branchDeletedAt)
	j.CreatedAt = fromNullTime(createdAt)
	return &j, nil
}
