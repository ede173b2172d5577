package store

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

const sessionColumns = `id, title, state, branch, pr_status, job_id, create_time,
	state_changed_at, last_synced_at, approved_at, retry_count, continue_count,
	sync_failures, degraded, profile_id`

// PutSession inserts or replaces a session record.
func (s *Store) PutSession(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			state = excluded.state,
			branch = excluded.branch,
			pr_status = excluded.pr_status,
			job_id = excluded.job_id,
			state_changed_at = excluded.state_changed_at,
			last_synced_at = excluded.last_synced_at,
			approved_at = excluded.approved_at,
			retry_count = excluded.retry_count,
			continue_count = excluded.continue_count,
			sync_failures = excluded.sync_failures,
			degraded = excluded.degraded,
			profile_id = excluded.profile_id
	`, sess.ID, sess.Title, string(sess.State), sess.Branch, sess.PRStatus, sess.JobID,
		nullTime(sess.CreateTime), nullTime(sess.StateChangedAt), nullTime(sess.LastSyncedAt),
		nullTime(sess.ApprovedAt), sess.RetryCount, sess.ContinueCount,
		sess.SyncFailures, sess.Degraded, sess.ProfileID)
	return err
}

// GetSession retrieves a session by id.
func (s *Store) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	sess, err := scanSession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// DeleteSession removes a session record.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListSessions returns sessions matching the filter, newest first.
func (s *Store) ListSessions(ctx context.Context, f SessionFilter) ([]*Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM sessions WHERE 1=1`
	var args []any
	if len(f.States) > 0 {
		placeholders := make([]string, len(f.States))
		for i, st := range f.States {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		query += ` AND state IN (` + strings.Join(placeholders, ", ") + `)`
	}
	if f.Branch != "" {
		query += ` AND branch = ?`
		args = append(args, f.Branch)
	}
	if f.HasBranch {
		query += ` AND branch != ''`
	}
	if f.MaxAge > 0 {
		query += ` AND create_time >= ?`
		args = append(args, time.Now().UTC().Add(-f.MaxAge))
	}
	query += ` ORDER BY create_time DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var sessions []*Session
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// ApplySync CAS-updates a session from a remote snapshot. The swap succeeds
// only if the local state still equals expect, so a concurrent automation
// action can't be overwritten by a stale poll result. state_changed_at is
// bumped only on a real state change, and sync bookkeeping is reset.
// Leaving AWAITING_APPROVAL clears the approval claim, so a session that
// later re-enters the state with a new plan can be approved again.
func (s *Store) ApplySync(ctx context.Context, id string, expect, observed SessionState, prStatus string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			state = ?,
			pr_status = ?,
			state_changed_at = CASE WHEN state != ? THEN ? ELSE state_changed_at END,
			approved_at = CASE WHEN ? = ? THEN approved_at ELSE NULL END,
			last_synced_at = ?,
			sync_failures = 0,
			degraded = 0
		WHERE id = ? AND state = ?
	`, string(observed), prStatus, string(observed), now,
		string(observed), string(SessionAwaitingApproval),
		now, id, string(expect))
	if err != nil {
		return err
	}
	return s.casOutcome(ctx, res, `SELECT 1 FROM sessions WHERE id = ?`, id)
}

// RecordSyncFailure increments the consecutive failure counter and flags the
// session degraded once the counter reaches threshold. The session state is
// left untouched so the next cycle retries naturally.
func (s *Store) RecordSyncFailure(ctx context.Context, id string, threshold int) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET
			sync_failures = sync_failures + 1,
			degraded = CASE WHEN sync_failures + 1 >= ? THEN 1 ELSE degraded END
		WHERE id = ?
	`, threshold, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ClaimApproval records the auto-approval action log. The claim succeeds only
// while the session is AWAITING_APPROVAL and unapproved, which makes the
// approvePlan call at-most-once per stay in the state even when two loops
// observe the session in the same window. ApplySync clears the claim when
// the session leaves the state, so a later plan gets its own approval.
func (s *Store) ClaimApproval(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET approved_at = ?
		WHERE id = ? AND state = ? AND approved_at IS NULL
	`, now, id, string(SessionAwaitingApproval))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClaimRetry increments the retry counter if the session is FAILED and the
// bounded maximum has not been reached. Returns true when this caller owns
// the retry attempt.
func (s *Store) ClaimRetry(ctx context.Context, id string, max int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET retry_count = retry_count + 1
		WHERE id = ? AND state = ? AND retry_count < ?
	`, id, string(SessionFailed), max)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClaimContinue increments the continue counter if the session is COMPLETED
// and under the cap. Returns true when this caller owns the continuation.
func (s *Store) ClaimContinue(ctx context.Context, id string, max int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET continue_count = continue_count + 1
		WHERE id = ? AND state = ? AND continue_count < ?
	`, id, string(SessionCompleted), max)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func scanSession(scan func(dest ...any) error) (*Session, error) {
	var sess Session
	var state string
	var createTime, stateChangedAt, lastSyncedAt, approvedAt sql.NullTime
	err := scan(
		&sess.ID, &sess.Title, &state, &sess.Branch, &sess.PRStatus, &sess.JobID,
		&createTime, &stateChangedAt, &lastSyncedAt, &approvedAt, &sess.RetryCount,
		&sess.ContinueCount, &sess.SyncFailures, &sess.Degraded, &sess.ProfileID,
	)
	if err != nil {
		return nil, err
	}
	sess.State = SessionState(state)
	sess.CreateTime = fromNullTime(createTime)
	sess.StateChangedAt = fromNullTime(stateChangedAt)
	sess.LastSyncedAt = fromNullTime(lastSyncedAt)
	sess.ApprovedAt = fromNullTime(approvedAt)
	return &sess, nil
}
