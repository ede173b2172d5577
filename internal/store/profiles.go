package store

import (
	"context"
	"database/sql"
	"time"
)

// activeProfileKey is the metadata key holding the currently active profile id.
const activeProfileKey = "active_profile"

// DefaultProfileID is the id of the built-in profile that always exists.
const DefaultProfileID = "default"

// CreateProfile inserts a new profile.
func (s *Store) CreateProfile(ctx context.Context, p *Profile) error {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO profiles (id, name, created_at) VALUES (?, ?, ?)`,
		p.ID, p.Name, createdAt)
	return err
}

// GetProfile retrieves a profile by id.
func (s *Store) GetProfile(ctx context.Context, id string) (*Profile, error) {
	var p Profile
	var createdAt sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM profiles WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &createdAt)
	if err == sql.ErrNoRows {
		// The default profile exists implicitly even before first write.
		if id == DefaultProfileID {
			return &Profile{ID: DefaultProfileID, Name: "Default"}, nil
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = fromNullTime(createdAt)
	return &p, nil
}

// ListProfiles returns all profiles, newest first. The implicit default
// profile is included even if it was never persisted.
func (s *Store) ListProfiles(ctx context.Context) ([]*Profile, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at FROM profiles ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var profiles []*Profile
	hasDefault := false
	for rows.Next() {
		var p Profile
		var createdAt sql.NullTime
		if err := rows.Scan(&p.ID, &p.Name, &createdAt); err != nil {
			return nil, err
		}
		p.CreatedAt = fromNullTime(createdAt)
		if p.ID == DefaultProfileID {
			hasDefault = true
		}
		profiles = append(profiles, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !hasDefault {
		profiles = append(profiles, &Profile{ID: DefaultProfileID, Name: "Default"})
	}
	return profiles, nil
}

// DeleteProfile removes a profile and its settings. The default profile
// cannot be deleted.
func (s *Store) DeleteProfile(ctx context.Context, id string) error {
	if id == DefaultProfileID {
		return ErrConflict
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM settings WHERE profile_id = ?`, id); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveProfileID returns the currently selected profile id, defaulting to
// the built-in default profile.
func (s *Store) ActiveProfileID(ctx context.Context) (string, error) {
	id, err := s.GetMetadata(ctx, activeProfileKey)
	if err != nil {
		return "", err
	}
	if id == "" {
		return DefaultProfileID, nil
	}
	return id, nil
}

// SelectProfile marks a profile as active. The profile must exist.
func (s *Store) SelectProfile(ctx context.Context, id string) error {
	if _, err := s.GetProfile(ctx, id); err != nil {
		return err
	}
	return s.SaveMetadata(ctx, activeProfileKey, id)
}

const settingsColumns = `profile_id, active_poll_interval, idle_poll_interval,
	pr_status_poll_interval, default_session_count, sessions_per_page, jobs_per_page,
	theme, require_plan_approval, auto_approval_enabled, auto_approval_interval,
	auto_retry_enabled, auto_retry_max, auto_continue_enabled, auto_continue_message,
	auto_continue_max, auto_delete_stale_branches, auto_delete_after_days,
	sync_failure_threshold, max_concurrent_background`

// GetSettings retrieves the settings record for a profile.
// Returns ErrNotFound if the profile has no persisted settings yet.
func (s *Store) GetSettings(ctx context.Context, profileID string) (*Settings, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+settingsColumns+` FROM settings WHERE profile_id = ?`, profileID)

	var st Settings
	err := row.Scan(
		&st.ProfileID, &st.ActivePollInterval, &st.IdlePollInterval,
		&st.PRStatusPollInterval, &st.DefaultSessionCount, &st.SessionsPerPage, &st.JobsPerPage,
		&st.Theme, &st.RequirePlanApproval, &st.AutoApprovalEnabled, &st.AutoApprovalInterval,
		&st.AutoRetryEnabled, &st.AutoRetryMax, &st.AutoContinueEnabled, &st.AutoContinueMessage,
		&st.AutoContinueMax, &st.AutoDeleteStaleBranches, &st.AutoDeleteAfterDays,
		&st.SyncFailureThreshold, &st.MaxConcurrentBackground,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// PutSettings inserts or replaces the settings record for a profile.
func (s *Store) PutSettings(ctx context.Context, st *Settings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (`+settingsColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(profile_id) DO UPDATE SET
			active_poll_interval = excluded.active_poll_interval,
			idle_poll_interval = excluded.idle_poll_interval,
			pr_status_poll_interval = excluded.pr_status_poll_interval,
			default_session_count = excluded.default_session_count,
			sessions_per_page = excluded.sessions_per_page,
			jobs_per_page = excluded.jobs_per_page,
			theme = excluded.theme,
			require_plan_approval = excluded.require_plan_approval,
			auto_approval_enabled = excluded.auto_approval_enabled,
			auto_approval_interval = excluded.auto_approval_interval,
			auto_retry_enabled = excluded.auto_retry_enabled,
			auto_retry_max = excluded.auto_retry_max,
			auto_continue_enabled = excluded.auto_continue_enabled,
			auto_continue_message = excluded.auto_continue_message,
			auto_continue_max = excluded.auto_continue_max,
			auto_delete_stale_branches = excluded.auto_delete_stale_branches,
			auto_delete_after_days = excluded.auto_delete_after_days,
			sync_failure_threshold = excluded.sync_failure_threshold,
			max_concurrent_background = excluded.max_concurrent_background
	`, st.ProfileID, st.ActivePollInterval, st.IdlePollInterval,
		st.PRStatusPollInterval, st.DefaultSessionCount, st.SessionsPerPage, st.JobsPerPage,
		st.Theme, st.RequirePlanApproval, st.AutoApprovalEnabled, st.AutoApprovalInterval,
		st.AutoRetryEnabled, st.AutoRetryMax, st.AutoContinueEnabled, st.AutoContinueMessage,
		st.AutoContinueMax, st.AutoDeleteStaleBranches, st.AutoDeleteAfterDays,
		st.SyncFailureThreshold, st.MaxConcurrentBackground)
	return err
}
