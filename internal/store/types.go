package store

import "time"

// JobStatus represents the lifecycle status of a job.
type JobStatus string

const (
	// JobPending means the job is recorded but no sessions have been created yet.
	JobPending JobStatus = "PENDING"
	// JobProcessing means session creation is underway or partially complete.
	JobProcessing JobStatus = "PROCESSING"
	// JobComplete means every requested session slot is resolved. Terminal.
	JobComplete JobStatus = "COMPLETE"
	// JobFailed means the job could not be processed at all. Terminal.
	JobFailed JobStatus = "FAILED"
)

// SessionState represents the remote-assigned lifecycle state of a session.
type SessionState string

const (
	SessionQueued           SessionState = "QUEUED"
	SessionInProgress       SessionState = "IN_PROGRESS"
	SessionAwaitingApproval SessionState = "AWAITING_APPROVAL"
	SessionAwaitingFeedback SessionState = "AWAITING_USER_FEEDBACK"
	SessionCompleted        SessionState = "COMPLETED"
	SessionFailed           SessionState = "FAILED"
)

// Active reports whether the state is one the remote service is still working in.
func (s SessionState) Active() bool {
	return s == SessionQueued || s == SessionInProgress
}

// Idle reports whether the state is waiting on a human (or automation) action.
func (s SessionState) Idle() bool {
	return s == SessionAwaitingApproval || s == SessionAwaitingFeedback
}

// Job is a user-requested batch of one or more sessions against a repo/branch/prompt.
type Job struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Repo         string `json:"repo"`
	Branch       string `json:"branch"`
	Prompt       string `json:"prompt"`
	SessionCount int    `json:"session_count"`
	// SessionIDs is append-only and ordered; len(SessionIDs) never exceeds SessionCount.
	SessionIDs []string `json:"session_ids"`
	// FailedSlots counts session slots that permanently failed to create.
	// A job is COMPLETE once len(SessionIDs)+FailedSlots == SessionCount.
	FailedSlots int       `json:"failed_slots"`
	Status      JobStatus `json:"status"`
	// Background jobs are picked up by the background processing loop
	// instead of being processed synchronously at creation time.
	Background bool `json:"background"`
	// AutoApproval marks the job's sessions for plan auto-approval even when
	// the profile-wide toggle is off. Set from the cron entry or when the
	// profile does not require plan approval.
	AutoApproval bool `json:"auto_approval"`
	// CronJobID records provenance when the job was triggered by a cron entry.
	CronJobID string `json:"cron_job_id"`
	ProfileID string `json:"profile_id"`
	// BranchDeletedAt is set once when stale-branch cleanup deletes the
	// job's branch, so the deletion is never attempted twice.
	BranchDeletedAt time.Time `json:"branch_deleted_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// Session is a single remote unit of work with its own lifecycle state.
// Sessions are mutated only by the poller (sync) and the automation engine
// (policy actions); the orchestrator only attaches them to jobs.
type Session struct {
	ID         string       `json:"id"`
	Title      string       `json:"title"`
	State      SessionState `json:"state"`
	Branch     string       `json:"branch"`
	PRStatus   string       `json:"pr_status"` // empty when no PR is attached
	// JobID links back to the owning job so per-job policy flags apply.
	JobID      string    `json:"job_id"`
	CreateTime time.Time `json:"create_time"`
	// StateChangedAt tracks when State last changed, used for interval-gated
	// automation (e.g. auto-approval only after N seconds in AWAITING_APPROVAL).
	StateChangedAt time.Time `json:"state_changed_at"`
	LastSyncedAt   time.Time `json:"last_synced_at"`
	// ApprovedAt is the auto-approval action log for the current stay in
	// AWAITING_APPROVAL; cleared by ApplySync when the session moves on.
	ApprovedAt    time.Time `json:"approved_at"`
	RetryCount    int       `json:"retry_count"`
	ContinueCount int       `json:"continue_count"`
	// SyncFailures counts consecutive failed remote fetches. Reset on success.
	SyncFailures int `json:"sync_failures"`
	// Degraded is set when SyncFailures crosses the configured threshold so
	// the UI can surface the session without failing the engine.
	Degraded  bool   `json:"degraded"`
	ProfileID string `json:"profile_id"`
}

// CronJob is a scheduled definition that periodically triggers job creation.
type CronJob struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Schedule     string `json:"schedule"`
	Repo         string `json:"repo"`
	Branch       string `json:"branch"`
	Prompt       string `json:"prompt"`
	AutoApproval bool   `json:"auto_approval"`
	SessionCount int    `json:"session_count"`
	Enabled      bool   `json:"enabled"`
	// LastRunAt is zero until the first trigger. The cron scheduler only
	// ever mutates this field (via CAS), never schedule/repo/branch.
	LastRunAt time.Time `json:"last_run_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	ProfileID string    `json:"profile_id"`
}

// Profile is a named bundle of settings; exactly one is active at a time.
type Profile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Settings is the full per-profile settings record.
type Settings struct {
	ProfileID string `json:"profile_id"`

	// Poll intervals, seconds.
	ActivePollInterval   int `json:"active_poll_interval"`
	IdlePollInterval     int `json:"idle_poll_interval"`
	PRStatusPollInterval int `json:"pr_status_poll_interval"`

	// Display.
	DefaultSessionCount int    `json:"default_session_count"`
	SessionsPerPage     int    `json:"sessions_per_page"`
	JobsPerPage         int    `json:"jobs_per_page"`
	Theme               string `json:"theme"`

	// Automation.
	RequirePlanApproval     bool   `json:"require_plan_approval"`
	AutoApprovalEnabled     bool   `json:"auto_approval_enabled"`
	AutoApprovalInterval    int    `json:"auto_approval_interval"` // seconds in AWAITING_APPROVAL before approving
	AutoRetryEnabled        bool   `json:"auto_retry_enabled"`
	AutoRetryMax            int    `json:"auto_retry_max"`
	AutoContinueEnabled     bool   `json:"auto_continue_enabled"`
	AutoContinueMessage     string `json:"auto_continue_message"`
	AutoContinueMax         int    `json:"auto_continue_max"`
	AutoDeleteStaleBranches bool   `json:"auto_delete_stale_branches"`
	AutoDeleteAfterDays     int    `json:"auto_delete_after_days"`
	SyncFailureThreshold    int    `json:"sync_failure_threshold"`
	MaxConcurrentBackground int    `json:"max_concurrent_background"`
}

// JobFilter selects jobs in List queries. Zero values mean "no constraint".
type JobFilter struct {
	Repo          string
	Status        JobStatus
	CreatedAfter  time.Time
	CreatedBefore time.Time
}

// SessionFilter selects sessions in List queries.
type SessionFilter struct {
	States    []SessionState
	Branch    string
	MaxAge    time.Duration // skip sessions created longer ago than this
	HasBranch bool          // only sessions with a non-empty branch
}
