package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alekspetrov/overseer/internal/logging"
	"github.com/alekspetrov/overseer/internal/store"
)

// ErrProfileNotFound is returned by SwitchProfile for unknown profile ids.
var ErrProfileNotFound = errors.New("config: profile not found")

// EffectiveConfig is the fully resolved settings snapshot used by engine
// components for one cycle. It is an immutable value: loops capture one
// snapshot at cycle start, so a concurrent settings change or profile switch
// takes effect at the next cycle, never mid-cycle.
type EffectiveConfig struct {
	ProfileID string

	ActivePollInterval   time.Duration
	IdlePollInterval     time.Duration
	PRStatusPollInterval time.Duration

	DefaultSessionCount int
	SessionsPerPage     int
	JobsPerPage         int
	Theme               string

	RequirePlanApproval     bool
	AutoApprovalEnabled     bool
	AutoApprovalInterval    time.Duration
	AutoRetryEnabled        bool
	AutoRetryMax            int
	AutoContinueEnabled     bool
	AutoContinueMessage     string
	AutoContinueMax         int
	AutoDeleteStaleBranches bool
	AutoDeleteAfter         time.Duration
	SyncFailureThreshold    int
	MaxConcurrentBackground int
}

// Overrides holds session-local per-field overrides that take precedence
// over the persisted profile settings. A nil field means "no override";
// setting one field never blocks profile/default fallback for the others.
type Overrides struct {
	ActivePollInterval   *int
	IdlePollInterval     *int
	PRStatusPollInterval *int
	DefaultSessionCount  *int
	AutoApprovalEnabled  *bool
	AutoApprovalInterval *int
	AutoRetryEnabled     *bool
	AutoContinueEnabled  *bool
	Theme                *string
}

// DefaultSettings returns the built-in defaults used when a profile has no
// persisted settings record (or for fields a record predates).
func DefaultSettings(profileID string) *store.Settings {
	return &store.Settings{
		ProfileID:               profileID,
		ActivePollInterval:      30,
		IdlePollInterval:        120,
		PRStatusPollInterval:    60,
		DefaultSessionCount:     1,
		SessionsPerPage:         10,
		JobsPerPage:             5,
		Theme:                   "system",
		RequirePlanApproval:     true,
		AutoApprovalEnabled:     false,
		AutoApprovalInterval:    60,
		AutoRetryEnabled:        false,
		AutoRetryMax:            3,
		AutoContinueEnabled:     false,
		AutoContinueMessage:     "Sounds good. Go ahead and finish the work.",
		AutoContinueMax:         5,
		AutoDeleteStaleBranches: false,
		AutoDeleteAfterDays:     3,
		SyncFailureThreshold:    5,
		MaxConcurrentBackground: 5,
	}
}

// Resolver merges built-in defaults, the active profile's persisted settings
// and session-local overrides into EffectiveConfig snapshots. Precedence per
// field, highest first: override > persisted profile > default.
type Resolver struct {
	store *store.Store
	log   *slog.Logger

	mu        sync.Mutex // guards overrides and rebuilds
	overrides Overrides

	snapshot atomic.Pointer[EffectiveConfig]
}

// NewResolver creates a Resolver and primes the initial snapshot from the
// active profile.
func NewResolver(ctx context.Context, st *store.Store) (*Resolver, error) {
	r := &Resolver{
		store: st,
		log:   logging.WithComponent("config"),
	}
	if _, err := r.Resolve(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Resolve rebuilds the effective configuration from the active profile and
// returns the new snapshot. Engine loops call this once per cycle.
func (r *Resolver) Resolve(ctx context.Context) (EffectiveConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	profileID, err := r.store.ActiveProfileID(ctx)
	if err != nil {
		return EffectiveConfig{}, fmt.Errorf("failed to read active profile: %w", err)
	}
	return r.rebuildLocked(ctx, profileID)
}

// Current returns the last resolved snapshot without touching the store.
// Safe for concurrent use; intended for request handlers.
func (r *Resolver) Current() EffectiveConfig {
	return *r.snapshot.Load()
}

// SwitchProfile atomically swaps the entire effective snapshot to the named
// profile. After it returns, every Current/Resolve reader sees only the new
// profile's settings, never a mixture.
func (r *Resolver) SwitchProfile(ctx context.Context, profileID string) (EffectiveConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.SelectProfile(ctx, profileID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return EffectiveConfig{}, ErrProfileNotFound
		}
		return EffectiveConfig{}, err
	}
	cfg, err := r.rebuildLocked(ctx, profileID)
	if err != nil {
		return EffectiveConfig{}, err
	}
	r.log.Info("switched active profile", "profile", profileID)
	return cfg, nil
}

// Override merges non-nil fields of patch into the session-local overrides
// and rebuilds the snapshot.
func (r *Resolver) Override(ctx context.Context, patch Overrides) (EffectiveConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mergeOverrides(&r.overrides, patch)
	profileID, err := r.store.ActiveProfileID(ctx)
	if err != nil {
		return EffectiveConfig{}, err
	}
	return r.rebuildLocked(ctx, profileID)
}

func (r *Resolver) rebuildLocked(ctx context.Context, profileID string) (EffectiveConfig, error) {
	settings, err := r.store.GetSettings(ctx, profileID)
	if errors.Is(err, store.ErrNotFound) {
		settings = DefaultSettings(profileID)
	} else if err != nil {
		return EffectiveConfig{}, fmt.Errorf("failed to load settings: %w", err)
	}

	cfg := fromSettings(profileID, settings, r.overrides)
	r.snapshot.Store(&cfg)
	return cfg, nil
}

func fromSettings(profileID string, s *store.Settings, o Overrides) EffectiveConfig {
	pick := func(override *int, value int) int {
		if override != nil {
			return *override
		}
		return value
	}
	pickBool := func(override *bool, value bool) bool {
		if override != nil {
			return *override
		}
		return value
	}
	theme := s.Theme
	if o.Theme != nil {
		theme = *o.Theme
	}

	return EffectiveConfig{
		ProfileID: profileID,

		ActivePollInterval:   time.Duration(pick(o.ActivePollInterval, s.ActivePollInterval)) * time.Second,
		IdlePollInterval:     time.Duration(pick(o.IdlePollInterval, s.IdlePollInterval)) * time.Second,
		PRStatusPollInterval: time.Duration(pick(o.PRStatusPollInterval, s.PRStatusPollInterval)) * time.Second,

		DefaultSessionCount: pick(o.DefaultSessionCount, s.DefaultSessionCount),
		SessionsPerPage:     s.SessionsPerPage,
		JobsPerPage:         s.JobsPerPage,
		Theme:               theme,

		RequirePlanApproval:     s.RequirePlanApproval,
		AutoApprovalEnabled:     pickBool(o.AutoApprovalEnabled, s.AutoApprovalEnabled),
		AutoApprovalInterval:    time.Duration(pick(o.AutoApprovalInterval, s.AutoApprovalInterval)) * time.Second,
		AutoRetryEnabled:        pickBool(o.AutoRetryEnabled, s.AutoRetryEnabled),
		AutoRetryMax:            s.AutoRetryMax,
		AutoContinueEnabled:     pickBool(o.AutoContinueEnabled, s.AutoContinueEnabled),
		AutoContinueMessage:     s.AutoContinueMessage,
		AutoContinueMax:         s.AutoContinueMax,
		AutoDeleteStaleBranches: s.AutoDeleteStaleBranches,
		AutoDeleteAfter:         time.Duration(s.AutoDeleteAfterDays) * 24 * time.Hour,
		SyncFailureThreshold:    s.SyncFailureThreshold,
		MaxConcurrentBackground: s.MaxConcurrentBackground,
	}
}

func mergeOverrides(dst *Overrides, patch Overrides) {
	if patch.ActivePollInterval != nil {
		dst.ActivePollInterval = patch.ActivePollInterval
	}
	if patch.IdlePollInterval != nil {
		dst.IdlePollInterval = patch.IdlePollInterval
	}
	if patch.PRStatusPollInterval != nil {
		dst.PRStatusPollInterval = patch.PRStatusPollInterval
	}
	if patch.DefaultSessionCount != nil {
		dst.DefaultSessionCount = patch.DefaultSessionCount
	}
	if patch.AutoApprovalEnabled != nil {
		dst.AutoApprovalEnabled = patch.AutoApprovalEnabled
	}
	if patch.AutoApprovalInterval != nil {
		dst.AutoApprovalInterval = patch.AutoApprovalInterval
	}
	if patch.AutoRetryEnabled != nil {
		dst.AutoRetryEnabled = patch.AutoRetryEnabled
	}
	if patch.AutoContinueEnabled != nil {
		dst.AutoContinueEnabled = patch.AutoContinueEnabled
	}
	if patch.Theme != nil {
		dst.Theme = patch.Theme
	}
}
