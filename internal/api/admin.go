package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/alekspetrov/overseer/internal/config"
	"github.com/alekspetrov/overseer/internal/cron"
	"github.com/alekspetrov/overseer/internal/orchestrator"
	"github.com/alekspetrov/overseer/internal/store"
)

// Cron job handlers

func (s *Server) createCronJob(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Name         string `json:"name"`
		Schedule     string `json:"schedule"`
		Repo         string `json:"repo"`
		Branch       string `json:"branch"`
		Prompt       string `json:"prompt"`
		AutoApproval bool   `json:"auto_approval"`
		SessionCount int    `json:"session_count"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := cron.ValidateSchedule(input.Schedule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := orchestrator.ValidateRepo(input.Repo); err != nil {
		writeDomainError(w, err)
		return
	}
	if err := orchestrator.ValidateBranch(input.Branch); err != nil {
		writeDomainError(w, err)
		return
	}

	count := input.SessionCount
	if count <= 0 {
		count = s.resolver.Current().DefaultSessionCount
	}
	entry := &store.CronJob{
		ID:           uuid.New().String(),
		Name:         input.Name,
		Schedule:     input.Schedule,
		Repo:         input.Repo,
		Branch:       input.Branch,
		Prompt:       input.Prompt,
		AutoApproval: input.AutoApproval,
		SessionCount: count,
		Enabled:      true,
		CreatedAt:    time.Now().UTC(),
		ProfileID:    s.resolver.Current().ProfileID,
	}
	if err := s.store.PutCronJob(r.Context(), entry); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) listCronJobs(w http.ResponseWriter, r *http.Request) {
	entries, err := s.store.ListCronJobs(r.Context(), false)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []*store.CronJob{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) getCronJob(w http.ResponseWriter, r *http.Request) {
	entry, err := s.store.GetCronJob(r.Context(), chi.URLParam(r, "cronID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// updateCronJob applies a partial edit. Only provided fields change; an
// updated schedule is re-validated before it is stored.
func (s *Server) updateCronJob(w http.ResponseWriter, r *http.Request) {
	entry, err := s.store.GetCronJob(r.Context(), chi.URLParam(r, "cronID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	var input struct {
		Name         *string `json:"name"`
		Schedule     *string `json:"schedule"`
		Repo         *string `json:"repo"`
		Branch       *string `json:"branch"`
		Prompt       *string `json:"prompt"`
		AutoApproval *bool   `json:"auto_approval"`
		SessionCount *int    `json:"session_count"`
		Enabled      *bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if input.Schedule != nil {
		if err := cron.ValidateSchedule(*input.Schedule); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		entry.Schedule = *input.Schedule
	}
	if input.Repo != nil {
		if err := orchestrator.ValidateRepo(*input.Repo); err != nil {
			writeDomainError(w, err)
			return
		}
		entry.Repo = *input.Repo
	}
	if input.Branch != nil {
		if err := orchestrator.ValidateBranch(*input.Branch); err != nil {
			writeDomainError(w, err)
			return
		}
		entry.Branch = *input.Branch
	}
	if input.Name != nil {
		entry.Name = *input.Name
	}
	if input.Prompt != nil {
		entry.Prompt = *input.Prompt
	}
	if input.AutoApproval != nil {
		entry.AutoApproval = *input.AutoApproval
	}
	if input.SessionCount != nil {
		entry.SessionCount = *input.SessionCount
	}
	if input.Enabled != nil {
		entry.Enabled = *input.Enabled
	}

	if err := s.store.PutCronJob(r.Context(), entry); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) deleteCronJob(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteCronJob(r.Context(), chi.URLParam(r, "cronID")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// Config and settings handlers

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.resolver.Current())
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	cfg := s.resolver.Current()
	settings, err := s.store.GetSettings(r.Context(), cfg.ProfileID)
	if err != nil {
		// No persisted record yet: report the defaults the engine is using.
		settings = config.DefaultSettings(cfg.ProfileID)
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var settings store.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if settings.ProfileID == "" {
		settings.ProfileID = s.resolver.Current().ProfileID
	}
	if err := s.store.PutSettings(r.Context(), &settings); err != nil {
		writeDomainError(w, err)
		return
	}
	if _, err := s.resolver.Resolve(r.Context()); err != nil {
		s.log.Error("failed to refresh settings snapshot", "error", err)
	}
	writeJSON(w, http.StatusOK, settings)
}

// Profile handlers

func (s *Server) listProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := s.store.ListProfiles(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, profiles)
}

func (s *Server) createProfile(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if input.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	profile := &store.Profile{
		ID:        uuid.New().String(),
		Name:      input.Name,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateProfile(r.Context(), profile); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, profile)
}

func (s *Server) deleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteProfile(r.Context(), chi.URLParam(r, "profileID")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) selectProfile(w http.ResponseWriter, r *http.Request) {
	cfg, err := s.resolver.SwitchProfile(r.Context(), chi.URLParam(r, "profileID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}
