package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/alekspetrov/overseer/internal/orchestrator"
	"github.com/alekspetrov/overseer/internal/store"
)

func (s *Server) createJob(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Name         string `json:"name"`
		Repo         string `json:"repo"`
		Branch       string `json:"branch"`
		Prompt       string `json:"prompt"`
		SessionCount int    `json:"session_count"`
		Background   bool   `json:"background"`
		AutoApproval bool   `json:"auto_approval"`
	}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := s.orch.CreateJob(r.Context(), orchestrator.JobSpec{
		Name:         input.Name,
		Repo:         input.Repo,
		Branch:       input.Branch,
		Prompt:       input.Prompt,
		SessionCount: input.SessionCount,
		Background:   input.Background,
		AutoApproval: input.AutoApproval,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	filter := store.JobFilter{
		Repo:   r.URL.Query().Get("repo"),
		Status: store.JobStatus(r.URL.Query().Get("status")),
	}
	jobs, err := s.store.ListJobs(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*store.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.GetJob(r.Context(), chi.URLParam(r, "jobID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	if err := s.store.DeleteJob(r.Context(), chi.URLParam(r, "jobID")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	var filter store.SessionFilter
	if state := r.URL.Query().Get("state"); state != "" {
		filter.States = []store.SessionState{store.SessionState(state)}
	}
	if branch := r.URL.Query().Get("branch"); branch != "" {
		filter.Branch = branch
	}
	sessions, err := s.store.ListSessions(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if sessions == nil {
		sessions = []*store.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
