// Package api exposes the HTTP JSON API consumed by UI collaborators.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/alekspetrov/overseer/internal/config"
	"github.com/alekspetrov/overseer/internal/logging"
	"github.com/alekspetrov/overseer/internal/orchestrator"
	"github.com/alekspetrov/overseer/internal/store"
)

// Server handles HTTP requests.
type Server struct {
	store    *store.Store
	orch     *orchestrator.Orchestrator
	resolver *config.Resolver
	log      *slog.Logger
}

// NewServer creates a new API server.
func NewServer(st *store.Store, orch *orchestrator.Orchestrator, resolver *config.Resolver) *Server {
	return &Server{
		store:    st,
		orch:     orch,
		resolver: resolver,
		log:      logging.WithComponent("api"),
	}
}

// Router returns the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", s.healthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", s.listJobs)
			r.Post("/", s.createJob)
			r.Get("/{jobID}", s.getJob)
			r.Delete("/{jobID}", s.deleteJob)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", s.listSessions)
			r.Get("/{sessionID}", s.getSession)
		})

		r.Route("/cron-jobs", func(r chi.Router) {
			r.Get("/", s.listCronJobs)
			r.Post("/", s.createCronJob)
			r.Get("/{cronID}", s.getCronJob)
			r.Patch("/{cronID}", s.updateCronJob)
			r.Delete("/{cronID}", s.deleteCronJob)
		})

		r.Get("/config", s.getConfig)
		r.Get("/settings", s.getSettings)
		r.Put("/settings", s.putSettings)

		r.Route("/profiles", func(r chi.Router) {
			r.Get("/", s.listProfiles)
			r.Post("/", s.createProfile)
			r.Delete("/{profileID}", s.deleteProfile)
			r.Post("/{profileID}/select", s.selectProfile)
		})
	})

	return r
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeDomainError maps domain errors to HTTP status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var ve *orchestrator.ValidationError
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.Is(err, store.ErrNotFound), errors.Is(err, config.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrBusy):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
