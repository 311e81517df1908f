// Package api provides the HTTP server for the orchestrator. It exposes
// the module-facing interface (register, heartbeat, poll assignments,
// report outcome) and the submitter/operator surface (submit, cancel,
// status).
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/synapse-grid/synapse/internal/domain"
	"github.com/synapse-grid/synapse/internal/health"
	"github.com/synapse-grid/synapse/internal/orchestrator"
)

// Server is the orchestrator HTTP API server.
type Server struct {
	orch           *orchestrator.Orchestrator
	health         *health.Checker
	metricsEnabled bool
	version        string
}

// NewServer creates a new API server.
func NewServer(orch *orchestrator.Orchestrator) *Server {
	return &Server{orch: orch, version: "dev"}
}

// EnableMetrics enables the /metrics Prometheus endpoint.
func (s *Server) EnableMetrics() { s.metricsEnabled = true }

// SetHealth attaches the health checker for /health reporting.
func (s *Server) SetHealth(h *health.Checker) { s.health = h }

// SetVersion sets the version reported by /api/version.
func (s *Server) SetVersion(v string) { s.version = v }

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(corsMiddleware)

	r.Get("/health", s.handleHealth)

	r.Get("/api/status", s.handleStatus)
	r.Get("/api/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
	})

	// Module-facing interface
	r.Route("/api/modules", func(r chi.Router) {
		r.Get("/", s.handleListModules)
		r.Post("/", s.handleRegister)
		r.Get("/{id}", s.handleGetModule)
		r.Post("/{id}/heartbeat", s.handleHeartbeat)
		r.Post("/{id}/reset", s.handleReset)
		r.Get("/{id}/assignments", s.handleAssignments)
		r.Get("/{id}/performance", s.handlePerformance)
	})

	// Submitter interface
	r.Route("/api/tasks", func(r chi.Router) {
		r.Get("/", s.handleListTasks)
		r.Post("/", s.handleSubmit)
		r.Get("/{id}", s.handleGetTask)
		r.Delete("/{id}", s.handleCancel)
		r.Post("/{id}/outcome", s.handleOutcome)
	})

	// Prometheus metrics endpoint
	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"message": msg,
			"type":    "error",
		},
	})
}

// writeDomainError maps a domain error to its HTTP status.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrUnknownModule), errors.Is(err, domain.ErrUnknownTask):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrDuplicateModule), errors.Is(err, domain.ErrTaskNotCancelable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrInvalidTask):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrStoreUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// corsMiddleware adds CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
