package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/synapse-grid/synapse/internal/domain"
)

// ─── Request / Response bodies ──────────────────────────────────────────────

type registerRequest struct {
	ID           string   `json:"id"`
	Capabilities []string `json:"capabilities"`
}

type heartbeatRequest struct {
	Evolving bool `json:"evolving"`
}

type submitRequest struct {
	ID           string   `json:"id,omitempty"`
	RequiredCaps []string `json:"required_caps"`
	Priority     *int     `json:"priority,omitempty"`
}

type outcomeRequest struct {
	ModuleID          string  `json:"module_id"`
	Success           bool    `json:"success"`
	CompletionSeconds float64 `json:"completion_seconds"`
	CrossDomain       bool    `json:"cross_domain"`
	Confidence        float64 `json:"confidence"`
	Error             string  `json:"error,omitempty"`
}

// ─── Status & Health ────────────────────────────────────────────────────────

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	code := http.StatusOK
	if !s.health.IsHealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"healthy": s.health.IsHealthy(),
		"checks":  s.health.Statuses(),
	})
}

// ─── Module handlers ────────────────────────────────────────────────────────

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "module id is required")
		return
	}
	m, err := s.orch.RegisterModule(req.ID, req.Capabilities)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	m, err := s.orch.Heartbeat(chi.URLParam(r, "id"), req.Evolving)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	m, err := s.orch.ResetModule(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleGetModule(w http.ResponseWriter, r *http.Request) {
	m, err := s.orch.Module(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"modules": s.orch.Modules(),
	})
}

func (s *Server) handleAssignments(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.orch.Assignments(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"assignments": tasks,
	})
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	rec, err := s.orch.Performance(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ─── Task handlers ──────────────────────────────────────────────────────────

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	t := domain.Task{
		ID:           req.ID,
		RequiredCaps: req.RequiredCaps,
		Priority:     domain.PMedium,
	}
	if req.Priority != nil {
		t.Priority = *req.Priority
	}
	created, err := s.orch.Submit(r.Context(), t)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.orch.Task(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	status := domain.TaskStatus(r.URL.Query().Get("status"))
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"tasks": s.orch.Tasks(status),
	})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	t, err := s.orch.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	out := domain.Outcome{
		TaskID:            chi.URLParam(r, "id"),
		ModuleID:          req.ModuleID,
		Success:           req.Success,
		CompletionSeconds: req.CompletionSeconds,
		CrossDomain:       req.CrossDomain,
		Confidence:        req.Confidence,
		Error:             req.Error,
	}
	t, err := s.orch.ReportOutcome(r.Context(), out)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
