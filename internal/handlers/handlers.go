// Package handlers wires HTTP routes to run service operations.
package handlers

// File: internal/handlers/handlers.go
// Purpose: HTTP handlers for /runs, /runs/{id}/..., /health.

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"perf-api-go/internal/apperr"
	"perf-api-go/internal/models"
	"perf-api-go/internal/services"
)

// RunAPI is the slice of *services.RunService the handlers call.
type RunAPI interface {
	CreateRun(ctx context.Context, req models.RunRequest) (*models.CreateRunResponse, *services.Handle, error)
	ListRuns(ctx context.Context) ([]models.RunListItem, error)
	GetRun(ctx context.Context, runID string) (*models.RunView, error)
	GetAnalysis(ctx context.Context, runID string) (*models.AnalysisView, error)
	Reanalyze(ctx context.Context, runID string) (*services.Handle, error)
	DeleteRun(ctx context.Context, runID string) error
	RunState(runID string) (services.StateView, bool)
	Health(ctx context.Context) models.HealthReport
}

// Handler groups HTTP handlers for run operations.
type Handler struct {
	runs RunAPI
	log  *zap.Logger
}

// New returns a Handler wired to a RunService.
func New(runs RunAPI, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{runs: runs, log: log}
}

// Register attaches routes to the provided router.
func (h *Handler) Register(r chi.Router) {
	r.Get("/health", h.health)
	r.Route("/runs", func(r chi.Router) {
		r.Post("/", h.createRun)
		r.Get("/", h.listRuns)
		r.Get("/{id}", h.getRun)
		r.Delete("/{id}", h.deleteRun)
		r.Get("/{id}/analysis", h.getAnalysis)
		r.Post("/{id}/reanalyze", h.reanalyze)
		r.Get("/{id}/state", h.getState)
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	report := h.runs.Health(r.Context())
	status := http.StatusOK
	if report.Database != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (h *Handler) createRun(w http.ResponseWriter, r *http.Request) {
	var req models.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	resp, _, err := h.runs.CreateRun(r.Context(), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := h.runs.ListRuns(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (h *Handler) getRun(w http.ResponseWriter, r *http.Request) {
	view, err := h.runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) getAnalysis(w http.ResponseWriter, r *http.Request) {
	view, err := h.runs.GetAnalysis(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) reanalyze(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	handle, err := h.runs.Reanalyze(r.Context(), runID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	body := map[string]any{"run_id": runID, "message": "analysis scheduled"}
	if handle != nil {
		body["state"] = handle.State()
	}
	writeJSON(w, http.StatusAccepted, body)
}

func (h *Handler) deleteRun(w http.ResponseWriter, r *http.Request) {
	if err := h.runs.DeleteRun(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getState(w http.ResponseWriter, r *http.Request) {
	view, ok := h.runs.RunState(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "run not tracked by this process"})
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindCanceled:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", zap.Error(err))
	}
	body := map[string]any{"error": err.Error()}
	if kind := apperr.KindOf(err); kind != "" {
		body["kind"] = kind
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
