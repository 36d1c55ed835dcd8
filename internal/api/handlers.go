package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/shehryarbajwa/smokeharness/internal/store"
	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

// ErrInvalidRequest marks a run request the service rejected
var ErrInvalidRequest = errors.New("invalid run request")

// Runs starts runs and serves their history
type Runs interface {
	Start(req models.RunRequest) (models.RunStatus, error)
	Status(id string) (models.RunStatus, bool)
	Get(ctx context.Context, id string) (*models.RunReport, error)
	List(ctx context.Context, limit int) ([]store.Summary, error)
}

// Sessions exposes the live browser sessions
type Sessions interface {
	Get(id string) (models.Session, error)
	List(runID string, status models.SessionStatus) []models.Session
	Close(id string) error
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	runs     Runs
	sessions Sessions
	logger   *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(runs Runs, sessions Sessions, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		runs:     runs,
		sessions: sessions,
		logger:   logger,
	}
}

// StartRun handles POST /v1/runs
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req models.RunRequest

	// an empty body runs the configured defaults
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	status, err := h.runs.Start(req)
	if err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidRequest) {
			code = http.StatusBadRequest
		}
		writeError(w, code, err.Error())
		return
	}

	h.logger.Info("run started via api", zap.String("run", status.ID))
	w.Header().Set("Location", "/v1/runs/"+status.ID)
	writeJSON(w, http.StatusAccepted, status)
}

// GetRun handles GET /v1/runs/{id}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if status, ok := h.runs.Status(id); ok && status.State == models.RunRunning {
		writeJSON(w, http.StatusOK, status)
		return
	}

	report, err := h.runs.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		if status, ok := h.runs.Status(id); ok {
			writeJSON(w, http.StatusOK, status)
			return
		}
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// ListRuns handles GET /v1/runs
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := h.runs.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetSession handles GET /v1/sessions/{id}
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	session, err := h.sessions.Get(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// ListSessions handles GET /v1/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("runId")
	status := models.SessionStatus(r.URL.Query().Get("status"))

	sessions := h.sessions.List(runID, status)
	if sessions == nil {
		sessions = []models.Session{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// DeleteSession handles DELETE /v1/sessions/{id}
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.sessions.Close(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
