package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/shehryarbajwa/smokeharness/internal/maintenance"
	"github.com/shehryarbajwa/smokeharness/pkg/models"
)

type Resetter interface {
	ResetAutoSave(ctx context.Context) (models.ResetOutcome, error)
}

type Sanitizer interface {
	Sanitize(ctx context.Context) models.SanitizeResult
}

// MaintenanceHandler serves the reset and sanitation utilities
type MaintenanceHandler struct {
	resetter  Resetter
	sanitizer Sanitizer
	logger    *zap.Logger
}

// NewMaintenanceHandler serves the reset and sanitize endpoints
func NewMaintenanceHandler(resetter Resetter, sanitizer Sanitizer, logger *zap.Logger) *MaintenanceHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MaintenanceHandler{
		resetter:  resetter,
		sanitizer: sanitizer,
		logger:    logger,
	}
}

// Reset handles POST /v1/maintenance/reset
func (h *MaintenanceHandler) Reset(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.resetter.ResetAutoSave(r.Context())
	if err != nil {
		h.logger.Warn("reset failed", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

// Sanitize handles POST /v1/maintenance/sanitize. Remaining processes are
// reported in the body, not as an error status.
func (h *MaintenanceHandler) Sanitize(w http.ResponseWriter, r *http.Request) {
	result := h.sanitizer.Sanitize(r.Context())

	resp := struct {
		models.SanitizeResult
		Warning string `json:"warning,omitempty"`
	}{SanitizeResult: result}
	if err := maintenance.Warning(result); err != nil {
		resp.Warning = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}
