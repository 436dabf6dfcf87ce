package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opsforge/engine/internal/api/types"
	"github.com/opsforge/engine/internal/services"
)

type DriftHandler struct {
	drift      services.DriftService
	operations services.OperationService
}

func NewDriftHandler(drift services.DriftService, operations services.OperationService) *DriftHandler {
	return &DriftHandler{drift: drift, operations: operations}
}

// Check schedules a drift check operation for the deployment.
func (h *DriftHandler) Check(w http.ResponseWriter, r *http.Request) {
	op, err := h.operations.RequestDrift(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.APIResponse{Success: true, Data: op})
}

func (h *DriftHandler) Latest(w http.ResponseWriter, r *http.Request) {
	result, err := h.drift.LatestDrift(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: result})
}

func (h *DriftHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.drift.ListDrift(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: items})
}
