package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opsforge/engine/internal/api/types"
	"github.com/opsforge/engine/internal/models"
	"github.com/opsforge/engine/internal/services"
)

type OperationsHandler struct {
	operations services.OperationService
}

func NewOperationsHandler(operations services.OperationService) *OperationsHandler {
	return &OperationsHandler{operations: operations}
}

func (h *OperationsHandler) Plan(w http.ResponseWriter, r *http.Request) {
	h.request(w, r, h.operations.RequestPlan)
}

func (h *OperationsHandler) Apply(w http.ResponseWriter, r *http.Request) {
	h.request(w, r, h.operations.RequestApply)
}

func (h *OperationsHandler) Destroy(w http.ResponseWriter, r *http.Request) {
	h.request(w, r, h.operations.RequestDestroy)
}

func (h *OperationsHandler) request(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, deployment string) (*models.Operation, error)) {
	op, err := fn(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.APIResponse{Success: true, Data: op})
}

func (h *OperationsHandler) ListByDeployment(w http.ResponseWriter, r *http.Request) {
	items, err := h.operations.ListByDeployment(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: items})
}

func (h *OperationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid operation id")
		return
	}
	op, err := h.operations.GetOperation(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: op})
}

func (h *OperationsHandler) Logs(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid operation id")
		return
	}
	since, _ := strconv.Atoi(r.URL.Query().Get("since"))
	lines, err := h.operations.OperationLogs(r.Context(), id, since)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: lines})
}
