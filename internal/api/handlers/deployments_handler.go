package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opsforge/engine/internal/api/types"
	"github.com/opsforge/engine/internal/services"
)

type DeploymentsHandler struct {
	deployments services.DeploymentService
}

func NewDeploymentsHandler(deployments services.DeploymentService) *DeploymentsHandler {
	return &DeploymentsHandler{deployments: deployments}
}

func (h *DeploymentsHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.deployments.ListDeployments(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: items})
}

func (h *DeploymentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	dep, err := h.deployments.GetDeployment(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: dep})
}

func (h *DeploymentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var input services.CreateDeploymentInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid json")
		return
	}
	dep, err := h.deployments.CreateDeployment(r.Context(), &input)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.APIResponse{Success: true, Data: dep})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAppError(w http.ResponseWriter, err error) {
	writeJSON(w, types.StatusFor(err), types.APIResponse{Success: false, Error: types.FromAppError(err)})
}

func writeErrorStr(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, types.APIResponse{Success: false, Error: &types.APIError{Code: "invalid", Message: msg}})
}
