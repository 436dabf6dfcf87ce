package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opsforge/engine/internal/api/types"
	"github.com/opsforge/engine/internal/models"
	"github.com/opsforge/engine/internal/orchestrator"
	"github.com/opsforge/engine/internal/repository"
	"github.com/opsforge/engine/internal/runner"
)

// ResourcesHandler serves resource-level reads and surgical mutations
// (import, taint, untaint) against a deployment's workspace.
type ResourcesHandler struct {
	deployments repository.DeploymentRepository
	orch        *orchestrator.Orchestrator
}

func NewResourcesHandler(deployments repository.DeploymentRepository, orch *orchestrator.Orchestrator) *ResourcesHandler {
	return &ResourcesHandler{deployments: deployments, orch: orch}
}

func (h *ResourcesHandler) lookup(w http.ResponseWriter, r *http.Request) (*models.Deployment, bool) {
	var dep models.Deployment
	if err := h.deployments.GetByName(r.Context(), chi.URLParam(r, "name"), &dep); err != nil {
		writeAppError(w, err)
		return nil, false
	}
	return &dep, true
}

func (h *ResourcesHandler) State(w http.ResponseWriter, r *http.Request) {
	dep, ok := h.lookup(w, r)
	if !ok {
		return
	}
	state, err := h.orch.GetState(r.Context(), dep)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: state})
}

func (h *ResourcesHandler) Plan(w http.ResponseWriter, r *http.Request) {
	dep, ok := h.lookup(w, r)
	if !ok {
		return
	}
	plan, err := h.orch.GetPlan(r.Context(), dep)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: plan})
}

func (h *ResourcesHandler) Import(w http.ResponseWriter, r *http.Request) {
	dep, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		Address string `json:"address"`
		ID      string `json:"id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Address == "" || req.ID == "" {
		writeErrorStr(w, http.StatusBadRequest, "address and id are required")
		return
	}
	lines, err := h.orch.ImportResource(r.Context(), dep, req.Address, req.ID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: lines})
}

func (h *ResourcesHandler) Taint(w http.ResponseWriter, r *http.Request) {
	h.mark(w, r, h.orch.TaintResource)
}

func (h *ResourcesHandler) Untaint(w http.ResponseWriter, r *http.Request) {
	h.mark(w, r, h.orch.UntaintResource)
}

func (h *ResourcesHandler) mark(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, dep *models.Deployment, address string) ([]runner.Line, error)) {
	dep, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Address == "" {
		writeErrorStr(w, http.StatusBadRequest, "address is required")
		return
	}
	lines, err := fn(r.Context(), dep, req.Address)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: lines})
}
