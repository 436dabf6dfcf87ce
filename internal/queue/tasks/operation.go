package tasks

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/opsforge/engine/internal/models"
	"github.com/opsforge/engine/internal/orchestrator"
	"github.com/opsforge/engine/internal/repository"
	"github.com/opsforge/engine/internal/services"
	"github.com/opsforge/engine/pkg/logger"
	"go.uber.org/zap"
)

// OperationTaskHandler executes operation:run tasks.
type OperationTaskHandler struct {
	orch *orchestrator.Orchestrator
}

func NewOperationTaskHandler(orch *orchestrator.Orchestrator) *OperationTaskHandler {
	return &OperationTaskHandler{orch: orch}
}

func (h *OperationTaskHandler) HandleOperationRun(ctx context.Context, t *asynq.Task) error {
	var p services.OperationRunPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		logger.L().Error("invalid operation task payload", zap.Error(err))
		return err
	}
	id, err := uuid.Parse(p.OperationID)
	if err != nil {
		logger.L().Error("invalid operation id in task", zap.Error(err))
		return err
	}

	logger.L().Info("handling operation task", zap.String("operation_id", id.String()))
	// Execution errors are already recorded on the operation; returning them
	// to asynq would only trigger retries the lifecycle forbids.
	if err := h.orch.ExecuteOperation(ctx, id); err != nil {
		logger.L().Error("operation execution failed", zap.Error(err), zap.String("operation_id", id.String()))
	}
	return nil
}

// TypeDriftSweep is the periodic task scheduling drift checks.
const TypeDriftSweep = "drift:sweep"

// DriftSweeper periodically requests a drift check for every deployment in a
// steady state. Deployments with an operation already in flight are skipped
// by the usual serialization rule.
type DriftSweeper struct {
	deployments repository.DeploymentRepository
	operations  services.OperationService
}

func NewDriftSweeper(deployments repository.DeploymentRepository, operations services.OperationService) *DriftSweeper {
	return &DriftSweeper{deployments: deployments, operations: operations}
}

// Sweep enqueues one drift operation per ready deployment.
func (s *DriftSweeper) Sweep(ctx context.Context) {
	deps, err := s.deployments.ListByStatus(ctx, models.DeploymentReady)
	if err != nil {
		logger.L().Error("drift sweep list failed", zap.Error(err))
		return
	}
	for _, d := range deps {
		if _, err := s.operations.RequestDrift(ctx, d.Name); err != nil {
			logger.L().Debug("drift sweep skipped deployment", zap.String("deployment", d.Name), zap.Error(err))
		}
	}
	if len(deps) > 0 {
		logger.L().Info("drift sweep completed", zap.Int("deployments", len(deps)))
	}
}

// HandleDriftSweep runs one sweep pass as an asynq task.
func (s *DriftSweeper) HandleDriftSweep(ctx context.Context, t *asynq.Task) error {
	s.Sweep(ctx)
	return nil
}
