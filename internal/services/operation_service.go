package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/opsforge/engine/internal/models"
	"github.com/opsforge/engine/internal/repository"
	"github.com/opsforge/engine/internal/runner"
	appErr "github.com/opsforge/engine/pkg/errors"
	"github.com/opsforge/engine/pkg/logger"
	"go.uber.org/zap"
)

// TypeOperationRun is the asynq task type executing one operation.
const TypeOperationRun = "operation:run"

// OperationRunPayload is the task payload for operation:run.
type OperationRunPayload struct {
	OperationID string `json:"operation_id"`
}

// PlanGate answers whether a deployment currently holds a reviewed plan
// artifact. Implemented by the orchestrator.
type PlanGate interface {
	HasPlanArtifact(dep *models.Deployment) bool
	LiveLogs(operationID uuid.UUID, seq int) ([]runner.Line, bool)
}

// OperationService creates operations and enforces their preconditions.
// All precondition errors happen here, synchronously, before any process can
// spawn: template_not_found, no_plan, operation_in_progress.
type OperationService interface {
	RequestPlan(ctx context.Context, deployment string) (*models.Operation, error)
	RequestApply(ctx context.Context, deployment string) (*models.Operation, error)
	RequestDestroy(ctx context.Context, deployment string) (*models.Operation, error)
	RequestDrift(ctx context.Context, deployment string) (*models.Operation, error)
	GetOperation(ctx context.Context, operationID uuid.UUID) (*models.Operation, error)
	OperationLogs(ctx context.Context, operationID uuid.UUID, sinceSeq int) ([]runner.Line, error)
	ListByDeployment(ctx context.Context, deployment string) ([]models.Operation, error)
}

type operationService struct {
	deployments repository.DeploymentRepository
	operations  repository.OperationRepository
	templates   repository.TemplateRepository
	gate        PlanGate
	asynqClient *asynq.Client
}

func NewOperationService(deployments repository.DeploymentRepository, operations repository.OperationRepository, templates repository.TemplateRepository, gate PlanGate, client *asynq.Client) OperationService {
	return &operationService{
		deployments: deployments,
		operations:  operations,
		templates:   templates,
		gate:        gate,
		asynqClient: client,
	}
}

var _ OperationService = (*operationService)(nil)

func (s *operationService) RequestPlan(ctx context.Context, deployment string) (*models.Operation, error) {
	return s.request(ctx, deployment, models.OpPlan)
}

func (s *operationService) RequestApply(ctx context.Context, deployment string) (*models.Operation, error) {
	return s.request(ctx, deployment, models.OpApply)
}

func (s *operationService) RequestDestroy(ctx context.Context, deployment string) (*models.Operation, error) {
	return s.request(ctx, deployment, models.OpDestroy)
}

func (s *operationService) RequestDrift(ctx context.Context, deployment string) (*models.Operation, error) {
	return s.request(ctx, deployment, models.OpDrift)
}

func (s *operationService) request(ctx context.Context, deployment, kind string) (*models.Operation, error) {
	var dep models.Deployment
	if err := s.deployments.GetByName(ctx, deployment, &dep); err != nil {
		return nil, err
	}

	// The working directory and the tool's lock file are shared mutable
	// state: one non-terminal operation per deployment, drift included.
	// This count is a fast-path rejection; the authoritative guard is the
	// partial unique index behind operations.Create, which turns the losing
	// insert of a race into the same operation_in_progress error.
	active, err := s.operations.CountActive(ctx, dep.ID)
	if err != nil {
		return nil, err
	}
	if active > 0 {
		return nil, appErr.New(appErr.CodeOperationInProgress, "an operation is already in progress for deployment").
			WithMeta("deployment", dep.Name)
	}

	switch kind {
	case models.OpPlan, models.OpDrift:
		var tpl models.Template
		if err := s.templates.GetByID(ctx, dep.TemplateID, &tpl); err != nil {
			if appErr.IsCode(err, appErr.CodeNotFound) {
				return nil, appErr.New(appErr.CodeTemplateNotFound, "template not found").
					WithMeta("template_id", dep.TemplateID.String())
			}
			return nil, err
		}
	case models.OpApply:
		if !s.gate.HasPlanArtifact(&dep) {
			return nil, appErr.New(appErr.CodeNoPlan, "apply requires a prior successful plan").
				WithMeta("deployment", dep.Name)
		}
	}

	op := &models.Operation{
		DeploymentID: dep.ID,
		Kind:         kind,
		Status:       models.OpPending,
		StartedAt:    time.Now().UTC(),
	}
	if err := s.operations.Create(ctx, op); err != nil {
		return nil, err
	}

	if err := s.enqueue(ctx, op); err != nil {
		exitCode := -1
		_ = s.operations.Finish(ctx, op.ID, models.OpError, &exitCode, []byte("[]"), time.Now().UTC())
		return nil, err
	}

	logger.L().Info("operation requested",
		zap.String("operation_id", op.ID.String()),
		zap.String("deployment", dep.Name),
		zap.String("kind", kind),
	)
	return op, nil
}

func (s *operationService) enqueue(ctx context.Context, op *models.Operation) error {
	if s.asynqClient == nil {
		logger.L().Warn("asynq client not configured, skipping enqueue", zap.String("operation_id", op.ID.String()))
		return nil
	}
	pb, _ := json.Marshal(OperationRunPayload{OperationID: op.ID.String()})
	task := asynq.NewTask(TypeOperationRun, pb, asynq.MaxRetry(0))
	if _, err := s.asynqClient.EnqueueContext(ctx, task); err != nil {
		logger.L().Error("enqueue operation task failed", zap.Error(err), zap.String("operation_id", op.ID.String()))
		return appErr.Wrap(err, appErr.CodeUnavailable, "enqueue operation failed")
	}
	return nil
}

func (s *operationService) GetOperation(ctx context.Context, operationID uuid.UUID) (*models.Operation, error) {
	var op models.Operation
	if err := s.operations.GetByID(ctx, operationID, &op); err != nil {
		return nil, err
	}
	return &op, nil
}

// OperationLogs returns the operation's lines after sinceSeq: live from the
// in-memory buffer while the operation runs, from the persisted record once
// terminal.
func (s *operationService) OperationLogs(ctx context.Context, operationID uuid.UUID, sinceSeq int) ([]runner.Line, error) {
	if s.gate != nil {
		if lines, ok := s.gate.LiveLogs(operationID, sinceSeq); ok {
			return lines, nil
		}
	}

	var op models.Operation
	if err := s.operations.GetByID(ctx, operationID, &op); err != nil {
		return nil, err
	}
	if len(op.Logs) == 0 {
		return nil, nil
	}
	var all []runner.Line
	if err := json.Unmarshal(op.Logs, &all); err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "decode operation logs failed")
	}
	var out []runner.Line
	for _, l := range all {
		if l.Seq > sinceSeq {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *operationService) ListByDeployment(ctx context.Context, deployment string) ([]models.Operation, error) {
	var dep models.Deployment
	if err := s.deployments.GetByName(ctx, deployment, &dep); err != nil {
		return nil, err
	}
	return s.operations.ListByDeployment(ctx, dep.ID)
}
