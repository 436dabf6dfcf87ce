package orchestrator

import (
	"github.com/google/uuid"
	"github.com/opsforge/engine/internal/models"
	"github.com/opsforge/engine/internal/runner"
)

// Notifier receives live progress events from running operations. The
// realtime layer implements it; delivery is best-effort and must never block
// or fail an operation.
type Notifier interface {
	OperationLog(operationID uuid.UUID, line runner.Line)
	OperationStatus(operationID uuid.UUID, deployment, kind, status string)
	DeploymentUpdate(deployment, status string)
	DriftDetected(deployment string, result *models.DriftResult)
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) OperationLog(uuid.UUID, runner.Line)               {}
func (NopNotifier) OperationStatus(uuid.UUID, string, string, string) {}
func (NopNotifier) DeploymentUpdate(string, string)                   {}
func (NopNotifier) DriftDetected(string, *models.DriftResult)         {}
