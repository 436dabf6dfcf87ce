package orchestrator

import (
	"context"

	"github.com/opsforge/engine/internal/models"
	"github.com/opsforge/engine/internal/runner"
	tf "github.com/opsforge/engine/internal/terraform"
	appErr "github.com/opsforge/engine/pkg/errors"
	"github.com/opsforge/engine/pkg/logger"
	"go.uber.org/zap"
)

// GetState re-emits the deployment's current state as a typed document.
// A deployment that was never applied has no state; that is reported as
// not_found, which callers treat as a normal result.
func (o *Orchestrator) GetState(ctx context.Context, dep *models.Deployment) (*tf.StateDoc, error) {
	if !o.HasState(dep) {
		return nil, appErr.New(appErr.CodeNotFound, "deployment has no state").WithMeta("deployment", dep.Name)
	}
	raw, _, err := o.run.RunCapture(ctx, o.cmd(o.workspacePath(dep), "show", "-json"), nil)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "show state failed")
	}
	return tf.ParseState(raw)
}

// GetPlan forces structured re-emission of the last reviewed plan without
// re-planning.
func (o *Orchestrator) GetPlan(ctx context.Context, dep *models.Deployment) (*tf.PlanDoc, error) {
	if !o.HasPlanArtifact(dep) {
		return nil, appErr.New(appErr.CodeNoPlan, "no plan artifact for deployment").WithMeta("deployment", dep.Name)
	}
	raw, _, err := o.run.RunCapture(ctx, o.cmd(o.workspacePath(dep), "show", "-json", planArtifact), nil)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "show plan failed")
	}
	return tf.ParsePlan(raw)
}

// Resource-level single-shot invocations, each scoped to one address.

func (o *Orchestrator) ImportResource(ctx context.Context, dep *models.Deployment, address, id string) ([]runner.Line, error) {
	return o.resourceOp(ctx, dep, "import", address, id)
}

func (o *Orchestrator) TaintResource(ctx context.Context, dep *models.Deployment, address string) ([]runner.Line, error) {
	return o.resourceOp(ctx, dep, "taint", address)
}

func (o *Orchestrator) UntaintResource(ctx context.Context, dep *models.Deployment, address string) ([]runner.Line, error) {
	return o.resourceOp(ctx, dep, "untaint", address)
}

func (o *Orchestrator) resourceOp(ctx context.Context, dep *models.Deployment, sub string, extra ...string) ([]runner.Line, error) {
	buf := runner.NewLogBuffer()
	args := append([]string{sub, "-no-color"}, extra...)
	code, err := o.run.Run(ctx, o.cmd(o.workspacePath(dep), args...), buf)
	logger.L().Info("resource operation",
		zap.String("deployment", dep.Name),
		zap.String("op", sub),
		zap.Int("exit_code", code),
	)
	if err != nil {
		return buf.Since(0), appErr.Wrap(err, appErr.CodeInternal, sub+" failed")
	}
	return buf.Since(0), nil
}
