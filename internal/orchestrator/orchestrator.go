package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opsforge/engine/internal/models"
	"github.com/opsforge/engine/internal/repository"
	"github.com/opsforge/engine/internal/runner"
	tf "github.com/opsforge/engine/internal/terraform"
	appErr "github.com/opsforge/engine/pkg/errors"
	"github.com/opsforge/engine/pkg/logger"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// ProcessRunner abstracts the child-process runner for testing.
type ProcessRunner interface {
	Run(ctx context.Context, c runner.Cmd, buf *runner.LogBuffer) (int, error)
	RunCapture(ctx context.Context, c runner.Cmd, buf *runner.LogBuffer) ([]byte, int, error)
}

// Orchestrator owns the plan/apply/destroy/drift state machine for
// deployments. Every operation runs one external tool invocation chain
// inside the deployment's durable working directory; the one-non-terminal-
// operation-per-deployment invariant is enforced before execution is ever
// scheduled (see services.OperationService).
type Orchestrator struct {
	bin     string
	baseDir string
	env     map[string]string

	run         ProcessRunner
	templates   repository.TemplateRepository
	deployments repository.DeploymentRepository
	operations  repository.OperationRepository
	drifts      repository.DriftRepository
	notify      Notifier

	mu   sync.Mutex
	live map[uuid.UUID]*runner.LogBuffer
}

type Options struct {
	TerraformBin string
	BaseDir      string
	// Env is the execution environment supplied by the credential provider
	// (region, role), passed through to every tool invocation.
	Env map[string]string
}

func New(opts Options, run ProcessRunner, templates repository.TemplateRepository, deployments repository.DeploymentRepository, operations repository.OperationRepository, drifts repository.DriftRepository, notify Notifier) *Orchestrator {
	if notify == nil {
		notify = NopNotifier{}
	}
	return &Orchestrator{
		bin:         opts.TerraformBin,
		baseDir:     opts.BaseDir,
		env:         opts.Env,
		run:         run,
		templates:   templates,
		deployments: deployments,
		operations:  operations,
		drifts:      drifts,
		notify:      notify,
		live:        map[uuid.UUID]*runner.LogBuffer{},
	}
}

// LiveLogs returns buffered lines after seq for a currently running
// operation. The second return is false once the operation has finished and
// its logs moved to durable storage.
func (o *Orchestrator) LiveLogs(operationID uuid.UUID, seq int) ([]runner.Line, bool) {
	o.mu.Lock()
	buf, ok := o.live[operationID]
	o.mu.Unlock()
	if !ok {
		return nil, false
	}
	return buf.Since(seq), true
}

// ExecuteOperation drives one operation to a terminal state. A running
// operation always runs to completion or process failure; there is no
// mid-flight cancellation. Redelivery of an already-terminal operation is a
// no-op.
func (o *Orchestrator) ExecuteOperation(ctx context.Context, operationID uuid.UUID) error {
	var op models.Operation
	if err := o.operations.GetByID(ctx, operationID, &op); err != nil {
		return err
	}
	if op.Terminal() {
		logger.L().Warn("operation already terminal, skipping", zap.String("operation_id", op.ID.String()))
		return nil
	}

	var dep models.Deployment
	if err := o.deployments.GetByID(ctx, op.DeploymentID, &dep); err != nil {
		return err
	}

	buf := runner.NewLogBuffer()
	buf.OnAppend(func(l runner.Line) { o.notify.OperationLog(op.ID, l) })
	o.mu.Lock()
	o.live[op.ID] = buf
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.live, op.ID)
		o.mu.Unlock()
	}()

	if err := o.operations.MarkRunning(ctx, op.ID, time.Now().UTC()); err != nil {
		return err
	}
	o.notify.OperationStatus(op.ID, dep.Name, op.Kind, models.OpRunning)
	o.setDeploymentStatus(ctx, &dep, transitionalStatus(op.Kind, dep.Status))

	logger.L().Info("operation started",
		zap.String("operation_id", op.ID.String()),
		zap.String("deployment", dep.Name),
		zap.String("kind", op.Kind),
	)

	var exitCode int
	var runErr error
	switch op.Kind {
	case models.OpPlan:
		exitCode, runErr = o.plan(ctx, &dep, buf, planArtifact)
	case models.OpApply:
		exitCode, runErr = o.apply(ctx, &dep, buf)
	case models.OpDestroy:
		exitCode, runErr = o.destroy(ctx, &dep, buf)
	case models.OpDrift:
		exitCode, runErr = o.drift(ctx, &dep, &op, buf)
	default:
		runErr = appErr.New(appErr.CodeInvalid, "unknown operation kind "+op.Kind)
	}

	status := models.OpSuccess
	if runErr != nil {
		status = models.OpError
	}

	logs, _ := json.Marshal(buf)
	if err := o.operations.Finish(ctx, op.ID, status, &exitCode, logs, time.Now().UTC()); err != nil {
		logger.L().Error("persist operation outcome failed", zap.Error(err), zap.String("operation_id", op.ID.String()))
	}
	o.notify.OperationStatus(op.ID, dep.Name, op.Kind, status)
	o.setDeploymentStatus(ctx, &dep, terminalDeploymentStatus(op.Kind, runErr == nil, dep.Status))

	if runErr != nil {
		logger.L().Error("operation failed",
			zap.Error(runErr),
			zap.String("operation_id", op.ID.String()),
			zap.String("deployment", dep.Name),
			zap.Int("exit_code", exitCode),
		)
		return runErr
	}
	logger.L().Info("operation succeeded",
		zap.String("operation_id", op.ID.String()),
		zap.String("deployment", dep.Name),
		zap.Int("exit_code", exitCode),
	)
	return nil
}

func transitionalStatus(kind, current string) string {
	switch kind {
	case models.OpPlan:
		return models.DeploymentPlanning
	case models.OpApply:
		return models.DeploymentApplying
	case models.OpDestroy:
		return models.DeploymentDestroying
	default:
		// Drift checks observe; they never change what the deployment is.
		return current
	}
}

func terminalDeploymentStatus(kind string, success bool, current string) string {
	switch kind {
	case models.OpPlan:
		if success {
			return models.DeploymentPlanned
		}
		return models.DeploymentError
	case models.OpApply:
		if success {
			return models.DeploymentReady
		}
		return models.DeploymentError
	case models.OpDestroy:
		if success {
			return models.DeploymentDestroyed
		}
		return models.DeploymentError
	default:
		return current
	}
}

func (o *Orchestrator) setDeploymentStatus(ctx context.Context, dep *models.Deployment, status string) {
	if status == dep.Status {
		return
	}
	if err := o.deployments.UpdateStatus(ctx, dep.ID, status); err != nil {
		logger.L().Error("update deployment status failed", zap.Error(err), zap.String("deployment", dep.Name))
		return
	}
	dep.Status = status
	o.notify.DeploymentUpdate(dep.Name, status)
}

func (o *Orchestrator) cmd(dir string, args ...string) runner.Cmd {
	return runner.Cmd{Path: o.bin, Args: args, Dir: dir, Env: o.env}
}

// plan materializes config and runs init then plan, writing the plan
// artifact under the given name. Exit code 2 (changes present) is success.
func (o *Orchestrator) plan(ctx context.Context, dep *models.Deployment, buf *runner.LogBuffer, artifact string) (int, error) {
	var tpl models.Template
	if err := o.templates.GetByID(ctx, dep.TemplateID, &tpl); err != nil {
		if appErr.IsCode(err, appErr.CodeNotFound) {
			return 0, appErr.New(appErr.CodeTemplateNotFound, "template not found").WithMeta("template_id", dep.TemplateID.String())
		}
		return 0, err
	}

	dir := o.workspacePath(dep)
	if err := o.materialize(dir, &tpl, dep); err != nil {
		return 0, err
	}

	if code, err := o.run.Run(ctx, o.cmd(dir, "init", "-input=false", "-no-color"), buf); err != nil {
		return code, appErr.Wrap(err, appErr.CodeInternal, "init failed")
	}

	code, err := o.run.Run(ctx, o.cmd(dir, "plan", "-input=false", "-no-color", "-detailed-exitcode", "-out="+artifact), buf)
	if err != nil && code != 2 {
		return code, appErr.Wrap(err, appErr.CodeInternal, "plan failed")
	}
	return code, nil
}

// apply consumes the exact artifact produced by the last successful plan; it
// never re-plans. The artifact is removed on success so the next apply
// requires a fresh plan.
func (o *Orchestrator) apply(ctx context.Context, dep *models.Deployment, buf *runner.LogBuffer) (int, error) {
	dir := o.workspacePath(dep)
	if !o.HasPlanArtifact(dep) {
		return 0, appErr.New(appErr.CodeNoPlan, "no plan artifact for deployment").WithMeta("deployment", dep.Name)
	}

	code, err := o.run.Run(ctx, o.cmd(dir, "apply", "-input=false", "-no-color", planArtifact), buf)
	if err != nil {
		return code, appErr.Wrap(err, appErr.CodeInternal, "apply failed")
	}
	_ = os.Remove(filepath.Join(dir, planArtifact))
	return code, nil
}

func (o *Orchestrator) destroy(ctx context.Context, dep *models.Deployment, buf *runner.LogBuffer) (int, error) {
	dir := o.workspacePath(dep)
	code, err := o.run.Run(ctx, o.cmd(dir, "destroy", "-auto-approve", "-input=false", "-no-color"), buf)
	if err != nil {
		return code, appErr.Wrap(err, appErr.CodeInternal, "destroy failed")
	}
	return code, nil
}

// drift runs a non-destructive plan against its own artifact name, parses
// the structured plan document, and records the drifted resources. Parse
// failures become a failed DriftResult, never an error past this boundary.
func (o *Orchestrator) drift(ctx context.Context, dep *models.Deployment, op *models.Operation, buf *runner.LogBuffer) (int, error) {
	result := &models.DriftResult{
		DeploymentID: dep.ID,
		OperationID:  op.ID,
		Status:       models.DriftInProgress,
		CheckedAt:    time.Now().UTC(),
	}
	if err := o.drifts.Create(ctx, result); err != nil {
		return 0, err
	}

	code, err := o.plan(ctx, dep, buf, driftArtifact)
	if err != nil {
		o.finishDrift(ctx, dep, result, models.DriftFailed, nil, nil)
		return code, err
	}

	raw, showCode, err := o.run.RunCapture(ctx, o.cmd(o.workspacePath(dep), "show", "-json", driftArtifact), buf)
	if err != nil {
		o.finishDrift(ctx, dep, result, models.DriftFailed, nil, nil)
		return showCode, appErr.Wrap(err, appErr.CodeInternal, "show plan failed")
	}

	doc, err := tf.ParsePlan(raw)
	if err != nil {
		buf.Append(runner.StreamStderr, "plan document parse failed: "+err.Error())
		o.finishDrift(ctx, dep, result, models.DriftFailed, nil, nil)
		return code, nil
	}

	drifted, sum := tf.ClassifyDrift(doc.Changes)
	o.finishDrift(ctx, dep, result, models.DriftCompleted, drifted, &sum)
	return code, nil
}

func (o *Orchestrator) finishDrift(ctx context.Context, dep *models.Deployment, result *models.DriftResult, status string, drifted []tf.ResourceChange, sum *tf.DriftSummary) {
	result.Status = status
	if drifted != nil {
		if b, err := json.Marshal(drifted); err == nil {
			result.ChangedResources = datatypes.JSON(b)
		}
	}
	if sum != nil {
		result.DriftedResources = sum.DriftedResources
		result.Created = sum.Created
		result.Updated = sum.Updated
		result.Deleted = sum.Deleted
		result.Replaced = sum.Replaced
	}
	if err := o.drifts.Update(ctx, result); err != nil {
		logger.L().Error("persist drift result failed", zap.Error(err), zap.String("deployment", dep.Name))
		return
	}
	if status != models.DriftInProgress {
		o.notify.DriftDetected(dep.Name, result)
	}
}
