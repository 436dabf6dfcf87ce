package orchestrator

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/opsforge/engine/internal/models"
	"github.com/opsforge/engine/internal/repository"
	"github.com/opsforge/engine/internal/runner"
	appErr "github.com/opsforge/engine/pkg/errors"
	"github.com/opsforge/engine/pkg/logger"
)

func TestMain(m *testing.M) {
	_, err := logger.Init("info", "json")
	if err != nil {
		panic("failed to init logger: " + err.Error())
	}
	os.Exit(m.Run())
}

// fakeRunner scripts process outcomes per subcommand and records every
// invocation.
type fakeRunner struct {
	calls   []runner.Cmd
	exits   map[string]int
	errs    map[string]error
	capture []byte
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{exits: map[string]int{}, errs: map[string]error{}}
}

func (f *fakeRunner) sub(c runner.Cmd) string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[0]
}

func (f *fakeRunner) Run(ctx context.Context, c runner.Cmd, buf *runner.LogBuffer) (int, error) {
	f.calls = append(f.calls, c)
	sub := f.sub(c)
	buf.Append(runner.StreamStdout, "running "+sub)
	return f.exits[sub], f.errs[sub]
}

func (f *fakeRunner) RunCapture(ctx context.Context, c runner.Cmd, buf *runner.LogBuffer) ([]byte, int, error) {
	f.calls = append(f.calls, c)
	sub := f.sub(c)
	return f.capture, f.exits[sub], f.errs[sub]
}

type mockTemplateRepo struct {
	mock.Mock
	repository.TemplateRepository
}

func (m *mockTemplateRepo) GetByID(ctx context.Context, id uuid.UUID, dest *models.Template) error {
	args := m.Called(ctx, id, dest)
	return args.Error(0)
}

type mockDeploymentRepo struct {
	mock.Mock
	repository.DeploymentRepository
}

func (m *mockDeploymentRepo) GetByID(ctx context.Context, id uuid.UUID, dest *models.Deployment) error {
	args := m.Called(ctx, id, dest)
	return args.Error(0)
}

func (m *mockDeploymentRepo) UpdateStatus(ctx context.Context, deploymentID uuid.UUID, status string) error {
	args := m.Called(ctx, deploymentID, status)
	return args.Error(0)
}

type mockOperationRepo struct {
	mock.Mock
	repository.OperationRepository
}

func (m *mockOperationRepo) GetByID(ctx context.Context, id uuid.UUID, dest *models.Operation) error {
	args := m.Called(ctx, id, dest)
	return args.Error(0)
}

func (m *mockOperationRepo) MarkRunning(ctx context.Context, operationID uuid.UUID, startedAt time.Time) error {
	args := m.Called(ctx, operationID, startedAt)
	return args.Error(0)
}

func (m *mockOperationRepo) Finish(ctx context.Context, operationID uuid.UUID, status string, exitCode *int, logs []byte, finishedAt time.Time) error {
	args := m.Called(ctx, operationID, status, exitCode, logs, finishedAt)
	return args.Error(0)
}

type mockDriftRepo struct {
	mock.Mock
	repository.DriftRepository
}

func (m *mockDriftRepo) Create(ctx context.Context, result *models.DriftResult) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}

func (m *mockDriftRepo) Update(ctx context.Context, result *models.DriftResult) error {
	args := m.Called(ctx, result)
	return args.Error(0)
}

type fixture struct {
	orch      *Orchestrator
	run       *fakeRunner
	templates *mockTemplateRepo
	deps      *mockDeploymentRepo
	ops       *mockOperationRepo
	drifts    *mockDriftRepo

	dep models.Deployment
	op  models.Operation
	tpl models.Template
}

func newFixture(t *testing.T, kind string) *fixture {
	f := &fixture{
		run:       newFakeRunner(),
		templates: new(mockTemplateRepo),
		deps:      new(mockDeploymentRepo),
		ops:       new(mockOperationRepo),
		drifts:    new(mockDriftRepo),
	}
	f.tpl = models.Template{
		ID:            uuid.New(),
		Name:          "vpc-base",
		TerraformCode: `resource "null_resource" "a" {}`,
	}
	f.dep = models.Deployment{
		ID:         uuid.New(),
		Name:       "web-1",
		TemplateID: f.tpl.ID,
		Status:     models.DeploymentPending,
	}
	f.op = models.Operation{
		ID:           uuid.New(),
		DeploymentID: f.dep.ID,
		Kind:         kind,
		Status:       models.OpPending,
	}
	f.orch = New(Options{TerraformBin: "terraform", BaseDir: t.TempDir()},
		f.run, f.templates, f.deps, f.ops, f.drifts, nil)

	f.ops.On("GetByID", mock.Anything, f.op.ID, mock.Anything).Run(func(args mock.Arguments) {
		*args.Get(2).(*models.Operation) = f.op
	}).Return(nil)
	f.deps.On("GetByID", mock.Anything, f.dep.ID, mock.Anything).Run(func(args mock.Arguments) {
		*args.Get(2).(*models.Deployment) = f.dep
	}).Return(nil)
	f.templates.On("GetByID", mock.Anything, f.tpl.ID, mock.Anything).Run(func(args mock.Arguments) {
		*args.Get(2).(*models.Template) = f.tpl
	}).Return(nil)
	f.ops.On("MarkRunning", mock.Anything, f.op.ID, mock.Anything).Return(nil)
	f.ops.On("Finish", mock.Anything, f.op.ID, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.deps.On("UpdateStatus", mock.Anything, f.dep.ID, mock.Anything).Return(nil)
	return f
}

func TestExecutePlanSuccess(t *testing.T) {
	f := newFixture(t, models.OpPlan)
	f.run.exits["plan"] = 2 // changes present is a successful plan

	err := f.orch.ExecuteOperation(context.Background(), f.op.ID)
	require.NoError(t, err)

	require.Len(t, f.run.calls, 2)
	require.Equal(t, "init", f.run.calls[0].Args[0])
	require.Equal(t, "plan", f.run.calls[1].Args[0])

	dir := filepath.Join(f.orch.baseDir, f.dep.Name)
	code, err := os.ReadFile(filepath.Join(dir, mainFile))
	require.NoError(t, err)
	require.Contains(t, string(code), "null_resource")

	f.ops.AssertCalled(t, "Finish", mock.Anything, f.op.ID, models.OpSuccess, mock.Anything, mock.Anything, mock.Anything)
	f.deps.AssertCalled(t, "UpdateStatus", mock.Anything, f.dep.ID, models.DeploymentPlanning)
	f.deps.AssertCalled(t, "UpdateStatus", mock.Anything, f.dep.ID, models.DeploymentPlanned)
}

func TestExecuteApplyWithoutPlanFails(t *testing.T) {
	f := newFixture(t, models.OpApply)

	err := f.orch.ExecuteOperation(context.Background(), f.op.ID)
	require.Error(t, err)
	require.True(t, appErr.IsCode(err, appErr.CodeNoPlan))

	// precondition failed before any process could spawn
	require.Empty(t, f.run.calls)
	f.ops.AssertCalled(t, "Finish", mock.Anything, f.op.ID, models.OpError, mock.Anything, mock.Anything, mock.Anything)
	f.deps.AssertCalled(t, "UpdateStatus", mock.Anything, f.dep.ID, models.DeploymentError)
}

func TestExecuteApplyConsumesArtifact(t *testing.T) {
	f := newFixture(t, models.OpApply)

	dir := filepath.Join(f.orch.baseDir, f.dep.Name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, planArtifact), []byte("plan"), 0o644))

	err := f.orch.ExecuteOperation(context.Background(), f.op.ID)
	require.NoError(t, err)

	require.Len(t, f.run.calls, 1)
	require.Equal(t, "apply", f.run.calls[0].Args[0])
	require.Contains(t, strings.Join(f.run.calls[0].Args, " "), planArtifact)

	// artifact is single-use: the next apply needs a fresh plan
	_, statErr := os.Stat(filepath.Join(dir, planArtifact))
	require.True(t, os.IsNotExist(statErr))
	f.deps.AssertCalled(t, "UpdateStatus", mock.Anything, f.dep.ID, models.DeploymentReady)
}

func TestExecuteSkipsTerminalOperation(t *testing.T) {
	f := newFixture(t, models.OpPlan)
	f.op.Status = models.OpSuccess

	err := f.orch.ExecuteOperation(context.Background(), f.op.ID)
	require.NoError(t, err)
	require.Empty(t, f.run.calls)
	f.ops.AssertNotCalled(t, "MarkRunning", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecuteDriftCleanCompletes(t *testing.T) {
	f := newFixture(t, models.OpDrift)
	f.run.capture = []byte(`{"format_version":"1.2","resource_changes":[]}`)
	f.drifts.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.drifts.On("Update", mock.Anything, mock.Anything).Return(nil)

	err := f.orch.ExecuteOperation(context.Background(), f.op.ID)
	require.NoError(t, err)

	f.drifts.AssertCalled(t, "Create", mock.Anything, mock.MatchedBy(func(r *models.DriftResult) bool {
		return r.DeploymentID == f.dep.ID && r.OperationID == f.op.ID
	}))
	f.drifts.AssertCalled(t, "Update", mock.Anything, mock.MatchedBy(func(r *models.DriftResult) bool {
		return r.Status == models.DriftCompleted && r.DriftedResources == 0
	}))

	// drift checks never move the deployment's lifecycle status
	f.deps.AssertNotCalled(t, "UpdateStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecuteDriftParseFailureRecorded(t *testing.T) {
	f := newFixture(t, models.OpDrift)
	f.run.capture = []byte("not json")
	f.drifts.On("Create", mock.Anything, mock.Anything).Return(nil)
	f.drifts.On("Update", mock.Anything, mock.Anything).Return(nil)

	err := f.orch.ExecuteOperation(context.Background(), f.op.ID)
	require.NoError(t, err)

	f.drifts.AssertCalled(t, "Update", mock.Anything, mock.MatchedBy(func(r *models.DriftResult) bool {
		return r.Status == models.DriftFailed
	}))
}

func TestLiveLogsOnlyWhileRunning(t *testing.T) {
	f := newFixture(t, models.OpPlan)
	f.run.exits["plan"] = 0

	_, ok := f.orch.LiveLogs(f.op.ID, 0)
	require.False(t, ok)

	require.NoError(t, f.orch.ExecuteOperation(context.Background(), f.op.ID))

	// finished operations serve logs from storage, not the live registry
	_, ok = f.orch.LiveLogs(f.op.ID, 0)
	require.False(t, ok)
}
