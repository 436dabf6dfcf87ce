package services

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

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

type mockDeploymentRepo struct {
	mock.Mock
	repository.DeploymentRepository
}

func (m *mockDeploymentRepo) GetByName(ctx context.Context, name string, dest *models.Deployment) error {
	args := m.Called(ctx, name, dest)
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

func (m *mockOperationRepo) Create(ctx context.Context, op *models.Operation) error {
	args := m.Called(ctx, op)
	return args.Error(0)
}

func (m *mockOperationRepo) CountActive(ctx context.Context, deploymentID uuid.UUID) (int64, error) {
	args := m.Called(ctx, deploymentID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockOperationRepo) Finish(ctx context.Context, operationID uuid.UUID, status string, exitCode *int, logs []byte, finishedAt time.Time) error {
	args := m.Called(ctx, operationID, status, exitCode, logs, finishedAt)
	return args.Error(0)
}

type mockTemplateRepo struct {
	mock.Mock
	repository.TemplateRepository
}

func (m *mockTemplateRepo) GetByID(ctx context.Context, id uuid.UUID, dest *models.Template) error {
	args := m.Called(ctx, id, dest)
	return args.Error(0)
}

type fakeGate struct {
	hasPlan bool
	lines   []runner.Line
	live    bool
}

func (f *fakeGate) HasPlanArtifact(*models.Deployment) bool { return f.hasPlan }

func (f *fakeGate) LiveLogs(uuid.UUID, int) ([]runner.Line, bool) { return f.lines, f.live }

func testDeployment() models.Deployment {
	return models.Deployment{
		ID:         uuid.New(),
		Name:       "web-1",
		TemplateID: uuid.New(),
		Status:     models.DeploymentReady,
	}
}

func TestRequestPlanRejectsConcurrentOperation(t *testing.T) {
	dep := testDeployment()
	deps := new(mockDeploymentRepo)
	ops := new(mockOperationRepo)

	deps.On("GetByName", mock.Anything, "web-1", mock.Anything).Run(func(args mock.Arguments) {
		*args.Get(2).(*models.Deployment) = dep
	}).Return(nil)
	ops.On("CountActive", mock.Anything, dep.ID).Return(int64(1), nil)

	svc := NewOperationService(deps, ops, new(mockTemplateRepo), &fakeGate{}, nil)
	_, err := svc.RequestPlan(context.Background(), "web-1")
	require.Error(t, err)
	require.True(t, appErr.IsCode(err, appErr.CodeOperationInProgress))
	ops.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestRequestPlanMissingTemplate(t *testing.T) {
	dep := testDeployment()
	deps := new(mockDeploymentRepo)
	ops := new(mockOperationRepo)
	tpls := new(mockTemplateRepo)

	deps.On("GetByName", mock.Anything, "web-1", mock.Anything).Run(func(args mock.Arguments) {
		*args.Get(2).(*models.Deployment) = dep
	}).Return(nil)
	ops.On("CountActive", mock.Anything, dep.ID).Return(int64(0), nil)
	tpls.On("GetByID", mock.Anything, dep.TemplateID, mock.Anything).
		Return(appErr.New(appErr.CodeNotFound, "entity not found"))

	svc := NewOperationService(deps, ops, tpls, &fakeGate{}, nil)
	_, err := svc.RequestPlan(context.Background(), "web-1")
	require.Error(t, err)
	require.True(t, appErr.IsCode(err, appErr.CodeTemplateNotFound))
}

func TestRequestApplyRequiresPlanArtifact(t *testing.T) {
	dep := testDeployment()
	deps := new(mockDeploymentRepo)
	ops := new(mockOperationRepo)

	deps.On("GetByName", mock.Anything, "web-1", mock.Anything).Run(func(args mock.Arguments) {
		*args.Get(2).(*models.Deployment) = dep
	}).Return(nil)
	ops.On("CountActive", mock.Anything, dep.ID).Return(int64(0), nil)

	svc := NewOperationService(deps, ops, new(mockTemplateRepo), &fakeGate{hasPlan: false}, nil)
	_, err := svc.RequestApply(context.Background(), "web-1")
	require.Error(t, err)
	require.True(t, appErr.IsCode(err, appErr.CodeNoPlan))
	ops.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestRequestDestroyConcurrentInsertRejected(t *testing.T) {
	// Two requests can both pass the CountActive fast path; the partial
	// unique index rejects the losing insert, which must surface as the
	// same operation_in_progress error with nothing enqueued.
	dep := testDeployment()
	deps := new(mockDeploymentRepo)
	ops := new(mockOperationRepo)

	deps.On("GetByName", mock.Anything, "web-1", mock.Anything).Run(func(args mock.Arguments) {
		*args.Get(2).(*models.Deployment) = dep
	}).Return(nil)
	ops.On("CountActive", mock.Anything, dep.ID).Return(int64(0), nil)
	ops.On("Create", mock.Anything, mock.Anything).
		Return(appErr.New(appErr.CodeOperationInProgress, "an operation is already in progress for deployment"))

	svc := NewOperationService(deps, ops, new(mockTemplateRepo), &fakeGate{}, nil)
	_, err := svc.RequestDestroy(context.Background(), "web-1")
	require.Error(t, err)
	require.True(t, appErr.IsCode(err, appErr.CodeOperationInProgress))
	ops.AssertNotCalled(t, "Finish", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRequestDestroyCreatesPendingOperation(t *testing.T) {
	dep := testDeployment()
	deps := new(mockDeploymentRepo)
	ops := new(mockOperationRepo)

	deps.On("GetByName", mock.Anything, "web-1", mock.Anything).Run(func(args mock.Arguments) {
		*args.Get(2).(*models.Deployment) = dep
	}).Return(nil)
	ops.On("CountActive", mock.Anything, dep.ID).Return(int64(0), nil)
	ops.On("Create", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		args.Get(1).(*models.Operation).ID = uuid.New()
	}).Return(nil)

	svc := NewOperationService(deps, ops, new(mockTemplateRepo), &fakeGate{}, nil)
	op, err := svc.RequestDestroy(context.Background(), "web-1")
	require.NoError(t, err)
	require.Equal(t, models.OpDestroy, op.Kind)
	require.Equal(t, models.OpPending, op.Status)
	require.Equal(t, dep.ID, op.DeploymentID)
}

func TestOperationLogsPrefersLiveBuffer(t *testing.T) {
	live := []runner.Line{{Seq: 3, Stream: runner.StreamStdout, Text: "still running"}}
	svc := NewOperationService(new(mockDeploymentRepo), new(mockOperationRepo), new(mockTemplateRepo), &fakeGate{lines: live, live: true}, nil)

	lines, err := svc.OperationLogs(context.Background(), uuid.New(), 2)
	require.NoError(t, err)
	require.Equal(t, live, lines)
}

func TestOperationLogsFromPersistedRecord(t *testing.T) {
	all := []runner.Line{
		{Seq: 1, Stream: runner.StreamStdout, Text: "one"},
		{Seq: 2, Stream: runner.StreamStderr, Text: "two"},
		{Seq: 3, Stream: runner.StreamStdout, Text: "three"},
	}
	raw, err := json.Marshal(all)
	require.NoError(t, err)

	opID := uuid.New()
	ops := new(mockOperationRepo)
	ops.On("GetByID", mock.Anything, opID, mock.Anything).Run(func(args mock.Arguments) {
		*args.Get(2).(*models.Operation) = models.Operation{
			ID:     opID,
			Status: models.OpSuccess,
			Logs:   datatypes.JSON(raw),
		}
	}).Return(nil)

	svc := NewOperationService(new(mockDeploymentRepo), ops, new(mockTemplateRepo), &fakeGate{}, nil)
	lines, err := svc.OperationLogs(context.Background(), opID, 1)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Equal(t, "two", lines[0].Text)
	require.Equal(t, "three", lines[1].Text)
}
