package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/opsforge/engine/internal/models"
	appErr "github.com/opsforge/engine/pkg/errors"
	"gorm.io/gorm"
)

type OperationRepository interface {
	BaseRepository[models.Operation]
	ListByDeployment(ctx context.Context, deploymentID uuid.UUID) ([]models.Operation, error)
	// CountActive counts operations in a non-terminal status for one
	// deployment. Backs the one-operation-at-a-time invariant.
	CountActive(ctx context.Context, deploymentID uuid.UUID) (int64, error)
	MarkRunning(ctx context.Context, operationID uuid.UUID, startedAt time.Time) error
	// Finish writes the terminal status, exit code, and serialized logs in
	// one update. The row is never touched again afterwards.
	Finish(ctx context.Context, operationID uuid.UUID, status string, exitCode *int, logs []byte, finishedAt time.Time) error
}

type operationRepository struct {
	BaseRepository[models.Operation]
	db *gorm.DB
}

func NewOperationRepository(db *gorm.DB) OperationRepository {
	return &operationRepository{BaseRepository: NewBaseRepository[models.Operation](db), db: db}
}

// Create inserts a new operation. The partial unique index on
// operations(deployment_id) over non-terminal statuses is the authoritative
// guard for the one-operation-at-a-time rule: when two inserts race, the
// loser's unique violation surfaces as operation_in_progress.
func (r *operationRepository) Create(ctx context.Context, op *models.Operation) error {
	if err := r.db.WithContext(ctx).Create(op).Error; err != nil {
		if isUniqueViolation(err) {
			return appErr.New(appErr.CodeOperationInProgress, "an operation is already in progress for deployment")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "create operation failed")
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (r *operationRepository) ListByDeployment(ctx context.Context, deploymentID uuid.UUID) ([]models.Operation, error) {
	var out []models.Operation
	if err := r.db.WithContext(ctx).Where("deployment_id = ?", deploymentID).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list operations failed")
	}
	return out, nil
}

func (r *operationRepository) CountActive(ctx context.Context, deploymentID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Operation{}).
		Where("deployment_id = ? AND status IN ?", deploymentID, []string{models.OpPending, models.OpRunning}).
		Count(&n).Error
	if err != nil {
		return 0, appErr.Wrap(err, appErr.CodeInternal, "count active operations failed")
	}
	return n, nil
}

func (r *operationRepository) MarkRunning(ctx context.Context, operationID uuid.UUID, startedAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Operation{}).Where("id = ?", operationID).
		Updates(map[string]any{"status": models.OpRunning, "started_at": startedAt})
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "mark operation running failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "operation not found")
	}
	return nil
}

func (r *operationRepository) Finish(ctx context.Context, operationID uuid.UUID, status string, exitCode *int, logs []byte, finishedAt time.Time) error {
	updates := map[string]any{
		"status":      status,
		"logs":        logs,
		"finished_at": finishedAt,
	}
	if exitCode != nil {
		updates["exit_code"] = *exitCode
	}
	res := r.db.WithContext(ctx).Model(&models.Operation{}).Where("id = ?", operationID).Updates(updates)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "finish operation failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "operation not found")
	}
	return nil
}
