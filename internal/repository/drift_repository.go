package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/opsforge/engine/internal/models"
	appErr "github.com/opsforge/engine/pkg/errors"
	"gorm.io/gorm"
)

type DriftRepository interface {
	BaseRepository[models.DriftResult]
	LatestByDeployment(ctx context.Context, deploymentID uuid.UUID, dest *models.DriftResult) error
	ListByDeployment(ctx context.Context, deploymentID uuid.UUID) ([]models.DriftResult, error)
}

type driftRepository struct {
	BaseRepository[models.DriftResult]
	db *gorm.DB
}

func NewDriftRepository(db *gorm.DB) DriftRepository {
	return &driftRepository{BaseRepository: NewBaseRepository[models.DriftResult](db), db: db}
}

func (r *driftRepository) LatestByDeployment(ctx context.Context, deploymentID uuid.UUID, dest *models.DriftResult) error {
	if err := r.db.WithContext(ctx).Where("deployment_id = ?", deploymentID).Order("checked_at DESC").First(dest).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return appErr.New(appErr.CodeNotFound, "no drift results for deployment")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get latest drift result failed")
	}
	return nil
}

func (r *driftRepository) ListByDeployment(ctx context.Context, deploymentID uuid.UUID) ([]models.DriftResult, error) {
	var out []models.DriftResult
	if err := r.db.WithContext(ctx).Where("deployment_id = ?", deploymentID).Order("checked_at DESC").Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list drift results failed")
	}
	return out, nil
}
