package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/opsforge/engine/internal/models"
	appErr "github.com/opsforge/engine/pkg/errors"
	"gorm.io/gorm"
)

type DeploymentRepository interface {
	BaseRepository[models.Deployment]
	GetByName(ctx context.Context, name string, dest *models.Deployment) error
	List(ctx context.Context) ([]models.Deployment, error)
	ListByStatus(ctx context.Context, status string) ([]models.Deployment, error)
	UpdateStatus(ctx context.Context, deploymentID uuid.UUID, status string) error
}

type deploymentRepository struct {
	BaseRepository[models.Deployment]
	db *gorm.DB
}

func NewDeploymentRepository(db *gorm.DB) DeploymentRepository {
	return &deploymentRepository{BaseRepository: NewBaseRepository[models.Deployment](db), db: db}
}

func (r *deploymentRepository) GetByName(ctx context.Context, name string, dest *models.Deployment) error {
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(dest).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return appErr.New(appErr.CodeNotFound, "deployment not found")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get deployment failed")
	}
	return nil
}

func (r *deploymentRepository) List(ctx context.Context) ([]models.Deployment, error) {
	var out []models.Deployment
	if err := r.db.WithContext(ctx).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list deployments failed")
	}
	return out, nil
}

func (r *deploymentRepository) ListByStatus(ctx context.Context, status string) ([]models.Deployment, error) {
	var out []models.Deployment
	if err := r.db.WithContext(ctx).Where("status = ?", status).Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list deployments failed")
	}
	return out, nil
}

func (r *deploymentRepository) UpdateStatus(ctx context.Context, deploymentID uuid.UUID, status string) error {
	res := r.db.WithContext(ctx).Model(&models.Deployment{}).Where("id = ?", deploymentID).Update("status", status)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "update deployment status failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "deployment not found")
	}
	return nil
}
