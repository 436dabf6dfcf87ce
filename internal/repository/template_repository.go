package repository

import (
	"context"

	"github.com/opsforge/engine/internal/models"
	appErr "github.com/opsforge/engine/pkg/errors"
	"gorm.io/gorm"
)

type TemplateRepository interface {
	BaseRepository[models.Template]
	GetByName(ctx context.Context, name string, dest *models.Template) error
}

type templateRepository struct {
	BaseRepository[models.Template]
	db *gorm.DB
}

func NewTemplateRepository(db *gorm.DB) TemplateRepository {
	return &templateRepository{BaseRepository: NewBaseRepository[models.Template](db), db: db}
}

func (r *templateRepository) GetByName(ctx context.Context, name string, dest *models.Template) error {
	if err := r.db.WithContext(ctx).Where("name = ?", name).First(dest).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return appErr.New(appErr.CodeTemplateNotFound, "template not found")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get template failed")
	}
	return nil
}
