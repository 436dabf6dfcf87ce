package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	appErr "github.com/opsforge/engine/pkg/errors"
	"gorm.io/gorm"
)

// BaseRepository defines the CRUD operations shared by every entity. All
// entities in this schema key on uuid primary keys, so lookups are typed
// accordingly.
type BaseRepository[T any] interface {
	Create(ctx context.Context, obj *T) error
	GetByID(ctx context.Context, id uuid.UUID, dest *T) error
	Update(ctx context.Context, obj *T) error
	Delete(ctx context.Context, id uuid.UUID) error
}

type baseRepository[T any] struct {
	db *gorm.DB
}

func NewBaseRepository[T any](db *gorm.DB) BaseRepository[T] {
	return &baseRepository[T]{db: db}
}

func (r *baseRepository[T]) Create(ctx context.Context, obj *T) error {
	if err := r.db.WithContext(ctx).Create(obj).Error; err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, fmt.Sprintf("create %T failed", *obj))
	}
	return nil
}

func (r *baseRepository[T]) GetByID(ctx context.Context, id uuid.UUID, dest *T) error {
	if err := r.db.WithContext(ctx).First(dest, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return appErr.New(appErr.CodeNotFound, "entity not found").WithMeta("id", id.String())
		}
		return appErr.Wrap(err, appErr.CodeInternal, fmt.Sprintf("get %T failed", *dest))
	}
	return nil
}

func (r *baseRepository[T]) Update(ctx context.Context, obj *T) error {
	if err := r.db.WithContext(ctx).Save(obj).Error; err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, fmt.Sprintf("update %T failed", *obj))
	}
	return nil
}

func (r *baseRepository[T]) Delete(ctx context.Context, id uuid.UUID) error {
	var zero T
	res := r.db.WithContext(ctx).Delete(&zero, "id = ?", id)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, fmt.Sprintf("delete %T failed", zero))
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "entity not found").WithMeta("id", id.String())
	}
	return nil
}
