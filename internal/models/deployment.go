package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Deployment statuses.
const (
	DeploymentPending    = "pending"
	DeploymentPlanning   = "planning"
	DeploymentPlanned    = "planned"
	DeploymentApplying   = "applying"
	DeploymentReady      = "ready"
	DeploymentError      = "error"
	DeploymentDestroying = "destroying"
	DeploymentDestroyed  = "destroyed"
)

// Deployment is a named, persistent unit of infrastructure configuration and
// its applied state. Name is the unique key callers address it by; WorkDir is
// the deployment's exclusively-owned working directory slot on disk.
type Deployment struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Name        string         `gorm:"type:varchar(128);uniqueIndex;not null" json:"name" validate:"required"`
	TemplateID  uuid.UUID      `gorm:"type:uuid;index;not null" json:"template_id" validate:"required"`
	Environment string         `gorm:"type:varchar(64);index" json:"environment"`
	Variables   datatypes.JSON `gorm:"type:jsonb" json:"variables"`
	Status      string         `gorm:"type:varchar(32);index;not null" json:"status"`
	WorkDir     string         `gorm:"type:varchar(512)" json:"work_dir"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}
