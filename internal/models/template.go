package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Template is a stored unit of Terraform code plus its declared variables.
// Deployments reference a template by id; the orchestrator materializes it
// into the working directory on every plan.
type Template struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Name          string         `gorm:"type:varchar(128);uniqueIndex;not null" json:"name" validate:"required"`
	TerraformCode string         `gorm:"type:text;not null" json:"terraform_code" validate:"required"`
	Variables     datatypes.JSON `gorm:"type:jsonb" json:"variables"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}

// TemplateVariable is one declared variable of a template.
type TemplateVariable struct {
	Name        string `json:"name"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`
}
