package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DriftResult statuses.
const (
	DriftInProgress = "in_progress"
	DriftCompleted  = "completed"
	DriftFailed     = "failed"
)

// DriftResult records one drift check against a deployment. ChangedResources
// holds only resources whose planned action list is not exactly [no-op].
// Immutable after completion.
type DriftResult struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	DeploymentID     uuid.UUID      `gorm:"type:uuid;index;not null" json:"deployment_id"`
	OperationID      uuid.UUID      `gorm:"type:uuid;index" json:"operation_id"`
	Status           string         `gorm:"type:varchar(16);index;not null" json:"status"`
	ChangedResources datatypes.JSON `gorm:"type:jsonb" json:"changed_resources"`
	DriftedResources int            `json:"drifted_resources"`
	Created          int            `json:"created"`
	Updated          int            `json:"updated"`
	Deleted          int            `json:"deleted"`
	Replaced         int            `json:"replaced"`
	CheckedAt        time.Time      `json:"checked_at"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}
