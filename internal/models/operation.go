package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Operation kinds.
const (
	OpPlan    = "plan"
	OpApply   = "apply"
	OpDestroy = "destroy"
	OpDrift   = "drift"
)

// Operation statuses. Success and error are terminal; a terminal operation
// is never mutated again.
const (
	OpPending = "pending"
	OpRunning = "running"
	OpSuccess = "success"
	OpError   = "error"
)

// Operation is one invocation of plan/apply/destroy/drift against a
// deployment. Logs holds the full serialized log buffer once the operation
// finishes; while it runs, lines are served live from memory.
type Operation struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	DeploymentID uuid.UUID      `gorm:"type:uuid;index;not null" json:"deployment_id"`
	Kind         string         `gorm:"type:varchar(16);not null" json:"kind"`
	Status       string         `gorm:"type:varchar(16);index;not null" json:"status"`
	Logs         datatypes.JSON `gorm:"type:jsonb" json:"logs"`
	ExitCode     *int           `json:"exit_code,omitempty"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Terminal reports whether the operation reached a final status.
func (o *Operation) Terminal() bool {
	return o.Status == OpSuccess || o.Status == OpError
}
