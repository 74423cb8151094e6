package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/printglide/renderqueue/internal/config"
)

// Job is one unit of generation work tracked through the lifecycle state
// machine. Status transitions go through the lifecycle package only; the
// queue manager creates and reads jobs but never moves them.
type Job struct {
	ID     string           `gorm:"type:varchar(36);primaryKey"`
	UserID string           `gorm:"type:varchar(64);not null;index:idx_jobs_user_status,priority:1"`
	Type   config.JobType   `gorm:"type:varchar(32);not null"`
	Status config.JobStatus `gorm:"type:varchar(32);not null;default:'queued';index:idx_jobs_user_status,priority:2"`

	Priority    int `gorm:"not null;default:0;index"`
	Attempt     int `gorm:"not null;default:1"`
	MaxAttempts int `gorm:"not null;default:3"`

	EstimatedCredits int    `gorm:"not null"`
	ActualCredits    int    `gorm:"default:0"`
	ReservationID    string `gorm:"type:varchar(36);not null"`

	// Set once dispatch to the render provider succeeds; webhooks are matched
	// back through this value.
	ProviderJobID string `gorm:"type:varchar(128);index"`

	QueuedAt    time.Time  `gorm:"not null"`
	NextRetryAt *time.Time `gorm:"index"`
	StartedAt   *time.Time
	CompletedAt *time.Time

	ErrorCategory string `gorm:"type:varchar(32)"`
	ErrorMessage  string `gorm:"type:text"`

	// Opaque bag passed through to the provider and echoed back in callbacks
	// (prompt, quality, batch index and friends).
	Metadata datatypes.JSON `gorm:"type:jsonb"`
	Output   datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// UserQueueState is the per-user hot counter pair guarding admission and
// dispatch. Both counters move only through conditional updates so two
// concurrent admissions can never jointly exceed a tier limit.
type UserQueueState struct {
	UserID          string    `gorm:"type:varchar(64);primaryKey"`
	ActiveCount     int       `gorm:"not null;default:0"`
	ProcessingCount int       `gorm:"not null;default:0"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime"`
}
