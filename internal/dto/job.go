package dto

import (
	"encoding/json"
	"time"
)

// JobSpecDTO is one requested unit of work inside a batch submission. The
// metadata bag is validated per job type before admission.
type JobSpecDTO struct {
	Type     string          `json:"type" validate:"required,oneof=generation variation upscale batch"`
	Metadata json.RawMessage `json:"metadata" validate:"required"`
}

type SubmitBatchDTO struct {
	UserID string       `json:"user_id" validate:"required"`
	Specs  []JobSpecDTO `json:"specs" validate:"required,min=1,max=20,dive"`
}

type SubmitBatchResponseDTO struct {
	JobIDs                []string `json:"job_ids"`
	EstimatedCreditsTotal int      `json:"estimated_credits_total"`
	EstimatedWaitSeconds  int      `json:"estimated_wait_seconds"`
}

type JobResponseDTO struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	Type             string          `json:"type"`
	Status           string          `json:"status"`
	Priority         int             `json:"priority"`
	Attempt          int             `json:"attempt"`
	MaxAttempts      int             `json:"max_attempts"`
	EstimatedCredits int             `json:"estimated_credits"`
	ActualCredits    int             `json:"actual_credits,omitempty"`
	Output           json.RawMessage `json:"output,omitempty"`
	ErrorCategory    string          `json:"error_category,omitempty"`
	ErrorMessage     string          `json:"error_message,omitempty"`
	QueuedAt         time.Time       `json:"queued_at"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

type QueueStatsDTO struct {
	CountsByStatus       map[string]int `json:"counts_by_status"`
	AvgWaitSeconds       float64        `json:"avg_wait_seconds"`
	AvgProcessingSeconds float64        `json:"avg_processing_seconds"`
	EstimatedWaitSeconds int            `json:"estimated_wait_seconds"`
}
