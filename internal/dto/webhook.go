package dto

import "time"

// ProviderWebhookDTO is the asynchronous status notification posted by the
// render provider. EventID is optional; when absent the ingress falls back
// to provider_job_id plus status as the idempotency key.
type ProviderWebhookDTO struct {
	EventID       string             `json:"event_id"`
	ProviderJobID string             `json:"provider_job_id" validate:"required"`
	Status        string             `json:"status" validate:"required,oneof=starting processing succeeded failed canceled"`
	Output        []string           `json:"output,omitempty"`
	Error         string             `json:"error,omitempty"`
	StartedAt     *time.Time         `json:"started_at,omitempty"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
	Metrics       *WebhookMetricsDTO `json:"metrics,omitempty"`
	Logs          string             `json:"logs,omitempty"`
}

type WebhookMetricsDTO struct {
	ProcessingTimeSeconds float64 `json:"processing_time_seconds"`
}
