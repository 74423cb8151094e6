package config

type JobStatus string

type JobType string

type Tier string

var (
	AllowedJobTypes = []string{"generation", "variation", "upscale", "batch"}
	AllowedTiers    = []string{"starter", "growth", "pro", "enterprise"}

	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"

	JobTypeGeneration JobType = "generation"
	JobTypeVariation  JobType = "variation"
	JobTypeUpscale    JobType = "upscale"
	JobTypeBatch      JobType = "batch"

	TierStarter    Tier = "starter"
	TierGrowth     Tier = "growth"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// IsTerminal reports whether a job in this status admits no further
// transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusCancelled
}
