package lifecycle

import (
	"context"
	"time"

	"gorm.io/datatypes"

	"github.com/printglide/renderqueue/internal/config"
	"github.com/printglide/renderqueue/internal/models"
)

// JobRepoInterface is the slice of the job store the state machine drives.
// Every status-moving method is a guarded compare-and-swap reporting whether
// it won, which is what makes transitions idempotent under duplicate
// delivery.
type JobRepoInterface interface {
	Get(ctx context.Context, id string) (*models.Job, error)
	ClaimProcessing(ctx context.Context, job *models.Job, limit int, now time.Time) (bool, error)
	MarkDispatched(ctx context.Context, jobID, providerJobID string) error
	UpdateMetadata(ctx context.Context, jobID string, metadata datatypes.JSON) error
	SaveOutput(ctx context.Context, jobID string, output datatypes.JSON, actualCredits int) error
	RequeueForRetry(ctx context.Context, jobID string, attempt int, nextRetryAt time.Time, category, message string) (bool, error)
	FinishFromProcessing(ctx context.Context, jobID string, to config.JobStatus, now time.Time, category, message string) (bool, error)
	CancelQueued(ctx context.Context, jobID string, now time.Time) (bool, error)
	ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]models.Job, error)
	ListQueued(ctx context.Context) ([]models.Job, error)
	UpdatePriority(ctx context.Context, jobID string, priority int) error
}

// LedgerInterface resolves reservations at terminal transitions.
type LedgerInterface interface {
	Settle(ctx context.Context, jobID string, actual int) (int, error)
	RefundJob(ctx context.Context, jobID, reason string) error
}

// DequeuerInterface hands the machine the next dispatchable job; the queue
// manager implements it.
type DequeuerInterface interface {
	DequeueNext(ctx context.Context, userID string) (*models.Job, error)
}

// ProviderInterface is the outbound side of the render provider: submit a
// job, get back its correlation id.
type ProviderInterface interface {
	DispatchJob(ctx context.Context, job *models.Job) (string, error)
}

// MembershipInterface reports a user's subscription tier, which bounds the
// processing slots a dispatch may claim.
type MembershipInterface interface {
	TierFor(ctx context.Context, userID string) (config.Tier, error)
}
