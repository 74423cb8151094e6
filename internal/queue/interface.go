package queue

import (
	"context"
	"time"

	"github.com/printglide/renderqueue/internal/config"
	"github.com/printglide/renderqueue/internal/models"
)

// JobRepoInterface is the slice of the job store the queue manager needs.
type JobRepoInterface interface {
	CreateBatch(ctx context.Context, jobs []*models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	ListByUser(ctx context.Context, userID string, status config.JobStatus) ([]models.Job, error)
	DequeueNext(ctx context.Context, userID string, now time.Time) (*models.Job, error)
	ReserveSlots(ctx context.Context, userID string, n, limit int) error
	ReleaseSlots(ctx context.Context, userID string, n int) error
	CountByStatus(ctx context.Context) (map[config.JobStatus]int, error)
	RecentCompleted(ctx context.Context, limit int) ([]models.Job, error)
	CountQueued(ctx context.Context) (int, error)
	CountProcessing(ctx context.Context) (int, error)
}

// LedgerInterface is the slice of the credit ledger admission uses.
type LedgerInterface interface {
	Reserve(ctx context.Context, userID string, reservations []*models.CreditReservation) error
	RefundJob(ctx context.Context, jobID, reason string) error
}
