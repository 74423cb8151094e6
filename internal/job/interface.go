package job

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/printglide/renderqueue/internal/config"
	"github.com/printglide/renderqueue/internal/dto"
	"github.com/printglide/renderqueue/internal/models"
)

// QueueManagerInterface is the admission and stats surface of the queue.
type QueueManagerInterface interface {
	Admit(ctx context.Context, userID string, tier config.Tier, specs []dto.JobSpecDTO) (*dto.SubmitBatchResponseDTO, error)
	Stats(ctx context.Context) (*dto.QueueStatsDTO, error)
}

// LifecycleInterface is the transition surface the handlers drive directly.
type LifecycleInterface interface {
	Cancel(ctx context.Context, job *models.Job) error
	DispatchNext(ctx context.Context, userID string)
}

// JobReaderInterface reads job state for status polling.
type JobReaderInterface interface {
	Get(ctx context.Context, id string) (*models.Job, error)
	ListByUser(ctx context.Context, userID string, status config.JobStatus) ([]models.Job, error)
}

// MembershipInterface resolves the caller's subscription tier.
type MembershipInterface interface {
	TierFor(ctx context.Context, userID string) (config.Tier, error)
}

// CreditServiceInterface is the balance and audit surface of the ledger.
type CreditServiceInterface interface {
	Balance(ctx context.Context, userID string) (int, error)
	Entries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error)
	Grant(ctx context.Context, userID string, amount int, reason string) error
	Debit(ctx context.Context, userID string, amount int, reason string) error
}

// JobHandlerInterface defines the contract for HTTP request handlers.
type JobHandlerInterface interface {
	Submit(c *gin.Context)
	Get(c *gin.Context)
	List(c *gin.Context)
	Stats(c *gin.Context)
	Cancel(c *gin.Context)
	Credits(c *gin.Context)
	Grant(c *gin.Context)
}
