package queue

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/printglide/renderqueue/common"
	"github.com/printglide/renderqueue/internal/config"
	"github.com/printglide/renderqueue/internal/credit"
	"github.com/printglide/renderqueue/internal/dto"
	"github.com/printglide/renderqueue/internal/models"
	"github.com/printglide/renderqueue/internal/storage/postgres"
)

// Manager owns admission and dequeue. It creates and reads jobs; moving
// them between states is the lifecycle machine's business.
type Manager struct {
	repo   JobRepoInterface
	ledger LedgerInterface
	cfg    *config.QueueConfig
	now    func() time.Time
}

func NewManager(repo JobRepoInterface, ledger LedgerInterface, cfg *config.QueueConfig) *Manager {
	return &Manager{repo: repo, ledger: ledger, cfg: cfg, now: time.Now}
}

// ConcurrencyLimit returns the active-job ceiling for a tier.
func (m *Manager) ConcurrencyLimit(tier config.Tier) int {
	return m.cfg.ConcurrencyLimit(tier)
}

// Admit runs admission control for a batch of specs: per-type metadata
// validation, the tier concurrency check, and an all-or-nothing credit
// reservation, then creates every job in queued state. Any later step
// failing unwinds the earlier ones, so no job ever exists without its
// reservation and slot.
func (m *Manager) Admit(ctx context.Context, userID string, tier config.Tier, specs []dto.JobSpecDTO) (*dto.SubmitBatchResponseDTO, error) {
	if err := ctx.Err(); err != nil {
		return nil, common.Errf(http.StatusRequestTimeout, "request canceled or timed out")
	}
	if len(specs) == 0 {
		return nil, common.Errf(http.StatusBadRequest, "batch must contain at least one job spec")
	}

	for i, spec := range specs {
		if err := m.validateSpec(spec); err != nil {
			if apiErr, ok := err.(common.APIError); ok {
				if apiErr.Fields == nil {
					apiErr.Fields = map[string]any{}
				}
				apiErr.Fields["spec_index"] = i
				return nil, apiErr
			}
			return nil, err
		}
	}

	n := len(specs)
	limit := m.cfg.ConcurrencyLimit(tier)

	if err := m.repo.ReserveSlots(ctx, userID, n, limit); err != nil {
		if errors.Is(err, postgres.ErrSlotsExhausted) {
			return nil, common.NewAPIError(
				http.StatusTooManyRequests,
				"concurrency limit exceeded",
				map[string]any{
					"tier":      string(tier),
					"limit":     limit,
					"requested": n,
				},
			)
		}
		return nil, common.Errf(http.StatusInternalServerError, "failed to check concurrency limit")
	}

	now := m.now().UTC()
	total := 0
	jobs := make([]*models.Job, n)
	jobIDs := make([]string, n)
	holds := make([]*models.CreditReservation, n)

	for i, spec := range specs {
		jobType := config.JobType(spec.Type)
		cost := m.cfg.CostFor(jobType)
		total += cost

		jobID := uuid.NewString()
		jobIDs[i] = jobID
		holds[i] = &models.CreditReservation{
			ID:     uuid.NewString(),
			UserID: userID,
			JobID:  jobID,
			Amount: cost,
			Status: models.ReservationHeld,
		}
		jobs[i] = &models.Job{
			ID:               jobID,
			UserID:           userID,
			Type:             jobType,
			Status:           config.JobStatusQueued,
			Priority:         Priority(m.cfg, tier, jobType, now, now),
			Attempt:          1,
			MaxAttempts:      m.cfg.MaxAttempts,
			EstimatedCredits: cost,
			ReservationID:    holds[i].ID,
			QueuedAt:         now,
			Metadata:         datatypes.JSON(spec.Metadata),
		}
	}

	if err := m.ledger.Reserve(ctx, userID, holds); err != nil {
		m.releaseSlots(ctx, userID, n)
		if errors.Is(err, credit.ErrInsufficientCredits) {
			return nil, common.NewAPIError(
				http.StatusPaymentRequired,
				"insufficient credits",
				map[string]any{"required": total},
			)
		}
		return nil, common.Errf(http.StatusInternalServerError, "failed to reserve credits")
	}

	if err := m.repo.CreateBatch(ctx, jobs); err != nil {
		// Compensating actions: the reservation and the slots must not
		// outlive a batch that was never persisted.
		for _, id := range jobIDs {
			if rerr := m.ledger.RefundJob(ctx, id, "admission rolled back"); rerr != nil &&
				!errors.Is(rerr, credit.ErrReservationResolved) {
				log.Printf("[QUEUE] rollback refund failed for job %s: %v", id, rerr)
			}
		}
		m.releaseSlots(ctx, userID, n)
		return nil, common.Errf(http.StatusInternalServerError, "failed to persist job batch")
	}

	waitSeconds := m.estimateWaitForNewJobs(ctx, limit)

	return &dto.SubmitBatchResponseDTO{
		JobIDs:                jobIDs,
		EstimatedCreditsTotal: total,
		EstimatedWaitSeconds:  waitSeconds,
	}, nil
}

func (m *Manager) releaseSlots(ctx context.Context, userID string, n int) {
	if err := m.repo.ReleaseSlots(ctx, userID, n); err != nil {
		log.Printf("[QUEUE] releasing %d slots for user %s failed: %v", n, userID, err)
	}
}

func (m *Manager) validateSpec(spec dto.JobSpecDTO) error {
	switch config.JobType(spec.Type) {
	case config.JobTypeGeneration:
		return validatePayload[dto.GenerationPayload](spec.Metadata)
	case config.JobTypeVariation:
		return validatePayload[dto.VariationPayload](spec.Metadata)
	case config.JobTypeUpscale:
		return validatePayload[dto.UpscalePayload](spec.Metadata)
	case config.JobTypeBatch:
		return validatePayload[dto.BatchPayload](spec.Metadata)
	default:
		return common.NewAPIError(
			http.StatusBadRequest,
			"invalid job type",
			map[string]any{
				"provided": spec.Type,
				"allowed":  config.AllowedJobTypes,
			},
		)
	}
}

// DequeueNext selects the next dispatchable job: highest priority first,
// FIFO within equal priority, retry-parked jobs excluded until their backoff
// elapses. userID scopes the selection when non-empty.
func (m *Manager) DequeueNext(ctx context.Context, userID string) (*models.Job, error) {
	return m.repo.DequeueNext(ctx, userID, m.now().UTC())
}

// EstimateWait predicts how long a job at the given queue position waits
// before dispatch, assuming availableSlots jobs drain in parallel.
func EstimateWait(queuePosition int, avgProcessing time.Duration, availableSlots int) time.Duration {
	if queuePosition <= 0 {
		return 0
	}
	if availableSlots < 1 {
		availableSlots = 1
	}
	rounds := (queuePosition + availableSlots - 1) / availableSlots
	return time.Duration(rounds) * avgProcessing
}

// Stats recomputes queue statistics from the job collection on demand; they
// are a derived view, never separately persisted.
func (m *Manager) Stats(ctx context.Context) (*dto.QueueStatsDTO, error) {
	counts, err := m.repo.CountByStatus(ctx)
	if err != nil {
		return nil, common.Errf(http.StatusInternalServerError, "failed to aggregate queue stats")
	}

	avgWait, avgProcessing := m.averages(ctx)

	processing := counts[config.JobStatusProcessing]
	if processing < 1 {
		processing = 1
	}
	wait := EstimateWait(counts[config.JobStatusQueued]+1, avgProcessing, processing)

	byStatus := make(map[string]int, len(counts))
	for status, n := range counts {
		byStatus[string(status)] = n
	}

	return &dto.QueueStatsDTO{
		CountsByStatus:       byStatus,
		AvgWaitSeconds:       avgWait.Seconds(),
		AvgProcessingSeconds: avgProcessing.Seconds(),
		EstimatedWaitSeconds: int(wait.Seconds()),
	}, nil
}

// averages derives mean wait and processing time from recently completed
// jobs, falling back to the configured default when there is no history.
func (m *Manager) averages(ctx context.Context) (avgWait, avgProcessing time.Duration) {
	avgProcessing = m.cfg.DefaultProcessingTime

	recent, err := m.repo.RecentCompleted(ctx, 200)
	if err != nil || len(recent) == 0 {
		return 0, avgProcessing
	}

	var waitSum, processSum time.Duration
	var waitN, processN int
	for _, job := range recent {
		if job.StartedAt != nil {
			waitSum += job.StartedAt.Sub(job.QueuedAt)
			waitN++
			if job.CompletedAt != nil {
				processSum += job.CompletedAt.Sub(*job.StartedAt)
				processN++
			}
		}
	}
	if waitN > 0 {
		avgWait = waitSum / time.Duration(waitN)
	}
	if processN > 0 {
		avgProcessing = processSum / time.Duration(processN)
	}
	return avgWait, avgProcessing
}

func (m *Manager) estimateWaitForNewJobs(ctx context.Context, limit int) int {
	queued, err := m.repo.CountQueued(ctx)
	if err != nil {
		return 0
	}
	_, avgProcessing := m.averages(ctx)
	return int(EstimateWait(queued, avgProcessing, limit).Seconds())
}
