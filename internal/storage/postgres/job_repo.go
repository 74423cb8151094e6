package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/printglide/renderqueue/internal/config"
	"github.com/printglide/renderqueue/internal/models"
)

// ErrSlotsExhausted is returned when a conditional counter update finds no
// remaining capacity for the user.
var ErrSlotsExhausted = errors.New("no available concurrency slots")

type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

// CreateBatch inserts all jobs of one admission in a single transaction so a
// partially created batch never becomes visible.
func (r *JobRepository) CreateBatch(ctx context.Context, jobs []*models.Job) error {
	if err := r.db.WithContext(ctx).Create(jobs).Error; err != nil {
		return fmt.Errorf("create job batch: %w", err)
	}
	return nil
}

// Get retrieves a single job record by its ID. Returns the job if found,
// or an error if the job doesn't exist or the database query fails.
func (r *JobRepository) Get(ctx context.Context, id string) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("job not found: %w", err)
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return &job, nil
}

// GetByProviderID resolves a provider correlation id back to the internal
// job. Returns gorm.ErrRecordNotFound wrapped when no job matches.
func (r *JobRepository) GetByProviderID(ctx context.Context, providerJobID string) (*models.Job, error) {
	var job models.Job
	if err := r.db.WithContext(ctx).
		First(&job, "provider_job_id = ?", providerJobID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("job not found: %w", err)
		}
		return nil, fmt.Errorf("get job by provider id: %w", err)
	}
	return &job, nil
}

// ListByUser retrieves a user's jobs, optionally filtered by status.
func (r *JobRepository) ListByUser(ctx context.Context, userID string, status config.JobStatus) ([]models.Job, error) {
	q := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var jobs []models.Job
	if err := q.Order("queued_at DESC").Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, nil
}

// DequeueNext selects the highest-priority, earliest-queued job eligible at
// now, excluding jobs parked behind a retry backoff. userID narrows the scan
// to one user when non-empty. Returns nil without error when nothing is
// eligible.
func (r *JobRepository) DequeueNext(ctx context.Context, userID string, now time.Time) (*models.Job, error) {
	q := r.db.WithContext(ctx).
		Where("status = ?", config.JobStatusQueued).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}

	var job models.Job
	err := q.Order("priority DESC").Order("queued_at ASC").First(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("dequeue next: %w", err)
	}
	return &job, nil
}

// ReserveSlots bumps the user's active counter by n, guarded so the counter
// can never pass the tier limit even under concurrent admissions. Returns
// ErrSlotsExhausted when the capacity check fails.
func (r *JobRepository) ReserveSlots(ctx context.Context, userID string, n, limit int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		state := models.UserQueueState{UserID: userID}
		if err := tx.Where("user_id = ?", userID).FirstOrCreate(&state).Error; err != nil {
			return fmt.Errorf("ensure queue state: %w", err)
		}

		res := tx.Model(&models.UserQueueState{}).
			Where("user_id = ? AND active_count + ? <= ?", userID, n, limit).
			Update("active_count", gorm.Expr("active_count + ?", n))
		if res.Error != nil {
			return fmt.Errorf("reserve slots: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrSlotsExhausted
		}
		return nil
	})
}

// ReleaseSlots undoes a ReserveSlots after a failed admission step.
func (r *JobRepository) ReleaseSlots(ctx context.Context, userID string, n int) error {
	if err := r.db.WithContext(ctx).Model(&models.UserQueueState{}).
		Where("user_id = ? AND active_count >= ?", userID, n).
		Update("active_count", gorm.Expr("active_count - ?", n)).Error; err != nil {
		return fmt.Errorf("release slots: %w", err)
	}
	return nil
}

// ClaimProcessing atomically moves a queued job into processing and takes a
// processing slot for its user. Both updates are conditional, so racing
// dispatchers settle on exactly one winner per job and per freed slot.
// Returns false when the job was already claimed or no slot was available.
func (r *JobRepository) ClaimProcessing(ctx context.Context, job *models.Job, limit int, now time.Time) (bool, error) {
	claimed := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		slot := tx.Model(&models.UserQueueState{}).
			Where("user_id = ? AND processing_count < ?", job.UserID, limit).
			Update("processing_count", gorm.Expr("processing_count + ?", 1))
		if slot.Error != nil {
			return fmt.Errorf("claim processing slot: %w", slot.Error)
		}
		if slot.RowsAffected == 0 {
			return ErrSlotsExhausted
		}

		res := tx.Model(&models.Job{}).
			Where("id = ? AND status = ?", job.ID, config.JobStatusQueued).
			Updates(map[string]any{
				"status":     config.JobStatusProcessing,
				"started_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("claim job: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			// Another caller claimed it first; give the slot back by
			// aborting the transaction.
			return ErrSlotsExhausted
		}
		claimed = true
		return nil
	})
	if errors.Is(err, ErrSlotsExhausted) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return claimed, nil
}

// MarkDispatched records the provider correlation id after a successful
// dispatch call.
func (r *JobRepository) MarkDispatched(ctx context.Context, jobID, providerJobID string) error {
	if err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ?", jobID).
		Update("provider_job_id", providerJobID).Error; err != nil {
		return fmt.Errorf("mark dispatched: %w", err)
	}
	return nil
}

// UpdateMetadata overwrites the job's metadata bag; used by progress events,
// which never touch status.
func (r *JobRepository) UpdateMetadata(ctx context.Context, jobID string, metadata datatypes.JSON) error {
	if err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ?", jobID).
		Update("metadata", metadata).Error; err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	return nil
}

// SaveOutput persists provider output on a still-processing job, ahead of
// the completed transition.
func (r *JobRepository) SaveOutput(ctx context.Context, jobID string, output datatypes.JSON, actualCredits int) error {
	if err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", jobID, config.JobStatusProcessing).
		Updates(map[string]any{
			"output":         output,
			"actual_credits": actualCredits,
		}).Error; err != nil {
		return fmt.Errorf("save output: %w", err)
	}
	return nil
}

// RequeueForRetry moves a processing job back to queued with a bumped
// attempt and a backoff gate, freeing its processing slot but keeping its
// active slot and credit reservation. Returns false when the job was not in
// processing anymore.
func (r *JobRepository) RequeueForRetry(ctx context.Context, jobID string, attempt int, nextRetryAt time.Time, category, message string) (bool, error) {
	moved := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.Job
		if err := tx.Select("user_id").First(&job, "id = ?", jobID).Error; err != nil {
			return fmt.Errorf("load job: %w", err)
		}

		res := tx.Model(&models.Job{}).
			Where("id = ? AND status = ?", jobID, config.JobStatusProcessing).
			Updates(map[string]any{
				"status":         config.JobStatusQueued,
				"attempt":        attempt,
				"next_retry_at":  nextRetryAt,
				"started_at":     nil,
				"error_category": category,
				"error_message":  message,
			})
		if res.Error != nil {
			return fmt.Errorf("requeue for retry: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		moved = true

		return decrementCounter(tx, job.UserID, "processing_count", 1)
	})
	if err != nil {
		return false, err
	}
	return moved, nil
}

// FinishFromProcessing applies a terminal transition from processing and
// releases both of the user's slots. The status guard makes the transition
// happen at most once per job. Returns false when the job had already left
// processing.
func (r *JobRepository) FinishFromProcessing(ctx context.Context, jobID string, to config.JobStatus, now time.Time, category, message string) (bool, error) {
	finished := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.Job
		if err := tx.Select("user_id").First(&job, "id = ?", jobID).Error; err != nil {
			return fmt.Errorf("load job: %w", err)
		}

		updates := map[string]any{
			"status":       to,
			"completed_at": now,
		}
		if category != "" {
			updates["error_category"] = category
			updates["error_message"] = message
		}

		res := tx.Model(&models.Job{}).
			Where("id = ? AND status = ?", jobID, config.JobStatusProcessing).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("finish job: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		finished = true

		if err := decrementCounter(tx, job.UserID, "processing_count", 1); err != nil {
			return err
		}
		return decrementCounter(tx, job.UserID, "active_count", 1)
	})
	if err != nil {
		return false, err
	}
	return finished, nil
}

// CancelQueued cancels a job that never left the queue and releases its
// active slot. Returns false when the job was not queued.
func (r *JobRepository) CancelQueued(ctx context.Context, jobID string, now time.Time) (bool, error) {
	cancelled := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.Job
		if err := tx.Select("user_id").First(&job, "id = ?", jobID).Error; err != nil {
			return fmt.Errorf("load job: %w", err)
		}

		res := tx.Model(&models.Job{}).
			Where("id = ? AND status = ?", jobID, config.JobStatusQueued).
			Updates(map[string]any{
				"status":       config.JobStatusCancelled,
				"completed_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("cancel queued job: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		cancelled = true

		return decrementCounter(tx, job.UserID, "active_count", 1)
	})
	if err != nil {
		return false, err
	}
	return cancelled, nil
}

// ListStaleProcessing returns jobs that entered processing before the cutoff
// and have had no update since, so the sweeper can force-fail them.
func (r *JobRepository) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]models.Job, error) {
	var jobs []models.Job
	if err := r.db.WithContext(ctx).
		Where("status = ?", config.JobStatusProcessing).
		Where("updated_at < ?", cutoff).
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list stale jobs: %w", err)
	}
	return jobs, nil
}

// ListQueued returns every queued job, including those parked behind a
// retry gate, for periodic priority re-scoring.
func (r *JobRepository) ListQueued(ctx context.Context) ([]models.Job, error) {
	var jobs []models.Job
	if err := r.db.WithContext(ctx).
		Where("status = ?", config.JobStatusQueued).
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("list queued jobs: %w", err)
	}
	return jobs, nil
}

// UpdatePriority re-scores a job in place, guarded on queued status so a
// job that was dispatched or cancelled since listing is left alone.
func (r *JobRepository) UpdatePriority(ctx context.Context, jobID string, priority int) error {
	if err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("id = ? AND status = ?", jobID, config.JobStatusQueued).
		Update("priority", priority).Error; err != nil {
		return fmt.Errorf("update priority: %w", err)
	}
	return nil
}

// UsersWithDispatchableJobs returns the users who have queued jobs eligible
// at now, so the sweeper can pump queues that stalled (e.g. a crashed
// process between a terminal transition and its dispatch-next step).
func (r *JobRepository) UsersWithDispatchableJobs(ctx context.Context, now time.Time) ([]string, error) {
	var users []string
	if err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("status = ?", config.JobStatusQueued).
		Where("next_retry_at IS NULL OR next_retry_at <= ?", now).
		Distinct().
		Pluck("user_id", &users).Error; err != nil {
		return nil, fmt.Errorf("users with dispatchable jobs: %w", err)
	}
	return users, nil
}

// CountByStatus aggregates job counts per status across the whole queue.
func (r *JobRepository) CountByStatus(ctx context.Context) (map[config.JobStatus]int, error) {
	type row struct {
		Status config.JobStatus
		N      int
	}
	var rows []row
	if err := r.db.WithContext(ctx).Model(&models.Job{}).
		Select("status, count(*) as n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("count by status: %w", err)
	}
	counts := make(map[config.JobStatus]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}

// RecentCompleted returns the most recently completed jobs; wait and
// processing averages are derived from their timestamps in Go, which keeps
// the query portable across postgres and sqlite.
func (r *JobRepository) RecentCompleted(ctx context.Context, limit int) ([]models.Job, error) {
	var jobs []models.Job
	if err := r.db.WithContext(ctx).
		Where("status = ?", config.JobStatusCompleted).
		Order("completed_at DESC").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return nil, fmt.Errorf("recent completed: %w", err)
	}
	return jobs, nil
}

// CountQueued returns the number of currently queued jobs, the queue depth a
// new admission lands behind.
func (r *JobRepository) CountQueued(ctx context.Context) (int, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("status = ?", config.JobStatusQueued).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count queued: %w", err)
	}
	return int(n), nil
}

// CountProcessing returns the number of jobs currently held by the provider.
func (r *JobRepository) CountProcessing(ctx context.Context) (int, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Job{}).
		Where("status = ?", config.JobStatusProcessing).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count processing: %w", err)
	}
	return int(n), nil
}

func decrementCounter(tx *gorm.DB, userID, column string, n int) error {
	if err := tx.Model(&models.UserQueueState{}).
		Where("user_id = ? AND "+column+" >= ?", userID, n).
		Update(column, gorm.Expr(column+" - ?", n)).Error; err != nil {
		return fmt.Errorf("decrement %s: %w", column, err)
	}
	return nil
}
