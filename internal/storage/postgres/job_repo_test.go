package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/printglide/renderqueue/internal/config"
	"github.com/printglide/renderqueue/internal/models"
)

func seedJob(t *testing.T, db *gorm.DB, job *models.Job) *models.Job {
	t.Helper()
	if job.Status == "" {
		job.Status = config.JobStatusQueued
	}
	if job.Type == "" {
		job.Type = config.JobTypeGeneration
	}
	if job.Attempt == 0 {
		job.Attempt = 1
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = 3
	}
	require.NoError(t, db.Create(job).Error)
	return job
}

func seedState(t *testing.T, db *gorm.DB, userID string, active, processing int) {
	t.Helper()
	require.NoError(t, db.Create(&models.UserQueueState{
		UserID:          userID,
		ActiveCount:     active,
		ProcessingCount: processing,
	}).Error)
}

func queueState(t *testing.T, db *gorm.DB, userID string) models.UserQueueState {
	t.Helper()
	var state models.UserQueueState
	require.NoError(t, db.First(&state, "user_id = ?", userID).Error)
	return state
}

func TestJobRepository_DequeueNext(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("highest priority wins", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewJobRepository(db)

		seedJob(t, db, &models.Job{ID: "low", UserID: "u1", Priority: 10, QueuedAt: now.Add(-time.Hour)})
		seedJob(t, db, &models.Job{ID: "high", UserID: "u2", Priority: 40, QueuedAt: now})

		job, err := repo.DequeueNext(ctx, "", now)
		require.NoError(t, err)
		require.NotNil(t, job)
		assert.Equal(t, "high", job.ID)
	})

	t.Run("equal priority is FIFO on queued_at", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewJobRepository(db)

		seedJob(t, db, &models.Job{ID: "second", UserID: "u1", Priority: 20, QueuedAt: now.Add(-time.Minute)})
		seedJob(t, db, &models.Job{ID: "first", UserID: "u1", Priority: 20, QueuedAt: now.Add(-time.Hour)})

		job, err := repo.DequeueNext(ctx, "", now)
		require.NoError(t, err)
		assert.Equal(t, "first", job.ID)
	})

	t.Run("retry-parked jobs are skipped until the gate elapses", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewJobRepository(db)

		gate := now.Add(30 * time.Second)
		seedJob(t, db, &models.Job{ID: "parked", UserID: "u1", Priority: 40, QueuedAt: now.Add(-time.Hour), NextRetryAt: &gate})
		seedJob(t, db, &models.Job{ID: "ready", UserID: "u1", Priority: 10, QueuedAt: now})

		job, err := repo.DequeueNext(ctx, "", now)
		require.NoError(t, err)
		assert.Equal(t, "ready", job.ID)

		job, err = repo.DequeueNext(ctx, "", now.Add(time.Minute))
		require.NoError(t, err)
		assert.Equal(t, "parked", job.ID)
	})

	t.Run("user scope narrows the scan", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewJobRepository(db)

		seedJob(t, db, &models.Job{ID: "other", UserID: "u2", Priority: 40, QueuedAt: now})
		seedJob(t, db, &models.Job{ID: "mine", UserID: "u1", Priority: 10, QueuedAt: now})

		job, err := repo.DequeueNext(ctx, "u1", now)
		require.NoError(t, err)
		assert.Equal(t, "mine", job.ID)
	})

	t.Run("empty queue returns nil without error", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewJobRepository(db)

		job, err := repo.DequeueNext(ctx, "", now)
		require.NoError(t, err)
		assert.Nil(t, job)
	})

	t.Run("processing jobs are never dequeued", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewJobRepository(db)

		seedJob(t, db, &models.Job{ID: "busy", UserID: "u1", Status: config.JobStatusProcessing, Priority: 40, QueuedAt: now})

		job, err := repo.DequeueNext(ctx, "", now)
		require.NoError(t, err)
		assert.Nil(t, job)
	})
}

func TestJobRepository_ReserveSlots(t *testing.T) {
	ctx := context.Background()

	t.Run("creates the state row and takes the slots", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewJobRepository(db)

		require.NoError(t, repo.ReserveSlots(ctx, "u1", 2, 3))
		assert.Equal(t, 2, queueState(t, db, "u1").ActiveCount)
	})

	t.Run("rejects a batch that would pass the limit", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewJobRepository(db)
		seedState(t, db, "u1", 2, 0)

		err := repo.ReserveSlots(ctx, "u1", 2, 3)
		require.ErrorIs(t, err, ErrSlotsExhausted)
		assert.Equal(t, 2, queueState(t, db, "u1").ActiveCount)
	})

	t.Run("fills exactly to the limit", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewJobRepository(db)
		seedState(t, db, "u1", 1, 0)

		require.NoError(t, repo.ReserveSlots(ctx, "u1", 2, 3))
		assert.Equal(t, 3, queueState(t, db, "u1").ActiveCount)

		require.ErrorIs(t, repo.ReserveSlots(ctx, "u1", 1, 3), ErrSlotsExhausted)
	})

	t.Run("release undoes the reservation", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewJobRepository(db)
		seedState(t, db, "u1", 3, 0)

		require.NoError(t, repo.ReleaseSlots(ctx, "u1", 2))
		assert.Equal(t, 1, queueState(t, db, "u1").ActiveCount)
	})
}

func TestJobRepository_ClaimProcessing(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("claims the job and a processing slot", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewJobRepository(db)
		seedState(t, db, "u1", 1, 0)
		job := seedJob(t, db, &models.Job{ID: "job-1", UserID: "u1", QueuedAt: now})

		claimed, err := repo.ClaimProcessing(ctx, job, 3, now)
		require.NoError(t, err)
		assert.True(t, claimed)

		got, err := repo.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, config.JobStatusProcessing, got.Status)
		require.NotNil(t, got.StartedAt)
		assert.Equal(t, 1, queueState(t, db, "u1").ProcessingCount)
	})

	t.Run("full processing slots refuse the claim", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewJobRepository(db)
		seedState(t, db, "u1", 3, 3)
		job := seedJob(t, db, &models.Job{ID: "job-1", UserID: "u1", QueuedAt: now})

		claimed, err := repo.ClaimProcessing(ctx, job, 3, now)
		require.NoError(t, err)
		assert.False(t, claimed)

		got, err := repo.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, config.JobStatusQueued, got.Status)
		assert.Equal(t, 3, queueState(t, db, "u1").ProcessingCount)
	})

	t.Run("a job claimed once cannot be claimed again", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewJobRepository(db)
		seedState(t, db, "u1", 1, 0)
		job := seedJob(t, db, &models.Job{ID: "job-1", UserID: "u1", QueuedAt: now})

		claimed, err := repo.ClaimProcessing(ctx, job, 3, now)
		require.NoError(t, err)
		require.True(t, claimed)

		claimed, err = repo.ClaimProcessing(ctx, job, 3, now)
		require.NoError(t, err)
		assert.False(t, claimed)
		// The aborted transaction must give the second slot back.
		assert.Equal(t, 1, queueState(t, db, "u1").ProcessingCount)
	})
}

func TestJobRepository_RequeueForRetry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("parks the job behind the backoff gate", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewJobRepository(db)
		seedState(t, db, "u1", 1, 1)
		started := now.Add(-time.Minute)
		seedJob(t, db, &models.Job{ID: "job-1", UserID: "u1", Status: config.JobStatusProcessing, QueuedAt: now.Add(-2 * time.Minute), StartedAt: &started})

		gate := now.Add(10 * time.Second)
		moved, err := repo.RequeueForRetry(ctx, "job-1", 2, gate, "timeout", "render timed out")
		require.NoError(t, err)
		assert.True(t, moved)

		got, err := repo.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, config.JobStatusQueued, got.Status)
		assert.Equal(t, 2, got.Attempt)
		require.NotNil(t, got.NextRetryAt)
		assert.Nil(t, got.StartedAt)
		assert.Equal(t, "timeout", got.ErrorCategory)

		state := queueState(t, db, "u1")
		assert.Equal(t, 0, state.ProcessingCount)
		// The job still occupies the user's active slot through the retry.
		assert.Equal(t, 1, state.ActiveCount)
	})

	t.Run("a job no longer processing is left alone", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewJobRepository(db)
		seedState(t, db, "u1", 0, 0)
		seedJob(t, db, &models.Job{ID: "job-1", UserID: "u1", Status: config.JobStatusFailed, QueuedAt: now})

		moved, err := repo.RequeueForRetry(ctx, "job-1", 2, now, "timeout", "late webhook")
		require.NoError(t, err)
		assert.False(t, moved)
	})
}

func TestJobRepository_FinishFromProcessing(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("applies the terminal status and frees both slots", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewJobRepository(db)
		seedState(t, db, "u1", 1, 1)
		seedJob(t, db, &models.Job{ID: "job-1", UserID: "u1", Status: config.JobStatusProcessing, QueuedAt: now})

		finished, err := repo.FinishFromProcessing(ctx, "job-1", config.JobStatusCompleted, now, "", "")
		require.NoError(t, err)
		assert.True(t, finished)

		got, err := repo.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, config.JobStatusCompleted, got.Status)
		require.NotNil(t, got.CompletedAt)

		state := queueState(t, db, "u1")
		assert.Equal(t, 0, state.ActiveCount)
		assert.Equal(t, 0, state.ProcessingCount)
	})

	t.Run("records the failure taxonomy on failed", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewJobRepository(db)
		seedState(t, db, "u1", 1, 1)
		seedJob(t, db, &models.Job{ID: "job-1", UserID: "u1", Status: config.JobStatusProcessing, QueuedAt: now})

		finished, err := repo.FinishFromProcessing(ctx, "job-1", config.JobStatusFailed, now, "validation", "invalid prompt")
		require.NoError(t, err)
		assert.True(t, finished)

		got, err := repo.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, "validation", got.ErrorCategory)
		assert.Equal(t, "invalid prompt", got.ErrorMessage)
	})

	t.Run("replayed terminal transition is refused and counters stay put", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewJobRepository(db)
		seedState(t, db, "u1", 1, 1)
		seedJob(t, db, &models.Job{ID: "job-1", UserID: "u1", Status: config.JobStatusProcessing, QueuedAt: now})

		finished, err := repo.FinishFromProcessing(ctx, "job-1", config.JobStatusCompleted, now, "", "")
		require.NoError(t, err)
		require.True(t, finished)

		finished, err = repo.FinishFromProcessing(ctx, "job-1", config.JobStatusFailed, now, "timeout", "late")
		require.NoError(t, err)
		assert.False(t, finished)

		got, err := repo.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, config.JobStatusCompleted, got.Status)

		state := queueState(t, db, "u1")
		assert.Equal(t, 0, state.ActiveCount)
		assert.Equal(t, 0, state.ProcessingCount)
	})
}

func TestJobRepository_CancelQueued(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("cancels and frees the active slot", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewJobRepository(db)
		seedState(t, db, "u1", 1, 0)
		seedJob(t, db, &models.Job{ID: "job-1", UserID: "u1", QueuedAt: now})

		cancelled, err := repo.CancelQueued(ctx, "job-1", now)
		require.NoError(t, err)
		assert.True(t, cancelled)

		got, err := repo.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, config.JobStatusCancelled, got.Status)
		assert.Equal(t, 0, queueState(t, db, "u1").ActiveCount)
	})

	t.Run("a job already processing is not touched", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewJobRepository(db)
		seedState(t, db, "u1", 1, 1)
		seedJob(t, db, &models.Job{ID: "job-1", UserID: "u1", Status: config.JobStatusProcessing, QueuedAt: now})

		cancelled, err := repo.CancelQueued(ctx, "job-1", now)
		require.NoError(t, err)
		assert.False(t, cancelled)
		assert.Equal(t, 1, queueState(t, db, "u1").ActiveCount)
	})
}

func TestJobRepository_SaveOutput(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	db := SetupTestDB(t)
	repo := NewJobRepository(db)
	seedJob(t, db, &models.Job{ID: "job-1", UserID: "u1", Status: config.JobStatusProcessing, QueuedAt: now, EstimatedCredits: 2})

	output := datatypes.JSON(`{"artifacts":["https://cdn.example.com/a.png"]}`)
	require.NoError(t, repo.SaveOutput(ctx, "job-1", output, 2))

	got, err := repo.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.JSONEq(t, string(output), string(got.Output))
	assert.Equal(t, 2, got.ActualCredits)
}

func TestJobRepository_StatsQueries(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	db := SetupTestDB(t)
	repo := NewJobRepository(db)

	completedAt := now.Add(-time.Minute)
	seedJob(t, db, &models.Job{ID: "q1", UserID: "u1", QueuedAt: now})
	seedJob(t, db, &models.Job{ID: "q2", UserID: "u2", QueuedAt: now})
	seedJob(t, db, &models.Job{ID: "p1", UserID: "u1", Status: config.JobStatusProcessing, QueuedAt: now})
	seedJob(t, db, &models.Job{ID: "c1", UserID: "u2", Status: config.JobStatusCompleted, QueuedAt: now.Add(-time.Hour), CompletedAt: &completedAt})

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[config.JobStatusQueued])
	assert.Equal(t, 1, counts[config.JobStatusProcessing])
	assert.Equal(t, 1, counts[config.JobStatusCompleted])

	queued, err := repo.CountQueued(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, queued)

	processing, err := repo.CountProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processing)

	recent, err := repo.RecentCompleted(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "c1", recent[0].ID)

	users, err := repo.UsersWithDispatchableJobs(ctx, now)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"u1", "u2"}, users)
}

func TestJobRepository_GetByProviderID(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	db := SetupTestDB(t)
	repo := NewJobRepository(db)
	seedJob(t, db, &models.Job{ID: "job-1", UserID: "u1", ProviderJobID: "prov-77", QueuedAt: now})

	got, err := repo.GetByProviderID(ctx, "prov-77")
	require.NoError(t, err)
	assert.Equal(t, "job-1", got.ID)

	_, err = repo.GetByProviderID(ctx, "prov-ghost")
	require.Error(t, err)
}

func TestJobRepository_PriorityRescoring(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("ListQueued includes retry-gated jobs and excludes processing", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewJobRepository(db)

		gate := now.Add(time.Minute)
		seedJob(t, db, &models.Job{ID: "plain", UserID: "u1", Priority: 10, QueuedAt: now.Add(-time.Hour)})
		seedJob(t, db, &models.Job{ID: "gated", UserID: "u1", Priority: 10, QueuedAt: now.Add(-time.Hour), NextRetryAt: &gate})
		seedJob(t, db, &models.Job{ID: "busy", UserID: "u2", Status: config.JobStatusProcessing, Priority: 10, QueuedAt: now})

		jobs, err := repo.ListQueued(ctx)
		require.NoError(t, err)

		ids := make([]string, 0, len(jobs))
		for _, job := range jobs {
			ids = append(ids, job.ID)
		}
		assert.ElementsMatch(t, []string{"plain", "gated"}, ids)
	})

	t.Run("UpdatePriority re-scores a queued job in place", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewJobRepository(db)

		seedJob(t, db, &models.Job{ID: "j1", UserID: "u1", Priority: 10, QueuedAt: now.Add(-time.Hour)})
		require.NoError(t, repo.UpdatePriority(ctx, "j1", 15))

		var job models.Job
		require.NoError(t, db.First(&job, "id = ?", "j1").Error)
		assert.Equal(t, 15, job.Priority)
	})

	t.Run("UpdatePriority leaves jobs that left the queue alone", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewJobRepository(db)

		seedJob(t, db, &models.Job{ID: "j1", UserID: "u1", Status: config.JobStatusProcessing, Priority: 10, QueuedAt: now})
		require.NoError(t, repo.UpdatePriority(ctx, "j1", 15))

		var job models.Job
		require.NoError(t, db.First(&job, "id = ?", "j1").Error)
		assert.Equal(t, 10, job.Priority)
	})

	t.Run("a boosted priority changes dequeue order", func(t *testing.T) {
		db := SetupTestDB(t)
		repo := NewJobRepository(db)

		seedJob(t, db, &models.Job{ID: "aged", UserID: "u1", Priority: 10, QueuedAt: now.Add(-2 * time.Hour)})
		seedJob(t, db, &models.Job{ID: "fresh", UserID: "u2", Priority: 12, QueuedAt: now})

		job, err := repo.DequeueNext(ctx, "", now)
		require.NoError(t, err)
		assert.Equal(t, "fresh", job.ID)

		require.NoError(t, repo.UpdatePriority(ctx, "aged", 15))

		job, err = repo.DequeueNext(ctx, "", now)
		require.NoError(t, err)
		assert.Equal(t, "aged", job.ID)
	})
}
