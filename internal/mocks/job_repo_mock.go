package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"gorm.io/datatypes"

	"github.com/printglide/renderqueue/internal/config"
	"github.com/printglide/renderqueue/internal/models"
)

type JobRepoMock struct {
	mock.Mock
}

func (m *JobRepoMock) CreateBatch(ctx context.Context, jobs []*models.Job) error {
	args := m.Called(ctx, jobs)
	return args.Error(0)
}

func (m *JobRepoMock) Get(ctx context.Context, id string) (*models.Job, error) {
	args := m.Called(ctx, id)

	job, _ := args.Get(0).(*models.Job)
	return job, args.Error(1)
}

func (m *JobRepoMock) GetByProviderID(ctx context.Context, providerJobID string) (*models.Job, error) {
	args := m.Called(ctx, providerJobID)

	job, _ := args.Get(0).(*models.Job)
	return job, args.Error(1)
}

func (m *JobRepoMock) ListByUser(ctx context.Context, userID string, status config.JobStatus) ([]models.Job, error) {
	args := m.Called(ctx, userID, status)

	jobs, _ := args.Get(0).([]models.Job)
	return jobs, args.Error(1)
}

func (m *JobRepoMock) DequeueNext(ctx context.Context, userID string, now time.Time) (*models.Job, error) {
	args := m.Called(ctx, userID, now)

	job, _ := args.Get(0).(*models.Job)
	return job, args.Error(1)
}

func (m *JobRepoMock) ReserveSlots(ctx context.Context, userID string, n, limit int) error {
	args := m.Called(ctx, userID, n, limit)
	return args.Error(0)
}

func (m *JobRepoMock) ReleaseSlots(ctx context.Context, userID string, n int) error {
	args := m.Called(ctx, userID, n)
	return args.Error(0)
}

func (m *JobRepoMock) ClaimProcessing(ctx context.Context, job *models.Job, limit int, now time.Time) (bool, error) {
	args := m.Called(ctx, job, limit, now)
	return args.Bool(0), args.Error(1)
}

func (m *JobRepoMock) MarkDispatched(ctx context.Context, jobID, providerJobID string) error {
	args := m.Called(ctx, jobID, providerJobID)
	return args.Error(0)
}

func (m *JobRepoMock) UpdateMetadata(ctx context.Context, jobID string, metadata datatypes.JSON) error {
	args := m.Called(ctx, jobID, metadata)
	return args.Error(0)
}

func (m *JobRepoMock) SaveOutput(ctx context.Context, jobID string, output datatypes.JSON, actualCredits int) error {
	args := m.Called(ctx, jobID, output, actualCredits)
	return args.Error(0)
}

func (m *JobRepoMock) RequeueForRetry(ctx context.Context, jobID string, attempt int, nextRetryAt time.Time, category, message string) (bool, error) {
	args := m.Called(ctx, jobID, attempt, nextRetryAt, category, message)
	return args.Bool(0), args.Error(1)
}

func (m *JobRepoMock) FinishFromProcessing(ctx context.Context, jobID string, to config.JobStatus, now time.Time, category, message string) (bool, error) {
	args := m.Called(ctx, jobID, to, now, category, message)
	return args.Bool(0), args.Error(1)
}

func (m *JobRepoMock) CancelQueued(ctx context.Context, jobID string, now time.Time) (bool, error) {
	args := m.Called(ctx, jobID, now)
	return args.Bool(0), args.Error(1)
}

func (m *JobRepoMock) ListStaleProcessing(ctx context.Context, cutoff time.Time) ([]models.Job, error) {
	args := m.Called(ctx, cutoff)

	jobs, _ := args.Get(0).([]models.Job)
	return jobs, args.Error(1)
}

func (m *JobRepoMock) ListQueued(ctx context.Context) ([]models.Job, error) {
	args := m.Called(ctx)

	jobs, _ := args.Get(0).([]models.Job)
	return jobs, args.Error(1)
}

func (m *JobRepoMock) UpdatePriority(ctx context.Context, jobID string, priority int) error {
	args := m.Called(ctx, jobID, priority)
	return args.Error(0)
}

func (m *JobRepoMock) UsersWithDispatchableJobs(ctx context.Context, now time.Time) ([]string, error) {
	args := m.Called(ctx, now)

	users, _ := args.Get(0).([]string)
	return users, args.Error(1)
}

func (m *JobRepoMock) CountByStatus(ctx context.Context) (map[config.JobStatus]int, error) {
	args := m.Called(ctx)

	counts, _ := args.Get(0).(map[config.JobStatus]int)
	return counts, args.Error(1)
}

func (m *JobRepoMock) RecentCompleted(ctx context.Context, limit int) ([]models.Job, error) {
	args := m.Called(ctx, limit)

	jobs, _ := args.Get(0).([]models.Job)
	return jobs, args.Error(1)
}

func (m *JobRepoMock) CountQueued(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *JobRepoMock) CountProcessing(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}
