package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/printglide/renderqueue/internal/config"
	"github.com/printglide/renderqueue/internal/models"
)

type ProviderMock struct {
	mock.Mock
}

func (m *ProviderMock) DispatchJob(ctx context.Context, job *models.Job) (string, error) {
	args := m.Called(ctx, job)
	return args.String(0), args.Error(1)
}

type MembershipMock struct {
	mock.Mock
}

func (m *MembershipMock) TierFor(ctx context.Context, userID string) (config.Tier, error) {
	args := m.Called(ctx, userID)

	tier, _ := args.Get(0).(config.Tier)
	return tier, args.Error(1)
}

type DequeuerMock struct {
	mock.Mock
}

func (m *DequeuerMock) DequeueNext(ctx context.Context, userID string) (*models.Job, error) {
	args := m.Called(ctx, userID)

	job, _ := args.Get(0).(*models.Job)
	return job, args.Error(1)
}

type EventRepoMock struct {
	mock.Mock
}

func (m *EventRepoMock) Record(ctx context.Context, eventKey, jobID, status string) (bool, error) {
	args := m.Called(ctx, eventKey, jobID, status)
	return args.Bool(0), args.Error(1)
}

func (m *EventRepoMock) Forget(ctx context.Context, eventKey string) error {
	args := m.Called(ctx, eventKey)
	return args.Error(0)
}

type MachineMock struct {
	mock.Mock
}

func (m *MachineMock) Progress(ctx context.Context, job *models.Job, providerStatus, logs string) error {
	args := m.Called(ctx, job, providerStatus, logs)
	return args.Error(0)
}

func (m *MachineMock) Succeed(ctx context.Context, job *models.Job, output []string, processingSeconds float64) error {
	args := m.Called(ctx, job, output, processingSeconds)
	return args.Error(0)
}

func (m *MachineMock) Fail(ctx context.Context, job *models.Job, message string) error {
	args := m.Called(ctx, job, message)
	return args.Error(0)
}

func (m *MachineMock) Cancel(ctx context.Context, job *models.Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MachineMock) DispatchNext(ctx context.Context, userID string) {
	m.Called(ctx, userID)
}

func (m *MachineMock) SweepStale(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MachineMock) RefreshPriorities(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}
