package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/printglide/renderqueue/internal/config"
	"github.com/printglide/renderqueue/internal/dto"
)

type QueueManagerMock struct {
	mock.Mock
}

func (m *QueueManagerMock) Admit(ctx context.Context, userID string, tier config.Tier, specs []dto.JobSpecDTO) (*dto.SubmitBatchResponseDTO, error) {
	args := m.Called(ctx, userID, tier, specs)

	resp, _ := args.Get(0).(*dto.SubmitBatchResponseDTO)
	return resp, args.Error(1)
}

func (m *QueueManagerMock) Stats(ctx context.Context) (*dto.QueueStatsDTO, error) {
	args := m.Called(ctx)

	stats, _ := args.Get(0).(*dto.QueueStatsDTO)
	return stats, args.Error(1)
}
