package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/printglide/renderqueue/internal/models"
)

type LedgerMock struct {
	mock.Mock
}

func (m *LedgerMock) Reserve(ctx context.Context, userID string, reservations []*models.CreditReservation) error {
	args := m.Called(ctx, userID, reservations)
	return args.Error(0)
}

func (m *LedgerMock) Settle(ctx context.Context, jobID string, actual int) (int, error) {
	args := m.Called(ctx, jobID, actual)
	return args.Int(0), args.Error(1)
}

func (m *LedgerMock) RefundJob(ctx context.Context, jobID, reason string) error {
	args := m.Called(ctx, jobID, reason)
	return args.Error(0)
}

func (m *LedgerMock) Grant(ctx context.Context, userID string, amount int, reason string) error {
	args := m.Called(ctx, userID, amount, reason)
	return args.Error(0)
}

func (m *LedgerMock) Debit(ctx context.Context, userID string, amount int, reason string) error {
	args := m.Called(ctx, userID, amount, reason)
	return args.Error(0)
}

func (m *LedgerMock) Balance(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *LedgerMock) Entries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	args := m.Called(ctx, userID, limit)

	entries, _ := args.Get(0).([]models.LedgerEntry)
	return entries, args.Error(1)
}
