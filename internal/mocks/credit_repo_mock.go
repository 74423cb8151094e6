package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/printglide/renderqueue/internal/models"
)

type CreditRepoMock struct {
	mock.Mock
}

func (m *CreditRepoMock) EnsureBalance(ctx context.Context, userID string) error {
	args := m.Called(ctx, userID)
	return args.Error(0)
}

func (m *CreditRepoMock) GetBalance(ctx context.Context, userID string) (*models.CreditBalance, error) {
	args := m.Called(ctx, userID)

	bal, _ := args.Get(0).(*models.CreditBalance)
	return bal, args.Error(1)
}

func (m *CreditRepoMock) ReserveBatch(ctx context.Context, userID string, reservations []*models.CreditReservation) error {
	args := m.Called(ctx, userID, reservations)
	return args.Error(0)
}

func (m *CreditRepoMock) SettleReservation(ctx context.Context, jobID string, actual int, reason string) (*models.CreditReservation, bool, error) {
	args := m.Called(ctx, jobID, actual, reason)

	res, _ := args.Get(0).(*models.CreditReservation)
	return res, args.Bool(1), args.Error(2)
}

func (m *CreditRepoMock) RefundReservation(ctx context.Context, jobID string, reason string) (*models.CreditReservation, bool, error) {
	args := m.Called(ctx, jobID, reason)

	res, _ := args.Get(0).(*models.CreditReservation)
	return res, args.Bool(1), args.Error(2)
}

func (m *CreditRepoMock) Adjust(ctx context.Context, userID string, kind models.LedgerEntryKind, amount int, reason string) error {
	args := m.Called(ctx, userID, kind, amount, reason)
	return args.Error(0)
}

func (m *CreditRepoMock) SumEntries(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *CreditRepoMock) ListEntries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	args := m.Called(ctx, userID, limit)

	entries, _ := args.Get(0).([]models.LedgerEntry)
	return entries, args.Error(1)
}
