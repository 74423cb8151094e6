package credit

import (
	"context"
	"errors"
	"fmt"

	"github.com/printglide/renderqueue/internal/models"
)

// ErrInsufficientCredits is returned when a reserve or debit would overdraw
// the balance. The conditional update in the repository is what enforces it.
var ErrInsufficientCredits = errors.New("insufficient credits")

// ErrReservationResolved is returned when a settle or refund finds the
// reservation already resolved; callers treat it as a no-op signal.
var ErrReservationResolved = errors.New("reservation already resolved")

// CreditRepoInterface is the persistence contract the ledger runs on. Every
// method is atomic with respect to concurrent calls for the same user.
type CreditRepoInterface interface {
	EnsureBalance(ctx context.Context, userID string) error
	GetBalance(ctx context.Context, userID string) (*models.CreditBalance, error)
	ReserveBatch(ctx context.Context, userID string, reservations []*models.CreditReservation) error
	SettleReservation(ctx context.Context, jobID string, actual int, reason string) (*models.CreditReservation, bool, error)
	RefundReservation(ctx context.Context, jobID string, reason string) (*models.CreditReservation, bool, error)
	Adjust(ctx context.Context, userID string, kind models.LedgerEntryKind, amount int, reason string) error
	SumEntries(ctx context.Context, userID string) (int, error)
	ListEntries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error)
}

// Ledger owns all credit balance mutation. Jobs never touch balances
// directly; they hold reservations that the ledger resolves exactly once.
type Ledger struct {
	repo CreditRepoInterface
}

func NewLedger(repo CreditRepoInterface) *Ledger {
	return &Ledger{repo: repo}
}

// Reserve atomically holds the summed amount for a batch of jobs,
// all-or-nothing. Each job gets its own reservation so terminal transitions
// settle or refund independently.
func (l *Ledger) Reserve(ctx context.Context, userID string, reservations []*models.CreditReservation) error {
	if len(reservations) == 0 {
		return nil
	}
	if err := l.repo.EnsureBalance(ctx, userID); err != nil {
		return fmt.Errorf("ensure balance: %w", err)
	}
	return l.repo.ReserveBatch(ctx, userID, reservations)
}

// Settle resolves a job's reservation at the completed transition. A
// shortfall between reserved and actual refunds the difference; an excess is
// clamped to the reserved amount rather than overdrawing the user.
func (l *Ledger) Settle(ctx context.Context, jobID string, actual int) (int, error) {
	res, applied, err := l.repo.SettleReservation(ctx, jobID, actual, "job completed")
	if err != nil {
		return 0, err
	}
	if !applied {
		return 0, ErrReservationResolved
	}
	if actual > res.Amount {
		actual = res.Amount
	}
	return actual, nil
}

// RefundJob returns a job's full reservation to the balance; used for
// permanent failure and cancellation. Resolving twice is a no-op.
func (l *Ledger) RefundJob(ctx context.Context, jobID, reason string) error {
	_, applied, err := l.repo.RefundReservation(ctx, jobID, reason)
	if err != nil {
		return err
	}
	if !applied {
		return ErrReservationResolved
	}
	return nil
}

// Grant adds purchased or promotional credits to a user's balance.
func (l *Ledger) Grant(ctx context.Context, userID string, amount int, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("grant amount must be positive")
	}
	if err := l.repo.EnsureBalance(ctx, userID); err != nil {
		return fmt.Errorf("ensure balance: %w", err)
	}
	return l.repo.Adjust(ctx, userID, models.LedgerGrant, amount, reason)
}

// Debit removes credits out of band (corrections, chargebacks). Not part of
// the job lifecycle; jobs spend only through reservations.
func (l *Ledger) Debit(ctx context.Context, userID string, amount int, reason string) error {
	if amount <= 0 {
		return fmt.Errorf("debit amount must be positive")
	}
	return l.repo.Adjust(ctx, userID, models.LedgerDebit, amount, reason)
}

// Balance returns the user's current spendable balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (int, error) {
	if err := l.repo.EnsureBalance(ctx, userID); err != nil {
		return 0, fmt.Errorf("ensure balance: %w", err)
	}
	bal, err := l.repo.GetBalance(ctx, userID)
	if err != nil {
		return 0, err
	}
	return bal.Balance, nil
}

// Entries lists the most recent ledger entries for audit.
func (l *Ledger) Entries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	return l.repo.ListEntries(ctx, userID, limit)
}

// VerifyBalance re-derives the balance from the entry log and reports
// whether it matches the materialized value.
func (l *Ledger) VerifyBalance(ctx context.Context, userID string) (bool, error) {
	bal, err := l.repo.GetBalance(ctx, userID)
	if err != nil {
		return false, err
	}
	sum, err := l.repo.SumEntries(ctx, userID)
	if err != nil {
		return false, err
	}
	return sum == bal.Balance, nil
}
