package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/printglide/renderqueue/internal/credit"
	"github.com/printglide/renderqueue/internal/models"
)

type CreditRepository struct {
	db *gorm.DB
}

func NewCreditRepository(db *gorm.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

var _ credit.CreditRepoInterface = (*CreditRepository)(nil)

// EnsureBalance creates the user's balance row if it does not exist yet.
func (r *CreditRepository) EnsureBalance(ctx context.Context, userID string) error {
	bal := models.CreditBalance{UserID: userID}
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		FirstOrCreate(&bal).Error; err != nil {
		return fmt.Errorf("ensure balance: %w", err)
	}
	return nil
}

func (r *CreditRepository) GetBalance(ctx context.Context, userID string) (*models.CreditBalance, error) {
	var bal models.CreditBalance
	if err := r.db.WithContext(ctx).
		First(&bal, "user_id = ?", userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("balance not found: %w", err)
		}
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return &bal, nil
}

// ReserveBatch holds the summed amount for a batch in one transaction. The
// guarded balance decrement is the overdraw check; if it matches no row the
// whole batch is rejected with credit.ErrInsufficientCredits.
func (r *CreditRepository) ReserveBatch(ctx context.Context, userID string, reservations []*models.CreditReservation) error {
	total := 0
	for _, res := range reservations {
		total += res.Amount
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.CreditBalance{}).
			Where("user_id = ? AND balance >= ?", userID, total).
			Update("balance", gorm.Expr("balance - ?", total))
		if res.Error != nil {
			return fmt.Errorf("reserve balance: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return credit.ErrInsufficientCredits
		}

		if err := tx.Create(reservations).Error; err != nil {
			return fmt.Errorf("create reservations: %w", err)
		}

		entries := make([]models.LedgerEntry, len(reservations))
		for i, hold := range reservations {
			entries[i] = models.LedgerEntry{
				UserID: userID,
				JobID:  hold.JobID,
				Kind:   models.LedgerReserve,
				Amount: -hold.Amount,
				Reason: "reserved at admission",
			}
		}
		if err := tx.Create(&entries).Error; err != nil {
			return fmt.Errorf("create ledger entries: %w", err)
		}
		return nil
	})
}

// SettleReservation resolves a held reservation as settled, refunding any
// shortfall between reserved and actual. The held-to-settled status guard
// means a duplicate settle reports applied=false and changes nothing.
func (r *CreditRepository) SettleReservation(ctx context.Context, jobID string, actual int, reason string) (*models.CreditReservation, bool, error) {
	var hold models.CreditReservation
	applied := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&hold, "job_id = ?", jobID).Error; err != nil {
			return fmt.Errorf("load reservation: %w", err)
		}

		charged := actual
		if charged > hold.Amount {
			charged = hold.Amount
		}

		now := time.Now().UTC()
		res := tx.Model(&models.CreditReservation{}).
			Where("id = ? AND status = ?", hold.ID, models.ReservationHeld).
			Updates(map[string]any{
				"status":         models.ReservationSettled,
				"actual_amount":  charged,
				"resolved_at":    now,
				"resolve_reason": reason,
			})
		if res.Error != nil {
			return fmt.Errorf("settle reservation: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true

		if diff := hold.Amount - charged; diff > 0 {
			if err := tx.Model(&models.CreditBalance{}).
				Where("user_id = ?", hold.UserID).
				Update("balance", gorm.Expr("balance + ?", diff)).Error; err != nil {
				return fmt.Errorf("refund shortfall: %w", err)
			}
			if err := tx.Create(&models.LedgerEntry{
				UserID: hold.UserID,
				JobID:  jobID,
				Kind:   models.LedgerRefund,
				Amount: diff,
				Reason: "settlement shortfall",
			}).Error; err != nil {
				return fmt.Errorf("create refund entry: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return &hold, applied, nil
}

// RefundReservation resolves a held reservation as refunded and returns the
// full amount to the balance. Duplicate refunds report applied=false.
func (r *CreditRepository) RefundReservation(ctx context.Context, jobID string, reason string) (*models.CreditReservation, bool, error) {
	var hold models.CreditReservation
	applied := false

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&hold, "job_id = ?", jobID).Error; err != nil {
			return fmt.Errorf("load reservation: %w", err)
		}

		now := time.Now().UTC()
		res := tx.Model(&models.CreditReservation{}).
			Where("id = ? AND status = ?", hold.ID, models.ReservationHeld).
			Updates(map[string]any{
				"status":         models.ReservationRefunded,
				"resolved_at":    now,
				"resolve_reason": reason,
			})
		if res.Error != nil {
			return fmt.Errorf("refund reservation: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true

		if err := tx.Model(&models.CreditBalance{}).
			Where("user_id = ?", hold.UserID).
			Update("balance", gorm.Expr("balance + ?", hold.Amount)).Error; err != nil {
			return fmt.Errorf("refund balance: %w", err)
		}
		return tx.Create(&models.LedgerEntry{
			UserID: hold.UserID,
			JobID:  jobID,
			Kind:   models.LedgerRefund,
			Amount: hold.Amount,
			Reason: reason,
		}).Error
	})
	if err != nil {
		return nil, false, err
	}
	return &hold, applied, nil
}

// Adjust applies an out-of-band grant or debit; debits are guarded against
// overdraw the same way reserves are.
func (r *CreditRepository) Adjust(ctx context.Context, userID string, kind models.LedgerEntryKind, amount int, reason string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var res *gorm.DB
		signed := amount
		switch kind {
		case models.LedgerGrant:
			res = tx.Model(&models.CreditBalance{}).
				Where("user_id = ?", userID).
				Update("balance", gorm.Expr("balance + ?", amount))
		case models.LedgerDebit:
			signed = -amount
			res = tx.Model(&models.CreditBalance{}).
				Where("user_id = ? AND balance >= ?", userID, amount).
				Update("balance", gorm.Expr("balance - ?", amount))
		default:
			return fmt.Errorf("unsupported adjustment kind: %s", kind)
		}
		if res.Error != nil {
			return fmt.Errorf("adjust balance: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			if kind == models.LedgerDebit {
				return credit.ErrInsufficientCredits
			}
			return fmt.Errorf("balance row missing for user %s", userID)
		}

		return tx.Create(&models.LedgerEntry{
			UserID: userID,
			Kind:   kind,
			Amount: signed,
			Reason: reason,
		}).Error
	})
}

// SumEntries re-derives a user's balance from the signed entry log.
func (r *CreditRepository) SumEntries(ctx context.Context, userID string) (int, error) {
	var sum *int
	if err := r.db.WithContext(ctx).Model(&models.LedgerEntry{}).
		Where("user_id = ?", userID).
		Select("sum(amount)").
		Scan(&sum).Error; err != nil {
		return 0, fmt.Errorf("sum entries: %w", err)
	}
	if sum == nil {
		return 0, nil
	}
	return *sum, nil
}

func (r *CreditRepository) ListEntries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("id DESC").
		Limit(limit).
		Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	return entries, nil
}
