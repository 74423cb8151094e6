package models

import "time"

// CreditBalance is the spendable balance for one user. Mutated only through
// ledger operations; the conditional-update guards in the credit repository
// keep it from ever going negative.
type CreditBalance struct {
	UserID    string    `gorm:"type:varchar(64);primaryKey"`
	Balance   int       `gorm:"not null;default:0"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

type ReservationStatus string

const (
	ReservationHeld     ReservationStatus = "held"
	ReservationSettled  ReservationStatus = "settled"
	ReservationRefunded ReservationStatus = "refunded"
)

// CreditReservation is a hold created at admission and resolved exactly once
// at a terminal transition. Resolution goes through a status compare-and-swap
// so duplicate terminal webhooks cannot settle or refund twice.
type CreditReservation struct {
	ID            string            `gorm:"type:varchar(36);primaryKey"`
	UserID        string            `gorm:"type:varchar(64);not null;index"`
	JobID         string            `gorm:"type:varchar(36);not null;index"`
	Amount        int               `gorm:"not null"`
	ActualAmount  int               `gorm:"default:0"`
	Status        ReservationStatus `gorm:"type:varchar(16);not null;default:'held'"`
	CreatedAt     time.Time         `gorm:"autoCreateTime"`
	ResolvedAt    *time.Time
	ResolveReason string `gorm:"type:varchar(128)"`
}

type LedgerEntryKind string

const (
	LedgerReserve LedgerEntryKind = "reserve"
	LedgerRefund  LedgerEntryKind = "refund"
	LedgerDebit   LedgerEntryKind = "debit"
	LedgerGrant   LedgerEntryKind = "grant"
)

// LedgerEntry is the immutable audit record behind every balance mutation.
// Amount is signed: reserves and debits are negative, refunds and grants
// positive, so summing a user's entries re-derives the balance.
type LedgerEntry struct {
	ID        uint            `gorm:"primaryKey;autoIncrement"`
	UserID    string          `gorm:"type:varchar(64);not null;index"`
	JobID     string          `gorm:"type:varchar(36);index"`
	Kind      LedgerEntryKind `gorm:"type:varchar(16);not null"`
	Amount    int             `gorm:"not null"`
	Reason    string          `gorm:"type:varchar(255)"`
	CreatedAt time.Time       `gorm:"autoCreateTime"`
}
