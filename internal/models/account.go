package models

import (
	"time"
)

// LedgerAccount holds one user's cashback balance counters.
// All amounts are in minor currency units (paise).
type LedgerAccount struct {
	UserID            string    `json:"user_id" db:"user_id"`
	TotalCashback     int64     `json:"total_cashback" db:"total_cashback"`
	AvailableCashback int64     `json:"available_cashback" db:"available_cashback"`
	PendingCashback   int64     `json:"pending_cashback" db:"pending_cashback"`
	Version           int       `json:"version" db:"version"` // for optimistic locking
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time `json:"updated_at" db:"updated_at"`
}

// Balances is a consistent read-only view of an account's counters.
type Balances struct {
	UserID            string `json:"user_id"`
	TotalCashback     int64  `json:"total_cashback"`
	AvailableCashback int64  `json:"available_cashback"`
	PendingCashback   int64  `json:"pending_cashback"`
	Version           int    `json:"version"`
}
