package models

import (
	"fmt"
	"time"
)

// TransactionStatus is the lifecycle state of a cashback transaction.
type TransactionStatus string

const (
	TransactionPending   TransactionStatus = "PENDING"
	TransactionConfirmed TransactionStatus = "CONFIRMED"
	TransactionCancelled TransactionStatus = "CANCELLED"
	TransactionFailed    TransactionStatus = "FAILED"
)

// ParseTransactionStatus rejects unknown statuses instead of coercing them.
func ParseTransactionStatus(s string) (TransactionStatus, error) {
	switch TransactionStatus(s) {
	case TransactionPending, TransactionConfirmed, TransactionCancelled, TransactionFailed:
		return TransactionStatus(s), nil
	}
	return "", fmt.Errorf("unknown transaction status %q", s)
}

// Terminal reports whether no further transitions are allowed from the status.
func (s TransactionStatus) Terminal() bool {
	return s == TransactionCancelled || s == TransactionFailed
}

// CashbackTransaction represents one merchant purchase event and the cashback
// it earns. Amount and CashbackAmount are in minor currency units.
type CashbackTransaction struct {
	ID             string            `json:"transaction_id" db:"id"`
	UserID         string            `json:"user_id" db:"user_id"`
	StoreID        string            `json:"store_id" db:"store_id"`
	OrderID        string            `json:"order_id" db:"order_id"`
	Amount         int64             `json:"amount" db:"amount"`
	CashbackRate   float64           `json:"cashback_rate" db:"cashback_rate"`
	CashbackAmount int64             `json:"cashback_amount" db:"cashback_amount"`
	Status         TransactionStatus `json:"status" db:"status"`
	StatusReason   string            `json:"status_reason,omitempty" db:"status_reason"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at" db:"updated_at"`
}
