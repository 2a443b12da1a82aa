package models

import (
	"fmt"
	"time"
)

// WithdrawalMethod is the payout channel requested by the user.
type WithdrawalMethod string

const (
	MethodUPI     WithdrawalMethod = "UPI"
	MethodBank    WithdrawalMethod = "BANK"
	MethodPaytm   WithdrawalMethod = "PAYTM"
	MethodVoucher WithdrawalMethod = "VOUCHER"
)

// ParseWithdrawalMethod rejects unknown methods instead of coercing them.
func ParseWithdrawalMethod(s string) (WithdrawalMethod, error) {
	switch WithdrawalMethod(s) {
	case MethodUPI, MethodBank, MethodPaytm, MethodVoucher:
		return WithdrawalMethod(s), nil
	}
	return "", fmt.Errorf("unknown withdrawal method %q", s)
}

// WithdrawalStatus is the lifecycle state of a withdrawal request.
type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "PENDING"
	WithdrawalProcessing WithdrawalStatus = "PROCESSING"
	WithdrawalCompleted  WithdrawalStatus = "COMPLETED"
	WithdrawalFailed     WithdrawalStatus = "FAILED"
)

// ParseWithdrawalStatus rejects unknown statuses instead of coercing them.
func ParseWithdrawalStatus(s string) (WithdrawalStatus, error) {
	switch WithdrawalStatus(s) {
	case WithdrawalPending, WithdrawalProcessing, WithdrawalCompleted, WithdrawalFailed:
		return WithdrawalStatus(s), nil
	}
	return "", fmt.Errorf("unknown withdrawal status %q", s)
}

// Terminal reports whether no further transitions are allowed from the status.
func (s WithdrawalStatus) Terminal() bool {
	return s == WithdrawalCompleted || s == WithdrawalFailed
}

// Withdrawal represents one payout request against a user's available
// cashback. Funds are reserved out of the available balance the moment the
// request is accepted, not at settlement time.
type Withdrawal struct {
	ID                  string           `json:"withdrawal_id" db:"id"`
	UserID              string           `json:"user_id" db:"user_id"`
	Amount              int64            `json:"amount" db:"amount"`
	Method              WithdrawalMethod `json:"method" db:"method"`
	Status              WithdrawalStatus `json:"status" db:"status"`
	AdminNotes          string           `json:"admin_notes,omitempty" db:"admin_notes"`
	LinkedTransactionID string           `json:"linked_transaction_id,omitempty" db:"linked_transaction_id"`
	CreatedAt           time.Time        `json:"created_at" db:"created_at"`
	ProcessedAt         *time.Time       `json:"processed_at,omitempty" db:"processed_at"`
}
