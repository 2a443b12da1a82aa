package models

import (
	"time"
)

// AuditOperation tags the kind of balance-affecting operation an entry records.
type AuditOperation string

const (
	OpCreditPending     AuditOperation = "CREDIT_PENDING"
	OpConfirm           AuditOperation = "CONFIRM"
	OpReverse           AuditOperation = "REVERSE"
	OpReserveWithdrawal AuditOperation = "RESERVE_WITHDRAWAL"
	OpSettleWithdrawal  AuditOperation = "SETTLE_WITHDRAWAL"
	OpFailWithdrawal    AuditOperation = "FAIL_WITHDRAWAL"
)

// AuditEntry is the immutable record of one balance-affecting operation.
// SequenceNo is strictly increasing per account and never reused.
type AuditEntry struct {
	SequenceNo     int64          `json:"sequence_no" db:"seq_no"`
	AccountID      string         `json:"account_id" db:"account_id"`
	Operation      AuditOperation `json:"operation" db:"operation"`
	DeltaAvailable int64          `json:"delta_available" db:"delta_available"`
	DeltaPending   int64          `json:"delta_pending" db:"delta_pending"`
	ReferenceID    string         `json:"reference_id" db:"reference_id"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// AdjustmentDebt flags a shortfall left behind when a confirmed transaction
// was cancelled after its cashback had already been withdrawn. The balance is
// never driven negative; the debt is handed to the collections workflow.
type AdjustmentDebt struct {
	ID            int       `json:"id" db:"id"`
	AccountID     string    `json:"account_id" db:"account_id"`
	TransactionID string    `json:"transaction_id" db:"transaction_id"`
	Amount        int64     `json:"amount" db:"amount"`
	Reason        string    `json:"reason" db:"reason"`
	CreatedAt     time.Time `json:"created_at" db:"created_at"`
}

// ReconciliationReport compares an account's live counters with balances
// recomputed from its audit trail. Drift is a fatal consistency bug and is
// reported, never silently corrected.
type ReconciliationReport struct {
	UserID            string   `json:"user_id"`
	Live              Balances `json:"live"`
	Replayed          Balances `json:"replayed"`
	EntryCount        int      `json:"entry_count"`
	ReservedWithdrawn int64    `json:"reserved_withdrawn"`
	Consistent        bool     `json:"consistent"`
	InvariantHolds    bool     `json:"invariant_holds"`
}
