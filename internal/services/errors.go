package services

import (
	"errors"
)

// Every failure mode is an explicit result value so that callers (webhook
// retry loops, admin tools) can make policy decisions. Nothing here is ever
// raised as a panic.
var (
	ErrNotFound           = errors.New("record not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrInsufficientFunds  = errors.New("insufficient available cashback")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrInvariantViolation = errors.New("ledger invariant violation")
	ErrOptimisticLock     = errors.New("optimistic lock failed")
	ErrLedgerDrift        = errors.New("audit replay does not match live balances")
)
