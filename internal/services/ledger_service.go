package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/rupeeback/backend/internal/models"
)

// LedgerService owns the per-user balance counters and the audit trail. The
// transaction and withdrawal services are its only callers; every mutation
// goes through ApplyDeltaTx under the account's row lock, and the balance
// update plus the audit-entry append commit as one database transaction.
type LedgerService struct {
	db    *sql.DB
	audit *AuditLogger
}

func NewLedgerService(db *sql.DB) *LedgerService {
	return &LedgerService{
		db:    db,
		audit: NewAuditLogger(),
	}
}

// lockAccountTx serializes all mutations for one account. Operations on
// different accounts take different row locks and proceed in parallel.
func (s *LedgerService) lockAccountTx(tx *sql.Tx, userID string) (*models.LedgerAccount, error) {
	var account models.LedgerAccount
	err := tx.QueryRow(`
		SELECT user_id, total_cashback, available_cashback, pending_cashback, version
		FROM ledger_accounts
		WHERE user_id = $1
		FOR UPDATE`, userID).Scan(
		&account.UserID, &account.TotalCashback, &account.AvailableCashback,
		&account.PendingCashback, &account.Version,
	)
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// EnsureAccountTx locks the user's account row, creating it first if this is
// the user's first transaction. Accounts are never deleted.
func (s *LedgerService) EnsureAccountTx(tx *sql.Tx, userID string) (*models.LedgerAccount, error) {
	account, err := s.lockAccountTx(tx, userID)
	if err == nil {
		return account, nil
	}
	if err != sql.ErrNoRows {
		return nil, err
	}

	if _, err := tx.Exec(`
		INSERT INTO ledger_accounts (user_id, total_cashback, available_cashback, pending_cashback, version, created_at, updated_at)
		VALUES ($1, 0, 0, 0, 1, NOW(), NOW())
		ON CONFLICT (user_id) DO NOTHING`, userID); err != nil {
		return nil, err
	}

	return s.lockAccountTx(tx, userID)
}

// ApplyDeltaTx atomically adjusts both counters and appends the matching
// audit entry. If the result would make either counter negative nothing is
// written and ErrInvariantViolation is returned.
func (s *LedgerService) ApplyDeltaTx(tx *sql.Tx, userID string, op models.AuditOperation, deltaAvailable, deltaPending int64, referenceID string) (*models.Balances, error) {
	account, err := s.EnsureAccountTx(tx, userID)
	if err != nil {
		return nil, err
	}
	return s.applyLockedTx(tx, account, op, deltaAvailable, deltaPending, referenceID)
}

func (s *LedgerService) applyLockedTx(tx *sql.Tx, account *models.LedgerAccount, op models.AuditOperation, deltaAvailable, deltaPending int64, referenceID string) (*models.Balances, error) {
	newAvailable := account.AvailableCashback + deltaAvailable
	newPending := account.PendingCashback + deltaPending
	if newAvailable < 0 || newPending < 0 {
		s.audit.LogError(referenceID, account.UserID, ErrInvariantViolation)
		return nil, fmt.Errorf("%w: %s on account %s would leave available=%d pending=%d",
			ErrInvariantViolation, op, account.UserID, newAvailable, newPending)
	}
	newTotal := account.TotalCashback + totalDelta(op, deltaAvailable, deltaPending)

	result, err := tx.Exec(`
		UPDATE ledger_accounts
		SET total_cashback = $1, available_cashback = $2, pending_cashback = $3, version = version + 1, updated_at = $4
		WHERE user_id = $5 AND version = $6`,
		newTotal, newAvailable, newPending, time.Now(), account.UserID, account.Version)
	if err != nil {
		return nil, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("%w for account %s", ErrOptimisticLock, account.UserID)
	}

	if err := s.appendEntryTx(tx, account.UserID, op, deltaAvailable, deltaPending, referenceID); err != nil {
		return nil, err
	}

	s.audit.LogApply(op, account.UserID, referenceID, deltaAvailable, deltaPending)

	return &models.Balances{
		UserID:            account.UserID,
		TotalCashback:     newTotal,
		AvailableCashback: newAvailable,
		PendingCashback:   newPending,
		Version:           account.Version + 1,
	}, nil
}

// totalDelta maps an operation onto its effect on lifetime earnings.
// Transaction operations move earnings in and out; withdrawal operations only
// move funds between the available and reserved buckets, so total stays put.
func totalDelta(op models.AuditOperation, deltaAvailable, deltaPending int64) int64 {
	switch op {
	case models.OpCreditPending, models.OpConfirm, models.OpReverse:
		return deltaAvailable + deltaPending
	default:
		return 0
	}
}

// appendEntryTx assigns the next per-account sequence number. Safe without a
// table lock because the caller holds the account row lock.
func (s *LedgerService) appendEntryTx(tx *sql.Tx, accountID string, op models.AuditOperation, deltaAvailable, deltaPending int64, referenceID string) error {
	_, err := tx.Exec(`
		INSERT INTO audit_entries (account_id, seq_no, operation, delta_available, delta_pending, reference_id, created_at)
		SELECT $1, COALESCE(MAX(seq_no), 0) + 1, $2, $3, $4, $5, $6
		FROM audit_entries WHERE account_id = $1`,
		accountID, string(op), deltaAvailable, deltaPending, referenceID, time.Now())
	return err
}

// ReverseConfirmedTx claws back confirmed cashback when a merchant cancels an
// already-confirmed transaction. If the user has withdrawn part of the funds,
// only what is still available is debited and the shortfall is recorded as an
// adjustment debt for the collections workflow. Returns the outstanding debt.
func (s *LedgerService) ReverseConfirmedTx(tx *sql.Tx, userID string, amount int64, transactionID, reason string) (int64, error) {
	account, err := s.EnsureAccountTx(tx, userID)
	if err != nil {
		return 0, err
	}

	debit := amount
	if account.AvailableCashback < amount {
		debit = account.AvailableCashback
	}

	if _, err := s.applyLockedTx(tx, account, models.OpReverse, -debit, 0, transactionID); err != nil {
		return 0, err
	}

	debt := amount - debit
	if debt > 0 {
		if _, err := tx.Exec(`
			INSERT INTO adjustment_debts (account_id, transaction_id, amount, reason, created_at)
			VALUES ($1, $2, $3, $4, $5)`,
			userID, transactionID, debt, reason, time.Now()); err != nil {
			return 0, err
		}
		s.audit.LogDebt(userID, transactionID, debt)
	}

	return debt, nil
}

// Snapshot returns a consistent read-only view of the account's counters. A
// user with no transactions yet reads as all zeroes.
func (s *LedgerService) Snapshot(ctx context.Context, userID string) (*models.Balances, error) {
	var b models.Balances
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, total_cashback, available_cashback, pending_cashback, version
		FROM ledger_accounts
		WHERE user_id = $1`, userID).Scan(
		&b.UserID, &b.TotalCashback, &b.AvailableCashback, &b.PendingCashback, &b.Version,
	)
	if err == sql.ErrNoRows {
		return &models.Balances{UserID: userID}, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// Replay returns the ordered audit trail for one account.
func (s *LedgerService) Replay(ctx context.Context, accountID string) ([]models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, seq_no, operation, delta_available, delta_pending, reference_id, created_at
		FROM audit_entries
		WHERE account_id = $1
		ORDER BY seq_no`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.AuditEntry{}
	for rows.Next() {
		var e models.AuditEntry
		var op string
		if err := rows.Scan(&e.AccountID, &e.SequenceNo, &op, &e.DeltaAvailable, &e.DeltaPending, &e.ReferenceID, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Operation = models.AuditOperation(op)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Reconcile recomputes the account's balances from its audit trail and
// compares them with the live counters, all under the account row lock so the
// comparison sees a frozen state. Drift is reported, never corrected here.
func (s *LedgerService) Reconcile(ctx context.Context, userID string) (*models.ReconciliationReport, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	account, err := s.lockAccountTx(tx, userID)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rows, err := tx.Query(`
		SELECT operation, delta_available, delta_pending
		FROM audit_entries
		WHERE account_id = $1
		ORDER BY seq_no`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	replayed := models.Balances{UserID: userID}
	count := 0
	for rows.Next() {
		var op string
		var deltaAvailable, deltaPending int64
		if err := rows.Scan(&op, &deltaAvailable, &deltaPending); err != nil {
			return nil, err
		}
		replayed.AvailableCashback += deltaAvailable
		replayed.PendingCashback += deltaPending
		replayed.TotalCashback += totalDelta(models.AuditOperation(op), deltaAvailable, deltaPending)
		count++
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reserved-or-settled withdrawals make up the remainder of lifetime
	// earnings: total == available + pending + reserved.
	var reserved int64
	if err := tx.QueryRow(`
		SELECT COALESCE(SUM(amount), 0)
		FROM withdrawals
		WHERE user_id = $1 AND status IN ('PENDING', 'PROCESSING', 'COMPLETED')`, userID).Scan(&reserved); err != nil {
		return nil, err
	}

	live := models.Balances{
		UserID:            account.UserID,
		TotalCashback:     account.TotalCashback,
		AvailableCashback: account.AvailableCashback,
		PendingCashback:   account.PendingCashback,
		Version:           account.Version,
	}
	replayed.Version = account.Version

	report := &models.ReconciliationReport{
		UserID:            userID,
		Live:              live,
		Replayed:          replayed,
		EntryCount:        count,
		ReservedWithdrawn: reserved,
		Consistent: live.TotalCashback == replayed.TotalCashback &&
			live.AvailableCashback == replayed.AvailableCashback &&
			live.PendingCashback == replayed.PendingCashback,
		InvariantHolds: live.TotalCashback == live.AvailableCashback+live.PendingCashback+reserved,
	}

	if !report.Consistent || !report.InvariantHolds {
		s.audit.LogDrift(userID, live, replayed)
	}
	return report, nil
}

// StartupSweep replays every account after a restart and logs any drift
// between the audit trail and the live counters.
func (s *LedgerService) StartupSweep(ctx context.Context) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM ledger_accounts`)
	if err != nil {
		log.Printf("[LEDGER] Startup sweep failed: %v", err)
		return
	}
	defer rows.Close()

	var userIDs []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			log.Printf("[LEDGER] Startup sweep failed: %v", err)
			return
		}
		userIDs = append(userIDs, userID)
	}

	drifted := 0
	for _, userID := range userIDs {
		report, err := s.Reconcile(ctx, userID)
		if err != nil {
			log.Printf("[LEDGER] Startup reconciliation failed for %s: %v", userID, err)
			continue
		}
		if !report.Consistent || !report.InvariantHolds {
			drifted++
			log.Printf("[LEDGER] %v: account %s", ErrLedgerDrift, userID)
		}
	}
	if drifted > 0 {
		log.Printf("[LEDGER] Startup sweep found %d drifted account(s)", drifted)
	} else {
		log.Printf("[LEDGER] Startup sweep completed, %d account(s) consistent", len(userIDs))
	}
}

// Debts lists the flagged negative-adjustment debts on an account.
func (s *LedgerService) Debts(ctx context.Context, userID string) ([]models.AdjustmentDebt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, account_id, transaction_id, amount, reason, created_at
		FROM adjustment_debts
		WHERE account_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	debts := []models.AdjustmentDebt{}
	for rows.Next() {
		var d models.AdjustmentDebt
		if err := rows.Scan(&d.ID, &d.AccountID, &d.TransactionID, &d.Amount, &d.Reason, &d.CreatedAt); err != nil {
			return nil, err
		}
		debts = append(debts, d)
	}
	return debts, rows.Err()
}
