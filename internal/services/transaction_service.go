package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rupeeback/backend/internal/config"
	"github.com/rupeeback/backend/internal/models"
)

// TransactionService turns merchant purchase events into pending cashback and
// later resolves them. Together with WithdrawalService it is one of the two
// writers of ledger account state.
type TransactionService struct {
	db     *sql.DB
	ledger *LedgerService
	audit  *AuditLogger
	events *EventPublisher
}

func NewTransactionService(db *sql.DB, redisClient *redis.Client, ledger *LedgerService) *TransactionService {
	cfg := config.LoadPayoutConfig()
	return &TransactionService{
		db:     db,
		ledger: ledger,
		audit:  NewAuditLogger(),
		events: NewEventPublisher(redisClient, cfg.EventQueueName),
	}
}

type IngestInput struct {
	TransactionID string
	UserID        string
	StoreID       string
	OrderID       string
	Amount        int64
	CashbackRate  float64
}

type IngestResult struct {
	Transaction *models.CashbackTransaction
	Duplicate   bool
}

type CancelResult struct {
	Transaction *models.CashbackTransaction
	// DebtAmount is non-zero when the reversal could not be fully applied
	// because the user had already withdrawn the funds.
	DebtAmount int64
}

// CashbackAmount computes the cashback earned on a purchase, rounded down to
// the minor unit.
func CashbackAmount(amount int64, rate float64) int64 {
	return int64(math.Floor(float64(amount) * rate))
}

// Ingest creates a pending cashback transaction for a merchant purchase
// event. It is idempotent on the transaction id: replayed webhook deliveries
// return the stored transaction without touching balances.
func (ts *TransactionService) Ingest(ctx context.Context, in IngestInput) (*IngestResult, error) {
	if in.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if in.CashbackRate <= 0 || in.CashbackRate > 1 {
		return nil, fmt.Errorf("%w: cashback rate %v out of range", ErrInvalidAmount, in.CashbackRate)
	}

	cashback := CashbackAmount(in.Amount, in.CashbackRate)
	now := time.Now()

	tx, err := ts.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	// The primary key doubles as the idempotency key: a conflicting insert
	// means the event was already processed.
	result, err := tx.Exec(`
		INSERT INTO cashback_transactions (id, user_id, store_id, order_id, amount, cashback_rate, cashback_amount, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING`,
		in.TransactionID, in.UserID, in.StoreID, in.OrderID, in.Amount,
		in.CashbackRate, cashback, string(models.TransactionPending), now, now)
	if err != nil {
		return nil, err
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if rowsAffected == 0 {
		existing, err := ts.fetchTransactionTx(tx, in.TransactionID)
		if err != nil {
			return nil, err
		}
		log.Printf("[TRANSACTION] Duplicate transaction detected: %s, status: %s", in.TransactionID, existing.Status)
		return &IngestResult{Transaction: existing, Duplicate: true}, nil
	}

	if _, err := ts.ledger.ApplyDeltaTx(tx, in.UserID, models.OpCreditPending, 0, cashback, in.TransactionID); err != nil {
		ts.audit.LogError(in.TransactionID, in.UserID, err)
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		ts.audit.LogError(in.TransactionID, in.UserID, err)
		return nil, err
	}

	txn := &models.CashbackTransaction{
		ID:             in.TransactionID,
		UserID:         in.UserID,
		StoreID:        in.StoreID,
		OrderID:        in.OrderID,
		Amount:         in.Amount,
		CashbackRate:   in.CashbackRate,
		CashbackAmount: cashback,
		Status:         models.TransactionPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	ts.events.Publish(ctx, "cashback_transaction", in.UserID, in.TransactionID, cashback, string(models.TransactionPending))
	return &IngestResult{Transaction: txn}, nil
}

// Confirm moves a pending transaction to confirmed: its cashback moves from
// pending to available. Only legal from pending.
func (ts *TransactionService) Confirm(ctx context.Context, transactionID string) (*models.CashbackTransaction, error) {
	tx, err := ts.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	txn, err := ts.lockTransactionTx(tx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Status != models.TransactionPending {
		return nil, fmt.Errorf("%w: confirm from %s", ErrInvalidTransition, txn.Status)
	}

	if err := ts.updateStatusTx(tx, transactionID, models.TransactionConfirmed, ""); err != nil {
		return nil, err
	}
	if _, err := ts.ledger.ApplyDeltaTx(tx, txn.UserID, models.OpConfirm, txn.CashbackAmount, -txn.CashbackAmount, transactionID); err != nil {
		ts.audit.LogError(transactionID, txn.UserID, err)
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		ts.audit.LogError(transactionID, txn.UserID, err)
		return nil, err
	}

	txn.Status = models.TransactionConfirmed
	ts.events.Publish(ctx, "cashback_transaction", txn.UserID, transactionID, txn.CashbackAmount, string(models.TransactionConfirmed))
	return txn, nil
}

// Cancel reverses a transaction. Legal from pending (the pending credit is
// removed) and from confirmed (the available balance is debited; any portion
// the user already withdrew becomes an adjustment debt instead of a negative
// balance).
func (ts *TransactionService) Cancel(ctx context.Context, transactionID, reason string) (*CancelResult, error) {
	tx, err := ts.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	txn, err := ts.lockTransactionTx(tx, transactionID)
	if err != nil {
		return nil, err
	}

	var debt int64
	switch txn.Status {
	case models.TransactionPending:
		if _, err := ts.ledger.ApplyDeltaTx(tx, txn.UserID, models.OpReverse, 0, -txn.CashbackAmount, transactionID); err != nil {
			ts.audit.LogError(transactionID, txn.UserID, err)
			return nil, err
		}
	case models.TransactionConfirmed:
		debt, err = ts.ledger.ReverseConfirmedTx(tx, txn.UserID, txn.CashbackAmount, transactionID, reason)
		if err != nil {
			ts.audit.LogError(transactionID, txn.UserID, err)
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, txn.Status)
	}

	if err := ts.updateStatusTx(tx, transactionID, models.TransactionCancelled, reason); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		ts.audit.LogError(transactionID, txn.UserID, err)
		return nil, err
	}

	txn.Status = models.TransactionCancelled
	txn.StatusReason = reason
	ts.events.Publish(ctx, "cashback_transaction", txn.UserID, transactionID, txn.CashbackAmount, string(models.TransactionCancelled))
	return &CancelResult{Transaction: txn, DebtAmount: debt}, nil
}

// Fail marks a pending transaction as failed and removes its pending credit.
// A confirmed transaction cannot fail; it has to go through Cancel.
func (ts *TransactionService) Fail(ctx context.Context, transactionID, reason string) (*models.CashbackTransaction, error) {
	tx, err := ts.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	txn, err := ts.lockTransactionTx(tx, transactionID)
	if err != nil {
		return nil, err
	}
	if txn.Status != models.TransactionPending {
		return nil, fmt.Errorf("%w: fail from %s", ErrInvalidTransition, txn.Status)
	}

	if _, err := ts.ledger.ApplyDeltaTx(tx, txn.UserID, models.OpReverse, 0, -txn.CashbackAmount, transactionID); err != nil {
		ts.audit.LogError(transactionID, txn.UserID, err)
		return nil, err
	}
	if err := ts.updateStatusTx(tx, transactionID, models.TransactionFailed, reason); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		ts.audit.LogError(transactionID, txn.UserID, err)
		return nil, err
	}

	txn.Status = models.TransactionFailed
	txn.StatusReason = reason
	ts.events.Publish(ctx, "cashback_transaction", txn.UserID, transactionID, txn.CashbackAmount, string(models.TransactionFailed))
	return txn, nil
}

// History returns a user's transactions, newest first.
func (ts *TransactionService) History(ctx context.Context, userID string, limit, offset int) ([]models.CashbackTransaction, error) {
	rows, err := ts.db.QueryContext(ctx, `
		SELECT id, user_id, store_id, order_id, amount, cashback_rate, cashback_amount, status, status_reason, created_at, updated_at
		FROM cashback_transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := []models.CashbackTransaction{}
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, *txn)
	}
	return transactions, rows.Err()
}

// lockTransactionTx serializes status transitions for one transaction.
func (ts *TransactionService) lockTransactionTx(tx *sql.Tx, transactionID string) (*models.CashbackTransaction, error) {
	row := tx.QueryRow(`
		SELECT id, user_id, store_id, order_id, amount, cashback_rate, cashback_amount, status, status_reason, created_at, updated_at
		FROM cashback_transactions
		WHERE id = $1
		FOR UPDATE`, transactionID)
	txn, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return txn, err
}

func (ts *TransactionService) fetchTransactionTx(tx *sql.Tx, transactionID string) (*models.CashbackTransaction, error) {
	row := tx.QueryRow(`
		SELECT id, user_id, store_id, order_id, amount, cashback_rate, cashback_amount, status, status_reason, created_at, updated_at
		FROM cashback_transactions
		WHERE id = $1`, transactionID)
	txn, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return txn, err
}

func (ts *TransactionService) updateStatusTx(tx *sql.Tx, transactionID string, status models.TransactionStatus, reason string) error {
	_, err := tx.Exec(`
		UPDATE cashback_transactions
		SET status = $1, status_reason = $2, updated_at = $3
		WHERE id = $4`,
		string(status), reason, time.Now(), transactionID)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.CashbackTransaction, error) {
	var txn models.CashbackTransaction
	var status string
	if err := row.Scan(&txn.ID, &txn.UserID, &txn.StoreID, &txn.OrderID, &txn.Amount,
		&txn.CashbackRate, &txn.CashbackAmount, &status, &txn.StatusReason,
		&txn.CreatedAt, &txn.UpdatedAt); err != nil {
		return nil, err
	}
	parsed, err := models.ParseTransactionStatus(status)
	if err != nil {
		return nil, err
	}
	txn.Status = parsed
	return &txn, nil
}
