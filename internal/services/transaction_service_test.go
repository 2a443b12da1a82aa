package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rupeeback/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func transactionColumns() []string {
	return []string{"id", "user_id", "store_id", "order_id", "amount", "cashback_rate",
		"cashback_amount", "status", "status_reason", "created_at", "updated_at"}
}

func accountColumns() []string {
	return []string{"user_id", "total_cashback", "available_cashback", "pending_cashback", "version"}
}

func TestCashbackAmount(t *testing.T) {
	// 3.3% of 1050 paise is 34.65, rounded down.
	assert.Equal(t, int64(34), CashbackAmount(1050, 0.033))
	assert.Equal(t, int64(50), CashbackAmount(1000, 0.05))
	assert.Equal(t, int64(0), CashbackAmount(1, 0.05))
}

func TestTransactionService_Ingest(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTransactionService(db, nil, NewLedgerService(db))

	t.Run("new transaction credits pending", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectExec("INSERT INTO cashback_transactions").
			WithArgs("tx-1", "user1", "store1", "order1", int64(1000), 0.05, int64(50),
				string(models.TransactionPending), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectQuery("SELECT user_id, total_cashback, available_cashback, pending_cashback, version").
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows(accountColumns()).AddRow("user1", 0, 0, 0, 1))

		mock.ExpectExec("UPDATE ledger_accounts").
			WithArgs(int64(50), int64(0), int64(50), sqlmock.AnyArg(), "user1", 1).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec("INSERT INTO audit_entries").
			WithArgs("user1", string(models.OpCreditPending), int64(0), int64(50), "tx-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		result, err := service.Ingest(context.Background(), IngestInput{
			TransactionID: "tx-1",
			UserID:        "user1",
			StoreID:       "store1",
			OrderID:       "order1",
			Amount:        1000,
			CashbackRate:  0.05,
		})
		assert.NoError(t, err)
		assert.False(t, result.Duplicate)
		assert.Equal(t, int64(50), result.Transaction.CashbackAmount)
		assert.Equal(t, models.TransactionPending, result.Transaction.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replayed delivery is ignored", func(t *testing.T) {
		now := time.Now()

		mock.ExpectBegin()

		mock.ExpectExec("INSERT INTO cashback_transactions").
			WithArgs("tx-1", "user1", "store1", "order1", int64(1000), 0.05, int64(50),
				string(models.TransactionPending), sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 0))

		mock.ExpectQuery("SELECT id, user_id, store_id, order_id").
			WithArgs("tx-1").
			WillReturnRows(sqlmock.NewRows(transactionColumns()).
				AddRow("tx-1", "user1", "store1", "order1", 1000, 0.05, 50,
					string(models.TransactionConfirmed), "", now, now))

		mock.ExpectRollback()

		result, err := service.Ingest(context.Background(), IngestInput{
			TransactionID: "tx-1",
			UserID:        "user1",
			StoreID:       "store1",
			OrderID:       "order1",
			Amount:        1000,
			CashbackRate:  0.05,
		})
		assert.NoError(t, err)
		assert.True(t, result.Duplicate)
		assert.Equal(t, models.TransactionConfirmed, result.Transaction.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		_, err := service.Ingest(context.Background(), IngestInput{
			TransactionID: "tx-2",
			UserID:        "user1",
			Amount:        0,
			CashbackRate:  0.05,
		})
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("rejects out-of-range rate", func(t *testing.T) {
		_, err := service.Ingest(context.Background(), IngestInput{
			TransactionID: "tx-3",
			UserID:        "user1",
			Amount:        1000,
			CashbackRate:  1.5,
		})
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestTransactionService_Confirm(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTransactionService(db, nil, NewLedgerService(db))
	now := time.Now()

	t.Run("pending moves to available", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, store_id, order_id").
			WithArgs("tx-1").
			WillReturnRows(sqlmock.NewRows(transactionColumns()).
				AddRow("tx-1", "user1", "store1", "order1", 1000, 0.05, 50,
					string(models.TransactionPending), "", now, now))

		mock.ExpectExec("UPDATE cashback_transactions").
			WithArgs(string(models.TransactionConfirmed), "", sqlmock.AnyArg(), "tx-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectQuery("SELECT user_id, total_cashback, available_cashback, pending_cashback, version").
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows(accountColumns()).AddRow("user1", 50, 0, 50, 2))

		mock.ExpectExec("UPDATE ledger_accounts").
			WithArgs(int64(50), int64(50), int64(0), sqlmock.AnyArg(), "user1", 2).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec("INSERT INTO audit_entries").
			WithArgs("user1", string(models.OpConfirm), int64(50), int64(-50), "tx-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		txn, err := service.Confirm(context.Background(), "tx-1")
		assert.NoError(t, err)
		assert.Equal(t, models.TransactionConfirmed, txn.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("confirm twice is rejected", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, store_id, order_id").
			WithArgs("tx-1").
			WillReturnRows(sqlmock.NewRows(transactionColumns()).
				AddRow("tx-1", "user1", "store1", "order1", 1000, 0.05, 50,
					string(models.TransactionConfirmed), "", now, now))

		mock.ExpectRollback()

		_, err := service.Confirm(context.Background(), "tx-1")
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown transaction", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, store_id, order_id").
			WithArgs("tx-missing").
			WillReturnError(sql.ErrNoRows)

		mock.ExpectRollback()

		_, err := service.Confirm(context.Background(), "tx-missing")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransactionService_Cancel(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTransactionService(db, nil, NewLedgerService(db))
	now := time.Now()

	t.Run("cancel pending removes pending credit", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, store_id, order_id").
			WithArgs("tx-1").
			WillReturnRows(sqlmock.NewRows(transactionColumns()).
				AddRow("tx-1", "user1", "store1", "order1", 1000, 0.05, 50,
					string(models.TransactionPending), "", now, now))

		mock.ExpectQuery("SELECT user_id, total_cashback, available_cashback, pending_cashback, version").
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows(accountColumns()).AddRow("user1", 50, 0, 50, 2))

		mock.ExpectExec("UPDATE ledger_accounts").
			WithArgs(int64(0), int64(0), int64(0), sqlmock.AnyArg(), "user1", 2).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec("INSERT INTO audit_entries").
			WithArgs("user1", string(models.OpReverse), int64(0), int64(-50), "tx-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE cashback_transactions").
			WithArgs(string(models.TransactionCancelled), "out of stock", sqlmock.AnyArg(), "tx-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		result, err := service.Cancel(context.Background(), "tx-1", "out of stock")
		assert.NoError(t, err)
		assert.Equal(t, models.TransactionCancelled, result.Transaction.Status)
		assert.Equal(t, int64(0), result.DebtAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cancel confirmed after withdrawal records debt", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, store_id, order_id").
			WithArgs("tx-1").
			WillReturnRows(sqlmock.NewRows(transactionColumns()).
				AddRow("tx-1", "user1", "store1", "order1", 10000, 0.05, 500,
					string(models.TransactionConfirmed), "", now, now))

		// Only 200 left after a withdrawal, so 300 becomes debt.
		mock.ExpectQuery("SELECT user_id, total_cashback, available_cashback, pending_cashback, version").
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows(accountColumns()).AddRow("user1", 500, 200, 0, 4))

		mock.ExpectExec("UPDATE ledger_accounts").
			WithArgs(int64(300), int64(0), int64(0), sqlmock.AnyArg(), "user1", 4).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec("INSERT INTO audit_entries").
			WithArgs("user1", string(models.OpReverse), int64(-200), int64(0), "tx-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("INSERT INTO adjustment_debts").
			WithArgs("user1", "tx-1", int64(300), "returned", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE cashback_transactions").
			WithArgs(string(models.TransactionCancelled), "returned", sqlmock.AnyArg(), "tx-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		result, err := service.Cancel(context.Background(), "tx-1", "returned")
		assert.NoError(t, err)
		assert.Equal(t, int64(300), result.DebtAmount)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("cancel cancelled is rejected", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, store_id, order_id").
			WithArgs("tx-1").
			WillReturnRows(sqlmock.NewRows(transactionColumns()).
				AddRow("tx-1", "user1", "store1", "order1", 1000, 0.05, 50,
					string(models.TransactionCancelled), "", now, now))

		mock.ExpectRollback()

		_, err := service.Cancel(context.Background(), "tx-1", "again")
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransactionService_Fail(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewTransactionService(db, nil, NewLedgerService(db))
	now := time.Now()

	t.Run("fail pending removes pending credit", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, store_id, order_id").
			WithArgs("tx-1").
			WillReturnRows(sqlmock.NewRows(transactionColumns()).
				AddRow("tx-1", "user1", "store1", "order1", 1000, 0.05, 50,
					string(models.TransactionPending), "", now, now))

		mock.ExpectQuery("SELECT user_id, total_cashback, available_cashback, pending_cashback, version").
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows(accountColumns()).AddRow("user1", 50, 0, 50, 2))

		mock.ExpectExec("UPDATE ledger_accounts").
			WithArgs(int64(0), int64(0), int64(0), sqlmock.AnyArg(), "user1", 2).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec("INSERT INTO audit_entries").
			WithArgs("user1", string(models.OpReverse), int64(0), int64(-50), "tx-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE cashback_transactions").
			WithArgs(string(models.TransactionFailed), "payment declined", sqlmock.AnyArg(), "tx-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		txn, err := service.Fail(context.Background(), "tx-1", "payment declined")
		assert.NoError(t, err)
		assert.Equal(t, models.TransactionFailed, txn.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("fail confirmed is rejected", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, store_id, order_id").
			WithArgs("tx-1").
			WillReturnRows(sqlmock.NewRows(transactionColumns()).
				AddRow("tx-1", "user1", "store1", "order1", 1000, 0.05, 50,
					string(models.TransactionConfirmed), "", now, now))

		mock.ExpectRollback()

		_, err := service.Fail(context.Background(), "tx-1", "late")
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
