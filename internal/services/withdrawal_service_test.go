package services

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rupeeback/backend/internal/models"
	"github.com/stretchr/testify/assert"
)

func withdrawalColumns() []string {
	return []string{"id", "user_id", "amount", "method", "status", "admin_notes",
		"linked_transaction_id", "created_at", "processed_at"}
}

func TestWithdrawalService_Request(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWithdrawalService(db, nil, NewLedgerService(db))

	t.Run("reserves available funds", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT user_id, total_cashback, available_cashback, pending_cashback, version").
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows(accountColumns()).AddRow("user1", 5000, 5000, 0, 3))

		mock.ExpectExec("INSERT INTO withdrawals").
			WithArgs(sqlmock.AnyArg(), "user1", int64(1000), string(models.MethodUPI),
				string(models.WithdrawalPending), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE ledger_accounts").
			WithArgs(int64(5000), int64(4000), int64(0), sqlmock.AnyArg(), "user1", 3).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec("INSERT INTO audit_entries").
			WithArgs("user1", string(models.OpReserveWithdrawal), int64(-1000), int64(0),
				sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		w, err := service.Request(context.Background(), "user1", 1000, models.MethodUPI)
		assert.NoError(t, err)
		assert.Equal(t, models.WithdrawalPending, w.Status)
		assert.True(t, strings.HasPrefix(w.ID, "wd-"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient funds makes no change", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT user_id, total_cashback, available_cashback, pending_cashback, version").
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows(accountColumns()).AddRow("user1", 100, 100, 0, 3))

		mock.ExpectRollback()

		_, err := service.Request(context.Background(), "user1", 5000, models.MethodUPI)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rejects unknown method", func(t *testing.T) {
		_, err := service.Request(context.Background(), "user1", 5000, models.WithdrawalMethod("CHEQUE"))
		assert.Error(t, err)
	})

	t.Run("rejects non-positive amount", func(t *testing.T) {
		_, err := service.Request(context.Background(), "user1", 0, models.MethodUPI)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})

	t.Run("reserves the entire available balance", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT user_id, total_cashback, available_cashback, pending_cashback, version").
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows(accountColumns()).AddRow("user1", 100, 100, 0, 2))

		mock.ExpectExec("INSERT INTO withdrawals").
			WithArgs(sqlmock.AnyArg(), "user1", int64(100), string(models.MethodUPI),
				string(models.WithdrawalPending), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectExec("UPDATE ledger_accounts").
			WithArgs(int64(100), int64(0), int64(0), sqlmock.AnyArg(), "user1", 2).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec("INSERT INTO audit_entries").
			WithArgs("user1", string(models.OpReserveWithdrawal), int64(-100), int64(0),
				sqlmock.AnyArg(), sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		w, err := service.Request(context.Background(), "user1", 100, models.MethodUPI)
		assert.NoError(t, err)
		assert.Equal(t, models.WithdrawalPending, w.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("configured floor rejects small amounts", func(t *testing.T) {
		floor := service.config.MinWithdrawal
		service.config.MinWithdrawal = 1000
		defer func() { service.config.MinWithdrawal = floor }()

		_, err := service.Request(context.Background(), "user1", 500, models.MethodUPI)
		assert.ErrorIs(t, err, ErrInvalidAmount)
	})
}

func TestWithdrawalService_BeginProcessing(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWithdrawalService(db, nil, NewLedgerService(db))
	now := time.Now()

	t.Run("pending moves to processing without balance change", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, amount, method, status").
			WithArgs("wd-1").
			WillReturnRows(sqlmock.NewRows(withdrawalColumns()).
				AddRow("wd-1", "user1", 1000, string(models.MethodUPI),
					string(models.WithdrawalPending), "", "", now, nil))

		mock.ExpectExec("UPDATE withdrawals").
			WithArgs(string(models.WithdrawalProcessing), "wd-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectCommit()

		w, err := service.BeginProcessing(context.Background(), "wd-1")
		assert.NoError(t, err)
		assert.Equal(t, models.WithdrawalProcessing, w.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("processing twice is rejected", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, amount, method, status").
			WithArgs("wd-1").
			WillReturnRows(sqlmock.NewRows(withdrawalColumns()).
				AddRow("wd-1", "user1", 1000, string(models.MethodUPI),
					string(models.WithdrawalProcessing), "", "", now, nil))

		mock.ExpectRollback()

		_, err := service.BeginProcessing(context.Background(), "wd-1")
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stored row with unknown status is rejected", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, amount, method, status").
			WithArgs("wd-1").
			WillReturnRows(sqlmock.NewRows(withdrawalColumns()).
				AddRow("wd-1", "user1", 1000, string(models.MethodUPI),
					"REFUNDED", "", "", now, nil))

		mock.ExpectRollback()

		_, err := service.BeginProcessing(context.Background(), "wd-1")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unknown withdrawal status")
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWithdrawalService_Settle(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWithdrawalService(db, nil, NewLedgerService(db))
	now := time.Now()

	t.Run("settlement records a zero-delta entry", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, amount, method, status").
			WithArgs("wd-1").
			WillReturnRows(sqlmock.NewRows(withdrawalColumns()).
				AddRow("wd-1", "user1", 1000, string(models.MethodUPI),
					string(models.WithdrawalProcessing), "", "", now, nil))

		mock.ExpectExec("UPDATE withdrawals").
			WithArgs(string(models.WithdrawalCompleted), "upi-txn-42", sqlmock.AnyArg(), "wd-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectQuery("SELECT user_id, total_cashback, available_cashback, pending_cashback, version").
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows(accountColumns()).AddRow("user1", 5000, 4000, 0, 4))

		// Balances stay put, only the version moves.
		mock.ExpectExec("UPDATE ledger_accounts").
			WithArgs(int64(5000), int64(4000), int64(0), sqlmock.AnyArg(), "user1", 4).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec("INSERT INTO audit_entries").
			WithArgs("user1", string(models.OpSettleWithdrawal), int64(0), int64(0), "wd-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		w, err := service.Settle(context.Background(), "wd-1", "upi-txn-42")
		assert.NoError(t, err)
		assert.Equal(t, models.WithdrawalCompleted, w.Status)
		assert.Equal(t, "upi-txn-42", w.LinkedTransactionID)
		assert.NotNil(t, w.ProcessedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("settle from pending is rejected", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, amount, method, status").
			WithArgs("wd-1").
			WillReturnRows(sqlmock.NewRows(withdrawalColumns()).
				AddRow("wd-1", "user1", 1000, string(models.MethodUPI),
					string(models.WithdrawalPending), "", "", now, nil))

		mock.ExpectRollback()

		_, err := service.Settle(context.Background(), "wd-1", "upi-txn-42")
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("settle twice is rejected", func(t *testing.T) {
		processed := now

		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, amount, method, status").
			WithArgs("wd-1").
			WillReturnRows(sqlmock.NewRows(withdrawalColumns()).
				AddRow("wd-1", "user1", 1000, string(models.MethodUPI),
					string(models.WithdrawalCompleted), "", "upi-txn-42", now, processed))

		mock.ExpectRollback()

		_, err := service.Settle(context.Background(), "wd-1", "upi-txn-43")
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestWithdrawalService_Fail(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	service := NewWithdrawalService(db, nil, NewLedgerService(db))
	now := time.Now()

	t.Run("failure restores the reserved funds", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, amount, method, status").
			WithArgs("wd-1").
			WillReturnRows(sqlmock.NewRows(withdrawalColumns()).
				AddRow("wd-1", "user1", 1000, string(models.MethodBank),
					string(models.WithdrawalProcessing), "", "", now, nil))

		mock.ExpectExec("UPDATE withdrawals").
			WithArgs(string(models.WithdrawalFailed), "partner timeout", sqlmock.AnyArg(), "wd-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectQuery("SELECT user_id, total_cashback, available_cashback, pending_cashback, version").
			WithArgs("user1").
			WillReturnRows(sqlmock.NewRows(accountColumns()).AddRow("user1", 5000, 4000, 0, 4))

		mock.ExpectExec("UPDATE ledger_accounts").
			WithArgs(int64(5000), int64(5000), int64(0), sqlmock.AnyArg(), "user1", 4).
			WillReturnResult(sqlmock.NewResult(0, 1))

		mock.ExpectExec("INSERT INTO audit_entries").
			WithArgs("user1", string(models.OpFailWithdrawal), int64(1000), int64(0), "wd-1", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(1, 1))

		mock.ExpectCommit()

		w, err := service.Fail(context.Background(), "wd-1", "partner timeout")
		assert.NoError(t, err)
		assert.Equal(t, models.WithdrawalFailed, w.Status)
		assert.Equal(t, "partner timeout", w.AdminNotes)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failing a completed withdrawal is rejected", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, amount, method, status").
			WithArgs("wd-1").
			WillReturnRows(sqlmock.NewRows(withdrawalColumns()).
				AddRow("wd-1", "user1", 1000, string(models.MethodBank),
					string(models.WithdrawalCompleted), "", "bank-ref", now, now))

		mock.ExpectRollback()

		_, err := service.Fail(context.Background(), "wd-1", "too late")
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown withdrawal", func(t *testing.T) {
		mock.ExpectBegin()

		mock.ExpectQuery("SELECT id, user_id, amount, method, status").
			WithArgs("wd-missing").
			WillReturnError(sql.ErrNoRows)

		mock.ExpectRollback()

		_, err := service.Fail(context.Background(), "wd-missing", "n/a")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
