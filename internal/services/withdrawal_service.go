package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rupeeback/backend/internal/config"
	"github.com/rupeeback/backend/internal/models"
)

// WithdrawalService reserves funds, hands payout jobs to the external payout
// collaborator, and settles or rolls back withdrawals based on its feedback.
type WithdrawalService struct {
	db       *sql.DB
	redis    *redis.Client
	ledger   *LedgerService
	payout   *PayoutMessageService
	vouchers *VoucherService
	audit    *AuditLogger
	events   *EventPublisher
	config   *config.PayoutConfig
}

func NewWithdrawalService(db *sql.DB, redisClient *redis.Client, ledger *LedgerService) *WithdrawalService {
	cfg := config.LoadPayoutConfig()
	return &WithdrawalService{
		db:       db,
		redis:    redisClient,
		ledger:   ledger,
		payout:   NewPayoutMessageService(cfg),
		vouchers: NewVoucherService(redisClient, cfg),
		audit:    NewAuditLogger(),
		events:   NewEventPublisher(redisClient, cfg.EventQueueName),
		config:   cfg,
	}
}

// Request accepts a withdrawal and reserves the funds out of the available
// balance immediately, before any payout is attempted. Reserving at accept
// time is what stops two concurrent requests from spending the same rupee.
// Returns ErrInsufficientFunds with no mutation if the balance does not cover
// the amount.
func (ws *WithdrawalService) Request(ctx context.Context, userID string, amount int64, method models.WithdrawalMethod) (*models.Withdrawal, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	// Operator-tunable limits; the defaults leave any positive amount valid.
	if amount < ws.config.MinWithdrawal || amount > ws.config.MaxWithdrawal {
		return nil, fmt.Errorf("%w: amount %d outside [%d, %d]",
			ErrInvalidAmount, amount, ws.config.MinWithdrawal, ws.config.MaxWithdrawal)
	}
	if _, err := models.ParseWithdrawalMethod(string(method)); err != nil {
		return nil, err
	}

	tx, err := ws.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	account, err := ws.ledger.EnsureAccountTx(tx, userID)
	if err != nil {
		return nil, err
	}
	if account.AvailableCashback < amount {
		log.Printf("[WITHDRAWAL] Insufficient funds for %s: requested %d, available %d", userID, amount, account.AvailableCashback)
		return nil, ErrInsufficientFunds
	}

	now := time.Now()
	w := &models.Withdrawal{
		ID:        "wd-" + uuid.New().String(),
		UserID:    userID,
		Amount:    amount,
		Method:    method,
		Status:    models.WithdrawalPending,
		CreatedAt: now,
	}

	if _, err := tx.Exec(`
		INSERT INTO withdrawals (id, user_id, amount, method, status, admin_notes, linked_transaction_id, created_at)
		VALUES ($1, $2, $3, $4, $5, '', '', $6)`,
		w.ID, w.UserID, w.Amount, string(w.Method), string(w.Status), now); err != nil {
		return nil, err
	}

	if _, err := ws.ledger.applyLockedTx(tx, account, models.OpReserveWithdrawal, -amount, 0, w.ID); err != nil {
		ws.audit.LogError(w.ID, userID, err)
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		ws.audit.LogError(w.ID, userID, err)
		return nil, err
	}

	ws.enqueuePayout(ctx, w)
	ws.events.Publish(ctx, "withdrawal", userID, w.ID, amount, string(models.WithdrawalPending))
	return w, nil
}

// BeginProcessing marks the point after which the external payout call is
// attempted. No balance change: the funds are already reserved.
func (ws *WithdrawalService) BeginProcessing(ctx context.Context, withdrawalID string) (*models.Withdrawal, error) {
	tx, err := ws.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	w, err := ws.lockWithdrawalTx(tx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if w.Status != models.WithdrawalPending {
		return nil, fmt.Errorf("%w: process from %s", ErrInvalidTransition, w.Status)
	}

	if _, err := tx.Exec(`
		UPDATE withdrawals SET status = $1 WHERE id = $2`,
		string(models.WithdrawalProcessing), withdrawalID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	w.Status = models.WithdrawalProcessing
	ws.events.Publish(ctx, "withdrawal", w.UserID, w.ID, w.Amount, string(models.WithdrawalProcessing))
	return w, nil
}

// Settle completes a processing withdrawal. The reservation already removed
// the funds from the available balance, so no further balance mutation
// happens; a zero-delta audit entry records the settlement in the trail.
func (ws *WithdrawalService) Settle(ctx context.Context, withdrawalID, linkedTransactionID string) (*models.Withdrawal, error) {
	tx, err := ws.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	w, err := ws.lockWithdrawalTx(tx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if w.Status != models.WithdrawalProcessing {
		return nil, fmt.Errorf("%w: settle from %s", ErrInvalidTransition, w.Status)
	}

	now := time.Now()
	if _, err := tx.Exec(`
		UPDATE withdrawals SET status = $1, linked_transaction_id = $2, processed_at = $3 WHERE id = $4`,
		string(models.WithdrawalCompleted), linkedTransactionID, now, withdrawalID); err != nil {
		return nil, err
	}
	if _, err := ws.ledger.ApplyDeltaTx(tx, w.UserID, models.OpSettleWithdrawal, 0, 0, w.ID); err != nil {
		ws.audit.LogError(w.ID, w.UserID, err)
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		ws.audit.LogError(w.ID, w.UserID, err)
		return nil, err
	}

	w.Status = models.WithdrawalCompleted
	w.LinkedTransactionID = linkedTransactionID
	w.ProcessedAt = &now

	if w.Method == models.MethodVoucher {
		if _, err := ws.vouchers.Issue(ctx, w); err != nil {
			log.Printf("[WITHDRAWAL] Failed to issue voucher for %s: %v", w.ID, err)
		}
	}
	if w.Method == models.MethodBank {
		if doc, err := ws.payout.CreatePacs002(w, "ACSC"); err == nil {
			if err := ws.payout.SendToPayoutPartner(doc); err != nil {
				log.Printf("[WITHDRAWAL] Failed to send status report for %s: %v", w.ID, err)
			}
		}
	}

	ws.events.Publish(ctx, "withdrawal", w.UserID, w.ID, w.Amount, string(models.WithdrawalCompleted))
	return w, nil
}

// Fail rolls back a pending or processing withdrawal and restores the
// reserved funds to the user's available balance.
func (ws *WithdrawalService) Fail(ctx context.Context, withdrawalID, adminNotes string) (*models.Withdrawal, error) {
	tx, err := ws.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	w, err := ws.lockWithdrawalTx(tx, withdrawalID)
	if err != nil {
		return nil, err
	}
	if w.Status.Terminal() {
		return nil, fmt.Errorf("%w: fail from %s", ErrInvalidTransition, w.Status)
	}

	now := time.Now()
	if _, err := tx.Exec(`
		UPDATE withdrawals SET status = $1, admin_notes = $2, processed_at = $3 WHERE id = $4`,
		string(models.WithdrawalFailed), adminNotes, now, withdrawalID); err != nil {
		return nil, err
	}
	if _, err := ws.ledger.ApplyDeltaTx(tx, w.UserID, models.OpFailWithdrawal, w.Amount, 0, w.ID); err != nil {
		ws.audit.LogError(w.ID, w.UserID, err)
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		ws.audit.LogError(w.ID, w.UserID, err)
		return nil, err
	}

	w.Status = models.WithdrawalFailed
	w.AdminNotes = adminNotes
	w.ProcessedAt = &now
	ws.events.Publish(ctx, "withdrawal", w.UserID, w.ID, w.Amount, string(models.WithdrawalFailed))
	return w, nil
}

// History returns a user's withdrawals, newest first.
func (ws *WithdrawalService) History(ctx context.Context, userID string, limit, offset int) ([]models.Withdrawal, error) {
	rows, err := ws.db.QueryContext(ctx, `
		SELECT id, user_id, amount, method, status, admin_notes, linked_transaction_id, created_at, processed_at
		FROM withdrawals
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	withdrawals := []models.Withdrawal{}
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		withdrawals = append(withdrawals, *w)
	}
	return withdrawals, rows.Err()
}

// lockWithdrawalTx serializes status transitions for one withdrawal.
func (ws *WithdrawalService) lockWithdrawalTx(tx *sql.Tx, withdrawalID string) (*models.Withdrawal, error) {
	row := tx.QueryRow(`
		SELECT id, user_id, amount, method, status, admin_notes, linked_transaction_id, created_at, processed_at
		FROM withdrawals
		WHERE id = $1
		FOR UPDATE`, withdrawalID)
	w, err := scanWithdrawal(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return w, err
}

func scanWithdrawal(row rowScanner) (*models.Withdrawal, error) {
	var w models.Withdrawal
	var method, status string
	var processedAt sql.NullTime
	if err := row.Scan(&w.ID, &w.UserID, &w.Amount, &method, &status, &w.AdminNotes,
		&w.LinkedTransactionID, &w.CreatedAt, &processedAt); err != nil {
		return nil, err
	}
	parsedMethod, err := models.ParseWithdrawalMethod(method)
	if err != nil {
		return nil, err
	}
	parsedStatus, err := models.ParseWithdrawalStatus(status)
	if err != nil {
		return nil, err
	}
	w.Method = parsedMethod
	w.Status = parsedStatus
	if processedAt.Valid {
		w.ProcessedAt = &processedAt.Time
	}
	return &w, nil
}

// enqueuePayout hands an accepted withdrawal to the payout collaborator's
// queue. Bank payouts carry a pacs.008 credit-transfer message.
func (ws *WithdrawalService) enqueuePayout(ctx context.Context, w *models.Withdrawal) {
	if ws.redis == nil {
		return
	}

	job := map[string]any{
		"withdrawal_id": w.ID,
		"user_id":       w.UserID,
		"amount":        w.Amount,
		"method":        w.Method,
	}
	if w.Method == models.MethodBank {
		doc, err := ws.payout.CreatePacs008(w)
		if err != nil {
			log.Printf("[WITHDRAWAL] Failed to build pacs.008 for %s: %v", w.ID, err)
		} else if xmlData, err := ws.payout.ToXML(doc); err == nil {
			job["pacs008"] = xmlData
		}
	}

	data, err := json.Marshal(job)
	if err != nil {
		return
	}
	if err := ws.redis.RPush(ctx, ws.config.QueueName, data).Err(); err != nil {
		log.Printf("[WITHDRAWAL] Failed to queue payout for %s: %v", w.ID, err)
	}
}
