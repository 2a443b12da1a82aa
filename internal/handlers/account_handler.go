package handlers

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rupeeback/backend/internal/services"
)

// AccountHandler serves balance reads, transaction history, and the admin
// reconciliation surface.
type AccountHandler struct {
	ledger       *services.LedgerService
	transactions *services.TransactionService
}

func NewAccountHandler(ledger *services.LedgerService, transactions *services.TransactionService) *AccountHandler {
	return &AccountHandler{
		ledger:       ledger,
		transactions: transactions,
	}
}

// GetBalances returns the authenticated user's balance snapshot
// @Summary Get Balances
// @Description Get total, available, and pending cashback for the authenticated user
// @Tags Accounts
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.Balances
// @Failure 401 {object} services.ErrorResponse
// @Router /account/balances [get]
func (h *AccountHandler) GetBalances(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	balances, err := h.ledger.Snapshot(r.Context(), userID)
	if err != nil {
		log.Printf("[ACCOUNT] GetBalances - Service error for %s: %v", userID, err)
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(balances)
}

// ListTransactions returns the authenticated user's cashback transactions
// @Summary List Transactions
// @Description Get the authenticated user's cashback transactions, newest first
// @Tags Accounts
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Offset" default(0)
// @Success 200 {array} models.CashbackTransaction
// @Failure 401 {object} services.ErrorResponse
// @Router /account/transactions [get]
func (h *AccountHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit, offset := pagination(r)
	transactions, err := h.transactions.History(r.Context(), userID, limit, offset)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(transactions)
}

// GetAuditTrail returns the ordered audit entries for an account
// @Summary Get Audit Trail
// @Description Get the append-only audit trail for an account
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param userId path string true "User ID"
// @Success 200 {array} models.AuditEntry
// @Failure 401 {object} services.ErrorResponse
// @Router /admin/accounts/{userId}/audit [get]
func (h *AccountHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	entries, err := h.ledger.Replay(r.Context(), userID)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}

// ReconcileAccount replays an account's audit trail against its live counters
// @Summary Reconcile Account
// @Description Recompute balances from the audit trail and report any drift
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param userId path string true "User ID"
// @Success 200 {object} models.ReconciliationReport
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/accounts/{userId}/reconcile [post]
func (h *AccountHandler) ReconcileAccount(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	report, err := h.ledger.Reconcile(r.Context(), userID)
	if err != nil {
		log.Printf("[ACCOUNT] ReconcileAccount - Service error for %s: %v", userID, err)
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

// ListDebts returns the adjustment debts flagged on an account
// @Summary List Adjustment Debts
// @Description Get the debts recorded when confirmed cashback was clawed back after withdrawal
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param userId path string true "User ID"
// @Success 200 {array} models.AdjustmentDebt
// @Failure 401 {object} services.ErrorResponse
// @Router /admin/accounts/{userId}/debts [get]
func (h *AccountHandler) ListDebts(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	debts, err := h.ledger.Debts(r.Context(), userID)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(debts)
}
