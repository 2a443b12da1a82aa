package handlers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rupeeback/backend/internal/services"
	"github.com/spf13/viper"
)

// WebhookHandler receives merchant purchase events. Merchants sign the raw
// body with a shared secret; a bad or missing signature rejects the delivery
// before any parsing happens.
type WebhookHandler struct {
	service   *services.TransactionService
	validator *services.ValidationHelper
}

func NewWebhookHandler(service *services.TransactionService) *WebhookHandler {
	return &WebhookHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// VerifySignature checks the X-Webhook-Signature header (hex HMAC-SHA256 of
// the raw body) and replaces r.Body so the next reader sees the full payload.
func (h *WebhookHandler) VerifySignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secret := viper.GetString("webhook.merchant_secret")
		if secret == "" {
			log.Printf("[WEBHOOK] Merchant secret not configured, rejecting delivery")
			services.SendErrorResponse(w, "Webhook verification unavailable", http.StatusServiceUnavailable, nil)
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1_048_576))
		if err != nil {
			services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
			return
		}
		r.Body = io.NopCloser(bytes.NewReader(body))

		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		expected := hex.EncodeToString(mac.Sum(nil))

		provided := r.Header.Get("X-Webhook-Signature")
		if provided == "" || !hmac.Equal([]byte(expected), []byte(provided)) {
			log.Printf("[WEBHOOK] Signature mismatch from %s", r.RemoteAddr)
			services.SendErrorResponse(w, "Invalid webhook signature", http.StatusUnauthorized, nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// IngestTransaction records a merchant purchase event as pending cashback
// @Summary Ingest Merchant Transaction
// @Description Record a purchase event and credit pending cashback. Idempotent on transaction id.
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param request body object{transactionId=string,userId=string,storeId=string,orderId=string,amount=int64,cashbackRate=number} true "Purchase event"
// @Success 200 {object} object{transaction=models.CashbackTransaction,duplicate=bool}
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /webhooks/transactions [post]
func (h *WebhookHandler) IngestTransaction(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TransactionID string  `json:"transactionId" validate:"required"`
		UserID        string  `json:"userId" validate:"required"`
		StoreID       string  `json:"storeId" validate:"required"`
		OrderID       string  `json:"orderId" validate:"required"`
		Amount        int64   `json:"amount" validate:"required,gt=0"`
		CashbackRate  float64 `json:"cashbackRate" validate:"required,gt=0,lte=1"`
	}

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		log.Printf("[WEBHOOK] IngestTransaction - Decode error: %v", err)
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	result, err := h.service.Ingest(r.Context(), services.IngestInput{
		TransactionID: req.TransactionID,
		UserID:        req.UserID,
		StoreID:       req.StoreID,
		OrderID:       req.OrderID,
		Amount:        req.Amount,
		CashbackRate:  req.CashbackRate,
	})
	if err != nil {
		log.Printf("[WEBHOOK] IngestTransaction - Service error: %v", err)
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"transaction": result.Transaction,
		"duplicate":   result.Duplicate,
	})
}

// ConfirmTransaction confirms a pending transaction
// @Summary Confirm Transaction
// @Description Move a pending transaction's cashback to the available balance
// @Tags Webhooks
// @Produce json
// @Param id path string true "Transaction ID"
// @Success 200 {object} models.CashbackTransaction
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /webhooks/transactions/{id}/confirm [post]
func (h *WebhookHandler) ConfirmTransaction(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "id")

	txn, err := h.service.Confirm(r.Context(), transactionID)
	if err != nil {
		log.Printf("[WEBHOOK] ConfirmTransaction - Service error for %s: %v", transactionID, err)
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txn)
}

// CancelTransaction reverses a pending or confirmed transaction
// @Summary Cancel Transaction
// @Description Reverse a transaction's cashback. Confirmed reversals may record an adjustment debt.
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param id path string true "Transaction ID"
// @Param request body object{reason=string} false "Cancellation reason"
// @Success 200 {object} object{transaction=models.CashbackTransaction,debtAmount=int64}
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /webhooks/transactions/{id}/cancel [post]
func (h *WebhookHandler) CancelTransaction(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "id")
	reason := decodeReason(r)

	result, err := h.service.Cancel(r.Context(), transactionID, reason)
	if err != nil {
		log.Printf("[WEBHOOK] CancelTransaction - Service error for %s: %v", transactionID, err)
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"transaction": result.Transaction,
		"debtAmount":  result.DebtAmount,
	})
}

// FailTransaction marks a pending transaction as failed
// @Summary Fail Transaction
// @Description Mark a pending transaction failed and remove its pending cashback
// @Tags Webhooks
// @Accept json
// @Produce json
// @Param id path string true "Transaction ID"
// @Param request body object{reason=string} false "Failure reason"
// @Success 200 {object} models.CashbackTransaction
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /webhooks/transactions/{id}/fail [post]
func (h *WebhookHandler) FailTransaction(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "id")
	reason := decodeReason(r)

	txn, err := h.service.Fail(r.Context(), transactionID, reason)
	if err != nil {
		log.Printf("[WEBHOOK] FailTransaction - Service error for %s: %v", transactionID, err)
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(txn)
}

// decodeReason pulls the optional reason field out of the body. An empty or
// missing body is fine.
func decodeReason(r *http.Request) string {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return ""
	}
	return req.Reason
}

// statusForError maps the service error taxonomy onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, services.ErrOptimisticLock):
		return http.StatusConflict
	case errors.Is(err, services.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrInvariantViolation):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
