package handlers

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rupeeback/backend/internal/models"
	"github.com/rupeeback/backend/internal/services"
)

// WithdrawalHandler exposes the user-facing withdrawal request plus the admin
// transitions driven by payout partner callbacks.
type WithdrawalHandler struct {
	service   *services.WithdrawalService
	vouchers  *services.VoucherService
	validator *services.ValidationHelper
}

func NewWithdrawalHandler(service *services.WithdrawalService, vouchers *services.VoucherService) *WithdrawalHandler {
	return &WithdrawalHandler{
		service:   service,
		vouchers:  vouchers,
		validator: services.NewValidationHelper(),
	}
}

// RequestWithdrawal creates a withdrawal and reserves the funds
// @Summary Request Withdrawal
// @Description Reserve available cashback for payout through the chosen method
// @Tags Withdrawals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body object{amount=int64,method=string} true "Withdrawal request"
// @Success 201 {object} models.Withdrawal
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /withdrawals [post]
func (h *WithdrawalHandler) RequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	var req struct {
		Amount int64  `json:"amount" validate:"required,gt=0"`
		Method string `json:"method" validate:"required,payoutmethod"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		log.Printf("[WITHDRAWAL] RequestWithdrawal - Decode error: %v", err)
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

	withdrawal, err := h.service.Request(r.Context(), userID, req.Amount, models.WithdrawalMethod(req.Method))
	if err != nil {
		log.Printf("[WITHDRAWAL] RequestWithdrawal - Service error for %s: %v", userID, err)
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(withdrawal)
}

// ListWithdrawals returns the authenticated user's withdrawals
// @Summary List Withdrawals
// @Description Get the authenticated user's withdrawals, newest first
// @Tags Withdrawals
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Page size" default(20)
// @Param offset query int false "Offset" default(0)
// @Success 200 {array} models.Withdrawal
// @Failure 401 {object} services.ErrorResponse
// @Router /withdrawals [get]
func (h *WithdrawalHandler) ListWithdrawals(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("userID").(string)
	if !ok || userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	limit, offset := pagination(r)
	withdrawals, err := h.service.History(r.Context(), userID, limit, offset)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusInternalServerError, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(withdrawals)
}

// RedeemVoucher validates and consumes a voucher code
// @Summary Redeem Voucher
// @Description Consume a single-use voucher code issued by a settled voucher withdrawal
// @Tags Withdrawals
// @Accept json
// @Produce json
// @Param request body object{code=string} true "Voucher code"
// @Success 200 {object} services.Voucher
// @Failure 400 {object} services.ErrorResponse
// @Router /vouchers/redeem [post]
func (h *WithdrawalHandler) RedeemVoucher(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Code string `json:"code" validate:"required"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return
	}

	if err := h.validator.ValidateStruct(&req); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return
	}

	voucher, err := h.vouchers.Redeem(r.Context(), req.Code)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(voucher)
}

// ProcessWithdrawal moves a pending withdrawal to processing
// @Summary Process Withdrawal
// @Description Mark a pending withdrawal as handed to the payout partner
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param id path string true "Withdrawal ID"
// @Success 200 {object} models.Withdrawal
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/withdrawals/{id}/process [post]
func (h *WithdrawalHandler) ProcessWithdrawal(w http.ResponseWriter, r *http.Request) {
	withdrawalID := chi.URLParam(r, "id")

	withdrawal, err := h.service.BeginProcessing(r.Context(), withdrawalID)
	if err != nil {
		log.Printf("[WITHDRAWAL] ProcessWithdrawal - Service error for %s: %v", withdrawalID, err)
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(withdrawal)
}

// SettleWithdrawal completes a processing withdrawal
// @Summary Settle Withdrawal
// @Description Record a successful payout, linking the partner's transaction id
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Withdrawal ID"
// @Param request body object{linkedTransactionId=string} false "Settlement details"
// @Success 200 {object} models.Withdrawal
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/withdrawals/{id}/settle [post]
func (h *WithdrawalHandler) SettleWithdrawal(w http.ResponseWriter, r *http.Request) {
	withdrawalID := chi.URLParam(r, "id")

	var req struct {
		LinkedTransactionID string `json:"linkedTransactionId"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	withdrawal, err := h.service.Settle(r.Context(), withdrawalID, req.LinkedTransactionID)
	if err != nil {
		log.Printf("[WITHDRAWAL] SettleWithdrawal - Service error for %s: %v", withdrawalID, err)
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(withdrawal)
}

// FailWithdrawal rolls back a pending or processing withdrawal
// @Summary Fail Withdrawal
// @Description Record a failed payout and restore the reserved funds
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Withdrawal ID"
// @Param request body object{adminNotes=string} false "Failure notes"
// @Success 200 {object} models.Withdrawal
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/withdrawals/{id}/fail [post]
func (h *WithdrawalHandler) FailWithdrawal(w http.ResponseWriter, r *http.Request) {
	withdrawalID := chi.URLParam(r, "id")

	var req struct {
		AdminNotes string `json:"adminNotes"`
	}
	json.NewDecoder(r.Body).Decode(&req)

	withdrawal, err := h.service.Fail(r.Context(), withdrawalID, req.AdminNotes)
	if err != nil {
		log.Printf("[WITHDRAWAL] FailWithdrawal - Service error for %s: %v", withdrawalID, err)
		services.SendErrorResponse(w, err.Error(), statusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(withdrawal)
}

// pagination reads limit/offset query params with sane bounds.
func pagination(r *http.Request) (int, int) {
	limit := 20
	offset := 0
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= 100 {
		limit = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil && v >= 0 {
		offset = v
	}
	return limit, offset
}
