package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/openbank/ledger/internal/models"
	"github.com/openbank/ledger/internal/services"
)

type RequestDebitHandler struct {
	service   *services.LedgerService
	validator *services.ValidationHelper
}

func NewRequestDebitHandler(service *services.LedgerService) *RequestDebitHandler {
	return &RequestDebitHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// Register creates a pending request debit
// @Summary Register Request Debit
// @Description Create a recurring claim on the ledger. It must be approved before it can be drawn.
// @Tags RequestDebits
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body RegisterRequestDebitRequest true "Request debit"
// @Success 200 {object} ReferenceResponse
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /request-debits [post]
func (h *RequestDebitHandler) Register(w http.ResponseWriter, r *http.Request) {
	callerID, ok := caller(w, r)
	if !ok {
		return
	}

	var req RegisterRequestDebitRequest
	if !h.validator.DecodeJSON(w, r, &req) {
		return
	}

	interval, err := time.ParseDuration(req.PayoutInterval)
	if err != nil || interval <= 0 {
		services.SendErrorResponse(w, "payout_interval must be a positive duration", http.StatusBadRequest, nil)
		return
	}
	if req.EndDate.Before(req.StartDate) {
		services.SendErrorResponse(w, "end_date must not be before start_date", http.StatusBadRequest, nil)
		return
	}

	ref, err := h.service.RegisterRequestDebit(r.Context(), services.Call{Caller: callerID}, services.RegisterRequestDebit{
		Payee:          req.Payee,
		Amount:         req.Amount,
		Description:    req.Description,
		PayoutInterval: interval,
		StartDate:      req.StartDate,
		EndDate:        req.EndDate,
	}, *req.Nonce)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	services.SendJSON(w, ReferenceResponse{Reference: models.FormatReference(ref)})
}

// List returns the request debits in a status
// @Summary Find Request Debits By Status
// @Tags RequestDebits
// @Produce json
// @Security BearerAuth
// @Param status query string true "PENDING, APPROVED or CANCELLED"
// @Success 200 {array} models.RequestDebit
// @Failure 404 {object} services.ErrorResponse
// @Router /request-debits [get]
func (h *RequestDebitHandler) List(w http.ResponseWriter, r *http.Request) {
	status := models.RequestDebitStatus(r.URL.Query().Get("status"))
	debits, err := h.service.FindRequestDebitsByStatus(status)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	services.SendJSON(w, debits)
}

// Find returns one request debit
// @Summary Find Request Debit
// @Tags RequestDebits
// @Produce json
// @Security BearerAuth
// @Param ref path string true "Request debit reference"
// @Success 200 {object} models.RequestDebit
// @Failure 404 {object} services.ErrorResponse
// @Router /request-debits/{ref} [get]
func (h *RequestDebitHandler) Find(w http.ResponseWriter, r *http.Request) {
	ref, ok := reference(w, r)
	if !ok {
		return
	}

	rd, err := h.service.FindRequestDebit(ref)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	services.SendJSON(w, rd)
}

type transitionOp func(ctx context.Context, call services.Call, ref uint64, nonce uint64) (uint64, error)

// Approve approves a pending request debit
// @Summary Approve Request Debit
// @Tags RequestDebits
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param ref path string true "Request debit reference"
// @Param request body NonceRequest true "Nonce"
// @Success 200 {object} ReferenceResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /request-debits/{ref}/approve [post]
func (h *RequestDebitHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.ApproveRequestDebit)
}

// Cancel cancels a request debit
// @Summary Cancel Request Debit
// @Tags RequestDebits
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param ref path string true "Request debit reference"
// @Param request body NonceRequest true "Nonce"
// @Success 200 {object} ReferenceResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /request-debits/{ref}/cancel [post]
func (h *RequestDebitHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.service.CancelRequestDebit)
}

func (h *RequestDebitHandler) transition(w http.ResponseWriter, r *http.Request, run transitionOp) {
	callerID, ok := caller(w, r)
	if !ok {
		return
	}
	ref, ok := reference(w, r)
	if !ok {
		return
	}

	var req NonceRequest
	if !h.validator.DecodeJSON(w, r, &req) {
		return
	}

	out, err := run(r.Context(), services.Call{Caller: callerID}, ref, *req.Nonce)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	services.SendJSON(w, ReferenceResponse{Reference: models.FormatReference(out)})
}

// Drawdown pays one instalment of an approved request debit
// @Summary Request Debit Drawdown
// @Description Pays the amount to the payee recorded on the request debit
// @Tags RequestDebits
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param ref path string true "Request debit reference"
// @Param request body NonceRequest true "Nonce"
// @Success 200 {object} models.Payment
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /request-debits/{ref}/drawdown [post]
func (h *RequestDebitHandler) Drawdown(w http.ResponseWriter, r *http.Request) {
	callerID, ok := caller(w, r)
	if !ok {
		return
	}
	ref, ok := reference(w, r)
	if !ok {
		return
	}

	var req NonceRequest
	if !h.validator.DecodeJSON(w, r, &req) {
		return
	}

	payment, err := h.service.DrawdownRequestDebit(r.Context(), services.Call{Caller: callerID}, ref, *req.Nonce)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	services.SendJSON(w, payment)
}
