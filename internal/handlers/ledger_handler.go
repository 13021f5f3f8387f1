package handlers

import (
	"context"
	"log"
	"net/http"

	mW "github.com/openbank/ledger/internal/middleware"
	"github.com/openbank/ledger/internal/models"
	"github.com/openbank/ledger/internal/services"
)

type LedgerHandler struct {
	service   *services.LedgerService
	validator *services.ValidationHelper
}

func NewLedgerHandler(service *services.LedgerService) *LedgerHandler {
	return &LedgerHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

// Info describes the ledger
// @Summary Ledger Info
// @Description Version, name, denomination, nominee and test mode of the ledger
// @Tags Ledger
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.LedgerInfo
// @Router /ledger [get]
func (h *LedgerHandler) Info(w http.ResponseWriter, r *http.Request) {
	services.SendJSON(w, h.service.Info())
}

// Balance returns the ledger balance
// @Summary View Balance
// @Description Governed read of the custodial balance
// @Tags Ledger
// @Produce json
// @Security BearerAuth
// @Success 200 {object} BalanceResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /ledger/balance [get]
func (h *LedgerHandler) Balance(w http.ResponseWriter, r *http.Request) {
	callerID, ok := caller(w, r)
	if !ok {
		return
	}

	balance, err := h.service.ViewBalance(r.Context(), callerID)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	services.SendJSON(w, BalanceResponse{Balance: balance.String(), Denomination: h.service.Denomination()})
}

// SecureCodes returns the authority response codes
// @Summary Check Secure Codes
// @Description Governed read of the affirmative and negative codes
// @Tags Ledger
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.SecureCodes
// @Failure 403 {object} services.ErrorResponse
// @Router /ledger/secure-codes [get]
func (h *LedgerHandler) SecureCodes(w http.ResponseWriter, r *http.Request) {
	callerID, ok := caller(w, r)
	if !ok {
		return
	}

	codes, err := h.service.CheckSecureCodes(r.Context(), callerID)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	services.SendJSON(w, codes)
}

type inboundOp func(ctx context.Context, call services.Call, description string, amount models.Amount, nonce uint64) (models.Payment, error)

// PayIn credits the ledger with the attached amount
// @Summary Pay In
// @Description Inbound payment. The X-Attachment token must be issued for the caller, the operation and the nonce, and its amount must equal the stated amount.
// @Tags Payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param X-Attachment header string true "Signed attachment issued by the payment gateway"
// @Param request body PaymentRequest true "Pay in request"
// @Success 200 {object} models.Payment
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /payments/pay-in [post]
func (h *LedgerHandler) PayIn(w http.ResponseWriter, r *http.Request) {
	h.inbound(w, r, services.OpPayIn, h.service.PayIn)
}

// Deposit credits the ledger on behalf of the nominee
// @Summary Deposit
// @Description Nominee deposit. Other callers must be allowed by the role authority.
// @Tags Payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param X-Attachment header string true "Signed attachment issued by the payment gateway"
// @Param request body PaymentRequest true "Deposit request"
// @Success 200 {object} models.Payment
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /payments/deposit [post]
func (h *LedgerHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.inbound(w, r, services.OpDeposit, h.service.Deposit)
}

func (h *LedgerHandler) inbound(w http.ResponseWriter, r *http.Request, op string, run inboundOp) {
	callerID, ok := caller(w, r)
	if !ok {
		return
	}

	var req PaymentRequest
	if !h.validator.DecodeJSON(w, r, &req) {
		return
	}

	attachment, err := mW.VerifyAttachment(r)
	if err == nil {
		err = attachment.Matches(callerID, op, *req.Nonce)
	}
	if err != nil {
		log.Printf("[LEDGER] %s from %s refused: %v", op, callerID, err)
		services.SendErrorResponse(w, "Invalid "+mW.AttachmentHeader+" header", http.StatusBadRequest, nil)
		return
	}

	call := services.Call{Caller: callerID, Attached: attachment.Amount}
	payment, err := run(r.Context(), call, req.Description, req.Amount, *req.Nonce)
	if err != nil {
		log.Printf("[LEDGER] inbound payment from %s failed: %v", callerID, err)
		services.SendLedgerError(w, err)
		return
	}

	services.SendJSON(w, payment)
}

// PayOut pays an amount out of the ledger
// @Summary Pay Out
// @Description Outbound payment to a destination account
// @Tags Payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body PayOutRequest true "Pay out request"
// @Success 200 {object} models.Payment
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /payments/pay-out [post]
func (h *LedgerHandler) PayOut(w http.ResponseWriter, r *http.Request) {
	callerID, ok := caller(w, r)
	if !ok {
		return
	}

	var req PayOutRequest
	if !h.validator.DecodeJSON(w, r, &req) {
		return
	}

	payment, err := h.service.PayOut(r.Context(), services.Call{Caller: callerID}, req.Description, req.Amount, req.Destination, *req.Nonce)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	services.SendJSON(w, payment)
}

// PayOutMulti pays several destinations in one call
// @Summary Pay Out Multi
// @Description Batched outbound payment. The total is checked against the balance once.
// @Tags Payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body PayOutMultiRequest true "Batch of payments"
// @Success 200 {array} models.Payment
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /payments/pay-out-multi [post]
func (h *LedgerHandler) PayOutMulti(w http.ResponseWriter, r *http.Request) {
	callerID, ok := caller(w, r)
	if !ok {
		return
	}

	var req PayOutMultiRequest
	if !h.validator.DecodeJSON(w, r, &req) {
		return
	}

	payments, err := h.service.PayOutMulti(r.Context(), services.Call{Caller: callerID}, req.Payments, *req.Nonce)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	services.SendJSON(w, payments)
}

// Withdraw pays an amount out to the nominee
// @Summary Withdraw
// @Description Outbound payment to the nominee account
// @Tags Payments
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body PaymentRequest true "Withdraw request"
// @Success 200 {object} models.Payment
// @Failure 400 {object} services.ErrorResponse
// @Failure 403 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Failure 502 {object} services.ErrorResponse
// @Router /payments/withdraw [post]
func (h *LedgerHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	callerID, ok := caller(w, r)
	if !ok {
		return
	}

	var req PaymentRequest
	if !h.validator.DecodeJSON(w, r, &req) {
		return
	}

	payment, err := h.service.Withdraw(r.Context(), services.Call{Caller: callerID}, req.Description, req.Amount, *req.Nonce)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	services.SendJSON(w, payment)
}

// FindPayment returns a recorded payment
// @Summary Find Payment
// @Tags Payments
// @Produce json
// @Security BearerAuth
// @Param ref path string true "Payment reference"
// @Success 200 {object} models.Payment
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /payments/{ref} [get]
func (h *LedgerHandler) FindPayment(w http.ResponseWriter, r *http.Request) {
	ref, ok := reference(w, r)
	if !ok {
		return
	}

	payment, err := h.service.FindPayment(ref)
	if err != nil {
		services.SendLedgerError(w, err)
		return
	}

	services.SendJSON(w, payment)
}

// ValidPayment reports whether a payment reference exists
// @Summary Is Valid Payment Reference
// @Tags Payments
// @Produce json
// @Security BearerAuth
// @Param ref path string true "Payment reference"
// @Success 200 {object} ValidResponse
// @Failure 400 {object} services.ErrorResponse
// @Router /payments/{ref}/valid [get]
func (h *LedgerHandler) ValidPayment(w http.ResponseWriter, r *http.Request) {
	ref, ok := reference(w, r)
	if !ok {
		return
	}

	services.SendJSON(w, ValidResponse{Valid: h.service.IsValidPaymentRef(ref)})
}
