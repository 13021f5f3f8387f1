package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	mW "github.com/openbank/ledger/internal/middleware"
	"github.com/openbank/ledger/internal/models"
	"github.com/openbank/ledger/internal/services"
)

// PaymentRequest is the body of pay-in, deposit and withdraw.
type PaymentRequest struct {
	Nonce       *uint64       `json:"nonce" validate:"required"`
	Description string        `json:"description" validate:"max=256"`
	Amount      models.Amount `json:"amount" swaggertype:"string"`
}

// PayOutRequest is the body of pay-out.
type PayOutRequest struct {
	Nonce       *uint64       `json:"nonce" validate:"required"`
	Description string        `json:"description" validate:"max=256"`
	Amount      models.Amount `json:"amount" swaggertype:"string"`
	Destination string        `json:"destination" validate:"required"`
}

// PayOutMultiRequest is the body of pay-out-multi.
type PayOutMultiRequest struct {
	Nonce    *uint64                      `json:"nonce" validate:"required"`
	Payments []models.MultiPaymentRequest `json:"payments" validate:"required,min=1,dive"`
}

// RegisterRequestDebitRequest is the body of request debit registration.
// PayoutInterval is a Go duration such as "720h".
type RegisterRequestDebitRequest struct {
	Nonce          *uint64       `json:"nonce" validate:"required"`
	Payee          string        `json:"payee" validate:"required"`
	Amount         models.Amount `json:"amount" swaggertype:"string"`
	Description    string        `json:"description" validate:"max=256"`
	PayoutInterval string        `json:"payout_interval" validate:"required"`
	StartDate      time.Time     `json:"start_date" validate:"required"`
	EndDate        time.Time     `json:"end_date" validate:"required"`
}

// NonceRequest is the body of request debit approve, cancel and drawdown.
type NonceRequest struct {
	Nonce *uint64 `json:"nonce" validate:"required"`
}

type NameRequest struct {
	Name string `json:"name" validate:"required,max=128"`
}

type NomineeRequest struct {
	Nominee string `json:"nominee" validate:"required"`
}

type AuthorityRequest struct {
	Authority string `json:"authority" validate:"required"`
}

type CodeRequest struct {
	Code *int32 `json:"code" validate:"required"`
}

// ResolveQRRequest is the body of presentation code resolution.
type ResolveQRRequest struct {
	Code string `json:"code" validate:"required"`
}

// ReferenceResponse carries the reference of a request debit.
type ReferenceResponse struct {
	Reference string `json:"reference"`
}

type BalanceResponse struct {
	Balance      string `json:"balance"`
	Denomination string `json:"denomination"`
}

type ValidResponse struct {
	Valid bool `json:"valid"`
}

type TestModeResponse struct {
	TestMode bool `json:"test_mode"`
}

type QRResponse struct {
	Reference string `json:"reference"`
	QRCode    string `json:"qrCode"`
	QRImage   string `json:"qrImage"`
}

type ResolveQRResponse struct {
	Payload      services.QRPayload  `json:"payload"`
	RequestDebit models.RequestDebit `json:"request_debit"`
}

// caller returns the authenticated account, writing a 401 when there is none.
func caller(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, ok := mW.CallerFromContext(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return "", false
	}
	return id, true
}

// reference parses the {ref} URL parameter, writing a 400 when it is invalid.
func reference(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	ref, err := models.ParseReference(chi.URLParam(r, "ref"))
	if err != nil {
		services.SendErrorResponse(w, "Invalid reference", http.StatusBadRequest, nil)
		return 0, false
	}
	return ref, true
}
