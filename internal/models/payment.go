package models

import (
	"time"

	"github.com/cespare/xxhash/v2"
)

type PaymentType string

const (
	PaymentTypePayIn        PaymentType = "PAY_IN"
	PaymentTypePayOut       PaymentType = "PAY_OUT"
	PaymentTypePayOutMulti  PaymentType = "PAY_OUT_MULTI"
	PaymentTypeRequestDebit PaymentType = "REQUEST_DEBIT"
	PaymentTypeDeposit      PaymentType = "DEPOSIT"
	PaymentTypeWithdrawal   PaymentType = "WITHDRAWAL"
)

// Payment statuses that are not settlement result codes.
const (
	PaymentStatusCompleted = "COMPLETED"
	PaymentStatusFailed    = "FAILED"
)

// Payment is an immutable record of a single movement of funds.
type Payment struct {
	Payee       string      `json:"payee"`
	Payer       string      `json:"payer"`
	Signer      string      `json:"signer"`
	Amount      Amount      `json:"amount"`
	Description string      `json:"description"`
	PaymentType PaymentType `json:"payment_type"`
	Status      string      `json:"status"`
	PaymentTime time.Time   `json:"payment_time"`
	Reference   uint64      `json:"reference,string"`
}

// NewPayment builds a Payment and derives its reference from every other
// field, the timestamp included.
func NewPayment(payee, payer, signer string, amount Amount, description string, paymentType PaymentType, status string, at time.Time) Payment {
	p := Payment{
		Payee:       payee,
		Payer:       payer,
		Signer:      signer,
		Amount:      amount,
		Description: description,
		PaymentType: paymentType,
		Status:      status,
		PaymentTime: at,
	}
	p.Reference = p.hash()
	return p
}

func (p Payment) hash() uint64 {
	h := xxhash.New()
	writeField(h, []byte(p.Payee))
	writeField(h, []byte(p.Payer))
	writeField(h, []byte(p.Signer))
	writeField(h, p.Amount.Bytes())
	writeField(h, []byte(p.Description))
	writeField(h, []byte(p.PaymentType))
	writeField(h, []byte(p.Status))
	writeTime(h, p.PaymentTime)
	return h.Sum64()
}

// MultiPaymentRequest is one line of a batched pay out.
type MultiPaymentRequest struct {
	Payee       string `json:"payee" validate:"required"`
	Amount      Amount `json:"amount"`
	Description string `json:"description" validate:"max=256"`
}
