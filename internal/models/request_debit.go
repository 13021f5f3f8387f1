package models

import (
	"time"

	"github.com/cespare/xxhash/v2"
)

type RequestDebitStatus string

const (
	RequestDebitPending   RequestDebitStatus = "PENDING"
	RequestDebitApproved  RequestDebitStatus = "APPROVED"
	RequestDebitCancelled RequestDebitStatus = "CANCELLED"
)

// RequestDebit is a standing authorisation for the payee to draw Amount from
// the ledger once per PayoutInterval between StartDate and EndDate.
type RequestDebit struct {
	Payee          string             `json:"payee"`
	Amount         Amount             `json:"amount"`
	Description    string             `json:"description"`
	PayoutInterval time.Duration      `json:"payout_interval"`
	CreationDate   time.Time          `json:"creation_date"`
	LastPaid       time.Time          `json:"last_paid"`
	StartDate      time.Time          `json:"start_date"`
	EndDate        time.Time          `json:"end_date"`
	Creator        string             `json:"creator"`
	Status         RequestDebitStatus `json:"status"`
	ApprovedBy     string             `json:"approved_by"`
	Reference      uint64             `json:"reference,string"`
}

// NewRequestDebit creates a PENDING request debit. The reference covers the
// initial field values and does not change as the debit moves through its
// lifecycle.
func NewRequestDebit(payee string, amount Amount, description string, interval time.Duration, start, end time.Time, creator string, at time.Time) RequestDebit {
	rd := RequestDebit{
		Payee:          payee,
		Amount:         amount,
		Description:    description,
		PayoutInterval: interval,
		CreationDate:   at,
		StartDate:      start,
		EndDate:        end,
		Creator:        creator,
		Status:         RequestDebitPending,
	}
	rd.Reference = rd.hash()
	return rd
}

func (rd RequestDebit) hash() uint64 {
	h := xxhash.New()
	writeField(h, []byte(rd.Payee))
	writeField(h, rd.Amount.Bytes())
	writeField(h, []byte(rd.Description))
	writeUint(h, uint64(rd.PayoutInterval))
	writeTime(h, rd.CreationDate)
	writeTime(h, rd.LastPaid)
	writeTime(h, rd.StartDate)
	writeTime(h, rd.EndDate)
	writeField(h, []byte(rd.Creator))
	writeField(h, []byte(rd.Status))
	writeField(h, []byte(rd.ApprovedBy))
	return h.Sum64()
}

// NextDueAt is the earliest instant the next drawdown may happen.
func (rd RequestDebit) NextDueAt() time.Time {
	base := rd.StartDate
	if rd.LastPaid.After(base) {
		base = rd.LastPaid
	}
	return base.Add(rd.PayoutInterval)
}
