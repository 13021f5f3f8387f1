package models

import (
	"time"
)

// LedgerInfo describes a ledger instance.
type LedgerInfo struct {
	LedgerID          string `json:"ledger_id"`
	Name              string `json:"name"`
	Denomination      string `json:"denomination"`
	Owner             string `json:"owner"`
	Nominee           string `json:"nominee"`
	AuthorityIdentity string `json:"authority_identity"`
	Version           string `json:"version"`
	TestMode          bool   `json:"test_mode"`
}

// LedgerState is the serialised aggregate of one ledger instance. It is the
// unit of persistence.
type LedgerState struct {
	LedgerInfo
	Balance         Amount                          `json:"balance"`
	AffirmativeCode int32                           `json:"affirmative_code"`
	NegativeCode    int32                           `json:"negative_code"`
	Payments        []Payment                       `json:"payments"`
	RequestDebits   []RequestDebit                  `json:"request_debits"`
	RequestDebitsBy map[RequestDebitStatus][]uint64 `json:"request_debits_by_status"`
	Nonces          map[string][]uint64             `json:"nonces"`
	UpdatedAt       time.Time                       `json:"updated_at"`
}

// SecureCodes are the authority response codes the gate accepts.
type SecureCodes struct {
	Affirmative int32 `json:"affirmative"`
	Negative    int32 `json:"negative"`
}
