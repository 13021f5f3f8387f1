package audit

import (
	"encoding/json"
	"log"
	"time"

	"github.com/openbank/ledger/internal/models"
)

type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	LedgerID  string    `json:"ledger_id"`
	Operation string    `json:"operation"`
	Caller    string    `json:"caller"`
	Reference string    `json:"reference,omitempty"`
	Amount    string    `json:"amount,omitempty"`
	Status    string    `json:"status"`
	Details   any       `json:"details,omitempty"`
}

// Logger writes one AUDIT line per ledger event to the standard logger.
type Logger struct {
	ledgerID string
	now      func() time.Time
}

func NewLogger(ledgerID string) *Logger {
	return &Logger{ledgerID: ledgerID, now: time.Now}
}

func (a *Logger) LogPayment(op, caller string, p models.Payment) {
	a.log(Event{
		EventType: "PAYMENT",
		Operation: op,
		Caller:    caller,
		Reference: models.FormatReference(p.Reference),
		Amount:    p.Amount.String(),
		Status:    p.Status,
		Details: map[string]string{
			"payee":        p.Payee,
			"payer":        p.Payer,
			"payment_type": string(p.PaymentType),
		},
	})
}

func (a *Logger) LogRequestDebit(op, caller string, rd models.RequestDebit) {
	a.log(Event{
		EventType: "REQUEST_DEBIT",
		Operation: op,
		Caller:    caller,
		Reference: models.FormatReference(rd.Reference),
		Amount:    rd.Amount.String(),
		Status:    string(rd.Status),
		Details: map[string]string{
			"payee":       rd.Payee,
			"approved_by": rd.ApprovedBy,
		},
	})
}

func (a *Logger) LogError(op, caller string, err error) {
	a.log(Event{
		EventType: "ERROR",
		Operation: op,
		Caller:    caller,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) LogOperation(op, caller, details string) {
	a.log(Event{
		EventType: "ADMIN",
		Operation: op,
		Caller:    caller,
		Status:    "SUCCESS",
		Details:   map[string]string{"details": details},
	})
}

func (a *Logger) log(event Event) {
	event.Timestamp = a.now()
	event.LedgerID = a.ledgerID
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
