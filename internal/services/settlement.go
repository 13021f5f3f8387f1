package services

import (
	"context"
	"log"

	"github.com/openbank/ledger/internal/models"
)

// Settlement result codes. The code is stored as the Payment status.
const (
	SettlementSettled  uint8 = 0
	SettlementAccepted uint8 = 1
	SettlementInFlight uint8 = 2
	SettlementPending  uint8 = 3
	SettlementRejected uint8 = 4
)

// TransferOrder is one outbound movement handed to the settlement primitive.
type TransferOrder struct {
	LedgerID     string
	Destination  string
	Amount       models.Amount
	Denomination string
	Description  string
}

// Settler executes transfers. An error means the transfer did not resolve
// and no result code is available.
type Settler interface {
	Transfer(ctx context.Context, order TransferOrder) (uint8, error)
}

// LocalSettler accepts every transfer. It stands in for a real settlement
// rail in development.
type LocalSettler struct{}

func NewLocalSettler() *LocalSettler {
	return &LocalSettler{}
}

func (s *LocalSettler) Transfer(ctx context.Context, order TransferOrder) (uint8, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	log.Printf("[SETTLEMENT] local transfer of %s %s from %s to %s", order.Amount, order.Denomination, order.LedgerID, order.Destination)
	return SettlementSettled, nil
}
