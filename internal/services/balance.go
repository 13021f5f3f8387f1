package services

import (
	"github.com/openbank/ledger/internal/models"
)

// Balance is the single custodial balance of a ledger. It is not safe for
// concurrent use; LedgerService serialises access.
type Balance struct {
	amount models.Amount
}

func NewBalance(opening models.Amount) *Balance {
	return &Balance{amount: opening}
}

func (b *Balance) Amount() models.Amount {
	return b.amount
}

// Check reports whether amount can be taken out. The amount must be strictly
// below the balance, so a debit can never bring the balance to zero.
func (b *Balance) Check(op string, amount models.Amount) error {
	if amount.Cmp(b.amount) >= 0 {
		return newError(op, ErrInsufficientFunds, "required %s, available %s", amount, b.amount)
	}
	rest, err := b.amount.Sub(amount)
	if err != nil || rest.IsZero() || rest.Cmp(b.amount) > 0 {
		return newError(op, ErrInsufficientFunds, "required %s, available %s", amount, b.amount)
	}
	return nil
}

func (b *Balance) Increase(op string, amount models.Amount) error {
	sum, err := b.amount.Add(amount)
	if err != nil {
		return wrapError(op, ErrArithmeticOverflow, err, "balance %s", b.amount)
	}
	b.amount = sum
	return nil
}

func (b *Balance) Decrease(op string, amount models.Amount) error {
	if err := b.Check(op, amount); err != nil {
		return err
	}
	return b.decrease(op, amount)
}

// decrease skips Check. It is used inside a batch whose total has already
// been checked.
func (b *Balance) decrease(op string, amount models.Amount) error {
	diff, err := b.amount.Sub(amount)
	if err != nil {
		return wrapError(op, ErrArithmeticOverflow, err, "balance %s", b.amount)
	}
	b.amount = diff
	return nil
}

// restore puts back an amount taken by a debit whose settlement failed.
func (b *Balance) restore(amount models.Amount) {
	if sum, err := b.amount.Add(amount); err == nil {
		b.amount = sum
	}
}
