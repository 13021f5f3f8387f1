package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

// MaxAmountBits is the width of the widest amount the ledger accepts.
const MaxAmountBits = 128

var (
	ErrAmountOverflow  = errors.New("amount overflow")
	ErrAmountUnderflow = errors.New("amount underflow")
	ErrInvalidAmount   = errors.New("invalid amount")
)

var maxAmount = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), MaxAmountBits), big.NewInt(1))

// Amount is an unsigned quantity in the smallest unit of the ledger
// denomination. The zero value is 0. Amounts are immutable; arithmetic
// returns a new value.
type Amount struct {
	v *big.Int
}

func NewAmount(v uint64) Amount {
	return Amount{v: new(big.Int).SetUint64(v)}
}

// ParseAmount parses a base-10 unsigned integer.
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return Amount{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if v.Cmp(maxAmount) > 0 {
		return Amount{}, fmt.Errorf("%w: %s exceeds %d bits", ErrAmountOverflow, s, MaxAmountBits)
	}
	return Amount{v: v}, nil
}

// MustParseAmount is ParseAmount for constants and tests.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) big() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return a.v
}

func (a Amount) Add(b Amount) (Amount, error) {
	sum := new(big.Int).Add(a.big(), b.big())
	if sum.Cmp(maxAmount) > 0 {
		return Amount{}, fmt.Errorf("%w: %s + %s", ErrAmountOverflow, a, b)
	}
	return Amount{v: sum}, nil
}

func (a Amount) Sub(b Amount) (Amount, error) {
	diff := new(big.Int).Sub(a.big(), b.big())
	if diff.Sign() < 0 {
		return Amount{}, fmt.Errorf("%w: %s - %s", ErrAmountUnderflow, a, b)
	}
	return Amount{v: diff}, nil
}

// Cmp returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int {
	return a.big().Cmp(b.big())
}

func (a Amount) IsZero() bool {
	return a.big().Sign() == 0
}

func (a Amount) String() string {
	return a.big().String()
}

// Major converts from minor units to a float with the given number of
// decimal places. Precision is lost above 2^53 minor units.
func (a Amount) Major(decimals int) float64 {
	f := new(big.Float).SetInt(a.big())
	if decimals > 0 {
		scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
		f.Quo(f, scale)
	}
	v, _ := f.Float64()
	return v
}

// Bytes is the fixed 16-byte big-endian encoding used for hashing.
func (a Amount) Bytes() []byte {
	out := make([]byte, MaxAmountBits/8)
	return a.big().FillBytes(out)
}

// MarshalJSON writes the amount as a decimal string so values above 2^53
// survive JavaScript clients.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts a decimal string or a bare JSON number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		*a = Amount{}
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
