package services

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrReplayedNonce        = errors.New("replayed nonce")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrAmountMismatch       = errors.New("amount mismatch")
	ErrNotFound             = errors.New("not found")
	ErrInvalidState         = errors.New("invalid state")
	ErrOutOfWindow          = errors.New("out of window")
	ErrIntervalNotElapsed   = errors.New("interval not elapsed")
	ErrAuthorityUnavailable = errors.New("authority unavailable")
	ErrSettlementFailure    = errors.New("settlement failure")
	ErrArithmeticOverflow   = errors.New("arithmetic overflow")
	ErrPersistence          = errors.New("persistence failure")
)

// LedgerError ties a taxonomy error to the operation that raised it.
type LedgerError struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e *LedgerError) Error() string {
	s := e.Op + ": " + e.Kind.Error()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Is matches the taxonomy kind so callers can use errors.Is(err, ErrNotFound).
func (e *LedgerError) Is(target error) bool {
	return e.Kind == target
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

func newError(op string, kind error, format string, args ...any) error {
	return &LedgerError{Op: op, Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func wrapError(op string, kind error, err error, format string, args ...any) error {
	return &LedgerError{Op: op, Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Kind returns the taxonomy error carried by err, or nil.
func Kind(err error) error {
	var le *LedgerError
	if errors.As(err, &le) {
		return le.Kind
	}
	return nil
}
