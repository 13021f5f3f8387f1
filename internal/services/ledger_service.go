package services

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/openbank/ledger/internal/audit"
	"github.com/openbank/ledger/internal/metrics"
	"github.com/openbank/ledger/internal/models"
)

// Version of the ledger surface reported by get_version.
const Version = "0.1.0"

// Operation names sent to the role authority, apart from the ones remapped
// in policyOperations. Policies are keyed on these strings, so they must not
// change.
const (
	OpViewBalance          = "view_balance"
	OpCheckSecureCodes     = "check_secure_codes"
	OpPayIn                = "pay_in"
	OpDeposit              = "deposit"
	OpPayOut               = "payout"
	OpPayOutMulti          = "pay_out_multi"
	OpWithdraw             = "withdraw"
	OpRegisterRequestDebit = "register_request_debit"
	OpApproveRequestDebit  = "approve_request_debit"
	OpCancelRequestDebit   = "cancel_request_debit"
	OpRequestDebit         = "request_debit"
	OpSetName              = "set_open_bank_name"
	OpSetNominee           = "set_obei_nominee_acccount"
	OpSetAuthority         = "set_obei_open_roles"
	OpSetAffirmativeCode   = "set_affirmative_secure_code"
	OpSetNegativeCode      = "set_negative_secure_code"
	OpDeactivateTestMode   = "deactivate_test_mode"
)

// policyOperations names the authority policy an operation is checked
// against when it is not the operation's own name. Cancelling a request
// debit is governed by the request_debit policy.
var policyOperations = map[string]string{
	OpCancelRequestDebit: OpRequestDebit,
}

var outcomeLabels = map[error]string{
	ErrUnauthorized:         "unauthorized",
	ErrReplayedNonce:        "replayed_nonce",
	ErrInsufficientFunds:    "insufficient_funds",
	ErrAmountMismatch:       "amount_mismatch",
	ErrNotFound:             "not_found",
	ErrInvalidState:         "invalid_state",
	ErrOutOfWindow:          "out_of_window",
	ErrIntervalNotElapsed:   "interval_not_elapsed",
	ErrAuthorityUnavailable: "authority_unavailable",
	ErrSettlementFailure:    "settlement_failure",
	ErrArithmeticOverflow:   "arithmetic_overflow",
	ErrPersistence:          "persistence_failure",
}

// Call identifies who is invoking an operation and what value they attached.
type Call struct {
	Caller   string
	Attached models.Amount
}

// StateStore persists the ledger aggregate.
type StateStore interface {
	Save(ctx context.Context, state *models.LedgerState) error
}

// LedgerSettings bootstraps a new ledger instance.
type LedgerSettings struct {
	Info            models.LedgerInfo
	OpeningBalance  models.Amount
	AffirmativeCode int32
	NegativeCode    int32
}

// RegisterRequestDebit is the input of RegisterRequestDebit.
type RegisterRequestDebit struct {
	Payee          string
	Amount         models.Amount
	Description    string
	PayoutInterval time.Duration
	StartDate      time.Time
	EndDate        time.Time
}

// LedgerService is a single custodial ledger. Every operation holds the
// ledger lock from its first check to its last write.
type LedgerService struct {
	mu sync.Mutex

	info     models.LedgerInfo
	balance  *Balance
	guard    *ReplayGuard
	gate     *Gate
	payments *PaymentRecorder
	debits   *RequestDebitRegistry
	settler  Settler

	store StateStore
	// pending is the aggregate as it was before the running operation. It
	// is nil when no store is set or once a transfer has left the ledger.
	pending *models.LedgerState
	feed    PaymentFeed
	audit *audit.Logger
	now   func() time.Time
}

func NewLedgerService(settings LedgerSettings, authority AuthorityClient, settler Settler) *LedgerService {
	info := settings.Info
	info.Version = Version
	return &LedgerService{
		info:     info,
		balance:  NewBalance(settings.OpeningBalance),
		guard:    NewReplayGuard(),
		gate:     NewGate(authority, info.AuthorityIdentity, settings.AffirmativeCode, settings.NegativeCode, info.TestMode),
		payments: NewPaymentRecorder(),
		debits:   NewRequestDebitRegistry(),
		settler:  settler,
		audit:    audit.NewLogger(info.LedgerID),
		now:      time.Now,
	}
}

// SetStateStore makes every committed mutation write the aggregate to store.
func (s *LedgerService) SetStateStore(store StateStore) {
	s.store = store
}

// SetPaymentFeed publishes every recorded payment to feed.
func (s *LedgerService) SetPaymentFeed(feed PaymentFeed) {
	s.feed = feed
}

func (s *LedgerService) SetClock(now func() time.Time) {
	s.now = now
}

// Restore replaces the in-memory aggregate with a persisted one.
func (s *LedgerService) Restore(state *models.LedgerState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.restore(state)
	s.audit = audit.NewLogger(s.info.LedgerID)
	log.Printf("[LEDGER] Restored %s: balance %s, %d payments, %d request debits",
		s.info.LedgerID, state.Balance, len(state.Payments), len(state.RequestDebits))
}

func (s *LedgerService) restore(state *models.LedgerState) {
	s.info = state.LedgerInfo
	s.info.Version = Version
	s.balance = NewBalance(state.Balance)
	s.gate.SetAuthority(state.AuthorityIdentity)
	s.gate.SetAffirmative(state.AffirmativeCode)
	s.gate.SetNegative(state.NegativeCode)
	s.gate.testMode = state.TestMode
	s.payments.restore(state.Payments)
	s.debits.restore(state.RequestDebits, state.RequestDebitsBy)
	s.guard.restore(state.Nonces)
}

// Snapshot returns the current aggregate.
func (s *LedgerService) Snapshot() *models.LedgerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot()
}

func (s *LedgerService) snapshot() *models.LedgerState {
	info := s.info
	info.AuthorityIdentity = s.gate.Authority()
	info.TestMode = s.gate.TestMode()
	affirmative, negative := s.gate.Codes()
	debits, index := s.debits.snapshot()
	return &models.LedgerState{
		LedgerInfo:      info,
		Balance:         s.balance.Amount(),
		AffirmativeCode: affirmative,
		NegativeCode:    negative,
		Payments:        s.payments.snapshot(),
		RequestDebits:   debits,
		RequestDebitsBy: index,
		Nonces:          s.guard.snapshot(),
		UpdatedAt:       s.now(),
	}
}

func (s *LedgerService) authorize(ctx context.Context, op string, mode AuthMode, caller string) error {
	return s.gate.Authorize(ctx, mode, AuthorityQuery{
		LedgerID:   s.info.LedgerID,
		LedgerName: s.info.Name,
		Operation:  policyOperation(op),
		Caller:     caller,
	})
}

func policyOperation(op string) string {
	if policy, ok := policyOperations[op]; ok {
		return policy
	}
	return op
}

// begin remembers the aggregate so finish can put it back when the
// operation's changes cannot be persisted.
func (s *LedgerService) begin() {
	s.pending = nil
	if s.store != nil {
		s.pending = s.snapshot()
	}
}

// finish records the outcome of an operation and persists the aggregate when
// the operation changed it. A failed save rolls the aggregate back to what
// begin saw and fails the operation, unless a transfer already left the
// ledger, in which case the in-memory state is kept and the error returned.
func (s *LedgerService) finish(ctx context.Context, op, caller string, mutated bool, err error) error {
	pending := s.pending
	s.pending = nil

	if mutated && s.store != nil {
		if serr := s.store.Save(context.WithoutCancel(ctx), s.snapshot()); serr != nil {
			log.Printf("[LEDGER] Failed to persist state after %s: %v", op, serr)
			if pending != nil {
				s.restore(pending)
			}
			if err == nil {
				err = wrapError(op, ErrPersistence, serr, "save after %s", op)
			}
		}
	}

	metrics.Operations.WithLabelValues(op, metrics.Outcome(err, outcomeLabels)).Inc()
	if err != nil {
		s.audit.LogError(op, caller, err)
	}
	return err
}

// checkpoint persists the aggregate before a transfer leaves the ledger, so
// the debit is durable before the money moves.
func (s *LedgerService) checkpoint(ctx context.Context, op string) error {
	if s.store == nil {
		return nil
	}
	if err := s.store.Save(context.WithoutCancel(ctx), s.snapshot()); err != nil {
		log.Printf("[LEDGER] Failed to persist state before %s transfer: %v", op, err)
		return wrapError(op, ErrPersistence, err, "checkpoint before transfer")
	}
	return nil
}

func (s *LedgerService) record(ctx context.Context, op, caller string, p models.Payment) models.Payment {
	s.payments.Record(p)
	s.audit.LogPayment(op, caller, p)
	if s.feed != nil {
		if err := s.feed.Publish(context.WithoutCancel(ctx), p); err != nil {
			log.Printf("[LEDGER] Failed to publish payment %d: %v", p.Reference, err)
		}
	}
	return p
}

// settle runs the transfer after local state has been updated. The caller's
// cancellation no longer applies at this point.
func (s *LedgerService) settle(ctx context.Context, op, destination string, amount models.Amount, description string) (string, error) {
	if err := s.checkpoint(ctx, op); err != nil {
		return "", err
	}
	code, err := s.settler.Transfer(context.WithoutCancel(ctx), TransferOrder{
		LedgerID:     s.info.LedgerID,
		Destination:  destination,
		Amount:       amount,
		Denomination: s.info.Denomination,
		Description:  description,
	})
	if err != nil {
		log.Printf("[SETTLEMENT] %s transfer of %s to %s failed: %v", op, amount, destination, err)
		return "", wrapError(op, ErrSettlementFailure, err, "transfer of %s to %s", amount, destination)
	}
	s.pending = nil
	status := strconv.Itoa(int(code))
	metrics.SettlementCodes.WithLabelValues(status).Inc()
	return status, nil
}

func (s *LedgerService) checkAttached(op string, call Call, stated models.Amount) error {
	if call.Attached.Cmp(stated) != 0 {
		return newError(op, ErrAmountMismatch, "stated %s, attached %s", stated, call.Attached)
	}
	return nil
}

// PayIn credits the ledger with the value attached to the call.
func (s *LedgerService) PayIn(ctx context.Context, call Call, description string, amount models.Amount, nonce uint64) (models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begin()

	p, mutated, err := s.payIn(ctx, call, description, amount, nonce)
	return p, s.finish(ctx, OpPayIn, call.Caller, mutated, err)
}

func (s *LedgerService) payIn(ctx context.Context, call Call, description string, amount models.Amount, nonce uint64) (models.Payment, bool, error) {
	if err := s.guard.Check(OpPayIn, call.Caller, nonce); err != nil {
		return models.Payment{}, false, err
	}
	if err := s.authorize(ctx, OpPayIn, ModeAllowed, call.Caller); err != nil {
		return models.Payment{}, true, err
	}
	if err := s.checkAttached(OpPayIn, call, amount); err != nil {
		return models.Payment{}, true, err
	}
	if err := s.balance.Increase(OpPayIn, amount); err != nil {
		return models.Payment{}, true, err
	}
	p := models.NewPayment(s.info.LedgerID, call.Caller, call.Caller, amount, description,
		models.PaymentTypePayIn, models.PaymentStatusCompleted, s.now())
	return s.record(ctx, OpPayIn, call.Caller, p), true, nil
}

// Deposit is PayIn for internal business funds. The nominee needs no
// authority check.
func (s *LedgerService) Deposit(ctx context.Context, call Call, description string, amount models.Amount, nonce uint64) (models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begin()

	p, mutated, err := s.deposit(ctx, call, description, amount, nonce)
	return p, s.finish(ctx, OpDeposit, call.Caller, mutated, err)
}

func (s *LedgerService) deposit(ctx context.Context, call Call, description string, amount models.Amount, nonce uint64) (models.Payment, bool, error) {
	if err := s.guard.Check(OpDeposit, call.Caller, nonce); err != nil {
		return models.Payment{}, false, err
	}
	if call.Caller != s.info.Nominee {
		if err := s.authorize(ctx, OpDeposit, ModeAllowed, call.Caller); err != nil {
			return models.Payment{}, true, err
		}
	}
	if err := s.checkAttached(OpDeposit, call, amount); err != nil {
		return models.Payment{}, true, err
	}
	if err := s.balance.Increase(OpDeposit, amount); err != nil {
		return models.Payment{}, true, err
	}
	p := models.NewPayment(s.info.LedgerID, call.Caller, call.Caller, amount, description,
		models.PaymentTypeDeposit, models.PaymentStatusCompleted, s.now())
	return s.record(ctx, OpDeposit, call.Caller, p), true, nil
}

// PayOut sends amount to destination.
func (s *LedgerService) PayOut(ctx context.Context, call Call, description string, amount models.Amount, destination string, nonce uint64) (models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begin()

	p, mutated, err := s.payOut(ctx, call, description, amount, destination, nonce)
	return p, s.finish(ctx, OpPayOut, call.Caller, mutated, err)
}

func (s *LedgerService) payOut(ctx context.Context, call Call, description string, amount models.Amount, destination string, nonce uint64) (models.Payment, bool, error) {
	if err := s.guard.Check(OpPayOut, call.Caller, nonce); err != nil {
		return models.Payment{}, false, err
	}
	if err := s.authorize(ctx, OpPayOut, ModeAllowed, call.Caller); err != nil {
		return models.Payment{}, true, err
	}
	return s.pay(ctx, OpPayOut, call.Caller, destination, amount, description, models.PaymentTypePayOut)
}

// Withdraw pays amount to the nominee. The nominee may always withdraw;
// anyone else needs authority approval.
func (s *LedgerService) Withdraw(ctx context.Context, call Call, description string, amount models.Amount, nonce uint64) (models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begin()

	p, mutated, err := s.withdraw(ctx, call, description, amount, nonce)
	return p, s.finish(ctx, OpWithdraw, call.Caller, mutated, err)
}

func (s *LedgerService) withdraw(ctx context.Context, call Call, description string, amount models.Amount, nonce uint64) (models.Payment, bool, error) {
	if err := s.guard.Check(OpWithdraw, call.Caller, nonce); err != nil {
		return models.Payment{}, false, err
	}
	if call.Caller != s.info.Nominee {
		if err := s.authorize(ctx, OpWithdraw, ModeAllowed, call.Caller); err != nil {
			return models.Payment{}, true, err
		}
	}
	return s.pay(ctx, OpWithdraw, call.Caller, s.info.Nominee, amount, description, models.PaymentTypeWithdrawal)
}

// pay debits the balance, settles and records the payment. A failed
// settlement puts the balance back and records nothing.
func (s *LedgerService) pay(ctx context.Context, op, caller, payee string, amount models.Amount, description string, paymentType models.PaymentType) (models.Payment, bool, error) {
	if err := s.balance.Decrease(op, amount); err != nil {
		return models.Payment{}, true, err
	}
	status, err := s.settle(ctx, op, payee, amount, description)
	if err != nil {
		s.balance.restore(amount)
		return models.Payment{}, true, err
	}
	p := models.NewPayment(payee, s.info.LedgerID, caller, amount, description, paymentType, status, s.now())
	return s.record(ctx, op, caller, p), true, nil
}

// PayOutMulti pays a batch after checking the batch total against the
// balance once. Each item settles on its own: an item whose transfer fails is
// recorded with status FAILED, its amount stays in the ledger, and the rest
// of the batch carries on.
func (s *LedgerService) PayOutMulti(ctx context.Context, call Call, requests []models.MultiPaymentRequest, nonce uint64) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begin()

	payments, mutated, err := s.payOutMulti(ctx, call, requests, nonce)
	return payments, s.finish(ctx, OpPayOutMulti, call.Caller, mutated, err)
}

func (s *LedgerService) payOutMulti(ctx context.Context, call Call, requests []models.MultiPaymentRequest, nonce uint64) ([]models.Payment, bool, error) {
	if err := s.guard.Check(OpPayOutMulti, call.Caller, nonce); err != nil {
		return nil, false, err
	}
	if err := s.authorize(ctx, OpPayOutMulti, ModeAllowed, call.Caller); err != nil {
		return nil, true, err
	}

	total := models.NewAmount(0)
	for _, req := range requests {
		sum, err := total.Add(req.Amount)
		if err != nil {
			return nil, true, wrapError(OpPayOutMulti, ErrArithmeticOverflow, err, "batch of %d", len(requests))
		}
		total = sum
	}
	if err := s.balance.Check(OpPayOutMulti, total); err != nil {
		return nil, true, err
	}

	payments := make([]models.Payment, 0, len(requests))
	for _, req := range requests {
		if err := s.balance.decrease(OpPayOutMulti, req.Amount); err != nil {
			return payments, true, err
		}
		status, err := s.settle(ctx, OpPayOutMulti, req.Payee, req.Amount, req.Description)
		if err != nil {
			s.balance.restore(req.Amount)
			status = models.PaymentStatusFailed
		}
		p := models.NewPayment(req.Payee, s.info.LedgerID, call.Caller, req.Amount, req.Description,
			models.PaymentTypePayOutMulti, status, s.now())
		payments = append(payments, s.record(ctx, OpPayOutMulti, call.Caller, p))
	}
	return payments, true, nil
}

// RegisterRequestDebit creates a PENDING request debit and returns its
// reference.
func (s *LedgerService) RegisterRequestDebit(ctx context.Context, call Call, req RegisterRequestDebit, nonce uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begin()

	op := OpRegisterRequestDebit
	if err := s.guard.Check(op, call.Caller, nonce); err != nil {
		return 0, s.finish(ctx, op, call.Caller, false, err)
	}
	if err := s.authorize(ctx, op, ModeBarred, call.Caller); err != nil {
		return 0, s.finish(ctx, op, call.Caller, true, err)
	}

	rd := models.NewRequestDebit(req.Payee, req.Amount, req.Description, req.PayoutInterval,
		req.StartDate, req.EndDate, call.Caller, s.now())
	s.debits.Insert(rd)
	s.audit.LogRequestDebit(op, call.Caller, rd)
	return rd.Reference, s.finish(ctx, op, call.Caller, true, nil)
}

// ApproveRequestDebit moves a PENDING request debit to APPROVED.
func (s *LedgerService) ApproveRequestDebit(ctx context.Context, call Call, ref uint64, nonce uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begin()

	op := OpApproveRequestDebit
	if err := s.guard.Check(op, call.Caller, nonce); err != nil {
		return 0, s.finish(ctx, op, call.Caller, false, err)
	}
	if err := s.authorize(ctx, op, ModeAllowed, call.Caller); err != nil {
		return 0, s.finish(ctx, op, call.Caller, true, err)
	}
	rd, err := s.debits.Find(op, ref)
	if err != nil {
		return 0, s.finish(ctx, op, call.Caller, true, err)
	}
	if rd.Status != models.RequestDebitPending {
		err := newError(op, ErrInvalidState, "request debit %d is %s, want %s", ref, rd.Status, models.RequestDebitPending)
		return 0, s.finish(ctx, op, call.Caller, true, err)
	}
	rd, err = s.debits.Transition(op, ref, models.RequestDebitApproved, func(rd *models.RequestDebit) {
		rd.ApprovedBy = call.Caller
	})
	if err != nil {
		return 0, s.finish(ctx, op, call.Caller, true, err)
	}
	s.audit.LogRequestDebit(op, call.Caller, rd)
	return rd.Reference, s.finish(ctx, op, call.Caller, true, nil)
}

// CancelRequestDebit cancels a request debit in any state.
func (s *LedgerService) CancelRequestDebit(ctx context.Context, call Call, ref uint64, nonce uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begin()

	op := OpCancelRequestDebit
	if err := s.guard.Check(op, call.Caller, nonce); err != nil {
		return 0, s.finish(ctx, op, call.Caller, false, err)
	}
	if err := s.authorize(ctx, op, ModeAllowed, call.Caller); err != nil {
		return 0, s.finish(ctx, op, call.Caller, true, err)
	}
	rd, err := s.debits.Transition(op, ref, models.RequestDebitCancelled, nil)
	if err != nil {
		return 0, s.finish(ctx, op, call.Caller, true, err)
	}
	s.audit.LogRequestDebit(op, call.Caller, rd)
	return rd.Reference, s.finish(ctx, op, call.Caller, true, nil)
}

// DrawdownRequestDebit pays one instalment of an APPROVED request debit to
// the payee recorded on it, whoever the caller is.
func (s *LedgerService) DrawdownRequestDebit(ctx context.Context, call Call, ref uint64, nonce uint64) (models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begin()

	p, mutated, err := s.drawdown(ctx, call, ref, nonce)
	return p, s.finish(ctx, OpRequestDebit, call.Caller, mutated, err)
}

func (s *LedgerService) drawdown(ctx context.Context, call Call, ref uint64, nonce uint64) (models.Payment, bool, error) {
	op := OpRequestDebit
	if err := s.guard.Check(op, call.Caller, nonce); err != nil {
		return models.Payment{}, false, err
	}
	if err := s.authorize(ctx, op, ModeBarred, call.Caller); err != nil {
		return models.Payment{}, true, err
	}
	rd, err := s.debits.Find(op, ref)
	if err != nil {
		return models.Payment{}, true, err
	}
	if rd.Status != models.RequestDebitApproved {
		return models.Payment{}, true, newError(op, ErrInvalidState, "request debit %d is %s, want %s", ref, rd.Status, models.RequestDebitApproved)
	}

	now := s.now()
	if now.Before(rd.StartDate) {
		return models.Payment{}, true, newError(op, ErrOutOfWindow, "request debit %d claim period starts %s, now %s", ref, rd.StartDate.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	if now.After(rd.EndDate) {
		return models.Payment{}, true, newError(op, ErrOutOfWindow, "request debit %d claim period ended %s, now %s", ref, rd.EndDate.Format(time.RFC3339), now.Format(time.RFC3339))
	}
	if due := rd.NextDueAt(); now.Before(due) {
		return models.Payment{}, true, newError(op, ErrIntervalNotElapsed, "request debit %d next due %s, now %s", ref, due.Format(time.RFC3339), now.Format(time.RFC3339))
	}

	if err := s.balance.Decrease(op, rd.Amount); err != nil {
		return models.Payment{}, true, err
	}
	previous := rd.LastPaid
	if _, err := s.debits.Update(op, ref, func(rd *models.RequestDebit) { rd.LastPaid = now }); err != nil {
		s.balance.restore(rd.Amount)
		return models.Payment{}, true, err
	}

	status, err := s.settle(ctx, op, rd.Payee, rd.Amount, rd.Description)
	if err != nil {
		s.balance.restore(rd.Amount)
		_, _ = s.debits.Update(op, ref, func(rd *models.RequestDebit) { rd.LastPaid = previous })
		return models.Payment{}, true, err
	}
	p := models.NewPayment(rd.Payee, s.info.LedgerID, call.Caller, rd.Amount, rd.Description,
		models.PaymentTypeRequestDebit, status, now)
	return s.record(ctx, op, call.Caller, p), true, nil
}

// ViewBalance returns the balance to callers the authority allows.
func (s *LedgerService) ViewBalance(ctx context.Context, caller string) (models.Amount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorize(ctx, OpViewBalance, ModeAllowed, caller); err != nil {
		return models.Amount{}, s.finish(ctx, OpViewBalance, caller, false, err)
	}
	return s.balance.Amount(), s.finish(ctx, OpViewBalance, caller, false, nil)
}

// CheckSecureCodes returns the configured response codes.
func (s *LedgerService) CheckSecureCodes(ctx context.Context, caller string) (models.SecureCodes, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.authorize(ctx, OpCheckSecureCodes, ModeAllowed, caller); err != nil {
		return models.SecureCodes{}, s.finish(ctx, OpCheckSecureCodes, caller, false, err)
	}
	affirmative, negative := s.gate.Codes()
	return models.SecureCodes{Affirmative: affirmative, Negative: negative}, s.finish(ctx, OpCheckSecureCodes, caller, false, nil)
}

func (s *LedgerService) FindPayment(ref uint64) (models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payments.Find("find_payment", ref)
}

func (s *LedgerService) IsValidPaymentRef(ref uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payments.Exists(ref)
}

func (s *LedgerService) FindRequestDebit(ref uint64) (models.RequestDebit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debits.Find("find_request_debit", ref)
}

func (s *LedgerService) FindRequestDebitsByStatus(status models.RequestDebitStatus) ([]models.RequestDebit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debits.FindByStatus("find_request_debits_by_status", status)
}

// Info describes the ledger. None of it is governed.
func (s *LedgerService) Info() models.LedgerInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := s.info
	info.AuthorityIdentity = s.gate.Authority()
	info.TestMode = s.gate.TestMode()
	return info
}

func (s *LedgerService) ViewNominee() string  { return s.Info().Nominee }
func (s *LedgerService) BankName() string     { return s.Info().Name }
func (s *LedgerService) Denomination() string { return s.Info().Denomination }
func (s *LedgerService) IsTestMode() bool     { return s.Info().TestMode }
func (s *LedgerService) GetVersion() string   { return Version }

// admin runs a governed setter.
func (s *LedgerService) admin(ctx context.Context, op, caller, details string, apply func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begin()

	if err := s.authorize(ctx, op, ModeAllowed, caller); err != nil {
		return s.finish(ctx, op, caller, false, err)
	}
	apply()
	s.audit.LogOperation(op, caller, details)
	return s.finish(ctx, op, caller, true, nil)
}

func (s *LedgerService) SetName(ctx context.Context, caller, name string) error {
	return s.admin(ctx, OpSetName, caller, "name="+name, func() { s.info.Name = name })
}

func (s *LedgerService) SetNominee(ctx context.Context, caller, nominee string) error {
	return s.admin(ctx, OpSetNominee, caller, "nominee="+nominee, func() { s.info.Nominee = nominee })
}

func (s *LedgerService) SetAuthorityIdentity(ctx context.Context, caller, authority string) error {
	return s.admin(ctx, OpSetAuthority, caller, "authority="+authority, func() { s.gate.SetAuthority(authority) })
}

func (s *LedgerService) SetAffirmativeCode(ctx context.Context, caller string, code int32) error {
	return s.admin(ctx, OpSetAffirmativeCode, caller, fmt.Sprintf("affirmative_code=%d", code), func() { s.gate.SetAffirmative(code) })
}

func (s *LedgerService) SetNegativeCode(ctx context.Context, caller string, code int32) error {
	return s.admin(ctx, OpSetNegativeCode, caller, fmt.Sprintf("negative_code=%d", code), func() { s.gate.SetNegative(code) })
}

// DeactivateTestMode permanently turns off the authority bypass. There is no
// way to turn it back on. It reports the test mode left in effect, which is
// still true when the change could not be persisted.
func (s *LedgerService) DeactivateTestMode(ctx context.Context, caller string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.begin()

	s.gate.DisableTestMode()
	s.audit.LogOperation(OpDeactivateTestMode, caller, "test_mode=false")
	err := s.finish(ctx, OpDeactivateTestMode, caller, true, nil)
	return s.gate.TestMode(), err
}
