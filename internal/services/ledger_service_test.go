package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openbank/ledger/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	testLedgerID  = "bank.open.testnet"
	testNominee   = "nominee.testnet"
	testAuthority = "roles.testnet"
	testCaller    = "alice.testnet"
	testPayee     = "bob.testnet"
	allowedCode   = 1
	notBarredCode = 0
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type testLedger struct {
	service   *LedgerService
	authority *MockAuthority
	settler   *MockSettler
	clock     *testClock
}

func newTestLedger(t *testing.T, opening uint64) *testLedger {
	t.Helper()

	authority := new(MockAuthority)
	settler := new(MockSettler)
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}

	service := NewLedgerService(LedgerSettings{
		Info: models.LedgerInfo{
			LedgerID:          testLedgerID,
			Name:              "Open Bank",
			Denomination:      "NEAR",
			Owner:             "owner.testnet",
			Nominee:           testNominee,
			AuthorityIdentity: testAuthority,
		},
		OpeningBalance:  models.NewAmount(opening),
		AffirmativeCode: allowedCode,
		NegativeCode:    notBarredCode,
	}, authority, settler)
	service.SetClock(clock.Now)

	return &testLedger{service: service, authority: authority, settler: settler, clock: clock}
}

func (l *testLedger) allowAll() {
	l.authority.On("IsAllowed", mock.Anything, mock.Anything).Return(allowedCode, nil)
	l.authority.On("IsBarred", mock.Anything, mock.Anything).Return(notBarredCode, nil)
}

func (l *testLedger) settleAll(code int) {
	l.settler.On("Transfer", mock.Anything, mock.Anything).Return(code, nil)
}

func amount(v uint64) models.Amount { return models.NewAmount(v) }

func caller(name string, attached uint64) Call {
	return Call{Caller: name, Attached: amount(attached)}
}

func balanceOf(t *testing.T, l *testLedger) models.Amount {
	t.Helper()
	return l.service.Snapshot().Balance
}

func TestLedgerService_PayIn(t *testing.T) {
	ctx := context.Background()

	t.Run("credits the attached amount", func(t *testing.T) {
		l := newTestLedger(t, 0)
		l.allowAll()

		p, err := l.service.PayIn(ctx, caller(testCaller, 10), "x", amount(10), 1)
		require.NoError(t, err)

		assert.Equal(t, models.PaymentTypePayIn, p.PaymentType)
		assert.Equal(t, models.PaymentStatusCompleted, p.Status)
		assert.Equal(t, testLedgerID, p.Payee)
		assert.Equal(t, testCaller, p.Payer)
		assert.Equal(t, testCaller, p.Signer)
		assert.Equal(t, "10", balanceOf(t, l).String())

		found, err := l.service.FindPayment(p.Reference)
		require.NoError(t, err)
		assert.Equal(t, p, found)
		assert.True(t, l.service.IsValidPaymentRef(p.Reference))
	})

	t.Run("asks the authority with ledger identity", func(t *testing.T) {
		l := newTestLedger(t, 0)
		l.authority.On("IsAllowed", mock.Anything, AuthorityQuery{
			Authority:  testAuthority,
			LedgerID:   testLedgerID,
			LedgerName: "Open Bank",
			Operation:  OpPayIn,
			Caller:     testCaller,
		}).Return(allowedCode, nil).Once()

		_, err := l.service.PayIn(ctx, caller(testCaller, 3), "x", amount(3), 1)
		require.NoError(t, err)
		l.authority.AssertExpectations(t)
	})

	t.Run("attached amount must match", func(t *testing.T) {
		l := newTestLedger(t, 0)
		l.allowAll()

		_, err := l.service.PayIn(ctx, caller(testCaller, 9), "x", amount(10), 1)
		assert.ErrorIs(t, err, ErrAmountMismatch)
		assert.True(t, balanceOf(t, l).IsZero())
	})

	t.Run("replayed nonce is rejected", func(t *testing.T) {
		l := newTestLedger(t, 0)
		l.allowAll()

		_, err := l.service.PayIn(ctx, caller(testCaller, 10), "x", amount(10), 7)
		require.NoError(t, err)

		_, err = l.service.PayIn(ctx, caller(testCaller, 10), "x", amount(10), 7)
		assert.ErrorIs(t, err, ErrReplayedNonce)
		assert.Equal(t, "10", balanceOf(t, l).String())

		_, err = l.service.PayIn(ctx, caller(testPayee, 10), "x", amount(10), 7)
		assert.NoError(t, err)
		assert.Equal(t, "20", balanceOf(t, l).String())
	})

	t.Run("authority denial", func(t *testing.T) {
		l := newTestLedger(t, 0)
		l.authority.On("IsAllowed", mock.Anything, mock.Anything).Return(99, nil)

		_, err := l.service.PayIn(ctx, caller(testCaller, 10), "x", amount(10), 1)
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.True(t, balanceOf(t, l).IsZero())
	})

	t.Run("authority failure is not treated as an answer", func(t *testing.T) {
		l := newTestLedger(t, 0)
		l.authority.On("IsAllowed", mock.Anything, mock.Anything).Return(0, errors.New("connection refused")).Once()

		_, err := l.service.PayIn(ctx, caller(testCaller, 10), "x", amount(10), 1)
		assert.ErrorIs(t, err, ErrAuthorityUnavailable)
		assert.Contains(t, err.Error(), OpPayIn)
		l.authority.AssertNumberOfCalls(t, "IsAllowed", 1)
	})

	t.Run("overflow is fatal", func(t *testing.T) {
		l := newTestLedger(t, 0)
		l.allowAll()
		ceiling := models.MustParseAmount("340282366920938463463374607431768211455")
		l.service.Restore(&models.LedgerState{LedgerInfo: l.service.Info(), Balance: ceiling, AffirmativeCode: allowedCode})

		_, err := l.service.PayIn(ctx, Call{Caller: testCaller, Attached: amount(1)}, "x", amount(1), 1)
		assert.ErrorIs(t, err, ErrArithmeticOverflow)
		assert.Equal(t, ceiling.String(), balanceOf(t, l).String())
	})
}

func TestLedgerService_Deposit(t *testing.T) {
	ctx := context.Background()

	t.Run("nominee skips the authority", func(t *testing.T) {
		l := newTestLedger(t, 0)

		p, err := l.service.Deposit(ctx, caller(testNominee, 50), "float", amount(50), 1)
		require.NoError(t, err)
		assert.Equal(t, models.PaymentTypeDeposit, p.PaymentType)
		assert.Equal(t, "50", balanceOf(t, l).String())
		l.authority.AssertNotCalled(t, "IsAllowed", mock.Anything, mock.Anything)
	})

	t.Run("others are governed", func(t *testing.T) {
		l := newTestLedger(t, 0)
		l.authority.On("IsAllowed", mock.Anything, mock.MatchedBy(func(q AuthorityQuery) bool {
			return q.Operation == OpDeposit
		})).Return(2, nil)

		_, err := l.service.Deposit(ctx, caller(testCaller, 50), "float", amount(50), 1)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestLedgerService_PayOut(t *testing.T) {
	ctx := context.Background()

	t.Run("settles and records the result code", func(t *testing.T) {
		l := newTestLedger(t, 100)
		l.allowAll()
		l.settler.On("Transfer", mock.Anything, TransferOrder{
			LedgerID:     testLedgerID,
			Destination:  testPayee,
			Amount:       amount(40),
			Denomination: "NEAR",
			Description:  "invoice 12",
		}).Return(int(SettlementSettled), nil).Once()

		p, err := l.service.PayOut(ctx, caller(testCaller, 0), "invoice 12", amount(40), testPayee, 1)
		require.NoError(t, err)
		assert.Equal(t, "0", p.Status)
		assert.Equal(t, models.PaymentTypePayOut, p.PaymentType)
		assert.Equal(t, testPayee, p.Payee)
		assert.Equal(t, testLedgerID, p.Payer)
		assert.Equal(t, "60", balanceOf(t, l).String())
		l.settler.AssertExpectations(t)
	})

	t.Run("insufficient funds leaves the balance", func(t *testing.T) {
		l := newTestLedger(t, 5)
		l.allowAll()

		_, err := l.service.PayOut(ctx, caller(testCaller, 0), "x", amount(10), testPayee, 1)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.Equal(t, "5", balanceOf(t, l).String())
		l.settler.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything)
	})

	t.Run("cannot empty the ledger", func(t *testing.T) {
		l := newTestLedger(t, 10)
		l.allowAll()

		_, err := l.service.PayOut(ctx, caller(testCaller, 0), "x", amount(10), testPayee, 1)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.Equal(t, "10", balanceOf(t, l).String())
	})

	t.Run("settlement failure restores the balance", func(t *testing.T) {
		l := newTestLedger(t, 100)
		l.allowAll()
		l.settler.On("Transfer", mock.Anything, mock.Anything).Return(0, errors.New("rail down"))

		_, err := l.service.PayOut(ctx, caller(testCaller, 0), "x", amount(10), testPayee, 1)
		assert.ErrorIs(t, err, ErrSettlementFailure)
		assert.Equal(t, "100", balanceOf(t, l).String())
		assert.Empty(t, l.service.Snapshot().Payments)
	})

	t.Run("settlement ignores caller cancellation", func(t *testing.T) {
		l := newTestLedger(t, 100)
		l.allowAll()
		l.settler.On("Transfer", mock.MatchedBy(func(ctx context.Context) bool {
			return ctx.Err() == nil
		}), mock.Anything).Return(int(SettlementSettled), nil)

		cctx, cancel := context.WithCancel(ctx)
		l.authority.ExpectedCalls = nil
		l.authority.On("IsAllowed", mock.Anything, mock.Anything).Run(func(mock.Arguments) { cancel() }).Return(allowedCode, nil)

		_, err := l.service.PayOut(cctx, caller(testCaller, 0), "x", amount(10), testPayee, 1)
		assert.NoError(t, err)
	})
}

func TestLedgerService_Withdraw(t *testing.T) {
	ctx := context.Background()

	t.Run("nominee withdraws without authority", func(t *testing.T) {
		l := newTestLedger(t, 100)
		l.settleAll(int(SettlementSettled))

		p, err := l.service.Withdraw(ctx, caller(testNominee, 0), "sweep", amount(30), 1)
		require.NoError(t, err)
		assert.Equal(t, testNominee, p.Payee)
		assert.Equal(t, models.PaymentTypeWithdrawal, p.PaymentType)
		assert.Equal(t, "70", balanceOf(t, l).String())
		l.authority.AssertNotCalled(t, "IsAllowed", mock.Anything, mock.Anything)
	})

	t.Run("allowed caller still pays the nominee", func(t *testing.T) {
		l := newTestLedger(t, 100)
		l.allowAll()
		l.settler.On("Transfer", mock.Anything, mock.MatchedBy(func(o TransferOrder) bool {
			return o.Destination == testNominee
		})).Return(int(SettlementSettled), nil)

		p, err := l.service.Withdraw(ctx, caller(testCaller, 0), "sweep", amount(30), 1)
		require.NoError(t, err)
		assert.Equal(t, testNominee, p.Payee)
		assert.Equal(t, testCaller, p.Signer)
	})
}

func TestLedgerService_PayOutMulti(t *testing.T) {
	ctx := context.Background()
	batch := []models.MultiPaymentRequest{
		{Payee: "carol.testnet", Amount: amount(10), Description: "a"},
		{Payee: "dave.testnet", Amount: amount(20), Description: "b"},
		{Payee: "erin.testnet", Amount: amount(30), Description: "c"},
	}

	t.Run("pays every item", func(t *testing.T) {
		l := newTestLedger(t, 100)
		l.allowAll()
		l.settleAll(int(SettlementAccepted))

		payments, err := l.service.PayOutMulti(ctx, caller(testCaller, 0), batch, 1)
		require.NoError(t, err)
		require.Len(t, payments, 3)
		for i, p := range payments {
			assert.Equal(t, batch[i].Payee, p.Payee)
			assert.Equal(t, models.PaymentTypePayOutMulti, p.PaymentType)
			assert.Equal(t, "1", p.Status)
		}
		assert.Equal(t, "40", balanceOf(t, l).String())
		l.authority.AssertNumberOfCalls(t, "IsAllowed", 1)
	})

	t.Run("total is checked once", func(t *testing.T) {
		l := newTestLedger(t, 60)
		l.allowAll()

		_, err := l.service.PayOutMulti(ctx, caller(testCaller, 0), batch, 1)
		assert.ErrorIs(t, err, ErrInsufficientFunds)
		assert.Equal(t, "60", balanceOf(t, l).String())
		l.settler.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything)
	})

	t.Run("failed item is recorded and the batch continues", func(t *testing.T) {
		l := newTestLedger(t, 100)
		l.allowAll()
		l.settler.On("Transfer", mock.Anything, mock.MatchedBy(func(o TransferOrder) bool {
			return o.Destination == "dave.testnet"
		})).Return(0, errors.New("timeout"))
		l.settler.On("Transfer", mock.Anything, mock.Anything).Return(int(SettlementSettled), nil)

		payments, err := l.service.PayOutMulti(ctx, caller(testCaller, 0), batch, 1)
		require.NoError(t, err)
		require.Len(t, payments, 3)
		assert.Equal(t, "0", payments[0].Status)
		assert.Equal(t, models.PaymentStatusFailed, payments[1].Status)
		assert.Equal(t, "0", payments[2].Status)
		assert.Equal(t, "60", balanceOf(t, l).String())
	})
}

func TestLedgerService_RequestDebitLifecycle(t *testing.T) {
	ctx := context.Background()

	register := func(t *testing.T, l *testLedger, nonce uint64) uint64 {
		t.Helper()
		ref, err := l.service.RegisterRequestDebit(ctx, caller(testCaller, 0), RegisterRequestDebit{
			Payee:          testPayee,
			Amount:         amount(1),
			Description:    "subscription",
			PayoutInterval: 60 * time.Second,
			StartDate:      l.clock.now,
			EndDate:        l.clock.now.Add(24 * time.Hour),
		}, nonce)
		require.NoError(t, err)
		return ref
	}

	t.Run("drawdown before approval", func(t *testing.T) {
		l := newTestLedger(t, 100)
		l.allowAll()
		ref := register(t, l, 1)

		rd, err := l.service.FindRequestDebit(ref)
		require.NoError(t, err)
		assert.Equal(t, models.RequestDebitPending, rd.Status)
		assert.Equal(t, testCaller, rd.Creator)

		_, err = l.service.DrawdownRequestDebit(ctx, caller(testPayee, 0), ref, 2)
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("approve twice", func(t *testing.T) {
		l := newTestLedger(t, 100)
		l.allowAll()
		ref := register(t, l, 1)

		got, err := l.service.ApproveRequestDebit(ctx, caller("admin.testnet", 0), ref, 1)
		require.NoError(t, err)
		assert.Equal(t, ref, got)

		rd, _ := l.service.FindRequestDebit(ref)
		assert.Equal(t, models.RequestDebitApproved, rd.Status)
		assert.Equal(t, "admin.testnet", rd.ApprovedBy)
		assert.Equal(t, ref, rd.Reference)

		_, err = l.service.ApproveRequestDebit(ctx, caller("admin.testnet", 0), ref, 2)
		assert.ErrorIs(t, err, ErrInvalidState)
	})

	t.Run("status index follows transitions", func(t *testing.T) {
		l := newTestLedger(t, 100)
		l.allowAll()
		ref := register(t, l, 1)

		_, err := l.service.ApproveRequestDebit(ctx, caller("admin.testnet", 0), ref, 1)
		require.NoError(t, err)

		approved, err := l.service.FindRequestDebitsByStatus(models.RequestDebitApproved)
		require.NoError(t, err)
		require.Len(t, approved, 1)
		pending, err := l.service.FindRequestDebitsByStatus(models.RequestDebitPending)
		require.NoError(t, err)
		assert.Empty(t, pending)

		_, err = l.service.CancelRequestDebit(ctx, caller("admin.testnet", 0), ref, 2)
		require.NoError(t, err)
		approved, _ = l.service.FindRequestDebitsByStatus(models.RequestDebitApproved)
		assert.Empty(t, approved)
		cancelled, _ := l.service.FindRequestDebitsByStatus(models.RequestDebitCancelled)
		require.Len(t, cancelled, 1)
		assert.Equal(t, ref, cancelled[0].Reference)
	})

	t.Run("cancel is governed by the request_debit policy", func(t *testing.T) {
		l := newTestLedger(t, 100)
		l.allowAll()
		ref := register(t, l, 1)

		_, err := l.service.CancelRequestDebit(ctx, caller("admin.testnet", 0), ref, 1)
		require.NoError(t, err)
		l.authority.AssertCalled(t, "IsAllowed", mock.Anything, mock.MatchedBy(func(q AuthorityQuery) bool {
			return q.Caller == "admin.testnet" && q.Operation == "request_debit"
		}))
		l.authority.AssertNotCalled(t, "IsAllowed", mock.Anything, mock.MatchedBy(func(q AuthorityQuery) bool {
			return q.Operation == OpCancelRequestDebit
		}))
	})

	t.Run("unknown status bucket", func(t *testing.T) {
		l := newTestLedger(t, 100)
		_, err := l.service.FindRequestDebitsByStatus(models.RequestDebitCancelled)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("unknown reference", func(t *testing.T) {
		l := newTestLedger(t, 100)
		l.allowAll()
		_, err := l.service.ApproveRequestDebit(ctx, caller("admin.testnet", 0), 42, 1)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = l.service.FindRequestDebit(42)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("drawdown honours the interval and pays the recorded payee", func(t *testing.T) {
		l := newTestLedger(t, 100)
		l.allowAll()
		l.settler.On("Transfer", mock.Anything, mock.MatchedBy(func(o TransferOrder) bool {
			return o.Destination == testPayee
		})).Return(int(SettlementSettled), nil)
		ref := register(t, l, 1)
		_, err := l.service.ApproveRequestDebit(ctx, caller("admin.testnet", 0), ref, 1)
		require.NoError(t, err)

		_, err = l.service.DrawdownRequestDebit(ctx, caller("mallory.testnet", 0), ref, 1)
		assert.ErrorIs(t, err, ErrIntervalNotElapsed)

		l.clock.Advance(60 * time.Second)
		p, err := l.service.DrawdownRequestDebit(ctx, caller("mallory.testnet", 0), ref, 2)
		require.NoError(t, err)
		assert.Equal(t, testPayee, p.Payee)
		assert.Equal(t, "mallory.testnet", p.Signer)
		assert.Equal(t, models.PaymentTypeRequestDebit, p.PaymentType)
		assert.Equal(t, "99", balanceOf(t, l).String())

		rd, _ := l.service.FindRequestDebit(ref)
		assert.Equal(t, l.clock.now, rd.LastPaid)
		assert.Equal(t, models.RequestDebitApproved, rd.Status)

		l.clock.Advance(30 * time.Second)
		_, err = l.service.DrawdownRequestDebit(ctx, caller(testPayee, 0), ref, 3)
		assert.ErrorIs(t, err, ErrIntervalNotElapsed)

		l.clock.Advance(30 * time.Second)
		_, err = l.service.DrawdownRequestDebit(ctx, caller(testPayee, 0), ref, 4)
		assert.NoError(t, err)
		assert.Equal(t, "98", balanceOf(t, l).String())
	})

	t.Run("drawdown outside the window", func(t *testing.T) {
		l := newTestLedger(t, 100)
		l.allowAll()
		ref, err := l.service.RegisterRequestDebit(ctx, caller(testCaller, 0), RegisterRequestDebit{
			Payee:          testPayee,
			Amount:         amount(1),
			PayoutInterval: time.Minute,
			StartDate:      l.clock.now.Add(time.Hour),
			EndDate:        l.clock.now.Add(2 * time.Hour),
		}, 1)
		require.NoError(t, err)
		_, err = l.service.ApproveRequestDebit(ctx, caller("admin.testnet", 0), ref, 1)
		require.NoError(t, err)

		_, err = l.service.DrawdownRequestDebit(ctx, caller(testPayee, 0), ref, 1)
		assert.ErrorIs(t, err, ErrOutOfWindow)

		l.clock.Advance(3 * time.Hour)
		_, err = l.service.DrawdownRequestDebit(ctx, caller(testPayee, 0), ref, 2)
		assert.ErrorIs(t, err, ErrOutOfWindow)
	})

	t.Run("failed settlement rewinds last paid", func(t *testing.T) {
		l := newTestLedger(t, 100)
		l.allowAll()
		l.settler.On("Transfer", mock.Anything, mock.Anything).Return(0, errors.New("rail down"))
		ref := register(t, l, 1)
		_, err := l.service.ApproveRequestDebit(ctx, caller("admin.testnet", 0), ref, 1)
		require.NoError(t, err)
		l.clock.Advance(time.Minute)

		_, err = l.service.DrawdownRequestDebit(ctx, caller(testPayee, 0), ref, 1)
		assert.ErrorIs(t, err, ErrSettlementFailure)

		rd, _ := l.service.FindRequestDebit(ref)
		assert.True(t, rd.LastPaid.IsZero())
		assert.Equal(t, "100", balanceOf(t, l).String())
	})

	t.Run("register is barred", func(t *testing.T) {
		l := newTestLedger(t, 100)
		l.authority.On("IsBarred", mock.Anything, mock.Anything).Return(1, nil)

		_, err := l.service.RegisterRequestDebit(ctx, caller(testCaller, 0), RegisterRequestDebit{Payee: testPayee}, 1)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})
}

func TestLedgerService_Governance(t *testing.T) {
	ctx := context.Background()

	t.Run("view balance is governed", func(t *testing.T) {
		l := newTestLedger(t, 100)
		l.authority.On("IsAllowed", mock.Anything, mock.Anything).Return(0, nil)

		_, err := l.service.ViewBalance(ctx, testCaller)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("admin setters", func(t *testing.T) {
		l := newTestLedger(t, 100)
		l.allowAll()

		require.NoError(t, l.service.SetName(ctx, testCaller, "Renamed Bank"))
		require.NoError(t, l.service.SetNominee(ctx, testCaller, "new-nominee.testnet"))
		require.NoError(t, l.service.SetAuthorityIdentity(ctx, testCaller, "roles-v2.testnet"))
		require.NoError(t, l.service.SetNegativeCode(ctx, testCaller, 5))

		info := l.service.Info()
		assert.Equal(t, "Renamed Bank", info.Name)
		assert.Equal(t, "new-nominee.testnet", l.service.ViewNominee())
		assert.Equal(t, "roles-v2.testnet", info.AuthorityIdentity)

		codes, err := l.service.CheckSecureCodes(ctx, testCaller)
		require.NoError(t, err)
		assert.Equal(t, models.SecureCodes{Affirmative: allowedCode, Negative: 5}, codes)
	})

	t.Run("authority answers are compared with the current codes", func(t *testing.T) {
		l := newTestLedger(t, 100)
		l.allowAll()

		require.NoError(t, l.service.SetAffirmativeCode(ctx, testCaller, 7))
		err := l.service.SetName(ctx, testCaller, "x")
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("test mode bypasses the authority and is one way", func(t *testing.T) {
		l := newTestLedger(t, 0)
		l.service.gate.testMode = true
		assert.True(t, l.service.IsTestMode())

		_, err := l.service.PayIn(ctx, caller(testCaller, 5), "x", amount(5), 1)
		require.NoError(t, err)
		l.authority.AssertNotCalled(t, "IsAllowed", mock.Anything, mock.Anything)

		enabled, err := l.service.DeactivateTestMode(ctx, testCaller)
		require.NoError(t, err)
		assert.False(t, enabled)
		assert.False(t, l.service.IsTestMode())

		l.authority.On("IsAllowed", mock.Anything, mock.Anything).Return(0, nil)
		_, err = l.service.PayIn(ctx, caller(testCaller, 5), "x", amount(5), 2)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("ungoverned reads", func(t *testing.T) {
		l := newTestLedger(t, 0)
		assert.Equal(t, "0.1.0", l.service.GetVersion())
		assert.Equal(t, "Open Bank", l.service.BankName())
		assert.Equal(t, "NEAR", l.service.Denomination())
		assert.False(t, l.service.IsValidPaymentRef(123))

		_, err := l.service.FindPayment(123)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestLedgerService_Persistence(t *testing.T) {
	ctx := context.Background()

	t.Run("saves after each mutation", func(t *testing.T) {
		l := newTestLedger(t, 0)
		l.allowAll()
		store := new(MockStateStore)
		store.On("Save", mock.Anything, mock.MatchedBy(func(s *models.LedgerState) bool {
			return s.Balance.String() == "10" && len(s.Payments) == 1 && len(s.Nonces[testCaller]) == 1
		})).Return(nil).Once()
		l.service.SetStateStore(store)

		_, err := l.service.PayIn(ctx, caller(testCaller, 10), "x", amount(10), 1)
		require.NoError(t, err)
		store.AssertExpectations(t)
	})

	t.Run("nothing is saved when the nonce is replayed", func(t *testing.T) {
		l := newTestLedger(t, 0)
		l.allowAll()
		_, err := l.service.PayIn(ctx, caller(testCaller, 10), "x", amount(10), 1)
		require.NoError(t, err)

		store := new(MockStateStore)
		l.service.SetStateStore(store)
		_, err = l.service.PayIn(ctx, caller(testCaller, 10), "x", amount(10), 1)
		assert.ErrorIs(t, err, ErrReplayedNonce)
		store.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("save failure fails the call and rolls it back", func(t *testing.T) {
		l := newTestLedger(t, 0)
		l.allowAll()
		store := new(MockStateStore)
		store.On("Save", mock.Anything, mock.Anything).Return(errors.New("db down")).Once()
		l.service.SetStateStore(store)

		_, err := l.service.PayIn(ctx, caller(testCaller, 10), "x", amount(10), 1)
		assert.ErrorIs(t, err, ErrPersistence)
		assert.True(t, balanceOf(t, l).IsZero())
		assert.Empty(t, l.service.Snapshot().Payments)

		// The nonce was not consumed, so the caller can retry.
		store.On("Save", mock.Anything, mock.Anything).Return(nil).Once()
		_, err = l.service.PayIn(ctx, caller(testCaller, 10), "x", amount(10), 1)
		require.NoError(t, err)
		assert.Equal(t, "10", balanceOf(t, l).String())
		store.AssertExpectations(t)
	})

	t.Run("admin change is not kept when it cannot be saved", func(t *testing.T) {
		l := newTestLedger(t, 0)
		l.allowAll()
		store := new(MockStateStore)
		store.On("Save", mock.Anything, mock.Anything).Return(errors.New("db down"))
		l.service.SetStateStore(store)

		err := l.service.SetName(ctx, testCaller, "Renamed")
		assert.ErrorIs(t, err, ErrPersistence)
		assert.Equal(t, "Open Bank", l.service.BankName())
	})

	t.Run("test mode stays on when deactivation cannot be saved", func(t *testing.T) {
		l := newTestLedger(t, 0)
		l.service.gate.testMode = true
		store := new(MockStateStore)
		store.On("Save", mock.Anything, mock.Anything).Return(errors.New("db down"))
		l.service.SetStateStore(store)

		enabled, err := l.service.DeactivateTestMode(ctx, testCaller)
		assert.ErrorIs(t, err, ErrPersistence)
		assert.True(t, enabled)
		assert.True(t, l.service.IsTestMode())
	})

	t.Run("no transfer when the debit cannot be checkpointed", func(t *testing.T) {
		l := newTestLedger(t, 100)
		l.allowAll()
		store := new(MockStateStore)
		store.On("Save", mock.Anything, mock.Anything).Return(errors.New("db down"))
		l.service.SetStateStore(store)

		_, err := l.service.PayOut(ctx, caller(testCaller, 0), "x", amount(10), testPayee, 1)
		assert.ErrorIs(t, err, ErrPersistence)
		l.settler.AssertNotCalled(t, "Transfer", mock.Anything, mock.Anything)
		assert.Equal(t, "100", balanceOf(t, l).String())
		assert.Empty(t, l.service.Snapshot().Payments)
	})

	t.Run("save failure after a transfer keeps the debit", func(t *testing.T) {
		l := newTestLedger(t, 100)
		l.allowAll()
		l.settleAll(int(SettlementSettled))
		store := new(MockStateStore)
		store.On("Save", mock.Anything, mock.MatchedBy(func(s *models.LedgerState) bool {
			return len(s.Payments) == 0
		})).Return(nil).Once()
		store.On("Save", mock.Anything, mock.MatchedBy(func(s *models.LedgerState) bool {
			return len(s.Payments) == 1
		})).Return(errors.New("db down")).Once()
		l.service.SetStateStore(store)

		_, err := l.service.PayOut(ctx, caller(testCaller, 0), "x", amount(10), testPayee, 1)
		assert.ErrorIs(t, err, ErrPersistence)
		assert.Equal(t, "90", balanceOf(t, l).String())
		assert.Len(t, l.service.Snapshot().Payments, 1)
		store.AssertExpectations(t)
	})

	t.Run("snapshot round trip", func(t *testing.T) {
		l := newTestLedger(t, 100)
		l.allowAll()
		l.settleAll(int(SettlementSettled))
		p, err := l.service.PayOut(ctx, caller(testCaller, 0), "x", amount(10), testPayee, 1)
		require.NoError(t, err)
		ref, err := l.service.RegisterRequestDebit(ctx, caller(testCaller, 0), RegisterRequestDebit{
			Payee: testPayee, Amount: amount(1), PayoutInterval: time.Minute,
			StartDate: l.clock.now, EndDate: l.clock.now.Add(time.Hour),
		}, 2)
		require.NoError(t, err)
		_, err = l.service.ApproveRequestDebit(ctx, caller(testCaller, 0), ref, 3)
		require.NoError(t, err)

		restored := newTestLedger(t, 0)
		restored.allowAll()
		restored.service.Restore(l.service.Snapshot())

		assert.Equal(t, "90", balanceOf(t, restored).String())
		assert.True(t, restored.service.IsValidPaymentRef(p.Reference))
		pending, err := restored.service.FindRequestDebitsByStatus(models.RequestDebitPending)
		require.NoError(t, err)
		assert.Empty(t, pending)

		_, err = restored.service.PayIn(ctx, caller(testCaller, 1), "x", amount(1), 1)
		assert.ErrorIs(t, err, ErrReplayedNonce)
	})

	t.Run("payments are published", func(t *testing.T) {
		l := newTestLedger(t, 0)
		l.allowAll()
		feed := new(MockPaymentFeed)
		feed.On("Publish", mock.Anything, mock.MatchedBy(func(p models.Payment) bool {
			return p.PaymentType == models.PaymentTypePayIn
		})).Return(nil).Once()
		l.service.SetPaymentFeed(feed)

		_, err := l.service.PayIn(ctx, caller(testCaller, 10), "x", amount(10), 1)
		require.NoError(t, err)
		feed.AssertExpectations(t)
	})
}
