package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	mW "github.com/openbank/ledger/internal/middleware"
	"github.com/openbank/ledger/internal/models"
	"github.com/openbank/ledger/internal/services"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testLedgerID = "bank.open.testnet"
	testNominee  = "nominee.testnet"
	testCaller   = "alice.testnet"
)

var testNow = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

type apiClient struct {
	t       *testing.T
	handler http.Handler
	ledger  *services.LedgerService
}

// newTestAPI serves a ledger whose role authority is unreachable, so only
// test mode lets governed calls through.
func newTestAPI(t *testing.T) *apiClient {
	t.Helper()
	viper.Set("jwt.secret_key", "handler-test-secret")
	viper.Set("jwt.attachment_key", "handler-attachment-key")

	authority := services.NewHTTPAuthorityClient("http://127.0.0.1:0", time.Second)
	ledger := services.NewLedgerService(services.LedgerSettings{
		Info: models.LedgerInfo{
			LedgerID:          testLedgerID,
			Name:              "Open Bank",
			Denomination:      "USD",
			Owner:             testLedgerID,
			Nominee:           testNominee,
			AuthorityIdentity: "roles.testnet",
			TestMode:          true,
		},
		OpeningBalance:  models.NewAmount(1000),
		AffirmativeCode: 1,
		NegativeCode:    0,
	}, authority, services.NewLocalSettler())
	ledger.SetClock(func() time.Time { return testNow })

	return &apiClient{
		t:       t,
		handler: NewRouter(RouterConfig{Ledger: ledger, QR: services.NewQRService(nil, 0)}),
		ledger:  ledger,
	}
}

func (c *apiClient) do(method, path, caller string, body any, headers map[string]string) *httptest.ResponseRecorder {
	c.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(c.t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	if caller != "" {
		token, err := mW.GenerateToken(caller)
		require.NoError(c.t, err)
		r.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	c.handler.ServeHTTP(w, r)
	return w
}

// attach returns the header a payment gateway would send after receiving
// amount from caller for op.
func (c *apiClient) attach(caller, op, amount string, nonce uint64) map[string]string {
	c.t.Helper()
	a, err := models.ParseAmount(amount)
	require.NoError(c.t, err)
	token, err := mW.GenerateAttachment(mW.Attachment{AccountID: caller, Operation: op, Amount: a, Nonce: nonce})
	require.NoError(c.t, err)
	return map[string]string{mW.AttachmentHeader: token}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestRouter_Health(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodGet, "/health", "", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))

	w = api.do(http.MethodGet, "/metrics", "", nil, nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_RequiresToken(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodGet, "/api/v1/ledger", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLedgerHandler(t *testing.T) {
	api := newTestAPI(t)

	t.Run("info", func(t *testing.T) {
		w := api.do(http.MethodGet, "/api/v1/ledger", testCaller, nil, nil)
		require.Equal(t, http.StatusOK, w.Code)

		info := decode[models.LedgerInfo](t, w)
		assert.Equal(t, "0.1.0", info.Version)
		assert.Equal(t, testNominee, info.Nominee)
		assert.True(t, info.TestMode)
	})

	t.Run("pay in", func(t *testing.T) {
		w := api.do(http.MethodPost, "/api/v1/payments/pay-in", testCaller,
			map[string]any{"nonce": 1, "description": "top up", "amount": "250"},
			api.attach(testCaller, services.OpPayIn, "250", 1))
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())

		p := decode[models.Payment](t, w)
		assert.Equal(t, testLedgerID, p.Payee)
		assert.Equal(t, testCaller, p.Payer)
		assert.Equal(t, models.PaymentTypePayIn, p.PaymentType)

		w = api.do(http.MethodGet, "/api/v1/payments/"+models.FormatReference(p.Reference), testCaller, nil, nil)
		assert.Equal(t, http.StatusOK, w.Code)

		w = api.do(http.MethodGet, "/api/v1/payments/"+models.FormatReference(p.Reference)+"/valid", testCaller, nil, nil)
		assert.True(t, decode[ValidResponse](t, w).Valid)
	})

	t.Run("replayed nonce", func(t *testing.T) {
		w := api.do(http.MethodPost, "/api/v1/payments/pay-in", testCaller,
			map[string]any{"nonce": 1, "amount": "5"},
			api.attach(testCaller, services.OpPayIn, "5", 1))
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "replayed nonce", decode[services.ErrorResponse](t, w).Kind)
	})

	t.Run("attached amount mismatch", func(t *testing.T) {
		w := api.do(http.MethodPost, "/api/v1/payments/pay-in", testCaller,
			map[string]any{"nonce": 2, "amount": "10"},
			api.attach(testCaller, services.OpPayIn, "9", 2))
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("self-declared amount is refused", func(t *testing.T) {
		before := api.ledger.Snapshot().Balance.String()

		w := api.do(http.MethodPost, "/api/v1/payments/deposit", testNominee,
			map[string]any{"nonce": 1, "amount": "1000000"},
			map[string]string{"X-Attached-Amount": "1000000"})
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = api.do(http.MethodPost, "/api/v1/payments/pay-in", testCaller,
			map[string]any{"nonce": 4, "amount": "1000000"},
			map[string]string{"X-Attached-Amount": "1000000"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, before, api.ledger.Snapshot().Balance.String())
	})

	t.Run("attachment issued for another call", func(t *testing.T) {
		body := map[string]any{"nonce": 4, "amount": "10"}

		w := api.do(http.MethodPost, "/api/v1/payments/pay-in", testCaller, body,
			api.attach(testNominee, services.OpPayIn, "10", 4))
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = api.do(http.MethodPost, "/api/v1/payments/pay-in", testCaller, body,
			api.attach(testCaller, services.OpDeposit, "10", 4))
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = api.do(http.MethodPost, "/api/v1/payments/pay-in", testCaller, body,
			api.attach(testCaller, services.OpPayIn, "10", 5))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing nonce", func(t *testing.T) {
		w := api.do(http.MethodPost, "/api/v1/payments/pay-out", testCaller,
			map[string]any{"amount": "10", "destination": "bob.testnet"}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, decode[services.ErrorResponse](t, w).Details, "Nonce")
	})

	t.Run("pay out and balance", func(t *testing.T) {
		w := api.do(http.MethodPost, "/api/v1/payments/pay-out", testCaller,
			map[string]any{"nonce": 3, "amount": "50", "destination": "bob.testnet"}, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		p := decode[models.Payment](t, w)
		assert.Equal(t, "bob.testnet", p.Payee)
		assert.Equal(t, "0", p.Status)

		w = api.do(http.MethodGet, "/api/v1/ledger/balance", testCaller, nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, BalanceResponse{Balance: "1200", Denomination: "USD"}, decode[BalanceResponse](t, w))
	})

	t.Run("insufficient funds", func(t *testing.T) {
		w := api.do(http.MethodPost, "/api/v1/payments/pay-out", testCaller,
			map[string]any{"nonce": 4, "amount": "1200", "destination": "bob.testnet"}, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("pay out multi", func(t *testing.T) {
		w := api.do(http.MethodPost, "/api/v1/payments/pay-out-multi", testCaller, map[string]any{
			"nonce": 5,
			"payments": []map[string]any{
				{"payee": "bob.testnet", "amount": "10", "description": "a"},
				{"payee": "carol.testnet", "amount": "20", "description": "b"},
			},
		}, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Len(t, decode[[]models.Payment](t, w), 2)
	})

	t.Run("empty batch", func(t *testing.T) {
		w := api.do(http.MethodPost, "/api/v1/payments/pay-out-multi", testCaller,
			map[string]any{"nonce": 6, "payments": []map[string]any{}}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("withdraw pays the nominee", func(t *testing.T) {
		w := api.do(http.MethodPost, "/api/v1/payments/withdraw", testNominee,
			map[string]any{"nonce": 7, "amount": "70"}, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, testNominee, decode[models.Payment](t, w).Payee)
	})

	t.Run("unknown payment", func(t *testing.T) {
		w := api.do(http.MethodGet, "/api/v1/payments/12345", testCaller, nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = api.do(http.MethodGet, "/api/v1/payments/not-a-number", testCaller, nil, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = api.do(http.MethodGet, "/api/v1/payments/12345/valid", testCaller, nil, nil)
		assert.False(t, decode[ValidResponse](t, w).Valid)
	})
}

func TestRequestDebitHandler(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(http.MethodPost, "/api/v1/request-debits", "bob.testnet", map[string]any{
		"nonce":           1,
		"payee":           "bob.testnet",
		"amount":          "100",
		"description":     "subscription",
		"payout_interval": "24h",
		"start_date":      testNow.Add(-48 * time.Hour),
		"end_date":        testNow.Add(48 * time.Hour),
	}, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	ref := decode[ReferenceResponse](t, w).Reference
	require.NotEmpty(t, ref)

	t.Run("listed as pending", func(t *testing.T) {
		w := api.do(http.MethodGet, "/api/v1/request-debits?status=PENDING", testCaller, nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		debits := decode[[]models.RequestDebit](t, w)
		require.Len(t, debits, 1)
		assert.Equal(t, "bob.testnet", debits[0].Creator)
	})

	t.Run("unknown status bucket", func(t *testing.T) {
		w := api.do(http.MethodGet, "/api/v1/request-debits?status=APPROVED", testCaller, nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)

		w = api.do(http.MethodGet, "/api/v1/request-debits?status=DONE", testCaller, nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, "not found", decode[services.ErrorResponse](t, w).Kind)
	})

	t.Run("drawdown before approval", func(t *testing.T) {
		w := api.do(http.MethodPost, "/api/v1/request-debits/"+ref+"/drawdown", "bob.testnet", map[string]any{"nonce": 2}, nil)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("approve and draw down", func(t *testing.T) {
		w := api.do(http.MethodPost, "/api/v1/request-debits/"+ref+"/approve", testCaller, map[string]any{"nonce": 10}, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, ref, decode[ReferenceResponse](t, w).Reference)

		w = api.do(http.MethodPost, "/api/v1/request-debits/"+ref+"/approve", testCaller, map[string]any{"nonce": 11}, nil)
		assert.Equal(t, http.StatusConflict, w.Code)

		w = api.do(http.MethodPost, "/api/v1/request-debits/"+ref+"/drawdown", "eve.testnet", map[string]any{"nonce": 1}, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		p := decode[models.Payment](t, w)
		assert.Equal(t, "bob.testnet", p.Payee)
		assert.Equal(t, models.PaymentTypeRequestDebit, p.PaymentType)

		w = api.do(http.MethodPost, "/api/v1/request-debits/"+ref+"/drawdown", "eve.testnet", map[string]any{"nonce": 2}, nil)
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	})

	t.Run("find and cancel", func(t *testing.T) {
		w := api.do(http.MethodPost, "/api/v1/request-debits/"+ref+"/cancel", testCaller, map[string]any{"nonce": 12}, nil)
		require.Equal(t, http.StatusOK, w.Code)

		w = api.do(http.MethodGet, "/api/v1/request-debits/"+ref, testCaller, nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, models.RequestDebitCancelled, decode[models.RequestDebit](t, w).Status)

		w = api.do(http.MethodGet, "/api/v1/request-debits?status=APPROVED", testCaller, nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, decode[[]models.RequestDebit](t, w))
	})

	t.Run("presentation code", func(t *testing.T) {
		w := api.do(http.MethodGet, "/api/v1/request-debits/"+ref+"/qr", "bob.testnet", nil, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		qr := decode[QRResponse](t, w)
		assert.NotEmpty(t, qr.QRImage)

		w = api.do(http.MethodPost, "/api/v1/request-debits/qr/resolve", testCaller, map[string]any{"code": qr.QRCode}, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resolved := decode[ResolveQRResponse](t, w)
		assert.Equal(t, testLedgerID, resolved.Payload.LedgerID)
		assert.Equal(t, ref, models.FormatReference(resolved.RequestDebit.Reference))

		w = api.do(http.MethodGet, "/api/v1/request-debits/999/qr", "bob.testnet", nil, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("invalid interval", func(t *testing.T) {
		w := api.do(http.MethodPost, "/api/v1/request-debits", "bob.testnet", map[string]any{
			"nonce":           3,
			"payee":           "bob.testnet",
			"amount":          "1",
			"payout_interval": "soon",
			"start_date":      testNow,
			"end_date":        testNow.Add(time.Hour),
		}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAdminHandler(t *testing.T) {
	t.Run("setters in test mode", func(t *testing.T) {
		api := newTestAPI(t)

		w := api.do(http.MethodPut, "/api/v1/admin/name", testCaller, map[string]any{"name": "Renamed Bank"}, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "Renamed Bank", decode[models.LedgerInfo](t, w).Name)

		w = api.do(http.MethodPut, "/api/v1/admin/nominee", testCaller, map[string]any{"nominee": "new.testnet"}, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "new.testnet", decode[models.LedgerInfo](t, w).Nominee)

		w = api.do(http.MethodPut, "/api/v1/admin/authority", testCaller, map[string]any{"authority": "roles2.testnet"}, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "roles2.testnet", decode[models.LedgerInfo](t, w).AuthorityIdentity)

		w = api.do(http.MethodPut, "/api/v1/admin/affirmative-code", testCaller, map[string]any{"code": 9}, nil)
		require.Equal(t, http.StatusOK, w.Code)
		w = api.do(http.MethodPut, "/api/v1/admin/negative-code", testCaller, map[string]any{"code": 0}, nil)
		require.Equal(t, http.StatusOK, w.Code)

		w = api.do(http.MethodGet, "/api/v1/ledger/secure-codes", testCaller, nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, models.SecureCodes{Affirmative: 9, Negative: 0}, decode[models.SecureCodes](t, w))

		w = api.do(http.MethodPut, "/api/v1/admin/negative-code", testCaller, map[string]any{}, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("deactivated test mode consults the authority", func(t *testing.T) {
		api := newTestAPI(t)

		w := api.do(http.MethodPost, "/api/v1/admin/test-mode/deactivate", testCaller, nil, nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.False(t, decode[TestModeResponse](t, w).TestMode)

		w = api.do(http.MethodPut, "/api/v1/admin/name", testCaller, map[string]any{"name": "x"}, nil)
		assert.Equal(t, http.StatusBadGateway, w.Code)
	})

	t.Run("deactivation that cannot be saved is reported", func(t *testing.T) {
		api := newTestAPI(t)
		api.ledger.SetStateStore(failingStore{})

		w := api.do(http.MethodPost, "/api/v1/admin/test-mode/deactivate", testCaller, nil, nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.True(t, api.ledger.IsTestMode())
	})
}

type failingStore struct{}

func (failingStore) Save(context.Context, *models.LedgerState) error {
	return errors.New("database unavailable")
}
