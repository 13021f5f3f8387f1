package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	mW "github.com/openbank/ledger/internal/middleware"
	"github.com/openbank/ledger/internal/services"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

// RouterConfig holds what NewRouter mounts.
type RouterConfig struct {
	Ledger         *services.LedgerService
	QR             *services.QRService
	SwaggerURL     string
	AllowedOrigins []string
	// Redis backs the per-caller rate limit; nil disables it.
	Redis      *redis.Client
	RateLimit  int64
	RateWindow time.Duration
}

// NewRouter builds the HTTP surface of one ledger.
func NewRouter(cfg RouterConfig) http.Handler {
	ledgerHandler := NewLedgerHandler(cfg.Ledger)
	requestDebitHandler := NewRequestDebitHandler(cfg.Ledger)
	adminHandler := NewAdminHandler(cfg.Ledger)
	qrHandler := NewQRHandler(cfg.QR, cfg.Ledger)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"https://*", "http://*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(mW.Metrics)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", mW.AttachmentHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Handle("/metrics", promhttp.Handler())

	// Swagger documentation
	if cfg.SwaggerURL != "" {
		r.Get("/swagger/*", httpSwagger.Handler(
			httpSwagger.URL(cfg.SwaggerURL),
		))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mW.AuthMiddleware)
		r.Use(mW.RateLimit(cfg.Redis, cfg.RateLimit, cfg.RateWindow))

		r.Get("/ledger", ledgerHandler.Info)
		r.Get("/ledger/balance", ledgerHandler.Balance)
		r.Get("/ledger/secure-codes", ledgerHandler.SecureCodes)

		r.Post("/payments/pay-in", ledgerHandler.PayIn)
		r.Post("/payments/deposit", ledgerHandler.Deposit)
		r.Post("/payments/pay-out", ledgerHandler.PayOut)
		r.Post("/payments/pay-out-multi", ledgerHandler.PayOutMulti)
		r.Post("/payments/withdraw", ledgerHandler.Withdraw)
		r.Get("/payments/{ref}", ledgerHandler.FindPayment)
		r.Get("/payments/{ref}/valid", ledgerHandler.ValidPayment)

		r.Post("/request-debits", requestDebitHandler.Register)
		r.Get("/request-debits", requestDebitHandler.List)
		r.Post("/request-debits/qr/resolve", qrHandler.ResolveQR)
		r.Get("/request-debits/{ref}", requestDebitHandler.Find)
		r.Get("/request-debits/{ref}/qr", qrHandler.RequestDebitQR)
		r.Post("/request-debits/{ref}/approve", requestDebitHandler.Approve)
		r.Post("/request-debits/{ref}/cancel", requestDebitHandler.Cancel)
		r.Post("/request-debits/{ref}/drawdown", requestDebitHandler.Drawdown)

		r.Put("/admin/name", adminHandler.SetName)
		r.Put("/admin/nominee", adminHandler.SetNominee)
		r.Put("/admin/authority", adminHandler.SetAuthority)
		r.Put("/admin/affirmative-code", adminHandler.SetAffirmativeCode)
		r.Put("/admin/negative-code", adminHandler.SetNegativeCode)
		r.Post("/admin/test-mode/deactivate", adminHandler.DeactivateTestMode)
	})

	return r
}
