package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	HTTPLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})

	Operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_operations_total",
		Help: "Ledger operations by outcome",
	}, []string{"operation", "outcome"})

	SettlementCodes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_settlement_results_total",
		Help: "Settlement result codes returned for outbound payments",
	}, []string{"code"})
)

// Outcome labels an operation result. Errors are labelled by the first
// matching sentinel in kinds, or "error".
func Outcome(err error, kinds map[error]string) string {
	if err == nil {
		return "ok"
	}
	for kind, label := range kinds {
		if errors.Is(err, kind) {
			return label
		}
	}
	return "error"
}
