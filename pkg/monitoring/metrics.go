package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP request metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Crypto operation metrics
	cryptoOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "crypto_operations_total",
			Help: "Total number of encrypt/decrypt/hash operations",
		},
		[]string{"operation", "status"},
	)

	cryptoOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "crypto_operation_duration_seconds",
			Help:    "Duration of crypto operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 2.0},
		},
		[]string{"operation"},
	)

	// Ledger metrics
	ledgerTransactionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledger_transactions_total",
			Help: "Total number of ledger anchor/read operations",
		},
		[]string{"operation", "status"},
	)

	// Access grant metrics
	grantEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_grant_events_total",
			Help: "Total number of access request state transitions",
		},
		[]string{"transition"},
	)

	integrityVerdictsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "integrity_verdicts_total",
			Help: "Total number of integrity verification verdicts",
		},
		[]string{"verdict"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		cryptoOperationsTotal,
		cryptoOperationDuration,
		ledgerTransactionsTotal,
		grantEventsTotal,
		integrityVerdictsTotal,
	)
}

// MetricsCollector exposes the service's prometheus instrumentation
type MetricsCollector struct{}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{}
}

// RecordHTTPRequest records an HTTP request completion
func (m *MetricsCollector) RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordCryptoOperation records an encrypt/decrypt/hash operation
func (m *MetricsCollector) RecordCryptoOperation(operation, status string, duration time.Duration) {
	cryptoOperationsTotal.WithLabelValues(operation, status).Inc()
	cryptoOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordLedgerTransaction records a ledger anchor/read operation
func (m *MetricsCollector) RecordLedgerTransaction(operation, status string) {
	ledgerTransactionsTotal.WithLabelValues(operation, status).Inc()
}

// RecordGrantEvent records an access request state transition
func (m *MetricsCollector) RecordGrantEvent(transition string) {
	grantEventsTotal.WithLabelValues(transition).Inc()
}

// RecordIntegrityVerdict records an integrity verification verdict
func (m *MetricsCollector) RecordIntegrityVerdict(verdict string) {
	integrityVerdictsTotal.WithLabelValues(verdict).Inc()
}

// Handler returns the prometheus metrics HTTP handler
func (m *MetricsCollector) Handler() http.Handler {
	return promhttp.Handler()
}
