package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/medvault/dlt-phr/pkg/logger"
)

// Middleware instruments HTTP handlers with metrics and request logging
type Middleware struct {
	metrics *MetricsCollector
	logger  *logger.Logger
}

// NewMiddleware creates a new monitoring middleware
func NewMiddleware(metrics *MetricsCollector, log *logger.Logger) *Middleware {
	return &Middleware{
		metrics: metrics,
		logger:  log,
	}
}

// responseWriter captures the status code for instrumentation
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Handler wraps an HTTP handler with metrics and structured request logging
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		ctx := logger.WithRequestID(r.Context(), requestID)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(rw, r.WithContext(ctx))

		duration := time.Since(start)
		m.metrics.RecordHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rw.statusCode), duration)
		m.logger.HTTPRequest(ctx, r.Method, r.URL.Path, rw.statusCode, duration.Milliseconds())
	})
}
