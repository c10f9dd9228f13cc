package logger

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

// contextKey is unexported so request-scoped log fields cannot collide with
// values other packages put on the context
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	callerIDKey  contextKey = "caller_id"
)

// WithRequestID returns a context carrying the request id for log correlation
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id attached by WithRequestID
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey).(string)
	return id, ok
}

// WithCallerID returns a context carrying the authenticated caller id
func WithCallerID(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, callerIDKey, callerID)
}

// CallerIDFromContext returns the caller id attached by WithCallerID
func CallerIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(callerIDKey).(string)
	return id, ok
}

// Logger wraps logrus.Logger with vault-specific helpers
type Logger struct {
	*logrus.Logger
	service string
}

// New creates a new logger instance for a service
func New(service, level string) *Logger {
	log := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	log.SetLevel(logLevel)

	log.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	})

	log.SetOutput(os.Stdout)

	return &Logger{Logger: log, service: service}
}

// WithFields creates a new logger entry with the specified fields
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields(fields)).WithField("service", l.service)
}

// WithField creates a new logger entry with a single field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value).WithField("service", l.service)
}

// WithError creates a new logger entry with an error field
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithError(err).WithField("service", l.service)
}

// WithComponent creates a new logger entry with a component name field
func (l *Logger) WithComponent(component string) *logrus.Entry {
	return l.WithField("component", component)
}

// WithContext creates a logger entry carrying request-scoped fields
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)

	if requestID, ok := RequestIDFromContext(ctx); ok {
		entry = entry.WithField("request_id", requestID)
	}
	if callerID, ok := CallerIDFromContext(ctx); ok {
		entry = entry.WithField("caller_id", callerID)
	}

	return entry
}

// Audit logs record-access audit events with structured format
func (l *Logger) Audit(principalID, action, resource string, success bool, details map[string]interface{}) {
	entry := l.Logger.WithFields(logrus.Fields{
		"audit":        true,
		"service":      l.service,
		"principal_id": principalID,
		"action":       action,
		"resource":     resource,
		"success":      success,
		"details":      details,
	})

	if success {
		entry.Info("Audit event")
	} else {
		entry.Warn("Audit event failed")
	}
}

// Security logs security-related events such as rejected access attempts
func (l *Logger) Security(event string, principalID string, details map[string]interface{}) {
	l.Logger.WithFields(logrus.Fields{
		"security":     true,
		"service":      l.service,
		"event":        event,
		"principal_id": principalID,
		"details":      details,
	}).Warn("Security event")
}

// GrantEvent logs access-grant lifecycle transitions
func (l *Logger) GrantEvent(requestID, requesterID, ownerID, transition string, details map[string]interface{}) {
	l.Logger.WithFields(logrus.Fields{
		"grant":        true,
		"service":      l.service,
		"request_id":   requestID,
		"requester_id": requesterID,
		"owner_id":     ownerID,
		"transition":   transition,
		"details":      details,
	}).Info("Access grant event")
}

// LedgerTransaction logs ledger anchor/read events
func (l *Logger) LedgerTransaction(ctx context.Context, operation, recordName string, success bool, txRef string, details map[string]interface{}) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"ledger":    true,
		"operation": operation,
		"record":    recordName,
		"success":   success,
		"tx_ref":    txRef,
		"details":   details,
	})

	if success {
		entry.Info("Ledger transaction completed")
	} else {
		entry.Warn("Ledger transaction failed")
	}
}

// HTTPRequest logs HTTP request completion
func (l *Logger) HTTPRequest(ctx context.Context, method, path string, statusCode int, durationMS int64) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"http_request": true,
		"method":       method,
		"path":         path,
		"status_code":  statusCode,
		"duration_ms":  durationMS,
	})

	if statusCode >= 400 {
		entry.Warn("HTTP request completed with error")
	} else {
		entry.Info("HTTP request completed")
	}
}
