package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/medvault/dlt-phr/pkg/logger"
	"github.com/medvault/dlt-phr/pkg/types"
)

// contextKey is unexported to avoid collisions with other packages
type contextKey string

const principalKey contextKey = "caller_principal"

// PrincipalFromContext returns the authenticated caller principal, if any
func PrincipalFromContext(ctx context.Context) (types.Principal, bool) {
	p, ok := ctx.Value(principalKey).(types.Principal)
	return p, ok
}

// WithPrincipal returns a context carrying the caller principal. Exposed for
// tests and for internal calls that bypass HTTP.
func WithPrincipal(ctx context.Context, p types.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// Middleware authenticates requests and injects the caller principal
type Middleware struct {
	validator *TokenValidator
	logger    *logger.Logger
}

// NewMiddleware creates a new auth middleware
func NewMiddleware(validator *TokenValidator, log *logger.Logger) *Middleware {
	return &Middleware{
		validator: validator,
		logger:    log,
	}
}

// Handler rejects unauthenticated requests and attaches the principal to the
// request context for downstream handlers.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			m.writeUnauthorized(w, "missing bearer token")
			return
		}

		principal, err := m.validator.Validate(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			m.logger.Security("token_rejected", "", map[string]interface{}{
				"path":  r.URL.Path,
				"error": err.Error(),
			})
			m.writeUnauthorized(w, "invalid token")
			return
		}

		ctx := WithPrincipal(r.Context(), principal)
		ctx = logger.WithCallerID(ctx, principal.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *Middleware) writeUnauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":   "unauthorized",
		"message": message,
	})
}
