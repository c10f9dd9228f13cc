package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthStatus represents the health state of a component
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentCheck is a named health probe for one dependency
type ComponentCheck struct {
	Name  string
	Check func() error
	// Critical marks a component whose failure makes the whole service
	// unhealthy. Non-critical failures only degrade it.
	Critical bool
}

// ComponentHealth is the reported state of one component
type ComponentHealth struct {
	Status HealthStatus `json:"status"`
	Error  string       `json:"error,omitempty"`
}

// HealthReport is the aggregate health response
type HealthReport struct {
	Status     HealthStatus               `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	CheckedAt  time.Time                  `json:"checked_at"`
}

// HealthChecker aggregates component probes into a single endpoint
type HealthChecker struct {
	mu     sync.RWMutex
	checks []ComponentCheck
}

// NewHealthChecker creates a new health checker
func NewHealthChecker() *HealthChecker {
	return &HealthChecker{}
}

// Register adds a component probe
func (h *HealthChecker) Register(check ComponentCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, check)
}

// Run executes all probes and aggregates the result
func (h *HealthChecker) Run() HealthReport {
	h.mu.RLock()
	checks := make([]ComponentCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	report := HealthReport{
		Status:     HealthStatusHealthy,
		Components: make(map[string]ComponentHealth),
		CheckedAt:  time.Now(),
	}

	for _, check := range checks {
		if err := check.Check(); err != nil {
			report.Components[check.Name] = ComponentHealth{
				Status: HealthStatusUnhealthy,
				Error:  err.Error(),
			}
			if check.Critical {
				report.Status = HealthStatusUnhealthy
			} else if report.Status == HealthStatusHealthy {
				report.Status = HealthStatusDegraded
			}
			continue
		}
		report.Components[check.Name] = ComponentHealth{Status: HealthStatusHealthy}
	}

	return report
}

// Handler returns the health check HTTP handler
func (h *HealthChecker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		report := h.Run()

		statusCode := http.StatusOK
		if report.Status == HealthStatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(report)
	})
}
