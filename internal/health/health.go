// Package health provides liveness and readiness checks for a VaultSync node.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/Synaptikal/VaultSync-sub001/internal/metrics"
	"go.uber.org/zap"
)

const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusCritical = "critical"
)

// Check is one dependency probe. A failing critical check makes the node
// not ready; a failing optional check only degrades it.
type Check struct {
	Name     string
	Critical bool
	Probe    func(ctx context.Context) error
}

// CheckResult represents the result of a health check
type CheckResult struct {
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthChecker runs the node's dependency checks.
type HealthChecker struct {
	checks   []Check
	interval time.Duration
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu      sync.RWMutex
	results map[string]CheckResult
	ready   bool
	checked bool
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(checks []Check, m *metrics.Metrics, logger *zap.Logger) *HealthChecker {
	return &HealthChecker{
		checks:   checks,
		interval: 10 * time.Second,
		timeout:  2 * time.Second,
		metrics:  m,
		logger:   logger,
		results:  make(map[string]CheckResult),
	}
}

// Run re-checks every interval until ctx is cancelled.
func (h *HealthChecker) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.RunChecks(ctx)
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("Health checker stopped")
			return nil
		case <-ticker.C:
			h.RunChecks(ctx)
		}
	}
}

// RunChecks probes every dependency once and reports readiness.
func (h *HealthChecker) RunChecks(ctx context.Context) bool {
	results := make(map[string]CheckResult, len(h.checks))
	ready := true

	for _, c := range h.checks {
		probeCtx, cancel := context.WithTimeout(ctx, h.timeout)
		err := c.Probe(probeCtx)
		cancel()

		result := CheckResult{Status: StatusHealthy, Timestamp: time.Now().UTC()}
		if err != nil {
			result.Message = err.Error()
			result.Status = StatusDegraded
			if c.Critical {
				result.Status = StatusCritical
				ready = false
			}
			h.logger.Warn("Health check failed",
				zap.String("check", c.Name),
				zap.Bool("critical", c.Critical),
				zap.Error(err))
		}
		results[c.Name] = result
	}

	h.mu.Lock()
	h.results = results
	h.ready = ready
	h.checked = true
	h.mu.Unlock()

	h.metrics.SetHealthStatus(ready)
	return ready
}

// IsReady returns the last readiness verdict.
func (h *HealthChecker) IsReady() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// LivenessResponse represents the response for the liveness check.
type LivenessResponse struct {
	Status string `json:"status"`
}

// ReadinessResponse represents the response for the readiness check.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// LivenessHandler handles GET /health. It answers 200 while the process serves HTTP.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, LivenessResponse{Status: StatusHealthy})
}

// ReadinessHandler handles GET /ready. A node that is not ready, or has not
// been checked yet, is re-checked before answering.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	ready := h.ready && h.checked
	h.mu.RUnlock()

	if !ready {
		ready = h.RunChecks(r.Context())
	}

	h.mu.RLock()
	checks := make(map[string]CheckResult, len(h.results))
	for name, res := range h.results {
		checks[name] = res
	}
	h.mu.RUnlock()

	if !ready {
		writeJSON(w, http.StatusServiceUnavailable, ReadinessResponse{Status: "not_ready", Checks: checks})
		return
	}
	writeJSON(w, http.StatusOK, ReadinessResponse{Status: "ready", Checks: checks})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
