package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"ubipay/pkg/logger"
)

// Check probes one dependency for readiness.
type Check func(ctx context.Context) error

type SystemHandler struct {
	checks    map[string]Check
	logger    logger.Logger
	startTime time.Time
	timeout   time.Duration
}

func NewSystemHandler(checks map[string]Check, log logger.Logger) *SystemHandler {
	return &SystemHandler{
		checks:    checks,
		logger:    log,
		startTime: time.Now(),
		timeout:   2 * time.Second,
	}
}

type DependencyStatus struct {
	Name      string `json:"name"`
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// Health reports liveness only.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	})
}

// Ready pings every dependency and answers 503 if any of them is down.
func (h *SystemHandler) Ready(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	deps := make([]DependencyStatus, 0, len(names))
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
		start := time.Now()
		err := h.checks[name](ctx)
		cancel()

		dep := DependencyStatus{Name: name, Status: "up", LatencyMs: time.Since(start).Milliseconds()}
		if err != nil {
			status = http.StatusServiceUnavailable
			dep.Status = "down"
			dep.Error = err.Error()
			h.logger.Error("Readiness check failed", map[string]interface{}{"dependency": name, "error": err.Error()})
		}
		deps = append(deps, dep)
	}

	overall := "ready"
	if status != http.StatusOK {
		overall = "not_ready"
	}
	respondJSON(w, status, map[string]interface{}{"status": overall, "dependencies": deps})
}
