// Package httpapi provides the health/readiness/liveness/metrics HTTP
// surface shared by all five RaveDigest components, generalizing the
// distilled-from shared/utils/health.py HealthChecker (name/status/message/
// response_time_ms/timestamp per check, "healthy"/"unhealthy"/"degraded"
// overall status) into a Go-native registry of named Check functions served
// over gorilla/mux, matching the teacher's router-per-component convention.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status mirrors the original HealthStatus enum.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Check is a single named dependency probe. Critical checks (database,
// message bus) gate readiness; non-critical ones (an individual RSS feed)
// are reported but do not fail readiness on their own.
type Check struct {
	Name     string
	Critical bool
	Probe    func(ctx context.Context) error
}

// CheckResult is one executed Check, shaped like the original's per-check
// health dict.
type CheckResult struct {
	Name           string  `json:"name"`
	Status         Status  `json:"status"`
	Message        string  `json:"message"`
	ResponseTimeMs float64 `json:"response_time_ms"`
	Timestamp      string  `json:"timestamp"`
}

// Report is the full health payload returned by GET /health.
type Report struct {
	Service   string        `json:"service"`
	Status    Status        `json:"status"`
	Timestamp string        `json:"timestamp"`
	Checks    []CheckResult `json:"checks"`
}

// Checker runs a component's registered Checks and renders its HTTP surface.
type Checker struct {
	service string
	checks  []Check
	timeout time.Duration
}

// NewChecker constructs a Checker for service, probing each check with the
// given per-probe timeout.
func NewChecker(service string, timeout time.Duration, checks ...Check) *Checker {
	return &Checker{service: service, checks: checks, timeout: timeout}
}

func (c *Checker) run(ctx context.Context) Report {
	results := make([]CheckResult, 0, len(c.checks))
	overall := StatusHealthy

	for _, check := range c.checks {
		start := time.Now()
		probeCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err := check.Probe(probeCtx)
		cancel()
		elapsed := float64(time.Since(start).Microseconds()) / 1000.0

		result := CheckResult{
			Name:           check.Name,
			ResponseTimeMs: elapsed,
			Timestamp:      time.Now().UTC().Format(time.RFC3339),
		}
		if err != nil {
			result.Status = StatusUnhealthy
			result.Message = check.Name + " check failed: " + err.Error()
			if check.Critical {
				overall = StatusUnhealthy
			} else if overall == StatusHealthy {
				overall = StatusDegraded
			}
		} else {
			result.Status = StatusHealthy
			result.Message = check.Name + " check succeeded"
		}
		results = append(results, result)
	}

	return Report{
		Service:   c.service,
		Status:    overall,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Checks:    results,
	}
}

// Register mounts /<prefix>/health, /<prefix>/health/live,
// /<prefix>/health/ready, and /<prefix>/metrics on r, per the spec's
// "GET /<name>/health" external-interfaces section. An empty prefix mounts
// at the bare /health etc., matching the Scheduler's unprefixed surface.
func (c *Checker) Register(r *mux.Router, prefix string) {
	base := ""
	if prefix != "" {
		base = "/" + prefix
	}
	r.HandleFunc(base+"/health", c.handleHealth).Methods(http.MethodGet)
	r.HandleFunc(base+"/health/live", c.handleLive).Methods(http.MethodGet)
	r.HandleFunc(base+"/health/ready", c.handleReady).Methods(http.MethodGet)
	r.Handle(base+"/metrics", promhttp.Handler()).Methods(http.MethodGet)
}

func (c *Checker) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := c.run(r.Context())
	status := http.StatusOK
	if report.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

func (c *Checker) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "alive",
		"service":   c.service,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (c *Checker) handleReady(w http.ResponseWriter, r *http.Request) {
	report := c.run(r.Context())

	ready := true
	deps := make(map[string]Status)
	for i, check := range c.checks {
		if !check.Critical {
			continue
		}
		deps[check.Name] = report.Checks[i].Status
		if report.Checks[i].Status != StatusHealthy {
			ready = false
		}
	}

	status := http.StatusOK
	readyStr := "ready"
	if !ready {
		status = http.StatusServiceUnavailable
		readyStr = "not_ready"
	}
	writeJSON(w, status, map[string]interface{}{
		"status":                readyStr,
		"service":               c.service,
		"critical_dependencies": deps,
		"timestamp":             time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
