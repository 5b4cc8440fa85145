package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Build metadata, set from main via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the liveness body.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the readiness body.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the outcome of one dependency check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker is implemented by dependencies that can check themselves.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// CheckFunc adapts a function to HealthChecker.
type CheckFunc func(ctx context.Context) error

// HealthCheck calls f.
func (f CheckFunc) HealthCheck(ctx context.Context) error { return f(ctx) }

// ReadinessChecks lists what /ui/ready checks. FlowsLoaded is always
// evaluated; the dependency checkers run only when set.
type ReadinessChecks struct {
	FlowsLoaded func() bool

	Gateway      HealthChecker
	SessionStore HealthChecker
	UploadBucket HealthChecker
	BillingStore HealthChecker

	// Metrics, when set, receives each dependency's up/down state.
	Metrics *Metrics
}

func (c ReadinessChecks) dependencies() []namedCheck {
	all := []namedCheck{
		{"gateway", c.Gateway},
		{"session_store", c.SessionStore},
		{"upload_bucket", c.UploadBucket},
		{"billing_store", c.BillingStore},
	}
	deps := all[:0]
	for _, d := range all {
		if d.checker != nil {
			deps = append(deps, d)
		}
	}
	return deps
}

type namedCheck struct {
	name    string
	checker HealthChecker
}

const checkTimeout = 2 * time.Second

// HandleHealth serves the liveness endpoint. It never touches dependencies.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealthJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: Version,
			Commit:  Commit,
		})
	}
}

// HandleReady serves the readiness endpoint. Dependency checks run
// concurrently, each bounded by checkTimeout; any failure answers 503.
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps := checks.dependencies()
		results := make([]CheckResult, len(deps))

		var g errgroup.Group
		for i, d := range deps {
			g.Go(func() error {
				results[i] = runCheck(r.Context(), d.checker)
				return nil
			})
		}
		flows := checkFlows(checks.FlowsLoaded)
		_ = g.Wait()

		resp := ReadinessResponse{
			Status: "ready",
			Checks: map[string]CheckResult{"flows": flows},
		}
		for i, d := range deps {
			resp.Checks[d.name] = results[i]
			checks.Metrics.SetDependencyUp(d.name, results[i].Status == "ok")
		}

		status := http.StatusOK
		for _, res := range resp.Checks {
			if res.Status != "ok" {
				resp.Status = "not_ready"
				status = http.StatusServiceUnavailable
				break
			}
		}
		writeHealthJSON(w, status, resp)
	}
}

func checkFlows(loaded func() bool) CheckResult {
	if loaded != nil && loaded() {
		return CheckResult{Status: "ok"}
	}
	return CheckResult{Status: "error", Error: "no flow definitions loaded"}
}

func runCheck(parent context.Context, checker HealthChecker) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := checker.HealthCheck(ctx)
	res := CheckResult{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = "error"
		res.Error = err.Error()
	}
	return res
}

func writeHealthJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
