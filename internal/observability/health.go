package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Build-time variables injected via ldflags.
var (
	Version = "dev"
	Commit  = "unknown"
)

// HealthResponse is the JSON response for the liveness endpoint.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// ReadinessResponse is the JSON response for the readiness endpoint.
type ReadinessResponse struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks"`
}

// CheckResult is the result of a single readiness check.
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HealthChecker can verify its own health.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ReadinessChecks holds the dependency checkers for the readiness endpoint.
type ReadinessChecks struct {
	DefinitionsLoaded func() bool
	OpenAPILoaded     func() bool

	// PageCache is only checked when set.
	PageCache HealthChecker

	// OpenCircuits lists backend services whose breaker is open. An open
	// circuit degrades readiness but never fails it: tables on other
	// services keep working.
	OpenCircuits func() []string
}

const (
	checkTimeout = 2 * time.Second

	statusOK       = "ok"
	statusError    = "error"
	statusDegraded = "degraded"
)

// HandleHealth returns the liveness handler.
func HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeHealthJSON(w, http.StatusOK, HealthResponse{
			Status:  statusOK,
			Version: Version,
			Commit:  Commit,
		})
	}
}

// HandleReady returns the readiness handler. Checks run concurrently; an
// errored check turns the response into a 503, a degraded one keeps 200
// with status "degraded".
func HandleReady(checks ReadinessChecks) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		named := map[string]func() CheckResult{
			"definitions": func() CheckResult {
				return flagCheck(checks.DefinitionsLoaded, "no table definitions loaded")
			},
			"openapi_index": func() CheckResult {
				return flagCheck(checks.OpenAPILoaded, "no OpenAPI documents loaded")
			},
		}
		if checks.PageCache != nil {
			named["page_cache"] = func() CheckResult { return runCheck(r.Context(), checks.PageCache) }
		}
		if checks.OpenCircuits != nil {
			named["backends"] = func() CheckResult { return circuitCheck(checks.OpenCircuits()) }
		}

		results := make(map[string]CheckResult, len(named))
		var mu sync.Mutex
		var g errgroup.Group
		for name, check := range named {
			g.Go(func() error {
				res := check()
				mu.Lock()
				results[name] = res
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		status, httpStatus := "ready", http.StatusOK
		for _, result := range results {
			switch result.Status {
			case statusError:
				status, httpStatus = "not_ready", http.StatusServiceUnavailable
			case statusDegraded:
				if httpStatus == http.StatusOK {
					status = statusDegraded
				}
			}
		}

		writeHealthJSON(w, httpStatus, ReadinessResponse{Status: status, Checks: results})
	}
}

func flagCheck(f func() bool, msg string) CheckResult {
	start := time.Now()
	if f != nil && f() {
		return CheckResult{Status: statusOK, LatencyMs: time.Since(start).Milliseconds()}
	}
	return CheckResult{Status: statusError, LatencyMs: time.Since(start).Milliseconds(), Error: msg}
}

func circuitCheck(open []string) CheckResult {
	if len(open) == 0 {
		return CheckResult{Status: statusOK}
	}
	return CheckResult{Status: statusDegraded, Error: "circuit open: " + strings.Join(open, ", ")}
}

func runCheck(parent context.Context, checker HealthChecker) CheckResult {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	start := time.Now()
	err := checker.HealthCheck(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return CheckResult{Status: statusError, LatencyMs: latency, Error: err.Error()}
	}
	return CheckResult{Status: statusOK, LatencyMs: latency}
}

func writeHealthJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
