package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JailtonJunior94/mqconsumer/pkg/observability"
)

const maxConcurrentChecks = 10

// HealthCheckFunc reports a dependency problem as an error. It must honor
// ctx, which carries the health timeout.
type HealthCheckFunc func(ctx context.Context) error

type HealthStatus struct {
	Status      string                 `json:"status"`
	Service     string                 `json:"service"`
	Version     string                 `json:"version"`
	Environment string                 `json:"environment"`
	Timestamp   time.Time              `json:"timestamp"`
	Checks      map[string]CheckResult `json:"checks,omitempty"`
}

type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// runChecks runs checks in parallel, at most maxConcurrentChecks at a time.
// A check still waiting for a slot when the timeout fires is reported as
// "timeout".
func runChecks(ctx context.Context, checks map[string]HealthCheckFunc, timeout time.Duration) (map[string]CheckResult, bool) {
	if len(checks) == 0 {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		failed  bool
		results = make(map[string]CheckResult, len(checks))
		g       errgroup.Group
	)
	g.SetLimit(maxConcurrentChecks)

	record := func(name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			results[name] = CheckResult{Status: "unhealthy", Error: err.Error()}
			failed = true
			return
		}
		results[name] = CheckResult{Status: "healthy"}
	}

	for name, check := range checks {
		if ctx.Err() != nil {
			record(name, errCheckTimeout)
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				record(name, errCheckTimeout)
				return nil
			}
			record(name, check(ctx))
			return nil
		})
	}
	_ = g.Wait()

	return results, failed
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	results, failed := runChecks(r.Context(), s.checks, s.config.HealthTimeout)

	status, code := "healthy", http.StatusOK
	if failed {
		status, code = "unhealthy", http.StatusServiceUnavailable
		for name, result := range results {
			if result.Status == "unhealthy" {
				s.logger.Warn(r.Context(), "health check failed",
					observability.String("check", name),
					observability.String("error", result.Error),
				)
			}
		}
	}

	writeJSON(w, code, HealthStatus{
		Status:      status,
		Service:     s.config.ServiceName,
		Version:     s.config.ServiceVersion,
		Environment: s.config.Environment,
		Timestamp:   time.Now().UTC(),
		Checks:      results,
	})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	results, failed := runChecks(r.Context(), s.readiness, s.config.HealthTimeout)
	if failed {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "checks": results})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func liveHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
