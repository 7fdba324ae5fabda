package observability

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"
)

// Check statuses reported by the readiness probe.
const (
	StatusUp   = "up"
	StatusDown = "down"
)

// CheckResult is the outcome of one Checker.
type CheckResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Readiness is the body of the readiness probe.
type Readiness struct {
	Ready  bool                   `json:"ready"`
	Checks map[string]CheckResult `json:"checks"`
}

func (s *Server) liveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// readiness runs every checker concurrently within the configured timeout.
// It answers 503 when any of them fails.
func (s *Server) readiness(w http.ResponseWriter, r *http.Request) {
	report := s.runChecks(r.Context())

	if !report.Ready {
		render.Status(r, http.StatusServiceUnavailable)
	}
	render.JSON(w, r, report)
}

func (s *Server) runChecks(ctx context.Context) Readiness {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	report := Readiness{Ready: true, Checks: make(map[string]CheckResult, len(s.checkers))}
	var mu sync.Mutex

	// Checkers never return through the group; every result is collected.
	var g errgroup.Group
	for _, checker := range s.checkers {
		g.Go(func() error {
			start := time.Now()
			err := checker.Check(ctx)

			result := CheckResult{Status: StatusUp, LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				s.logger.Warn("readiness check failed",
					slog.String("component", checker.Name()),
					slog.String("error", err.Error()),
				)
				result.Status = StatusDown
				result.Error = err.Error()
			}

			mu.Lock()
			defer mu.Unlock()
			report.Checks[checker.Name()] = result
			if err != nil {
				report.Ready = false
			}
			return nil
		})
	}
	_ = g.Wait()

	return report
}
