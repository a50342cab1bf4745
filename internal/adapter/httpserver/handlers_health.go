package httpserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/pollbook/internal/platform/version"
	"golang.org/x/sync/errgroup"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second
)

// HealthCheck probes one dependency, e.g. the store or the broker.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type checkResult struct {
	Status   string  `json:"status"`
	Error    string  `json:"error,omitempty"`
	Duration float64 `json:"duration_ms"`
}

type healthReport struct {
	Status string                 `json:"status"`
	Checks map[string]checkResult `json:"checks,omitempty"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.probe(startupProbeTimeout))
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.probe(readinessProbeTimeout))
	s.echo.GET("/version", s.handleVersion)
}

func (s *Server) handleLiveness(c echo.Context) error {
	return writeJSON(c, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": s.app.Uptime().Seconds(),
	})
}

// probe runs every health check in parallel under one deadline and reports
// all of them. Any failure turns the response into a 503.
func (s *Server) probe(timeout time.Duration) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
		defer cancel()

		report := s.runHealthChecks(ctx)
		status := http.StatusOK
		if report.Status != "ready" {
			status = http.StatusServiceUnavailable
		}
		return writeJSON(c, status, report)
	}
}

func (s *Server) runHealthChecks(ctx context.Context) healthReport {
	report := healthReport{Status: "ready"}
	if len(s.healthChecks) == 0 {
		return report
	}

	var mu sync.Mutex
	report.Checks = make(map[string]checkResult, len(s.healthChecks))

	var g errgroup.Group
	for _, hc := range s.healthChecks {
		g.Go(func() error {
			start := time.Now()
			err := hc.Check(ctx)
			result := checkResult{Status: "ok", Duration: float64(time.Since(start).Microseconds()) / 1000}
			if err != nil {
				result.Status = "failed"
				result.Error = err.Error()
			}

			mu.Lock()
			report.Checks[hc.Name] = result
			if err != nil {
				report.Status = "unhealthy"
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return report
}

func (s *Server) handleVersion(c echo.Context) error {
	return writeJSON(c, http.StatusOK, version.Get())
}
