package httpserver

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/livepoll/internal/platform/version"
)

const (
	startupProbeTimeout   = 2 * time.Second
	readinessProbeTimeout = 5 * time.Second
)

// HealthCheck is a named dependency probe. Checks run in registration order.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type healthReport struct {
	Status      string            `json:"status"`
	FailedCheck string            `json:"failed_check,omitempty"`
	Error       string            `json:"error,omitempty"`
	Checks      map[string]string `json:"checks,omitempty"`
}

func (s *Server) registerHealthRoutes() {
	s.echo.GET("/health/startup", s.handleStartup)
	s.echo.GET("/health/live", s.handleLiveness)
	s.echo.GET("/health/ready", s.handleReadiness)
	s.echo.GET("/version", s.handleVersion)
}

func (s *Server) handleStartup(c echo.Context) error {
	return s.probe(c, startupProbeTimeout)
}

func (s *Server) handleReadiness(c echo.Context) error {
	return s.probe(c, readinessProbeTimeout)
}

// handleLiveness never consults dependencies; a pod with a dead Redis still
// serves the sockets it holds.
func (s *Server) handleLiveness(c echo.Context) error {
	response := map[string]any{
		"status": "ok",
		"uptime": s.deps.Clock.Since(s.startTime).Seconds(),
	}
	if s.deps.Connections != nil {
		response["connections"] = s.deps.Connections.Stats().Connections
	}
	if err := c.JSON(http.StatusOK, response); err != nil {
		return fmt.Errorf("failed to write liveness response: %w", err)
	}
	return nil
}

func (s *Server) probe(c echo.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
	defer cancel()

	report, status := s.runHealthChecks(ctx)
	if err := c.JSON(status, report); err != nil {
		return fmt.Errorf("failed to write health response: %w", err)
	}
	return nil
}

// runHealthChecks runs every check so the report names each dependency's state.
// The first failure decides failed_check.
func (s *Server) runHealthChecks(ctx context.Context) (healthReport, int) {
	report := healthReport{Status: "ready"}
	if len(s.deps.HealthChecks) == 0 {
		return report, http.StatusOK
	}

	report.Checks = make(map[string]string, len(s.deps.HealthChecks))
	for _, hc := range s.deps.HealthChecks {
		if err := hc.Check(ctx); err != nil {
			report.Checks[hc.Name] = err.Error()
			if report.FailedCheck == "" {
				report.Status = "unhealthy"
				report.FailedCheck = hc.Name
				report.Error = err.Error()
			}
			continue
		}
		report.Checks[hc.Name] = "ok"
	}

	if report.FailedCheck != "" {
		return report, http.StatusServiceUnavailable
	}
	return report, http.StatusOK
}

func (s *Server) handleVersion(c echo.Context) error {
	if err := c.JSON(http.StatusOK, version.Get()); err != nil {
		return fmt.Errorf("failed to write version response: %w", err)
	}
	return nil
}
