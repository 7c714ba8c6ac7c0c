package httpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/livepoll/internal/adapter/metrics"
	"github.com/pscheid92/livepoll/internal/adapter/websocket"
	"github.com/pscheid92/livepoll/internal/broadcast"
	"github.com/pscheid92/livepoll/internal/domain"
	"github.com/pscheid92/livepoll/internal/platform/config"
)

type connectionStats interface {
	Stats() broadcast.Stats
}

type cacheStats interface {
	Size() int
}

// Dependencies are the collaborators the HTTP surface serves.
type Dependencies struct {
	Events       domain.EventSink
	WebSocket    *websocket.Handler
	Connections  connectionStats
	Cache        cacheStats
	Registry     *prometheus.Registry
	HTTPMetrics  *metrics.HTTPMetrics
	HealthChecks []HealthCheck
	Clock        clockwork.Clock
}

type Server struct {
	echo   *echo.Echo
	config *config.Config
	deps   Dependencies

	startTime time.Time
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.IPExtractor = ipExtractor(cfg.TrustedProxies)

	srv := &Server{
		echo:      e,
		config:    cfg,
		deps:      deps,
		startTime: deps.Clock.Now(),
	}
	srv.registerRoutes()
	return srv
}

// ipExtractor reads the client address from the connection unless the
// request comes through one of the trusted proxy ranges.
func ipExtractor(trusted []string) echo.IPExtractor {
	if len(trusted) == 0 {
		return echo.ExtractIPDirect()
	}

	opts := []echo.TrustOption{
		echo.TrustLoopback(false),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(false),
	}
	for _, cidr := range trusted {
		if _, ipNet, err := net.ParseCIDR(cidr); err == nil {
			opts = append(opts, echo.TrustIPRange(ipNet))
		}
	}
	return echo.ExtractIPFromXFFHeader(opts...)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start blocks serving HTTP until Shutdown is called.
func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}
