package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/livepoll/internal/adapter/backend"
	"github.com/pscheid92/livepoll/internal/adapter/httpserver"
	"github.com/pscheid92/livepoll/internal/adapter/metrics"
	"github.com/pscheid92/livepoll/internal/adapter/redis"
	"github.com/pscheid92/livepoll/internal/adapter/websocket"
	"github.com/pscheid92/livepoll/internal/app"
	"github.com/pscheid92/livepoll/internal/broadcast"
	"github.com/pscheid92/livepoll/internal/domain"
	"github.com/pscheid92/livepoll/internal/platform/config"
	"github.com/pscheid92/livepoll/internal/platform/logging"
	"github.com/pscheid92/livepoll/internal/platform/version"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	cacheEvictionInterval = time.Minute
	warmTimeout           = 10 * time.Second
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func setupRedis(ctx context.Context, cfg *config.Config, reg prometheus.Registerer) *goredis.Client {
	client, err := redis.NewClient(ctx, cfg.RedisURL, metrics.NewRedisMetrics(reg))
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	return client
}

// setupBackend returns nil when no backend is configured; snapshots then come
// from the cache only.
func setupBackend(cfg *config.Config, reg prometheus.Registerer) *backend.Client {
	if cfg.BackendURL == "" {
		slog.Info("No backend configured, serving snapshots from cache only")
		return nil
	}
	client, err := backend.NewClient(cfg.BackendURL, backend.Options{Timeout: cfg.BackendTimeout}, metrics.NewBackendMetrics(reg))
	if err != nil {
		slog.Error("Failed to create backend client", "error", err)
		os.Exit(1)
	}
	return client
}

func warmCache(ctx context.Context, router *app.Router) {
	ctx, cancel := context.WithTimeout(ctx, warmTimeout)
	defer cancel()

	n, err := router.Warm(ctx)
	if err != nil {
		slog.Warn("Failed to warm snapshot cache", "error", err)
		return
	}
	slog.Info("Snapshot cache warmed", "polls", n)
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().String())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	wsMetrics := metrics.NewWebSocketMetrics(reg)

	broadcaster := broadcast.NewBroadcaster(broadcast.NewRegistry(), clock, broadcast.Config{
		QueueSize:    cfg.SendQueueSize,
		WriteTimeout: cfg.WriteTimeout,
	}, wsMetrics)
	heartbeat := broadcast.NewHeartbeatMonitor(broadcaster, clock, cfg.HeartbeatInterval, cfg.HeartbeatGrace, wsMetrics)

	cache := app.NewSnapshotCache(cfg.SnapshotCacheTTL, clock, metrics.NewCacheMetrics(reg))
	stopEviction := cache.StartEvictionTimer(cacheEvictionInterval)
	defer stopEviction()

	var healthChecks []httpserver.HealthCheck

	// Pass nil explicitly to avoid a typed-nil PollSource.
	var source domain.PollSource
	if client := setupBackend(cfg, reg); client != nil {
		source = client
		healthChecks = append(healthChecks, httpserver.HealthCheck{Name: "backend", Check: client.Ping})
	}

	router := app.NewRouter(broadcaster, cache, source, clock, metrics.NewRouterMetrics(reg))
	warmCache(ctx, router)

	var events domain.EventSink = router
	var bus *redis.EventBus
	if cfg.RedisURL != "" {
		rdb := setupRedis(ctx, cfg, reg)
		defer func() { _ = rdb.Close() }()

		bus = redis.NewEventBus(rdb, cfg.EventChannel, router, metrics.NewEventBusMetrics(reg))
		events = bus
		healthChecks = append(healthChecks, httpserver.HealthCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	} else {
		slog.Info("No Redis configured, routing ingested events locally")
	}

	limits := websocket.NewConnectionLimits(websocket.LimitsConfig{
		MaxConnections: cfg.MaxWebSocketConnections,
		MaxPerIP:       cfg.MaxConnectionsPerIP,
		RatePerIP:      cfg.ConnectionRatePerIP,
		BurstPerIP:     cfg.ConnectionBurstPerIP,
	}, clock)
	wsHandler := websocket.NewHandler(broadcaster, router, limits, websocket.NewCheckOrigin(cfg.AppURL, cfg.IsDevelopment()), wsMetrics)

	srv := httpserver.NewServer(cfg, httpserver.Dependencies{
		Events:       events,
		WebSocket:    wsHandler,
		Connections:  broadcaster,
		Cache:        cache,
		Registry:     reg,
		HTTPMetrics:  metrics.NewHTTPMetrics(reg),
		HealthChecks: healthChecks,
		Clock:        clock,
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		heartbeat.Run(gctx)
		return nil
	})
	if bus != nil {
		g.Go(func() error { return bus.Run(gctx) })
	}
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := broadcaster.Stop(shutdownCtx); err != nil {
			slog.Error("Broadcaster shutdown error", "error", err)
		}
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped")
}
