package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	AppURL    string `env:"APP_URL"`

	// TrustedProxies are CIDRs whose X-Forwarded-For header is believed.
	TrustedProxies []string `env:"TRUSTED_PROXIES"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	RedisURL     string `env:"REDIS_URL"`
	EventChannel string `env:"EVENT_CHANNEL" default:"livepoll:events"`

	BackendURL     string        `env:"BACKEND_URL"`
	BackendTimeout time.Duration `env:"BACKEND_TIMEOUT" default:"5s"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" default:"30s"`
	HeartbeatGrace    time.Duration `env:"HEARTBEAT_GRACE" default:"60s"`
	SendQueueSize     int           `env:"SEND_QUEUE_SIZE" default:"16"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" default:"5s"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"50"`
	ConnectionRatePerIP     float64 `env:"CONNECTION_RATE_PER_IP" default:"5"`
	ConnectionBurstPerIP    int     `env:"CONNECTION_BURST_PER_IP" default:"10"`

	IngestRatePerSecond float64 `env:"INGEST_RATE_PER_SECOND" default:"200"`
	IngestBurst         int     `env:"INGEST_BURST" default:"400"`

	SnapshotCacheTTL time.Duration `env:"SNAPSHOT_CACHE_TTL" default:"10m"`
	ShutdownTimeout  time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// IsDevelopment reports whether the service runs in the development environment.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.HeartbeatInterval <= 0 {
		return errors.New("HEARTBEAT_INTERVAL must be positive")
	}
	if cfg.HeartbeatGrace < cfg.HeartbeatInterval {
		return fmt.Errorf("HEARTBEAT_GRACE (%s) must not be shorter than HEARTBEAT_INTERVAL (%s)", cfg.HeartbeatGrace, cfg.HeartbeatInterval)
	}
	if cfg.SendQueueSize < 1 {
		return errors.New("SEND_QUEUE_SIZE must be at least 1")
	}
	if cfg.WriteTimeout <= 0 {
		return errors.New("WRITE_TIMEOUT must be positive")
	}

	limits := map[string]int{
		"MAX_WEBSOCKET_CONNECTIONS": cfg.MaxWebSocketConnections,
		"MAX_CONNECTIONS_PER_IP":    cfg.MaxConnectionsPerIP,
		"CONNECTION_BURST_PER_IP":   cfg.ConnectionBurstPerIP,
		"INGEST_BURST":              cfg.IngestBurst,
	}
	for name, value := range limits {
		if value < 1 {
			return fmt.Errorf("%s must be at least 1", name)
		}
	}
	if cfg.ConnectionRatePerIP <= 0 {
		return errors.New("CONNECTION_RATE_PER_IP must be positive")
	}
	if cfg.IngestRatePerSecond <= 0 {
		return errors.New("INGEST_RATE_PER_SECOND must be positive")
	}

	if cfg.EventChannel == "" {
		return errors.New("EVENT_CHANNEL must not be empty")
	}

	for _, cidr := range cfg.TrustedProxies {
		if _, _, err := net.ParseCIDR(cidr); err != nil {
			return fmt.Errorf("TRUSTED_PROXIES must list CIDRs, got %q", cidr)
		}
	}

	if cfg.BackendURL != "" {
		u, err := url.Parse(cfg.BackendURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("BACKEND_URL must be an absolute URL, got %q", cfg.BackendURL)
		}
	}

	return nil
}
