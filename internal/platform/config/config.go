package config

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	AppURL    string `env:"APP_URL" default:"http://localhost:8080"`
	Port      string `env:"PORT" default:"8080"`
	GRPCPort  string `env:"GRPC_PORT"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	StoreBackend string `env:"STORE_BACKEND" default:"memory"`
	SQLitePath   string `env:"SQLITE_PATH" default:"pollbook.db"`
	RedisURL     string `env:"REDIS_URL"`
	DatabaseURL  string `env:"DATABASE_URL"`

	AMQPURL   string `env:"AMQP_URL"`
	AMQPQueue string `env:"AMQP_QUEUE" default:"pollbook.commands"`

	AdminAddress     string `env:"ADMIN_ADDRESS"`
	AddressMinLength int    `env:"ADDRESS_MIN_LENGTH" default:"3"`
	AddressMaxLength int    `env:"ADDRESS_MAX_LENGTH" default:"64"`
	AddressPrefix    string `env:"ADDRESS_PREFIX"`

	RateLimitPerSecond float64 `env:"RATE_LIMIT_PER_SECOND" default:"20"`
	RateLimitBurst     int     `env:"RATE_LIMIT_BURST" default:"40"`

	MaxWebSocketConnections      int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxWebSocketConnectionsPerIP int     `env:"MAX_WEBSOCKET_CONNECTIONS_PER_IP" default:"20"`
	WebSocketConnectRate         float64 `env:"WEBSOCKET_CONNECT_RATE" default:"5"`
	// Comma-separated browser origins accepted by the live feed besides APP_URL.
	AllowedOrigins string `env:"ALLOWED_ORIGINS"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// ExtraOrigins splits ALLOWED_ORIGINS, dropping blanks.
func (c *Config) ExtraOrigins() []string {
	var origins []string
	for origin := range strings.SplitSeq(c.AllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
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
	backends := []string{BackendMemory, BackendSQLite, BackendRedis, BackendPostgres}
	if !slices.Contains(backends, cfg.StoreBackend) {
		return fmt.Errorf("STORE_BACKEND must be one of %v, got %q", backends, cfg.StoreBackend)
	}

	required := map[string]map[string]string{
		BackendSQLite:   {"SQLITE_PATH": cfg.SQLitePath},
		BackendRedis:    {"REDIS_URL": cfg.RedisURL},
		BackendPostgres: {"DATABASE_URL": cfg.DatabaseURL},
	}
	for name, value := range required[cfg.StoreBackend] {
		if value == "" {
			return fmt.Errorf("%s is required when STORE_BACKEND=%s", name, cfg.StoreBackend)
		}
	}

	if cfg.AMQPURL != "" && cfg.AMQPQueue == "" {
		return errors.New("AMQP_QUEUE is required when AMQP_URL is set")
	}

	if cfg.AddressMinLength < 1 {
		return errors.New("ADDRESS_MIN_LENGTH must be at least 1")
	}
	if cfg.AddressMaxLength < cfg.AddressMinLength {
		return fmt.Errorf("ADDRESS_MAX_LENGTH (%d) must not be below ADDRESS_MIN_LENGTH (%d)", cfg.AddressMaxLength, cfg.AddressMinLength)
	}

	if cfg.RateLimitPerSecond <= 0 || cfg.RateLimitBurst < 1 {
		return errors.New("RATE_LIMIT_PER_SECOND must be positive and RATE_LIMIT_BURST at least 1")
	}

	if cfg.MaxWebSocketConnectionsPerIP < 1 || cfg.WebSocketConnectRate <= 0 {
		return errors.New("MAX_WEBSOCKET_CONNECTIONS_PER_IP must be at least 1 and WEBSOCKET_CONNECT_RATE positive")
	}

	return nil
}
