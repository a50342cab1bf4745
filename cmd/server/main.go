package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	amqpadapter "github.com/pscheid92/pollbook/internal/adapter/amqp"
	"github.com/pscheid92/pollbook/internal/adapter/eventpublisher"
	"github.com/pscheid92/pollbook/internal/adapter/grpcapi"
	"github.com/pscheid92/pollbook/internal/adapter/httpserver"
	"github.com/pscheid92/pollbook/internal/adapter/memory"
	"github.com/pscheid92/pollbook/internal/adapter/metrics"
	"github.com/pscheid92/pollbook/internal/adapter/postgres"
	"github.com/pscheid92/pollbook/internal/adapter/redis"
	"github.com/pscheid92/pollbook/internal/adapter/sqlite"
	"github.com/pscheid92/pollbook/internal/adapter/websocket"
	"github.com/pscheid92/pollbook/internal/address"
	"github.com/pscheid92/pollbook/internal/app"
	"github.com/pscheid92/pollbook/internal/domain"
	"github.com/pscheid92/pollbook/internal/platform/config"
	"github.com/pscheid92/pollbook/internal/platform/logging"
	"github.com/pscheid92/pollbook/internal/platform/otel"
	"github.com/pscheid92/pollbook/internal/platform/version"
	goredis "github.com/redis/go-redis/v9"
)

const connectTimeout = 10 * time.Second

// storeSetup is the selected ledger backend plus whatever must be closed on
// shutdown.
type storeSetup struct {
	uow     domain.UnitOfWork
	redis   *goredis.Client
	cleanup func()
}

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func fatal(msg string, err error) {
	slog.Error(msg, "error", err)
	os.Exit(1)
}

func setupStore(ctx context.Context, cfg *config.Config, reg prometheus.Registerer, ledgerMetrics *metrics.LedgerMetrics) storeSetup {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	storeMetrics := metrics.NewStoreMetrics(reg)

	var rdb *goredis.Client
	if cfg.RedisURL != "" {
		var err error
		rdb, err = redis.Connect(ctx, cfg.RedisURL, storeMetrics)
		if err != nil {
			fatal("Failed to connect to Redis", err)
		}
	}
	closeRedis := func() {
		if rdb != nil {
			_ = rdb.Close()
		}
	}

	switch cfg.StoreBackend {
	case config.BackendSQLite:
		store, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			fatal("Failed to open SQLite store", err)
		}
		return storeSetup{uow: store, redis: rdb, cleanup: func() { _ = store.Close(); closeRedis() }}

	case config.BackendRedis:
		return storeSetup{uow: redis.NewStore(rdb, ledgerMetrics), redis: rdb, cleanup: closeRedis}

	case config.BackendPostgres:
		pool, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.NewMetricsTracer(storeMetrics))
		if err != nil {
			fatal("Failed to connect to database", err)
		}
		if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
			fatal("Failed to run migrations", err)
		}
		return storeSetup{uow: postgres.NewStore(pool, ledgerMetrics), redis: rdb, cleanup: func() { pool.Close(); closeRedis() }}

	default:
		return storeSetup{uow: memory.NewStore(), redis: rdb, cleanup: closeRedis}
	}
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "backend", cfg.StoreBackend, "version", version.Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := otel.Setup(ctx, cfg.OTLPEndpoint, version.Name, version.Version)
	if err != nil {
		fatal("Failed to set up tracing", err)
	}

	reg := metrics.NewRegistry()
	ledgerMetrics := metrics.NewLedgerMetrics(reg)

	stores := setupStore(ctx, cfg, reg, ledgerMetrics)
	defer stores.cleanup()

	hub := websocket.NewHub(clock, cfg.MaxWebSocketConnections, metrics.NewWebSocketMetrics(reg))

	// Pass nil explicitly to avoid a typed-nil bus.
	var events *eventpublisher.EventPublisher
	if stores.redis != nil {
		events = eventpublisher.New(hub, redis.NewEventBus(stores.redis))
	} else {
		events = eventpublisher.New(hub, nil)
	}

	validator := address.NewValidator(cfg.AddressMinLength, cfg.AddressMaxLength, cfg.AddressPrefix)
	appSvc := app.NewService(stores.uow, validator, events, ledgerMetrics, clock)

	if cfg.AdminAddress != "" {
		created, err := appSvc.EnsureInstantiated(ctx, cfg.AdminAddress)
		if err != nil {
			fatal("Failed to initialize ledger", err)
		}
		slog.Info("Ledger initialization checked", "admin_address", cfg.AdminAddress, "instantiated", created)
	}

	healthChecks := []httpserver.HealthCheck{{Name: "store", Check: appSvc.Ping}}
	if stores.redis != nil {
		healthChecks = append(healthChecks, httpserver.HealthCheck{Name: "redis", Check: redis.Ping(stores.redis)})
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Go(func() {
		if err := events.Relay(ctx, nil); err != nil {
			errCh <- err
		}
	})

	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			fatal("Failed to listen for gRPC", err)
		}
		grpcSrv := grpcapi.NewServer(appSvc)
		wg.Go(func() {
			if err := grpcSrv.Serve(ctx, lis); err != nil {
				errCh <- err
			}
		})
	}

	if cfg.AMQPURL != "" {
		conn, err := amqpadapter.Dial(ctx, cfg.AMQPURL)
		if err != nil {
			fatal("Failed to connect to RabbitMQ", err)
		}
		defer func() { _ = conn.Close() }()

		consumer := amqpadapter.NewConsumer(conn, cfg.AMQPQueue, appSvc, metrics.NewAMQPMetrics(reg))
		healthChecks = append(healthChecks, httpserver.HealthCheck{Name: "amqp", Check: consumer.Healthy})
		wg.Go(func() {
			if err := consumer.Run(ctx); err != nil {
				errCh <- err
			}
		})
	}

	srv := httpserver.NewServer(cfg, appSvc, hub, metrics.NewHTTPMetrics(reg), metrics.Handler(reg), healthChecks)
	wg.Go(func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	})

	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received, cleaning up...")
	case err := <-errCh:
		slog.Error("Component failed, shutting down", "error", err)
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server shutdown error", "error", err)
	}
	hub.Stop()
	wg.Wait()

	if err := shutdownTracing(shutdownCtx); err != nil {
		slog.Error("Tracing shutdown error", "error", err)
	}
	slog.Info("Shutdown complete")
}
