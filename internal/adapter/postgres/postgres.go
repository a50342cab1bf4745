// Package postgres implements the ledger store on PostgreSQL.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/tern/v2/migrate"
	"github.com/pscheid92/pollbook/internal/platform/retry"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const applicationName = "pollbook"

// Connect opens a pool and waits for the database to answer, retrying while
// it is still starting. tracer may be nil.
func Connect(ctx context.Context, databaseURL string, tracer pgx.QueryTracer) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	poolCfg.ConnConfig.Tracer = tracer
	if _, set := poolCfg.ConnConfig.RuntimeParams["application_name"]; !set {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	policy := retry.DialPolicy
	policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.Warn("Database not reachable, retrying", "attempt", attempt, "backoff", backoff, "error", err)
	}
	if err := retry.DoVoid(ctx, policy, retryUnlessCancelled, func() error { return pool.Ping(ctx) }); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	slog.Info("Database connected",
		"host", poolCfg.ConnConfig.Host,
		"database", poolCfg.ConnConfig.Database,
		"sslmode", sslMode(databaseURL),
		"max_conns", poolCfg.MaxConns,
	)
	return pool, nil
}

func retryUnlessCancelled(err error) retry.Action {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Stop
	}
	return retry.After
}

// sslMode reports the sslmode requested in the URL for the startup log.
func sslMode(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "unknown"
	}
	if mode := strings.ToLower(u.Query().Get("sslmode")); mode != "" {
		return mode
	}
	return "prefer (default)"
}

// migrationLockKey is "pollbk" in ASCII hex.
const migrationLockKey = 0x706f6c6c626b

// migrationLockPolicy polls for the advisory lock for about a minute.
var migrationLockPolicy = retry.Policy{
	MaxAttempts:    120,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     500 * time.Millisecond,
}

var errLockHeld = errors.New("migration lock held by another instance")

// RunMigrationsWithLock applies pending migrations while holding an advisory
// lock, so concurrently starting instances migrate one at a time.
func RunMigrationsWithLock(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for migration: %w", err)
	}
	defer conn.Release()

	unlock, err := lockMigrations(ctx, conn.Conn())
	if err != nil {
		return err
	}
	defer unlock()

	return migrateSchema(ctx, conn.Conn())
}

func lockMigrations(ctx context.Context, conn *pgx.Conn) (unlock func(), err error) {
	tryLock := func() error {
		var acquired bool
		if err := conn.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", migrationLockKey).Scan(&acquired); err != nil {
			return err
		}
		if !acquired {
			return errLockHeld
		}
		return nil
	}
	if err := retry.DoVoid(ctx, migrationLockPolicy, retry.RetryIf(func(err error) bool { return errors.Is(err, errLockHeld) }), tryLock); err != nil {
		return nil, fmt.Errorf("failed to acquire migration lock: %w", err)
	}

	return func() {
		// The caller's ctx may already be done during shutdown.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockKey); err != nil {
			slog.Error("Failed to release migration lock", "error", err)
		}
	}, nil
}

func migrateSchema(ctx context.Context, conn *pgx.Conn) error {
	sub, err := fs.Sub(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}

	migrator, err := migrate.NewMigrator(ctx, conn, "public.schema_version")
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	if err := migrator.LoadMigrations(sub); err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	// A fresh database has no version table until Migrate creates it.
	if from, err := migrator.GetCurrentVersion(ctx); err == nil {
		if int(from) == len(migrator.Migrations) {
			slog.Debug("Database schema up to date", "version", from)
			return nil
		}
		slog.Info("Migrating database schema", "from", from, "to", len(migrator.Migrations))
	}

	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}
