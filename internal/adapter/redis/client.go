package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pscheid92/pollbook/internal/adapter/metrics"
	"github.com/pscheid92/pollbook/internal/platform/retry"
	goredis "github.com/redis/go-redis/v9"
)

// Connect parses redisURL, installs the metrics and circuit breaker hooks and
// waits until Redis answers a PING. m may be nil.
func Connect(ctx context.Context, redisURL string, m *metrics.StoreMetrics) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if opts.ClientName == "" {
		opts.ClientName = "pollbook"
	}

	rdb := goredis.NewClient(opts)
	if m != nil {
		rdb.AddHook(NewMetricsHook(m))
	}
	rdb.AddHook(NewCircuitBreakerHook())

	policy := retry.DialPolicy
	policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.Warn("Redis not reachable, retrying", "attempt", attempt, "backoff", backoff, "error", err)
	}
	ping := func() error { return rdb.Ping(ctx).Err() }
	if err := retry.DoVoid(ctx, policy, retry.RetryIf(transient), ping); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	slog.Info("Redis connected", "addr", opts.Addr, "db", opts.DB)
	return rdb, nil
}

// transient excludes failures a retry cannot fix.
func transient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var redisErr goredis.Error
	if errors.As(err, &redisErr) {
		// Server replies such as NOAUTH or WRONGPASS.
		return false
	}
	return true
}

// Ping is a readiness check for the Redis connection itself, independent of
// which store backend is active.
func Ping(rdb *goredis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
