package redis

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/pscheid92/pollbook/internal/adapter/metrics"
	goredis "github.com/redis/go-redis/v9"
)

const backendName = "redis"

// MetricsHook records every Redis command on StoreMetrics.
type MetricsHook struct {
	m *metrics.StoreMetrics
}

var _ goredis.Hook = (*MetricsHook)(nil)

func NewMetricsHook(m *metrics.StoreMetrics) *MetricsHook {
	return &MetricsHook{m: m}
}

func (h *MetricsHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.m.Errors.WithLabelValues(backendName).Inc()
		}
		return conn, err
	}
}

func (h *MetricsHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		h.observe(cmd.Name(), time.Since(start), err)
		return err
	}
}

// ProcessPipelineHook records a pipeline (including MULTI/EXEC) as one command.
func (h *MetricsHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		h.observe("pipeline", time.Since(start), err)
		return err
	}
}

func (h *MetricsHook) observe(command string, d time.Duration, err error) {
	h.m.Operations.WithLabelValues(backendName, command).Inc()
	h.m.Duration.WithLabelValues(backendName, command).Observe(d.Seconds())
	if err != nil && !errors.Is(err, goredis.Nil) && !errors.Is(err, goredis.TxFailedErr) {
		h.m.Errors.WithLabelValues(backendName).Inc()
	}
}
