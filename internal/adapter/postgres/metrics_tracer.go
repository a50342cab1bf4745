package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pscheid92/pollbook/internal/adapter/metrics"
)

// MetricsTracer implements pgx.QueryTracer and records every statement on
// StoreMetrics, labelled by its leading SQL keyword.
type MetricsTracer struct {
	m *metrics.StoreMetrics
}

var _ pgx.QueryTracer = (*MetricsTracer)(nil)

func NewMetricsTracer(m *metrics.StoreMetrics) *MetricsTracer {
	return &MetricsTracer{m: m}
}

type queryContextKey struct{}

type queryContext struct {
	start   time.Time
	command string
}

func (t *MetricsTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryContextKey{}, queryContext{start: time.Now(), command: extractCommand(data.SQL)})
}

func (t *MetricsTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qctx, ok := ctx.Value(queryContextKey{}).(queryContext)
	if !ok {
		return
	}

	t.m.Operations.WithLabelValues(backendName, qctx.command).Inc()
	t.m.Duration.WithLabelValues(backendName, qctx.command).Observe(time.Since(qctx.start).Seconds())
	if data.Err != nil {
		t.m.Errors.WithLabelValues(backendName).Inc()
	}
}

// extractCommand keeps metric cardinality low by using only the first
// keyword of the statement.
func extractCommand(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	return strings.ToLower(fields[0])
}
