package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	goredis "github.com/redis/go-redis/v9"
)

// CircuitBreakerHook fails Redis commands fast while Redis is unavailable.
// Ledger reads are never served from a cache: a stale tally would break the
// read-then-write check inside a unit of work.
type CircuitBreakerHook struct {
	cb circuitbreaker.CircuitBreaker[any]
}

var _ goredis.Hook = (*CircuitBreakerHook)(nil)

// NewCircuitBreakerHook opens at a 60% failure rate over at least 5 requests
// in a 10s window, probes again after 30s and closes on the first success.
func NewCircuitBreakerHook() *CircuitBreakerHook {
	return newCircuitBreakerHook(30 * time.Second)
}

func newCircuitBreakerHook(delay time.Duration) *CircuitBreakerHook {
	cb := circuitbreaker.NewBuilder[any]().
		WithFailureRateThreshold(0.6, 5, 10*time.Second).
		WithDelay(delay).
		WithSuccessThreshold(1).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			slog.Warn("Circuit breaker state changed",
				"component", "redis",
				"from", e.OldState.String(),
				"to", e.NewState.String(),
			)
		}).
		Build()

	return &CircuitBreakerHook{cb: cb}
}

// guard runs call only while the breaker admits it and records the outcome.
func (h *CircuitBreakerHook) guard(op string, call func() error) error {
	if !h.cb.TryAcquirePermit() {
		return fmt.Errorf("redis %s: %w", op, circuitbreaker.ErrOpen)
	}
	err := call()
	h.record(err)
	return err
}

func (h *CircuitBreakerHook) DialHook(next goredis.DialHook) goredis.DialHook {
	return func(ctx context.Context, network, addr string) (conn net.Conn, err error) {
		err = h.guard("dial", func() error {
			conn, err = next(ctx, network, addr)
			return err
		})
		return conn, err
	}
}

func (h *CircuitBreakerHook) ProcessHook(next goredis.ProcessHook) goredis.ProcessHook {
	return func(ctx context.Context, cmd goredis.Cmder) error {
		return h.guard(cmd.Name(), func() error { return next(ctx, cmd) })
	}
}

func (h *CircuitBreakerHook) ProcessPipelineHook(next goredis.ProcessPipelineHook) goredis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []goredis.Cmder) error {
		return h.guard("pipeline", func() error { return next(ctx, cmds) })
	}
}

// record counts only infrastructure failures. Missing keys and lost
// optimistic transactions are normal outcomes.
func (h *CircuitBreakerHook) record(err error) {
	if err == nil || errors.Is(err, goredis.Nil) || errors.Is(err, goredis.TxFailedErr) {
		h.cb.RecordSuccess()
		return
	}
	h.cb.RecordError(err)
}

func (h *CircuitBreakerHook) State() circuitbreaker.State {
	return h.cb.State()
}
