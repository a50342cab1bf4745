// Package amqp consumes ledger commands from a RabbitMQ queue.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pscheid92/pollbook/internal/adapter/metrics"
	"github.com/pscheid92/pollbook/internal/domain"
	"github.com/pscheid92/pollbook/internal/msg"
	"github.com/pscheid92/pollbook/internal/platform/correlation"
	apperrors "github.com/pscheid92/pollbook/internal/platform/errors"
	"github.com/pscheid92/pollbook/internal/platform/retry"
	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	consumerTag   = "pollbook"
	prefetchCount = 16
)

// Delivery outcomes, also used as metric labels.
const (
	OutcomeAck     = "ack"
	OutcomeReject  = "reject"
	OutcomeRequeue = "requeue"
)

var ErrDeliveriesClosed = errors.New("amqp delivery channel closed")

type executor interface {
	Execute(ctx context.Context, cmd domain.Command) (*domain.Response, error)
}

// Dial connects to the broker, retrying while it is still starting.
func Dial(ctx context.Context, url string) (*amqp.Connection, error) {
	policy := retry.DialPolicy
	policy.OnRetry = func(attempt int, err error, backoff time.Duration) {
		slog.Warn("Failed to connect to RabbitMQ, retrying", "attempt", attempt, "backoff", backoff, "error", err)
	}

	conn, err := retry.Do(ctx, policy, func(error) retry.Action { return retry.After }, func() (*amqp.Connection, error) {
		return amqp.Dial(url)
	})
	if err != nil {
		return nil, fmt.Errorf("could not connect to RabbitMQ: %w", err)
	}
	slog.Info("Connected to RabbitMQ")
	return conn, nil
}

// Consumer executes commands published to a durable queue. Each delivery is
// acknowledged only after its transaction committed.
type Consumer struct {
	conn    *amqp.Connection
	queue   string
	app     executor
	metrics *metrics.AMQPMetrics
}

// NewConsumer builds a consumer. m may be nil.
func NewConsumer(conn *amqp.Connection, queue string, app executor, m *metrics.AMQPMetrics) *Consumer {
	return &Consumer{conn: conn, queue: queue, app: app, metrics: m}
}

// Run consumes until ctx is cancelled or the broker closes the channel.
func (c *Consumer) Run(ctx context.Context) error {
	ch, err := c.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	q, err := ch.QueueDeclare(c.queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", c.queue, err)
	}
	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, q.Name, consumerTag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	slog.Info("AMQP consumer started", "queue", q.Name)
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return ErrDeliveriesClosed
			}
			c.handle(ctx, d)
		}
	}
}

// Healthy reports whether the broker connection is open.
func (c *Consumer) Healthy(context.Context) error {
	if c.conn.IsClosed() {
		return errors.New("amqp connection closed")
	}
	return nil
}

func (c *Consumer) handle(ctx context.Context, d amqp.Delivery) string {
	ctx, _ = correlation.Ensure(ctx, correlationID(d))

	outcome, err := c.process(ctx, d.Body)
	if err != nil {
		slog.Log(ctx, apperrors.FromDomain(err).LogLevel(), "Command delivery failed", "outcome", outcome, "delivery_tag", d.DeliveryTag, "error", err)
	}

	var ackErr error
	switch outcome {
	case OutcomeAck:
		ackErr = d.Ack(false)
	case OutcomeRequeue:
		ackErr = d.Nack(false, true)
	default:
		ackErr = d.Reject(false)
	}
	if ackErr != nil {
		slog.ErrorContext(ctx, "Failed to settle delivery", "outcome", outcome, "error", ackErr)
	}

	if c.metrics != nil {
		c.metrics.Deliveries.WithLabelValues(outcome).Inc()
	}
	return outcome
}

// process decides the outcome: only storage failures are worth redelivering;
// malformed messages and rejected commands fail the same way every time.
func (c *Consumer) process(ctx context.Context, body []byte) (string, error) {
	cmd, err := msg.DecodeExecute(body)
	if err != nil {
		return OutcomeReject, err
	}

	resp, err := c.app.Execute(ctx, cmd)
	if err != nil {
		if apperrors.IsRetryable(err) {
			return OutcomeRequeue, err
		}
		return OutcomeReject, err
	}

	slog.DebugContext(ctx, "Command executed", "action", resp.Action())
	return OutcomeAck, nil
}

func correlationID(d amqp.Delivery) string {
	if d.CorrelationId != "" {
		return d.CorrelationId
	}
	if v, ok := d.Headers[correlation.HeaderName].(string); ok {
		return v
	}
	return ""
}
