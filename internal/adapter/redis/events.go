package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/pscheid92/pollbook/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

// EventsChannel carries committed ledger events between instances.
const EventsChannel = "pollbook:events"

// EventBus publishes domain events to Redis Pub/Sub and relays events from
// all instances to a local consumer.
type EventBus struct {
	rdb *goredis.Client
}

var _ domain.EventPublisher = (*EventBus)(nil)

func NewEventBus(rdb *goredis.Client) *EventBus {
	return &EventBus{rdb: rdb}
}

func (b *EventBus) Publish(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.rdb.Publish(ctx, EventsChannel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Relay subscribes to the events channel and calls deliver for each event
// until ctx is cancelled. ready, if non-nil, is closed once the subscription
// is active.
func (b *EventBus) Relay(ctx context.Context, deliver func(ctx context.Context, event domain.Event), ready chan<- struct{}) error {
	sub := b.rdb.Subscribe(ctx, EventsChannel)
	defer func() { _ = sub.Close() }()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", EventsChannel, err)
	}
	if ready != nil {
		close(ready)
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				slog.Warn("Dropping malformed ledger event", "channel", msg.Channel, "error", err)
				continue
			}
			deliver(ctx, event)
		}
	}
}
