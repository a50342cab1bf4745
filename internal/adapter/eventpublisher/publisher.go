// Package eventpublisher fans committed ledger events out to live
// subscribers, across instances when Redis is available.
package eventpublisher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pscheid92/pollbook/internal/domain"
)

// Bus is a cross-instance event channel, implemented by redis.EventBus.
type Bus interface {
	domain.EventPublisher
	Relay(ctx context.Context, deliver func(ctx context.Context, event domain.Event), ready chan<- struct{}) error
}

// EventPublisher implements domain.EventPublisher. Without a bus events go
// straight to the local sink. With a bus they are published there only and
// reach the local sink through Relay, so each instance delivers every event
// exactly once.
type EventPublisher struct {
	local domain.EventPublisher
	bus   Bus
}

var _ domain.EventPublisher = (*EventPublisher)(nil)

// New builds the publisher. bus may be nil.
func New(local domain.EventPublisher, bus Bus) *EventPublisher {
	return &EventPublisher{local: local, bus: bus}
}

func (ep *EventPublisher) Publish(ctx context.Context, event domain.Event) error {
	if ep.bus != nil {
		if err := ep.bus.Publish(ctx, event); err != nil {
			return fmt.Errorf("publish to bus: %w", err)
		}
		return nil
	}
	if err := ep.local.Publish(ctx, event); err != nil {
		return fmt.Errorf("publish locally: %w", err)
	}
	return nil
}

// Relay forwards bus events to the local sink until ctx is cancelled. It
// returns immediately when no bus is configured.
func (ep *EventPublisher) Relay(ctx context.Context, ready chan<- struct{}) error {
	if ep.bus == nil {
		if ready != nil {
			close(ready)
		}
		return nil
	}
	return ep.bus.Relay(ctx, func(ctx context.Context, event domain.Event) {
		if err := ep.local.Publish(ctx, event); err != nil {
			slog.WarnContext(ctx, "Failed to deliver relayed event", "type", event.Type, "question", event.Question, "error", err)
		}
	}, ready)
}
