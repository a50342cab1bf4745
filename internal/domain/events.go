package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventInstantiated EventType = "instantiated"
	EventPollCreated  EventType = "poll_created"
	EventVoteCast     EventType = "vote_cast"
)

// Event describes a committed state change.
type Event struct {
	ID           uuid.UUID `json:"id"`
	Type         EventType `json:"type"`
	Question     string    `json:"question,omitempty"`
	Choice       Choice    `json:"choice,omitempty"`
	Poll         *Poll     `json:"poll,omitempty"`
	AdminAddress string    `json:"admin_address,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// EventPublisher publishes domain events to infrastructure.
type EventPublisher interface {
	Publish(ctx context.Context, event Event) error
}
