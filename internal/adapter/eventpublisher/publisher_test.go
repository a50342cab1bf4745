package eventpublisher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pscheid92/pollbook/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
	err    error
}

func (s *recordingSink) Publish(_ context.Context, event domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) received() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Event(nil), s.events...)
}

// channelBus delivers published events to the running relay, standing in
// for Redis Pub/Sub.
type channelBus struct {
	recordingSink
	ch chan domain.Event
}

func newChannelBus() *channelBus {
	return &channelBus{ch: make(chan domain.Event, 8)}
}

func (b *channelBus) Publish(ctx context.Context, event domain.Event) error {
	if err := b.recordingSink.Publish(ctx, event); err != nil {
		return err
	}
	b.ch <- event
	return nil
}

func (b *channelBus) Relay(ctx context.Context, deliver func(context.Context, domain.Event), ready chan<- struct{}) error {
	close(ready)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event := <-b.ch:
			deliver(ctx, event)
		}
	}
}

var voteEvent = domain.Event{
	Type:     domain.EventVoteCast,
	Question: "q",
	Choice:   domain.ChoiceYes,
	Poll:     &domain.Poll{Question: "q", YesVotes: 1},
}

func TestPublish_LocalOnly(t *testing.T) {
	local := &recordingSink{}
	ep := New(local, nil)

	require.NoError(t, ep.Publish(context.Background(), voteEvent))
	assert.Equal(t, []domain.Event{voteEvent}, local.received())
}

func TestPublish_LocalError(t *testing.T) {
	ep := New(&recordingSink{err: errors.New("hub stopped")}, nil)
	require.ErrorContains(t, ep.Publish(context.Background(), voteEvent), "publish locally")
}

func TestRelay_WithoutBusReturnsImmediately(t *testing.T) {
	ep := New(&recordingSink{}, nil)
	ready := make(chan struct{})

	require.NoError(t, ep.Relay(context.Background(), ready))
	_, open := <-ready
	assert.False(t, open)
}

func TestPublish_WithBusDeliversOnceThroughRelay(t *testing.T) {
	local := &recordingSink{}
	bus := newChannelBus()
	ep := New(local, bus)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- ep.Relay(ctx, ready) }()
	<-ready

	require.NoError(t, ep.Publish(ctx, voteEvent))
	assert.Equal(t, []domain.Event{voteEvent}, bus.received())

	assert.Eventually(t, func() bool { return len(local.received()) == 1 }, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Len(t, local.received(), 1, "bus events must not also be published locally")
}

func TestPublish_BusError(t *testing.T) {
	bus := newChannelBus()
	bus.err = errors.New("redis down")
	local := &recordingSink{}
	ep := New(local, bus)

	require.ErrorContains(t, ep.Publish(context.Background(), voteEvent), "publish to bus")
	assert.Empty(t, local.received())
}
