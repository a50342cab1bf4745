// Package websocket pushes live poll tallies to subscribed WebSocket clients.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/pollbook/internal/adapter/metrics"
	"github.com/pscheid92/pollbook/internal/domain"
)

const (
	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second
)

var (
	ErrTooManyConnections = errors.New("too many websocket connections")
	ErrHubStopped         = errors.New("websocket hub stopped")
)

// TallyUpdate is the message sent to subscribers of a question.
type TallyUpdate struct {
	Question string `json:"question"`
	Exists   bool   `json:"exists"`
	YesVotes uint64 `json:"yes_votes"`
	NoVotes  uint64 `json:"no_votes"`
	Total    uint64 `json:"total"`
}

func NewTallyUpdate(question string, poll *domain.Poll) TallyUpdate {
	if poll == nil {
		return TallyUpdate{Question: question}
	}
	return TallyUpdate{
		Question: question,
		Exists:   true,
		YesVotes: poll.YesVotes,
		NoVotes:  poll.NoVotes,
		Total:    poll.Total(),
	}
}

type subscribers map[*websocket.Conn]*clientWriter

type hubCmd interface{ isHubCmd() }

type baseHubCmd struct{}

func (baseHubCmd) isHubCmd() {}

type subscribeCmd struct {
	baseHubCmd
	question     string
	connection   *websocket.Conn
	errorChannel chan error
}

type snapshotCmd struct {
	baseHubCmd
	question   string
	connection *websocket.Conn
	data       []byte
}

type unsubscribeCmd struct {
	baseHubCmd
	question   string
	connection *websocket.Conn
}

type broadcastCmd struct {
	baseHubCmd
	question string
	data     []byte
}

type countCmd struct {
	baseHubCmd
	question     string
	replyChannel chan int
}

type stopCmd struct {
	baseHubCmd
}

// Hub is an actor owning every subscription. All state lives on the run
// goroutine; callers talk to it through cmdCh.
type Hub struct {
	cmdCh          chan hubCmd
	clock          clockwork.Clock
	subscriptions  map[string]subscribers
	connections    int
	maxConnections int
	metrics        *metrics.WebSocketMetrics
	done           chan struct{}
	stopTimeout    time.Duration
}

var _ domain.EventPublisher = (*Hub)(nil)

// NewHub starts the hub. m may be nil.
func NewHub(clock clockwork.Clock, maxConnections int, m *metrics.WebSocketMetrics) *Hub {
	h := &Hub{
		cmdCh:          make(chan hubCmd, 256),
		clock:          clock,
		subscriptions:  make(map[string]subscribers),
		maxConnections: maxConnections,
		metrics:        m,
		done:           make(chan struct{}),
		stopTimeout:    stopTimeout,
	}
	go h.run()
	return h
}

// Subscribe registers conn for updates on question. Nothing is written to
// conn until Snapshot delivers the current tally; updates published in the
// meantime are held and follow it.
func (h *Hub) Subscribe(question string, conn *websocket.Conn) error {
	errCh := make(chan error, 1)
	if !h.send(subscribeCmd{question: question, connection: conn, errorChannel: errCh}) {
		return ErrHubStopped
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-timer.Chan():
		return fmt.Errorf("subscribe command timed out after %v", commandTimeout)
	}
}

// Snapshot sends the tally read after Subscribe as the first message on conn.
func (h *Hub) Snapshot(question string, conn *websocket.Conn, poll *domain.Poll) error {
	data, err := json.Marshal(NewTallyUpdate(question, poll))
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if !h.send(snapshotCmd{question: question, connection: conn, data: data}) {
		return ErrHubStopped
	}
	return nil
}

func (h *Hub) Unsubscribe(question string, conn *websocket.Conn) {
	h.send(unsubscribeCmd{question: question, connection: conn})
}

// Publish implements domain.EventPublisher. Events without a poll snapshot
// carry nothing for subscribers and are ignored.
func (h *Hub) Publish(ctx context.Context, event domain.Event) error {
	if event.Poll == nil {
		return nil
	}

	data, err := json.Marshal(NewTallyUpdate(event.Question, event.Poll))
	if err != nil {
		return fmt.Errorf("marshal tally: %w", err)
	}

	if h.stopped() {
		return ErrHubStopped
	}
	select {
	case h.cmdCh <- broadcastCmd{question: event.Question, data: data}:
		return nil
	case <-h.done:
		return ErrHubStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SubscriberCount returns the number of clients watching question, or -1
// when the hub does not answer in time.
func (h *Hub) SubscriberCount(question string) int {
	replyCh := make(chan int, 1)
	if !h.send(countCmd{question: question, replyChannel: replyCh}) {
		return -1
	}

	timer := h.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-timer.Chan():
		slog.Warn("SubscriberCount timed out", "timeout", commandTimeout)
		return -1
	}
}

// Stop closes every connection and waits for the hub goroutine to exit.
func (h *Hub) Stop() {
	if !h.send(stopCmd{}) {
		return
	}

	timeout := h.clock.NewTimer(h.stopTimeout)
	defer timeout.Stop()

	select {
	case <-h.done:
		slog.Info("WebSocket hub stopped gracefully")
	case <-timeout.Chan():
		slog.Warn("WebSocket hub stop timeout exceeded", "timeout", h.stopTimeout)
	}
}

func (h *Hub) send(cmd hubCmd) bool {
	if h.stopped() {
		return false
	}
	select {
	case h.cmdCh <- cmd:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) stopped() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

func (h *Hub) run() {
	defer close(h.done)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("WebSocket hub panic recovered", "panic", r)
			h.closeAll("hub panic")
		}
	}()

	for cmd := range h.cmdCh {
		switch c := cmd.(type) {
		case subscribeCmd:
			h.handleSubscribe(c)
		case snapshotCmd:
			if writer, ok := h.subscriptions[c.question][c.connection]; ok {
				writer.prime(c.data)
			}
		case unsubscribeCmd:
			h.handleUnsubscribe(c.question, c.connection)
		case broadcastCmd:
			h.handleBroadcast(c)
		case countCmd:
			c.replyChannel <- len(h.subscriptions[c.question])
		case stopCmd:
			h.handleStop()
			return
		default:
			slog.Warn("WebSocket hub received unknown command", "command_type", fmt.Sprintf("%T", cmd))
		}
	}
}

func (h *Hub) handleSubscribe(c subscribeCmd) {
	if h.maxConnections > 0 && h.connections >= h.maxConnections {
		slog.Warn("Rejecting websocket client: connection limit reached", "max_connections", h.maxConnections)
		if h.metrics != nil {
			h.metrics.ConnectionsRefused.Inc()
		}
		c.errorChannel <- ErrTooManyConnections
		return
	}

	subs, exists := h.subscriptions[c.question]
	if !exists {
		subs = make(subscribers)
		h.subscriptions[c.question] = subs
	}

	subs[c.connection] = newClientWriter(c.connection, h.clock)
	h.connections++
	if h.metrics != nil {
		h.metrics.ActiveConnections.Inc()
		h.metrics.WatchedQuestions.Set(float64(len(h.subscriptions)))
	}

	slog.Debug("Client subscribed", "question", c.question, "subscribers", len(subs))
	c.errorChannel <- nil
}

func (h *Hub) handleUnsubscribe(question string, conn *websocket.Conn) {
	subs, exists := h.subscriptions[question]
	if !exists {
		return
	}
	cw, exists := subs[conn]
	if !exists {
		return
	}

	cw.stop()
	delete(subs, conn)
	h.connections--
	if h.metrics != nil {
		h.metrics.ActiveConnections.Dec()
	}

	if len(subs) == 0 {
		delete(h.subscriptions, question)
	}
	if h.metrics != nil {
		h.metrics.WatchedQuestions.Set(float64(len(h.subscriptions)))
	}
	slog.Debug("Client unsubscribed", "question", question, "remaining", len(subs))
}

func (h *Hub) handleBroadcast(c broadcastCmd) {
	subs := h.subscriptions[c.question]
	if len(subs) == 0 {
		return
	}

	var slow []*websocket.Conn
	for conn, writer := range subs {
		if !writer.enqueue(c.data) {
			slow = append(slow, conn)
		}
	}

	for _, conn := range slow {
		slog.Warn("Disconnecting slow websocket client", "question", c.question)
		if h.metrics != nil {
			h.metrics.SlowClientsEvicted.Inc()
		}
		h.handleUnsubscribe(c.question, conn)
	}

	if h.metrics != nil {
		h.metrics.MessagesPublished.Inc()
	}
}

func (h *Hub) handleStop() {
	slog.Info("WebSocket hub shutting down", "questions", len(h.subscriptions), "connections", h.connections)
	h.closeAll("server shutting down")
}

func (h *Hub) closeAll(reason string) {
	for question, subs := range h.subscriptions {
		for _, cw := range subs {
			cw.stopGraceful(reason)
		}
		delete(h.subscriptions, question)
	}
	if h.metrics != nil {
		h.metrics.ActiveConnections.Sub(float64(h.connections))
		h.metrics.WatchedQuestions.Set(0)
	}
	h.connections = 0
}
