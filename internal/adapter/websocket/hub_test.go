package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/pollbook/internal/adapter/metrics"
	"github.com/pscheid92/pollbook/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testHub starts a hub behind a test server. The snapshot for every
// subscription comes from polls.
func testHub(t *testing.T, maxConnections int, polls map[string]*domain.Poll) (*Hub, *metrics.WebSocketMetrics, func(question string) *ws.Conn) {
	t.Helper()

	m := metrics.NewWebSocketMetrics(prometheus.NewRegistry())
	hub := NewHub(clockwork.NewRealClock(), maxConnections, m)
	t.Cleanup(hub.Stop)

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		question := r.URL.Query().Get("question")
		if err := hub.Subscribe(question, conn); err != nil {
			_ = conn.Close()
			return
		}
		if err := hub.Snapshot(question, conn, polls[question]); err != nil {
			t.Errorf("snapshot failed: %v", err)
		}

		go func() {
			defer hub.Unsubscribe(question, conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(server.Close)

	dial := func(question string) *ws.Conn {
		t.Helper()
		url := "ws" + strings.TrimPrefix(server.URL, "http") + "?question=" + question
		conn, _, err := ws.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { _ = conn.Close() })
		return conn
	}

	return hub, m, dial
}

func waitForSubscribers(h *Hub, question string, expected int) bool {
	for range 200 {
		if h.SubscriberCount(question) == expected {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func readTally(t *testing.T, conn *ws.Conn) TallyUpdate {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var update TallyUpdate
	require.NoError(t, json.Unmarshal(data, &update))
	return update
}

func TestNewTallyUpdate(t *testing.T) {
	assert.Equal(t, TallyUpdate{Question: "q"}, NewTallyUpdate("q", nil))
	assert.Equal(t,
		TallyUpdate{Question: "q", Exists: true, YesVotes: 2, NoVotes: 1, Total: 3},
		NewTallyUpdate("q", &domain.Poll{Question: "q", YesVotes: 2, NoVotes: 1}))
}

func TestHub_InitialTallyThenUpdates(t *testing.T) {
	polls := map[string]*domain.Poll{"q": {Question: "q", YesVotes: 1}}
	hub, m, dial := testHub(t, 0, polls)

	conn := dial("q")
	require.True(t, waitForSubscribers(hub, "q", 1))

	initial := readTally(t, conn)
	assert.Equal(t, TallyUpdate{Question: "q", Exists: true, YesVotes: 1, Total: 1}, initial)

	err := hub.Publish(context.Background(), domain.Event{
		Type:     domain.EventVoteCast,
		Question: "q",
		Poll:     &domain.Poll{Question: "q", YesVotes: 1, NoVotes: 1},
	})
	require.NoError(t, err)

	update := readTally(t, conn)
	assert.Equal(t, uint64(1), update.NoVotes)
	assert.Equal(t, uint64(2), update.Total)

	assert.InDelta(t, 1.0, testutil.ToFloat64(m.ActiveConnections), 0.001)
}

func TestHub_UpdatesPublishedBeforeSnapshotFollowIt(t *testing.T) {
	hub := NewHub(clockwork.NewRealClock(), 0, nil)
	t.Cleanup(hub.Stop)

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		if err := hub.Subscribe("q", conn); err != nil {
			_ = conn.Close()
			return
		}

		// A vote commits after the subscription but before the tally read.
		assert.NoError(t, hub.Publish(context.Background(), domain.Event{
			Type: domain.EventVoteCast, Question: "q", Poll: &domain.Poll{Question: "q", YesVotes: 1},
		}))
		assert.NoError(t, hub.Snapshot("q", conn, &domain.Poll{Question: "q"}))
	}))
	t.Cleanup(server.Close)

	conn, _, err := ws.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	assert.Equal(t, TallyUpdate{Question: "q", Exists: true}, readTally(t, conn))
	assert.Equal(t, TallyUpdate{Question: "q", Exists: true, YesVotes: 1, Total: 1}, readTally(t, conn))
}

func TestHub_SnapshotForUnknownConnectionIsIgnored(t *testing.T) {
	hub, _, _ := testHub(t, 0, nil)
	require.NoError(t, hub.Snapshot("q", &ws.Conn{}, nil))
	assert.Equal(t, 0, hub.SubscriberCount("q"))
}

func TestHub_UnknownPollInitialTally(t *testing.T) {
	hub, _, dial := testHub(t, 0, nil)

	conn := dial("missing")
	require.True(t, waitForSubscribers(hub, "missing", 1))

	assert.Equal(t, TallyUpdate{Question: "missing"}, readTally(t, conn))
}

func TestHub_UpdatesOnlyReachMatchingQuestion(t *testing.T) {
	hub, _, dial := testHub(t, 0, nil)

	a := dial("a")
	b := dial("b")
	require.True(t, waitForSubscribers(hub, "a", 1))
	require.True(t, waitForSubscribers(hub, "b", 1))
	readTally(t, a)
	readTally(t, b)

	require.NoError(t, hub.Publish(context.Background(), domain.Event{
		Type: domain.EventPollCreated, Question: "a", Poll: &domain.Poll{Question: "a"},
	}))
	assert.Equal(t, "a", readTally(t, a).Question)

	require.NoError(t, b.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := b.ReadMessage()
	require.Error(t, err, "subscriber of b must not receive updates for a")
}

func TestHub_PublishWithoutPollIsIgnored(t *testing.T) {
	hub, _, _ := testHub(t, 0, nil)
	require.NoError(t, hub.Publish(context.Background(), domain.Event{Type: domain.EventInstantiated}))
}

func TestHub_ConnectionLimit(t *testing.T) {
	hub, m, dial := testHub(t, 1, nil)

	dial("q")
	require.True(t, waitForSubscribers(hub, "q", 1))

	second := dial("q")
	require.NoError(t, second.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := second.ReadMessage()
	require.Error(t, err, "connection over the limit should be closed")
	assert.Equal(t, 1, hub.SubscriberCount("q"))
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.ConnectionsRefused), 0.001)
}

func TestHub_UnsubscribeOnDisconnect(t *testing.T) {
	hub, m, dial := testHub(t, 0, nil)

	conn := dial("q")
	require.True(t, waitForSubscribers(hub, "q", 1))
	assert.InDelta(t, 1.0, testutil.ToFloat64(m.WatchedQuestions), 0.001)

	require.NoError(t, conn.Close())
	require.True(t, waitForSubscribers(hub, "q", 0))
	assert.InDelta(t, 0.0, testutil.ToFloat64(m.ActiveConnections), 0.001)
	assert.InDelta(t, 0.0, testutil.ToFloat64(m.WatchedQuestions), 0.001)
}

func TestHub_SlowClientEvicted(t *testing.T) {
	hub, m, dial := testHub(t, 0, nil)

	dial("q") // never reads
	require.True(t, waitForSubscribers(hub, "q", 1))

	big := &domain.Poll{Question: "q" + strings.Repeat("x", 64*1024)}
	for range outboxSize * 64 {
		_ = hub.Publish(context.Background(), domain.Event{Question: "q", Poll: big})
		if hub.SubscriberCount("q") == 0 {
			break
		}
	}

	require.True(t, waitForSubscribers(hub, "q", 0))
	assert.GreaterOrEqual(t, testutil.ToFloat64(m.SlowClientsEvicted), 1.0)
}

func TestHub_StopClosesClients(t *testing.T) {
	hub, _, dial := testHub(t, 0, nil)

	conn := dial("q")
	require.True(t, waitForSubscribers(hub, "q", 1))
	readTally(t, conn)

	hub.Stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	var closeErr *ws.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, ws.CloseNormalClosure, closeErr.Code)

	assert.Equal(t, -1, hub.SubscriberCount("q"))
	require.ErrorIs(t, hub.Publish(context.Background(), domain.Event{Question: "q", Poll: &domain.Poll{}}), ErrHubStopped)
}
