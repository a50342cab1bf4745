package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
)

const (
	writeTimeout  = 5 * time.Second
	pingEvery     = 30 * time.Second
	readIdleLimit = 60 * time.Second
	// Pending tally updates per client before it counts as slow.
	outboxSize = 16
)

// clientWriter is the only goroutine writing to its connection. The hub hands
// it encoded tallies through outbox. Nothing leaves outbox before the
// snapshot passed to prime has been written.
type clientWriter struct {
	conn     *websocket.Conn
	clock    clockwork.Clock
	snapshot chan []byte
	outbox   chan []byte
	done     chan struct{}
	once     sync.Once
	primed   sync.Once
	exited   sync.WaitGroup
}

func newClientWriter(conn *websocket.Conn, clock clockwork.Clock) *clientWriter {
	w := &clientWriter{
		conn:     conn,
		clock:    clock,
		snapshot: make(chan []byte, 1),
		outbox:   make(chan []byte, outboxSize),
		done:     make(chan struct{}),
	}

	// Any pong extends the read deadline; the handler's read loop then
	// notices dead peers.
	w.extendRead()
	conn.SetPongHandler(func(string) error {
		w.extendRead()
		return nil
	})

	w.exited.Go(w.loop)
	return w
}

func (w *clientWriter) loop() {
	select {
	case <-w.done:
		return
	case payload := <-w.snapshot:
		if err := w.write(websocket.TextMessage, payload); err != nil {
			return
		}
	}

	ping := w.clock.NewTicker(pingEvery)
	defer ping.Stop()

	for {
		var (
			kind    int
			payload []byte
		)
		select {
		case <-w.done:
			return
		case payload = <-w.outbox:
			kind = websocket.TextMessage
		case <-ping.Chan():
			kind = websocket.PingMessage
		}

		if err := w.write(kind, payload); err != nil {
			return
		}
	}
}

func (w *clientWriter) write(kind int, payload []byte) error {
	_ = w.conn.SetWriteDeadline(w.clock.Now().Add(writeTimeout))
	return w.conn.WriteMessage(kind, payload)
}

func (w *clientWriter) extendRead() {
	_ = w.conn.SetReadDeadline(w.clock.Now().Add(readIdleLimit))
}

// prime releases the writer with payload as its first frame. Later calls
// are ignored.
func (w *clientWriter) prime(payload []byte) {
	w.primed.Do(func() { w.snapshot <- payload })
}

// enqueue never blocks the hub; false means the outbox is full.
func (w *clientWriter) enqueue(payload []byte) bool {
	select {
	case w.outbox <- payload:
		return true
	default:
		return false
	}
}

// stop drops the connection without a close frame.
func (w *clientWriter) stop() {
	w.close(nil)
}

// stopGraceful tells the peer why before closing.
func (w *clientWriter) stopGraceful(reason string) {
	frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	w.close(frame)
}

func (w *clientWriter) close(frame []byte) {
	w.once.Do(func() {
		close(w.done)
		if frame == nil {
			// Closing first unblocks a loop stuck writing to a slow peer.
			_ = w.conn.Close()
			w.exited.Wait()
			return
		}
		// gorilla allows a single concurrent writer, so the loop has to be
		// gone before the close frame goes out.
		w.exited.Wait()
		_ = w.write(websocket.CloseMessage, frame)
		_ = w.conn.Close()
	})
}
