package httpserver

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/pollbook/internal/adapter/websocket"
	apperrors "github.com/pscheid92/pollbook/internal/platform/errors"
)

func (s *Server) registerWebSocketRoutes() {
	s.echo.GET("/ws/polls", s.handlePollFeed)
}

// handlePollFeed streams the tally of one question: the current state first,
// then every committed change.
func (s *Server) handlePollFeed(c echo.Context) error {
	question, ok := c.QueryParams()["question"]
	if !ok || len(question) == 0 {
		return apperrors.ValidationError("question parameter is required")
	}
	q := question[0]

	ctx := c.Request().Context()
	ip := c.RealIP()
	if ok, reason := s.limits.acquire(ip); !ok {
		slog.WarnContext(ctx, "WebSocket connection refused", "reason", reason, "ip", ip)
		return writeJSON(c, http.StatusTooManyRequests, apperrors.ErrorResponse{
			Error: "too many connections",
			Type:  apperrors.TypeValidation,
		})
	}
	defer s.limits.release(ip)

	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		slog.WarnContext(ctx, "WebSocket upgrade failed", "error", err)
		return nil
	}

	if err := s.feed.Subscribe(q, conn); err != nil {
		if !errors.Is(err, websocket.ErrTooManyConnections) {
			slog.ErrorContext(ctx, "WebSocket subscribe failed", "error", err)
		}
		_ = conn.Close()
		return nil
	}
	defer s.feed.Unsubscribe(q, conn)

	// The tally is read only once the subscription is live, so a vote
	// committed in between arrives as an update after it.
	poll, err := s.app.GetPoll(ctx, q)
	if err != nil {
		slog.ErrorContext(ctx, "WebSocket snapshot read failed", "question", q, "error", err)
		return nil
	}
	if err := s.feed.Snapshot(q, conn, poll); err != nil {
		slog.ErrorContext(ctx, "WebSocket snapshot failed", "question", q, "error", err)
		return nil
	}

	// Reads only drive pong handling and detect disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return nil
		}
	}
}
