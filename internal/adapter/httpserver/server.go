package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	gorillaws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/pscheid92/pollbook/internal/adapter/metrics"
	"github.com/pscheid92/pollbook/internal/adapter/websocket"
	"github.com/pscheid92/pollbook/internal/domain"
	"github.com/pscheid92/pollbook/internal/platform/config"
)

type appService interface {
	Instantiate(ctx context.Context, m domain.InstantiateMsg) (*domain.Response, error)
	Execute(ctx context.Context, cmd domain.Command) (*domain.Response, error)
	Query(ctx context.Context, q domain.Query) (any, error)
	GetPoll(ctx context.Context, question string) (*domain.Poll, error)
	GetConfig(ctx context.Context) (domain.Config, error)
	ContractInfo(ctx context.Context) (domain.ContractInfo, error)
	Uptime() time.Duration
}

// pollFeed delivers live tallies to websocket subscribers.
type pollFeed interface {
	Subscribe(question string, conn *gorillaws.Conn) error
	Snapshot(question string, conn *gorillaws.Conn, poll *domain.Poll) error
	Unsubscribe(question string, conn *gorillaws.Conn)
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	app      appService
	feed     pollFeed
	upgrader gorillaws.Upgrader
	limits   *connectionLimits

	httpMetrics    *metrics.HTTPMetrics
	metricsHandler http.Handler
	healthChecks   []HealthCheck
}

func NewServer(cfg *config.Config, app appService, feed pollFeed, httpMetrics *metrics.HTTPMetrics, metricsHandler http.Handler, healthChecks []HealthCheck) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	srv := &Server{
		echo:   e,
		config: cfg,
		app:    app,
		feed:   feed,
		upgrader: gorillaws.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     websocket.NewOriginPolicy(cfg.AppURL, cfg.IsDevelopment(), cfg.ExtraOrigins()...).CheckOrigin,
		},
		limits:         newConnectionLimits(clockwork.NewRealClock(), cfg.MaxWebSocketConnectionsPerIP, cfg.WebSocketConnectRate),
		httpMetrics:    httpMetrics,
		metricsHandler: metricsHandler,
		healthChecks:   healthChecks,
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting HTTP server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

// ServeHTTP exposes the router, mainly for tests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
