package httpserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/pollbook/internal/domain"
	"github.com/pscheid92/pollbook/internal/platform/config"
)

// --- Mock implementations ---

type mockAppService struct {
	instantiateFn  func(ctx context.Context, m domain.InstantiateMsg) (*domain.Response, error)
	executeFn      func(ctx context.Context, cmd domain.Command) (*domain.Response, error)
	queryFn        func(ctx context.Context, q domain.Query) (any, error)
	getPollFn      func(ctx context.Context, question string) (*domain.Poll, error)
	getConfigFn    func(ctx context.Context) (domain.Config, error)
	contractInfoFn func(ctx context.Context) (domain.ContractInfo, error)
}

func (m *mockAppService) Instantiate(ctx context.Context, msg domain.InstantiateMsg) (*domain.Response, error) {
	if m.instantiateFn != nil {
		return m.instantiateFn(ctx, msg)
	}
	return domain.NewActionResponse(domain.ActionInstantiate), nil
}

func (m *mockAppService) Execute(ctx context.Context, cmd domain.Command) (*domain.Response, error) {
	if m.executeFn != nil {
		return m.executeFn(ctx, cmd)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAppService) Query(ctx context.Context, q domain.Query) (any, error) {
	if m.queryFn != nil {
		return m.queryFn(ctx, q)
	}
	return nil, errors.New("not implemented")
}

func (m *mockAppService) GetPoll(ctx context.Context, question string) (*domain.Poll, error) {
	if m.getPollFn != nil {
		return m.getPollFn(ctx, question)
	}
	return nil, nil
}

func (m *mockAppService) GetConfig(ctx context.Context) (domain.Config, error) {
	if m.getConfigFn != nil {
		return m.getConfigFn(ctx)
	}
	return domain.Config{}, domain.ErrConfigNotFound
}

func (m *mockAppService) ContractInfo(ctx context.Context) (domain.ContractInfo, error) {
	if m.contractInfoFn != nil {
		return m.contractInfoFn(ctx)
	}
	return domain.ContractInfo{}, domain.ErrNotFound
}

func (m *mockAppService) Uptime() time.Duration {
	return 90 * time.Second
}

// --- Test helpers ---

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:             "test",
		AppURL:             "http://localhost:8080",
		Port:               "0",
		RateLimitPerSecond: 1000,
		RateLimitBurst:     1000,

		MaxWebSocketConnectionsPerIP: 100,
		WebSocketConnectRate:         1000,
	}
}

func newTestServer(t *testing.T, app appService, opts ...func(*Server)) *Server {
	t.Helper()

	srv := NewServer(testConfig(), app, nil, nil, nil, nil)
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

func withHealthChecks(checks ...HealthCheck) func(*Server) {
	return func(s *Server) {
		s.healthChecks = checks
	}
}

// callHandler wraps a handler with error middleware, matching production behavior
func callHandler(handler echo.HandlerFunc, c echo.Context) error {
	return ErrorHandlingMiddleware()(handler)(c)
}

// do sends a request through the full router.
func do(srv *Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	return rec
}
