package httpserver

import (
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pscheid92/pollbook/internal/domain"
	"github.com/pscheid92/pollbook/internal/msg"
	apperrors "github.com/pscheid92/pollbook/internal/platform/errors"
)

func (s *Server) registerAPIRoutes() {
	api := s.echo.Group("/api",
		middleware.BodyLimit(maxBodySize),
		newRateLimiter(s.config.RateLimitPerSecond, s.config.RateLimitBurst),
	)

	api.POST("/instantiate", s.handleInstantiate)
	api.POST("/execute", s.handleExecute)
	api.POST("/query", s.handleQuery)

	api.POST("/polls", s.handleCreatePoll)
	api.POST("/polls/vote", s.handleVote)
	api.GET("/polls", s.handleGetPoll)
	api.GET("/config", s.handleGetConfig)
	api.GET("/contract", s.handleGetContractInfo)
}

func readBody(c echo.Context) ([]byte, error) {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, apperrors.ValidationError("failed to read request body")
	}
	return body, nil
}

func (s *Server) handleInstantiate(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}
	m, err := msg.DecodeInstantiate(body)
	if err != nil {
		return err
	}

	resp, err := s.app.Instantiate(c.Request().Context(), m)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, resp)
}

func (s *Server) handleExecute(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}
	cmd, err := msg.DecodeExecute(body)
	if err != nil {
		return err
	}

	resp, err := s.app.Execute(c.Request().Context(), cmd)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, resp)
}

func (s *Server) handleQuery(c echo.Context) error {
	body, err := readBody(c)
	if err != nil {
		return err
	}
	q, err := msg.DecodeQuery(body)
	if err != nil {
		return err
	}

	result, err := s.app.Query(c.Request().Context(), q)
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, result)
}

type createPollRequest struct {
	Question string `json:"question"`
}

type voteRequest struct {
	Question string `json:"question"`
	Choice   string `json:"choice"`
}

func (s *Server) handleCreatePoll(c echo.Context) error {
	var req createPollRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	resp, err := s.app.Execute(c.Request().Context(), domain.CreatePoll{Question: req.Question})
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusCreated, resp)
}

func (s *Server) handleVote(c echo.Context) error {
	var req voteRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}

	resp, err := s.app.Execute(c.Request().Context(), domain.Vote{Question: req.Question, Choice: req.Choice})
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, resp)
}

// handleGetPoll answers {"poll":null} for an unknown question, the same as
// the get_poll query.
func (s *Server) handleGetPoll(c echo.Context) error {
	question, ok := c.QueryParams()["question"]
	if !ok || len(question) == 0 {
		return apperrors.ValidationError("question parameter is required")
	}

	poll, err := s.app.GetPoll(c.Request().Context(), question[0])
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, domain.GetPollResponse{Poll: poll})
}

func (s *Server) handleGetConfig(c echo.Context) error {
	cfg, err := s.app.GetConfig(c.Request().Context())
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, cfg)
}

func (s *Server) handleGetContractInfo(c echo.Context) error {
	info, err := s.app.ContractInfo(c.Request().Context())
	if err != nil {
		return err
	}
	return writeJSON(c, http.StatusOK, info)
}

func writeJSON(c echo.Context, status int, v any) error {
	if err := c.JSON(status, v); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
