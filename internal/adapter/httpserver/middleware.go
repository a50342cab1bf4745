package httpserver

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/pollbook/internal/platform/correlation"
	apperrors "github.com/pscheid92/pollbook/internal/platform/errors"
)

// correlationMiddleware adopts the caller's X-Correlation-ID or mints one,
// and echoes it on the response.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, id := correlation.Ensure(c.Request().Context(), c.Request().Header.Get(correlation.HeaderName))
		c.SetRequest(c.Request().WithContext(ctx))
		c.Response().Header().Set(correlation.HeaderName, id)
		return next(c)
	}
}

func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			if _, ok := errors.AsType[*echo.HTTPError](err); ok {
				return err
			}

			return HandleError(c, err)
		}
	}
}

func HandleError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}

	structuredErr := apperrors.FromDomain(err)
	logError(c, structuredErr)
	if err := c.JSON(structuredErr.HTTPStatus(), structuredErr.ToResponse()); err != nil {
		return fmt.Errorf("failed to write error response: %w", err)
	}
	return nil
}

func logError(c echo.Context, err *apperrors.Error) {
	req := c.Request()
	attrs := []slog.Attr{
		slog.String("error_type", string(err.Type)),
		slog.String("message", err.Message),
		slog.String("method", req.Method),
		slog.String("path", req.URL.Path),
		slog.Int("status", err.HTTPStatus()),
	}
	for k, v := range err.Context {
		attrs = append(attrs, slog.Any(k, v))
	}
	if err.Cause != nil && err.LogLevel() >= slog.LevelError {
		attrs = append(attrs, slog.Any("cause", err.Cause))
	}

	slog.LogAttrs(req.Context(), err.LogLevel(), "Request failed", attrs...)
}
