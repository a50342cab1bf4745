// Package errors provides structured errors that transports render to clients.
package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/pscheid92/pollbook/internal/domain"
)

// ErrorType is the category of an error, used for response formatting and
// status code mapping.
type ErrorType string

const (
	TypeValidation ErrorType = "validation"
	TypeNotFound   ErrorType = "not_found"
	TypeConflict   ErrorType = "conflict"
	TypeInternal   ErrorType = "internal"
	TypeExternal   ErrorType = "external"
)

// Error is a typed error with a client-facing message and optional context.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error type to a status code.
func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeNotFound:
		return http.StatusNotFound
	case TypeConflict:
		return http.StatusConflict
	case TypeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// LogLevel is the level transports log the error at. Client mistakes are
// routine, conflicts are worth a look, the rest needs attention.
func (e *Error) LogLevel() slog.Level {
	switch e.Type {
	case TypeValidation, TypeNotFound:
		return slog.LevelInfo
	case TypeConflict:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Cause: cause, Context: make(map[string]any)}
}

func ValidationError(message string) *Error {
	return newError(TypeValidation, message, nil)
}

func NotFoundError(message string) *Error {
	return newError(TypeNotFound, message, nil)
}

func ConflictError(message string) *Error {
	return newError(TypeConflict, message, nil)
}

func InternalError(message string, cause error) *Error {
	return newError(TypeInternal, message, cause)
}

func ExternalError(message string, cause error) *Error {
	return newError(TypeExternal, message, cause)
}

// WithField adds a context field (chainable).
func (e *Error) WithField(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ErrorResponse is the JSON body sent to clients.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{Error: e.Message, Type: e.Type, Context: e.Context}
}

// FromDomain classifies a ledger error. Domain failures keep their message so
// clients see "key already taken" or "unrecognised choice" verbatim; storage
// and unknown failures are hidden behind a generic internal error.
func FromDomain(err error) *Error {
	if err == nil {
		return nil
	}

	if structured, ok := errors.AsType[*Error](err); ok {
		return structured
	}

	switch {
	case errors.Is(err, domain.ErrInvalidAddress),
		errors.Is(err, domain.ErrInvalidChoice),
		errors.Is(err, domain.ErrMalformedMessage),
		errors.Is(err, domain.ErrUnsupportedMessage):
		e := ValidationError(err.Error())
		e.Cause = err
		return e
	case errors.Is(err, domain.ErrDuplicateKey):
		e := ConflictError(err.Error())
		e.Cause = err
		return e
	case errors.Is(err, domain.ErrNotFound):
		e := NotFoundError(err.Error())
		e.Cause = err
		return e
	case errors.Is(err, domain.ErrStorageRead), errors.Is(err, domain.ErrStorageWrite):
		return InternalError("storage failure", err)
	default:
		return InternalError("internal server error", err)
	}
}

// IsRetryable reports whether a failed invocation may succeed if repeated
// unchanged. Only storage failures qualify.
func IsRetryable(err error) bool {
	return errors.Is(err, domain.ErrStorageRead) || errors.Is(err, domain.ErrStorageWrite)
}
