package correlation

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
)

// HeaderName carries the correlation ID on HTTP requests, gRPC metadata and
// AMQP deliveries.
const HeaderName = "X-Correlation-ID"

type contextKey struct{}

// maxIncomingLength bounds IDs adopted from callers.
const maxIncomingLength = 64

// NewID returns an 8-character hex correlation ID.
func NewID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:4])
}

// valid accepts IDs made of letters, digits, '-', '_' and '.' only, so a
// caller cannot smuggle control characters into log lines.
func valid(id string) bool {
	if id == "" || len(id) > maxIncomingLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}

func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// ID extracts the correlation ID from ctx, returning ("", false) if not present.
func ID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKey{}).(string)
	return id, ok && id != ""
}

// Ensure returns ctx carrying a correlation ID. A well-formed incoming ID
// wins, then the one already in ctx, then a fresh one.
func Ensure(ctx context.Context, incoming string) (context.Context, string) {
	if valid(incoming) {
		return WithID(ctx, incoming), incoming
	}
	if id, ok := ID(ctx); ok {
		return ctx, id
	}
	id := NewID()
	return WithID(ctx, id), id
}

// Handler wraps a slog.Handler and adds a "correlation_id" attribute when the
// record's context carries one.
type Handler struct {
	inner slog.Handler
}

func NewHandler(inner slog.Handler) *Handler {
	return &Handler{inner: inner}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if id, ok := ID(ctx); ok {
		r.AddAttrs(slog.String("correlation_id", id))
	}
	if err := h.inner.Handle(ctx, r); err != nil {
		return fmt.Errorf("correlation handler: %w", err)
	}
	return nil
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{inner: h.inner.WithAttrs(attrs)}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name)}
}
