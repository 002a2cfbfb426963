package logging

import (
	"context"
	"log/slog"

	"github.com/psg-sentry/sentry/pkg/core"
)

// ContextProvider returns attributes that are evaluated again for every
// record, unlike those bound with Logger.With.
type ContextProvider func() []slog.Attr

// TurretContext attaches the turret's commanded position to every record.
// status must not log.
func TurretContext(status func() core.TurretStatus) ContextProvider {
	return func() []slog.Attr {
		s := status()
		return []slog.Attr{
			slog.Group("turret",
				slog.Int("pan", s.Pan),
				slog.Int("tilt", s.Tilt),
				slog.Bool("firing", s.Firing),
			),
		}
	}
}

// CombineContext merges providers in order, skipping nil ones.
func CombineContext(providers ...ContextProvider) ContextProvider {
	return func() []slog.Attr {
		var attrs []slog.Attr
		for _, p := range providers {
			if p != nil {
				attrs = append(attrs, p()...)
			}
		}
		return attrs
	}
}

// contextHandler evaluates its provider for each record that passes the
// level check of the wrapped handler.
type contextHandler struct {
	next     slog.Handler
	provider ContextProvider
}

// NewContextHandler wraps next. A nil provider returns next unchanged.
func NewContextHandler(next slog.Handler, provider ContextProvider) slog.Handler {
	if provider == nil {
		return next
	}
	return &contextHandler{next: next, provider: provider}
}

func (h *contextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *contextHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(h.provider()...)
	return h.next.Handle(ctx, r)
}

func (h *contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &contextHandler{next: h.next.WithAttrs(attrs), provider: h.provider}
}

func (h *contextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &contextHandler{next: h.next.WithGroup(name), provider: h.provider}
}
