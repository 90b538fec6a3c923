package logging

import (
	"context"
	"log/slog"

	"github.com/bzfsd/bzfsd/internal/match"
)

// ContextProvider returns attributes evaluated at log time.
type ContextProvider func() []slog.Attr

// ContextHandler appends the provider's attributes to every record.
type ContextHandler struct {
	inner    slog.Handler
	provider ContextProvider
}

func NewContextHandler(inner slog.Handler, provider ContextProvider) *ContextHandler {
	return &ContextHandler{inner: inner, provider: provider}
}

func (h *ContextHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.provider != nil {
		r.AddAttrs(h.provider()...)
	}
	return h.inner.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{inner: h.inner.WithAttrs(attrs), provider: h.provider}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &ContextHandler{inner: h.inner.WithGroup(name), provider: h.provider}
}

// MatchAttrs tags records with the running match and its player count.
// Nothing is added while no match has started.
func MatchAttrs(mc *match.Context) ContextProvider {
	return func() []slog.Attr {
		info := mc.Current()
		if info.Started.IsZero() {
			return nil
		}
		return []slog.Attr{
			slog.String("match", info.ID.String()),
			slog.Int("players", mc.Players()),
		}
	}
}
