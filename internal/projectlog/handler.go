package projectlog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Handler is a slog.Handler that formats each record as
// "[ISO-8601][LEVEL] message" and appends it through a Writer, which
// handles the immediately-preceding-line dedup (§6.4).
type Handler struct {
	w     *Writer
	level slog.Leveler
	attrs []slog.Attr
}

// NewHandler wraps w as a slog.Handler at the given minimum level.
func NewHandler(w *Writer, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{w: w, level: level}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(r.Time.UTC().Format(time.RFC3339))
	b.WriteString("][")
	b.WriteString(r.Level.String())
	b.WriteString("] ")
	b.WriteString(r.Message)

	for _, a := range h.attrs {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
	}
	r.Attrs(func(a slog.Attr) bool {
		fmt.Fprintf(&b, " %s=%v", a.Key, a.Value)
		return true
	})

	return h.w.WriteLine(b.String())
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &Handler{w: h.w, level: h.level, attrs: append(append([]slog.Attr(nil), h.attrs...), attrs...)}
	return next
}

func (h *Handler) WithGroup(name string) slog.Handler {
	// Groups aren't meaningful in the flat line format this log uses;
	// attributes are still carried, just ungrouped.
	return h
}
