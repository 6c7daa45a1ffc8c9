package slogutil

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// Silent is a level above every standard level.
const Silent = slog.Level(100)

// Format selects the record encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// NewLogger creates a logger using the text handler.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(NewHandler(w, &slog.HandlerOptions{Level: level}))
}

// New creates a logger for the given format. Unknown formats fall back to text.
func New(w io.Writer, format Format, level slog.Level) *slog.Logger {
	if Format(strings.ToLower(string(format))) == FormatJSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	}
	return NewLogger(w, level)
}

// NewDiscardLogger creates a logger that drops everything.
func NewDiscardLogger() *slog.Logger {
	return slog.New(NewHandler(io.Discard, &slog.HandlerOptions{Level: Silent}))
}

// LevelFromString converts debug, info, warn or error (any case) to a level.
// Unrecognized strings give info.
func LevelFromString(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// LevelFromVerbosity maps -v counts to a level: none is warn, -v is info,
// -vv and above is debug. quiet silences everything.
func LevelFromVerbosity(verbosity int, quiet bool) slog.Level {
	if quiet {
		return Silent
	}
	switch {
	case verbosity <= 0:
		return slog.LevelWarn
	case verbosity == 1:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

// TeeHandler fans records out to several handlers.
type TeeHandler struct {
	handlers []slog.Handler
}

// NewTeeHandler creates a handler writing to every handler given.
func NewTeeHandler(handlers ...slog.Handler) *TeeHandler {
	return &TeeHandler{handlers: handlers}
}

func (t *TeeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range t.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle writes to each enabled handler and returns the first error.
func (t *TeeHandler) Handle(ctx context.Context, r slog.Record) error {
	var firstErr error
	for _, h := range t.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (t *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithAttrs(attrs) })
}

func (t *TeeHandler) WithGroup(name string) slog.Handler {
	return t.each(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

func (t *TeeHandler) each(fn func(slog.Handler) slog.Handler) *TeeHandler {
	next := make([]slog.Handler, len(t.handlers))
	for i, h := range t.handlers {
		next[i] = fn(h)
	}
	return &TeeHandler{handlers: next}
}
