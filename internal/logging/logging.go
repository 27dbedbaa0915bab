// Package logging sets up the process-wide slog.Logger used by every other
// package in this module. No package keeps its own package-level logger;
// callers are handed a *slog.Logger explicitly at construction time.
package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Options controls handler selection.
type Options struct {
	Level  string // debug|info|warn|error
	Format string // json|text
}

// New builds a *slog.Logger writing to stderr per opts.
func New(opts Options) *slog.Logger {
	level := parseLevel(opts.Level)
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	}
	return slog.New(handler)
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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
