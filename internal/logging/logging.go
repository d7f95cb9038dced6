// Package logging configures the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Init installs the default slog logger. Level and format come from
// NUDGEBOT_LOG_LEVEL (debug|info|warn|error) and NUDGEBOT_LOG_FORMAT (text|json).
func Init() *slog.Logger {
	return InitWriter(os.Stdout)
}

// InitWriter is Init with an explicit sink.
func InitWriter(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: levelFromEnv()}
	var handler slog.Handler
	if strings.EqualFold(os.Getenv("NUDGEBOT_LOG_FORMAT"), "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func levelFromEnv() slog.Level {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("NUDGEBOT_LOG_LEVEL"))) {
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
