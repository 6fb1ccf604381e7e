package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup initializes the agent's logging system from the configured level.
// It creates a structured JSON logger writing to stdout and sets it as the
// default logger for the process.
//
// An unrecognised level falls back to info and emits a warning through the
// returned logger.
func Setup(level string) (*slog.Logger, error) {
	return SetupWithWriter(level, os.Stdout)
}

// SetupWithWriter behaves like Setup but writes to w.
func SetupWithWriter(level string, w io.Writer) (*slog.Logger, error) {
	parsed, ok := ParseLevel(level)

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parsed,
	})
	logger := slog.New(handler)

	if !ok {
		logger.Warn("invalid log level configured, using default level",
			"configured_level", level,
			"default_level", "info")
	}

	// Allows the slog package functions to be used directly
	slog.SetDefault(logger)

	return logger, nil
}

// ParseLevel maps a case-insensitive level name to a slog.Level.
// The second result is false when the name is not recognised, in which case
// slog.LevelInfo is returned.
func ParseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}
