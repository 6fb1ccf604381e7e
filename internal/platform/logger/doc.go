// Package logger configures the agent's structured JSON logging.
//
// It utilizes Go's standard library log/slog package. Setup builds the
// process-wide logger from the configured level; the test helpers capture
// output for assertions on log entries.
package logger
