// Package logger builds the process-wide structured logger. Everything
// below the facade receives a *slog.Logger by injection; nothing logs
// through the slog default.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// New creates the root logger. The returned closer flushes and closes a
// file destination; for stdout/stderr it is a no-op.
func New(level, format, output string) (*slog.Logger, func() error, error) {
	var writer io.Writer
	closer := func() error { return nil }

	switch strings.ToLower(output) {
	case "stderr", "":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, nil, fmt.Errorf("open log output: %w", err)
		}
		writer = f
		closer = f.Close
	}

	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(writer, opts)), closer, nil
	}
	return slog.New(slog.NewTextHandler(writer, opts)), closer, nil
}

// Discard returns a logger that drops everything. Used in tests and as a
// fallback when no logger is injected.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
