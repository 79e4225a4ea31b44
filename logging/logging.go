package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup builds the process logger and installs it as the slog default.
// format is "text" or "json"; level is one of debug, info, warn, error.
func Setup(level, format string) (*slog.Logger, error) {
	return New(os.Stderr, level, format)
}

func New(w io.Writer, level, format string) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		return nil, fmt.Errorf("unknown log format %q (supported: text, json)", format)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger, nil
}

func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
}
