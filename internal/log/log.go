package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Logging defaults, also used by the configuration loader so there is
// a single source for them.
const (
	DefaultLevel     = "info"
	DefaultMaxSizeMB = 10
	DefaultMaxFiles  = 5
)

// Config mirrors the [logging] table of the configuration file.
type Config struct {
	Level     string
	File      string
	MaxSizeMB int
	MaxFiles  int
}

// Setup builds the process logger. Without a file it logs text to
// stderr; with a file it logs JSON through a rotating writer. The
// returned closer releases the rotating writer when one was opened.
func Setup(cfg Config) (*slog.Logger, func() error, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, nil, err
	}

	closer := func() error { return nil }
	var handler slog.Handler
	if cfg.File != "" {
		writer, err := newRotatingWriter(cfg)
		if err != nil {
			return nil, nil, err
		}
		closer = writer.Close
		handler = slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	return slog.New(handler), closer, nil
}

// Discard returns a logger that drops every record. Used by tests and
// as a fallback before configuration is loaded.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRotatingWriter(cfg Config) (*lumberjack.Logger, error) {
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = DefaultMaxSizeMB
	}
	if cfg.MaxFiles <= 0 {
		cfg.MaxFiles = DefaultMaxFiles
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0o700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxFiles,
	}, nil
}

func parseLevel(raw string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unsupported log level %q", raw)
	}
}
