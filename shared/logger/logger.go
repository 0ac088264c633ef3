package logger

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// Config holds logger configuration
type Config struct {
	Level        string // debug, info, warn, error
	Format       string // json, console
	Output       string // stdout, stderr
	EnableSource bool   // Enable source code location
	TimeFormat   string // Time format for console output

	writer io.Writer // overrides Output, used by tests
}

// Logger wraps slog.Logger
type Logger struct {
	*slog.Logger
}

// New creates a new logger instance
func New(config *Config) (*Logger, error) {
	level := parseLevel(config.Level)

	var writer io.Writer
	switch {
	case config.writer != nil:
		writer = config.writer
	case config.Output == "stderr":
		writer = os.Stderr
	default:
		writer = os.Stdout
	}

	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: config.EnableSource,
	}

	switch config.Format {
	case "console":
		timeFormat := config.TimeFormat
		if timeFormat == "" {
			timeFormat = time.RFC3339
		}

		handler = tint.NewHandler(writer, &tint.Options{
			Level:      level,
			AddSource:  config.EnableSource,
			TimeFormat: timeFormat,
		})
	default:
		handler = slog.NewJSONHandler(writer, opts)
	}

	return &Logger{Logger: slog.New(handler)}, nil
}

// NewDefault creates a logger with default settings (console format, info level)
func NewDefault() *Logger {
	handler := tint.NewHandler(os.Stdout, &tint.Options{
		Level:      slog.LevelInfo,
		TimeFormat: time.TimeOnly,
	})

	return &Logger{Logger: slog.New(handler)}
}

// parseLevel converts string level to slog.Level
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With creates a new logger with additional key-value pairs
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}
