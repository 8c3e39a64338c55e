package core

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
)

// Logger provides structured logging capabilities.
// Implementations must never write to stdout: in a stdio worker stdout is the
// protocol channel and any stray byte corrupts the parent's view of a reply.
type Logger interface {
	// Error logs an error message
	Error(args ...interface{})

	// Errorf logs a formatted error message
	Errorf(format string, args ...interface{})

	// Warn logs a warning message
	Warn(args ...interface{})

	// Warnf logs a formatted warning message
	Warnf(format string, args ...interface{})

	// Info logs an informational message
	Info(args ...interface{})

	// Infof logs a formatted informational message
	Infof(format string, args ...interface{})

	// Debug logs a debug message
	Debug(args ...interface{})

	// Debugf logs a formatted debug message
	Debugf(format string, args ...interface{})

	// WithFields returns a logger that attaches fields to every entry
	WithFields(fields map[string]interface{}) Logger

	// WithContext returns a logger carrying the session and message IDs found in ctx
	WithContext(ctx context.Context) Logger
}

// LoggerConfig configures NewLogger.
type LoggerConfig struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Format is text or json. Empty means text.
	Format string
	// Output defaults to os.Stderr.
	Output io.Writer
}

// slogLogger implements Logger on top of log/slog handlers.
type slogLogger struct {
	l *slog.Logger
}

// NewLogger creates a logger from cfg.
func NewLogger(cfg LoggerConfig) (Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "", "text":
		h = slog.NewTextHandler(out, opts)
	case "json":
		h = slog.NewJSONHandler(out, opts)
	default:
		return nil, fmt.Errorf("unknown log format: %s", cfg.Format)
	}

	return &slogLogger{l: slog.New(h)}, nil
}

// NewDefaultLogger creates a text logger at info level writing to stderr.
func NewDefaultLogger() Logger {
	return &slogLogger{l: slog.New(slog.NewTextHandler(os.Stderr, nil))}
}

// NewJSONLogger creates a JSON logger at info level writing to stderr.
func NewJSONLogger() Logger {
	return &slogLogger{l: slog.New(slog.NewJSONHandler(os.Stderr, nil))}
}

// NewNopLogger discards everything. Handy in tests.
func NewNopLogger() Logger {
	return &slogLogger{l: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", level)
	}
}

func (l *slogLogger) Error(args ...interface{}) {
	l.l.Error(fmt.Sprint(args...))
}

func (l *slogLogger) Errorf(format string, args ...interface{}) {
	l.l.Error(fmt.Sprintf(format, args...))
}

func (l *slogLogger) Warn(args ...interface{}) {
	l.l.Warn(fmt.Sprint(args...))
}

func (l *slogLogger) Warnf(format string, args ...interface{}) {
	l.l.Warn(fmt.Sprintf(format, args...))
}

func (l *slogLogger) Info(args ...interface{}) {
	l.l.Info(fmt.Sprint(args...))
}

func (l *slogLogger) Infof(format string, args ...interface{}) {
	l.l.Info(fmt.Sprintf(format, args...))
}

func (l *slogLogger) Debug(args ...interface{}) {
	l.l.Debug(fmt.Sprint(args...))
}

func (l *slogLogger) Debugf(format string, args ...interface{}) {
	l.l.Debug(fmt.Sprintf(format, args...))
}

func (l *slogLogger) WithFields(fields map[string]interface{}) Logger {
	if len(fields) == 0 {
		return l
	}

	// Sorted so entries are stable across runs.
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		args = append(args, k, fields[k])
	}
	return &slogLogger{l: l.l.With(args...)}
}

func (l *slogLogger) WithContext(ctx context.Context) Logger {
	if ctx == nil {
		return l
	}
	fields := make(map[string]interface{}, 3)
	if id := GetSessionID(ctx); id != "" {
		fields["session_id"] = id
	}
	if id := GetMessageID(ctx); id != "" {
		fields["message_id"] = id
	}
	if id := GetRequestID(ctx); id != "" {
		fields["request_id"] = id
	}
	return l.WithFields(fields)
}
