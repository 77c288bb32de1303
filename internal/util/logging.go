package util

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

type loggerContextKey struct{}

// InitLogger configures the global slog logger with JSON output and level.
// Accepts levels: debug, info, warn, error. Defaults to info on unknown input.
// When logsDir is set, records are also appended to <logsDir>/<service>.log;
// the returned cleanup closes that file.
func InitLogger(level, service, logsDir string) (*slog.Logger, func()) {
	var slogLevel slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stdout
	cleanup := func() {}
	if dir := strings.TrimSpace(logsDir); dir != "" {
		f, err := openLogFile(dir, service)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log file disabled: %v\n", err)
		} else {
			out = io.MultiWriter(os.Stdout, f)
			cleanup = func() { _ = f.Close() }
		}
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level:     slogLevel,
		AddSource: true,
	})
	logger := slog.New(handler)
	if service = strings.TrimSpace(service); service != "" {
		logger = logger.With("service", service)
	}
	slog.SetDefault(logger)
	return logger, cleanup
}

func openLogFile(dir, service string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(service)
	if name == "" {
		name = "app"
	}
	return os.OpenFile(filepath.Join(dir, name+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
}

// Fatal logs at error level and exits the process.
func Fatal(logger *slog.Logger, msg string, args ...any) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Error(msg, args...)
	os.Exit(1)
}

// ContextWithLogger stores a request-scoped logger.
func ContextWithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey{}, logger)
}

// LoggerFromContext returns the request-scoped logger, or the default logger.
func LoggerFromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if logger, ok := ctx.Value(loggerContextKey{}).(*slog.Logger); ok && logger != nil {
			return logger
		}
	}
	return slog.Default()
}

// ContextWithLogAttrs derives the context logger with extra attributes (e.g. user_id).
func ContextWithLogAttrs(ctx context.Context, args ...any) context.Context {
	return ContextWithLogger(ctx, LoggerFromContext(ctx).With(args...))
}
