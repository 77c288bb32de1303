package util

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInitLoggerWritesServiceLogFile(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	dir := t.TempDir()
	logger, cleanup := InitLogger("debug", "chat", dir)
	logger.Debug("hello", "k", "v")
	cleanup()

	data, err := os.ReadFile(filepath.Join(dir, "chat.log"))
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, `"msg":"hello"`) || !strings.Contains(line, `"service":"chat"`) {
		t.Fatalf("unexpected log line %s", line)
	}
}

func TestInitLoggerLevels(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger, cleanup := InitLogger("WARN", "chat", "")
	defer cleanup()
	if logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Fatalf("info should be disabled at warn level")
	}
	if !logger.Enabled(context.Background(), slog.LevelWarn) {
		t.Fatalf("warn should be enabled")
	}
}
