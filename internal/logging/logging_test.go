package logging

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func TestNew_DefaultsToStderrTextHandler(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if logger == nil {
		t.Fatal("expected a non-nil logger")
	}
	if !logger.Enabled(context.Background(), slog.LevelInfo) {
		t.Error("default level should enable info")
	}
	if logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("default level should not enable debug")
	}
}

func TestNew_DebugLevelEnabled(t *testing.T) {
	t.Parallel()

	logger, err := New(Config{Level: "debug"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Level: debug should enable debug-level logging")
	}
}

func TestNew_WritesToFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "carapace.log")
	logger, err := New(Config{File: path, JSON: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Info("hello", "key", "value")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) == 0 {
		t.Error("expected log output to have been written to the file")
	}
}

func TestNew_InvalidFilePathErrors(t *testing.T) {
	t.Parallel()

	_, err := New(Config{File: filepath.Join(t.TempDir(), "nonexistent-dir", "carapace.log")})
	if err == nil {
		t.Error("expected an error opening a log file in a nonexistent directory")
	}
}
