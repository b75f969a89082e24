package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLevels(t *testing.T) {
	tests := []struct {
		level string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, closer, err := New(tt.level, "")
			if err != nil {
				t.Fatalf("New() failed: %v", err)
			}
			defer closer.Close()

			if !logger.Core().Enabled(tt.want) {
				t.Errorf("level %s should be enabled", tt.want)
			}
			if tt.want > zapcore.DebugLevel && logger.Core().Enabled(tt.want-1) {
				t.Errorf("level %s should be disabled", tt.want-1)
			}
		})
	}
}

func TestNewInvalidLevel(t *testing.T) {
	if _, _, err := New("verbose", ""); err == nil {
		t.Error("New() should fail for unknown level")
	}
}

func TestNewWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "powsolver.log")

	logger, closer, err := New("info", path)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	logger.Debug("hidden")
	logger.Info("Challenge solved", zap.Int64("answer", 42))
	_ = logger.Sync()
	if err := closer.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %q", len(lines), data)
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "Challenge solved" {
		t.Errorf("unexpected msg %v", entry["msg"])
	}
	if entry["answer"] != float64(42) {
		t.Errorf("unexpected answer %v", entry["answer"])
	}
}
