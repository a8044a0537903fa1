package utils

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogLevelFromString(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"loud":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := LogLevelFromString(in); got != want {
			t.Errorf("LogLevelFromString(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestInitLoggerJSONWithAttrs(t *testing.T) {
	defer slog.SetDefault(slog.Default())
	var buf bytes.Buffer
	logger := InitLogger(LoggerConfig{LogLevel: "info"}, &buf, slog.String("component", "test"))
	logger.Debug("hidden")
	logger.Info("shown", slog.Int("n", 1))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one record, got %d: %q", len(lines), buf.String())
	}
	var rec map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("record is not json: %v", err)
	}
	if rec["msg"] != "shown" || rec["component"] != "test" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestInitLoggerToFile(t *testing.T) {
	defer slog.SetDefault(slog.Default())
	path := filepath.Join(t.TempDir(), "flashtrack.log")
	var buf bytes.Buffer
	logger := InitLogger(LoggerConfig{LogToFile: true, Filename: path, MaxSize: 1, Format: "text"}, &buf)
	logger.Info("to both")
	if !strings.Contains(buf.String(), "msg=\"to both\"") {
		t.Fatalf("text handler output missing: %q", buf.String())
	}
}
