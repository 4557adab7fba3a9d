package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		got := ParseLevel(tt.input)
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestJSONHandlerShape(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	logger.Info("sink degraded", "sink", "collector", "failures", 5)

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("expected valid JSON output, got error: %v\noutput: %s", err, buf.String())
	}
	if m["msg"] != "sink degraded" {
		t.Errorf("expected msg 'sink degraded', got %q", m["msg"])
	}
	if m["sink"] != "collector" {
		t.Errorf("expected sink 'collector', got %q", m["sink"])
	}
}

func TestTextHandlerShape(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	logger.Warn("buffer overflow", "dropped", 3)

	out := buf.String()
	if !strings.Contains(out, "buffer overflow") {
		t.Errorf("expected text output containing message, got: %s", out)
	}
	if !strings.Contains(out, "dropped=3") {
		t.Errorf("expected text output containing dropped=3, got: %s", out)
	}
}
