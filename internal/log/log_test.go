package log

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := ParseLevel(tt.in); got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSetupJSON(t *testing.T) {
	var buf bytes.Buffer
	Setup(&buf, "debug", true)

	Component("filter").Debug("smoothed", "x", 1.5)

	out := buf.String()
	if !strings.Contains(out, `"component":"filter"`) {
		t.Errorf("expected component attribute in %q", out)
	}
	if !strings.Contains(out, `"msg":"smoothed"`) {
		t.Errorf("expected message in %q", out)
	}
}

func TestSetupLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	Setup(&buf, "warn", false)

	Info("hidden")
	Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("info line should be filtered at warn level")
	}
	if !strings.Contains(out, "shown") {
		t.Error("warn line should be written")
	}
}
