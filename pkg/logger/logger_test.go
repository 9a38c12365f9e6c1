package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	t.Run("JSON", func(t *testing.T) {
		var buf bytes.Buffer
		New(&buf, "info", "json").Info("Capture complete", "bytes", 42)

		var line map[string]any
		if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
			t.Fatalf("expected JSON output, got %q: %v", buf.String(), err)
		}
		if line["msg"] != "Capture complete" {
			t.Errorf("unexpected msg %v", line["msg"])
		}
	})

	t.Run("LevelFilter", func(t *testing.T) {
		var buf bytes.Buffer
		l := New(&buf, "warn", "text")
		l.Info("hidden")
		l.Warn("shown")
		if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
			t.Errorf("unexpected output %q", buf.String())
		}
	})
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCronLogger(t *testing.T) {
	var buf bytes.Buffer
	l := &CronLogger{Logger: New(&buf, "debug", "text")}
	l.Error(errors.New("disk full"), "prune failed", "job", "archive")
	if !strings.Contains(buf.String(), "disk full") || !strings.Contains(buf.String(), "job=archive") {
		t.Errorf("unexpected output %q", buf.String())
	}
}
