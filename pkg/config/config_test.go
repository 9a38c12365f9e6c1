package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Cooldown() != 5*time.Second {
		t.Errorf("expected 5s cooldown, got %v", cfg.Cooldown())
	}
	if cfg.CountdownTicks() != 5 {
		t.Errorf("expected 5 countdown ticks, got %d", cfg.CountdownTicks())
	}
	if cfg.ResumeTimeout() != 10*time.Second {
		t.Errorf("expected 10s resume timeout, got %v", cfg.ResumeTimeout())
	}
	if cfg.RetryDelay() != 3*time.Second {
		t.Errorf("expected 3s retry delay, got %v", cfg.RetryDelay())
	}
	if cfg.Uplink.ControlThreshold != 100 {
		t.Errorf("expected control threshold 100, got %d", cfg.Uplink.ControlThreshold)
	}
	if !cfg.ResumeAfterCapture() {
		t.Error("expected preview to resume after capture by default")
	}
	if cfg.Addr(5001) != ":5001" {
		t.Errorf("expected default port, got %s", cfg.Addr(5001))
	}
	if cfg.Indicator.LightPin != "GPIO24" || cfg.Indicator.BuzzerPin != "GPIO23" {
		t.Errorf("unexpected default pins %s/%s", cfg.Indicator.LightPin, cfg.Indicator.BuzzerPin)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 8080
capture:
  cooldown_seconds: 10
  countdown_ticks: 3
preview:
  resume_after_capture: false
uplink:
  url: ws://relay:5000/uplink
  max_attempts: 5
printer:
  command: ["lp", "{input}"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Addr(5001) != ":8080" {
		t.Errorf("expected :8080, got %s", cfg.Addr(5001))
	}
	if cfg.Cooldown() != 10*time.Second {
		t.Errorf("expected 10s cooldown, got %v", cfg.Cooldown())
	}
	if cfg.CountdownTicks() != 3 {
		t.Errorf("expected 3 ticks, got %d", cfg.CountdownTicks())
	}
	if cfg.ResumeAfterCapture() {
		t.Error("expected resume_after_capture=false to be kept")
	}
	if cfg.Uplink.MaxAttempts != 5 {
		t.Errorf("expected 5 attempts, got %d", cfg.Uplink.MaxAttempts)
	}
	if len(cfg.Printer.Command) != 2 {
		t.Errorf("expected printer command, got %v", cfg.Printer.Command)
	}
}

func TestZeroCooldownAndCountdown(t *testing.T) {
	t.Run("File", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, "capture:\n  cooldown_seconds: 0\n  countdown_ticks: 0\n"))
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Cooldown() != 0 {
			t.Errorf("expected cooldown disabled, got %v", cfg.Cooldown())
		}
		if cfg.CountdownTicks() != 0 {
			t.Errorf("expected no countdown, got %d", cfg.CountdownTicks())
		}
	})

	t.Run("Env", func(t *testing.T) {
		t.Setenv("POTBOY_COOLDOWN_SECONDS", "0")
		t.Setenv("POTBOY_COUNTDOWN_TICKS", "0")
		cfg, err := Load(writeConfig(t, "capture:\n  cooldown_seconds: 10\n"))
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Cooldown() != 0 || cfg.CountdownTicks() != 0 {
			t.Errorf("expected env zeros to be kept, got %v and %d", cfg.Cooldown(), cfg.CountdownTicks())
		}
	})
}

func TestEnvOverrides(t *testing.T) {
	path := writeConfig(t, "capture:\n  cooldown_seconds: 10\n")
	t.Setenv("POTBOY_COOLDOWN_SECONDS", "2")
	t.Setenv("POTBOY_CAMERA_PATTERN", "true")
	t.Setenv("POTBOY_PRINTER_COMMAND", "lp -d receipt {input}")
	t.Setenv("POTBOY_PREVIEW_RESUME_AFTER_CAPTURE", "false")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Cooldown() != 2*time.Second {
		t.Errorf("expected env to win, got %v", cfg.Cooldown())
	}
	if !cfg.Camera.Pattern {
		t.Error("expected pattern camera from env")
	}
	if got := strings.Join(cfg.Printer.Command, " "); got != "lp -d receipt {input}" {
		t.Errorf("unexpected printer command %q", got)
	}
	if cfg.ResumeAfterCapture() {
		t.Error("expected resume disabled from env")
	}

	t.Run("InvalidNumber", func(t *testing.T) {
		t.Setenv("POTBOY_UPLINK_MAX_ATTEMPTS", "many")
		if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "POTBOY_UPLINK_MAX_ATTEMPTS") {
			t.Errorf("expected env parse error, got %v", err)
		}
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"BadFormat", "log:\n  format: xml\n", "log.format"},
		{"NegativeAttempts", "uplink:\n  max_attempts: -1\n", "uplink.max_attempts"},
		{"HTTPUplink", "uplink:\n  url: http://relay/uplink\n", "uplink.url"},
		{"HalfCredentials", "relay:\n  username: admin\n", "relay.username"},
		{"BadPort", "server:\n  port: 70000\n", "server.port"},
		{"NegativeCooldown", "capture:\n  cooldown_seconds: -1\n", "capture.cooldown_seconds"},
		{"NegativeTicks", "capture:\n  countdown_ticks: -2\n", "capture.countdown_ticks"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}

	t.Run("MissingFile", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}
