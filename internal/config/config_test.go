package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}
	if cfg.Adapter.Bitrate != 500000 {
		t.Errorf("Adapter.Bitrate = %d, want 500000", cfg.Adapter.Bitrate)
	}
	if cfg.Adapter.Bus != -1 || cfg.Adapter.Address != -1 {
		t.Errorf("Adapter bus/address = %d/%d, want -1/-1", cfg.Adapter.Bus, cfg.Adapter.Address)
	}
	if cfg.Adapter.SendTimeout != time.Second {
		t.Errorf("Adapter.SendTimeout = %v, want 1s", cfg.Adapter.SendTimeout)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "console" {
		t.Errorf("Logging = %s/%s, want info/console", cfg.Logging.Level, cfg.Logging.Format)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "otcan.yaml")
	body := "adapter:\n  bitrate: 250000\n  channel: 1\nlogging:\n  level: debug\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}
	if cfg.Adapter.Bitrate != 250000 {
		t.Errorf("Adapter.Bitrate = %d, want 250000", cfg.Adapter.Bitrate)
	}
	if cfg.Adapter.Channel != 1 {
		t.Errorf("Adapter.Channel = %d, want 1", cfg.Adapter.Channel)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	// Untouched keys keep their defaults.
	if cfg.Adapter.OpenAttempts != 4 {
		t.Errorf("Adapter.OpenAttempts = %d, want 4", cfg.Adapter.OpenAttempts)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("OTCAN_ADAPTER_BITRATE", "125000")
	t.Setenv("OTCAN_LOGGING_LEVEL", "warn")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}
	if cfg.Adapter.Bitrate != 125000 {
		t.Errorf("Adapter.Bitrate = %d, want 125000 from env", cfg.Adapter.Bitrate)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn from env", cfg.Logging.Level)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Load() with missing explicit file returned nil error")
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad level", "logging:\n  level: silly\n"},
		{"bad format", "logging:\n  format: xml\n"},
		{"zero bitrate", "adapter:\n  bitrate: 0\n"},
		{"negative channel", "adapter:\n  channel: -2\n"},
		{"zero attempts", "adapter:\n  open_attempts: 0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "otcan.yaml")
			if err := os.WriteFile(path, []byte(tt.body), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(path); err == nil {
				t.Errorf("Load() accepted %q", tt.body)
			}
		})
	}
}
