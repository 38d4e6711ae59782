package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/OpenTraceLab/OpenTraceCAN/internal/config"
)

func TestNewLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		if _, err := New(config.Logging{Level: level, Format: "json"}); err != nil {
			t.Errorf("New(level %q) error: %v", level, err)
		}
	}
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New(config.Logging{Level: "silly"}); err == nil {
		t.Error("New(level silly) returned nil error")
	}
}

func TestNewFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "otcan.log")
	log, err := New(config.Logging{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	log.Info("hello")
	_ = log.Sync()

	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if len(body) == 0 {
		t.Error("log file is empty after Info()")
	}
}
