package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLogger_CreatesDirAndLogger(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	log, err := NewLogger(dir, "info", false)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("log dir missing: %v", err)
	}

	log.Debug("hidden_debug_message")
	log.Info("test_message_from_logging_test")
	_ = log.Sync()

	b, err := os.ReadFile(filepath.Join(dir, LogFile))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), "test_message_from_logging_test") {
		t.Fatalf("info entry missing: %s", b)
	}
	if strings.Contains(string(b), "hidden_debug_message") {
		t.Fatalf("debug entry logged at info level: %s", b)
	}
}

func TestNewLogger_LevelParsing(t *testing.T) {
	log, err := NewLogger(t.TempDir(), "debug", true)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if !log.Core().Enabled(-1) {
		t.Fatalf("debug level not enabled")
	}

	log, err = NewLogger(t.TempDir(), "nonsense", false)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if log.Core().Enabled(-1) {
		t.Fatalf("unknown level should fall back to info")
	}
}
