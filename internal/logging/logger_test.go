package logging

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zapcore"
)

func TestLReturnsNopLoggerBeforeInit(t *testing.T) {
	mu.Lock()
	logger = nil
	mu.Unlock()

	if l := L(); l == nil {
		t.Fatalf("expected L() to return a non-nil no-op logger before Init")
	}
}

func TestInitSetsLoggerRetrievableViaL(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer os.Chdir(wd)

	l := Init(true, "debug")
	if l == nil {
		t.Fatalf("expected Init to return a non-nil logger")
	}
	if got := L(); got != l {
		t.Fatalf("expected L() to return the logger Init just configured")
	}
	l.Debug("test message")
}

func TestInitProductionModeCreatesLogFile(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("Getwd: %v", err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("Chdir: %v", err)
	}
	defer os.Chdir(wd)

	l := Init(false, "info")
	l.Info("hello")
	_ = l.Sync()

	if _, err := os.Stat(filepath.Join(dir, "logs", "tgdl.log")); err != nil {
		t.Fatalf("expected Init(false, ...) to create a rotated log file: %v", err)
	}
}

func TestParseLevelFallsBackToInfoOnInvalidInput(t *testing.T) {
	if got := parseLevel("not-a-level"); got != zapcore.InfoLevel {
		t.Fatalf("expected fallback to InfoLevel, got %v", got)
	}
	if got := parseLevel("warn"); got != zapcore.WarnLevel {
		t.Fatalf("expected WarnLevel for 'warn', got %v", got)
	}
}
