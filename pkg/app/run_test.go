package app

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/toolgate/toolgate/internal/audit"
	"github.com/toolgate/toolgate/internal/config"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestBuildLoggerRedactsLiterals(t *testing.T) {
	t.Parallel()

	cfg := config.LogConfig{Level: "info", Format: "text", RedactLiterals: []string{"hunter2"}}
	var buf bytes.Buffer
	logger := buildLogger(cfg, buildRedactor(cfg), &buf)

	logger.Info("connecting", "password", "hunter2")

	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Errorf("secret leaked into log output: %s", out)
	}
	if !strings.Contains(out, "connecting") {
		t.Errorf("message missing from log output: %s", out)
	}
}

func TestBuildLoggerJSONFormat(t *testing.T) {
	t.Parallel()

	cfg := config.LogConfig{Level: "info", Format: "json"}
	var buf bytes.Buffer
	logger := buildLogger(cfg, buildRedactor(cfg), &buf)

	logger.Info("hello")
	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Errorf("expected JSON output, got %s", buf.String())
	}
}

func TestAuditSinks(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	cfg := config.AuditConfig{
		LogFile: filepath.Join(dir, "audit.jsonl"),
		DBFile:  filepath.Join(dir, "audit.db"),
	}
	auditor, store, cleanup, err := auditSinks(cfg, buildRedactor(config.LogConfig{}))
	if err != nil {
		t.Fatalf("auditSinks: %v", err)
	}
	defer cleanup()
	if auditor == nil || store == nil {
		t.Fatal("expected both sinks to be built")
	}

	entry := audit.Entry{Timestamp: time.Now().UTC(), Action: "tool_call", Success: true}
	if err := auditor.Log(context.Background(), entry); err != nil {
		t.Fatalf("Log: %v", err)
	}

	// The JSONL file saw the entry.
	raw, err := os.ReadFile(cfg.LogFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"tool_call"`) {
		t.Errorf("file sink missing entry: %s", raw)
	}

	// So did the store.
	entries, err := store.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("store has %d entries, want 1", len(entries))
	}
}

func TestAuditSinksDisabled(t *testing.T) {
	t.Parallel()

	auditor, store, cleanup, err := auditSinks(config.AuditConfig{}, buildRedactor(config.LogConfig{}))
	if err != nil {
		t.Fatalf("auditSinks: %v", err)
	}
	defer cleanup()
	if auditor != nil || store != nil {
		t.Error("expected no sinks when nothing configured")
	}
}

func TestResolveConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	if _, err := ResolveConfigPath(); err == nil {
		t.Error("expected error when no config exists")
	}

	cfgDir := filepath.Join(dir, "toolgate")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	want := filepath.Join(cfgDir, "toolgate.yaml")
	if err := os.WriteFile(want, []byte("version: \"1\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := ResolveConfigPath()
	if err != nil {
		t.Fatalf("ResolveConfigPath: %v", err)
	}
	if got != want {
		t.Errorf("path = %q, want %q", got, want)
	}
}

func TestRetention(t *testing.T) {
	t.Parallel()
	if got := retention(30); got != 30*24*time.Hour {
		t.Errorf("retention(30) = %v", got)
	}
}
