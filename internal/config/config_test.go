package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`basic_config:
  server_address: ":9000"
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.BasicConfig.ServerAddress != ":9000" {
		t.Errorf("ServerAddress = %q, want %q", cfg.BasicConfig.ServerAddress, ":9000")
	}
	if cfg.BasicConfig.Scheduler != "memory" {
		t.Errorf("Scheduler = %q, want memory", cfg.BasicConfig.Scheduler)
	}
	if cfg.Notify.DiffWindow == nil || *cfg.Notify.DiffWindow != 2 || cfg.Notify.DiffMaxLines != 50 {
		t.Errorf("diff defaults = %v/%d, want 2/50", cfg.Notify.DiffWindow, cfg.Notify.DiffMaxLines)
	}
	if cfg.Assistant.ToolThreshold != 40 {
		t.Errorf("ToolThreshold = %d, want 40", cfg.Assistant.ToolThreshold)
	}
	if cfg.Notify.GroupScope != "workspace" {
		t.Errorf("GroupScope = %q, want workspace", cfg.Notify.GroupScope)
	}
}

func TestParseKeepsZeroDiffWindow(t *testing.T) {
	cfg, err := Parse([]byte(`notify:
  diff_window: 0
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Notify.DiffWindow == nil || *cfg.Notify.DiffWindow != 0 {
		t.Errorf("DiffWindow = %v, want explicit 0", cfg.Notify.DiffWindow)
	}
	if _, err := Parse([]byte(`notify:
  diff_window: -1
`)); err == nil || !strings.Contains(err.Error(), "diff_window") {
		t.Errorf("expected diff_window validation error, got %v", err)
	}
}

func TestParseAcceptsJSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"ai": {"provider": "openai"}, "providers": {"openai": {"model": "gpt-4o-mini"}}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Providers["openai"].Model != "gpt-4o-mini" {
		t.Errorf("model = %q", cfg.Providers["openai"].Model)
	}
}

func TestParseExpandsEnv(t *testing.T) {
	t.Setenv("NUDGEBOT_TEST_KEY", "sk-123")
	cfg, err := Parse([]byte(`providers:
  openai:
    api_key: ${NUDGEBOT_TEST_KEY}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if got := cfg.Providers["openai"].APIKey; got != "sk-123" {
		t.Errorf("APIKey = %q, want sk-123", got)
	}
}

func TestParseValidation(t *testing.T) {
	_, err := Parse([]byte(`basic_config:
  scheduler: kafka
notify:
  group_scope: galaxy
ai:
  provider: missing
`))
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"scheduler", "group_scope", "ai.provider"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadResolvesRelativeSQLitePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(`databases:
  sqlite3:
    dsn: nudge.db
`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := cfg.Databases["sqlite3"].DSN, filepath.Join(dir, "nudge.db"); got != want {
		t.Errorf("DSN = %q, want %q", got, want)
	}
}
