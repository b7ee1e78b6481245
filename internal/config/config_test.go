package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ChrisB0-2/opsdash/internal/core"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0600); err != nil {
		t.Fatalf("write %s: %v", p, err)
	}
	return p
}

func TestDefault_IsValid(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestDefault_Values(t *testing.T) {
	cfg := Default()
	if cfg.Governance.Thresholds != core.DefaultThresholds() {
		t.Errorf("unexpected default thresholds: %+v", cfg.Governance.Thresholds)
	}
	if cfg.Governance.Mode != "dry-run" {
		t.Errorf("expected dry-run default, got %q", cfg.Governance.Mode)
	}
	if cfg.Assistant.Model != "llama-3.3-70b-versatile" {
		t.Errorf("unexpected default model %q", cfg.Assistant.Model)
	}
	if cfg.Assistant.APIKeyEnv != "GROQ_API_KEY" {
		t.Errorf("unexpected default key env %q", cfg.Assistant.APIKeyEnv)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "opsdash.yaml", `
version: 1
server:
  http_addr: "127.0.0.1:9000"
governance:
  thresholds:
    age_days: 180
    size_mb: 2048
    min_rows: 50
  schedule: "@every 6h"
  protected_sources: [finance]
logging:
  level: debug
  format: console
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:9000" {
		t.Errorf("http_addr not loaded: %q", cfg.Server.HTTPAddr)
	}
	want := core.Thresholds{AgeDays: 180, SizeMB: 2048, MinRows: 50}
	if cfg.Governance.Thresholds != want {
		t.Errorf("thresholds = %+v, want %+v", cfg.Governance.Thresholds, want)
	}
	if len(cfg.Governance.ProtectedSources) != 1 || cfg.Governance.ProtectedSources[0] != "finance" {
		t.Errorf("protected_sources not loaded: %v", cfg.Governance.ProtectedSources)
	}
	// Untouched sections keep defaults
	if cfg.Database.Path != "opsdash.db" {
		t.Errorf("expected default database path, got %q", cfg.Database.Path)
	}
	if cfg.Governance.TopN != 20 {
		t.Errorf("expected default top_n, got %d", cfg.Governance.TopN)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}

func TestLoad_Errors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := writeFile(t, t.TempDir(), "bad.yaml", "server: [unclosed")
	if _, err := Load(path); err == nil {
		t.Error("expected error for invalid YAML")
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault("")
	if err != nil || cfg == nil {
		t.Fatalf("empty path: cfg=%v err=%v", cfg, err)
	}

	cfg, err = LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should fall back to defaults: %v", err)
	}
	if cfg.Server.HTTPAddr != ":8080" {
		t.Errorf("expected default addr, got %q", cfg.Server.HTTPAddr)
	}
}

func TestSave_ThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.yaml")
	cfg := Default()
	cfg.Governance.Schedule = "@every 12h"
	cfg.Assistant.Timeout = 30 * time.Second

	if err := cfg.Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Governance.Schedule != "@every 12h" || got.Assistant.Timeout != 30*time.Second {
		t.Errorf("saved values lost: %+v / %v", got.Governance, got.Assistant.Timeout)
	}
}

func TestAssistantKey(t *testing.T) {
	t.Setenv("OPSDASH_TEST_KEY", "from-env")

	cfg := Default()
	cfg.Assistant.APIKeyEnv = "OPSDASH_TEST_KEY"
	if got := cfg.AssistantKey(); got != "from-env" {
		t.Errorf("expected env key, got %q", got)
	}

	cfg.Assistant.APIKey = "explicit"
	if got := cfg.AssistantKey(); got != "explicit" {
		t.Errorf("explicit key should win, got %q", got)
	}

	cfg.Assistant.APIKey = ""
	cfg.Assistant.APIKeyEnv = ""
	if got := cfg.AssistantKey(); got != "" {
		t.Errorf("expected no key, got %q", got)
	}
}

func TestGovernanceSafety(t *testing.T) {
	g := GovernanceConfig{
		ProtectedSources:    []string{"finance"},
		ProtectedCategories: []string{"Compliance"},
		ProtectedPrefixes:   []string{"gdpr_"},
	}
	s := g.Safety()
	if len(s.ProtectedSources) != 1 || s.ProtectedCategories[0] != "Compliance" || s.ProtectedPrefixes[0] != "gdpr_" {
		t.Fatalf("unexpected safety config %+v", s)
	}
}
