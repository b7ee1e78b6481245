package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ChrisB0-2/opsdash/internal/core"
)

func fields(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Field
	}
	return out
}

func TestValidateServer(t *testing.T) {
	tests := []struct {
		name    string
		cfg     ServerConfig
		wantErr int
	}{
		{"valid", ServerConfig{HTTPAddr: ":8080"}, 0},
		{"host and port", ServerConfig{HTTPAddr: "127.0.0.1:8080"}, 0},
		{"empty", ServerConfig{}, 1},
		{"missing port", ServerConfig{HTTPAddr: "localhost"}, 1},
		{"negative timeout", ServerConfig{HTTPAddr: ":8080", ShutdownTimeout: -time.Second}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if errs := ValidateServer(tt.cfg); len(errs) != tt.wantErr {
				t.Errorf("got %d errors %v, want %d", len(errs), errs, tt.wantErr)
			}
		})
	}
}

func TestValidateDatabase(t *testing.T) {
	if errs := ValidateDatabase(DatabaseConfig{Path: "a.db", AuditPath: "audit.db"}); len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
	if errs := ValidateDatabase(DatabaseConfig{Path: "  "}); len(errs) != 1 {
		t.Errorf("expected blank path error, got %v", errs)
	}
	errs := ValidateDatabase(DatabaseConfig{Path: "a.db", AuditPath: "a.db"})
	if len(errs) != 1 || errs[0].Field != "database.audit_path" {
		t.Errorf("expected audit_path collision error, got %v", errs)
	}
}

func TestValidateGovernance_Thresholds(t *testing.T) {
	g := GovernanceConfig{Thresholds: core.Thresholds{AgeDays: 5, SizeMB: 0, MinRows: -1}}
	errs := ValidateGovernance(g)
	if len(errs) != 3 {
		t.Fatalf("expected one error per bad threshold, got %d: %v", len(errs), errs)
	}
	for _, e := range errs {
		if e.Field != "governance.thresholds" {
			t.Errorf("unexpected field %q", e.Field)
		}
	}
	if !strings.Contains(errs[0].Message, "age_days") {
		t.Errorf("expected age_days message first, got %q", errs[0].Message)
	}
}

func TestValidateGovernance_ModeScheduleLists(t *testing.T) {
	base := GovernanceConfig{Thresholds: core.DefaultThresholds()}

	tests := []struct {
		name   string
		mutate func(*GovernanceConfig)
		want   []string
	}{
		{"defaults", func(*GovernanceConfig) {}, nil},
		{"execute mode", func(g *GovernanceConfig) { g.Mode = "execute" }, nil},
		{"bad mode", func(g *GovernanceConfig) { g.Mode = "delete" }, []string{"governance.mode"}},
		{"every syntax", func(g *GovernanceConfig) { g.Schedule = "@every 6h" }, nil},
		{"plain duration", func(g *GovernanceConfig) { g.Schedule = "30m" }, nil},
		{"garbage schedule", func(g *GovernanceConfig) { g.Schedule = "daily" }, []string{"governance.schedule"}},
		{"too frequent", func(g *GovernanceConfig) { g.Schedule = "@every 10s" }, []string{"governance.schedule"}},
		{"negative top_n", func(g *GovernanceConfig) { g.TopN = -1 }, []string{"governance.top_n"}},
		{"blank protected source", func(g *GovernanceConfig) { g.ProtectedSources = []string{"erp", ""} }, []string{"governance.protected_sources[1]"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := base
			tt.mutate(&g)
			got := fields(ValidateGovernance(g))
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("field[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestValidateAssistant(t *testing.T) {
	ok := AssistantConfig{BaseURL: "https://api.groq.com/openai/v1", Model: "m"}
	if errs := ValidateAssistant(ok); len(errs) != 0 {
		t.Errorf("unexpected errors: %v", errs)
	}
	if errs := ValidateAssistant(AssistantConfig{BaseURL: "ftp://x", Model: "m"}); len(errs) != 1 {
		t.Errorf("expected scheme error, got %v", errs)
	}
	if errs := ValidateAssistant(AssistantConfig{BaseURL: "https://x"}); len(errs) != 1 || errs[0].Field != "assistant.model" {
		t.Errorf("expected model error, got %v", errs)
	}
}

func TestValidateAuth(t *testing.T) {
	if errs := ValidateAuth(AuthConfig{Enabled: true}); len(errs) != 1 {
		t.Errorf("expected missing credential source error, got %v", errs)
	}
	if errs := ValidateAuth(AuthConfig{Enabled: true, BasicAuth: true}); len(errs) != 0 {
		t.Errorf("basic auth alone should be enough, got %v", errs)
	}
	if errs := ValidateAuth(AuthConfig{PublicPaths: []string{"health"}}); len(errs) != 1 {
		t.Errorf("expected public path error, got %v", errs)
	}
}

func TestValidateLogging(t *testing.T) {
	tests := []struct {
		name    string
		cfg     LoggingConfig
		wantErr int
	}{
		{"defaults", LoggingConfig{Level: "info", Format: "json"}, 0},
		{"empty uses defaults", LoggingConfig{}, 0},
		{"console", LoggingConfig{Format: "console"}, 0},
		{"bad level", LoggingConfig{Level: "trace"}, 1},
		{"bad format", LoggingConfig{Format: "xml"}, 1},
		{"loki without url", LoggingConfig{Loki: &LokiConfig{Enabled: true}}, 1},
		{"loki bad scheme", LoggingConfig{Loki: &LokiConfig{Enabled: true, URL: "tcp://loki:3100"}}, 1},
		{"loki ok", LoggingConfig{Loki: &LokiConfig{Enabled: true, URL: "http://loki:3100"}}, 0},
		{"loki negative batch", LoggingConfig{Loki: &LokiConfig{BatchSize: -1, BatchWait: -time.Second}}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if errs := ValidateLogging(tt.cfg); len(errs) != tt.wantErr {
				t.Errorf("got %d errors %v, want %d", len(errs), errs, tt.wantErr)
			}
		})
	}
}

func TestValidateNotifier(t *testing.T) {
	cfg := NotifierConfig{Webhooks: []WebhookConfig{
		{URL: "https://hooks.example.com/a", Events: []string{"ticket_updated"}},
		{URL: "", Events: []string{"cleanup_started"}},
	}}
	got := fields(ValidateNotifier(cfg))
	want := []string{"notifier.webhooks[1].url", "notifier.webhooks[1].events"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("field[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestValidate_CollectsAll(t *testing.T) {
	cfg := Default()
	cfg.Server.HTTPAddr = ""
	cfg.Logging.Level = "loud"
	cfg.Governance.Mode = "yolo"

	err := Validate(cfg)
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(verrs) != 3 {
		t.Fatalf("expected 3 errors, got %d: %v", len(verrs), verrs)
	}
	msg := err.Error()
	for _, f := range []string{"server.http_addr", "logging.level", "governance.mode"} {
		if !strings.Contains(msg, f) {
			t.Errorf("error text missing %s:\n%s", f, msg)
		}
	}
}

func TestParseSchedule(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"@every 6h", 6 * time.Hour, false},
		{"15m", 15 * time.Minute, false},
		{"@every 0s", 0, true},
		{"-1h", 0, true},
		{"weekly", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSchedule(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSchedule(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSchedule(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
