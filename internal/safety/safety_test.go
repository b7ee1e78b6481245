package safety

import (
	"context"
	"testing"

	"github.com/ChrisB0-2/opsdash/internal/core"
	"github.com/ChrisB0-2/opsdash/internal/logger"
)

func TestValidate(t *testing.T) {
	cfg := Config{
		ProtectedSources:    []string{"finance"},
		ProtectedCategories: []string{"Compliance"},
		ProtectedPrefixes:   []string{"gdpr_", "legal"},
	}

	tests := []struct {
		name       string
		rec        core.DatasetRecord
		wantAllow  bool
		wantReason string
	}{
		{
			name:       "unprotected record allowed",
			rec:        core.DatasetRecord{ID: 1, Name: "clickstream_2019", Source: "web", Category: "Analytics"},
			wantAllow:  true,
			wantReason: "ok",
		},
		{
			name:       "protected source",
			rec:        core.DatasetRecord{ID: 2, Name: "ledger", Source: "Finance", Category: "Accounting"},
			wantReason: "protected_source:finance",
		},
		{
			name:       "protected category",
			rec:        core.DatasetRecord{ID: 3, Name: "kyc_snapshots", Source: "crm", Category: " compliance "},
			wantReason: "protected_category:Compliance",
		},
		{
			name:       "protected prefix ignores case",
			rec:        core.DatasetRecord{ID: 4, Name: "GDPR_requests", Source: "crm"},
			wantReason: "protected_prefix:gdpr_",
		},
		{
			name:       "prefix must be at start",
			rec:        core.DatasetRecord{ID: 5, Name: "old_legal_holds", Source: "crm"},
			wantAllow:  true,
			wantReason: "ok",
		},
		{
			name:       "source checked before prefix",
			rec:        core.DatasetRecord{ID: 6, Name: "legal_fees", Source: "finance"},
			wantReason: "protected_source:finance",
		},
		{
			name:       "missing name denied",
			rec:        core.DatasetRecord{ID: 7, Name: "  ", Source: "web"},
			wantReason: "missing_name",
		},
	}

	e := NewWithLogger(logger.NewNop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := e.Validate(context.Background(), tt.rec, cfg)
			if v.Allowed != tt.wantAllow {
				t.Fatalf("Allowed = %v, want %v (reason=%s)", v.Allowed, tt.wantAllow, v.Reason)
			}
			if v.Reason != tt.wantReason {
				t.Fatalf("Reason = %q, want %q", v.Reason, tt.wantReason)
			}
		})
	}
}

func TestValidate_EmptyConfigAllowsEverything(t *testing.T) {
	var cfg Config
	if !cfg.Empty() {
		t.Fatal("zero config should be empty")
	}
	v := New().Validate(context.Background(), core.DatasetRecord{Name: "anything", Source: ""}, cfg)
	if !v.Allowed {
		t.Fatalf("expected allow, got %s", v.Reason)
	}
}

func TestValidate_BlankRulesNeverMatch(t *testing.T) {
	cfg := Config{ProtectedSources: []string{""}, ProtectedCategories: []string{"  "}, ProtectedPrefixes: []string{""}}
	v := New().Validate(context.Background(), core.DatasetRecord{Name: "orphan"}, cfg)
	if !v.Allowed {
		t.Fatalf("blank rules should not protect unlabeled records, got %s", v.Reason)
	}
}

func TestReasonKeyCollapsesVerdict(t *testing.T) {
	v := New().Validate(context.Background(),
		core.DatasetRecord{Name: "x", Source: "finance"},
		Config{ProtectedSources: []string{"finance"}})
	if got := core.ReasonKey(v.Reason); got != "protected_source" {
		t.Fatalf("ReasonKey = %q", got)
	}
}
