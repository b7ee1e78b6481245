package governance

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/ChrisB0-2/opsdash/internal/core"
)

func catalog() []core.DatasetRecord {
	return []core.DatasetRecord{
		{Name: "orders", Source: "erp", Category: "sales", SizeMB: 600, RecordCount: 1000},
		{Name: "invoices", Source: "erp", Category: "finance", SizeMB: 150, RecordCount: 300},
		{Name: "clicks", Source: "web", Category: "marketing", SizeMB: 200, RecordCount: 90000},
		{Name: "leads", Source: "crm", Category: "sales", SizeMB: 50, RecordCount: 20},
		{Name: "scratch", Source: "", Category: "", SizeMB: 0, RecordCount: 0},
	}
}

func TestFilterApply(t *testing.T) {
	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"empty filter matches all", Filter{}, []string{"orders", "invoices", "clicks", "leads", "scratch"}},
		{"by category", Filter{Categories: []string{"sales"}}, []string{"orders", "leads"}},
		{"by source", Filter{Sources: []string{"erp", "web"}}, []string{"orders", "invoices", "clicks"}},
		{"both", Filter{Categories: []string{"sales"}, Sources: []string{"crm"}}, []string{"leads"}},
		{"no match", Filter{Sources: []string{"sap"}}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := []string{}
			for _, r := range tt.filter.Apply(catalog()) {
				got = append(got, r.Name)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize(catalog(), 2)

	if s.TotalDatasets != 5 {
		t.Errorf("expected 5 datasets, got %d", s.TotalDatasets)
	}
	if s.TotalRows != 91320 {
		t.Errorf("expected 91320 rows, got %d", s.TotalRows)
	}
	if s.TotalSizeMB != 1000 {
		t.Errorf("expected 1000 MB, got %f", s.TotalSizeMB)
	}
	if len(s.TopBySize) != 2 || s.TopBySize[0].Name != "orders" || s.TopBySize[1].Name != "clicks" {
		t.Errorf("unexpected top by size: %+v", s.TopBySize)
	}
	if len(s.TopByRows) != 2 || s.TopByRows[0].Name != "clicks" || s.TopByRows[1].Name != "orders" {
		t.Errorf("unexpected top by rows: %+v", s.TopByRows)
	}

	wantCats := []CategoryCount{{"sales", 2}, {"finance", 1}, {"marketing", 1}}
	if diff := cmp.Diff(wantCats, s.Categories); diff != "" {
		t.Errorf("category counts mismatch (-want +got):\n%s", diff)
	}
}

func TestSourceTotals(t *testing.T) {
	got := SourceTotals(catalog())

	want := []SourceShare{
		{Source: "erp", TotalMB: 750, Percent: 75},
		{Source: "web", TotalMB: 200, Percent: 20},
		{Source: "crm", TotalMB: 50, Percent: 5},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("source totals mismatch (-want +got):\n%s", diff)
	}
}

func TestDominantSource(t *testing.T) {
	top, ok := DominantSource(catalog())
	if !ok {
		t.Fatal("expected a dominant source")
	}
	if top.Source != "erp" || math.Abs(top.Percent-75) > 1e-9 {
		t.Errorf("expected erp at 75%%, got %s at %f", top.Source, top.Percent)
	}
}

func TestDominantSourceTieBreaksByName(t *testing.T) {
	recs := []core.DatasetRecord{
		{Source: "zeta", SizeMB: 10},
		{Source: "alpha", SizeMB: 10},
	}
	top, _ := DominantSource(recs)
	if top.Source != "alpha" {
		t.Errorf("expected alpha on tie, got %s", top.Source)
	}
}

func TestDominantSourceZeroTotal(t *testing.T) {
	recs := []core.DatasetRecord{{Source: "erp", SizeMB: 0}, {Source: "web", SizeMB: 0}}

	top, ok := DominantSource(recs)
	if !ok {
		t.Fatal("expected a source group even with zero size")
	}
	if top.Percent != 0 {
		t.Errorf("expected 0%% when grand total is zero, got %f", top.Percent)
	}
}

func TestDominantSourceEmpty(t *testing.T) {
	if _, ok := DominantSource(nil); ok {
		t.Fatal("expected no dominant source for empty catalog")
	}
}

func TestRecommendations(t *testing.T) {
	got := Recommendations(catalog())
	want := []string{
		"Focus governance on source erp which accounts for 75.0% of total data size.",
		AdviceArchive,
		AdviceQuotas,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("recommendations mismatch (-want +got):\n%s", diff)
	}

	empty := Recommendations(nil)
	if len(empty) != 2 {
		t.Errorf("expected only fixed advisories for empty catalog, got %v", empty)
	}
}
