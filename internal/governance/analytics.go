package governance

import (
	"fmt"
	"sort"

	"github.com/ChrisB0-2/opsdash/internal/core"
)

// Filter restricts a catalog by category and source. Empty lists match everything.
type Filter struct {
	Categories []string
	Sources    []string
}

// Apply returns the records matching the filter, in input order.
func (f Filter) Apply(records []core.DatasetRecord) []core.DatasetRecord {
	cats := toSet(f.Categories)
	srcs := toSet(f.Sources)

	out := make([]core.DatasetRecord, 0, len(records))
	for _, r := range records {
		if cats != nil && !cats[r.Category] {
			continue
		}
		if srcs != nil && !srcs[r.Source] {
			continue
		}
		out = append(out, r)
	}
	return out
}

func toSet(vals []string) map[string]bool {
	if len(vals) == 0 {
		return nil
	}
	m := make(map[string]bool, len(vals))
	for _, v := range vals {
		m[v] = true
	}
	return m
}

// SourceShare is the storage footprint of one source.
type SourceShare struct {
	Source  string  `json:"source"`
	TotalMB float64 `json:"total_mb"`
	Percent float64 `json:"percent"`
}

// CategoryCount is the number of datasets in one category.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// Summary holds the catalog KPIs and chart series.
type Summary struct {
	TotalDatasets int                  `json:"total_datasets"`
	TotalRows     int64                `json:"total_rows"`
	TotalSizeMB   float64              `json:"total_size_mb"`
	TopBySize     []core.DatasetRecord `json:"top_by_size"`
	TopByRows     []core.DatasetRecord `json:"top_by_rows"`
	Sources       []SourceShare        `json:"sources"`
	Categories    []CategoryCount      `json:"categories"`
}

// Summarize computes totals and the top-N series over records.
func Summarize(records []core.DatasetRecord, topN int) Summary {
	s := Summary{TotalDatasets: len(records)}
	for _, r := range records {
		s.TotalRows += r.RecordCount
		s.TotalSizeMB += r.SizeMB
	}

	s.TopBySize = topBy(records, topN, func(a, b core.DatasetRecord) bool { return a.SizeMB > b.SizeMB })
	s.TopByRows = topBy(records, topN, func(a, b core.DatasetRecord) bool { return a.RecordCount > b.RecordCount })
	s.Sources = SourceTotals(records)
	s.Categories = CategoryCounts(records)
	return s
}

func topBy(records []core.DatasetRecord, n int, less func(a, b core.DatasetRecord) bool) []core.DatasetRecord {
	sorted := make([]core.DatasetRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	if n >= 0 && n < len(sorted) {
		sorted = sorted[:n]
	}
	return sorted
}

// SourceTotals groups size by source, largest first; ties sort by name.
// Records without a source count toward the grand total but form no group.
func SourceTotals(records []core.DatasetRecord) []SourceShare {
	var grand float64
	sums := make(map[string]float64)
	for _, r := range records {
		grand += r.SizeMB
		if r.Source == "" {
			continue
		}
		sums[r.Source] += r.SizeMB
	}

	out := make([]SourceShare, 0, len(sums))
	for src, total := range sums {
		out = append(out, SourceShare{Source: src, TotalMB: total, Percent: percent(total, grand)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalMB != out[j].TotalMB {
			return out[i].TotalMB > out[j].TotalMB
		}
		return out[i].Source < out[j].Source
	})
	return out
}

func percent(part, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return part * 100 / total
}

// CategoryCounts counts datasets per category, most common first.
func CategoryCounts(records []core.DatasetRecord) []CategoryCount {
	counts := make(map[string]int)
	for _, r := range records {
		if r.Category == "" {
			continue
		}
		counts[r.Category]++
	}

	out := make([]CategoryCount, 0, len(counts))
	for c, n := range counts {
		out = append(out, CategoryCount{Category: c, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Category < out[j].Category
	})
	return out
}

// DominantSource returns the source with the largest storage footprint.
// ok is false when no record carries a source.
func DominantSource(records []core.DatasetRecord) (share SourceShare, ok bool) {
	totals := SourceTotals(records)
	if len(totals) == 0 {
		return SourceShare{}, false
	}
	return totals[0], true
}

// Fixed lifecycle advisories appended to every recommendation list.
const (
	AdviceArchive = "Consider archiving datasets not updated within the threshold or large-but-sparse datasets."
	AdviceQuotas  = "Add automated size and usage quotas per source; enforce lifecycle policies for old datasets."
)

// Recommendations returns the governance advisory statements for a catalog.
func Recommendations(records []core.DatasetRecord) []string {
	var out []string
	if top, ok := DominantSource(records); ok {
		out = append(out, fmt.Sprintf("Focus governance on source %s which accounts for %.1f%% of total data size.", top.Source, top.Percent))
	}
	return append(out, AdviceArchive, AdviceQuotas)
}
