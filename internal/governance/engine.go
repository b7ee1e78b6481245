// Package governance evaluates the dataset catalog against the archive rule
// and derives the aggregate views shown on the governance page.
package governance

import (
	"sort"
	"time"

	"github.com/ChrisB0-2/opsdash/internal/core"
	"github.com/ChrisB0-2/opsdash/internal/logger"
	"github.com/ChrisB0-2/opsdash/internal/policy"
)

// Report is the outcome of one evaluation over a catalog.
type Report struct {
	// Candidates are the archive candidates, largest first, then oldest first.
	Candidates []core.Evaluation
	// Count equals len(Candidates).
	Count int
	// All holds one evaluation per input record, in input order.
	All []core.Evaluation
}

// CandidateSizeMB sums size_mb over the candidates.
func (r Report) CandidateSizeMB() float64 {
	var total float64
	for _, ev := range r.Candidates {
		total += ev.Record.SizeMB
	}
	return total
}

// Evaluate applies the archive rule to every record. It does not modify
// records and keeps no state between calls.
func Evaluate(records []core.DatasetRecord, now time.Time, th core.Thresholds) Report {
	pol := policy.NewArchivePolicy(th)
	env := core.EnvSnapshot{Now: now}

	all := make([]core.Evaluation, 0, len(records))
	cands := make([]core.Evaluation, 0)

	for _, rec := range records {
		dec := pol.Evaluate(rec, env)
		ev := core.Evaluation{
			Record:      rec,
			AgeDays:     core.AgeDays(now, rec.LastUpdated),
			IsCandidate: dec.Allow,
			Reason:      dec.Reason,
		}
		all = append(all, ev)
		if ev.IsCandidate {
			cands = append(cands, ev)
		}
	}

	sortCandidates(cands)

	return Report{Candidates: cands, Count: len(cands), All: all}
}

// sortCandidates orders by size desc, then age desc. Remaining ties keep input order.
func sortCandidates(cands []core.Evaluation) {
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.Record.SizeMB != b.Record.SizeMB {
			return a.Record.SizeMB > b.Record.SizeMB
		}
		return a.AgeDays > b.AgeDays
	})
}

// Engine wraps Evaluate with a clock and logging. It publishes no gauges:
// callers evaluate filtered subsets, so catalog-wide series are owned by
// the catalog service and the sweeper.
type Engine struct {
	log logger.Logger
	now func() time.Time
}

// NewEngine creates an engine with no-op logging.
func NewEngine() *Engine {
	return &Engine{log: logger.NewNop(), now: time.Now}
}

// NewEngineWithLogger creates an engine that logs to log.
func NewEngineWithLogger(log logger.Logger) *Engine {
	if log == nil {
		log = logger.NewNop()
	}
	return &Engine{log: log, now: time.Now}
}

// Evaluate runs the archive rule at the current time.
func (e *Engine) Evaluate(records []core.DatasetRecord, th core.Thresholds) Report {
	e.log.Debug("evaluating catalog",
		logger.F("records", len(records)),
		logger.F("age_days", th.AgeDays),
		logger.F("size_mb", th.SizeMB),
		logger.F("min_rows", th.MinRows),
	)

	rep := Evaluate(records, e.now(), th)

	e.log.Info("catalog evaluated",
		logger.F("records", len(records)),
		logger.F("candidates", rep.Count),
	)
	return rep
}
