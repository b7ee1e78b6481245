package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ChrisB0-2/opsdash/internal/archiver"
	"github.com/ChrisB0-2/opsdash/internal/core"
	"github.com/ChrisB0-2/opsdash/internal/governance"
	"github.com/ChrisB0-2/opsdash/internal/logger"
	"github.com/ChrisB0-2/opsdash/internal/metrics"
	"github.com/ChrisB0-2/opsdash/internal/notifier"
)

// DatasetLister is the read side of the catalog.
type DatasetLister interface {
	ListDatasets(ctx context.Context) ([]core.DatasetRecord, error)
}

// SweepSettings are the knobs a config reload may change.
type SweepSettings struct {
	Thresholds core.Thresholds
	Mode       core.Mode
}

// SweepConfig wires a Sweeper. Catalog is required; Archiver is optional
// and, when nil, sweeps only report candidates.
type SweepConfig struct {
	Catalog  DatasetLister
	Archiver *archiver.Archiver
	Settings SweepSettings
	Auditor  core.Auditor
	Notifier notifier.Notifier
	Metrics  core.Metrics
	Log      logger.Logger
}

// Sweeper evaluates the catalog on each daemon run.
type Sweeper struct {
	catalog  DatasetLister
	archiver *archiver.Archiver
	engine   *governance.Engine
	auditor  core.Auditor
	notify   notifier.Notifier
	metrics  core.Metrics
	log      logger.Logger

	mu       sync.RWMutex
	settings SweepSettings
	last     *notifier.SweepSummary
}

// NewSweeper creates a sweeper. Unset dependencies become no-ops.
func NewSweeper(cfg SweepConfig) *Sweeper {
	if cfg.Notifier == nil {
		cfg.Notifier = &notifier.NoopNotifier{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.NewNoop()
	}
	if cfg.Log == nil {
		cfg.Log = logger.NewNop()
	}
	if cfg.Settings.Mode == "" {
		cfg.Settings.Mode = core.ModeDryRun
	}
	return &Sweeper{
		catalog:  cfg.Catalog,
		archiver: cfg.Archiver,
		engine:   governance.NewEngineWithLogger(cfg.Log),
		auditor:  cfg.Auditor,
		notify:   cfg.Notifier,
		metrics:  cfg.Metrics,
		log:      cfg.Log,
		settings: cfg.Settings,
	}
}

// SetSettings replaces thresholds and mode for later sweeps.
func (s *Sweeper) SetSettings(st SweepSettings) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings = st
}

// Settings returns the current sweep settings.
func (s *Sweeper) Settings() SweepSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// LastSummary returns a copy of the most recent sweep summary, if any.
func (s *Sweeper) LastSummary() (notifier.SweepSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return notifier.SweepSummary{}, false
	}
	return *s.last, true
}

// Run performs one sweep. It matches RunFunc.
func (s *Sweeper) Run(ctx context.Context) error {
	st := s.Settings()
	runID := uuid.NewString()
	start := time.Now()
	log := s.log.WithFields(logger.F("run_id", runID))

	summary := &notifier.SweepSummary{
		RunID:     runID,
		Mode:      string(st.Mode),
		StartedAt: start.UTC(),
	}

	recs, err := s.catalog.ListDatasets(ctx)
	if err != nil {
		err = fmt.Errorf("list datasets: %w", err)
		s.finish(ctx, log, summary, start, err)
		return err
	}
	summary.Datasets = len(recs)

	rep := s.engine.Evaluate(recs, st.Thresholds)
	summary.Candidates = rep.Count
	summary.CandidateSizeMB = rep.CandidateSizeMB()
	s.metrics.SetArchiveCandidates(rep.Count, summary.CandidateSizeMB)

	if s.auditor != nil {
		for _, ev := range rep.Candidates {
			s.auditor.Record(ctx, core.NewEvaluateAuditEvent(runID, st.Thresholds, ev))
		}
	}

	if share, ok := governance.DominantSource(recs); ok {
		summary.TopSource = share.Source
		summary.TopSourcePct = share.Percent
	}

	if s.archiver != nil && rep.Count > 0 {
		ar := s.archiver.Apply(ctx, rep.Candidates, st.Mode)
		summary.Archived = ar.Archived
		summary.Denied = ar.Denied
		summary.Errors = ar.Errors
		for _, it := range ar.Items {
			if it.Error != "" {
				summary.ErrorMessages = append(summary.ErrorMessages, it.Name+": "+it.Error)
			}
		}
	}

	err = ctx.Err()
	s.finish(ctx, log, summary, start, err)
	return err
}

func (s *Sweeper) finish(ctx context.Context, log logger.Logger, summary *notifier.SweepSummary, start time.Time, err error) {
	d := time.Since(start)
	summary.CompletedAt = time.Now().UTC()
	summary.Duration = d.Round(time.Millisecond).String()

	s.metrics.ObserveSweep(d, err)

	event := notifier.EventSweepCompleted
	payload := notifier.NewPayload(event, "")
	if err != nil {
		summary.Errors++
		summary.ErrorMessages = append(summary.ErrorMessages, err.Error())
		payload.Event = notifier.EventSweepFailed
		payload.Message = err.Error()
		log.Error("sweep failed", logger.F("error", err))
	} else {
		log.Info("sweep complete",
			logger.F("datasets", summary.Datasets),
			logger.F("candidates", summary.Candidates),
			logger.F("candidate_mb", summary.CandidateSizeMB),
			logger.F("archived", summary.Archived),
			logger.F("mode", summary.Mode))
	}
	payload.Summary = summary

	s.mu.Lock()
	cp := *summary
	s.last = &cp
	s.mu.Unlock()

	// Use a fresh context so a canceled sweep still reports.
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if nerr := s.notify.Notify(nctx, payload); nerr != nil {
		log.Warn("sweep notification failed", logger.F("error", nerr))
	}
}
