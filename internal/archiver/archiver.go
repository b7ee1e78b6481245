// Package archiver applies archive recommendations to the catalog.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ChrisB0-2/opsdash/internal/core"
	"github.com/ChrisB0-2/opsdash/internal/logger"
	"github.com/ChrisB0-2/opsdash/internal/metrics"
	"github.com/ChrisB0-2/opsdash/internal/safety"
)

// Action result reasons.
const (
	ReasonWouldArchive    = "would_archive"
	ReasonArchived        = "archived"
	ReasonAlreadyArchived = "already_archived"
	ReasonNotCandidate    = "not_candidate"
	ReasonSafetyDeny      = "safety_deny"
	ReasonNotFound        = "not_found"
	ReasonArchiveFailed   = "archive_failed"
	ReasonInvalidMode     = "invalid_mode"
	ReasonCanceled        = "ctx_canceled"
)

// Catalog is the write side of the dataset store.
type Catalog interface {
	SetArchived(ctx context.Context, id int64, archived bool) error
}

// Archiver flips the archived flag on recommended datasets.
// Safety is checked for every record immediately before the write, and
// every outcome is audited when an auditor is attached.
type Archiver struct {
	cat     Catalog
	safe    *safety.Engine
	mu      sync.RWMutex
	cfg     safety.Config
	aud     core.Auditor
	now     func() time.Time
	log     logger.Logger
	metrics core.Metrics
}

// New creates an archiver with no-op logging and metrics.
func New(cat Catalog, safe *safety.Engine, cfg safety.Config) *Archiver {
	if safe == nil {
		safe = safety.New()
	}
	return &Archiver{
		cat:     cat,
		safe:    safe,
		cfg:     cfg,
		now:     time.Now,
		log:     logger.NewNop(),
		metrics: metrics.NewNoop(),
	}
}

// WithLogger sets the logger. Nil keeps the current one.
func (a *Archiver) WithLogger(log logger.Logger) *Archiver {
	if log != nil {
		a.log = log
	}
	return a
}

// WithMetrics sets the metrics sink. Nil keeps the current one.
func (a *Archiver) WithMetrics(m core.Metrics) *Archiver {
	if m != nil {
		a.metrics = m
	}
	return a
}

// WithAuditor attaches an auditor (optional). Safe to pass nil.
func (a *Archiver) WithAuditor(aud core.Auditor) *Archiver {
	a.aud = aud
	return a
}

// SetSafetyConfig swaps the protection lists, e.g. after a config reload.
func (a *Archiver) SetSafetyConfig(cfg safety.Config) {
	a.mu.Lock()
	a.cfg = cfg
	a.mu.Unlock()
}

func (a *Archiver) safetyConfig() safety.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Execute performs the action for one evaluation.
//
// Gates in order:
//  1. the record must be a candidate
//  2. already archived records are left alone
//  3. safety must allow the record
//  4. dry-run: report would_archive
//  5. execute: set the archived flag
func (a *Archiver) Execute(ctx context.Context, ev core.Evaluation, mode core.Mode) (res core.ActionResult) {
	res = core.ActionResult{
		DatasetID: ev.Record.ID,
		Name:      ev.Record.Name,
		Mode:      mode,
		StartedAt: a.now(),
	}

	var verdict core.SafetyVerdict
	defer func() {
		if res.FinishedAt.IsZero() {
			res.FinishedAt = a.now()
		}
		a.metrics.IncArchiveAction(core.ReasonKey(res.Reason))
		a.record(ctx, ev, verdict, res)
	}()

	select {
	case <-ctx.Done():
		res.Reason = ReasonCanceled
		res.Err = ctx.Err()
		return res
	default:
	}

	if !ev.IsCandidate {
		res.Reason = ReasonNotCandidate
		return res
	}

	if ev.Record.Archived {
		res.Reason = ReasonAlreadyArchived
		return res
	}

	verdict = a.safe.Validate(ctx, ev.Record, a.safetyConfig())
	if !verdict.Allowed {
		res.Reason = ReasonSafetyDeny
		return res
	}

	if mode == core.ModeDryRun {
		res.Reason = ReasonWouldArchive
		return res
	}

	if mode != core.ModeExecute {
		res.Reason = ReasonInvalidMode
		res.Err = fmt.Errorf("invalid mode %q", mode)
		return res
	}

	if err := a.cat.SetArchived(ctx, ev.Record.ID, true); err != nil {
		if errors.Is(err, core.ErrNotFound) {
			res.Reason = ReasonNotFound
			res.Err = err
			return res
		}
		a.log.Warn("archive failed", logger.F("dataset", ev.Record.Name), logger.F("error", err))
		res.Reason = ReasonArchiveFailed
		res.Err = err
		return res
	}

	a.log.Info("archived",
		logger.F("dataset_id", ev.Record.ID),
		logger.F("dataset", ev.Record.Name),
		logger.F("size_mb", ev.Record.SizeMB))
	res.Archived = true
	res.Reason = ReasonArchived
	return res
}

// record writes one audit event if an auditor is configured.
// A panicking auditor never breaks the archive run.
func (a *Archiver) record(ctx context.Context, ev core.Evaluation, sv core.SafetyVerdict, res core.ActionResult) {
	if a.aud == nil {
		return
	}
	evt := core.NewArchiveAuditEvent(ev, sv, res)
	evt.Time = res.FinishedAt

	defer func() { _ = recover() }()
	a.aud.Record(ctx, evt)
}

// Report totals a batch run.
type Report struct {
	Mode         core.Mode           `json:"mode"`
	Results      []core.ActionResult `json:"-"`
	Items        []Item              `json:"results"`
	Archived     int                 `json:"archived"`
	WouldArchive int                 `json:"would_archive"`
	Denied       int                 `json:"denied"`
	Skipped      int                 `json:"skipped"`
	Errors       int                 `json:"errors"`
	SizeMB       float64             `json:"size_mb"`
}

// Item is the JSON view of one result.
type Item struct {
	DatasetID int64  `json:"dataset_id"`
	Name      string `json:"name"`
	Reason    string `json:"reason"`
	Archived  bool   `json:"archived"`
	Error     string `json:"error,omitempty"`
}

// Apply runs Execute over evals in order. SizeMB sums the records that
// were archived, or would be in dry-run. A canceled context stops the
// batch after the current item.
func (a *Archiver) Apply(ctx context.Context, evals []core.Evaluation, mode core.Mode) Report {
	rep := Report{Mode: mode}
	for _, ev := range evals {
		res := a.Execute(ctx, ev, mode)
		rep.add(ev, res)
		if res.Reason == ReasonCanceled {
			break
		}
	}

	a.log.Info("archive run complete",
		logger.F("mode", string(mode)),
		logger.F("archived", rep.Archived),
		logger.F("would_archive", rep.WouldArchive),
		logger.F("denied", rep.Denied),
		logger.F("errors", rep.Errors))
	return rep
}

func (r *Report) add(ev core.Evaluation, res core.ActionResult) {
	r.Results = append(r.Results, res)
	it := Item{DatasetID: res.DatasetID, Name: res.Name, Reason: res.Reason, Archived: res.Archived}
	if res.Err != nil {
		it.Error = res.Err.Error()
	}
	r.Items = append(r.Items, it)

	switch {
	case res.Err != nil:
		r.Errors++
	case res.Reason == ReasonArchived:
		r.Archived++
		r.SizeMB += ev.Record.SizeMB
	case res.Reason == ReasonWouldArchive:
		r.WouldArchive++
		r.SizeMB += ev.Record.SizeMB
	case res.Reason == ReasonSafetyDeny:
		r.Denied++
	default:
		r.Skipped++
	}
}
