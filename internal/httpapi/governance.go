package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ChrisB0-2/opsdash/internal/archiver"
	"github.com/ChrisB0-2/opsdash/internal/core"
	"github.com/ChrisB0-2/opsdash/internal/governance"
	"github.com/ChrisB0-2/opsdash/internal/logger"
)

// CandidatesFilename is the download name of the candidate export.
const CandidatesFilename = "archive_candidates.csv"

// parseThresholds overlays age_days, size_mb and min_rows from the query
// onto def and validates the result.
func parseThresholds(r *http.Request, def core.Thresholds) (core.Thresholds, error) {
	q := r.URL.Query()
	th := def

	if v := q.Get("age_days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return th, fmt.Errorf("%w: age_days %q is not an integer", core.ErrInvalidThreshold, v)
		}
		th.AgeDays = n
	}
	if v := q.Get("size_mb"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return th, fmt.Errorf("%w: size_mb %q is not a number", core.ErrInvalidThreshold, v)
		}
		th.SizeMB = f
	}
	if v := q.Get("min_rows"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return th, fmt.Errorf("%w: min_rows %q is not an integer", core.ErrInvalidThreshold, v)
		}
		th.MinRows = n
	}

	if err := th.Validate(); err != nil {
		return th, err
	}
	return th, nil
}

// evaluate loads the filtered catalog and runs the archive rule.
func (s *Server) evaluate(r *http.Request) (governance.Report, []core.DatasetRecord, core.Thresholds, error) {
	th, err := parseThresholds(r, s.defaults())
	if err != nil {
		return governance.Report{}, nil, th, err
	}
	recs, err := s.catalog.List(r.Context(), parseFilter(r))
	if err != nil {
		return governance.Report{}, nil, th, err
	}
	return s.engine.Evaluate(recs, th), recs, th, nil
}

// candidateView flattens an evaluation for the candidate table.
type candidateView struct {
	ID           int64      `json:"id"`
	Name         string     `json:"dataset_name"`
	Source       string     `json:"source"`
	Category     string     `json:"category"`
	SizeMB       float64    `json:"file_size_mb"`
	RecordCount  int64      `json:"record_count"`
	LastUpdated  *time.Time `json:"last_updated"`
	AgeDays      int        `json:"age_days"`
	NeverUpdated bool       `json:"never_updated"`
	Archived     bool       `json:"archived"`
	Reason       string     `json:"reason"`
}

func newCandidateView(ev core.Evaluation) candidateView {
	return candidateView{
		ID:           ev.Record.ID,
		Name:         ev.Record.Name,
		Source:       ev.Record.Source,
		Category:     ev.Record.Category,
		SizeMB:       ev.Record.SizeMB,
		RecordCount:  ev.Record.RecordCount,
		LastUpdated:  ev.Record.LastUpdated,
		AgeDays:      ev.AgeDays,
		NeverUpdated: ev.Record.LastUpdated == nil,
		Archived:     ev.Record.Archived,
		Reason:       ev.Reason,
	}
}

type archiveResponse struct {
	Thresholds      core.Thresholds `json:"thresholds"`
	Evaluated       int             `json:"evaluated"`
	Count           int             `json:"count"`
	CandidateSizeMB float64         `json:"candidate_size_mb"`
	Candidates      []candidateView `json:"candidates"`
	Recommendations []string        `json:"recommendations"`
}

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	rep, recs, th, err := s.evaluate(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	views := make([]candidateView, 0, rep.Count)
	for _, ev := range rep.Candidates {
		views = append(views, newCandidateView(ev))
	}
	writeJSON(w, http.StatusOK, archiveResponse{
		Thresholds:      th,
		Evaluated:       len(rep.All),
		Count:           rep.Count,
		CandidateSizeMB: rep.CandidateSizeMB(),
		Candidates:      views,
		Recommendations: governance.Recommendations(recs),
	})
}

func (s *Server) handleArchiveCSV(w http.ResponseWriter, r *http.Request) {
	rep, _, _, err := s.evaluate(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+CandidatesFilename+`"`)
	if err := governance.WriteCandidatesCSV(w, rep.Candidates); err != nil {
		s.log.Error("candidate export failed", loggerFields(r, err)...)
	}
}

type applyResponse struct {
	Thresholds core.Thresholds `json:"thresholds"`
	archiver.Report
}

func (s *Server) handleArchiveApply(w http.ResponseWriter, r *http.Request) {
	if s.archiver == nil {
		s.fail(w, r, fmt.Errorf("archiver: %w", core.ErrNotConfigured))
		return
	}

	mode := core.Mode(r.URL.Query().Get("mode"))
	switch mode {
	case "":
		mode = core.ModeDryRun
	case core.ModeDryRun, core.ModeExecute:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("mode must be %q or %q", core.ModeDryRun, core.ModeExecute))
		return
	}

	rep, _, th, err := s.evaluate(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	res := s.archiver.Apply(r.Context(), rep.Candidates, mode)
	s.log.Info("archive applied",
		logger.F("request_id", RequestID(r.Context())),
		logger.F("mode", string(mode)),
		logger.F("candidates", rep.Count),
		logger.F("archived", res.Archived),
		logger.F("denied", res.Denied))
	writeJSON(w, http.StatusOK, applyResponse{Thresholds: th, Report: res})
}

func loggerFields(r *http.Request, err error) []logger.Field {
	return []logger.Field{
		logger.F("request_id", RequestID(r.Context())),
		logger.F("path", r.URL.Path),
		logger.F("error", err),
	}
}
