// Package catalog runs the dataset catalog workflows shared by the HTTP
// API and the CLI: listing with filters, CSV import and export.
package catalog

import (
	"context"
	"fmt"
	"io"

	"github.com/ChrisB0-2/opsdash/internal/core"
	"github.com/ChrisB0-2/opsdash/internal/governance"
	"github.com/ChrisB0-2/opsdash/internal/logger"
	"github.com/ChrisB0-2/opsdash/internal/metrics"
	"github.com/ChrisB0-2/opsdash/internal/notifier"
	"github.com/ChrisB0-2/opsdash/internal/store"
)

// TableName is the audit target for catalog loads.
const TableName = "datasets_metadata"

// Repository is the slice of the store the service needs.
type Repository interface {
	ListDatasets(ctx context.Context) ([]core.DatasetRecord, error)
	LoadDatasetsCSV(ctx context.Context, r io.Reader, force bool) (store.LoadResult, error)
	ExportDatasetsCSV(ctx context.Context, w io.Writer) error
}

// Config wires a Service. Only Repo is required.
type Config struct {
	Repo     Repository
	Auditor  core.Auditor
	Notifier notifier.Notifier
	Metrics  core.Metrics
	Log      logger.Logger
}

// Service wraps the catalog store with audit, notification and metrics.
type Service struct {
	repo    Repository
	auditor core.Auditor
	notify  notifier.Notifier
	metrics core.Metrics
	log     logger.Logger
}

// NewService fills unset dependencies with no-op implementations.
func NewService(cfg Config) *Service {
	s := &Service{
		repo:    cfg.Repo,
		auditor: cfg.Auditor,
		notify:  cfg.Notifier,
		metrics: cfg.Metrics,
		log:     cfg.Log,
	}
	if s.notify == nil {
		s.notify = &notifier.NoopNotifier{}
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNoop()
	}
	if s.log == nil {
		s.log = logger.NewNop()
	}
	return s
}

// ListDatasets returns the whole catalog. It satisfies the sweeper's
// lister so scheduled sweeps refresh the same gauge.
func (s *Service) ListDatasets(ctx context.Context) ([]core.DatasetRecord, error) {
	recs, err := s.repo.ListDatasets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	s.metrics.SetDatasetsTotal(len(recs))
	return recs, nil
}

// List returns the records matching f.
func (s *Service) List(ctx context.Context, f governance.Filter) ([]core.DatasetRecord, error) {
	recs, err := s.ListDatasets(ctx)
	if err != nil {
		return nil, err
	}
	return f.Apply(recs), nil
}

// Load imports a catalog CSV. Without force a populated catalog is left
// alone and the result is marked skipped.
func (s *Service) Load(ctx context.Context, r io.Reader, force bool) (store.LoadResult, error) {
	res, err := s.repo.LoadDatasetsCSV(ctx, r, force)

	if s.auditor != nil {
		evt := core.AuditEvent{
			Level:  "info",
			Action: core.AuditActionCatalogLoad,
			Target: TableName,
			Fields: map[string]any{
				"force":    force,
				"inserted": res.Inserted,
				"replaced": res.Replaced,
				"skipped":  res.Skipped,
			},
			Err: err,
		}
		if err != nil {
			evt.Level = "error"
		}
		s.auditor.Record(ctx, evt)
	}
	if err != nil {
		return res, fmt.Errorf("load datasets: %w", err)
	}

	s.log.Info("datasets loaded",
		logger.F("inserted", res.Inserted),
		logger.F("replaced", res.Replaced),
		logger.F("skipped", res.Skipped))

	if res.Inserted > 0 {
		payload := notifier.NewPayload(notifier.EventCatalogLoaded, fmt.Sprintf("Loaded %d datasets", res.Inserted))
		payload.Details = map[string]string{"table": TableName}
		if err := s.notify.Notify(ctx, payload); err != nil {
			s.log.Warn("load notification failed", logger.F("error", err))
		}
	}

	if _, err := s.ListDatasets(ctx); err != nil {
		s.log.Warn("refresh dataset gauge failed", logger.F("error", err))
	}
	return res, nil
}

// Export writes the catalog as CSV.
func (s *Service) Export(ctx context.Context, w io.Writer) error {
	if err := s.repo.ExportDatasetsCSV(ctx, w); err != nil {
		return fmt.Errorf("export datasets: %w", err)
	}
	return nil
}
