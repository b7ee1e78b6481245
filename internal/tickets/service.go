package tickets

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/ChrisB0-2/opsdash/internal/core"
	"github.com/ChrisB0-2/opsdash/internal/logger"
	"github.com/ChrisB0-2/opsdash/internal/metrics"
	"github.com/ChrisB0-2/opsdash/internal/notifier"
	"github.com/ChrisB0-2/opsdash/internal/store"
)

// Repository is the slice of the store the service needs.
type Repository interface {
	ListTickets(ctx context.Context) ([]core.Ticket, error)
	LoadTicketsCSV(ctx context.Context, r io.Reader, force bool) (store.LoadResult, error)
	UpdateTicket(ctx context.Context, id int64, u store.TicketUpdate) (before, after core.Ticket, err error)
}

// Config wires a Service. Only Repo is required.
type Config struct {
	Repo     Repository
	Auditor  core.Auditor
	Notifier notifier.Notifier
	Metrics  core.Metrics
	Log      logger.Logger
}

// Service runs the ticket workflows.
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

// Board is everything the ticket page renders.
type Board struct {
	Summary      Summary       `json:"summary"`
	Queue        []QueueItem   `json:"queue"`
	More         int           `json:"more"`
	StatusCounts []StatusCount `json:"status_counts"`
	Tickets      []core.Ticket `json:"tickets"`
	Statuses     []string      `json:"valid_statuses"`
}

// List returns all tickets and refreshes the status gauge.
func (s *Service) List(ctx context.Context) ([]core.Ticket, error) {
	ts, err := s.repo.ListTickets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	s.metrics.SetTicketsByStatus(StatusHistogram(ts))
	return ts, nil
}

// Board assembles the ticket page with a queue of at most queueLimit entries.
func (s *Service) Board(ctx context.Context, queueLimit int) (Board, error) {
	ts, err := s.List(ctx)
	if err != nil {
		return Board{}, err
	}
	if ts == nil {
		ts = []core.Ticket{}
	}
	q, more := Queue(ts, queueLimit)
	return Board{
		Summary:      Summarize(ts),
		Queue:        q,
		More:         more,
		StatusCounts: OpenStatusCounts(ts),
		Tickets:      ts,
		Statuses:     ValidStatuses,
	}, nil
}

// Update applies a status and/or assignee change on behalf of actor.
// The status must be one of ValidStatuses.
func (s *Service) Update(ctx context.Context, actor string, id int64, u store.TicketUpdate) (core.Ticket, error) {
	if u.Status != nil {
		st, err := NormalizeStatus(*u.Status)
		if err != nil {
			return core.Ticket{}, err
		}
		u.Status = &st
	}

	before, after, err := s.repo.UpdateTicket(ctx, id, u)
	if err != nil {
		return core.Ticket{}, err
	}

	s.metrics.IncTicketUpdates(after.Status)
	if s.auditor != nil {
		s.auditor.Record(ctx, core.NewTicketAuditEvent(actor, before, after))
	}
	s.log.Info("ticket updated",
		logger.F("id", id),
		logger.F("ticket_id", after.TicketID),
		logger.F("status", after.Status),
		logger.F("actor", actor))

	payload := notifier.NewPayload(notifier.EventTicketUpdated,
		fmt.Sprintf("%s %s: %s -> %s", StatusEmoji(after.Status), after.TicketID, before.Status, after.Status))
	payload.Details = map[string]string{
		"id":       strconv.FormatInt(after.ID, 10),
		"subject":  after.Subject,
		"assignee": after.AssignedTo,
		"actor":    actor,
	}
	if err := s.notify.Notify(ctx, payload); err != nil {
		s.log.Warn("ticket notification failed", logger.F("error", err))
	}

	if _, err := s.List(ctx); err != nil {
		s.log.Warn("refresh ticket gauge failed", logger.F("error", err))
	}
	return after, nil
}

// Bootstrap loads tickets from CSV. Without force an already populated
// table is left alone and the result reports the rows as skipped.
func (s *Service) Bootstrap(ctx context.Context, r io.Reader, force bool) (store.LoadResult, error) {
	res, err := s.repo.LoadTicketsCSV(ctx, r, force)

	evt := core.AuditEvent{
		Level:  "info",
		Action: core.AuditActionCatalogLoad,
		Target: "it_tickets",
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
	if s.auditor != nil {
		s.auditor.Record(ctx, evt)
	}
	if err != nil {
		return res, fmt.Errorf("load tickets: %w", err)
	}

	s.log.Info("tickets loaded",
		logger.F("inserted", res.Inserted),
		logger.F("replaced", res.Replaced),
		logger.F("skipped", res.Skipped))

	if res.Inserted > 0 {
		payload := notifier.NewPayload(notifier.EventCatalogLoaded, fmt.Sprintf("Loaded %d tickets", res.Inserted))
		payload.Details = map[string]string{"table": "it_tickets"}
		if err := s.notify.Notify(ctx, payload); err != nil {
			s.log.Warn("load notification failed", logger.F("error", err))
		}
	}

	if _, err := s.List(ctx); err != nil {
		s.log.Warn("refresh ticket gauge failed", logger.F("error", err))
	}
	return res, nil
}
