// Package httpapi serves the dashboard's JSON API and static pages.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/ChrisB0-2/opsdash/internal/archiver"
	"github.com/ChrisB0-2/opsdash/internal/assistant"
	"github.com/ChrisB0-2/opsdash/internal/auditor"
	"github.com/ChrisB0-2/opsdash/internal/auth"
	"github.com/ChrisB0-2/opsdash/internal/catalog"
	"github.com/ChrisB0-2/opsdash/internal/core"
	"github.com/ChrisB0-2/opsdash/internal/governance"
	"github.com/ChrisB0-2/opsdash/internal/logger"
	"github.com/ChrisB0-2/opsdash/internal/store"
	"github.com/ChrisB0-2/opsdash/internal/tickets"
)

// maxUploadBytes bounds CSV uploads.
const maxUploadBytes = 32 << 20

// Chatter streams assistant replies.
type Chatter interface {
	Configured() bool
	Stream(ctx context.Context, systemRole, prompt string, history []assistant.Message) (<-chan string, <-chan error)
}

// AuditReader serves the audit trail pages.
type AuditReader interface {
	Query(ctx context.Context, f auditor.QueryFilter) ([]auditor.AuditRecord, error)
	Stats(ctx context.Context) (*auditor.AuditStats, error)
}

// UserStore manages dashboard accounts.
type UserStore interface {
	CreateUser(ctx context.Context, u core.User) error
	ListUsers(ctx context.Context) ([]core.User, error)
}

// GovernanceDefaults supplies the thresholds used when a request omits them.
type GovernanceDefaults func() core.Thresholds

// Config wires the API. Catalog and Tickets are required; the rest
// answer 503 when unset.
type Config struct {
	Catalog    *catalog.Service
	Tickets    *tickets.Service
	Archiver   *archiver.Archiver
	Assistant  Chatter
	SystemRole string
	Audit      AuditReader
	Users      UserStore
	Defaults   GovernanceDefaults
	TopN       int
	QueueSize  int
	Static     fs.FS
	Log        logger.Logger
}

// Server holds the API dependencies.
type Server struct {
	catalog    *catalog.Service
	tickets    *tickets.Service
	archiver   *archiver.Archiver
	chat       Chatter
	systemRole string
	audit      AuditReader
	users      UserStore
	defaults   GovernanceDefaults
	topN       int
	queueSize  int
	static     fs.FS
	engine     *governance.Engine
	log        logger.Logger
}

// New builds a Server, filling defaults for unset options.
func New(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = logger.NewNop()
	}
	if cfg.Defaults == nil {
		cfg.Defaults = core.DefaultThresholds
	}
	if cfg.TopN <= 0 {
		cfg.TopN = 20
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = tickets.DefaultQueueSize
	}
	return &Server{
		catalog:    cfg.Catalog,
		tickets:    cfg.Tickets,
		archiver:   cfg.Archiver,
		chat:       cfg.Assistant,
		systemRole: cfg.SystemRole,
		audit:      cfg.Audit,
		users:      cfg.Users,
		defaults:   cfg.Defaults,
		topN:       cfg.TopN,
		queueSize:  cfg.QueueSize,
		static:     cfg.Static,
		engine:     governance.NewEngineWithLogger(cfg.Log),
		log:        cfg.Log,
	}
}

// Handler returns the routed API with request IDs and access logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/tickets", s.handleTicketBoard)
	mux.HandleFunc("POST /api/tickets/load", s.handleTicketLoad)
	mux.HandleFunc("PATCH /api/tickets/{id}", s.handleTicketUpdate)

	mux.HandleFunc("GET /api/datasets", s.handleDatasets)
	mux.HandleFunc("POST /api/datasets/load", s.handleDatasetLoad)
	mux.HandleFunc("GET /api/datasets/export.csv", s.handleDatasetExport)

	mux.HandleFunc("GET /api/governance/archive", s.handleArchive)
	mux.HandleFunc("GET /api/governance/archive.csv", s.handleArchiveCSV)
	mux.HandleFunc("POST /api/governance/archive/apply", s.handleArchiveApply)

	mux.HandleFunc("POST /api/chat", s.handleChat)

	mux.HandleFunc("GET /api/audit", s.handleAudit)
	mux.HandleFunc("GET /api/audit/stats", s.handleAuditStats)

	mux.HandleFunc("GET /api/users", s.handleUserList)
	mux.HandleFunc("POST /api/users", s.handleUserCreate)

	mux.HandleFunc("/api/", func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "no such endpoint")
	})

	if s.static != nil {
		mux.Handle("/", http.FileServerFS(s.static))
	}

	return s.withRequestID(mux)
}

type ctxKey struct{}

// RequestID returns the ID assigned to the request, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush lets the chat stream reach the client through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))

		s.log.Debug("request",
			logger.F("request_id", id),
			logger.F("method", r.Method),
			logger.F("path", r.URL.Path),
			logger.F("status", rec.status),
			logger.F("actor", auth.ActorFromContext(r.Context())),
			logger.F("duration", time.Since(start).String()))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// errBadRequest marks request validation failures.
var errBadRequest = errors.New("bad request")

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var se *assistant.StatusError
	switch {
	case errors.Is(err, core.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errBadRequest),
		errors.Is(err, core.ErrInvalidThreshold),
		errors.Is(err, core.ErrInvalidStatus),
		errors.Is(err, core.ErrMalformedCSV),
		errors.Is(err, auth.ErrWeakPassword),
		errors.Is(err, auth.ErrInvalidUser):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, core.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.As(err, &se):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// fail logs server-side failures and writes the mapped status.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			logger.F("request_id", RequestID(r.Context())),
			logger.F("path", r.URL.Path),
			logger.F("error", err))
	}
	writeError(w, status, err.Error())
}

func queryBool(r *http.Request, name string) bool {
	v, err := strconv.ParseBool(r.URL.Query().Get(name))
	return err == nil && v
}
