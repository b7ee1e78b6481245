package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ChrisB0-2/opsdash/internal/auditor"
	"github.com/ChrisB0-2/opsdash/internal/core"
)

// Audit listing limits.
const (
	defaultAuditLimit = 100
	maxAuditLimit     = 1000
)

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		s.fail(w, r, fmt.Errorf("audit trail: %w", core.ErrNotConfigured))
		return
	}

	q := r.URL.Query()
	f := auditor.QueryFilter{
		Action: q.Get("action"),
		Level:  q.Get("level"),
		Target: q.Get("target"),
		Limit:  defaultAuditLimit,
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = min(n, maxAuditLimit)
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		f.Since = t
	}

	recs, err := s.audit.Query(r.Context(), f)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if recs == nil {
		recs = []auditor.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": recs, "count": len(recs)})
}

func (s *Server) handleAuditStats(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		s.fail(w, r, fmt.Errorf("audit trail: %w", core.ErrNotConfigured))
		return
	}
	st, err := s.audit.Stats(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}
