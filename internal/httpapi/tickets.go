package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/ChrisB0-2/opsdash/internal/auth"
	"github.com/ChrisB0-2/opsdash/internal/store"
)

func (s *Server) handleTicketBoard(w http.ResponseWriter, r *http.Request) {
	limit := s.queueSize
	if v := r.URL.Query().Get("queue"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "queue must be a non-negative integer")
			return
		}
		limit = n
	}

	board, err := s.tickets.Board(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (s *Server) handleTicketLoad(w http.ResponseWriter, r *http.Request) {
	body, err := uploadBody(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer body.Close()

	res, err := s.tickets.Bootstrap(r.Context(), body, queryBool(r, "force"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ticketPatch is the PATCH body. Absent fields are left unchanged.
type ticketPatch struct {
	Status     *string `json:"status"`
	AssignedTo *string `json:"assigned_to"`
}

func (s *Server) handleTicketUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid ticket id")
		return
	}

	var p ticketPatch
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if p.Status == nil && p.AssignedTo == nil {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}

	t, err := s.tickets.Update(r.Context(), auth.ActorFromContext(r.Context()), id,
		store.TicketUpdate{Status: p.Status, AssignedTo: p.AssignedTo})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}
