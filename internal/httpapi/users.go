package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/ChrisB0-2/opsdash/internal/auth"
	"github.com/ChrisB0-2/opsdash/internal/core"
	"github.com/ChrisB0-2/opsdash/internal/logger"
)

func (s *Server) handleUserList(w http.ResponseWriter, r *http.Request) {
	if s.users == nil {
		s.fail(w, r, fmt.Errorf("users: %w", core.ErrNotConfigured))
		return
	}
	us, err := s.users.ListUsers(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if us == nil {
		us = []core.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": us})
}

type newUser struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (s *Server) handleUserCreate(w http.ResponseWriter, r *http.Request) {
	if s.users == nil {
		s.fail(w, r, fmt.Errorf("users: %w", core.ErrNotConfigured))
		return
	}

	var in newUser
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}

	u, err := auth.NewUser(in.Username, in.Password, in.Role)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.users.CreateUser(r.Context(), u); err != nil {
		s.fail(w, r, err)
		return
	}

	s.log.Info("user created",
		logger.F("username", u.Username),
		logger.F("role", u.Role),
		logger.F("actor", auth.ActorFromContext(r.Context())))
	writeJSON(w, http.StatusCreated, u)
}
