package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/ChrisB0-2/opsdash/internal/assistant"
	"github.com/ChrisB0-2/opsdash/internal/core"
	"github.com/ChrisB0-2/opsdash/internal/logger"
)

type chatRequest struct {
	System  string              `json:"system"`
	Prompt  string              `json:"prompt"`
	History []assistant.Message `json:"history"`
}

// handleChat relays assistant deltas as server-sent events. Each delta is
// a JSON string in a "data:" frame; the stream ends with "data: [DONE]".
// Failures before the first delta are plain JSON errors; later failures
// arrive as an "error" event.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if s.chat == nil || !s.chat.Configured() {
		s.fail(w, r, fmt.Errorf("chat assistant: %w", core.ErrNotConfigured))
		return
	}

	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeError(w, http.StatusBadRequest, "prompt is required")
		return
	}
	system := req.System
	if strings.TrimSpace(system) == "" {
		system = s.systemRole
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	content, errc := s.chat.Stream(r.Context(), system, req.Prompt, req.History)

	first, open := <-content
	if !open {
		if err := <-errc; err != nil {
			s.fail(w, r, err)
			return
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(delta string) {
		b, _ := json.Marshal(delta)
		fmt.Fprintf(w, "data: %s\n\n", b)
		flusher.Flush()
	}

	if open {
		send(first)
		for delta := range content {
			send(delta)
		}
		if err := <-errc; err != nil {
			s.log.Warn("chat stream interrupted",
				logger.F("request_id", RequestID(r.Context())),
				logger.F("error", err))
			b, _ := json.Marshal(map[string]string{"error": err.Error()})
			fmt.Fprintf(w, "event: error\ndata: %s\n\n", b)
			flusher.Flush()
			return
		}
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
