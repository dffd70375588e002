package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"reviewscope/pkg/loop"
)

// analyzeHandler runs one user-triggered analysis
func (s *Server) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	res, err := s.loop.RequestAnalysis(r.Context(), true)
	if err != nil {
		if errors.Is(err, loop.ErrNotReady) {
			RenderError(w, r, err, http.StatusServiceUnavailable)
			return
		}
		RenderError(w, r, err, http.StatusInternalServerError)
		return
	}

	// single-flight: a request arriving mid-analysis is dropped
	if res == nil {
		RenderJSON(w, r, http.StatusOK, map[string]string{"status": "skipped", "reason": "analysis already in progress"})
		return
	}

	RenderJSON(w, r, http.StatusOK, res)
}

// getAutologHandler reports the auto-logging toggle
func (s *Server) getAutologHandler(w http.ResponseWriter, r *http.Request) {
	RenderJSON(w, r, http.StatusOK, map[string]bool{"enabled": s.loop.AutoLogging()})
}

// setAutologHandler flips the auto-logging toggle
func (s *Server) setAutologHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RenderError(w, r, fmt.Errorf("decode request: %w", err), http.StatusBadRequest)
		return
	}

	s.loop.SetAutoLogging(req.Enabled)
	RenderJSON(w, r, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

// statusHandler returns server and loop status
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	status := map[string]interface{}{
		"status":  "ok",
		"version": s.version,
		"time":    time.Now().UTC(),
		"loop":    s.loop.Status(),
	}

	if s.sink != nil {
		lastAttempt, ok := s.sink.Status()
		sinkStatus := map[string]interface{}{"ok": ok}
		if !lastAttempt.IsZero() {
			sinkStatus["last_attempt"] = lastAttempt.UTC()
		}
		status["sink"] = sinkStatus
	}

	if errMsg := s.visibleError(); errMsg != "" {
		status["error"] = errMsg
	}

	RenderJSON(w, r, http.StatusOK, status)
}

// historyHandler returns the bounded history buffer, oldest first
func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	RenderJSON(w, r, http.StatusOK, s.loop.History())
}

// failuresHandler returns recent diagnostics failures from the journal
func (s *Server) failuresHandler(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		RenderError(w, r, fmt.Errorf("journal disabled"), http.StatusNotFound)
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			RenderError(w, r, fmt.Errorf("invalid limit %q", v), http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	failures, err := s.journal.RecentFailures(r.Context(), limit)
	if err != nil {
		RenderError(w, r, err, http.StatusInternalServerError)
		return
	}
	RenderJSON(w, r, http.StatusOK, failures)
}
