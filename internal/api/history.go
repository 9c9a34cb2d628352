package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/nerrad567/sscma-core/internal/history"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500

	// maxQueryParamLen limits query parameter length.
	maxQueryParamLen = 100
)

// parseHistoryLimit parses the limit query parameter.
func parseHistoryLimit(raw string) (int, error) {
	if raw == "" {
		return defaultHistoryLimit, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit")
	}
	if limit > maxHistoryLimit {
		return 0, fmt.Errorf("limit exceeds maximum")
	}
	return limit, nil
}

// historyAvailable writes 503 when no history repository is configured.
func (s *Server) historyAvailable(w http.ResponseWriter) bool {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "history is disabled")
		return false
	}
	return true
}

// handleHistoryEvents returns recent device events, optionally filtered by ?name=.
func (s *Server) handleHistoryEvents(w http.ResponseWriter, r *http.Request) {
	if !s.historyAvailable(w) {
		return
	}
	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	name := r.URL.Query().Get("name")
	if len(name) > maxQueryParamLen {
		writeBadRequest(w, "invalid name")
		return
	}

	events, err := s.history.RecentEvents(r.Context(), history.EventFilter{Name: name, Limit: limit})
	if err != nil {
		s.logger.Error("history query failed", "error", err)
		writeInternalError(w, "failed to query events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events, "count": len(events)})
}

func (s *Server) handleHistoryLogs(w http.ResponseWriter, r *http.Request) {
	if !s.historyAvailable(w) {
		return
	}
	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	logs, err := s.history.RecentLogs(r.Context(), limit)
	if err != nil {
		s.logger.Error("history query failed", "error", err)
		writeInternalError(w, "failed to query logs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs, "count": len(logs)})
}

func (s *Server) handleHistorySessions(w http.ResponseWriter, r *http.Request) {
	if !s.historyAvailable(w) {
		return
	}
	limit, err := parseHistoryLimit(r.URL.Query().Get("limit"))
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}

	sessions, err := s.history.Sessions(r.Context(), limit)
	if err != nil {
		s.logger.Error("history query failed", "error", err)
		writeInternalError(w, "failed to query sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions, "count": len(sessions)})
}
