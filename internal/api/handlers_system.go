package api

import (
	"context"
	"net/http"
	"time"
)

type summaryResponse struct {
	Tasks    map[string]int `json:"tasks"`
	Subtasks map[string]int `json:"subtasks"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleSummary returns dashboard counts of active tasks by status and their subtasks by status.
func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	tasks, subtasks, err := s.store.StatusCounts(r.Context())
	if err != nil {
		s.logger.Error("status counts", "err", err)
		writeError(w, http.StatusServiceUnavailable, "dependency_unavailable", "failed to load summary")
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{Tasks: tasks, Subtasks: subtasks})
}
