package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"finopstrack/internal/core"
)

type activityResponse struct {
	ID        int64  `json:"id"`
	TaskID    *int64 `json:"task_id,omitempty"`
	SubtaskID *int64 `json:"subtask_id,omitempty"`
	Action    string `json:"action"`
	UserName  string `json:"user_name"`
	Details   string `json:"details"`
	CreatedAt string `json:"created_at"`
}

type alertResponse struct {
	ID        int64  `json:"id"`
	TaskID    int64  `json:"task_id"`
	SubtaskID int64  `json:"subtask_id"`
	AlertType string `json:"alert_type"`
	DedupKey  string `json:"dedup_key"`
	CreatedAt string `json:"created_at"`
}

// handleActivityLog serves GET /activity-log?taskId=&userId=&action=&date=&limit=.
// userId matches the free-text user name recorded on each entry.
func (s *Server) handleActivityLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := core.ActivityFilter{
		UserName: strings.TrimSpace(q.Get("userId")),
		Action:   strings.TrimSpace(q.Get("action")),
		Limit:    parseIntDefault(q.Get("limit"), 50),
	}
	if raw := strings.TrimSpace(q.Get("taskId")); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "taskId must be an integer")
			return
		}
		filter.TaskID = &id
	}
	if raw := strings.TrimSpace(q.Get("date")); raw != "" {
		day, err := core.ParseDate(raw, s.engine.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
			return
		}
		filter.Day = day
	}
	entries, err := s.engine.ActivityLog(r.Context(), filter)
	if err != nil {
		s.writeEngineError(w, "list activity", err)
		return
	}
	resp := make([]activityResponse, 0, len(entries))
	for _, e := range entries {
		resp = append(resp, activityResponse{
			ID:        e.ID,
			TaskID:    e.TaskID,
			SubtaskID: e.SubtaskID,
			Action:    e.Action,
			UserName:  e.UserName,
			Details:   e.Details,
			CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(w, r, "taskID")
	if !ok {
		return
	}
	if _, err := s.engine.GetTask(r.Context(), taskID); err != nil {
		s.writeEngineError(w, "get task", err)
		return
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 20)
	alerts, err := s.store.ListAlerts(r.Context(), taskID, limit)
	if err != nil {
		s.logger.Error("list alerts", "task_id", taskID, "err", err)
		writeError(w, http.StatusServiceUnavailable, "dependency_unavailable", "failed to list alerts")
		return
	}
	resp := make([]alertResponse, 0, len(alerts))
	for _, a := range alerts {
		resp = append(resp, alertResponse{
			ID:        a.ID,
			TaskID:    a.TaskID,
			SubtaskID: a.SubtaskID,
			AlertType: string(a.AlertType),
			DedupKey:  a.DedupKey,
			CreatedAt: a.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
