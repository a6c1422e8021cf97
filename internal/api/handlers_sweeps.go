package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"
)

type runTaskRequest struct {
	UserName string `json:"user_name"`
}

type scheduleResponse struct {
	Now  string              `json:"now"`
	Jobs map[string][]string `json:"jobs"`
}

func (s *Server) handleRunTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(w, r, "taskID")
	if !ok {
		return
	}
	var req runTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	task, err := s.resetter.RunTask(r.Context(), taskID, req.UserName)
	if err != nil {
		s.writeEngineError(w, "run task", err)
		return
	}
	writeJSON(w, http.StatusOK, s.taskToResponse(task))
}

func (s *Server) handleCheckSLA(w http.ResponseWriter, r *http.Request) {
	report, err := s.detector.Sweep(r.Context())
	if err != nil {
		s.writeEngineError(w, "check sla", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDailyReset(w http.ResponseWriter, r *http.Request) {
	report, err := s.resetter.ResetDue(r.Context())
	if err != nil {
		s.writeEngineError(w, "daily reset", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleSchedule previews when the periodic sweeps fire next.
func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	count := parseIntDefault(r.URL.Query().Get("count"), 5)
	if count <= 0 || count > 20 {
		count = 5
	}
	now := s.engine.Now().In(s.engine.Location())
	resp := scheduleResponse{
		Now:  now.Format(time.RFC3339),
		Jobs: map[string][]string{},
	}
	if s.scheduler != nil {
		for name, times := range s.scheduler.Upcoming(now, count) {
			formatted := make([]string, 0, len(times))
			for _, t := range times {
				formatted = append(formatted, t.Format(time.RFC3339))
			}
			resp.Jobs[name] = formatted
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
