package api

import (
	"encoding/json"
	"net/http"

	"finopstrack/internal/core"
)

type subtaskStatusRequest struct {
	Status      string `json:"status"`
	UserName    string `json:"user_name"`
	DelayReason string `json:"delay_reason"`
	DelayNotes  string `json:"delay_notes"`
}

type subtaskStatusResponse struct {
	TaskID         int64   `json:"task_id"`
	SubtaskID      int64   `json:"subtask_id"`
	PreviousStatus string  `json:"previous_status"`
	Status         string  `json:"status"`
	TaskStatus     string  `json:"task_status"`
	StartedAt      *string `json:"started_at,omitempty"`
	CompletedAt    *string `json:"completed_at,omitempty"`
}

func (s *Server) handleSetSubtaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(w, r, "taskID")
	if !ok {
		return
	}
	subtaskID, ok := pathID(w, r, "subtaskID")
	if !ok {
		return
	}
	var req subtaskStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	result, err := s.engine.SetSubtaskStatus(r.Context(), core.SubtaskTransition{
		TaskID:      taskID,
		SubtaskID:   subtaskID,
		Status:      core.SubtaskStatus(req.Status),
		Actor:       req.UserName,
		DelayReason: req.DelayReason,
		DelayNotes:  req.DelayNotes,
	})
	if err != nil {
		s.writeEngineError(w, "update subtask status", err)
		return
	}
	writeJSON(w, http.StatusOK, subtaskStatusResponse{
		TaskID:         result.TaskID,
		SubtaskID:      result.SubtaskID,
		PreviousStatus: string(result.PreviousStatus),
		Status:         string(result.Status),
		TaskStatus:     string(result.TaskStatus),
		StartedAt:      formatTimePtr(result.StartedAt),
		CompletedAt:    formatTimePtr(result.CompletedAt),
	})
}
