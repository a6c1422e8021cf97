package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"finopstrack/internal/core"

	"github.com/go-chi/chi/v5"
)

type subtaskRequest struct {
	ID          *int64  `json:"id,omitempty"`
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
	StartTime   string  `json:"start_time"`
}

type taskRequest struct {
	Name               string           `json:"name"`
	Description        string           `json:"description"`
	Assignee           string           `json:"assignee"`
	ReportingManagers  []string         `json:"reporting_managers"`
	EscalationManagers []string         `json:"escalation_managers"`
	EffectiveFrom      string           `json:"effective_from"`
	Duration           string           `json:"duration"`
	IsActive           *bool            `json:"is_active"`
	Subtasks           []subtaskRequest `json:"subtasks"`
	UserName           string           `json:"user_name"`
}

type subtaskResponse struct {
	ID            int64   `json:"id"`
	TaskID        int64   `json:"task_id"`
	Name          string  `json:"name"`
	Description   *string `json:"description,omitempty"`
	StartTime     string  `json:"start_time"`
	OrderPosition int     `json:"order_position"`
	Status        string  `json:"status"`
	StartedAt     *string `json:"started_at,omitempty"`
	CompletedAt   *string `json:"completed_at,omitempty"`
	DelayReason   *string `json:"delay_reason,omitempty"`
	DelayNotes    *string `json:"delay_notes,omitempty"`
	Version       int64   `json:"version"`
	CreatedAt     string  `json:"created_at"`
	UpdatedAt     string  `json:"updated_at"`
}

type taskResponse struct {
	ID                 int64             `json:"id"`
	HumanID            string            `json:"human_id"`
	Name               string            `json:"name"`
	Description        string            `json:"description"`
	Assignee           string            `json:"assignee"`
	ReportingManagers  []string          `json:"reporting_managers"`
	EscalationManagers []string          `json:"escalation_managers"`
	EffectiveFrom      string            `json:"effective_from"`
	Duration           string            `json:"duration"`
	IsActive           bool              `json:"is_active"`
	Status             string            `json:"status"`
	LastRun            *string           `json:"last_run,omitempty"`
	NextRun            *string           `json:"next_run,omitempty"`
	CreatedAt          string            `json:"created_at"`
	UpdatedAt          string            `json:"updated_at"`
	Subtasks           []subtaskResponse `json:"subtasks"`
}

func (req taskRequest) draft() core.TaskDraft {
	draft := core.TaskDraft{
		Name:               req.Name,
		Description:        req.Description,
		Assignee:           req.Assignee,
		ReportingManagers:  req.ReportingManagers,
		EscalationManagers: req.EscalationManagers,
		EffectiveFrom:      req.EffectiveFrom,
		Duration:           core.Duration(strings.TrimSpace(req.Duration)),
		IsActive:           req.IsActive,
	}
	for _, st := range req.Subtasks {
		draft.Subtasks = append(draft.Subtasks, core.SubtaskDraft{
			ID:          st.ID,
			Name:        st.Name,
			Description: st.Description,
			StartTime:   st.StartTime,
		})
	}
	return draft
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	task, err := s.engine.CreateTask(r.Context(), req.draft(), req.UserName)
	if err != nil {
		s.writeEngineError(w, "create task", err)
		return
	}
	writeJSON(w, http.StatusCreated, s.taskToResponse(task))
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter := core.TaskFilter{}
	if active := strings.TrimSpace(r.URL.Query().Get("active")); active != "" {
		v, err := strconv.ParseBool(active)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_input", "active must be true or false")
			return
		}
		filter.ActiveOnly = v
	}
	tasks, err := s.engine.ListTasks(r.Context(), filter)
	if err != nil {
		s.writeEngineError(w, "list tasks", err)
		return
	}
	res := make([]taskResponse, 0, len(tasks))
	for _, t := range tasks {
		res = append(res, s.taskToResponse(t))
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(w, r, "taskID")
	if !ok {
		return
	}
	task, err := s.engine.GetTask(r.Context(), taskID)
	if err != nil {
		s.writeEngineError(w, "get task", err)
		return
	}
	writeJSON(w, http.StatusOK, s.taskToResponse(task))
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(w, r, "taskID")
	if !ok {
		return
	}
	var req taskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	task, err := s.engine.UpdateTask(r.Context(), taskID, req.draft(), req.UserName)
	if err != nil {
		s.writeEngineError(w, "update task", err)
		return
	}
	writeJSON(w, http.StatusOK, s.taskToResponse(task))
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	taskID, ok := pathID(w, r, "taskID")
	if !ok {
		return
	}
	if err := s.engine.DeleteTask(r.Context(), taskID, r.URL.Query().Get("user_name")); err != nil {
		s.writeEngineError(w, "delete task", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) taskToResponse(task *core.Task) taskResponse {
	loc := s.engine.Location()
	resp := taskResponse{
		ID:                 task.ID,
		HumanID:            task.HumanID,
		Name:               task.Name,
		Description:        task.Description,
		Assignee:           task.Assignee,
		ReportingManagers:  nonNilStrings(task.ReportingManagers),
		EscalationManagers: nonNilStrings(task.EscalationManagers),
		EffectiveFrom:      task.EffectiveFrom.In(loc).Format(core.DateLayout),
		Duration:           string(task.Duration),
		IsActive:           task.IsActive,
		Status:             string(task.Status),
		LastRun:            formatTimePtr(task.LastRun),
		NextRun:            formatTimePtr(task.NextRun),
		CreatedAt:          task.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:          task.UpdatedAt.UTC().Format(time.RFC3339),
		Subtasks:           make([]subtaskResponse, 0, len(task.Subtasks)),
	}
	for _, st := range task.Subtasks {
		sr := subtaskResponse{
			ID:            st.ID,
			TaskID:        st.TaskID,
			Name:          st.Name,
			Description:   st.Description,
			StartTime:     st.StartTime.String(),
			OrderPosition: st.OrderPosition,
			Status:        string(st.Status),
			StartedAt:     formatTimePtr(st.StartedAt),
			CompletedAt:   formatTimePtr(st.CompletedAt),
			DelayNotes:    st.DelayNotes,
			Version:       st.Version,
			CreatedAt:     st.CreatedAt.UTC().Format(time.RFC3339),
			UpdatedAt:     st.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if st.DelayReason != nil {
			reason := string(*st.DelayReason)
			sr.DelayReason = &reason
		}
		resp.Subtasks = append(resp.Subtasks, sr)
	}
	return resp
}

// writeEngineError maps the domain error taxonomy onto HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, op string, err error) {
	var validation *core.ValidationError
	var notFound *core.NotFoundError
	switch {
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, "invalid_input", validation.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, "not_found", notFound.Error())
	case errors.Is(err, core.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case core.IsDependency(err):
		s.logger.Error(op, "err", err)
		writeError(w, http.StatusServiceUnavailable, "dependency_unavailable", "a backing service is unavailable")
	default:
		s.logger.Error(op, "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to "+op)
	}
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", name+" must be a positive integer")
		return 0, false
	}
	return id, true
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	v := t.UTC().Format(time.RFC3339)
	return &v
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	v, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}
