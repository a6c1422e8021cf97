package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TaskDraft is the user-supplied definition of a task.
type TaskDraft struct {
	Name               string
	Description        string
	Assignee           string
	ReportingManagers  []string
	EscalationManagers []string
	EffectiveFrom      string
	Duration           Duration
	IsActive           *bool
	Subtasks           []SubtaskDraft
}

// SubtaskDraft defines one checklist step. ID is set when editing an existing subtask.
type SubtaskDraft struct {
	ID          *int64
	Name        string
	Description *string
	StartTime   string
}

// CreateTask validates draft and stores it as a new task with pending subtasks.
func (e *Engine) CreateTask(ctx context.Context, draft TaskDraft, actor string) (*Task, error) {
	task, err := e.buildTask(draft)
	if err != nil {
		return nil, err
	}
	now := e.clock().UTC()
	task.HumanID = NewHumanID()
	task.Status = DeriveTaskStatus(subtaskStatuses(task.Subtasks))
	if task.IsActive {
		next := e.nextWindowStart(task, now)
		task.NextRun = &next
	}
	entry := &ActivityEntry{
		Action:    ActionTaskCreated,
		UserName:  actorOrSystem(actor),
		Details:   fmt.Sprintf("Task %q created with %d subtasks", task.Name, len(task.Subtasks)),
		CreatedAt: now,
	}
	if err := e.store.InsertTask(ctx, task, entry); err != nil {
		return nil, &DependencyError{Dependency: "store", Err: err}
	}
	e.logger.Info("task created", "task_id", task.ID, "human_id", task.HumanID, "subtasks", len(task.Subtasks))
	return task, nil
}

// UpdateTask replaces a task's definition. Subtasks whose id is resubmitted keep their
// execution state; other subtasks are created pending and omitted ones are removed.
func (e *Engine) UpdateTask(ctx context.Context, id int64, draft TaskDraft, actor string) (*Task, error) {
	existing, err := e.store.GetTask(ctx, id)
	if err != nil {
		return nil, storeErr(err, "task", id)
	}
	task, err := e.buildTask(draft)
	if err != nil {
		return nil, err
	}
	if draft.IsActive == nil {
		task.IsActive = existing.IsActive
	}
	task.ID = existing.ID
	task.HumanID = existing.HumanID
	task.LastRun = existing.LastRun
	task.NextRun = existing.NextRun
	task.CreatedAt = existing.CreatedAt

	for i, sd := range draft.Subtasks {
		if sd.ID == nil {
			continue
		}
		prev := findSubtask(existing, *sd.ID)
		if prev == nil {
			return nil, invalid(fmt.Sprintf("subtasks[%d].id", i), fmt.Sprintf("subtask %d does not belong to task %d", *sd.ID, id))
		}
		st := task.Subtasks[i]
		st.ID = prev.ID
		st.Status = prev.Status
		st.StartedAt = prev.StartedAt
		st.CompletedAt = prev.CompletedAt
		st.DelayReason = prev.DelayReason
		st.DelayNotes = prev.DelayNotes
		st.Version = prev.Version
		st.CreatedAt = prev.CreatedAt
	}

	now := e.clock().UTC()
	if !task.IsActive {
		task.NextRun = nil
	} else if task.NextRun == nil {
		next := e.nextWindowStart(task, now)
		task.NextRun = &next
	}
	entry := &ActivityEntry{
		TaskID:    int64Ptr(task.ID),
		Action:    ActionTaskUpdated,
		UserName:  actorOrSystem(actor),
		Details:   fmt.Sprintf("Task %q updated (%d subtasks, active=%t)", task.Name, len(task.Subtasks), task.IsActive),
		CreatedAt: now,
	}
	if err := e.store.UpdateTaskDefinition(ctx, task, entry, DeriveTaskStatus); err != nil {
		return nil, storeErr(err, "task", id)
	}
	return e.GetTask(ctx, id)
}

// DeleteTask removes a task and its subtasks. The audit trail is kept.
func (e *Engine) DeleteTask(ctx context.Context, id int64, actor string) error {
	task, err := e.store.GetTask(ctx, id)
	if err != nil {
		return storeErr(err, "task", id)
	}
	entry := &ActivityEntry{
		TaskID:    int64Ptr(id),
		Action:    ActionTaskDeleted,
		UserName:  actorOrSystem(actor),
		Details:   fmt.Sprintf("Task %q deleted", task.Name),
		CreatedAt: e.clock().UTC(),
	}
	if err := e.store.DeleteTask(ctx, id, entry); err != nil {
		return storeErr(err, "task", id)
	}
	return nil
}

func (e *Engine) buildTask(draft TaskDraft) (*Task, error) {
	name := strings.TrimSpace(draft.Name)
	if name == "" {
		return nil, invalid("name", "is required")
	}
	duration := draft.Duration
	if duration == "" {
		duration = DurationDaily
	}
	if !duration.Valid() {
		return nil, invalid("duration", "must be daily, weekly or monthly")
	}
	if strings.TrimSpace(draft.EffectiveFrom) == "" {
		return nil, invalid("effective_from", "is required")
	}
	effective, err := ParseDate(draft.EffectiveFrom, e.location)
	if err != nil {
		return nil, invalid("effective_from", err.Error())
	}
	active := true
	if draft.IsActive != nil {
		active = *draft.IsActive
	}
	task := &Task{
		Name:               name,
		Description:        strings.TrimSpace(draft.Description),
		Assignee:           strings.TrimSpace(draft.Assignee),
		ReportingManagers:  cleanNames(draft.ReportingManagers),
		EscalationManagers: cleanNames(draft.EscalationManagers),
		EffectiveFrom:      effective,
		Duration:           duration,
		IsActive:           active,
	}
	seen := make(map[int64]bool)
	for i, sd := range draft.Subtasks {
		field := fmt.Sprintf("subtasks[%d]", i)
		subName := strings.TrimSpace(sd.Name)
		if subName == "" {
			return nil, invalid(field+".name", "is required")
		}
		start, err := ParseClockTime(sd.StartTime)
		if err != nil {
			return nil, invalid(field+".start_time", err.Error())
		}
		if sd.ID != nil {
			if seen[*sd.ID] {
				return nil, invalid(field+".id", "is duplicated")
			}
			seen[*sd.ID] = true
		}
		var desc *string
		if sd.Description != nil {
			if trimmed := strings.TrimSpace(*sd.Description); trimmed != "" {
				desc = &trimmed
			}
		}
		task.Subtasks = append(task.Subtasks, &Subtask{
			Name:          subName,
			Description:   desc,
			StartTime:     start,
			OrderPosition: i + 1,
			Status:        SubtaskStatusPending,
		})
	}
	return task, nil
}

// nextWindowStart is the start of the first window the task has not run in yet: the
// effective_from day when that is today or later, tomorrow otherwise.
func (e *Engine) nextWindowStart(task *Task, now time.Time) time.Time {
	today := StartOfDay(now, e.location)
	effective := StartOfDay(task.EffectiveFrom, e.location)
	if !effective.Before(today) {
		return effective.UTC()
	}
	return today.AddDate(0, 0, 1).UTC()
}

func cleanNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if trimmed := strings.TrimSpace(n); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func actorOrSystem(actor string) string {
	if trimmed := strings.TrimSpace(actor); trimmed != "" {
		return trimmed
	}
	return SystemActor
}
