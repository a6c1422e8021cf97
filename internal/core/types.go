package core

import (
	"time"
)

// TaskStatus is the aggregate state of a task, derived from its subtasks.
type TaskStatus string

const (
	TaskStatusActive     TaskStatus = "active"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusOverdue    TaskStatus = "overdue"
	TaskStatusDelayed    TaskStatus = "delayed"
)

// SubtaskStatus describes where a single checklist step is within the current window.
type SubtaskStatus string

const (
	SubtaskStatusPending    SubtaskStatus = "pending"
	SubtaskStatusInProgress SubtaskStatus = "in_progress"
	SubtaskStatusCompleted  SubtaskStatus = "completed"
	SubtaskStatusDelayed    SubtaskStatus = "delayed"
	SubtaskStatusOverdue    SubtaskStatus = "overdue"
)

// Valid reports whether s is one of the known subtask states.
func (s SubtaskStatus) Valid() bool {
	switch s {
	case SubtaskStatusPending, SubtaskStatusInProgress, SubtaskStatusCompleted, SubtaskStatusDelayed, SubtaskStatusOverdue:
		return true
	}
	return false
}

// Duration is the recurrence window of a task.
type Duration string

const (
	DurationDaily   Duration = "daily"
	DurationWeekly  Duration = "weekly"
	DurationMonthly Duration = "monthly"
)

func (d Duration) Valid() bool {
	switch d {
	case DurationDaily, DurationWeekly, DurationMonthly:
		return true
	}
	return false
}

// DelayReason classifies why a subtask was marked delayed.
type DelayReason string

const (
	DelayTechnicalIssue     DelayReason = "technical_issue"
	DelayDataUnavailable    DelayReason = "data_unavailable"
	DelayExternalDependency DelayReason = "external_dependency"
	DelayResourceConstraint DelayReason = "resource_constraint"
	DelayProcessChange      DelayReason = "process_change"
	DelayOther              DelayReason = "other"
)

// AlertType identifies the kind of notification recorded in the alert ledger.
type AlertType string

const (
	AlertSLAOverdue  AlertType = "sla_overdue"
	AlertLongRunning AlertType = "long_running"
)

// Activity actions written to the audit log.
const (
	ActionTaskCreated     = "task_created"
	ActionTaskUpdated     = "task_updated"
	ActionTaskDeleted     = "task_deleted"
	ActionSubtaskStatus   = "subtask_status_changed"
	ActionDailyExecution  = "daily_execution"
	ActionManualExecution = "manual_execution"
)

// SystemActor is recorded as the actor of scheduler-driven changes.
const SystemActor = "system"

// Task is a recurring operational checklist.
type Task struct {
	ID                 int64
	HumanID            string
	Name               string
	Description        string
	Assignee           string
	ReportingManagers  []string
	EscalationManagers []string
	EffectiveFrom      time.Time
	Duration           Duration
	IsActive           bool
	Status             TaskStatus
	LastRun            *time.Time
	NextRun            *time.Time
	CreatedAt          time.Time
	UpdatedAt          time.Time

	Subtasks []*Subtask
}

// Subtask is one ordered step of a task.
type Subtask struct {
	ID            int64
	TaskID        int64
	Name          string
	Description   *string
	StartTime     ClockTime
	OrderPosition int
	Status        SubtaskStatus
	StartedAt     *time.Time
	CompletedAt   *time.Time
	DelayReason   *DelayReason
	DelayNotes    *string
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ActivityEntry is an immutable audit record.
type ActivityEntry struct {
	ID        int64
	TaskID    *int64
	SubtaskID *int64
	Action    string
	UserName  string
	Details   string
	CreatedAt time.Time
}

// AlertRecord marks that an alert was sent, for duplicate suppression.
type AlertRecord struct {
	ID        int64
	TaskID    int64
	SubtaskID int64
	AlertType AlertType
	DedupKey  string
	CreatedAt time.Time
}

// ActivityFilter narrows an audit log query.
type ActivityFilter struct {
	TaskID   *int64
	UserName string
	Action   string
	// Day restricts results to [Day, Day+24h) when non-zero.
	Day   time.Time
	Limit int
}

// TaskFilter narrows a task listing.
type TaskFilter struct {
	ActiveOnly bool
}

func int64Ptr(v int64) *int64 {
	return &v
}
