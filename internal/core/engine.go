package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// Store abstracts the persistence layer used by the engine, detector and resetter.
type Store interface {
	// Task definitions
	GetTask(ctx context.Context, id int64) (*Task, error)
	ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error)
	InsertTask(ctx context.Context, task *Task, entry *ActivityEntry) error
	UpdateTaskDefinition(ctx context.Context, task *Task, entry *ActivityEntry, derive func([]SubtaskStatus) TaskStatus) error
	DeleteTask(ctx context.Context, id int64, entry *ActivityEntry) error

	// Execution state
	ApplySubtaskTransition(ctx context.Context, update SubtaskStateUpdate, entry *ActivityEntry, derive func([]SubtaskStatus) TaskStatus) (TaskStatus, error)
	ResetTaskWindow(ctx context.Context, reset TaskReset) (bool, error)

	// Audit and alert ledger
	AppendActivity(ctx context.Context, entry *ActivityEntry) error
	ListActivity(ctx context.Context, filter ActivityFilter) ([]*ActivityEntry, error)
	ClaimAlert(ctx context.Context, rec *AlertRecord, since time.Time) (bool, error)
}

// SubtaskStateUpdate is the complete set of execution fields written by a transition.
// The write only succeeds if the stored row still carries ExpectedVersion.
type SubtaskStateUpdate struct {
	TaskID          int64
	SubtaskID       int64
	ExpectedVersion int64
	Status          SubtaskStatus
	StartedAt       *time.Time
	CompletedAt     *time.Time
	DelayReason     *DelayReason
	DelayNotes      *string
	UpdatedAt       time.Time
	// Alert, when set, is claimed in the same transaction. If it is suppressed nothing
	// is written and ErrAlertSuppressed is returned.
	Alert *AlertClaim
}

// AlertClaim asks the store to record Record unless an alert of the same kind for the
// same subtask was recorded after Since or one with the same dedup key exists.
type AlertClaim struct {
	Record *AlertRecord
	Since  time.Time
}

// TaskReset returns every subtask of a task to pending and advances its run markers.
// When WindowStart is set the reset only happens if last_run is unset or earlier than it.
type TaskReset struct {
	TaskID      int64
	WindowStart *time.Time
	Now         time.Time
	NextRun     time.Time
	Status      TaskStatus
	Entry       *ActivityEntry
}

// SubtaskTransition is a request to move a subtask to a new status.
type SubtaskTransition struct {
	TaskID      int64
	SubtaskID   int64
	Status      SubtaskStatus
	Actor       string
	DelayReason string
	DelayNotes  string
	// ExpectedVersion, when non-zero, makes the transition fail with ErrConflict unless
	// the subtask is still at that version.
	ExpectedVersion int64
}

// TransitionResult describes an applied transition.
type TransitionResult struct {
	TaskID         int64
	SubtaskID      int64
	PreviousStatus SubtaskStatus
	Status         SubtaskStatus
	TaskStatus     TaskStatus
	StartedAt      *time.Time
	CompletedAt    *time.Time
}

// Engine owns subtask status transitions and task definitions.
type Engine struct {
	store    Store
	notifier Notifier
	logger   *slog.Logger
	clock    Clock
	location *time.Location
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(clock Clock) EngineOption {
	return func(e *Engine) { e.clock = clock }
}

// WithNotifier sets the notification sink. Without one, notifications are dropped.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// NewEngine constructs an engine over store. location is used for calendar computations.
func NewEngine(store Store, logger *slog.Logger, location *time.Location, opts ...EngineOption) *Engine {
	if location == nil {
		location = time.Local
	}
	e := &Engine{
		store:    store,
		notifier: noopNotifier{},
		logger:   logger,
		clock:    time.Now,
		location: location,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Location returns the zone used for due-time and day computations.
func (e *Engine) Location() *time.Location {
	return e.location
}

// Now returns the engine clock's current time.
func (e *Engine) Now() time.Time {
	return e.clock()
}

// SetSubtaskStatus validates and applies a status transition, appends an audit entry,
// recomputes the owning task's status and dispatches the matching notification.
func (e *Engine) SetSubtaskStatus(ctx context.Context, tr SubtaskTransition) (*TransitionResult, error) {
	result, _, err := e.transition(ctx, tr, nil, nil)
	return result, err
}

// transition applies tr. A non-nil alert is claimed atomically with the write and
// decorate may enrich the outgoing notification.
func (e *Engine) transition(ctx context.Context, tr SubtaskTransition, alert *AlertClaim, decorate func(*Notification)) (*TransitionResult, *Task, error) {
	actor := strings.TrimSpace(tr.Actor)
	if !tr.Status.Valid() {
		return nil, nil, invalid("status", fmt.Sprintf("unknown status %q", tr.Status))
	}
	if actor == "" {
		return nil, nil, invalid("user_name", "is required")
	}
	reason := strings.TrimSpace(tr.DelayReason)
	if tr.Status == SubtaskStatusDelayed && reason == "" {
		return nil, nil, invalid("delay_reason", "is required when status is delayed")
	}

	task, err := e.store.GetTask(ctx, tr.TaskID)
	if err != nil {
		return nil, nil, storeErr(err, "task", tr.TaskID)
	}
	sub := findSubtask(task, tr.SubtaskID)
	if sub == nil {
		return nil, nil, &NotFoundError{Resource: "subtask", ID: tr.SubtaskID}
	}
	if tr.ExpectedVersion != 0 && tr.ExpectedVersion != sub.Version {
		return nil, nil, ErrConflict
	}

	now := e.clock().UTC()
	previous := sub.Status
	update := SubtaskStateUpdate{
		TaskID:          task.ID,
		SubtaskID:       sub.ID,
		ExpectedVersion: sub.Version,
		Status:          tr.Status,
		StartedAt:       sub.StartedAt,
		CompletedAt:     sub.CompletedAt,
		DelayReason:     sub.DelayReason,
		DelayNotes:      sub.DelayNotes,
		UpdatedAt:       now,
		Alert:           alert,
	}
	switch tr.Status {
	case SubtaskStatusInProgress:
		if update.StartedAt == nil {
			update.StartedAt = &now
		}
	case SubtaskStatusCompleted:
		if update.CompletedAt == nil {
			update.CompletedAt = &now
		}
	case SubtaskStatusDelayed:
		r := DelayReason(reason)
		update.DelayReason = &r
		update.DelayNotes = nil
		if notes := strings.TrimSpace(tr.DelayNotes); notes != "" {
			update.DelayNotes = &notes
		}
	}

	details := fmt.Sprintf("Subtask %q status changed from %s to %s", sub.Name, previous, tr.Status)
	if tr.Status == SubtaskStatusDelayed {
		details += fmt.Sprintf(" (reason: %s)", reason)
	}
	entry := &ActivityEntry{
		TaskID:    int64Ptr(task.ID),
		SubtaskID: int64Ptr(sub.ID),
		Action:    ActionSubtaskStatus,
		UserName:  actor,
		Details:   details,
		CreatedAt: now,
	}

	taskStatus, err := e.store.ApplySubtaskTransition(ctx, update, entry, DeriveTaskStatus)
	if err != nil {
		return nil, nil, storeErr(err, "subtask", sub.ID)
	}

	sub.Status = update.Status
	sub.StartedAt = update.StartedAt
	sub.CompletedAt = update.CompletedAt
	sub.DelayReason = update.DelayReason
	sub.DelayNotes = update.DelayNotes
	sub.Version++
	task.Status = taskStatus

	e.logger.Info("subtask status changed",
		"task_id", task.ID, "subtask_id", sub.ID, "from", previous, "to", sub.Status, "actor", actor, "task_status", taskStatus)

	if n, ok := notificationFor(task, sub, previous, actor, now); ok {
		if decorate != nil {
			decorate(&n)
		}
		e.notifier.Notify(ctx, n)
	}

	return &TransitionResult{
		TaskID:         task.ID,
		SubtaskID:      sub.ID,
		PreviousStatus: previous,
		Status:         sub.Status,
		TaskStatus:     taskStatus,
		StartedAt:      sub.StartedAt,
		CompletedAt:    sub.CompletedAt,
	}, task, nil
}

// GetTask loads a task with its ordered subtasks.
func (e *Engine) GetTask(ctx context.Context, id int64) (*Task, error) {
	task, err := e.store.GetTask(ctx, id)
	if err != nil {
		return nil, storeErr(err, "task", id)
	}
	return task, nil
}

// ListTasks returns tasks with their subtasks.
func (e *Engine) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	tasks, err := e.store.ListTasks(ctx, filter)
	if err != nil {
		return nil, &DependencyError{Dependency: "store", Err: err}
	}
	return tasks, nil
}

// ActivityLog queries the audit trail.
func (e *Engine) ActivityLog(ctx context.Context, filter ActivityFilter) ([]*ActivityEntry, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}
	if filter.Limit > 500 {
		filter.Limit = 500
	}
	entries, err := e.store.ListActivity(ctx, filter)
	if err != nil {
		return nil, &DependencyError{Dependency: "store", Err: err}
	}
	return entries, nil
}

func findSubtask(task *Task, id int64) *Subtask {
	for _, st := range task.Subtasks {
		if st.ID == id {
			return st
		}
	}
	return nil
}
