package core

import (
	"context"
	"time"
)

// NotificationKind selects the template and audience of an outbound message.
type NotificationKind string

const (
	NotifySubtaskDelayed   NotificationKind = "subtask_delayed"
	NotifySubtaskCompleted NotificationKind = "subtask_completed"
	NotifySubtaskOverdue   NotificationKind = "subtask_overdue"
	NotifyLongRunning      NotificationKind = "long_running"
)

// Notification is a fully materialised message request. Recipients are person names;
// sinks resolve them to addresses.
type Notification struct {
	Kind           NotificationKind
	Recipients     []string
	TaskID         int64
	TaskHumanID    string
	TaskName       string
	Assignee       string
	SubtaskID      int64
	SubtaskName    string
	StartTime      string
	Actor          string
	PreviousStatus SubtaskStatus
	DelayReason    string
	DelayNotes     string
	MinutesOverdue int
	RunningFor     time.Duration
	OccurredAt     time.Time
}

// Notifier accepts notifications. Implementations must not block the caller on delivery.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Notification) {}

// notificationFor returns the notification a transition into status triggers, if any.
func notificationFor(task *Task, sub *Subtask, previous SubtaskStatus, actor string, at time.Time) (Notification, bool) {
	n := Notification{
		TaskID:         task.ID,
		TaskHumanID:    task.HumanID,
		TaskName:       task.Name,
		Assignee:       task.Assignee,
		SubtaskID:      sub.ID,
		SubtaskName:    sub.Name,
		StartTime:      sub.StartTime.String(),
		Actor:          actor,
		PreviousStatus: previous,
		OccurredAt:     at,
	}
	switch sub.Status {
	case SubtaskStatusDelayed:
		n.Kind = NotifySubtaskDelayed
		n.Recipients = task.ReportingManagers
		if sub.DelayReason != nil {
			n.DelayReason = string(*sub.DelayReason)
		}
		if sub.DelayNotes != nil {
			n.DelayNotes = *sub.DelayNotes
		}
	case SubtaskStatusCompleted:
		n.Kind = NotifySubtaskCompleted
		n.Recipients = task.ReportingManagers
	case SubtaskStatusOverdue:
		n.Kind = NotifySubtaskOverdue
		n.Recipients = task.EscalationManagers
	default:
		return Notification{}, false
	}
	return n, true
}
