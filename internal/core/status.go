package core

// DeriveTaskStatus computes a task's aggregate status from its subtasks.
//
// Any overdue subtask makes the task overdue. A non-empty task whose subtasks are all
// completed is completed; a partially completed task is in progress; everything else is
// active. Delayed subtasks count as not completed and do not produce a distinct aggregate.
func DeriveTaskStatus(statuses []SubtaskStatus) TaskStatus {
	completed := 0
	for _, st := range statuses {
		switch st {
		case SubtaskStatusOverdue:
			return TaskStatusOverdue
		case SubtaskStatusCompleted:
			completed++
		}
	}
	switch {
	case len(statuses) > 0 && completed == len(statuses):
		return TaskStatusCompleted
	case completed > 0:
		return TaskStatusInProgress
	default:
		return TaskStatusActive
	}
}

func subtaskStatuses(subtasks []*Subtask) []SubtaskStatus {
	out := make([]SubtaskStatus, 0, len(subtasks))
	for _, st := range subtasks {
		out = append(out, st.Status)
	}
	return out
}
