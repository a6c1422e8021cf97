package core

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveTaskStatus(t *testing.T) {
	tests := []struct {
		name     string
		statuses []SubtaskStatus
		want     TaskStatus
	}{
		{"no subtasks", nil, TaskStatusActive},
		{"all pending", []SubtaskStatus{SubtaskStatusPending, SubtaskStatusPending}, TaskStatusActive},
		{"started but none completed", []SubtaskStatus{SubtaskStatusInProgress, SubtaskStatusPending}, TaskStatusActive},
		{"some completed", []SubtaskStatus{SubtaskStatusCompleted, SubtaskStatusPending}, TaskStatusInProgress},
		{"all completed", []SubtaskStatus{SubtaskStatusCompleted, SubtaskStatusCompleted}, TaskStatusCompleted},
		{"overdue wins over completed", []SubtaskStatus{SubtaskStatusCompleted, SubtaskStatusOverdue}, TaskStatusOverdue},
		{"only delayed", []SubtaskStatus{SubtaskStatusDelayed}, TaskStatusActive},
		{"delayed and completed", []SubtaskStatus{SubtaskStatusDelayed, SubtaskStatusCompleted}, TaskStatusInProgress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DeriveTaskStatus(tt.statuses))
		})
	}
}

func TestParseClockTime(t *testing.T) {
	tests := []struct {
		in      string
		want    ClockTime
		wantErr bool
	}{
		{in: "05:00", want: ClockTime{Hour: 5}},
		{in: " 23:59 ", want: ClockTime{Hour: 23, Minute: 59}},
		{in: "07:30:15", want: ClockTime{Hour: 7, Minute: 30}},
		{in: "07:30:zz", wantErr: true},
		{in: "07:30:60", wantErr: true},
		{in: "07:30:", wantErr: true},
		{in: "24:00", wantErr: true},
		{in: "12:60", wantErr: true},
		{in: "noon", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseClockTime(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "05:07", ClockTime{Hour: 5, Minute: 7}.String())
}

func TestClockTimeOnUsesLocationCalendarDay(t *testing.T) {
	loc := time.FixedZone("IST", 5*3600+1800)
	// 20:00 UTC on the 9th is already 01:30 on the 10th in IST.
	now := time.Date(2026, 3, 9, 20, 0, 0, 0, time.UTC)
	due := ClockTime{Hour: 5}.On(now, loc)
	assert.Equal(t, time.Date(2026, 3, 10, 5, 0, 0, 0, loc), due)
	assert.Equal(t, time.Date(2026, 3, 10, 0, 0, 0, 0, loc), StartOfDay(now, loc))
}

func TestNewHumanID(t *testing.T) {
	id := NewHumanID()
	assert.Regexp(t, regexp.MustCompile(`^FOT-[0-9A-F]{8}$`), id)
	assert.NotEqual(t, id, NewHumanID())
}

func TestNotificationForRoutesByStatus(t *testing.T) {
	task := &Task{
		ID:                 1,
		Name:               "Cash position",
		Assignee:           "Asha",
		ReportingManagers:  []string{"Ravi"},
		EscalationManagers: []string{"Meera"},
	}
	reason := DelayDataUnavailable
	notes := "bank feed late"
	sub := &Subtask{ID: 2, Name: "Pull statements", StartTime: ClockTime{Hour: 5}}

	sub.Status = SubtaskStatusDelayed
	sub.DelayReason = &reason
	sub.DelayNotes = &notes
	n, ok := notificationFor(task, sub, SubtaskStatusPending, "Asha", time.Now())
	require.True(t, ok)
	assert.Equal(t, NotifySubtaskDelayed, n.Kind)
	assert.Equal(t, []string{"Ravi"}, n.Recipients)
	assert.Equal(t, "data_unavailable", n.DelayReason)
	assert.Equal(t, "bank feed late", n.DelayNotes)

	sub.Status = SubtaskStatusOverdue
	n, ok = notificationFor(task, sub, SubtaskStatusPending, SystemActor, time.Now())
	require.True(t, ok)
	assert.Equal(t, NotifySubtaskOverdue, n.Kind)
	assert.Equal(t, []string{"Meera"}, n.Recipients)

	sub.Status = SubtaskStatusInProgress
	_, ok = notificationFor(task, sub, SubtaskStatusPending, "Asha", time.Now())
	assert.False(t, ok)
}
