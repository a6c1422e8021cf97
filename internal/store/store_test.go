package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"finopstrack/internal/core"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := Open(context.Background(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleTask() *core.Task {
	return &core.Task{
		HumanID:            "FOT-TEST0001",
		Name:               "Daily close of books",
		Assignee:           "Asha Rao",
		ReportingManagers:  []string{"Ravi Menon"},
		EscalationManagers: []string{"Meera Iyer", "Kiran Shah"},
		EffectiveFrom:      time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Duration:           core.DurationDaily,
		IsActive:           true,
		Status:             core.TaskStatusActive,
		Subtasks: []*core.Subtask{
			{Name: "Pull bank statements", StartTime: core.ClockTime{Hour: 5}, OrderPosition: 1, Status: core.SubtaskStatusPending},
			{Name: "Reconcile ledgers", StartTime: core.ClockTime{Hour: 7, Minute: 30}, OrderPosition: 2, Status: core.SubtaskStatusPending},
		},
	}
}

func insertSample(t *testing.T, st *Store) *core.Task {
	t.Helper()
	task := sampleTask()
	require.NoError(t, st.InsertTask(context.Background(), task, &core.ActivityEntry{
		Action: core.ActionTaskCreated, UserName: "Ravi Menon", CreatedAt: time.Now().UTC(),
	}))
	return task
}

func TestOpenIsRepeatable(t *testing.T) {
	dir := t.TempDir()
	st, err := Open(context.Background(), dir)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	st, err = Open(context.Background(), dir)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.Ping(context.Background()))
}

func TestInsertAndGetTask(t *testing.T) {
	st := openTestStore(t)
	task := insertSample(t, st)
	require.NotZero(t, task.ID)

	got, err := st.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Name, got.Name)
	assert.Equal(t, []string{"Meera Iyer", "Kiran Shah"}, got.EscalationManagers)
	assert.True(t, got.EffectiveFrom.Equal(task.EffectiveFrom))

	type row struct {
		Name     string
		Start    string
		Position int
		Status   core.SubtaskStatus
		Version  int64
	}
	var rows []row
	for _, sub := range got.Subtasks {
		rows = append(rows, row{sub.Name, sub.StartTime.String(), sub.OrderPosition, sub.Status, sub.Version})
	}
	want := []row{
		{"Pull bank statements", "05:00", 1, core.SubtaskStatusPending, 1},
		{"Reconcile ledgers", "07:30", 2, core.SubtaskStatusPending, 1},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Fatalf("subtasks mismatch (-want +got):\n%s", diff)
	}

	_, err = st.GetTask(context.Background(), task.ID+100)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	assert.ErrorIs(t, err, core.ErrRecordNotFound)
}

func TestApplySubtaskTransitionRejectsStaleVersion(t *testing.T) {
	st := openTestStore(t)
	task := insertSample(t, st)
	sub := task.Subtasks[0]
	now := time.Now().UTC()

	update := core.SubtaskStateUpdate{
		TaskID:          task.ID,
		SubtaskID:       sub.ID,
		ExpectedVersion: sub.Version,
		Status:          core.SubtaskStatusCompleted,
		CompletedAt:     &now,
		UpdatedAt:       now,
	}
	status, err := st.ApplySubtaskTransition(context.Background(), update, nil, core.DeriveTaskStatus)
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusInProgress, status)

	// A second writer that read the same version loses.
	update.Status = core.SubtaskStatusDelayed
	_, err = st.ApplySubtaskTransition(context.Background(), update, nil, core.DeriveTaskStatus)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrConflict))

	update.SubtaskID = 9999
	_, err = st.ApplySubtaskTransition(context.Background(), update, nil, core.DeriveTaskStatus)
	assert.ErrorIs(t, err, ErrSubtaskNotFound)

	got, err := st.GetTask(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SubtaskStatusCompleted, got.Subtasks[0].Status)
	assert.Equal(t, int64(2), got.Subtasks[0].Version)
	assert.Equal(t, core.TaskStatusInProgress, got.Status)
}

func TestResetTaskWindowClaimsOncePerWindow(t *testing.T) {
	st := openTestStore(t)
	task := insertSample(t, st)
	ctx := context.Background()
	window := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	now := window.Add(5 * time.Minute)

	reset := core.TaskReset{
		TaskID:      task.ID,
		WindowStart: &window,
		Now:         now,
		NextRun:     now.AddDate(0, 0, 1),
		Status:      core.TaskStatusActive,
	}
	done, err := st.ResetTaskWindow(ctx, reset)
	require.NoError(t, err)
	assert.True(t, done)

	reset.Now = now.Add(time.Hour)
	done, err = st.ResetTaskWindow(ctx, reset)
	require.NoError(t, err)
	assert.False(t, done)

	// Without a window the reset is unconditional.
	reset.WindowStart = nil
	done, err = st.ResetTaskWindow(ctx, reset)
	require.NoError(t, err)
	assert.True(t, done)

	reset.TaskID = 9999
	_, err = st.ResetTaskWindow(ctx, reset)
	assert.ErrorIs(t, err, ErrTaskNotFound)
}

func TestClaimAlertDeduplicates(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 5, 1, 0, 0, time.UTC)

	rec := &core.AlertRecord{TaskID: 1, SubtaskID: 2, AlertType: core.AlertSLAOverdue, DedupKey: "sla_overdue:1:2:2026-03-10", CreatedAt: now}
	claimed, err := st.ClaimAlert(ctx, rec, now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.True(t, claimed)
	require.NotZero(t, rec.ID)

	// Inside the cooldown, even with a different key.
	again := &core.AlertRecord{TaskID: 1, SubtaskID: 2, AlertType: core.AlertSLAOverdue, DedupKey: "other", CreatedAt: now.Add(time.Minute)}
	claimed, err = st.ClaimAlert(ctx, again, now.Add(-29*time.Minute))
	require.NoError(t, err)
	assert.False(t, claimed)

	// Past the cooldown but with the same key.
	later := &core.AlertRecord{TaskID: 1, SubtaskID: 2, AlertType: core.AlertSLAOverdue, DedupKey: rec.DedupKey, CreatedAt: now.Add(time.Hour)}
	claimed, err = st.ClaimAlert(ctx, later, now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.False(t, claimed)

	// A different alert type is independent.
	other := &core.AlertRecord{TaskID: 1, SubtaskID: 2, AlertType: core.AlertLongRunning, DedupKey: "long_running:1:2:1", CreatedAt: now}
	claimed, err = st.ClaimAlert(ctx, other, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.True(t, claimed)

	alerts, err := st.ListAlerts(ctx, 1, 10)
	require.NoError(t, err)
	assert.Len(t, alerts, 2)
}

func TestApplySubtaskTransitionClaimsAlertAtomically(t *testing.T) {
	st := openTestStore(t)
	task := insertSample(t, st)
	sub := task.Subtasks[0]
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 5, 1, 0, 0, time.UTC)

	overdue := func(version int64) core.SubtaskStateUpdate {
		return core.SubtaskStateUpdate{
			TaskID:          task.ID,
			SubtaskID:       sub.ID,
			ExpectedVersion: version,
			Status:          core.SubtaskStatusOverdue,
			UpdatedAt:       now,
			Alert: &core.AlertClaim{
				Record: &core.AlertRecord{
					TaskID:    task.ID,
					SubtaskID: sub.ID,
					AlertType: core.AlertSLAOverdue,
					DedupKey:  "sla_overdue:1:1:2026-03-10",
					CreatedAt: now,
				},
				Since: now.Add(-30 * time.Minute),
			},
		}
	}

	// A stale version rolls the claim back with the status write.
	_, err := st.ApplySubtaskTransition(ctx, overdue(sub.Version+1), nil, core.DeriveTaskStatus)
	assert.ErrorIs(t, err, core.ErrConflict)
	alerts, err := st.ListAlerts(ctx, task.ID, 10)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	status, err := st.ApplySubtaskTransition(ctx, overdue(sub.Version), nil, core.DeriveTaskStatus)
	require.NoError(t, err)
	assert.Equal(t, core.TaskStatusOverdue, status)
	alerts, err = st.ListAlerts(ctx, task.ID, 10)
	require.NoError(t, err)
	assert.Len(t, alerts, 1)

	// Same dedup key again: nothing is written, not even the status.
	_, err = st.ApplySubtaskTransition(ctx, overdue(sub.Version+1), nil, core.DeriveTaskStatus)
	assert.ErrorIs(t, err, core.ErrAlertSuppressed)
	got, err := st.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.Version+1, got.Subtasks[0].Version)
}

func TestListAlertsCapsLimit(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 5, 1, 0, 0, time.UTC)

	tx, err := st.DB.BeginTx(ctx, nil)
	require.NoError(t, err)
	for i := 0; i < maxAlertLimit+10; i++ {
		_, err := tx.ExecContext(ctx, `INSERT INTO alerts (task_id, subtask_id, alert_type, dedup_key, created_at) VALUES (?, ?, ?, ?, ?)`,
			1, 2, core.AlertLongRunning, fmt.Sprintf("long_running:1:2:%d", i), formatTime(now.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit())

	alerts, err := st.ListAlerts(ctx, 1, 1_000_000)
	require.NoError(t, err)
	assert.Len(t, alerts, maxAlertLimit)
	assert.Equal(t, "long_running:1:2:509", alerts[0].DedupKey)

	alerts, err = st.ListAlerts(ctx, 1, 0)
	require.NoError(t, err)
	assert.Len(t, alerts, 20)
}

func TestActivityLogIsAppendOnly(t *testing.T) {
	st := openTestStore(t)
	task := insertSample(t, st)
	ctx := context.Background()

	_, err := st.DB.ExecContext(ctx, `UPDATE activity_log SET details = 'edited'`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	_, err = st.DB.ExecContext(ctx, `DELETE FROM activity_log`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "append-only")

	// Deleting the task keeps its history.
	require.NoError(t, st.DeleteTask(ctx, task.ID, &core.ActivityEntry{
		TaskID: &task.ID, Action: core.ActionTaskDeleted, UserName: "Ravi Menon", CreatedAt: time.Now().UTC(),
	}))

	entries, err := st.ListActivity(ctx, core.ActivityFilter{TaskID: &task.ID})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, core.ActionTaskDeleted, entries[0].Action)
	assert.Equal(t, core.ActionTaskCreated, entries[1].Action)
	assert.Equal(t, "", entries[1].Details)
}

func TestStatusCounts(t *testing.T) {
	st := openTestStore(t)
	insertSample(t, st)

	tasks, subtasks, err := st.StatusCounts(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"active": 1}, tasks)
	assert.Equal(t, map[string]int{"pending": 2}, subtasks)
}
