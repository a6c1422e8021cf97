package core_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"finopstrack/internal/core"
	"finopstrack/internal/store"

	"github.com/stretchr/testify/require"

	_ "time/tzdata"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []core.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n core.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
}

func (r *recordingNotifier) All() []core.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]core.Notification(nil), r.sent...)
}

type testEnv struct {
	ctx      context.Context
	loc      *time.Location
	clock    *fakeClock
	store    *store.Store
	notifier *recordingNotifier
	engine   *core.Engine
	logger   *slog.Logger
}

func kolkata(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Kolkata")
	require.NoError(t, err)
	return loc
}

func newTestEnv(t *testing.T, now time.Time) *testEnv {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clock := &fakeClock{now: now}
	notifier := &recordingNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := core.NewEngine(st, logger, now.Location(),
		core.WithClock(clock.Now),
		core.WithNotifier(notifier))
	return &testEnv{
		ctx:      ctx,
		loc:      now.Location(),
		clock:    clock,
		store:    st,
		notifier: notifier,
		engine:   engine,
		logger:   logger,
	}
}

// closeOfBooks creates a daily task with two subtasks starting at 05:00 and 07:30.
func (e *testEnv) closeOfBooks(t *testing.T) *core.Task {
	t.Helper()
	task, err := e.engine.CreateTask(e.ctx, core.TaskDraft{
		Name:               "Daily close of books",
		Assignee:           "Asha Rao",
		ReportingManagers:  []string{"Ravi Menon"},
		EscalationManagers: []string{"Meera Iyer"},
		EffectiveFrom:      "2026-03-01",
		Duration:           core.DurationDaily,
		Subtasks: []core.SubtaskDraft{
			{Name: "Pull bank statements", StartTime: "05:00"},
			{Name: "Reconcile ledgers", StartTime: "07:30"},
		},
	}, "Ravi Menon")
	require.NoError(t, err)
	require.Len(t, task.Subtasks, 2)
	return task
}

func (e *testEnv) activity(t *testing.T, taskID int64, action string) []*core.ActivityEntry {
	t.Helper()
	entries, err := e.engine.ActivityLog(e.ctx, core.ActivityFilter{TaskID: &taskID, Action: action, Limit: 500})
	require.NoError(t, err)
	return entries
}
