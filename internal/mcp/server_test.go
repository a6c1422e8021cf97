package mcp

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finopstrack/internal/core"
	"finopstrack/internal/store"
)

func newTestServer(t *testing.T) (*MCPServer, *core.Task) {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	loc := time.FixedZone("IST", 5*3600+1800)
	now := time.Date(2026, 3, 10, 5, 10, 0, 0, loc)
	engine := core.NewEngine(st, logger, loc, core.WithClock(func() time.Time { return now }))
	detector := core.NewDetector(engine, st, nil, core.DefaultDetectorConfig(), logger)
	resetter := core.NewResetter(engine, st, nil, logger)

	task, err := engine.CreateTask(ctx, core.TaskDraft{
		Name:              "Daily close of books",
		Assignee:          "Asha Rao",
		ReportingManagers: []string{"Ravi Menon"},
		EffectiveFrom:     "2026-03-01",
		Subtasks: []core.SubtaskDraft{
			{Name: "Pull bank statements", StartTime: "05:00"},
			{Name: "Reconcile ledgers", StartTime: "07:30"},
		},
	}, "Ravi Menon")
	require.NoError(t, err)
	return NewMCPServer(engine, detector, resetter, logger, "test"), task
}

func call(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	tc, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestSetSubtaskStatusTool(t *testing.T) {
	s, task := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleSetSubtaskStatus(ctx, call(map[string]any{
		"task_id":      float64(task.ID),
		"subtask_id":   float64(task.Subtasks[0].ID),
		"status":       "delayed",
		"user_name":    "Asha Rao",
		"delay_reason": "technical_issue",
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)
	assert.Contains(t, text(t, res), "pending -> delayed")

	res, err = s.handleSetSubtaskStatus(ctx, call(map[string]any{
		"task_id":    float64(task.ID),
		"subtask_id": float64(task.Subtasks[1].ID),
		"status":     "delayed",
		"user_name":  "Asha Rao",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleGetTask(ctx, call(map[string]any{"task_id": float64(task.ID)}))
	require.NoError(t, err)
	out := text(t, res)
	assert.Contains(t, out, "delay reason: technical_issue")
	assert.Contains(t, out, "Reporting managers: Ravi Menon")
}

func TestCheckSLAAndActivityTools(t *testing.T) {
	s, task := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleCheckSLA(ctx, call(nil))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "Marked overdue: 1")

	res, err = s.handleActivityLog(ctx, call(map[string]any{
		"task_id": float64(task.ID),
		"action":  core.ActionSubtaskStatus,
	}))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "system")

	res, err = s.handleActivityLog(ctx, call(map[string]any{"date": "not-a-date"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestListAndRunTools(t *testing.T) {
	s, task := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleListTasks(ctx, call(map[string]any{"active_only": true}))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "Found 1 tasks")

	res, err = s.handleRunTask(ctx, call(map[string]any{"task_id": float64(task.ID), "user_name": "Ravi Menon"}))
	require.NoError(t, err)
	assert.Contains(t, text(t, res), "2 subtasks pending")

	res, err = s.handleGetTask(ctx, call(map[string]any{"task_id": float64(999)}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
