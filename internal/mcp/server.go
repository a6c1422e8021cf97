package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"finopstrack/internal/core"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes the task tracker as MCP tools.
type MCPServer struct {
	engine   *core.Engine
	detector *core.Detector
	resetter *core.Resetter
	logger   *slog.Logger
	server   *server.MCPServer
}

// NewMCPServer creates a new MCP server instance with all tools registered.
func NewMCPServer(engine *core.Engine, detector *core.Detector, resetter *core.Resetter, logger *slog.Logger, version string) *MCPServer {
	s := &MCPServer{
		engine:   engine,
		detector: detector,
		resetter: resetter,
		logger:   logger,
		server: server.NewMCPServer(
			"finopsd",
			version,
			server.WithToolCapabilities(true),
		),
	}
	s.registerTools()
	return s
}

// RunStdio serves MCP over stdin/stdout until ctx is done.
func (s *MCPServer) RunStdio(ctx context.Context) error {
	s.logger.Info("MCP server starting on stdio")
	return server.NewStdioServer(s.server).Listen(ctx, os.Stdin, os.Stdout)
}

// HTTPHandler returns a streamable HTTP transport for mounting under /mcp.
func (s *MCPServer) HTTPHandler() http.Handler {
	return server.NewStreamableHTTPServer(s.server)
}

func (s *MCPServer) registerTools() {
	s.server.AddTool(mcp.NewTool("finops_list_tasks",
		mcp.WithDescription("List recurring FinOps tasks with their status and subtask progress"),
		mcp.WithBoolean("active_only",
			mcp.Description("Only list active tasks"),
		),
	), s.handleListTasks)

	s.server.AddTool(mcp.NewTool("finops_get_task",
		mcp.WithDescription("Show a task and every subtask with its status, start time and delay details"),
		mcp.WithNumber("task_id",
			mcp.Required(),
			mcp.Description("Numeric task id"),
		),
	), s.handleGetTask)

	s.server.AddTool(mcp.NewTool("finops_set_subtask_status",
		mcp.WithDescription("Change a subtask's status. Delayed requires a delay_reason. Reporting or escalation managers are notified where applicable."),
		mcp.WithNumber("task_id",
			mcp.Required(),
			mcp.Description("Numeric task id"),
		),
		mcp.WithNumber("subtask_id",
			mcp.Required(),
			mcp.Description("Numeric subtask id"),
		),
		mcp.WithString("status",
			mcp.Required(),
			mcp.Description("New status"),
			mcp.Enum(
				string(core.SubtaskStatusPending),
				string(core.SubtaskStatusInProgress),
				string(core.SubtaskStatusCompleted),
				string(core.SubtaskStatusDelayed),
				string(core.SubtaskStatusOverdue),
			),
		),
		mcp.WithString("user_name",
			mcp.Required(),
			mcp.Description("Person making the change, recorded in the activity log"),
		),
		mcp.WithString("delay_reason",
			mcp.Description("Required when status is delayed"),
			mcp.Enum(
				string(core.DelayTechnicalIssue),
				string(core.DelayDataUnavailable),
				string(core.DelayExternalDependency),
				string(core.DelayResourceConstraint),
				string(core.DelayProcessChange),
				string(core.DelayOther),
			),
		),
		mcp.WithString("delay_notes",
			mcp.Description("Free-text notes for a delay"),
		),
	), s.handleSetSubtaskStatus)

	s.server.AddTool(mcp.NewTool("finops_check_sla",
		mcp.WithDescription("Run one SLA sweep now: mark late pending subtasks overdue and send reminders for long-running ones"),
	), s.handleCheckSLA)

	s.server.AddTool(mcp.NewTool("finops_run_task",
		mcp.WithDescription("Reset all subtasks of a task to pending immediately, regardless of its schedule"),
		mcp.WithNumber("task_id",
			mcp.Required(),
			mcp.Description("Numeric task id"),
		),
		mcp.WithString("user_name",
			mcp.Description("Person triggering the run (defaults to system)"),
		),
	), s.handleRunTask)

	s.server.AddTool(mcp.NewTool("finops_activity_log",
		mcp.WithDescription("Query the audit trail, newest first"),
		mcp.WithNumber("task_id",
			mcp.Description("Only entries for this task"),
		),
		mcp.WithString("user_name",
			mcp.Description("Only entries by this person"),
		),
		mcp.WithString("action",
			mcp.Description("Only entries with this action, e.g. subtask_status_changed or daily_execution"),
		),
		mcp.WithString("date",
			mcp.Description("Only entries on this day (YYYY-MM-DD)"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum entries, default 50"),
			mcp.Min(1),
		),
	), s.handleActivityLog)
}

func (s *MCPServer) handleListTasks(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := core.TaskFilter{ActiveOnly: mcp.ParseBoolean(request, "active_only", false)}
	tasks, err := s.engine.ListTasks(ctx, filter)
	if err != nil {
		s.logger.Error("list tasks", "err", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to list tasks: %v", err)), nil
	}
	if len(tasks) == 0 {
		return mcp.NewToolResultText("No tasks found"), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Found %d tasks:\n\n", len(tasks))
	for _, t := range tasks {
		done := 0
		for _, st := range t.Subtasks {
			if st.Status == core.SubtaskStatusCompleted {
				done++
			}
		}
		fmt.Fprintf(&b, "%s #%d %s [%s]\n", statusToIcon(t.Status), t.ID, t.Name, t.Status)
		fmt.Fprintf(&b, "  ID: %s\n", t.HumanID)
		fmt.Fprintf(&b, "  Assignee: %s\n", t.Assignee)
		fmt.Fprintf(&b, "  Recurrence: %s (active=%t)\n", t.Duration, t.IsActive)
		fmt.Fprintf(&b, "  Progress: %d/%d subtasks completed\n", done, len(t.Subtasks))
		if t.NextRun != nil {
			fmt.Fprintf(&b, "  Next run: %s\n", s.formatTime(t.NextRun))
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleGetTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := int64(mcp.ParseFloat64(request, "task_id", 0))
	task, err := s.engine.GetTask(ctx, taskID)
	if err != nil {
		return toolError(err), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Task #%d %s (%s)\n", task.ID, task.Name, task.HumanID)
	fmt.Fprintf(&b, "Status: %s\n", task.Status)
	fmt.Fprintf(&b, "Assignee: %s\n", task.Assignee)
	if len(task.ReportingManagers) > 0 {
		fmt.Fprintf(&b, "Reporting managers: %s\n", strings.Join(task.ReportingManagers, ", "))
	}
	if len(task.EscalationManagers) > 0 {
		fmt.Fprintf(&b, "Escalation managers: %s\n", strings.Join(task.EscalationManagers, ", "))
	}
	fmt.Fprintf(&b, "Effective from: %s\n", task.EffectiveFrom.In(s.engine.Location()).Format(core.DateLayout))
	fmt.Fprintf(&b, "Recurrence: %s (active=%t)\n", task.Duration, task.IsActive)
	fmt.Fprintf(&b, "Last run: %s\n", s.formatTime(task.LastRun))
	fmt.Fprintf(&b, "Next run: %s\n", s.formatTime(task.NextRun))
	b.WriteString("\nSubtasks:\n")
	for _, st := range task.Subtasks {
		fmt.Fprintf(&b, "  %d. [%s] #%d %s (starts %s)\n", st.OrderPosition, st.Status, st.ID, st.Name, st.StartTime)
		if st.StartedAt != nil {
			fmt.Fprintf(&b, "     started: %s\n", s.formatTime(st.StartedAt))
		}
		if st.CompletedAt != nil {
			fmt.Fprintf(&b, "     completed: %s\n", s.formatTime(st.CompletedAt))
		}
		if st.Status == core.SubtaskStatusDelayed && st.DelayReason != nil {
			fmt.Fprintf(&b, "     delay reason: %s\n", *st.DelayReason)
			if st.DelayNotes != nil {
				fmt.Fprintf(&b, "     notes: %s\n", *st.DelayNotes)
			}
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (s *MCPServer) handleSetSubtaskStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := s.engine.SetSubtaskStatus(ctx, core.SubtaskTransition{
		TaskID:      int64(mcp.ParseFloat64(request, "task_id", 0)),
		SubtaskID:   int64(mcp.ParseFloat64(request, "subtask_id", 0)),
		Status:      core.SubtaskStatus(mcp.ParseString(request, "status", "")),
		Actor:       mcp.ParseString(request, "user_name", ""),
		DelayReason: mcp.ParseString(request, "delay_reason", ""),
		DelayNotes:  mcp.ParseString(request, "delay_notes", ""),
	})
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Subtask #%d: %s -> %s\nTask #%d status: %s",
		result.SubtaskID, result.PreviousStatus, result.Status, result.TaskID, result.TaskStatus)), nil
}

func (s *MCPServer) handleCheckSLA(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.detector.Sweep(ctx)
	if err != nil {
		return toolError(err), nil
	}
	if report.Skipped {
		return mcp.NewToolResultText("SLA sweep skipped: another sweep is running"), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("SLA sweep finished\nChecked: %d\nMarked overdue: %d\nReminders: %d\nSuppressed: %d\nFailed: %d",
		report.Checked, report.Overdue, report.Reminders, report.Suppressed, report.Failed)), nil
}

func (s *MCPServer) handleRunTask(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	taskID := int64(mcp.ParseFloat64(request, "task_id", 0))
	task, err := s.resetter.RunTask(ctx, taskID, mcp.ParseString(request, "user_name", ""))
	if err != nil {
		return toolError(err), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Task #%d %s reset: %d subtasks pending\nNext run: %s",
		task.ID, task.Name, len(task.Subtasks), s.formatTime(task.NextRun))), nil
}

func (s *MCPServer) handleActivityLog(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := core.ActivityFilter{
		UserName: mcp.ParseString(request, "user_name", ""),
		Action:   mcp.ParseString(request, "action", ""),
		Limit:    int(mcp.ParseFloat64(request, "limit", 50)),
	}
	if id := int64(mcp.ParseFloat64(request, "task_id", 0)); id > 0 {
		filter.TaskID = &id
	}
	if date := mcp.ParseString(request, "date", ""); date != "" {
		day, err := core.ParseDate(date, s.engine.Location())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		filter.Day = day
	}
	entries, err := s.engine.ActivityLog(ctx, filter)
	if err != nil {
		return toolError(err), nil
	}
	if len(entries) == 0 {
		return mcp.NewToolResultText("No activity found"), nil
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s  %-24s %-12s %s\n", s.formatTime(&e.CreatedAt), e.Action, e.UserName, e.Details)
	}
	return mcp.NewToolResultText(b.String()), nil
}

func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(err.Error())
}

func (s *MCPServer) formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.In(s.engine.Location()).Format("2006-01-02 15:04:05")
}

func statusToIcon(status core.TaskStatus) string {
	switch status {
	case core.TaskStatusCompleted:
		return "✅"
	case core.TaskStatusOverdue:
		return "🚨"
	case core.TaskStatusDelayed:
		return "⏳"
	case core.TaskStatusInProgress:
		return "▶️"
	default:
		return "⏸️"
	}
}
