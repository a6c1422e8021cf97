package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"finopstrack/internal/core"
)

const taskColumns = `id, human_id, name, description, assignee, reporting_managers, escalation_managers,
	effective_from, duration, is_active, status, last_run, next_run, created_at, updated_at`

const subtaskColumns = `id, task_id, name, description, start_time, order_position, status,
	started_at, completed_at, delay_reason, delay_notes, version, created_at, updated_at`

// InsertTask stores a new task with its subtasks and the creation audit entry.
// IDs are assigned from the table sequences and written back into task and entry.
func (s *Store) InsertTask(ctx context.Context, task *core.Task, entry *core.ActivityEntry) error {
	now := time.Now().UTC()
	task.CreatedAt = now
	task.UpdatedAt = now
	reporting, escalation, err := encodeManagers(task)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO tasks (human_id, name, description, assignee, reporting_managers, escalation_managers,
				effective_from, duration, is_active, status, last_run, next_run, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, task.HumanID, task.Name, task.Description, task.Assignee, reporting, escalation,
			formatTime(task.EffectiveFrom), task.Duration, boolToInt(task.IsActive), task.Status,
			nullableTime(task.LastRun), nullableTime(task.NextRun), formatTime(now), formatTime(now))
		if err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("task id: %w", err)
		}
		task.ID = id
		for _, sub := range task.Subtasks {
			sub.TaskID = id
			if err := insertSubtask(ctx, tx, sub, now); err != nil {
				return err
			}
		}
		if entry != nil {
			entry.TaskID = &id
			if err := appendActivity(ctx, tx, entry); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateTaskDefinition writes a task's definition fields and reconciles its subtasks:
// subtasks with an ID keep their execution state, new ones are inserted and those no
// longer listed are deleted. The task status is recomputed with derive from the subtask
// rows as they stand inside the transaction.
func (s *Store) UpdateTaskDefinition(ctx context.Context, task *core.Task, entry *core.ActivityEntry, derive func([]core.SubtaskStatus) core.TaskStatus) error {
	now := time.Now().UTC()
	task.UpdatedAt = now
	reporting, escalation, err := encodeManagers(task)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE tasks
			SET name = ?, description = ?, assignee = ?, reporting_managers = ?, escalation_managers = ?,
				effective_from = ?, duration = ?, is_active = ?, next_run = ?, updated_at = ?
			WHERE id = ?
		`, task.Name, task.Description, task.Assignee, reporting, escalation,
			formatTime(task.EffectiveFrom), task.Duration, boolToInt(task.IsActive),
			nullableTime(task.NextRun), formatTime(now), task.ID)
		if err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update task rows: %w", err)
		}
		if rows == 0 {
			return ErrTaskNotFound
		}

		kept := make([]any, 0, len(task.Subtasks))
		for _, sub := range task.Subtasks {
			if sub.ID != 0 {
				kept = append(kept, sub.ID)
			}
		}
		deleteSQL := `DELETE FROM subtasks WHERE task_id = ?`
		args := []any{task.ID}
		if len(kept) > 0 {
			deleteSQL += ` AND id NOT IN (` + placeholders(len(kept)) + `)`
			args = append(args, kept...)
		}
		if _, err := tx.ExecContext(ctx, deleteSQL, args...); err != nil {
			return fmt.Errorf("delete removed subtasks: %w", err)
		}
		// Move kept rows out of the way so reordering cannot trip UNIQUE(task_id, order_position).
		if _, err := tx.ExecContext(ctx, `UPDATE subtasks SET order_position = -id WHERE task_id = ?`, task.ID); err != nil {
			return fmt.Errorf("park subtask positions: %w", err)
		}
		for _, sub := range task.Subtasks {
			sub.TaskID = task.ID
			if sub.ID == 0 {
				if err := insertSubtask(ctx, tx, sub, now); err != nil {
					return err
				}
				continue
			}
			res, err := tx.ExecContext(ctx, `
				UPDATE subtasks
				SET name = ?, description = ?, start_time = ?, order_position = ?, version = version + 1, updated_at = ?
				WHERE id = ? AND task_id = ?
			`, sub.Name, nullableString(sub.Description), sub.StartTime.String(), sub.OrderPosition, formatTime(now),
				sub.ID, task.ID)
			if err != nil {
				return fmt.Errorf("update subtask %d: %w", sub.ID, err)
			}
			if rows, err := res.RowsAffected(); err != nil {
				return err
			} else if rows == 0 {
				return ErrSubtaskNotFound
			}
		}

		statuses, err := subtaskStatusesTx(ctx, tx, task.ID)
		if err != nil {
			return err
		}
		task.Status = derive(statuses)
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE id = ?`, task.Status, task.ID); err != nil {
			return fmt.Errorf("update task status: %w", err)
		}
		if entry != nil {
			return appendActivity(ctx, tx, entry)
		}
		return nil
	})
}

// DeleteTask removes a task, its subtasks and alert records. The audit entry is kept.
func (s *Store) DeleteTask(ctx context.Context, id int64, entry *core.ActivityEntry) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM subtasks WHERE task_id = ?`, id); err != nil {
			return fmt.Errorf("delete subtasks: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM alerts WHERE task_id = ?`, id); err != nil {
			return fmt.Errorf("delete alerts: %w", err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete task: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			return ErrTaskNotFound
		}
		if entry != nil {
			return appendActivity(ctx, tx, entry)
		}
		return nil
	})
}

// GetTask loads a task and its subtasks ordered by position.
func (s *Store) GetTask(ctx context.Context, id int64) (*core.Task, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTaskNotFound
		}
		return nil, err
	}
	subtasks, err := s.listSubtasks(ctx, `WHERE task_id = ?`, id)
	if err != nil {
		return nil, err
	}
	task.Subtasks = subtasks
	return task, nil
}

// ListTasks returns tasks ordered by id, each with its ordered subtasks.
func (s *Store) ListTasks(ctx context.Context, filter core.TaskFilter) ([]*core.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks`
	subWhere := ``
	if filter.ActiveOnly {
		query += ` WHERE is_active = 1`
		subWhere = `WHERE task_id IN (SELECT id FROM tasks WHERE is_active = 1)`
	}
	query += ` ORDER BY id`
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()
	var tasks []*core.Task
	byID := make(map[int64]*core.Task)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
		byID[task.ID] = task
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close()

	subtasks, err := s.listSubtasks(ctx, subWhere)
	if err != nil {
		return nil, err
	}
	for _, sub := range subtasks {
		if task, ok := byID[sub.TaskID]; ok {
			task.Subtasks = append(task.Subtasks, sub)
		}
	}
	return tasks, nil
}

// StatusCounts returns the number of tasks per derived status and subtasks per status.
func (s *Store) StatusCounts(ctx context.Context) (map[string]int, map[string]int, error) {
	tasks, err := s.countBy(ctx, `SELECT status, COUNT(1) FROM tasks WHERE is_active = 1 GROUP BY status`)
	if err != nil {
		return nil, nil, err
	}
	subtasks, err := s.countBy(ctx, `
		SELECT s.status, COUNT(1) FROM subtasks s
		JOIN tasks t ON t.id = s.task_id
		WHERE t.is_active = 1
		GROUP BY s.status`)
	if err != nil {
		return nil, nil, err
	}
	return tasks, subtasks, nil
}

func (s *Store) countBy(ctx context.Context, query string) (map[string]int, error) {
	rows, err := s.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count: %w", err)
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, err
		}
		out[key] = n
	}
	return out, rows.Err()
}

func (s *Store) listSubtasks(ctx context.Context, where string, args ...any) ([]*core.Subtask, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+subtaskColumns+` FROM subtasks `+where+` ORDER BY task_id, order_position`, args...)
	if err != nil {
		return nil, fmt.Errorf("query subtasks: %w", err)
	}
	defer rows.Close()
	var out []*core.Subtask
	for rows.Next() {
		sub, err := scanSubtask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func insertSubtask(ctx context.Context, tx *sql.Tx, sub *core.Subtask, now time.Time) error {
	if sub.Status == "" {
		sub.Status = core.SubtaskStatusPending
	}
	sub.Version = 1
	sub.CreatedAt = now
	sub.UpdatedAt = now
	var reason *string
	if sub.DelayReason != nil {
		r := string(*sub.DelayReason)
		reason = &r
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO subtasks (task_id, name, description, start_time, order_position, status,
			started_at, completed_at, delay_reason, delay_notes, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sub.TaskID, sub.Name, nullableString(sub.Description), sub.StartTime.String(), sub.OrderPosition, sub.Status,
		nullableTime(sub.StartedAt), nullableTime(sub.CompletedAt), nullableString(reason), nullableString(sub.DelayNotes),
		sub.Version, formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("insert subtask: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("subtask id: %w", err)
	}
	sub.ID = id
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(scanner rowScanner) (*core.Task, error) {
	var (
		task       core.Task
		reporting  string
		escalation string
		effective  string
		duration   string
		active     int
		status     string
		lastRun    sql.NullString
		nextRun    sql.NullString
		createdAt  string
		updatedAt  string
	)
	if err := scanner.Scan(&task.ID, &task.HumanID, &task.Name, &task.Description, &task.Assignee,
		&reporting, &escalation, &effective, &duration, &active, &status, &lastRun, &nextRun,
		&createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	task.Duration = core.Duration(duration)
	task.Status = core.TaskStatus(status)
	task.IsActive = active != 0
	if err := json.Unmarshal([]byte(reporting), &task.ReportingManagers); err != nil {
		return nil, fmt.Errorf("decode reporting managers of task %d: %w", task.ID, err)
	}
	if err := json.Unmarshal([]byte(escalation), &task.EscalationManagers); err != nil {
		return nil, fmt.Errorf("decode escalation managers of task %d: %w", task.ID, err)
	}
	var err error
	if task.EffectiveFrom, err = parseTime(effective); err != nil {
		return nil, err
	}
	if task.LastRun, err = timePtr(lastRun); err != nil {
		return nil, err
	}
	if task.NextRun, err = timePtr(nextRun); err != nil {
		return nil, err
	}
	if task.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if task.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &task, nil
}

func scanSubtask(scanner rowScanner) (*core.Subtask, error) {
	var (
		sub         core.Subtask
		description sql.NullString
		startTime   string
		status      string
		startedAt   sql.NullString
		completedAt sql.NullString
		delayReason sql.NullString
		delayNotes  sql.NullString
		createdAt   string
		updatedAt   string
	)
	if err := scanner.Scan(&sub.ID, &sub.TaskID, &sub.Name, &description, &startTime, &sub.OrderPosition, &status,
		&startedAt, &completedAt, &delayReason, &delayNotes, &sub.Version, &createdAt, &updatedAt); err != nil {
		return nil, fmt.Errorf("scan subtask: %w", err)
	}
	sub.Status = core.SubtaskStatus(status)
	if description.Valid {
		sub.Description = &description.String
	}
	if delayReason.Valid {
		r := core.DelayReason(delayReason.String)
		sub.DelayReason = &r
	}
	if delayNotes.Valid {
		sub.DelayNotes = &delayNotes.String
	}
	var err error
	if sub.StartTime, err = core.ParseClockTime(startTime); err != nil {
		return nil, fmt.Errorf("subtask %d: %w", sub.ID, err)
	}
	if sub.StartedAt, err = timePtr(startedAt); err != nil {
		return nil, err
	}
	if sub.CompletedAt, err = timePtr(completedAt); err != nil {
		return nil, err
	}
	if sub.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if sub.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &sub, nil
}

func encodeManagers(task *core.Task) (string, string, error) {
	reporting, err := json.Marshal(nonNil(task.ReportingManagers))
	if err != nil {
		return "", "", fmt.Errorf("encode reporting managers: %w", err)
	}
	escalation, err := json.Marshal(nonNil(task.EscalationManagers))
	if err != nil {
		return "", "", fmt.Errorf("encode escalation managers: %w", err)
	}
	return string(reporting), string(escalation), nil
}

func nonNil(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
