package store

import (
	"context"
	"database/sql"
	"fmt"

	"finopstrack/internal/core"
)

// ApplySubtaskTransition writes a subtask's execution state if its version is unchanged,
// recomputes the owning task's status with derive and appends entry, atomically. An
// alert attached to update is claimed in the same transaction; when it is suppressed
// the transaction is rolled back and core.ErrAlertSuppressed returned.
func (s *Store) ApplySubtaskTransition(ctx context.Context, update core.SubtaskStateUpdate, entry *core.ActivityEntry, derive func([]core.SubtaskStatus) core.TaskStatus) (core.TaskStatus, error) {
	var taskStatus core.TaskStatus
	var reason *string
	if update.DelayReason != nil {
		r := string(*update.DelayReason)
		reason = &r
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if update.Alert != nil {
			claimed, err := claimAlertTx(ctx, tx, update.Alert.Record, update.Alert.Since)
			if err != nil {
				return err
			}
			if !claimed {
				return core.ErrAlertSuppressed
			}
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE subtasks
			SET status = ?, started_at = ?, completed_at = ?, delay_reason = ?, delay_notes = ?,
				version = version + 1, updated_at = ?
			WHERE id = ? AND task_id = ? AND version = ?
		`, update.Status, nullableTime(update.StartedAt), nullableTime(update.CompletedAt),
			nullableString(reason), nullableString(update.DelayNotes), formatTime(update.UpdatedAt),
			update.SubtaskID, update.TaskID, update.ExpectedVersion)
		if err != nil {
			return fmt.Errorf("update subtask state: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			var count int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM subtasks WHERE id = ? AND task_id = ?`,
				update.SubtaskID, update.TaskID).Scan(&count); err != nil {
				return fmt.Errorf("check subtask: %w", err)
			}
			if count == 0 {
				return ErrSubtaskNotFound
			}
			return ErrVersionConflict
		}

		statuses, err := subtaskStatusesTx(ctx, tx, update.TaskID)
		if err != nil {
			return err
		}
		taskStatus = derive(statuses)
		if _, err := tx.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
			taskStatus, formatTime(update.UpdatedAt), update.TaskID); err != nil {
			return fmt.Errorf("update task status: %w", err)
		}
		if entry != nil {
			return appendActivity(ctx, tx, entry)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return taskStatus, nil
}

// ResetTaskWindow returns all subtasks of a task to pending and advances last_run/next_run.
// With a WindowStart the task row is claimed with a conditional update, so a second reset
// inside the same window reports false and changes nothing.
func (s *Store) ResetTaskWindow(ctx context.Context, reset core.TaskReset) (bool, error) {
	done := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var (
			res sql.Result
			err error
		)
		if reset.WindowStart != nil {
			res, err = tx.ExecContext(ctx, `
				UPDATE tasks
				SET last_run = ?, next_run = ?, status = ?, updated_at = ?
				WHERE id = ? AND is_active = 1 AND (last_run IS NULL OR last_run < ?)
			`, formatTime(reset.Now), formatTime(reset.NextRun), reset.Status, formatTime(reset.Now),
				reset.TaskID, formatTime(*reset.WindowStart))
		} else {
			res, err = tx.ExecContext(ctx, `
				UPDATE tasks
				SET last_run = ?, next_run = ?, status = ?, updated_at = ?
				WHERE id = ?
			`, formatTime(reset.Now), formatTime(reset.NextRun), reset.Status, formatTime(reset.Now), reset.TaskID)
		}
		if err != nil {
			return fmt.Errorf("claim task window: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			var count int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE id = ?`, reset.TaskID).Scan(&count); err != nil {
				return fmt.Errorf("check task: %w", err)
			}
			if count == 0 {
				return ErrTaskNotFound
			}
			return nil
		}

		// delay_reason and delay_notes are left as they were.
		if _, err := tx.ExecContext(ctx, `
			UPDATE subtasks
			SET status = ?, started_at = NULL, completed_at = NULL, version = version + 1, updated_at = ?
			WHERE task_id = ?
		`, core.SubtaskStatusPending, formatTime(reset.Now), reset.TaskID); err != nil {
			return fmt.Errorf("reset subtasks: %w", err)
		}
		if reset.Entry != nil {
			if err := appendActivity(ctx, tx, reset.Entry); err != nil {
				return err
			}
		}
		done = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return done, nil
}

func subtaskStatusesTx(ctx context.Context, tx *sql.Tx, taskID int64) ([]core.SubtaskStatus, error) {
	rows, err := tx.QueryContext(ctx, `SELECT status FROM subtasks WHERE task_id = ? ORDER BY order_position`, taskID)
	if err != nil {
		return nil, fmt.Errorf("query subtask statuses: %w", err)
	}
	defer rows.Close()
	var out []core.SubtaskStatus
	for rows.Next() {
		var st string
		if err := rows.Scan(&st); err != nil {
			return nil, err
		}
		out = append(out, core.SubtaskStatus(st))
	}
	return out, rows.Err()
}
