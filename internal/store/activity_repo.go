package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"finopstrack/internal/core"
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// AppendActivity writes an audit entry. Entries are never updated or deleted.
func (s *Store) AppendActivity(ctx context.Context, entry *core.ActivityEntry) error {
	return appendActivity(ctx, s.DB, entry)
}

func appendActivity(ctx context.Context, db execer, entry *core.ActivityEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO activity_log (task_id, subtask_id, action, user_name, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, nullableInt64(entry.TaskID), nullableInt64(entry.SubtaskID), entry.Action, entry.UserName, entry.Details,
		formatTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("append activity: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("activity id: %w", err)
	}
	entry.ID = id
	return nil
}

// ListActivity returns audit entries newest first.
func (s *Store) ListActivity(ctx context.Context, filter core.ActivityFilter) ([]*core.ActivityEntry, error) {
	var (
		conds []string
		args  []any
	)
	if filter.TaskID != nil {
		conds = append(conds, "task_id = ?")
		args = append(args, *filter.TaskID)
	}
	if filter.UserName != "" {
		conds = append(conds, "user_name = ?")
		args = append(args, filter.UserName)
	}
	if filter.Action != "" {
		conds = append(conds, "action = ?")
		args = append(args, filter.Action)
	}
	if !filter.Day.IsZero() {
		conds = append(conds, "created_at >= ? AND created_at < ?")
		args = append(args, formatTime(filter.Day), formatTime(filter.Day.AddDate(0, 0, 1)))
	}
	query := `SELECT id, task_id, subtask_id, action, user_name, details, created_at FROM activity_log`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activity: %w", err)
	}
	defer rows.Close()
	var out []*core.ActivityEntry
	for rows.Next() {
		var (
			entry     core.ActivityEntry
			taskID    sql.NullInt64
			subtaskID sql.NullInt64
			createdAt string
		)
		if err := rows.Scan(&entry.ID, &taskID, &subtaskID, &entry.Action, &entry.UserName, &entry.Details, &createdAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		if taskID.Valid {
			entry.TaskID = &taskID.Int64
		}
		if subtaskID.Valid {
			entry.SubtaskID = &subtaskID.Int64
		}
		if entry.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &entry)
	}
	return out, rows.Err()
}

func nullableInt64(value *int64) any {
	if value == nil {
		return nil
	}
	return *value
}
