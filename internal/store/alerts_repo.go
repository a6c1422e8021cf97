package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"finopstrack/internal/core"
)

// ClaimAlert records rec unless an alert of the same type for the same subtask was
// recorded after since, or one with the same dedup key already exists. It reports
// whether the caller now owns the alert.
func (s *Store) ClaimAlert(ctx context.Context, rec *core.AlertRecord, since time.Time) (bool, error) {
	claimed := false
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		claimed, err = claimAlertTx(ctx, tx, rec, since)
		return err
	})
	if err != nil {
		return false, err
	}
	return claimed, nil
}

func claimAlertTx(ctx context.Context, tx *sql.Tx, rec *core.AlertRecord, since time.Time) (bool, error) {
	var recent int
	if err := tx.QueryRowContext(ctx, `
		SELECT COUNT(1) FROM alerts
		WHERE task_id = ? AND subtask_id = ? AND alert_type = ? AND created_at > ?
	`, rec.TaskID, rec.SubtaskID, rec.AlertType, formatTime(since)).Scan(&recent); err != nil {
		return false, fmt.Errorf("query recent alerts: %w", err)
	}
	if recent > 0 {
		return false, nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	res, err := tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO alerts (task_id, subtask_id, alert_type, dedup_key, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, rec.TaskID, rec.SubtaskID, rec.AlertType, rec.DedupKey, formatTime(rec.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("insert alert: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		return false, nil
	}
	id, err := res.LastInsertId()
	if err != nil {
		return false, fmt.Errorf("alert id: %w", err)
	}
	rec.ID = id
	return true, nil
}

const maxAlertLimit = 500

// ListAlerts returns the most recent alerts recorded for a task, at most 500.
func (s *Store) ListAlerts(ctx context.Context, taskID int64, limit int) ([]*core.AlertRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > maxAlertLimit {
		limit = maxAlertLimit
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, task_id, subtask_id, alert_type, dedup_key, created_at
		FROM alerts
		WHERE task_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, taskID, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()
	var out []*core.AlertRecord
	for rows.Next() {
		var (
			rec       core.AlertRecord
			alertType string
			createdAt string
		)
		if err := rows.Scan(&rec.ID, &rec.TaskID, &rec.SubtaskID, &alertType, &rec.DedupKey, &createdAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		rec.AlertType = core.AlertType(alertType)
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}
