package core

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ResetReport summarises one daily-reset pass.
type ResetReport struct {
	StartedAt time.Time `json:"started_at"`
	Skipped   bool      `json:"skipped"`
	Reset     int       `json:"reset"`
	Current   int       `json:"current"`
	Failed    int       `json:"failed"`
}

// Resetter returns the subtasks of recurring tasks to pending once per window.
type Resetter struct {
	engine *Engine
	store  Store
	lease  Lease
	logger *slog.Logger
}

// NewResetter constructs a resetter sharing engine's clock and location.
func NewResetter(engine *Engine, store Store, lease Lease, logger *slog.Logger) *Resetter {
	return &Resetter{
		engine: engine,
		store:  store,
		lease:  lease,
		logger: logger,
	}
}

// ResetDue resets every active daily task that is effective and has not run today.
// Concurrent invocations are safe: the store only resets a task whose last_run is
// still before the start of today.
func (r *Resetter) ResetDue(ctx context.Context) (ResetReport, error) {
	now := r.engine.Now()
	report := ResetReport{StartedAt: now.UTC()}

	release, ok, err := acquire(ctx, r.lease, resetSweepLease)
	if err != nil {
		return report, &DependencyError{Dependency: "lease", Err: err}
	}
	if !ok {
		r.logger.Info("daily reset skipped, lease held elsewhere")
		report.Skipped = true
		return report, nil
	}
	defer release()

	tasks, err := r.store.ListTasks(ctx, TaskFilter{ActiveOnly: true})
	if err != nil {
		return report, &DependencyError{Dependency: "store", Err: err}
	}

	loc := r.engine.Location()
	today := StartOfDay(now, loc)
	for _, task := range tasks {
		if task.Duration != DurationDaily {
			continue
		}
		if StartOfDay(task.EffectiveFrom, loc).After(today) {
			continue
		}
		if task.LastRun != nil && !task.LastRun.Before(today) {
			report.Current++
			continue
		}
		done, err := r.reset(ctx, task, &today, SystemActor, ActionDailyExecution)
		if err != nil {
			report.Failed++
			r.logger.Error("daily reset", "task_id", task.ID, "err", err)
			continue
		}
		if done {
			report.Reset++
		} else {
			report.Current++
		}
	}

	r.logger.Info("daily reset finished", "reset", report.Reset, "current", report.Current, "failed", report.Failed)
	return report, nil
}

// RunTask resets a single task immediately, regardless of its schedule.
func (r *Resetter) RunTask(ctx context.Context, id int64, actor string) (*Task, error) {
	task, err := r.store.GetTask(ctx, id)
	if err != nil {
		return nil, storeErr(err, "task", id)
	}
	if _, err := r.reset(ctx, task, nil, actorOrSystem(actor), ActionManualExecution); err != nil {
		return nil, err
	}
	return r.engine.GetTask(ctx, id)
}

func (r *Resetter) reset(ctx context.Context, task *Task, windowStart *time.Time, actor, action string) (bool, error) {
	now := r.engine.Now().UTC()
	kind := "Daily"
	if action == ActionManualExecution {
		kind = "Manual"
	}
	entry := &ActivityEntry{
		TaskID:    int64Ptr(task.ID),
		Action:    action,
		UserName:  actor,
		Details:   fmt.Sprintf("%s execution of %q: %d subtasks reset to pending", kind, task.Name, len(task.Subtasks)),
		CreatedAt: now,
	}
	pending := make([]SubtaskStatus, len(task.Subtasks))
	for i := range pending {
		pending[i] = SubtaskStatusPending
	}
	var windowUTC *time.Time
	if windowStart != nil {
		w := windowStart.UTC()
		windowUTC = &w
	}
	done, err := r.store.ResetTaskWindow(ctx, TaskReset{
		TaskID:      task.ID,
		WindowStart: windowUTC,
		Now:         now,
		NextRun:     nextRun(task.Duration, now),
		Status:      DeriveTaskStatus(pending),
		Entry:       entry,
	})
	if err != nil {
		return false, storeErr(err, "task", task.ID)
	}
	if done {
		r.logger.Info("task reset", "task_id", task.ID, "action", strings.ToLower(kind))
	}
	return done, nil
}

func nextRun(d Duration, now time.Time) time.Time {
	switch d {
	case DurationWeekly:
		return now.AddDate(0, 0, 7)
	case DurationMonthly:
		return now.AddDate(0, 1, 0)
	default:
		return now.AddDate(0, 0, 1)
	}
}
