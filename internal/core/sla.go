package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Lease provides mutual exclusion between sweeps, within a process or across processes.
type Lease interface {
	// TryAcquire returns ok=false without blocking when the lease is held elsewhere.
	TryAcquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

const (
	slaSweepLease   = "sla-sweep"
	resetSweepLease = "daily-reset"
	sweepLeaseTTL   = 5 * time.Minute
)

// DetectorConfig tunes the SLA detector.
type DetectorConfig struct {
	OverdueCooldown     time.Duration
	LongRunningAfter    time.Duration
	LongRunningCooldown time.Duration
}

// DefaultDetectorConfig uses a 30 minute overdue cooldown and reminds about subtasks in
// progress for more than two hours at most once an hour.
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		OverdueCooldown:     30 * time.Minute,
		LongRunningAfter:    2 * time.Hour,
		LongRunningCooldown: 60 * time.Minute,
	}
}

// SweepReport summarises one SLA sweep.
type SweepReport struct {
	StartedAt  time.Time `json:"started_at"`
	Skipped    bool      `json:"skipped"`
	Checked    int       `json:"checked"`
	Overdue    int       `json:"overdue"`
	Reminders  int       `json:"reminders"`
	Suppressed int       `json:"suppressed"`
	Failed     int       `json:"failed"`
}

// Detector marks pending subtasks overdue once their start time has passed and reminds
// owners about subtasks that have been in progress for too long.
type Detector struct {
	engine *Engine
	store  Store
	lease  Lease
	cfg    DetectorConfig
	logger *slog.Logger
}

// NewDetector constructs a detector that transitions subtasks through engine.
func NewDetector(engine *Engine, store Store, lease Lease, cfg DetectorConfig, logger *slog.Logger) *Detector {
	def := DefaultDetectorConfig()
	if cfg.OverdueCooldown <= 0 {
		cfg.OverdueCooldown = def.OverdueCooldown
	}
	if cfg.LongRunningAfter <= 0 {
		cfg.LongRunningAfter = def.LongRunningAfter
	}
	if cfg.LongRunningCooldown <= 0 {
		cfg.LongRunningCooldown = def.LongRunningCooldown
	}
	return &Detector{
		engine: engine,
		store:  store,
		lease:  lease,
		cfg:    cfg,
		logger: logger,
	}
}

// Sweep runs one pass over every active task. Failures on individual subtasks are
// logged and counted; only a failure to list tasks aborts the sweep.
func (d *Detector) Sweep(ctx context.Context) (SweepReport, error) {
	now := d.engine.Now()
	report := SweepReport{StartedAt: now.UTC()}

	release, ok, err := acquire(ctx, d.lease, slaSweepLease)
	if err != nil {
		return report, &DependencyError{Dependency: "lease", Err: err}
	}
	if !ok {
		d.logger.Info("sla sweep skipped, lease held elsewhere")
		report.Skipped = true
		return report, nil
	}
	defer release()

	tasks, err := d.store.ListTasks(ctx, TaskFilter{ActiveOnly: true})
	if err != nil {
		return report, &DependencyError{Dependency: "store", Err: err}
	}

	loc := d.engine.Location()
	today := StartOfDay(now, loc)
	for _, task := range tasks {
		if StartOfDay(task.EffectiveFrom, loc).After(today) {
			continue
		}
		for _, sub := range task.Subtasks {
			switch sub.Status {
			case SubtaskStatusPending:
				report.Checked++
				d.checkOverdue(ctx, task, sub, now, &report)
			case SubtaskStatusInProgress:
				report.Checked++
				d.checkLongRunning(ctx, task, sub, now, &report)
			}
		}
	}

	d.logger.Info("sla sweep finished",
		"checked", report.Checked, "overdue", report.Overdue, "reminders", report.Reminders,
		"suppressed", report.Suppressed, "failed", report.Failed)
	return report, nil
}

func (d *Detector) checkOverdue(ctx context.Context, task *Task, sub *Subtask, now time.Time, report *SweepReport) {
	loc := d.engine.Location()
	due := sub.StartTime.On(now, loc)
	if !now.After(due) {
		return
	}
	minutesOverdue := int(now.Sub(due) / time.Minute)

	rec := &AlertRecord{
		TaskID:    task.ID,
		SubtaskID: sub.ID,
		AlertType: AlertSLAOverdue,
		DedupKey:  fmt.Sprintf("%s:%d:%d:%s", AlertSLAOverdue, task.ID, sub.ID, due.Format(DateLayout)),
		CreatedAt: now.UTC(),
	}
	// The claim and the status change commit together, and only against the version
	// this sweep read, so a subtask started meanwhile is left alone.
	_, _, err := d.engine.transition(ctx, SubtaskTransition{
		TaskID:          task.ID,
		SubtaskID:       sub.ID,
		Status:          SubtaskStatusOverdue,
		Actor:           SystemActor,
		ExpectedVersion: sub.Version,
	}, &AlertClaim{Record: rec, Since: now.Add(-d.cfg.OverdueCooldown).UTC()}, func(n *Notification) {
		n.MinutesOverdue = minutesOverdue
	})
	switch {
	case errors.Is(err, ErrAlertSuppressed):
		report.Suppressed++
		return
	case errors.Is(err, ErrConflict), IsNotFound(err):
		d.logger.Info("subtask changed during sla sweep", "task_id", task.ID, "subtask_id", sub.ID)
		return
	case err != nil:
		report.Failed++
		d.logger.Error("mark subtask overdue", "task_id", task.ID, "subtask_id", sub.ID, "err", err)
		return
	}
	report.Overdue++
	d.logger.Warn("subtask breached sla",
		"task_id", task.ID, "subtask_id", sub.ID, "start_time", sub.StartTime.String(), "minutes_overdue", minutesOverdue)
}

func (d *Detector) checkLongRunning(ctx context.Context, task *Task, sub *Subtask, now time.Time, report *SweepReport) {
	if sub.StartedAt == nil {
		return
	}
	running := now.Sub(*sub.StartedAt)
	if running <= d.cfg.LongRunningAfter {
		return
	}
	bucket := now.UTC().Truncate(d.cfg.LongRunningCooldown)
	rec := &AlertRecord{
		TaskID:    task.ID,
		SubtaskID: sub.ID,
		AlertType: AlertLongRunning,
		DedupKey:  fmt.Sprintf("%s:%d:%d:%d", AlertLongRunning, task.ID, sub.ID, bucket.Unix()),
		CreatedAt: now.UTC(),
	}
	claimed, err := d.store.ClaimAlert(ctx, rec, now.Add(-d.cfg.LongRunningCooldown).UTC())
	if err != nil {
		report.Failed++
		d.logger.Error("claim long-running alert", "task_id", task.ID, "subtask_id", sub.ID, "err", err)
		return
	}
	if !claimed {
		report.Suppressed++
		return
	}

	recipients := make([]string, 0, len(task.ReportingManagers)+1)
	if task.Assignee != "" {
		recipients = append(recipients, task.Assignee)
	}
	recipients = append(recipients, task.ReportingManagers...)
	d.engine.notifier.Notify(ctx, Notification{
		Kind:        NotifyLongRunning,
		Recipients:  recipients,
		TaskID:      task.ID,
		TaskHumanID: task.HumanID,
		TaskName:    task.Name,
		Assignee:    task.Assignee,
		SubtaskID:   sub.ID,
		SubtaskName: sub.Name,
		StartTime:   sub.StartTime.String(),
		Actor:       SystemActor,
		RunningFor:  running.Truncate(time.Minute),
		OccurredAt:  now.UTC(),
	})
	report.Reminders++
}

func acquire(ctx context.Context, lease Lease, name string) (func(), bool, error) {
	if lease == nil {
		return func() {}, true, nil
	}
	return lease.TryAcquire(ctx, name, sweepLeaseTTL)
}
