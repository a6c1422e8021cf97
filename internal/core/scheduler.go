package core

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler drives the SLA detector and the daily resetter from cron schedules.
type Scheduler struct {
	detector *Detector
	resetter *Resetter
	logger   *slog.Logger
	location *time.Location

	cron      *cron.Cron
	schedules map[string]cron.Schedule
	ctx       context.Context
}

// ScheduleSpec holds the cron expressions of the two periodic jobs.
type ScheduleSpec struct {
	SLACron   string
	ResetCron string
}

// NewScheduler constructs a scheduler with the given dependencies. Overlapping runs of the
// same job are skipped rather than queued.
func NewScheduler(detector *Detector, resetter *Resetter, logger *slog.Logger, location *time.Location) *Scheduler {
	if location == nil {
		location = time.Local
	}
	c := cron.New(
		cron.WithParser(sweepCronParser),
		cron.WithLocation(location),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	return &Scheduler{
		detector: detector,
		resetter: resetter,
		logger:   logger,
		location: location,
		cron:     c,
	}
}

// Register adds both jobs. It must be called before Start.
func (s *Scheduler) Register(spec ScheduleSpec) error {
	slaSchedule, err := ParseSweepCron(JobSLASweep, spec.SLACron)
	if err != nil {
		return err
	}
	resetSchedule, err := ParseSweepCron(JobDailyReset, spec.ResetCron)
	if err != nil {
		return err
	}
	s.cron.Schedule(resetSchedule, cron.FuncJob(s.runReset))
	s.cron.Schedule(slaSchedule, cron.FuncJob(s.runSLA))
	s.schedules = map[string]cron.Schedule{
		JobSLASweep:   slaSchedule,
		JobDailyReset: resetSchedule,
	}
	return nil
}

// Upcoming returns the next n fire times of each job, keyed by job name.
func (s *Scheduler) Upcoming(now time.Time, n int) map[string][]time.Time {
	out := make(map[string][]time.Time, len(s.schedules))
	base := now.In(s.location)
	for job, sched := range s.schedules {
		out[job] = fireTimes(sched, base, n)
	}
	return out
}

// Start begins the scheduling loop. ctx is used for the jobs' store and notification calls.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	for _, entry := range s.cron.Entries() {
		s.logger.Debug("scheduled job", "entry_id", entry.ID, "next", entry.Next)
	}
}

// Stop stops the scheduler and returns a context that is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runSLA() {
	if _, err := s.detector.Sweep(s.ctxOrBackground()); err != nil {
		s.logger.Error("scheduled sla sweep", "err", err)
	}
}

func (s *Scheduler) runReset() {
	if _, err := s.resetter.ResetDue(s.ctxOrBackground()); err != nil {
		s.logger.Error("scheduled daily reset", "err", err)
	}
}

func (s *Scheduler) ctxOrBackground() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}
