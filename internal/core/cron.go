package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Names of the periodic jobs, as reported by Scheduler.Upcoming.
const (
	JobSLASweep   = "sla_sweep"
	JobDailyReset = "daily_reset"
)

// Minute-resolution five-field expressions, evaluated in the scheduler's location.
var sweepCronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSweepCron parses the schedule of job. Descriptors such as @hourly or @every are
// rejected; errors name the job.
func ParseSweepCron(job, expr string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	switch {
	case expr == "":
		return nil, fmt.Errorf("%s: empty cron expression", job)
	case strings.HasPrefix(expr, "@"):
		return nil, fmt.Errorf("%s: descriptor %q is not supported, use five cron fields", job, expr)
	}
	schedule, err := sweepCronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid cron expression %q: %w", job, expr, err)
	}
	return schedule, nil
}

// fireTimes lists the next n times schedule fires strictly after base.
func fireTimes(schedule cron.Schedule, base time.Time, n int) []time.Time {
	if n <= 0 {
		return nil
	}
	out := make([]time.Time, 0, n)
	for next := schedule.Next(base); len(out) < n && !next.IsZero(); next = schedule.Next(next) {
		out = append(out, next)
	}
	return out
}
