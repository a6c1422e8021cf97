package core

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock returns the current time. Tests substitute a fixed clock.
type Clock func() time.Time

// ClockTime is a wall-clock time of day such as 05:00.
type ClockTime struct {
	Hour   int
	Minute int
}

// ParseClockTime accepts HH:MM and HH:MM:SS. Seconds must be valid but are dropped.
func ParseClockTime(value string) (ClockTime, error) {
	parts := strings.Split(strings.TrimSpace(value), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return ClockTime{}, fmt.Errorf("invalid time of day %q: expected HH:MM", value)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return ClockTime{}, fmt.Errorf("invalid hour in %q", value)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return ClockTime{}, fmt.Errorf("invalid minute in %q", value)
	}
	if len(parts) == 3 {
		if second, err := strconv.Atoi(parts[2]); err != nil || second < 0 || second > 59 {
			return ClockTime{}, fmt.Errorf("invalid second in %q", value)
		}
	}
	return ClockTime{Hour: hour, Minute: minute}, nil
}

func (c ClockTime) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

// On returns the instant at which this time of day occurs on the calendar day of t, in loc.
func (c ClockTime) On(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), c.Hour, c.Minute, 0, 0, loc)
}

// StartOfDay returns local midnight of the calendar day containing t.
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// DateLayout is the calendar-date format used on the wire and in storage.
const DateLayout = "2006-01-02"

// ParseDate parses a YYYY-MM-DD date as local midnight in loc.
func ParseDate(value string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, strings.TrimSpace(value), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", value)
	}
	return t, nil
}
