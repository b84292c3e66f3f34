package aggregation

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Execer runs a statement. *database.DB satisfies it.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// ParseTimeOfDay parses "HH:MM" into hour and minute
func ParseTimeOfDay(timeOfDay string) (int, int, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(timeOfDay, "%d:%d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid time format: %s (expected HH:MM)", timeOfDay)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid time of day: %s", timeOfDay)
	}
	return hour, minute, nil
}

// HourWindow returns the hour containing t as [start, end)
func HourWindow(t time.Time) (time.Time, time.Time) {
	start := t.Truncate(time.Hour)
	return start, start.Add(time.Hour)
}

// DayWindow returns the local calendar day containing t as [start, end).
// DST days are 23 or 25 hours long.
func DayWindow(t time.Time, loc *time.Location) (time.Time, time.Time) {
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// NextHourlyRun returns the next time delay past an hour boundary after now
func NextHourlyRun(now time.Time, delay time.Duration) time.Time {
	next := now.Truncate(time.Hour).Add(delay)
	for !next.After(now) {
		next = next.Add(time.Hour)
	}
	return next
}

// NextDailyRun returns the next local occurrence of hour:minute after now
func NextDailyRun(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	run := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !run.After(now) {
		run = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return run
}
