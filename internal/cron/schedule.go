// Package cron triggers recurring background jobs from stored schedules.
package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// parser accepts the standard 5-field crontab syntax (minute, hour,
// day-of-month, month, day-of-week). Dom and dow are OR-combined when both
// are restricted, matching crontab behavior.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateSchedule checks that expr is a parseable 5-field cron expression.
func ValidateSchedule(expr string) error {
	if _, err := parser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	return nil
}

// NextRun returns the first execution time of expr strictly after the given
// instant.
func NextRun(expr string, after time.Time) (time.Time, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron schedule %q: %w", expr, err)
	}
	return sched.Next(after), nil
}
