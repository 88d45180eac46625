package venture

import (
	"time"

	"github.com/robfig/cron/v3"
)

// lastOccurrence returns the most recent scheduled tick of schedule at or
// before now, bounded by graceWindow. The second return is false when no
// tick fell inside the grace window (treated as not-due).
//
// robfig/cron's Schedule only exposes Next (the next tick strictly after a
// given time), so the most recent past tick is found by walking forward
// from the start of the grace window until Next would overshoot now.
func lastOccurrence(schedule cron.Schedule, now time.Time) (time.Time, bool) {
	cursor := now.Add(-graceWindow - time.Minute)
	var last time.Time
	found := false

	for {
		next := schedule.Next(cursor)
		if next.After(now) {
			break
		}
		last = next
		found = true
		cursor = next
	}

	return last, found
}

// parseCron parses a standard 5-field cron expression.
func parseCron(expr string) (cron.Schedule, error) {
	return cron.ParseStandard(expr)
}
