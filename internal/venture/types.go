// Package venture implements the Venture Watcher (spec §4.9):
// cron-driven, idempotent dispatch of venture schedule entries with
// dual-layer duplicate suppression (an in-memory recent-dispatch map, and
// a ledger-index lookback) ahead of a correctness-layer claim through the
// Control API.
package venture

import "time"

// ScheduleEntry is one cron-scheduled dispatch rule on a venture.
type ScheduleEntry struct {
	EntryID    string
	TemplateID string
	Cron       string
	Enabled    bool
}

// Venture is an active venture carrying zero or more schedule entries.
type Venture struct {
	VentureID string
	Entries   []ScheduleEntry
}

// graceWindow bounds how far in the past a missed tick may still be
// considered due; older ticks are treated as not-due rather than dispatched
// late.
const graceWindow = 24 * time.Hour

// evictionWindow is how long a recent-dispatch record is kept before the
// in-memory map forgets it, matching the grace window it guards against
// re-dispatch across.
const evictionWindow = 24 * time.Hour
