package venture

import (
	"context"
	"sync"
	"time"

	"github.com/jinn-network/jinn-worker/internal/logging"
	"github.com/jinn-network/jinn-worker/internal/metrics"
)

// Index is the ledger-index query surface this watcher needs: whether a
// request already exists for a given job-definition ID.
type Index interface {
	HasJobDefinition(ctx context.Context, jobDefinitionID string) (bool, error)
}

// ControlAPI is the correctness-layer claim surface. ClaimVentureDispatch
// returns false when another worker (or a prior cycle) already claimed
// this exact scheduleTick.
type ControlAPI interface {
	ClaimVentureDispatch(ctx context.Context, ventureID, templateID, scheduleTick string) (bool, error)
}

// Dispatcher starts a job from a venture's template.
type Dispatcher interface {
	DispatchFromTemplate(ctx context.Context, v Venture, entry ScheduleEntry, jobDefinitionID string) error
}

type dispatchRecord struct {
	tick       string
	recordedAt time.Time
}

// Watcher runs one worker-loop cycle of venture dispatch: cron evaluation,
// dual-layer duplicate suppression, and a Control API claim ahead of
// dispatch.
type Watcher struct {
	index      Index
	control    ControlAPI
	dispatcher Dispatcher
	log        *logging.Logger

	mu     sync.Mutex
	recent map[string]dispatchRecord // key: "<ventureId>:<templateId>"
}

// New constructs a Watcher.
func New(index Index, control ControlAPI, dispatcher Dispatcher, log *logging.Logger) *Watcher {
	return &Watcher{
		index:      index,
		control:    control,
		dispatcher: dispatcher,
		log:        log,
		recent:     make(map[string]dispatchRecord),
	}
}

// Tick evaluates every enabled schedule entry of every venture against now,
// dispatching any that are due and not already recorded.
func (w *Watcher) Tick(ctx context.Context, now time.Time, ventures []Venture) {
	w.evict(now)

	for _, v := range ventures {
		for _, entry := range v.Entries {
			if !entry.Enabled {
				continue
			}
			w.evaluateEntry(ctx, now, v, entry)
		}
	}
}

func (w *Watcher) evaluateEntry(ctx context.Context, now time.Time, v Venture, entry ScheduleEntry) {
	schedule, err := parseCron(entry.Cron)
	if err != nil {
		w.warn(err, "invalid venture schedule cron expression", entry.EntryID)
		return
	}

	tick, due := lastOccurrence(schedule, now)
	if !due {
		return
	}

	tickKey := scheduleTick(tick, entry.EntryID)
	jobDefinitionID := scheduledJobDefinitionID(v.VentureID, entry.EntryID, tick).String()
	dedupeKey := v.VentureID + ":" + entry.TemplateID

	if w.alreadyRecorded(dedupeKey, tickKey) {
		metrics.VentureTicks.WithLabelValues(v.VentureID, "already_recorded").Inc()
		return
	}

	if w.alreadyOnLedger(ctx, jobDefinitionID) {
		w.record(dedupeKey, tickKey, now)
		metrics.VentureTicks.WithLabelValues(v.VentureID, "already_on_ledger").Inc()
		return
	}

	claimed, err := w.control.ClaimVentureDispatch(ctx, v.VentureID, entry.TemplateID, tickKey)
	if err != nil || !claimed {
		if err != nil {
			w.warn(err, "claimVentureDispatch failed", entry.EntryID)
			metrics.VentureTicks.WithLabelValues(v.VentureID, "claim_error").Inc()
		} else {
			metrics.VentureTicks.WithLabelValues(v.VentureID, "already_claimed").Inc()
		}
		return
	}

	// Record before dispatching: a failed dispatch must not retry every cycle.
	w.record(dedupeKey, tickKey, now)

	if err := w.dispatcher.DispatchFromTemplate(ctx, v, entry, jobDefinitionID); err != nil {
		w.warn(err, "dispatchFromTemplate failed", entry.EntryID)
		metrics.VentureTicks.WithLabelValues(v.VentureID, "dispatch_error").Inc()
		return
	}
	metrics.VentureTicks.WithLabelValues(v.VentureID, "dispatched").Inc()
}

// alreadyOnLedger asks the ledger index whether this job definition was
// already dispatched. A failing query conservatively reports true, since a
// duplicate on-chain request is worse than a missed one.
func (w *Watcher) alreadyOnLedger(ctx context.Context, jobDefinitionID string) bool {
	exists, err := w.index.HasJobDefinition(ctx, jobDefinitionID)
	if err != nil {
		w.warn(err, "ledger index query failed, assuming already dispatched", jobDefinitionID)
		return true
	}
	return exists
}

func (w *Watcher) alreadyRecorded(dedupeKey, tickKey string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec, ok := w.recent[dedupeKey]
	return ok && rec.tick == tickKey
}

func (w *Watcher) record(dedupeKey, tickKey string, now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.recent[dedupeKey] = dispatchRecord{tick: tickKey, recordedAt: now}
}

func (w *Watcher) evict(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for key, rec := range w.recent {
		if now.Sub(rec.recordedAt) > evictionWindow {
			delete(w.recent, key)
		}
	}
}

func (w *Watcher) warn(err error, msg, field string) {
	if w.log == nil {
		return
	}
	w.log.WithError(err).WithField("entry", field).Warn(msg)
}
