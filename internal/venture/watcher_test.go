package venture

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeIndex struct {
	has   bool
	err   error
	calls int32
}

func (f *fakeIndex) HasJobDefinition(ctx context.Context, jobDefinitionID string) (bool, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return false, f.err
	}
	return f.has, nil
}

type fakeControl struct {
	claimed bool
	err     error
	calls   int32
}

func (f *fakeControl) ClaimVentureDispatch(ctx context.Context, ventureID, templateID, tick string) (bool, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return false, f.err
	}
	return f.claimed, nil
}

type fakeDispatcher struct {
	err   error
	calls int32
}

func (f *fakeDispatcher) DispatchFromTemplate(ctx context.Context, v Venture, entry ScheduleEntry, jobDefinitionID string) error {
	atomic.AddInt32(&f.calls, 1)
	return f.err
}

func entryDueEveryMinute() ScheduleEntry {
	return ScheduleEntry{EntryID: "entry-1", TemplateID: "tmpl-1", Cron: "* * * * *", Enabled: true}
}

func TestTick_DispatchesWhenDueAndClaimed(t *testing.T) {
	idx := &fakeIndex{has: false}
	control := &fakeControl{claimed: true}
	dispatcher := &fakeDispatcher{}
	w := New(idx, control, dispatcher, nil)

	v := Venture{VentureID: "v1", Entries: []ScheduleEntry{entryDueEveryMinute()}}
	w.Tick(context.Background(), time.Now(), []Venture{v})

	require.EqualValues(t, 1, dispatcher.calls)
	require.EqualValues(t, 1, control.calls)
}

func TestTick_SkipsDisabledEntries(t *testing.T) {
	idx := &fakeIndex{}
	control := &fakeControl{claimed: true}
	dispatcher := &fakeDispatcher{}
	w := New(idx, control, dispatcher, nil)

	entry := entryDueEveryMinute()
	entry.Enabled = false
	v := Venture{VentureID: "v1", Entries: []ScheduleEntry{entry}}
	w.Tick(context.Background(), time.Now(), []Venture{v})

	require.EqualValues(t, 0, dispatcher.calls)
}

func TestTick_SkipsInvalidCron(t *testing.T) {
	idx := &fakeIndex{}
	control := &fakeControl{claimed: true}
	dispatcher := &fakeDispatcher{}
	w := New(idx, control, dispatcher, nil)

	entry := entryDueEveryMinute()
	entry.Cron = "not a cron expression"
	v := Venture{VentureID: "v1", Entries: []ScheduleEntry{entry}}
	w.Tick(context.Background(), time.Now(), []Venture{v})

	require.EqualValues(t, 0, dispatcher.calls)
}

func TestTick_SkipsWhenNotYetDue(t *testing.T) {
	idx := &fakeIndex{}
	control := &fakeControl{claimed: true}
	dispatcher := &fakeDispatcher{}
	w := New(idx, control, dispatcher, nil)

	// A once-a-year cron far from now means lastOccurrence falls outside
	// the 24h grace window.
	entry := ScheduleEntry{EntryID: "entry-1", TemplateID: "tmpl-1", Cron: "0 0 1 1 *", Enabled: true}
	v := Venture{VentureID: "v1", Entries: []ScheduleEntry{entry}}
	w.Tick(context.Background(), time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC), []Venture{v})

	require.EqualValues(t, 0, dispatcher.calls)
}

func TestTick_SkipsWhenAlreadyRecordedThisTick(t *testing.T) {
	idx := &fakeIndex{has: false}
	control := &fakeControl{claimed: true}
	dispatcher := &fakeDispatcher{}
	w := New(idx, control, dispatcher, nil)

	v := Venture{VentureID: "v1", Entries: []ScheduleEntry{entryDueEveryMinute()}}
	now := time.Now()
	w.Tick(context.Background(), now, []Venture{v})
	w.Tick(context.Background(), now, []Venture{v})

	require.EqualValues(t, 1, dispatcher.calls)
}

func TestTick_SkipsWhenLedgerAlreadyHasJobDefinition(t *testing.T) {
	idx := &fakeIndex{has: true}
	control := &fakeControl{claimed: true}
	dispatcher := &fakeDispatcher{}
	w := New(idx, control, dispatcher, nil)

	v := Venture{VentureID: "v1", Entries: []ScheduleEntry{entryDueEveryMinute()}}
	w.Tick(context.Background(), time.Now(), []Venture{v})

	require.EqualValues(t, 0, control.calls)
	require.EqualValues(t, 0, dispatcher.calls)
}

func TestTick_AssumesDispatchedOnLedgerQueryFailure(t *testing.T) {
	idx := &fakeIndex{err: errors.New("index unavailable")}
	control := &fakeControl{claimed: true}
	dispatcher := &fakeDispatcher{}
	w := New(idx, control, dispatcher, nil)

	v := Venture{VentureID: "v1", Entries: []ScheduleEntry{entryDueEveryMinute()}}
	w.Tick(context.Background(), time.Now(), []Venture{v})

	require.EqualValues(t, 0, control.calls)
	require.EqualValues(t, 0, dispatcher.calls)
}

func TestTick_SkipsWhenClaimDenied(t *testing.T) {
	idx := &fakeIndex{has: false}
	control := &fakeControl{claimed: false}
	dispatcher := &fakeDispatcher{}
	w := New(idx, control, dispatcher, nil)

	v := Venture{VentureID: "v1", Entries: []ScheduleEntry{entryDueEveryMinute()}}
	w.Tick(context.Background(), time.Now(), []Venture{v})

	require.EqualValues(t, 0, dispatcher.calls)
}

func TestTick_RecordsBeforeDispatchingSoFailureDoesNotRetryEveryCycle(t *testing.T) {
	idx := &fakeIndex{has: false}
	control := &fakeControl{claimed: true}
	dispatcher := &fakeDispatcher{err: errors.New("agent launch failed")}
	w := New(idx, control, dispatcher, nil)

	v := Venture{VentureID: "v1", Entries: []ScheduleEntry{entryDueEveryMinute()}}
	now := time.Now()
	w.Tick(context.Background(), now, []Venture{v})
	w.Tick(context.Background(), now, []Venture{v})

	require.EqualValues(t, 1, dispatcher.calls)
}

func TestScheduledJobDefinitionID_IsDeterministicAndRFC4122(t *testing.T) {
	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	id1 := scheduledJobDefinitionID("v1", "e1", tick)
	id2 := scheduledJobDefinitionID("v1", "e1", tick)
	require.Equal(t, id1, id2)

	require.Equal(t, byte(0x50), id1[6]&0xf0)
	require.Equal(t, byte(0x80), id1[8]&0xc0)
}

func TestScheduledJobDefinitionID_MatchesSpecVector(t *testing.T) {
	tick := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	id := scheduledJobDefinitionID(
		"11111111-1111-4111-8111-111111111111",
		"22222222-2222-4222-8222-222222222222",
		tick,
	)
	require.Equal(t, "9d15e4a9-bb32-5904-a6c8-996b405c3495", id.String())
}

func TestScheduledJobDefinitionID_DiffersByEntry(t *testing.T) {
	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	id1 := scheduledJobDefinitionID("v1", "e1", tick)
	id2 := scheduledJobDefinitionID("v1", "e2", tick)
	require.NotEqual(t, id1, id2)
}

func TestLastOccurrence_FindsMostRecentPastTick(t *testing.T) {
	schedule, err := parseCron("0 * * * *") // top of every hour
	require.NoError(t, err)

	now := time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)
	last, found := lastOccurrence(schedule, now)
	require.True(t, found)
	require.Equal(t, time.Date(2026, 3, 5, 14, 0, 0, 0, time.UTC), last)
}

func TestLastOccurrence_NotDueOutsideGraceWindow(t *testing.T) {
	schedule, err := parseCron("0 0 1 1 *") // once a year
	require.NoError(t, err)

	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	_, found := lastOccurrence(schedule, now)
	require.False(t, found)
}
