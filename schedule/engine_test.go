package schedule_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/facility-engine/core"
	"github.com/warp/facility-engine/schedule"
	"github.com/warp/facility-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const testResource = core.ResourceID("confocal-1")

var weekdays = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

func newTestEngine(t *testing.T) (*schedule.Engine, *memory.Store) {
	store := memory.New()
	return schedule.NewEngine(store), store
}

// day returns midnight UTC of the given March 2026 date.
// March 2 2026 is a Monday.
func day(d int) time.Time {
	return time.Date(2026, time.March, d, 0, 0, 0, 0, time.UTC)
}

func at(d, hour, min int) time.Time {
	return time.Date(2026, time.March, d, hour, min, 0, 0, time.UTC)
}

func weekdayRule(id string, startMin, endMin schedule.MinuteOfDay, capacity int) schedule.ScheduleRule {
	return schedule.ScheduleRule{
		ID:          id,
		ResourceID:  testResource,
		Days:        weekdays,
		StartMinute: startMin,
		EndMinute:   endMin,
		Capacity:    capacity,
	}
}

// =============================================================================
// RULE WINDOW TESTS
// =============================================================================

func TestEngine_WeekdayRule_YieldsOneWindowPerDay(t *testing.T) {
	// GIVEN: A Mon-Fri 09:00-17:00 rule
	// WHEN: Querying Monday through Wednesday
	// THEN: Three daily windows, weekend days absent

	engine, store := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRule(ctx, weekdayRule("weekday", 9*60, 17*60, 1)))

	windows, err := engine.Covering(ctx, testResource, core.NewInterval(day(2), day(5)))
	require.NoError(t, err)

	require.Len(t, windows, 3)
	assert.Equal(t, at(2, 9, 0), windows[0].Interval.Start)
	assert.Equal(t, at(2, 17, 0), windows[0].Interval.End)
	assert.Equal(t, 1, windows[0].Capacity)
	assert.Equal(t, at(3, 9, 0), windows[1].Interval.Start)
	assert.Equal(t, at(4, 9, 0), windows[2].Interval.Start)
}

func TestEngine_WeekendOutsideRuleDays_NoWindows(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRule(ctx, weekdayRule("weekday", 9*60, 17*60, 1)))

	// March 7-8 2026 is a weekend.
	windows, err := engine.Covering(ctx, testResource, core.NewInterval(day(7), day(9)))
	require.NoError(t, err)
	assert.Empty(t, windows)
}

func TestEngine_QueryClipsWindowsToRange(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRule(ctx, weekdayRule("weekday", 9*60, 17*60, 1)))

	windows, err := engine.Covering(ctx, testResource, core.NewInterval(at(2, 10, 0), at(2, 12, 0)))
	require.NoError(t, err)

	require.Len(t, windows, 1)
	assert.Equal(t, at(2, 10, 0), windows[0].Interval.Start)
	assert.Equal(t, at(2, 12, 0), windows[0].Interval.End)
}

func TestEngine_OverlappingRules_HigherCapacityWins(t *testing.T) {
	// GIVEN: A base cap-1 rule and a cap-3 rule over part of the day
	// THEN: The overlap carries the maximum capacity

	engine, store := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRule(ctx, weekdayRule("base", 9*60, 17*60, 1)))
	require.NoError(t, store.SaveRule(ctx, weekdayRule("burst", 12*60, 14*60, 3)))

	windows, err := engine.Covering(ctx, testResource, core.NewInterval(day(2), day(3)))
	require.NoError(t, err)

	require.Len(t, windows, 3)
	assert.Equal(t, 1, windows[0].Capacity)
	assert.Equal(t, at(2, 12, 0), windows[1].Interval.Start)
	assert.Equal(t, at(2, 14, 0), windows[1].Interval.End)
	assert.Equal(t, 3, windows[1].Capacity)
	assert.Equal(t, 1, windows[2].Capacity)
}

func TestEngine_RuleEffectiveWindow_Respected(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()

	r := weekdayRule("short-lived", 9*60, 17*60, 1)
	r.EffectiveFrom = day(3)
	r.EffectiveTo = day(4)
	require.NoError(t, store.SaveRule(ctx, r))

	windows, err := engine.Covering(ctx, testResource, core.NewInterval(day(2), day(6)))
	require.NoError(t, err)

	require.Len(t, windows, 2, "only Tuesday and Wednesday are in effect")
	assert.Equal(t, at(3, 9, 0), windows[0].Interval.Start)
	assert.Equal(t, at(4, 9, 0), windows[1].Interval.Start)
}

// =============================================================================
// EXCEPTION TESTS - Blackouts and capacity overrides
// =============================================================================

func TestEngine_Blackout_SplitsRuleWindow(t *testing.T) {
	// GIVEN: A 09:00-17:00 rule and a 12:00-13:00 blackout
	// THEN: Two windows around the blackout, none inside it

	engine, store := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRule(ctx, weekdayRule("weekday", 9*60, 17*60, 1)))
	require.NoError(t, store.SaveException(ctx, schedule.ScheduleException{
		ID:         "maintenance",
		ResourceID: testResource,
		Kind:       schedule.ExceptionBlackout,
		Window:     core.NewInterval(at(2, 12, 0), at(2, 13, 0)),
		Reason:     "laser alignment",
	}))

	windows, err := engine.Covering(ctx, testResource, core.NewInterval(day(2), day(3)))
	require.NoError(t, err)

	require.Len(t, windows, 2)
	assert.Equal(t, at(2, 9, 0), windows[0].Interval.Start)
	assert.Equal(t, at(2, 12, 0), windows[0].Interval.End)
	assert.Equal(t, at(2, 13, 0), windows[1].Interval.Start)
	assert.Equal(t, at(2, 17, 0), windows[1].Interval.End)
}

func TestEngine_BlackoutBeatsCapacityException(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRule(ctx, weekdayRule("weekday", 9*60, 17*60, 1)))
	require.NoError(t, store.SaveException(ctx, schedule.ScheduleException{
		ID:         "extra",
		ResourceID: testResource,
		Kind:       schedule.ExceptionCapacity,
		Window:     core.NewInterval(at(2, 10, 0), at(2, 12, 0)),
		Capacity:   5,
	}))
	require.NoError(t, store.SaveException(ctx, schedule.ScheduleException{
		ID:         "outage",
		ResourceID: testResource,
		Kind:       schedule.ExceptionBlackout,
		Window:     core.NewInterval(at(2, 10, 0), at(2, 12, 0)),
	}))

	windows, err := engine.Covering(ctx, testResource, core.NewInterval(at(2, 10, 0), at(2, 12, 0)))
	require.NoError(t, err)
	assert.Empty(t, windows, "blackout wins over a capacity override")
}

func TestEngine_CapacityException_OverridesRuleCapacity(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRule(ctx, weekdayRule("weekday", 9*60, 17*60, 2)))
	require.NoError(t, store.SaveException(ctx, schedule.ScheduleException{
		ID:         "reduced",
		ResourceID: testResource,
		Kind:       schedule.ExceptionCapacity,
		Window:     core.NewInterval(at(2, 14, 0), at(2, 16, 0)),
		Capacity:   1,
		Reason:     "one detector down",
	}))

	windows, err := engine.Covering(ctx, testResource, core.NewInterval(day(2), day(3)))
	require.NoError(t, err)

	require.Len(t, windows, 3)
	assert.Equal(t, 2, windows[0].Capacity)
	assert.Equal(t, at(2, 14, 0), windows[1].Interval.Start)
	assert.Equal(t, 1, windows[1].Capacity)
	assert.Equal(t, 2, windows[2].Capacity)
}

func TestEngine_OverlappingCapacityExceptions_MostRestrictiveWins(t *testing.T) {
	// GIVEN: Two capacity exceptions overlap between 14:00 and 16:00
	// THEN: The lower capacity governs the overlap

	engine, store := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRule(ctx, weekdayRule("weekday", 9*60, 17*60, 4)))
	require.NoError(t, store.SaveException(ctx, schedule.ScheduleException{
		ID:         "afternoon-cap",
		ResourceID: testResource,
		Kind:       schedule.ExceptionCapacity,
		Window:     core.NewInterval(at(2, 12, 0), at(2, 16, 0)),
		Capacity:   3,
	}))
	require.NoError(t, store.SaveException(ctx, schedule.ScheduleException{
		ID:         "detector-down",
		ResourceID: testResource,
		Kind:       schedule.ExceptionCapacity,
		Window:     core.NewInterval(at(2, 14, 0), at(2, 17, 0)),
		Capacity:   1,
	}))

	windows, err := engine.Covering(ctx, testResource, core.NewInterval(day(2), day(3)))
	require.NoError(t, err)

	// 14:00-16:00 and 16:00-17:00 both resolve to capacity 1 and merge.
	require.Len(t, windows, 3)
	assert.Equal(t, 4, windows[0].Capacity)
	assert.Equal(t, 3, windows[1].Capacity)
	assert.Equal(t, at(2, 14, 0), windows[2].Interval.Start)
	assert.Equal(t, at(2, 17, 0), windows[2].Interval.End)
	assert.Equal(t, 1, windows[2].Capacity)
}

func TestEngine_CapacityException_AddsTimeOutsideRules(t *testing.T) {
	// GIVEN: No rule covers the evening
	// WHEN: A capacity exception opens 18:00-20:00
	// THEN: The exception window is bookable

	engine, store := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRule(ctx, weekdayRule("weekday", 9*60, 17*60, 1)))
	require.NoError(t, store.SaveException(ctx, schedule.ScheduleException{
		ID:         "evening-run",
		ResourceID: testResource,
		Kind:       schedule.ExceptionCapacity,
		Window:     core.NewInterval(at(2, 18, 0), at(2, 20, 0)),
		Capacity:   1,
	}))

	windows, err := engine.Covering(ctx, testResource, core.NewInterval(at(2, 17, 0), at(2, 21, 0)))
	require.NoError(t, err)

	require.Len(t, windows, 1)
	assert.Equal(t, at(2, 18, 0), windows[0].Interval.Start)
	assert.Equal(t, at(2, 20, 0), windows[0].Interval.End)
}

// =============================================================================
// RANGE VALIDATION
// =============================================================================

func TestEngine_InvalidRange_Rejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	ctx := context.Background()

	_, err := engine.AvailableWindows(ctx, testResource, core.Interval{Start: day(5), End: day(2)})
	assert.ErrorIs(t, err, core.ErrInvalidRange)

	var ire *core.InvalidRangeError
	assert.ErrorAs(t, err, &ire)
}

func TestEngine_RangeBeyondHorizon_Rejected(t *testing.T) {
	engine, _ := newTestEngine(t)
	engine.MaxHorizon = 7 * 24 * time.Hour
	ctx := context.Background()

	_, err := engine.AvailableWindows(ctx, testResource, core.NewInterval(day(2), day(20)))
	assert.ErrorIs(t, err, core.ErrInvalidRange)
}

// =============================================================================
// ITERATOR BEHAVIOR
// =============================================================================

func TestEngine_Iterator_MergesAcrossMidnight(t *testing.T) {
	// GIVEN: A 24h every-day rule
	// WHEN: Querying two full days
	// THEN: A single merged 48h window, not two per-day ones

	engine, store := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRule(ctx, schedule.ScheduleRule{
		ID:         "always",
		ResourceID: testResource,
		Days: []time.Weekday{
			time.Sunday, time.Monday, time.Tuesday, time.Wednesday,
			time.Thursday, time.Friday, time.Saturday,
		},
		StartMinute: 0,
		EndMinute:   24 * 60,
		Capacity:    2,
	}))

	windows, err := engine.Covering(ctx, testResource, core.NewInterval(day(2), day(4)))
	require.NoError(t, err)

	require.Len(t, windows, 1)
	assert.Equal(t, day(2), windows[0].Interval.Start)
	assert.Equal(t, day(4), windows[0].Interval.End)
	assert.Equal(t, 2, windows[0].Capacity)
}

func TestEngine_Iterator_ResetReplaysSequence(t *testing.T) {
	engine, store := newTestEngine(t)
	ctx := context.Background()
	require.NoError(t, store.SaveRule(ctx, weekdayRule("weekday", 9*60, 17*60, 1)))

	it, err := engine.AvailableWindows(ctx, testResource, core.NewInterval(day(2), day(5)))
	require.NoError(t, err)

	first := it.Collect()
	it.Reset()
	second := it.Collect()

	assert.Equal(t, first, second)
}

// =============================================================================
// COVERAGE CHECK
// =============================================================================

func TestCoversWithCapacity_FullCoverage(t *testing.T) {
	windows := []schedule.Window{
		{Interval: core.NewInterval(at(2, 9, 0), at(2, 12, 0)), Capacity: 1},
		{Interval: core.NewInterval(at(2, 12, 0), at(2, 17, 0)), Capacity: 2},
	}

	ok, _ := schedule.CoversWithCapacity(windows, core.NewInterval(at(2, 10, 0), at(2, 14, 0)), 1)
	assert.True(t, ok)
}

func TestCoversWithCapacity_GapReportsFirstUncoveredInstant(t *testing.T) {
	windows := []schedule.Window{
		{Interval: core.NewInterval(at(2, 9, 0), at(2, 12, 0)), Capacity: 1},
		{Interval: core.NewInterval(at(2, 13, 0), at(2, 17, 0)), Capacity: 1},
	}

	ok, failingAt := schedule.CoversWithCapacity(windows, core.NewInterval(at(2, 11, 0), at(2, 14, 0)), 1)
	assert.False(t, ok)
	assert.Equal(t, at(2, 12, 0), failingAt)
}

func TestCoversWithCapacity_UnderCapacitySegmentFails(t *testing.T) {
	windows := []schedule.Window{
		{Interval: core.NewInterval(at(2, 9, 0), at(2, 17, 0)), Capacity: 1},
	}

	ok, _ := schedule.CoversWithCapacity(windows, core.NewInterval(at(2, 10, 0), at(2, 12, 0)), 2)
	assert.False(t, ok)
}
