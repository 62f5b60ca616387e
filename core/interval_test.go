package core_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/warp/facility-engine/core"
)

func mar(day, hour, min int) time.Time {
	return time.Date(2026, time.March, day, hour, min, 0, 0, time.UTC)
}

// =============================================================================
// INTERVAL TESTS - Half-open semantics
// =============================================================================

func TestInterval_AdjacentIntervals_DoNotOverlap(t *testing.T) {
	// GIVEN: One interval ending exactly when another starts
	// WHEN: Checking for overlap
	// THEN: They do not overlap (half-open boundaries)

	first := core.NewInterval(mar(10, 9, 0), mar(10, 11, 0))
	second := core.NewInterval(mar(10, 11, 0), mar(10, 13, 0))

	assert.False(t, first.Overlaps(second), "touching boundaries should not overlap")
	assert.False(t, second.Overlaps(first))
}

func TestInterval_PartialOverlap_Detected(t *testing.T) {
	first := core.NewInterval(mar(10, 9, 0), mar(10, 12, 0))
	second := core.NewInterval(mar(10, 11, 0), mar(10, 13, 0))

	assert.True(t, first.Overlaps(second))
	assert.True(t, second.Overlaps(first))

	got, ok := first.Intersect(second)
	assert.True(t, ok)
	assert.Equal(t, mar(10, 11, 0), got.Start)
	assert.Equal(t, mar(10, 12, 0), got.End)
}

func TestInterval_ContainsTime_ExcludesEnd(t *testing.T) {
	iv := core.NewInterval(mar(10, 9, 0), mar(10, 11, 0))

	assert.True(t, iv.ContainsTime(mar(10, 9, 0)), "start is inside")
	assert.True(t, iv.ContainsTime(mar(10, 10, 30)))
	assert.False(t, iv.ContainsTime(mar(10, 11, 0)), "end is outside")
}

func TestInterval_Valid_RejectsEmptyAndInverted(t *testing.T) {
	assert.False(t, core.Interval{Start: mar(10, 9, 0), End: mar(10, 9, 0)}.Valid())
	assert.False(t, core.Interval{Start: mar(10, 11, 0), End: mar(10, 9, 0)}.Valid())
	assert.True(t, core.Interval{Start: mar(10, 9, 0), End: mar(10, 9, 1)}.Valid())
}

func TestInterval_Contains_Subinterval(t *testing.T) {
	outer := core.NewInterval(mar(10, 8, 0), mar(10, 20, 0))
	inner := core.NewInterval(mar(10, 9, 0), mar(10, 11, 0))

	assert.True(t, outer.Contains(inner))
	assert.True(t, outer.Contains(outer), "interval contains itself")
	assert.False(t, inner.Contains(outer))
}

// =============================================================================
// PERIOD TESTS - Calendar-month billing periods
// =============================================================================

func TestPeriod_ContainsOnlyItsMonth(t *testing.T) {
	p := core.PeriodOf(mar(15, 12, 0))

	assert.Equal(t, 2026, p.Year)
	assert.Equal(t, time.March, p.Month)
	assert.True(t, p.Contains(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, p.Contains(time.Date(2026, time.March, 31, 23, 59, 59, 0, time.UTC)))
	assert.False(t, p.Contains(time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, p.Contains(time.Date(2026, time.February, 28, 23, 59, 59, 0, time.UTC)))
}

func TestPeriod_NextAndPrev_CrossYearBoundary(t *testing.T) {
	dec := core.Period{Year: 2025, Month: time.December}
	jan := core.Period{Year: 2026, Month: time.January}

	assert.Equal(t, jan, dec.Next())
	assert.Equal(t, dec, jan.Prev())
}

func TestPeriod_Prev_HandlesShortMonths(t *testing.T) {
	// GIVEN: March, whose predecessor has fewer days
	// THEN: Prev is February, not a normalized date artifact

	mar := core.Period{Year: 2026, Month: time.March}
	assert.Equal(t, core.Period{Year: 2026, Month: time.February}, mar.Prev())
}

func TestPeriod_String(t *testing.T) {
	p := core.Period{Year: 2026, Month: time.March}
	assert.Equal(t, "2026-03", p.String())
}

// =============================================================================
// MONEY TESTS - Rounding and clamping
// =============================================================================

func TestMoney_RoundCents_HalfUp(t *testing.T) {
	assert.Equal(t, int64(834), core.MustParseMoney("8.335").ToCents())
	assert.Equal(t, int64(833), core.MustParseMoney("8.334").ToCents())
	assert.Equal(t, int64(1000), core.MustParseMoney("10").ToCents())
}

func TestMoney_FloorZero_ClampsNegative(t *testing.T) {
	assert.True(t, core.MustParseMoney("-5.00").FloorZero().IsZero())
	assert.Equal(t, int64(500), core.MustParseMoney("5.00").FloorZero().ToCents())
}

func TestMoney_Arithmetic(t *testing.T) {
	a := core.Cents(1050)
	b := core.Cents(250)

	assert.Equal(t, int64(1300), a.Add(b).ToCents())
	assert.Equal(t, int64(800), a.Sub(b).ToCents())
	assert.Equal(t, int64(-250), b.Neg().ToCents())
	assert.True(t, a.GreaterThan(b))
	assert.Equal(t, a, a.Max(b))
	assert.Equal(t, "$10.50", a.String())
}
