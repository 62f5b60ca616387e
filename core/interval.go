package core

import (
	"fmt"
	"time"
)

// =============================================================================
// INTERVAL - Half-open time range [Start, End)
// =============================================================================

// Interval is a half-open time range. Two reservations touching at a
// boundary (one ends exactly when the other starts) do NOT overlap.
type Interval struct {
	Start time.Time
	End   time.Time
}

func NewInterval(start, end time.Time) Interval {
	return Interval{Start: start.UTC(), End: end.UTC()}
}

// Valid reports whether the interval is well-formed and non-empty.
func (iv Interval) Valid() bool { return iv.End.After(iv.Start) }

// Duration returns End - Start.
func (iv Interval) Duration() time.Duration { return iv.End.Sub(iv.Start) }

// Overlaps reports whether two half-open intervals share any instant.
func (iv Interval) Overlaps(o Interval) bool {
	return iv.Start.Before(o.End) && o.Start.Before(iv.End)
}

// Contains reports whether o lies entirely within iv.
func (iv Interval) Contains(o Interval) bool {
	return !o.Start.Before(iv.Start) && !o.End.After(iv.End)
}

// ContainsTime reports whether t falls inside [Start, End).
func (iv Interval) ContainsTime(t time.Time) bool {
	return !t.Before(iv.Start) && t.Before(iv.End)
}

// Intersect returns the overlapping part of two intervals. The second
// return value is false when they do not overlap.
func (iv Interval) Intersect(o Interval) (Interval, bool) {
	start := iv.Start
	if o.Start.After(start) {
		start = o.Start
	}
	end := iv.End
	if o.End.Before(end) {
		end = o.End
	}
	if !end.After(start) {
		return Interval{}, false
	}
	return Interval{Start: start, End: end}, true
}

func (iv Interval) String() string {
	return fmt.Sprintf("[%s, %s)", iv.Start.Format(time.RFC3339), iv.End.Format(time.RFC3339))
}

// =============================================================================
// PERIOD - Billing period (calendar month)
// =============================================================================

// Period identifies one billing period for an account. Usage caps and
// statements are evaluated per calendar month.
type Period struct {
	Year  int
	Month time.Month
}

// PeriodOf returns the billing period containing t.
func PeriodOf(t time.Time) Period {
	u := t.UTC()
	return Period{Year: u.Year(), Month: u.Month()}
}

// Interval returns the period as a half-open interval.
func (p Period) Interval() Interval {
	start := time.Date(p.Year, p.Month, 1, 0, 0, 0, 0, time.UTC)
	return Interval{Start: start, End: start.AddDate(0, 1, 0)}
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool { return p.Interval().ContainsTime(t) }

// Next returns the following billing period.
func (p Period) Next() Period {
	return PeriodOf(p.Interval().End)
}

func (p Period) Prev() Period {
	return PeriodOf(p.Interval().Start.Add(-time.Hour))
}

func (p Period) String() string {
	return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month))
}
