/*
engine.go - Availability window computation

PURPOSE:
  Implements AvailableWindows: the merge of recurring rules and exceptions
  into an ordered sequence of disjoint, capacity-tagged windows.

ALGORITHM:
  Day-by-day sweep. For each calendar day in the queried range:
    1. Collect the concrete intervals produced by applicable rules and the
       exception fragments overlapping the day.
    2. Cut at every boundary instant into elementary segments.
    3. Decide each segment's capacity by precedence (blackout > capacity
       exception > rule).
    4. Drop zero-capacity segments, clip to the queried range, and merge
       adjacent segments of equal capacity.
  Windows never span midnight internally; adjacent equal-capacity windows
  across a midnight boundary merge in the iterator.

LAZINESS:
  WindowIter materializes one day at a time, so querying a year-long range
  costs nothing until the caller actually iterates. Reset() restarts it.

PURITY:
  The engine has no side effects: the same rule/exception state always
  yields the same windows.
*/
package schedule

import (
	"context"
	"sort"
	"time"

	"github.com/warp/facility-engine/core"
)

// DefaultMaxHorizon bounds the queryable range. Infinite or multi-year
// scans are rejected rather than silently truncated.
const DefaultMaxHorizon = 366 * 24 * time.Hour

// Window is one disjoint availability interval with its capacity.
type Window struct {
	Interval core.Interval
	Capacity int
}

// Engine computes availability windows from rule/exception state.
type Engine struct {
	Rules RuleStore

	// MaxHorizon bounds the queryable range; zero means DefaultMaxHorizon.
	MaxHorizon time.Duration
}

func NewEngine(rules RuleStore) *Engine {
	return &Engine{Rules: rules}
}

func (e *Engine) horizon() time.Duration {
	if e.MaxHorizon <= 0 {
		return DefaultMaxHorizon
	}
	return e.MaxHorizon
}

// AvailableWindows returns a lazy iterator over the disjoint availability
// windows of resource within dateRange, ordered by start time.
func (e *Engine) AvailableWindows(ctx context.Context, resource core.ResourceID, dateRange core.Interval) (*WindowIter, error) {
	if !dateRange.Valid() {
		return nil, &core.InvalidRangeError{Range: dateRange, Reason: "end must be after start"}
	}
	if dateRange.Duration() > e.horizon() {
		return nil, &core.InvalidRangeError{Range: dateRange, Reason: "range exceeds maximum horizon"}
	}

	rules, err := e.Rules.RulesFor(ctx, resource)
	if err != nil {
		return nil, err
	}
	exceptions, err := e.Rules.ExceptionsFor(ctx, resource, dateRange)
	if err != nil {
		return nil, err
	}

	return &WindowIter{
		rules:      rules,
		exceptions: exceptions,
		queried:    core.Interval{Start: dateRange.Start.UTC(), End: dateRange.End.UTC()},
	}, nil
}

// Covering returns the windows overlapping the requested interval. It is
// the scheduler's entry point for capacity checks.
func (e *Engine) Covering(ctx context.Context, resource core.ResourceID, requested core.Interval) ([]Window, error) {
	it, err := e.AvailableWindows(ctx, resource, requested)
	if err != nil {
		return nil, err
	}
	return it.Collect(), nil
}

// =============================================================================
// WINDOW ITERATOR - Lazy, restartable
// =============================================================================

// WindowIter walks availability windows in start order. It is not safe for
// concurrent use; create one iterator per caller.
type WindowIter struct {
	rules      []ScheduleRule
	exceptions []ScheduleException
	queried    core.Interval

	day     time.Time // next day to materialize; zero until first Next
	buf     []Window  // windows of the current day not yet emitted
	pending *Window   // window awaiting merge with the next emitted one
	done    bool
}

// Reset restarts the iterator at the beginning of the queried range.
func (it *WindowIter) Reset() {
	it.day = time.Time{}
	it.buf = nil
	it.pending = nil
	it.done = false
}

// Next returns the next window. ok is false when the sequence is exhausted.
func (it *WindowIter) Next() (w Window, ok bool) {
	for {
		if next, found := it.take(); found {
			// Merge contiguous equal-capacity windows (e.g. across midnight).
			if it.pending != nil {
				if it.pending.Capacity == next.Capacity && it.pending.Interval.End.Equal(next.Interval.Start) {
					it.pending.Interval.End = next.Interval.End
					continue
				}
				out := *it.pending
				it.pending = &next
				return out, true
			}
			it.pending = &next
			continue
		}
		if it.pending != nil {
			out := *it.pending
			it.pending = nil
			return out, true
		}
		return Window{}, false
	}
}

// take pulls the next raw (pre-merge) window, materializing days lazily.
func (it *WindowIter) take() (Window, bool) {
	for {
		if len(it.buf) > 0 {
			w := it.buf[0]
			it.buf = it.buf[1:]
			return w, true
		}
		if it.done {
			return Window{}, false
		}
		if it.day.IsZero() {
			it.day = startOfDay(it.queried.Start)
		} else {
			it.day = it.day.AddDate(0, 0, 1)
		}
		if !it.day.Before(it.queried.End) {
			it.done = true
			return Window{}, false
		}
		it.buf = it.materializeDay(it.day)
	}
}

// Collect drains the iterator into a slice.
func (it *WindowIter) Collect() []Window {
	var out []Window
	for {
		w, ok := it.Next()
		if !ok {
			return out
		}
		out = append(out, w)
	}
}

// materializeDay runs the sweep for one calendar day.
func (it *WindowIter) materializeDay(day time.Time) []Window {
	dayRange := core.Interval{Start: day, End: day.AddDate(0, 0, 1)}

	type segment struct {
		iv       core.Interval
		cap      int
		blackout bool
		override bool
	}

	// 1. Candidate fragments from rules and exceptions, clipped to the day.
	var frags []segment
	for _, r := range it.rules {
		if !r.appliesOn(day) {
			continue
		}
		if iv, ok := r.windowOn(day).Intersect(dayRange); ok {
			frags = append(frags, segment{iv: iv, cap: r.Capacity})
		}
	}
	for _, ex := range it.exceptions {
		if iv, ok := ex.Window.Intersect(dayRange); ok {
			frags = append(frags, segment{
				iv:       iv,
				cap:      ex.Capacity,
				blackout: ex.Kind == ExceptionBlackout,
				override: ex.Kind == ExceptionCapacity,
			})
		}
	}
	if len(frags) == 0 {
		return nil
	}

	// 2. Elementary boundaries.
	boundarySet := make(map[time.Time]struct{}, 2*len(frags))
	for _, f := range frags {
		boundarySet[f.iv.Start] = struct{}{}
		boundarySet[f.iv.End] = struct{}{}
	}
	boundaries := make([]time.Time, 0, len(boundarySet))
	for t := range boundarySet {
		boundaries = append(boundaries, t)
	}
	sort.Slice(boundaries, func(i, j int) bool { return boundaries[i].Before(boundaries[j]) })

	// 3. Capacity per elementary segment by precedence.
	var out []Window
	for i := 0; i+1 < len(boundaries); i++ {
		seg := core.Interval{Start: boundaries[i], End: boundaries[i+1]}
		capRule, capOverride := 0, 0
		blackout, hasOverride := false, false
		for _, f := range frags {
			if !f.iv.Overlaps(seg) {
				continue
			}
			switch {
			case f.blackout:
				blackout = true
			case f.override:
				// Overlapping capacity exceptions: the most restrictive
				// one wins.
				if !hasOverride || f.cap < capOverride {
					capOverride = f.cap
				}
				hasOverride = true
			default:
				if f.cap > capRule {
					capRule = f.cap
				}
			}
		}
		capacity := capRule
		if hasOverride {
			capacity = capOverride
		}
		if blackout {
			capacity = 0
		}
		if capacity <= 0 {
			continue
		}

		// 4. Clip to the queried range and merge with the previous segment.
		clipped, ok := seg.Intersect(it.queried)
		if !ok {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Capacity == capacity && out[n-1].Interval.End.Equal(clipped.Start) {
			out[n-1].Interval.End = clipped.End
			continue
		}
		out = append(out, Window{Interval: clipped, Capacity: capacity})
	}
	return out
}

// CoversWithCapacity reports whether the windows fully cover requested with
// at least minCapacity at every instant. Returns the first uncovered or
// under-capacity instant on failure.
func CoversWithCapacity(windows []Window, requested core.Interval, minCapacity int) (bool, time.Time) {
	cursor := requested.Start
	for _, w := range windows {
		if !w.Interval.Overlaps(requested) {
			continue
		}
		if w.Interval.Start.After(cursor) {
			return false, cursor // gap before this window
		}
		if w.Capacity < minCapacity {
			return false, cursor
		}
		if w.Interval.End.After(cursor) {
			cursor = w.Interval.End
		}
		if !cursor.Before(requested.End) {
			return true, time.Time{}
		}
	}
	return false, cursor
}
