/*
Package schedule computes the time windows during which a resource may be
booked.

PURPOSE:
  Merges recurring availability rules with date-specific exceptions into a
  lazy, ordered sequence of disjoint windows. The reservation scheduler
  asks this engine "when is resource R bookable between A and B, and with
  what capacity?" and gets back intervals it can check requests against.

KEY CONCEPTS:
  - ScheduleRule: recurring weekly availability (e.g. Mon-Fri 09:00-17:00,
    capacity 1). Immutable once created; superseded by a replacement rule,
    never edited, so historical reservations stay explainable.
  - ScheduleException: a blackout or capacity override for one concrete
    date/time range. Exceptions always beat rules: a blackout removes
    time, a capacity exception can add time where no rule exists.
  - Window: one disjoint availability interval with its capacity.

PRECEDENCE:
  For any instant, capacity is decided as:
    1. any blackout exception covering it  -> 0 (unavailable)
    2. else any capacity exception         -> max exception capacity
    3. else any rule                       -> max rule capacity
    4. else                                -> 0

SEE ALSO:
  - engine.go: the merge algorithm and lazy iterator
*/
package schedule

import (
	"context"
	"time"

	"github.com/warp/facility-engine/core"
)

// =============================================================================
// SCHEDULE RULE - Recurring weekly availability
// =============================================================================

// MinuteOfDay is a time-of-day expressed as minutes after midnight UTC.
// 0 = 00:00, 1440 = end of day.
type MinuteOfDay int

func (m MinuteOfDay) Duration() time.Duration { return time.Duration(m) * time.Minute }

// ScheduleRule is a recurring availability window for one resource.
// Immutable: replace, never mutate in place.
type ScheduleRule struct {
	ID         string
	ResourceID core.ResourceID

	// Days selects which weekdays the rule applies to.
	Days []time.Weekday

	// StartMinute/EndMinute bound the daily window; EndMinute may be 1440.
	StartMinute MinuteOfDay
	EndMinute   MinuteOfDay

	// Capacity is the number of concurrent reservations allowed, >= 1.
	Capacity int

	// EffectiveFrom/EffectiveTo bound the dates the rule applies to.
	// Zero EffectiveTo means open-ended.
	EffectiveFrom time.Time
	EffectiveTo   time.Time

	CreatedAt time.Time
}

// appliesOn reports whether the rule is active on the given calendar day.
func (r ScheduleRule) appliesOn(day time.Time) bool {
	if day.Before(startOfDay(r.EffectiveFrom)) {
		return false
	}
	if !r.EffectiveTo.IsZero() && day.After(startOfDay(r.EffectiveTo)) {
		return false
	}
	wd := day.Weekday()
	for _, d := range r.Days {
		if d == wd {
			return true
		}
	}
	return false
}

// windowOn returns the concrete interval the rule produces on a day.
func (r ScheduleRule) windowOn(day time.Time) core.Interval {
	return core.Interval{
		Start: day.Add(r.StartMinute.Duration()),
		End:   day.Add(r.EndMinute.Duration()),
	}
}

// =============================================================================
// SCHEDULE EXCEPTION - Blackout or capacity override
// =============================================================================

type ExceptionKind string

const (
	ExceptionBlackout ExceptionKind = "blackout" // removes availability
	ExceptionCapacity ExceptionKind = "capacity" // overrides/adds capacity
)

// ScheduleException overrides rules for one concrete time range.
type ScheduleException struct {
	ID         string
	ResourceID core.ResourceID
	Kind       ExceptionKind
	Window     core.Interval

	// Capacity applies only to ExceptionCapacity.
	Capacity int

	Reason    string
	CreatedAt time.Time
}

// =============================================================================
// RULE STORE
// =============================================================================

// RuleStore provides rule and exception lookup. The engine treats both as
// read-only; creation happens administratively.
type RuleStore interface {
	SaveRule(ctx context.Context, r ScheduleRule) error
	RulesFor(ctx context.Context, resource core.ResourceID) ([]ScheduleRule, error)

	SaveException(ctx context.Context, e ScheduleException) error
	// ExceptionsFor returns exceptions overlapping the given range.
	ExceptionsFor(ctx context.Context, resource core.ResourceID, within core.Interval) ([]ScheduleException, error)
}

func startOfDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
