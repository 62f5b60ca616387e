/*
scheduler.go - Reservation request validation and lifecycle transitions

PURPOSE:
  Implements the reservation scheduler: atomic check-and-commit of new
  reservations, cancellation (with the fee-liability cutoff), check-in,
  completion with actual-usage recording, and missed/no-show marking.

CONCURRENCY:
  Request() runs its availability and capacity checks while holding the
  resource's lock from the LockRegistry, then writes the reservation
  before releasing. Lock acquisition surfaces ErrBusy after a bounded
  wait; the scheduler retries a bounded number of times internally
  before giving up, so transient contention rarely reaches the caller.

OVERRIDE:
  An administrative override (double-booking by staff) bypasses ONLY the
  capacity invariant. Availability windows and booking rules still apply,
  the override is recorded on the reservation, and it is logged. Ordinary
  requests can never bypass capacity.
*/
package booking

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/warp/facility-engine/core"
	"github.com/warp/facility-engine/notify"
	"github.com/warp/facility-engine/schedule"
)

// DefaultLockRetries is how many ErrBusy lock acquisitions Request retries
// internally before surfacing the error.
const DefaultLockRetries = 3

// OrderOpener creates the billable line item owned by a new reservation.
// Implemented by the billing service; nil disables order creation (tests).
type OrderOpener interface {
	OpenDetailForReservation(ctx context.Context, resource *core.Resource, account core.AccountID, reservationID core.ReservationID) (core.OrderDetailID, error)
}

// Scheduler validates and commits reservation requests.
type Scheduler struct {
	Catalog  core.CatalogStore
	Schedule *schedule.Engine
	Store    ReservationStore
	Locks    *core.LockRegistry

	Orders OrderOpener // optional
	Notify notify.Sink // optional
	Logger *zap.Logger // optional

	// Clock is injectable for tests; nil means time.Now.
	Clock func() time.Time

	// LockRetries overrides DefaultLockRetries when > 0.
	LockRetries int
}

func NewScheduler(catalog core.CatalogStore, engine *schedule.Engine, store ReservationStore) *Scheduler {
	return &Scheduler{
		Catalog:  catalog,
		Schedule: engine,
		Store:    store,
		Locks:    core.NewLockRegistry(),
	}
}

func (s *Scheduler) now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

func (s *Scheduler) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}

func (s *Scheduler) sink() notify.Sink {
	if s.Notify != nil {
		return s.Notify
	}
	return notify.NopSink{}
}

// =============================================================================
// REQUEST - Atomic check-and-commit
// =============================================================================

// RequestInput describes a reservation request. Actor is the authenticated
// identity supplied by the caller; authorization happened upstream.
type RequestInput struct {
	ResourceID core.ResourceID
	AccountID  core.AccountID
	Window     core.Interval

	// Override bypasses the capacity invariant. The calling layer must
	// only set it for staff.
	Override bool
	Actor    string
}

// Request validates a reservation request and commits it. On success the
// reservation is Confirmed and linked to a fresh order detail.
func (s *Scheduler) Request(ctx context.Context, in RequestInput) (*Reservation, error) {
	resource, err := s.Catalog.GetResource(ctx, in.ResourceID)
	if err != nil {
		return nil, err
	}
	if !resource.Kind.Schedulable() {
		return nil, &core.RuleViolationError{
			ResourceID: in.ResourceID,
			Rule:       "schedulable",
			Detail:     fmt.Sprintf("resource kind %q does not take reservations", resource.Kind),
		}
	}
	if err := s.validateRules(resource, in.Window); err != nil {
		return nil, err
	}

	retries := s.LockRetries
	if retries <= 0 {
		retries = DefaultLockRetries
	}

	var release func()
	for attempt := 0; ; attempt++ {
		release, err = s.Locks.Acquire(ctx, string(in.ResourceID))
		if err == nil {
			break
		}
		if attempt+1 >= retries || ctx.Err() != nil {
			return nil, err
		}
	}
	defer release()

	return s.commitLocked(ctx, resource, in)
}

// commitLocked performs the availability/capacity checks and the write.
// Caller holds the resource lock.
func (s *Scheduler) commitLocked(ctx context.Context, resource *core.Resource, in RequestInput) (*Reservation, error) {
	windows, err := s.Schedule.Covering(ctx, in.ResourceID, in.Window)
	if err != nil {
		return nil, err
	}
	if ok, _ := schedule.CoversWithCapacity(windows, in.Window, 1); !ok {
		return nil, &core.SlotUnavailableError{ResourceID: in.ResourceID, Requested: in.Window}
	}

	existing, err := s.Store.ActiveOverlapping(ctx, in.ResourceID, in.Window)
	if err != nil {
		return nil, err
	}

	if in.Override {
		s.logger().Warn("capacity override",
			zap.String("resource", string(in.ResourceID)),
			zap.String("account", string(in.AccountID)),
			zap.String("actor", in.Actor),
			zap.String("window", in.Window.String()),
			zap.Int("overlapping", len(existing)))
	} else if err := checkCapacity(windows, existing, in.Window, in.ResourceID); err != nil {
		return nil, err
	}

	if limit := resource.Rules.MaxPerAccount; limit > 0 {
		held, err := s.Store.CountActiveForAccount(ctx, in.ResourceID, in.AccountID)
		if err != nil {
			return nil, err
		}
		if held >= limit {
			return nil, &core.RuleViolationError{
				ResourceID: in.ResourceID,
				Rule:       "account_limit",
				Detail:     fmt.Sprintf("account already holds %d of %d allowed active reservations", held, limit),
			}
		}
	}

	now := s.now()
	r := Reservation{
		ID:         core.ReservationID(core.NewID()),
		ResourceID: in.ResourceID,
		AccountID:  in.AccountID,
		Requested:  in.Window,
		Status:     StatusConfirmed,
		Override:   in.Override,
		OverrideBy: overrideActor(in),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	if s.Orders != nil {
		detailID, err := s.Orders.OpenDetailForReservation(ctx, resource, in.AccountID, r.ID)
		if err != nil {
			return nil, fmt.Errorf("open order detail: %w", err)
		}
		r.OrderDetailID = detailID
	}

	if err := s.Store.SaveReservation(ctx, r); err != nil {
		return nil, err
	}

	s.publish(ctx, notify.ReservationConfirmed, &r)
	return &r, nil
}

func overrideActor(in RequestInput) string {
	if in.Override {
		return in.Actor
	}
	return ""
}

// validateRules enforces the resource-specific booking rules. Capacity is
// not checked here; it needs the lock.
func (s *Scheduler) validateRules(resource *core.Resource, window core.Interval) error {
	if !window.Valid() {
		return &core.InvalidRangeError{Range: window, Reason: "end must be after start"}
	}

	rules := resource.Rules
	granularity := rules.Granularity()
	if window.Start.Sub(window.Start.Truncate(granularity)) != 0 ||
		window.End.Sub(window.End.Truncate(granularity)) != 0 {
		return &core.RuleViolationError{
			ResourceID: resource.ID,
			Rule:       "granularity",
			Detail:     fmt.Sprintf("boundaries must align to %s increments", granularity),
		}
	}

	d := window.Duration()
	if rules.MinDuration > 0 && d < rules.MinDuration {
		return &core.RuleViolationError{
			ResourceID: resource.ID,
			Rule:       "min_duration",
			Detail:     fmt.Sprintf("duration %s below minimum %s", d, rules.MinDuration),
		}
	}
	if rules.MaxDuration > 0 && d > rules.MaxDuration {
		return &core.RuleViolationError{
			ResourceID: resource.ID,
			Rule:       "max_duration",
			Detail:     fmt.Sprintf("duration %s above maximum %s", d, rules.MaxDuration),
		}
	}
	if rules.LeadTime > 0 && window.Start.Before(s.now().Add(rules.LeadTime)) {
		return &core.RuleViolationError{
			ResourceID: resource.ID,
			Rule:       "lead_time",
			Detail:     fmt.Sprintf("reservations require %s advance booking", rules.LeadTime),
		}
	}
	return nil
}

// checkCapacity verifies that adding one reservation over `requested`
// keeps the overlap count within window capacity at every instant.
func checkCapacity(windows []schedule.Window, existing []Reservation, requested core.Interval, resource core.ResourceID) error {
	// Elementary instants: boundaries of the request, the windows, and
	// every overlapping reservation, clipped to the request.
	boundarySet := map[time.Time]struct{}{requested.Start: {}}
	for _, w := range windows {
		for _, t := range []time.Time{w.Interval.Start, w.Interval.End} {
			if requested.ContainsTime(t) {
				boundarySet[t] = struct{}{}
			}
		}
	}
	for _, r := range existing {
		for _, t := range []time.Time{r.Requested.Start, r.Requested.End} {
			if requested.ContainsTime(t) {
				boundarySet[t] = struct{}{}
			}
		}
	}
	instants := make([]time.Time, 0, len(boundarySet))
	for t := range boundarySet {
		instants = append(instants, t)
	}
	sort.Slice(instants, func(i, j int) bool { return instants[i].Before(instants[j]) })

	for _, t := range instants {
		capacity := 0
		for _, w := range windows {
			if w.Interval.ContainsTime(t) && w.Capacity > capacity {
				capacity = w.Capacity
			}
		}
		count := 1 // the new reservation
		var blocking *Reservation
		for i := range existing {
			if existing[i].Requested.ContainsTime(t) {
				count++
				blocking = &existing[i]
			}
		}
		if count > capacity {
			conflicting := requested
			if blocking != nil {
				conflicting = blocking.Requested
			}
			return &core.ConflictError{
				ResourceID:  resource,
				Requested:   requested,
				Conflicting: conflicting,
				Capacity:    capacity,
			}
		}
	}
	return nil
}

// =============================================================================
// TRANSITIONS
// =============================================================================

// Cancel transitions a reservation to Cancelled. Inside the cancellation
// cutoff the transition still succeeds but the reservation is fee-liable;
// the billing layer prices the fee.
func (s *Scheduler) Cancel(ctx context.Context, id core.ReservationID, actor string) (*Reservation, error) {
	r, err := s.Store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canTransition(r.Status, StatusCancelled) {
		return nil, &core.TransitionError{Entity: "reservation", From: string(r.Status), To: string(StatusCancelled)}
	}

	resource, err := s.Catalog.GetResource(ctx, r.ResourceID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if cutoff := resource.Rules.CancelCutoff; cutoff > 0 && now.After(r.Requested.Start.Add(-cutoff)) {
		r.FeeLiable = true
	}
	r.Status = StatusCancelled
	r.CancelledBy = actor
	r.UpdatedAt = now

	if err := s.Store.SaveReservation(ctx, *r); err != nil {
		return nil, err
	}
	s.publish(ctx, notify.ReservationCancelled, r)
	return r, nil
}

// CheckIn transitions Confirmed -> InProgress.
func (s *Scheduler) CheckIn(ctx context.Context, id core.ReservationID) (*Reservation, error) {
	r, err := s.Store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canTransition(r.Status, StatusInProgress) {
		return nil, &core.TransitionError{Entity: "reservation", From: string(r.Status), To: string(StatusInProgress)}
	}
	r.Status = StatusInProgress
	r.UpdatedAt = s.now()
	if err := s.Store.SaveReservation(ctx, *r); err != nil {
		return nil, err
	}
	return r, nil
}

// Complete transitions InProgress -> Completed and records the actual
// usage window, which may differ from the requested one. The actual
// window drives usage-based pricing.
func (s *Scheduler) Complete(ctx context.Context, id core.ReservationID, actual core.Interval) (*Reservation, error) {
	if !actual.Valid() {
		return nil, &core.InvalidRangeError{Range: actual, Reason: "actual usage end must be after start"}
	}
	r, err := s.Store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canTransition(r.Status, StatusCompleted) {
		return nil, &core.TransitionError{Entity: "reservation", From: string(r.Status), To: string(StatusCompleted)}
	}
	r.Status = StatusCompleted
	r.Actual = &actual
	r.UpdatedAt = s.now()
	if err := s.Store.SaveReservation(ctx, *r); err != nil {
		return nil, err
	}
	return r, nil
}

// MarkMissed transitions Confirmed -> Missed once the check-in grace
// deadline has passed. Whether a no-show bills is a policy concern.
func (s *Scheduler) MarkMissed(ctx context.Context, id core.ReservationID) (*Reservation, error) {
	r, err := s.Store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canTransition(r.Status, StatusMissed) {
		return nil, &core.TransitionError{Entity: "reservation", From: string(r.Status), To: string(StatusMissed)}
	}

	resource, err := s.Catalog.GetResource(ctx, r.ResourceID)
	if err != nil {
		return nil, err
	}
	deadline := r.Requested.Start.Add(resource.Rules.MissedGrace)
	if now := s.now(); now.Before(deadline) {
		return nil, &core.RuleViolationError{
			ResourceID: r.ResourceID,
			Rule:       "missed_grace",
			Detail:     fmt.Sprintf("grace deadline %s not reached", deadline.Format(time.RFC3339)),
		}
	}

	r.Status = StatusMissed
	r.UpdatedAt = s.now()
	if err := s.Store.SaveReservation(ctx, *r); err != nil {
		return nil, err
	}
	s.publish(ctx, notify.ReservationMissed, r)
	return r, nil
}

// publish sends a lifecycle event; failures are logged, never surfaced.
func (s *Scheduler) publish(ctx context.Context, t notify.EventType, r *Reservation) {
	e := notify.NewEvent(t, map[string]string{
		"reservation_id": string(r.ID),
		"resource_id":    string(r.ResourceID),
		"account_id":     string(r.AccountID),
		"window":         r.Requested.String(),
	})
	if err := s.sink().Publish(ctx, e); err != nil {
		s.logger().Warn("notify publish failed", zap.String("event", string(t)), zap.Error(err))
	}
}
