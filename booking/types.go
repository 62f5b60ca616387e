/*
Package booking owns the reservation scheduler: validation and atomic
commit of reservation requests against schedule rules and existing
bookings.

PURPOSE:
  This is where the capacity invariant lives. For a resource of capacity
  N, at every instant the count of overlapping Confirmed/InProgress
  reservations never exceeds N. The check of availability and the write
  of a new reservation execute under a per-resource lock, so concurrent
  requests for the same resource serialize while requests for disjoint
  resources proceed in parallel.

STATE MACHINE:
  Requested -> Confirmed -> { InProgress -> Completed } | Cancelled | Missed

  - Confirmed: request validated and committed
  - Cancelled: allowed until terminal; inside the cancellation cutoff the
    transition still succeeds but the reservation becomes fee-liable
  - InProgress/Completed: check-in and actual usage recording
  - Missed: no check-in by the grace deadline (billable no-show per policy)

SEE ALSO:
  - scheduler.go: request validation and transitions
  - locks.go: per-resource lock registry with bounded wait
*/
package booking

import (
	"context"
	"time"

	"github.com/warp/facility-engine/core"
)

// =============================================================================
// RESERVATION
// =============================================================================

type ReservationStatus string

const (
	StatusRequested  ReservationStatus = "requested"
	StatusConfirmed  ReservationStatus = "confirmed"
	StatusInProgress ReservationStatus = "in_progress"
	StatusCompleted  ReservationStatus = "completed"
	StatusCancelled  ReservationStatus = "cancelled"
	StatusMissed     ReservationStatus = "missed"
)

// Active reports whether the status counts against resource capacity.
func (s ReservationStatus) Active() bool {
	return s == StatusConfirmed || s == StatusInProgress
}

// Terminal reports whether no further transition is possible.
func (s ReservationStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusMissed
}

// Reservation is a concrete booked interval on a resource, linked 1:1 to
// its order detail. Retained indefinitely for audit; never deleted.
type Reservation struct {
	ID         core.ReservationID
	ResourceID core.ResourceID
	AccountID  core.AccountID

	// Requested is the booked window; Actual is the usage window recorded
	// at completion and may be later, shorter, or longer.
	Requested core.Interval
	Actual    *core.Interval

	Status ReservationStatus

	// OrderDetailID links to the billable line item (set when the
	// scheduler opens the order detail).
	OrderDetailID core.OrderDetailID

	// Override marks an administrative double-booking that bypassed the
	// capacity invariant. Who did it is part of the audit record.
	Override   bool
	OverrideBy string

	// FeeLiable is set when cancellation happened inside the cutoff.
	FeeLiable   bool
	CancelledBy string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// transitions is the legal edge set of the reservation state machine.
var transitions = map[ReservationStatus][]ReservationStatus{
	StatusRequested:  {StatusConfirmed, StatusCancelled},
	StatusConfirmed:  {StatusInProgress, StatusCancelled, StatusMissed},
	StatusInProgress: {StatusCompleted},
}

func canTransition(from, to ReservationStatus) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// =============================================================================
// RESERVATION STORE
// =============================================================================

type ReservationStore interface {
	SaveReservation(ctx context.Context, r Reservation) error
	GetReservation(ctx context.Context, id core.ReservationID) (*Reservation, error)

	// ActiveOverlapping returns Confirmed/InProgress reservations on the
	// resource whose requested window overlaps iv.
	ActiveOverlapping(ctx context.Context, resource core.ResourceID, iv core.Interval) ([]Reservation, error)

	// CountActiveForAccount counts Confirmed/InProgress reservations the
	// account holds on the resource.
	CountActiveForAccount(ctx context.Context, resource core.ResourceID, account core.AccountID) (int, error)

	ListReservations(ctx context.Context, resource core.ResourceID) ([]Reservation, error)
}
