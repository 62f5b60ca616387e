/*
Package core provides the shared kernel of the facility engine.

PURPOSE:
  This package contains the types every subsystem agrees on: identifiers,
  monetary amounts, time intervals, billing periods, the error taxonomy,
  and the persistence interfaces. Scheduling (booking), pricing, and
  billing all build on these primitives.

KEY CONCEPTS IN THIS FILE (types.go):
  - Resource: A bookable or orderable facility offering (instrument, item, service)
  - ResourceKind: Sealed set of resource variants with capability methods
  - Account: The financial entity billed for usage
  - PriceGroup: A user/account category determining applicable rates

DESIGN PRINCIPLES:
  1. Immutability: ledger-style records (journal rows) are never modified, only voided
  2. Precision: Money uses decimal.Decimal, never floating point
  3. Type Safety: Strong typing for IDs prevents mixing resource/account IDs
  4. Capability dispatch: Resource variants are a sealed kind enum queried via
     Schedulable()/RatingStrategy(), not an inheritance hierarchy

SEE ALSO:
  - money.go: Monetary amounts and rounding rules
  - interval.go: Half-open time intervals and billing periods
  - errors.go: Error taxonomy shared by all subsystems
  - store.go: Persistence interfaces
*/
package core

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	FacilityID    string
	ResourceID    string
	AccountID     string
	PriceGroupID  string
	PolicyID      string
	ReservationID string
	OrderID       string
	OrderDetailID string
	JournalRowID  string
	StatementID   string
)

// NewID returns a fresh random identifier. All entity IDs in the engine
// are UUIDs so they can be generated by any node without coordination.
func NewID() string {
	return uuid.NewString()
}

// =============================================================================
// RESOURCE - Bookable or orderable facility offering
// =============================================================================

// ResourceKind is the sealed set of resource variants. Each kind carries
// different scheduling and rating behavior, dispatched through capability
// methods rather than subtype inheritance.
type ResourceKind string

const (
	KindInstrument ResourceKind = "instrument" // scheduled, duration-rated
	KindItem       ResourceKind = "item"       // unscheduled, quantity-rated
	KindService    ResourceKind = "service"    // unscheduled, quantity-rated
)

// RatingStrategy determines which axis of a rate table applies to usage
// of a resource.
type RatingStrategy string

const (
	RateByDuration RatingStrategy = "duration"
	RateByQuantity RatingStrategy = "quantity"
)

// Schedulable reports whether reservations are required for this kind.
func (k ResourceKind) Schedulable() bool { return k == KindInstrument }

// RatingStrategy returns how usage of this kind is priced.
func (k ResourceKind) RatingStrategy() RatingStrategy {
	if k == KindInstrument {
		return RateByDuration
	}
	return RateByQuantity
}

// Valid reports whether k is a member of the sealed kind set.
func (k ResourceKind) Valid() bool {
	switch k {
	case KindInstrument, KindItem, KindService:
		return true
	}
	return false
}

// BookingRules are the resource-specific constraints enforced by the
// reservation scheduler. Zero values mean "no constraint" except
// GranularityMinutes, which defaults to 1.
type BookingRules struct {
	// GranularityMinutes is the minimum scheduling increment. Reservation
	// boundaries and durations must be multiples of it.
	GranularityMinutes int

	// MinDuration / MaxDuration bound the reservable window length.
	MinDuration time.Duration
	MaxDuration time.Duration

	// LeadTime is how far in advance a reservation must be placed.
	LeadTime time.Duration

	// CancelCutoff is how long before start a cancellation is free.
	// Cancelling inside the cutoff still succeeds but is fee-liable.
	CancelCutoff time.Duration

	// MissedGrace is how long after start a check-in is awaited before
	// the reservation may be marked missed.
	MissedGrace time.Duration

	// MaxPerAccount caps concurrent active reservations per account on
	// this resource. Zero means unlimited.
	MaxPerAccount int
}

// Granularity returns the scheduling increment, defaulting to one minute.
func (b BookingRules) Granularity() time.Duration {
	if b.GranularityMinutes <= 0 {
		return time.Minute
	}
	return time.Duration(b.GranularityMinutes) * time.Minute
}

// Resource is a bookable/orderable unit owned by a facility.
type Resource struct {
	ID         ResourceID
	FacilityID FacilityID
	Name       string
	Kind       ResourceKind
	Rules      BookingRules

	// Relay/control metadata is an external collaborator concern; the
	// engine stores it opaquely and never interprets it.
	ControlMetadata map[string]string

	CreatedAt time.Time
}

// =============================================================================
// ACCOUNT - Financial entity billed for usage
// =============================================================================

type Account struct {
	ID        AccountID
	Name      string
	Owner     string // authenticated identity supplied by the caller
	Suspended bool
	CreatedAt time.Time
}

// Membership links an account to a price group within one facility.
// Membership is supplied by the identity/authorization collaborator;
// the engine only reads it during policy resolution.
type Membership struct {
	AccountID    AccountID
	FacilityID   FacilityID
	PriceGroupID PriceGroupID
	From         time.Time
	To           *time.Time // nil = open-ended
}

// ActiveAt reports whether the membership applies at t.
func (m Membership) ActiveAt(t time.Time) bool {
	if t.Before(m.From) {
		return false
	}
	return m.To == nil || t.Before(*m.To)
}

// PriceGroup is a user/account category (internal, external, academic...).
type PriceGroup struct {
	ID         PriceGroupID
	FacilityID FacilityID
	Name       string
}
