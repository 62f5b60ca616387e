/*
Package pricing resolves price policies and computes usage costs.

PURPOSE:
  Every completed order detail must be priced by exactly one policy. This
  package owns the versioned policy table, the deterministic resolution of
  the single applicable policy for a (resource, account, as-of date)
  triple, and the monetary computation of base cost, subsidy, and net cost
  including usage caps and cancellation fees.

KEY CONCEPTS:
  - PricePolicy: versioned rate definition for a (resource, price group)
    pair with an effective-date window. Immutable once an order detail has
    been priced against it; rate changes are new rows with later
    effective dates.
  - GroupPriority: explicit, per-facility ordering of price groups. The
    priority between multiple matching groups is configuration, never a
    hard-coded global rule.
  - RateTable: duration brackets, hourly proration, or per-unit tiers.
  - UsageCap: maximum billable units per account per calendar month, with
    hard-reject or fallback-rate overflow handling.

MONEY:
  All rates are core.Money (decimal). Multiplication happens before
  division so hourly rates price exact cent amounts; round-half-up is
  applied once, at the final net-cost step.

SEE ALSO:
  - resolver.go: policy selection algorithm
  - calculator.go: cost computation, caps, cancellation fees
*/
package pricing

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/facility-engine/core"
)

// =============================================================================
// RATE TABLE
// =============================================================================

type RateKind string

const (
	// RateDurationBracket selects the bracket containing the billed
	// duration; the bracket price covers the whole duration.
	RateDurationBracket RateKind = "duration_bracket"

	// RateHourly prorates an hourly rate over the billed duration,
	// rounded up to the proration increment.
	RateHourly RateKind = "hourly"

	// RateFlatUnit bills quantity * unit price.
	RateFlatUnit RateKind = "flat_unit"

	// RateTieredUnit selects the tier containing the total quantity; all
	// units are billed at that tier's unit price (volume pricing).
	RateTieredUnit RateKind = "tiered_unit"
)

// DurationBracket prices any duration up to (and including) UpTo that
// exceeds the previous bracket's bound.
type DurationBracket struct {
	UpTo  time.Duration
	Price core.Money
}

// QuantityTier prices all units when the total quantity is <= UpTo.
type QuantityTier struct {
	UpTo      decimal.Decimal
	UnitPrice core.Money
}

type RateTable struct {
	Kind RateKind

	// RateDurationBracket: ascending by UpTo. Durations beyond the last
	// bracket are billed at the last bracket's price.
	Brackets []DurationBracket

	// RateHourly
	HourlyRate core.Money
	// ProrateIncrementMinutes rounds billed duration up; zero prorates
	// per minute.
	ProrateIncrementMinutes int

	// RateFlatUnit
	UnitPrice core.Money

	// RateTieredUnit: ascending by UpTo. Quantities beyond the last tier
	// use the last tier's unit price.
	Tiers []QuantityTier
}

// =============================================================================
// SUBSIDY / CANCELLATION / CAP
// =============================================================================

type SubsidyMode string

const (
	SubsidyNone    SubsidyMode = "none"
	SubsidyPercent SubsidyMode = "percent"
	SubsidyFixed   SubsidyMode = "fixed"
)

// Subsidy is a reduction applied to base cost before final billing.
type Subsidy struct {
	Mode    SubsidyMode
	Percent decimal.Decimal // 0-100, SubsidyPercent
	Fixed   core.Money      // SubsidyFixed
}

type CancellationMode string

const (
	CancelNoFee      CancellationMode = "no_fee"
	CancelFlatFee    CancellationMode = "flat"
	CancelPercentFee CancellationMode = "percent"
)

// CancellationRule prices a fee-liable cancellation (inside the cutoff).
type CancellationRule struct {
	Mode    CancellationMode
	Flat    core.Money
	Percent decimal.Decimal // 0-100, of what the full reservation would have cost
}

type CapMode string

const (
	CapNone     CapMode = "none"
	CapReject   CapMode = "reject"   // completion fails with ErrCapExceeded
	CapFallback CapMode = "fallback" // excess billed at the fallback rate
)

// UsageCap bounds billable units per account per calendar month. Units are
// billed minutes for duration-rated policies and quantity for unit-rated
// ones.
type UsageCap struct {
	Mode  CapMode
	Units decimal.Decimal

	// FallbackRate prices excess units under CapFallback: per hour for
	// duration-rated policies, per unit otherwise.
	FallbackRate core.Money
}

// =============================================================================
// PRICE POLICY
// =============================================================================

// PricePolicy is one versioned pricing row for a (resource, price group)
// pair. Immutable once in effect and priced against; supersede with a new
// row, never edit.
type PricePolicy struct {
	ID           core.PolicyID
	ResourceID   core.ResourceID
	PriceGroupID core.PriceGroupID

	EffectiveFrom time.Time
	EffectiveTo   *time.Time // nil = open-ended

	Rate         RateTable
	Subsidy      Subsidy
	Cancellation CancellationRule
	Cap          UsageCap

	CreatedAt time.Time
}

// EffectiveAt reports whether the policy's effective window contains t.
func (p PricePolicy) EffectiveAt(t time.Time) bool {
	if t.Before(p.EffectiveFrom) {
		return false
	}
	return p.EffectiveTo == nil || t.Before(*p.EffectiveTo)
}

// =============================================================================
// STORES
// =============================================================================

// PolicyStore persists the versioned policy table.
type PolicyStore interface {
	SavePolicy(ctx context.Context, p PricePolicy) error
	GetPolicy(ctx context.Context, id core.PolicyID) (*PricePolicy, error)
	// PoliciesFor returns all policy rows for a resource, any group, any
	// effective window. Filtering happens in the resolver.
	PoliciesFor(ctx context.Context, resource core.ResourceID) ([]PricePolicy, error)
}

// UsageReader reports cumulative committed billable units for cap
// enforcement. Implementations MUST count committed (Complete) order
// details only, never in-flight ones, or concurrent completions could
// race past the cap.
type UsageReader interface {
	CommittedUnits(ctx context.Context, account core.AccountID, policy core.PolicyID, period core.Period) (decimal.Decimal, error)
}
