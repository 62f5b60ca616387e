/*
calculator.go - Cost computation: base, subsidy, net

PURPOSE:
  Turns (policy, usage) into money. Handles duration brackets, hourly
  proration, unit tiers, subsidies, per-month usage caps, and the reduced
  cancellation-fee path.

CAP ENFORCEMENT:
  Cumulative prior usage comes from a UsageReader that counts committed
  order details only. The billing service invokes Compute while holding
  the order-completion claim for the detail, so two concurrent
  completions cannot both read the pre-completion aggregate.

ROUNDING:
  Intermediate amounts keep full decimal precision. Round-half-up to
  cents is applied exactly once, on the final net cost. Net cost is
  floored at zero; computeCost never returns a negative amount.
*/
package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/warp/facility-engine/core"
)

var sixty = decimal.NewFromInt(60)

// =============================================================================
// USAGE - What is being priced
// =============================================================================

// Usage is either a duration (instruments) or a quantity (items/services).
type Usage struct {
	Strategy core.RatingStrategy
	Duration time.Duration
	Quantity decimal.Decimal
}

func DurationUsage(d time.Duration) Usage {
	return Usage{Strategy: core.RateByDuration, Duration: d}
}

func QuantityUsage(q decimal.Decimal) Usage {
	return Usage{Strategy: core.RateByQuantity, Quantity: q}
}

// BilledUnits returns the cap-accounting units of the usage: billed
// minutes (duration rounded up to increment) or quantity.
func (u Usage) BilledUnits(increment time.Duration) decimal.Decimal {
	if u.Strategy == core.RateByDuration {
		return decimal.NewFromInt(int64(roundUpDuration(u.Duration, increment) / time.Minute))
	}
	return u.Quantity
}

func roundUpDuration(d, increment time.Duration) time.Duration {
	if increment <= 0 {
		increment = time.Minute
	}
	if d <= 0 {
		return 0
	}
	n := (d + increment - 1) / increment
	return n * increment
}

// =============================================================================
// COST - Computation result
// =============================================================================

// Cost is the priced result frozen onto an order detail at completion.
type Cost struct {
	Base    core.Money // before subsidy, includes any fallback-rate portion
	Subsidy core.Money // reduction applied
	Net     core.Money // rounded once, never negative

	// FallbackUnits is the portion of billed units priced at the cap
	// fallback rate; zero when the cap was not hit.
	FallbackUnits decimal.Decimal
}

// =============================================================================
// CALCULATOR
// =============================================================================

type Calculator struct {
	Usage UsageReader
}

// Compute prices usage under policy for an account. at anchors the cap
// period (calendar month) and must be the usage date, not the wall clock.
func (c *Calculator) Compute(ctx context.Context, policy *PricePolicy, account core.AccountID, usage Usage, at time.Time) (Cost, error) {
	increment := c.increment(policy)
	units := usage.BilledUnits(increment)
	if units.IsNegative() {
		return Cost{}, fmt.Errorf("negative usage: %s", units)
	}

	fallbackUnits := decimal.Zero
	standardUnits := units

	// A zero-value cap (Mode "") is uncapped, same as CapNone.
	if (policy.Cap.Mode == CapReject || policy.Cap.Mode == CapFallback) && c.Usage != nil {
		period := core.PeriodOf(at)
		prior, err := c.Usage.CommittedUnits(ctx, account, policy.ID, period)
		if err != nil {
			return Cost{}, fmt.Errorf("read committed usage: %w", err)
		}
		if prior.Add(units).GreaterThan(policy.Cap.Units) {
			if policy.Cap.Mode == CapReject {
				return Cost{}, &core.CapExceededError{
					PolicyID:   policy.ID,
					AccountID:  account,
					Period:     period,
					Cap:        policy.Cap.Units.String(),
					PriorUsage: prior.String(),
					Attempted:  units.String(),
				}
			}
			// CapFallback: split billed units at the cap boundary.
			standardUnits = policy.Cap.Units.Sub(prior)
			if standardUnits.IsNegative() {
				standardUnits = decimal.Zero
			}
			fallbackUnits = units.Sub(standardUnits)
		}
	}

	base := c.standardCost(policy, usage, standardUnits)
	if fallbackUnits.IsPositive() {
		base = base.Add(c.fallbackCost(policy, fallbackUnits))
	}

	subsidy := c.subsidyAmount(policy, base)
	net := base.Sub(subsidy).FloorZero().RoundCents()

	return Cost{Base: base, Subsidy: subsidy, Net: net, FallbackUnits: fallbackUnits}, nil
}

// ComputeCancellationFee prices a fee-liable cancellation: a flat fee or a
// percentage of what the full reservation would have cost. Caps do not
// apply; nothing was consumed.
func (c *Calculator) ComputeCancellationFee(policy *PricePolicy, planned Usage) Cost {
	switch policy.Cancellation.Mode {
	case CancelFlatFee:
		fee := policy.Cancellation.Flat.FloorZero().RoundCents()
		return Cost{Base: fee, Subsidy: core.Zero(), Net: fee}

	case CancelPercentFee:
		units := planned.BilledUnits(c.increment(policy))
		full := c.standardCost(policy, planned, units)
		full = full.Sub(c.subsidyAmount(policy, full)).FloorZero()
		fee := full.Mul(policy.Cancellation.Percent).Div(decimal.NewFromInt(100)).FloorZero().RoundCents()
		return Cost{Base: fee, Subsidy: core.Zero(), Net: fee}

	default:
		return Cost{Base: core.Zero(), Subsidy: core.Zero(), Net: core.Zero()}
	}
}

func (c *Calculator) increment(policy *PricePolicy) time.Duration {
	if policy.Rate.ProrateIncrementMinutes > 0 {
		return time.Duration(policy.Rate.ProrateIncrementMinutes) * time.Minute
	}
	return time.Minute
}

// standardCost prices billedUnits of usage at the policy's standard rate
// table. For duration rates billedUnits is minutes; for unit rates it is
// quantity. usage carries the strategy.
func (c *Calculator) standardCost(policy *PricePolicy, usage Usage, billedUnits decimal.Decimal) core.Money {
	if billedUnits.IsZero() {
		return core.Zero()
	}

	switch policy.Rate.Kind {
	case RateDurationBracket:
		d := time.Duration(billedUnits.IntPart()) * time.Minute
		return bracketPrice(policy.Rate.Brackets, d)

	case RateHourly:
		// rate * minutes / 60; multiply before divide for exact cents
		return policy.Rate.HourlyRate.Mul(billedUnits).Div(sixty)

	case RateFlatUnit:
		return policy.Rate.UnitPrice.Mul(billedUnits)

	case RateTieredUnit:
		return tierPrice(policy.Rate.Tiers, billedUnits).Mul(billedUnits)

	default:
		return core.Zero()
	}
}

// fallbackCost prices excess units at the cap fallback rate: per hour for
// duration-rated policies, per unit otherwise.
func (c *Calculator) fallbackCost(policy *PricePolicy, excessUnits decimal.Decimal) core.Money {
	switch policy.Rate.Kind {
	case RateDurationBracket, RateHourly:
		return policy.Cap.FallbackRate.Mul(excessUnits).Div(sixty)
	default:
		return policy.Cap.FallbackRate.Mul(excessUnits)
	}
}

func (c *Calculator) subsidyAmount(policy *PricePolicy, base core.Money) core.Money {
	switch policy.Subsidy.Mode {
	case SubsidyPercent:
		return base.Mul(policy.Subsidy.Percent).Div(decimal.NewFromInt(100))
	case SubsidyFixed:
		if policy.Subsidy.Fixed.GreaterThan(base) {
			return base // net floors at zero; subsidy never exceeds base
		}
		return policy.Subsidy.Fixed
	default:
		return core.Zero()
	}
}

// bracketPrice selects the bracket containing d; durations beyond the
// last bracket use the last bracket's price.
func bracketPrice(brackets []DurationBracket, d time.Duration) core.Money {
	for _, b := range brackets {
		if d <= b.UpTo {
			return b.Price
		}
	}
	if n := len(brackets); n > 0 {
		return brackets[n-1].Price
	}
	return core.Zero()
}

// tierPrice selects the unit price for a total quantity.
func tierPrice(tiers []QuantityTier, qty decimal.Decimal) core.Money {
	for _, t := range tiers {
		if !qty.GreaterThan(t.UpTo) {
			return t.UnitPrice
		}
	}
	if n := len(tiers); n > 0 {
		return tiers[n-1].UnitPrice
	}
	return core.Zero()
}
