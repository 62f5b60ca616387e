package pricing_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/facility-engine/core"
	"github.com/warp/facility-engine/pricing"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// fixedUsage is a UsageReader returning a constant prior-usage aggregate.
type fixedUsage struct {
	units decimal.Decimal
}

func (f fixedUsage) CommittedUnits(context.Context, core.AccountID, core.PolicyID, core.Period) (decimal.Decimal, error) {
	return f.units, nil
}

func newCalculator(priorUnits int64) *pricing.Calculator {
	return &pricing.Calculator{Usage: fixedUsage{units: decimal.NewFromInt(priorUnits)}}
}

var usageDate = time.Date(2026, time.March, 10, 10, 0, 0, 0, time.UTC)

func netCents(t *testing.T, c *pricing.Calculator, p *pricing.PricePolicy, u pricing.Usage) int64 {
	t.Helper()
	cost, err := c.Compute(context.Background(), p, testAccount, u, usageDate)
	require.NoError(t, err)
	return cost.Net.ToCents()
}

// =============================================================================
// RATE TABLE TESTS
// =============================================================================

func TestCalculator_HourlyRate_WithPercentSubsidy(t *testing.T) {
	// GIVEN: $10/hour with a 50% subsidy
	// WHEN: Pricing 2 hours of usage
	// THEN: Base $20, subsidy $10, net $10

	policy := &pricing.PricePolicy{
		ID:      "p1",
		Rate:    pricing.RateTable{Kind: pricing.RateHourly, HourlyRate: core.MustParseMoney("10")},
		Subsidy: pricing.Subsidy{Mode: pricing.SubsidyPercent, Percent: decimal.NewFromInt(50)},
	}

	cost, err := newCalculator(0).Compute(context.Background(), policy, testAccount, pricing.DurationUsage(2*time.Hour), usageDate)
	require.NoError(t, err)

	assert.Equal(t, int64(2000), cost.Base.ToCents())
	assert.Equal(t, int64(1000), cost.Subsidy.ToCents())
	assert.Equal(t, int64(1000), cost.Net.ToCents())
	assert.True(t, cost.FallbackUnits.IsZero())
}

func TestCalculator_HourlyRate_ProratesToIncrement(t *testing.T) {
	// 15-minute increment: 50 minutes bills as 60.
	policy := &pricing.PricePolicy{
		ID: "p1",
		Rate: pricing.RateTable{
			Kind:                    pricing.RateHourly,
			HourlyRate:              core.MustParseMoney("10"),
			ProrateIncrementMinutes: 15,
		},
	}

	assert.Equal(t, int64(1000), netCents(t, newCalculator(0), policy, pricing.DurationUsage(50*time.Minute)))
	assert.Equal(t, int64(250), netCents(t, newCalculator(0), policy, pricing.DurationUsage(10*time.Minute)))
}

func TestCalculator_HourlyRate_RoundsOnceAtTheEnd(t *testing.T) {
	// 50 minutes at $10/hour is 8.3333...; rounded half-up once to 8.33.
	policy := &pricing.PricePolicy{
		ID:   "p1",
		Rate: pricing.RateTable{Kind: pricing.RateHourly, HourlyRate: core.MustParseMoney("10")},
	}

	assert.Equal(t, int64(833), netCents(t, newCalculator(0), policy, pricing.DurationUsage(50*time.Minute)))
}

func TestCalculator_DurationBrackets(t *testing.T) {
	policy := &pricing.PricePolicy{
		ID: "p1",
		Rate: pricing.RateTable{
			Kind: pricing.RateDurationBracket,
			Brackets: []pricing.DurationBracket{
				{UpTo: 2 * time.Hour, Price: core.MustParseMoney("150")},
				{UpTo: 4 * time.Hour, Price: core.MustParseMoney("250")},
				{UpTo: 8 * time.Hour, Price: core.MustParseMoney("400")},
			},
		},
	}
	calc := newCalculator(0)

	assert.Equal(t, int64(15000), netCents(t, calc, policy, pricing.DurationUsage(90*time.Minute)))
	assert.Equal(t, int64(15000), netCents(t, calc, policy, pricing.DurationUsage(2*time.Hour)), "bracket bound is inclusive")
	assert.Equal(t, int64(25000), netCents(t, calc, policy, pricing.DurationUsage(3*time.Hour)))
	assert.Equal(t, int64(40000), netCents(t, calc, policy, pricing.DurationUsage(12*time.Hour)), "beyond last bracket uses last price")
}

func TestCalculator_FlatUnitRate(t *testing.T) {
	policy := &pricing.PricePolicy{
		ID:   "p1",
		Rate: pricing.RateTable{Kind: pricing.RateFlatUnit, UnitPrice: core.MustParseMoney("18.50")},
	}

	qty := decimal.NewFromInt(3)
	assert.Equal(t, int64(5550), netCents(t, newCalculator(0), policy, pricing.QuantityUsage(qty)))
}

func TestCalculator_TieredUnitRate_VolumePricing(t *testing.T) {
	// GIVEN: Up to 10 units at $18, up to 50 at $15
	// THEN: The tier containing the total prices ALL units

	policy := &pricing.PricePolicy{
		ID: "p1",
		Rate: pricing.RateTable{
			Kind: pricing.RateTieredUnit,
			Tiers: []pricing.QuantityTier{
				{UpTo: decimal.NewFromInt(10), UnitPrice: core.MustParseMoney("18")},
				{UpTo: decimal.NewFromInt(50), UnitPrice: core.MustParseMoney("15")},
			},
		},
	}
	calc := newCalculator(0)

	assert.Equal(t, int64(9000), netCents(t, calc, policy, pricing.QuantityUsage(decimal.NewFromInt(5))))
	assert.Equal(t, int64(45000), netCents(t, calc, policy, pricing.QuantityUsage(decimal.NewFromInt(30))))
	assert.Equal(t, int64(120000), netCents(t, calc, policy, pricing.QuantityUsage(decimal.NewFromInt(80))), "beyond last tier uses last unit price")
}

func TestCalculator_ZeroUsage_CostsNothing(t *testing.T) {
	policy := &pricing.PricePolicy{
		ID:   "p1",
		Rate: pricing.RateTable{Kind: pricing.RateHourly, HourlyRate: core.MustParseMoney("10")},
	}

	assert.Equal(t, int64(0), netCents(t, newCalculator(0), policy, pricing.DurationUsage(0)))
}

// =============================================================================
// SUBSIDY TESTS
// =============================================================================

func TestCalculator_FixedSubsidy_NeverDrivesNetNegative(t *testing.T) {
	// GIVEN: A fixed $100 subsidy on a $20 base
	// THEN: Subsidy clamps to base; net is zero, never negative

	policy := &pricing.PricePolicy{
		ID:      "p1",
		Rate:    pricing.RateTable{Kind: pricing.RateHourly, HourlyRate: core.MustParseMoney("10")},
		Subsidy: pricing.Subsidy{Mode: pricing.SubsidyFixed, Fixed: core.MustParseMoney("100")},
	}

	cost, err := newCalculator(0).Compute(context.Background(), policy, testAccount, pricing.DurationUsage(2*time.Hour), usageDate)
	require.NoError(t, err)

	assert.True(t, cost.Net.IsZero())
	assert.False(t, cost.Net.IsNegative())
}

func TestCalculator_FixedSubsidy_BelowBase(t *testing.T) {
	policy := &pricing.PricePolicy{
		ID:      "p1",
		Rate:    pricing.RateTable{Kind: pricing.RateHourly, HourlyRate: core.MustParseMoney("10")},
		Subsidy: pricing.Subsidy{Mode: pricing.SubsidyFixed, Fixed: core.MustParseMoney("5")},
	}

	assert.Equal(t, int64(1500), netCents(t, newCalculator(0), policy, pricing.DurationUsage(2*time.Hour)))
}

// =============================================================================
// USAGE CAP TESTS
// =============================================================================

func TestCalculator_CapReject_BlocksOverage(t *testing.T) {
	// GIVEN: A 120-minute monthly cap with 100 minutes already committed
	// WHEN: Pricing 30 more minutes
	// THEN: CapExceededError with the numbers the operator needs

	policy := &pricing.PricePolicy{
		ID:   "p1",
		Rate: pricing.RateTable{Kind: pricing.RateHourly, HourlyRate: core.MustParseMoney("10")},
		Cap:  pricing.UsageCap{Mode: pricing.CapReject, Units: decimal.NewFromInt(120)},
	}

	_, err := newCalculator(100).Compute(context.Background(), policy, testAccount, pricing.DurationUsage(30*time.Minute), usageDate)
	assert.ErrorIs(t, err, core.ErrCapExceeded)

	var cee *core.CapExceededError
	require.ErrorAs(t, err, &cee)
	assert.Equal(t, "120", cee.Cap)
	assert.Equal(t, "100", cee.PriorUsage)
	assert.Equal(t, "30", cee.Attempted)
}

func TestCalculator_CapReject_AllowsExactFit(t *testing.T) {
	policy := &pricing.PricePolicy{
		ID:   "p1",
		Rate: pricing.RateTable{Kind: pricing.RateHourly, HourlyRate: core.MustParseMoney("10")},
		Cap:  pricing.UsageCap{Mode: pricing.CapReject, Units: decimal.NewFromInt(120)},
	}

	assert.Equal(t, int64(333), netCents(t, newCalculator(100), policy, pricing.DurationUsage(20*time.Minute)))
}

func TestCalculator_CapFallback_SplitsAtTheBoundary(t *testing.T) {
	// GIVEN: $25/h standard, 120-minute cap, $50/h fallback, 60 min prior
	// WHEN: Pricing 120 minutes
	// THEN: 60 min at $25/h ($25) plus 60 min at $50/h ($50)

	policy := &pricing.PricePolicy{
		ID:   "p1",
		Rate: pricing.RateTable{Kind: pricing.RateHourly, HourlyRate: core.MustParseMoney("25")},
		Cap: pricing.UsageCap{
			Mode:         pricing.CapFallback,
			Units:        decimal.NewFromInt(120),
			FallbackRate: core.MustParseMoney("50"),
		},
	}

	cost, err := newCalculator(60).Compute(context.Background(), policy, testAccount, pricing.DurationUsage(2*time.Hour), usageDate)
	require.NoError(t, err)

	assert.Equal(t, int64(7500), cost.Net.ToCents())
	assert.True(t, cost.FallbackUnits.Equal(decimal.NewFromInt(60)))
}

func TestCalculator_CapFallback_PriorAlreadyOverCap(t *testing.T) {
	// All units go to the fallback rate when the cap was already consumed.
	policy := &pricing.PricePolicy{
		ID:   "p1",
		Rate: pricing.RateTable{Kind: pricing.RateHourly, HourlyRate: core.MustParseMoney("25")},
		Cap: pricing.UsageCap{
			Mode:         pricing.CapFallback,
			Units:        decimal.NewFromInt(120),
			FallbackRate: core.MustParseMoney("50"),
		},
	}

	cost, err := newCalculator(200).Compute(context.Background(), policy, testAccount, pricing.DurationUsage(time.Hour), usageDate)
	require.NoError(t, err)

	assert.Equal(t, int64(5000), cost.Net.ToCents())
	assert.True(t, cost.FallbackUnits.Equal(decimal.NewFromInt(60)))
}

func TestCalculator_ZeroValueCap_MeansUncapped(t *testing.T) {
	// GIVEN: A policy built by struct literal, leaving Cap as its zero
	//        value (empty mode, zero units, zero fallback rate)
	// WHEN: Pricing usage with committed prior usage on record
	// THEN: The full amount is billed at the standard rate; nothing is
	//       shunted to the zero fallback rate

	policy := &pricing.PricePolicy{
		ID:   "p1",
		Rate: pricing.RateTable{Kind: pricing.RateHourly, HourlyRate: core.MustParseMoney("10")},
	}
	require.Equal(t, pricing.UsageCap{}, policy.Cap)

	cost, err := newCalculator(500).Compute(context.Background(), policy, testAccount, pricing.DurationUsage(2*time.Hour), usageDate)
	require.NoError(t, err)

	assert.Equal(t, int64(2000), cost.Base.ToCents())
	assert.Equal(t, int64(2000), cost.Net.ToCents())
	assert.True(t, cost.FallbackUnits.IsZero())
}

// =============================================================================
// CANCELLATION FEE TESTS
// =============================================================================

func TestCalculator_CancellationFee_Flat(t *testing.T) {
	policy := &pricing.PricePolicy{
		ID:           "p1",
		Rate:         pricing.RateTable{Kind: pricing.RateHourly, HourlyRate: core.MustParseMoney("120")},
		Cancellation: pricing.CancellationRule{Mode: pricing.CancelFlatFee, Flat: core.MustParseMoney("35")},
	}

	fee := newCalculator(0).ComputeCancellationFee(policy, pricing.DurationUsage(2*time.Hour))
	assert.Equal(t, int64(3500), fee.Net.ToCents())
}

func TestCalculator_CancellationFee_PercentOfFullPrice(t *testing.T) {
	// 25% of what 2 hours at $120/h would have cost.
	policy := &pricing.PricePolicy{
		ID:   "p1",
		Rate: pricing.RateTable{Kind: pricing.RateHourly, HourlyRate: core.MustParseMoney("120")},
		Cancellation: pricing.CancellationRule{
			Mode:    pricing.CancelPercentFee,
			Percent: decimal.NewFromInt(25),
		},
	}

	fee := newCalculator(0).ComputeCancellationFee(policy, pricing.DurationUsage(2*time.Hour))
	assert.Equal(t, int64(6000), fee.Net.ToCents())
}

func TestCalculator_CancellationFee_NoFeeMode(t *testing.T) {
	policy := &pricing.PricePolicy{
		ID:           "p1",
		Rate:         pricing.RateTable{Kind: pricing.RateHourly, HourlyRate: core.MustParseMoney("120")},
		Cancellation: pricing.CancellationRule{Mode: pricing.CancelNoFee},
	}

	fee := newCalculator(0).ComputeCancellationFee(policy, pricing.DurationUsage(2*time.Hour))
	assert.True(t, fee.Net.IsZero())
}

// =============================================================================
// BILLED UNITS
// =============================================================================

func TestUsage_BilledUnits_RoundsDurationUp(t *testing.T) {
	u := pricing.DurationUsage(50 * time.Minute)

	assert.True(t, u.BilledUnits(15*time.Minute).Equal(decimal.NewFromInt(60)))
	assert.True(t, u.BilledUnits(time.Minute).Equal(decimal.NewFromInt(50)))
	// Zero increment defaults to one minute.
	assert.True(t, u.BilledUnits(0).Equal(decimal.NewFromInt(50)))
}

func TestUsage_BilledUnits_QuantityPassesThrough(t *testing.T) {
	u := pricing.QuantityUsage(decimal.NewFromInt(7))
	assert.True(t, u.BilledUnits(15*time.Minute).Equal(decimal.NewFromInt(7)))
}
