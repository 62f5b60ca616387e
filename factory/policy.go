/*
Package factory provides JSON to Go price-policy conversion.

PURPOSE:
  Converts JSON policy definitions into pricing.PricePolicy values. This
  enables rate configuration without code changes - facility admins can
  define rates in JSON, and the factory creates the proper Go structs.

JSON SCHEMA:
  {
    "id": "confocal-standard-2026",
    "resource_id": "confocal-1",
    "price_group_id": "internal",
    "effective_from": "2026-01-01T00:00:00Z",
    "rate": {
      "kind": "hourly",
      "hourly_rate": "42.50",
      "prorate_increment_minutes": 15
    },
    "subsidy": {"mode": "percent", "percent": "50"},
    "cancellation": {"mode": "percent", "percent": "25"},
    "cap": {"mode": "fallback", "units": "1200", "fallback_rate": "10"}
  }

KEY FEATURES:
  - Validates rate kind and bracket/tier ordering
  - Sets sensible defaults (no subsidy, no fee, no cap)
  - Money and decimal fields are JSON strings, parsed exactly

SEE ALSO:
  - pricing/policy.go: PricePolicy type definition
  - factory/seed.go: demo catalog provisioning
*/
package factory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/facility-engine/core"
	"github.com/warp/facility-engine/pricing"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// PolicyJSON is the JSON representation of a price policy.
type PolicyJSON struct {
	ID            string            `json:"id"`
	ResourceID    string            `json:"resource_id"`
	PriceGroupID  string            `json:"price_group_id"`
	EffectiveFrom time.Time         `json:"effective_from"`
	EffectiveTo   *time.Time        `json:"effective_to,omitempty"`
	Rate          RateJSON          `json:"rate"`
	Subsidy       *SubsidyJSON      `json:"subsidy,omitempty"`
	Cancellation  *CancellationJSON `json:"cancellation,omitempty"`
	Cap           *CapJSON          `json:"cap,omitempty"`
}

// RateJSON represents the rate table.
type RateJSON struct {
	Kind                    string        `json:"kind"` // duration_bracket, hourly, flat_unit, tiered_unit
	Brackets                []BracketJSON `json:"brackets,omitempty"`
	HourlyRate              string        `json:"hourly_rate,omitempty"`
	ProrateIncrementMinutes int           `json:"prorate_increment_minutes,omitempty"`
	UnitPrice               string        `json:"unit_price,omitempty"`
	Tiers                   []TierJSON    `json:"tiers,omitempty"`
}

// BracketJSON is one duration bracket.
type BracketJSON struct {
	UpToMinutes int    `json:"up_to_minutes"`
	Price       string `json:"price"`
}

// TierJSON is one quantity tier.
type TierJSON struct {
	UpTo      string `json:"up_to"`
	UnitPrice string `json:"unit_price"`
}

// SubsidyJSON represents the subsidy configuration.
type SubsidyJSON struct {
	Mode    string `json:"mode"` // none, percent, fixed
	Percent string `json:"percent,omitempty"`
	Fixed   string `json:"fixed,omitempty"`
}

// CancellationJSON represents the cancellation fee rule.
type CancellationJSON struct {
	Mode    string `json:"mode"` // no_fee, flat, percent
	Flat    string `json:"flat,omitempty"`
	Percent string `json:"percent,omitempty"`
}

// CapJSON represents the monthly usage cap.
type CapJSON struct {
	Mode         string `json:"mode"` // none, reject, fallback
	Units        string `json:"units,omitempty"`
	FallbackRate string `json:"fallback_rate,omitempty"`
}

// =============================================================================
// FACTORY
// =============================================================================

// PolicyFactory converts JSON definitions into price policies.
type PolicyFactory struct{}

func NewPolicyFactory() *PolicyFactory {
	return &PolicyFactory{}
}

// ParsePolicy converts a JSON policy definition into a PricePolicy.
func (f *PolicyFactory) ParsePolicy(jsonStr string) (*pricing.PricePolicy, error) {
	var pj PolicyJSON
	if err := json.Unmarshal([]byte(jsonStr), &pj); err != nil {
		return nil, fmt.Errorf("invalid policy JSON: %w", err)
	}
	return f.FromJSON(pj)
}

// FromJSON converts a decoded definition into a PricePolicy.
func (f *PolicyFactory) FromJSON(pj PolicyJSON) (*pricing.PricePolicy, error) {
	if pj.ID == "" || pj.ResourceID == "" || pj.PriceGroupID == "" {
		return nil, fmt.Errorf("policy requires id, resource_id and price_group_id")
	}
	if pj.EffectiveFrom.IsZero() {
		return nil, fmt.Errorf("policy %s: effective_from is required", pj.ID)
	}

	rate, err := parseRate(pj.Rate)
	if err != nil {
		return nil, fmt.Errorf("policy %s: %w", pj.ID, err)
	}

	p := &pricing.PricePolicy{
		ID:            core.PolicyID(pj.ID),
		ResourceID:    core.ResourceID(pj.ResourceID),
		PriceGroupID:  core.PriceGroupID(pj.PriceGroupID),
		EffectiveFrom: pj.EffectiveFrom,
		EffectiveTo:   pj.EffectiveTo,
		Rate:          *rate,
		Subsidy:       pricing.Subsidy{Mode: pricing.SubsidyNone},
		Cancellation:  pricing.CancellationRule{Mode: pricing.CancelNoFee},
		Cap:           pricing.UsageCap{Mode: pricing.CapNone},
		CreatedAt:     time.Now().UTC(),
	}

	if pj.Subsidy != nil {
		sub, err := parseSubsidy(*pj.Subsidy)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", pj.ID, err)
		}
		p.Subsidy = *sub
	}
	if pj.Cancellation != nil {
		cn, err := parseCancellation(*pj.Cancellation)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", pj.ID, err)
		}
		p.Cancellation = *cn
	}
	if pj.Cap != nil {
		uc, err := parseCap(*pj.Cap)
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", pj.ID, err)
		}
		p.Cap = *uc
	}

	return p, nil
}

func parseRate(rj RateJSON) (*pricing.RateTable, error) {
	rate := &pricing.RateTable{
		Kind:                    pricing.RateKind(rj.Kind),
		ProrateIncrementMinutes: rj.ProrateIncrementMinutes,
	}

	switch rate.Kind {
	case pricing.RateDurationBracket:
		if len(rj.Brackets) == 0 {
			return nil, fmt.Errorf("duration_bracket rate requires brackets")
		}
		prev := 0
		for _, b := range rj.Brackets {
			if b.UpToMinutes <= prev {
				return nil, fmt.Errorf("brackets must be strictly ascending by up_to_minutes")
			}
			prev = b.UpToMinutes
			price, err := parseMoney(b.Price)
			if err != nil {
				return nil, fmt.Errorf("bracket price: %w", err)
			}
			rate.Brackets = append(rate.Brackets, pricing.DurationBracket{
				UpTo:  time.Duration(b.UpToMinutes) * time.Minute,
				Price: price,
			})
		}

	case pricing.RateHourly:
		hourly, err := parseMoney(rj.HourlyRate)
		if err != nil {
			return nil, fmt.Errorf("hourly_rate: %w", err)
		}
		rate.HourlyRate = hourly

	case pricing.RateFlatUnit:
		unit, err := parseMoney(rj.UnitPrice)
		if err != nil {
			return nil, fmt.Errorf("unit_price: %w", err)
		}
		rate.UnitPrice = unit

	case pricing.RateTieredUnit:
		if len(rj.Tiers) == 0 {
			return nil, fmt.Errorf("tiered_unit rate requires tiers")
		}
		prev := decimal.Zero
		for _, t := range rj.Tiers {
			upTo, err := decimal.NewFromString(t.UpTo)
			if err != nil {
				return nil, fmt.Errorf("tier up_to: %w", err)
			}
			if upTo.LessThanOrEqual(prev) {
				return nil, fmt.Errorf("tiers must be strictly ascending by up_to")
			}
			prev = upTo
			price, err := parseMoney(t.UnitPrice)
			if err != nil {
				return nil, fmt.Errorf("tier unit_price: %w", err)
			}
			rate.Tiers = append(rate.Tiers, pricing.QuantityTier{UpTo: upTo, UnitPrice: price})
		}

	default:
		return nil, fmt.Errorf("unknown rate kind %q", rj.Kind)
	}

	return rate, nil
}

func parseSubsidy(sj SubsidyJSON) (*pricing.Subsidy, error) {
	switch pricing.SubsidyMode(sj.Mode) {
	case pricing.SubsidyNone, "":
		return &pricing.Subsidy{Mode: pricing.SubsidyNone}, nil
	case pricing.SubsidyPercent:
		pct, err := parsePercent(sj.Percent)
		if err != nil {
			return nil, fmt.Errorf("subsidy percent: %w", err)
		}
		return &pricing.Subsidy{Mode: pricing.SubsidyPercent, Percent: pct}, nil
	case pricing.SubsidyFixed:
		fixed, err := parseMoney(sj.Fixed)
		if err != nil {
			return nil, fmt.Errorf("subsidy fixed: %w", err)
		}
		return &pricing.Subsidy{Mode: pricing.SubsidyFixed, Fixed: fixed}, nil
	}
	return nil, fmt.Errorf("unknown subsidy mode %q", sj.Mode)
}

func parseCancellation(cj CancellationJSON) (*pricing.CancellationRule, error) {
	switch pricing.CancellationMode(cj.Mode) {
	case pricing.CancelNoFee, "":
		return &pricing.CancellationRule{Mode: pricing.CancelNoFee}, nil
	case pricing.CancelFlatFee:
		flat, err := parseMoney(cj.Flat)
		if err != nil {
			return nil, fmt.Errorf("cancellation flat: %w", err)
		}
		return &pricing.CancellationRule{Mode: pricing.CancelFlatFee, Flat: flat}, nil
	case pricing.CancelPercentFee:
		pct, err := parsePercent(cj.Percent)
		if err != nil {
			return nil, fmt.Errorf("cancellation percent: %w", err)
		}
		return &pricing.CancellationRule{Mode: pricing.CancelPercentFee, Percent: pct}, nil
	}
	return nil, fmt.Errorf("unknown cancellation mode %q", cj.Mode)
}

func parseCap(cj CapJSON) (*pricing.UsageCap, error) {
	switch pricing.CapMode(cj.Mode) {
	case pricing.CapNone, "":
		return &pricing.UsageCap{Mode: pricing.CapNone}, nil
	case pricing.CapReject:
		units, err := decimal.NewFromString(cj.Units)
		if err != nil {
			return nil, fmt.Errorf("cap units: %w", err)
		}
		return &pricing.UsageCap{Mode: pricing.CapReject, Units: units}, nil
	case pricing.CapFallback:
		units, err := decimal.NewFromString(cj.Units)
		if err != nil {
			return nil, fmt.Errorf("cap units: %w", err)
		}
		rate, err := parseMoney(cj.FallbackRate)
		if err != nil {
			return nil, fmt.Errorf("cap fallback_rate: %w", err)
		}
		return &pricing.UsageCap{Mode: pricing.CapFallback, Units: units, FallbackRate: rate}, nil
	}
	return nil, fmt.Errorf("unknown cap mode %q", cj.Mode)
}

func parseMoney(s string) (core.Money, error) {
	if s == "" {
		return core.Money{}, fmt.Errorf("amount is required")
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return core.Money{}, fmt.Errorf("invalid amount %q", s)
	}
	if v.IsNegative() {
		return core.Money{}, fmt.Errorf("amount %q must not be negative", s)
	}
	return core.Money{Value: v}, nil
}

func parsePercent(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, fmt.Errorf("percent is required")
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid percent %q", s)
	}
	if v.IsNegative() || v.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.Zero, fmt.Errorf("percent %q must be within 0-100", s)
	}
	return v, nil
}
