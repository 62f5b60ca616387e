/*
seed.go - demo catalog provisioning

PURPOSE:
  Provisions a small but complete demo facility: two schedulable
  instruments, a consumable, price groups with an explicit priority
  ordering, weekday schedule rules, and policies built through the JSON
  factory. Used by the dev server and the API tests.
*/
package factory

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/facility-engine/core"
	"github.com/warp/facility-engine/pricing"
	"github.com/warp/facility-engine/schedule"
)

// Demo identifiers, stable so curl examples work against a seeded server.
const (
	DemoFacility  = core.FacilityID("lab-main")
	DemoConfocal  = core.ResourceID("confocal-1")
	DemoSequencer = core.ResourceID("sequencer-1")
	DemoReagent   = core.ResourceID("reagent-kit")

	DemoGroupInternal   = core.PriceGroupID("internal")
	DemoGroupAcademic   = core.PriceGroupID("academic")
	DemoGroupCommercial = core.PriceGroupID("commercial")

	DemoAccountLab  = core.AccountID("chen-lab")
	DemoAccountBio  = core.AccountID("biotech-co")
)

// SeedStores is what Seed needs to write.
type SeedStores struct {
	Catalog  core.CatalogStore
	Rules    schedule.RuleStore
	Policies pricing.PolicyStore
	Priority *pricing.GroupPriority
}

// Seed provisions the demo facility. Idempotent for stores that upsert.
func Seed(ctx context.Context, st SeedStores) error {
	now := time.Now().UTC()
	epoch := time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)

	groups := []core.PriceGroup{
		{ID: DemoGroupInternal, FacilityID: DemoFacility, Name: "Internal"},
		{ID: DemoGroupAcademic, FacilityID: DemoFacility, Name: "Academic"},
		{ID: DemoGroupCommercial, FacilityID: DemoFacility, Name: "Commercial"},
	}
	for _, g := range groups {
		if err := st.Catalog.SavePriceGroup(ctx, g); err != nil {
			return fmt.Errorf("seed price group %s: %w", g.ID, err)
		}
	}
	st.Priority.Set(DemoFacility, DemoGroupInternal, DemoGroupAcademic, DemoGroupCommercial)

	resources := []core.Resource{
		{
			ID:         DemoConfocal,
			FacilityID: DemoFacility,
			Name:       "Confocal Microscope",
			Kind:       core.KindInstrument,
			Rules: core.BookingRules{
				GranularityMinutes: 15,
				MinDuration:        30 * time.Minute,
				MaxDuration:        4 * time.Hour,
				LeadTime:           time.Hour,
				CancelCutoff:       24 * time.Hour,
				MissedGrace:        15 * time.Minute,
				MaxPerAccount:      2,
			},
			CreatedAt: now,
		},
		{
			ID:         DemoSequencer,
			FacilityID: DemoFacility,
			Name:       "DNA Sequencer",
			Kind:       core.KindInstrument,
			Rules: core.BookingRules{
				GranularityMinutes: 60,
				MinDuration:        time.Hour,
				MaxDuration:        8 * time.Hour,
				CancelCutoff:       48 * time.Hour,
				MissedGrace:        30 * time.Minute,
			},
			CreatedAt: now,
		},
		{
			ID:         DemoReagent,
			FacilityID: DemoFacility,
			Name:       "Reagent Kit",
			Kind:       core.KindItem,
			CreatedAt:  now,
		},
	}
	for _, r := range resources {
		if err := st.Catalog.SaveResource(ctx, r); err != nil {
			return fmt.Errorf("seed resource %s: %w", r.ID, err)
		}
	}

	// Weekday business hours; the sequencer also runs Saturdays at
	// reduced capacity via a second rule.
	weekdays := []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}
	rules := []schedule.ScheduleRule{
		{
			ID:          "confocal-weekday",
			ResourceID:  DemoConfocal,
			Days:        weekdays,
			StartMinute: 8 * 60,
			EndMinute:   20 * 60,
			Capacity:    1,
			CreatedAt:   now,
		},
		{
			ID:          "sequencer-weekday",
			ResourceID:  DemoSequencer,
			Days:        weekdays,
			StartMinute: 0,
			EndMinute:   24 * 60,
			Capacity:    2,
			CreatedAt:   now,
		},
		{
			ID:          "sequencer-saturday",
			ResourceID:  DemoSequencer,
			Days:        []time.Weekday{time.Saturday},
			StartMinute: 9 * 60,
			EndMinute:   17 * 60,
			Capacity:    1,
			CreatedAt:   now,
		},
	}
	for _, r := range rules {
		if err := st.Rules.SaveRule(ctx, r); err != nil {
			return fmt.Errorf("seed rule %s: %w", r.ID, err)
		}
	}

	policies := []pricing.PricePolicy{
		{
			ID:            "confocal-internal",
			ResourceID:    DemoConfocal,
			PriceGroupID:  DemoGroupInternal,
			EffectiveFrom: epoch,
			Rate: pricing.RateTable{
				Kind:                    pricing.RateHourly,
				HourlyRate:              core.MustParseMoney("25"),
				ProrateIncrementMinutes: 15,
			},
			Subsidy: pricing.Subsidy{Mode: pricing.SubsidyPercent, Percent: decimal.NewFromInt(50)},
			Cap: pricing.UsageCap{
				Mode:         pricing.CapFallback,
				Units:        decimal.NewFromInt(40 * 60), // minutes per month
				FallbackRate: core.MustParseMoney("50"),
			},
			CreatedAt: now,
		},
		{
			ID:            "confocal-commercial",
			ResourceID:    DemoConfocal,
			PriceGroupID:  DemoGroupCommercial,
			EffectiveFrom: epoch,
			Rate: pricing.RateTable{
				Kind:                    pricing.RateHourly,
				HourlyRate:              core.MustParseMoney("120"),
				ProrateIncrementMinutes: 15,
			},
			Cancellation: pricing.CancellationRule{
				Mode:    pricing.CancelPercentFee,
				Percent: decimal.NewFromInt(25),
			},
			CreatedAt: now,
		},
		{
			ID:            "sequencer-internal",
			ResourceID:    DemoSequencer,
			PriceGroupID:  DemoGroupInternal,
			EffectiveFrom: epoch,
			Rate: pricing.RateTable{
				Kind: pricing.RateDurationBracket,
				Brackets: []pricing.DurationBracket{
					{UpTo: 2 * time.Hour, Price: core.MustParseMoney("150")},
					{UpTo: 4 * time.Hour, Price: core.MustParseMoney("250")},
					{UpTo: 8 * time.Hour, Price: core.MustParseMoney("400")},
				},
			},
			CreatedAt: now,
		},
		{
			ID:            "reagent-internal",
			ResourceID:    DemoReagent,
			PriceGroupID:  DemoGroupInternal,
			EffectiveFrom: epoch,
			Rate: pricing.RateTable{
				Kind: pricing.RateTieredUnit,
				Tiers: []pricing.QuantityTier{
					{UpTo: decimal.NewFromInt(10), UnitPrice: core.MustParseMoney("18")},
					{UpTo: decimal.NewFromInt(50), UnitPrice: core.MustParseMoney("15")},
				},
			},
			CreatedAt: now,
		},
	}
	for _, p := range policies {
		if err := st.Policies.SavePolicy(ctx, p); err != nil {
			return fmt.Errorf("seed policy %s: %w", p.ID, err)
		}
	}

	accounts := []core.Account{
		{ID: DemoAccountLab, Name: "Chen Lab", Owner: "a.chen", CreatedAt: now},
		{ID: DemoAccountBio, Name: "Biotech Co", Owner: "procurement@biotech.example", CreatedAt: now},
	}
	for _, a := range accounts {
		if err := st.Catalog.SaveAccount(ctx, a); err != nil {
			return fmt.Errorf("seed account %s: %w", a.ID, err)
		}
	}

	memberships := []core.Membership{
		{AccountID: DemoAccountLab, FacilityID: DemoFacility, PriceGroupID: DemoGroupInternal, From: epoch},
		{AccountID: DemoAccountBio, FacilityID: DemoFacility, PriceGroupID: DemoGroupCommercial, From: epoch},
	}
	for _, m := range memberships {
		if err := st.Catalog.SaveMembership(ctx, m); err != nil {
			return fmt.Errorf("seed membership %s: %w", m.AccountID, err)
		}
	}

	return nil
}
