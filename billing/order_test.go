package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/facility-engine/billing"
	"github.com/warp/facility-engine/core"
	"github.com/warp/facility-engine/pricing"
	"github.com/warp/facility-engine/store/memory"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const (
	testFacility = core.FacilityID("lab-main")
	testConfocal = core.ResourceID("confocal-1")
	testReagent  = core.ResourceID("reagent-kit")
	testAccount  = core.AccountID("chen-lab")

	groupInternal = core.PriceGroupID("internal")
)

var (
	epoch     = time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)
	usageDate = time.Date(2026, time.March, 10, 9, 0, 0, 0, time.UTC)
)

// newTestService provisions a catalog with an hourly confocal policy and
// a flat-unit reagent policy for the internal group.
func newTestService(t *testing.T) (*billing.Service, *memory.Store) {
	store := memory.New()
	ctx := context.Background()

	require.NoError(t, store.SaveResource(ctx, core.Resource{
		ID: testConfocal, FacilityID: testFacility, Kind: core.KindInstrument,
	}))
	require.NoError(t, store.SaveResource(ctx, core.Resource{
		ID: testReagent, FacilityID: testFacility, Kind: core.KindItem,
	}))
	require.NoError(t, store.SaveAccount(ctx, core.Account{ID: testAccount, Name: "Chen Lab"}))
	require.NoError(t, store.SaveMembership(ctx, core.Membership{
		AccountID: testAccount, FacilityID: testFacility, PriceGroupID: groupInternal, From: epoch,
	}))
	require.NoError(t, store.SavePolicy(ctx, pricing.PricePolicy{
		ID:            "confocal-internal",
		ResourceID:    testConfocal,
		PriceGroupID:  groupInternal,
		EffectiveFrom: epoch,
		Rate:          pricing.RateTable{Kind: pricing.RateHourly, HourlyRate: core.MustParseMoney("10")},
		Subsidy:       pricing.Subsidy{Mode: pricing.SubsidyPercent, Percent: decimal.NewFromInt(50)},
		Cancellation:  pricing.CancellationRule{Mode: pricing.CancelFlatFee, Flat: core.MustParseMoney("35")},
	}))
	require.NoError(t, store.SavePolicy(ctx, pricing.PricePolicy{
		ID:            "reagent-internal",
		ResourceID:    testReagent,
		PriceGroupID:  groupInternal,
		EffectiveFrom: epoch,
		Rate:          pricing.RateTable{Kind: pricing.RateFlatUnit, UnitPrice: core.MustParseMoney("18")},
	}))

	priority := pricing.NewGroupPriority()
	priority.Set(testFacility, groupInternal)
	resolver := &pricing.Resolver{
		Policies:   store,
		Membership: pricing.CatalogMemberships{Catalog: store},
		Catalog:    store,
		Priority:   priority,
	}
	calc := &pricing.Calculator{Usage: store}

	svc := billing.NewService(store, resolver, calc)
	svc.Clock = func() time.Time { return usageDate }
	return svc, store
}

func openReservationDetail(t *testing.T, svc *billing.Service, store *memory.Store) core.OrderDetailID {
	t.Helper()
	ctx := context.Background()
	resource, err := store.GetResource(ctx, testConfocal)
	require.NoError(t, err)
	id, err := svc.OpenDetailForReservation(ctx, resource, testAccount, core.ReservationID(core.NewID()))
	require.NoError(t, err)
	return id
}

// =============================================================================
// LIFECYCLE TESTS
// =============================================================================

func TestService_ReservationDetail_StartsInProcess(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	id := openReservationDetail(t, svc, store)
	d, err := store.GetDetail(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, billing.DetailInProcess, d.Status)
	assert.Equal(t, testConfocal, d.ResourceID)
	assert.NotEmpty(t, d.ReservationID)
	assert.Nil(t, d.Cost)
}

func TestService_Complete_FreezesPolicyAndCost(t *testing.T) {
	// GIVEN: An in-process detail and an hourly $10 policy with 50% subsidy
	// WHEN: Completing with 2 hours of usage
	// THEN: Cost and policy ID freeze on the detail

	svc, store := newTestService(t)
	ctx := context.Background()
	id := openReservationDetail(t, svc, store)

	d, err := svc.Complete(ctx, id, pricing.DurationUsage(2*time.Hour), usageDate)
	require.NoError(t, err)

	assert.Equal(t, billing.DetailComplete, d.Status)
	assert.Equal(t, core.PolicyID("confocal-internal"), d.PolicyID)
	assert.Equal(t, billing.CostUsage, d.CostKind)
	require.NotNil(t, d.Cost)
	assert.Equal(t, int64(1000), d.Cost.Net.ToCents())
	assert.True(t, d.BilledUnits.Equal(decimal.NewFromInt(120)))
	assert.Equal(t, usageDate, d.UsageAt)
}

func TestService_FrozenCost_ImmuneToLaterPolicyChange(t *testing.T) {
	// GIVEN: A detail completed under the $10/hour policy
	// WHEN: A superseding policy with a different rate lands afterwards
	// THEN: The frozen cost is untouched

	svc, store := newTestService(t)
	ctx := context.Background()
	id := openReservationDetail(t, svc, store)

	_, err := svc.Complete(ctx, id, pricing.DurationUsage(2*time.Hour), usageDate)
	require.NoError(t, err)

	require.NoError(t, store.SavePolicy(ctx, pricing.PricePolicy{
		ID:            "confocal-internal-v2",
		ResourceID:    testConfocal,
		PriceGroupID:  groupInternal,
		EffectiveFrom: epoch.AddDate(0, 1, 0),
		Rate:          pricing.RateTable{Kind: pricing.RateHourly, HourlyRate: core.MustParseMoney("99")},
	}))

	d, err := store.GetDetail(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, core.PolicyID("confocal-internal"), d.PolicyID)
	assert.Equal(t, int64(1000), d.Cost.Net.ToCents())
}

func TestService_Complete_RequiresInProcess(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	id := openReservationDetail(t, svc, store)

	_, err := svc.Complete(ctx, id, pricing.DurationUsage(time.Hour), usageDate)
	require.NoError(t, err)

	_, err = svc.Complete(ctx, id, pricing.DurationUsage(time.Hour), usageDate)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

func TestService_Complete_NoPolicy_Blocks(t *testing.T) {
	// A detail without a resolvable policy must not complete silently.
	svc, store := newTestService(t)
	ctx := context.Background()

	require.NoError(t, store.SaveResource(ctx, core.Resource{
		ID: "unpriced", FacilityID: testFacility, Kind: core.KindInstrument,
	}))
	resource, err := store.GetResource(ctx, "unpriced")
	require.NoError(t, err)
	id, err := svc.OpenDetailForReservation(ctx, resource, testAccount, core.ReservationID(core.NewID()))
	require.NoError(t, err)

	_, err = svc.Complete(ctx, id, pricing.DurationUsage(time.Hour), usageDate)
	assert.ErrorIs(t, err, core.ErrNoPolicyFound)

	d, err := store.GetDetail(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, billing.DetailInProcess, d.Status, "failed completion leaves the detail untouched")
}

// =============================================================================
// CANCELLATION TESTS
// =============================================================================

func TestService_Cancel_NotFeeLiable_EndsCancelled(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	id := openReservationDetail(t, svc, store)

	d, err := svc.Cancel(ctx, id, false, pricing.DurationUsage(2*time.Hour), usageDate)
	require.NoError(t, err)

	assert.Equal(t, billing.DetailCancelled, d.Status)
	assert.Nil(t, d.Cost)
	assert.False(t, d.Journalable())
}

func TestService_Cancel_FeeLiable_CompletesWithCancellationFee(t *testing.T) {
	// GIVEN: A fee-liable cancellation under a $35 flat-fee policy
	// THEN: The detail completes with the fee as its frozen cost, so the
	//       fee reaches the journal

	svc, store := newTestService(t)
	ctx := context.Background()
	id := openReservationDetail(t, svc, store)

	d, err := svc.Cancel(ctx, id, true, pricing.DurationUsage(2*time.Hour), usageDate)
	require.NoError(t, err)

	assert.Equal(t, billing.DetailComplete, d.Status)
	assert.Equal(t, billing.CostCancellationFee, d.CostKind)
	require.NotNil(t, d.Cost)
	assert.Equal(t, int64(3500), d.Cost.Net.ToCents())
	assert.True(t, d.Journalable())
}

func TestService_Cancel_FeeLiableButNoFeeConfigured_EndsCancelled(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	// The reagent policy has no cancellation rule.
	resource, err := store.GetResource(ctx, testReagent)
	require.NoError(t, err)
	d, err := svc.OpenItemDetail(ctx, resource, testAccount, decimal.NewFromInt(2))
	require.NoError(t, err)

	got, err := svc.Cancel(ctx, d.ID, true, pricing.QuantityUsage(decimal.NewFromInt(2)), usageDate)
	require.NoError(t, err)
	assert.Equal(t, billing.DetailCancelled, got.Status)
	assert.Nil(t, got.Cost)
}

func TestService_Cancel_TerminalDetail_Rejected(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	id := openReservationDetail(t, svc, store)

	_, err := svc.Cancel(ctx, id, false, pricing.DurationUsage(time.Hour), usageDate)
	require.NoError(t, err)

	_, err = svc.Cancel(ctx, id, false, pricing.DurationUsage(time.Hour), usageDate)
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

// =============================================================================
// PROBLEM REVIEW TESTS
// =============================================================================

func TestService_ProblemAndResolve_RoundTrip(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	id := openReservationDetail(t, svc, store)

	d, err := svc.MarkProblem(ctx, id, "disputed by PI")
	require.NoError(t, err)
	assert.Equal(t, billing.DetailProblem, d.Status)
	assert.Equal(t, "disputed by PI", d.ProblemNote)
	assert.False(t, d.Journalable())

	d, err = svc.ResolveProblem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, billing.DetailInProcess, d.Status)
	assert.Empty(t, d.ProblemNote)

	// A resolved detail can complete normally.
	_, err = svc.Complete(ctx, id, pricing.DurationUsage(time.Hour), usageDate)
	assert.NoError(t, err)
}

func TestService_MarkProblem_DoubleProblem_Rejected(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	id := openReservationDetail(t, svc, store)

	_, err := svc.MarkProblem(ctx, id, "first")
	require.NoError(t, err)
	_, err = svc.MarkProblem(ctx, id, "second")
	assert.ErrorIs(t, err, core.ErrInvalidTransition)
}

// =============================================================================
// ITEM DETAIL TESTS - Quantity-rated line items
// =============================================================================

func TestService_OpenItemDetail_Lifecycle(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	resource, err := store.GetResource(ctx, testReagent)
	require.NoError(t, err)

	d, err := svc.OpenItemDetail(ctx, resource, testAccount, decimal.NewFromInt(3))
	require.NoError(t, err)
	assert.Equal(t, billing.DetailNew, d.Status)

	d, err = svc.Start(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.DetailInProcess, d.Status)

	d, err = svc.Complete(ctx, d.ID, pricing.QuantityUsage(decimal.NewFromInt(3)), usageDate)
	require.NoError(t, err)
	assert.Equal(t, int64(5400), d.Cost.Net.ToCents())
	assert.True(t, d.BilledUnits.Equal(decimal.NewFromInt(3)))
}

func TestService_OpenItemDetail_RejectsSchedulableResources(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	resource, err := store.GetResource(ctx, testConfocal)
	require.NoError(t, err)

	_, err = svc.OpenItemDetail(ctx, resource, testAccount, decimal.NewFromInt(1))
	assert.Error(t, err, "instruments require a reservation")
}

// =============================================================================
// CAP ENFORCEMENT THROUGH COMPLETION
// =============================================================================

func TestService_Complete_CapRejectSurfaces(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	require.NoError(t, store.SaveResource(ctx, core.Resource{
		ID: "capped", FacilityID: testFacility, Kind: core.KindInstrument,
	}))
	require.NoError(t, store.SavePolicy(ctx, pricing.PricePolicy{
		ID:            "capped-internal",
		ResourceID:    "capped",
		PriceGroupID:  groupInternal,
		EffectiveFrom: epoch,
		Rate:          pricing.RateTable{Kind: pricing.RateHourly, HourlyRate: core.MustParseMoney("10")},
		Cap:           pricing.UsageCap{Mode: pricing.CapReject, Units: decimal.NewFromInt(90)},
	}))
	resource, err := store.GetResource(ctx, "capped")
	require.NoError(t, err)

	first, err := svc.OpenDetailForReservation(ctx, resource, testAccount, core.ReservationID(core.NewID()))
	require.NoError(t, err)
	_, err = svc.Complete(ctx, first, pricing.DurationUsage(time.Hour), usageDate)
	require.NoError(t, err)

	// 60 committed + 60 attempted > 90.
	second, err := svc.OpenDetailForReservation(ctx, resource, testAccount, core.ReservationID(core.NewID()))
	require.NoError(t, err)
	_, err = svc.Complete(ctx, second, pricing.DurationUsage(time.Hour), usageDate)
	assert.ErrorIs(t, err, core.ErrCapExceeded)
}
