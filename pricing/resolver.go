/*
resolver.go - Deterministic price policy resolution

PURPOSE:
  Selects THE single applicable policy for (resource, account, as-of date).

SELECTION ALGORITHM:
  1. Collect the price groups the account holds at the facility owning the
     resource, effective at the as-of date.
  2. Keep policy rows for (resource, any held group) whose effective
     window contains the date.
  3. Prefer the row tied to the highest-priority group per the facility's
     explicit GroupPriority configuration.
  4. Among those, prefer the latest effective start date.
  5. Final tie-break: smallest policy ID, so resolution is total.

DETERMINISM:
  Re-resolving the same inputs yields the same policy as long as no new
  effective-dated row with start <= asOf has been inserted. Nothing here
  reads the clock.
*/
package pricing

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/warp/facility-engine/core"
)

// =============================================================================
// GROUP PRIORITY - Explicit per-facility ordering
// =============================================================================

// GroupPriority holds the per-facility ordered list of price groups, most
// specific first. The ordering is administrative configuration; groups
// missing from the list rank after all listed ones.
type GroupPriority struct {
	order map[core.FacilityID][]core.PriceGroupID
}

func NewGroupPriority() *GroupPriority {
	return &GroupPriority{order: make(map[core.FacilityID][]core.PriceGroupID)}
}

// Set replaces the ordering for one facility.
func (gp *GroupPriority) Set(facility core.FacilityID, groups ...core.PriceGroupID) {
	gp.order[facility] = append([]core.PriceGroupID(nil), groups...)
}

// Rank returns the position of group in the facility's ordering; unlisted
// groups share the lowest priority.
func (gp *GroupPriority) Rank(facility core.FacilityID, group core.PriceGroupID) int {
	for i, g := range gp.order[facility] {
		if g == group {
			return i
		}
	}
	return len(gp.order[facility])
}

// =============================================================================
// MEMBERSHIP SOURCE
// =============================================================================

// MembershipSource supplies the price groups an account holds. Backed by
// the identity/authorization collaborator; the catalog store adapter is
// the default.
type MembershipSource interface {
	GroupsFor(ctx context.Context, account core.AccountID, facility core.FacilityID, asOf time.Time) ([]core.PriceGroupID, error)
}

// CatalogMemberships adapts core.CatalogStore to MembershipSource.
type CatalogMemberships struct {
	Catalog core.CatalogStore
}

func (cm CatalogMemberships) GroupsFor(ctx context.Context, account core.AccountID, facility core.FacilityID, asOf time.Time) ([]core.PriceGroupID, error) {
	memberships, err := cm.Catalog.MembershipsFor(ctx, account, facility)
	if err != nil {
		return nil, err
	}
	var groups []core.PriceGroupID
	for _, m := range memberships {
		if m.ActiveAt(asOf) {
			groups = append(groups, m.PriceGroupID)
		}
	}
	return groups, nil
}

// =============================================================================
// RESOLVER
// =============================================================================

type Resolver struct {
	Policies   PolicyStore
	Membership MembershipSource
	Catalog    core.CatalogStore
	Priority   *GroupPriority
}

// Resolve returns the single applicable policy or ErrNoPolicyFound.
func (r *Resolver) Resolve(ctx context.Context, resource core.ResourceID, account core.AccountID, asOf time.Time) (*PricePolicy, error) {
	res, err := r.Catalog.GetResource(ctx, resource)
	if err != nil {
		return nil, fmt.Errorf("resolve policy: %w", err)
	}

	groups, err := r.Membership.GroupsFor(ctx, account, res.FacilityID, asOf)
	if err != nil {
		return nil, fmt.Errorf("resolve policy: %w", err)
	}
	held := make(map[core.PriceGroupID]bool, len(groups))
	for _, g := range groups {
		held[g] = true
	}

	rows, err := r.Policies.PoliciesFor(ctx, resource)
	if err != nil {
		return nil, fmt.Errorf("resolve policy: %w", err)
	}

	var candidates []PricePolicy
	for _, p := range rows {
		if held[p.PriceGroupID] && p.EffectiveAt(asOf) {
			candidates = append(candidates, p)
		}
	}
	if len(candidates) == 0 {
		return nil, &core.NoPolicyError{ResourceID: resource, AccountID: account, AsOf: asOf}
	}

	sort.Slice(candidates, func(i, j int) bool {
		ri := r.Priority.Rank(res.FacilityID, candidates[i].PriceGroupID)
		rj := r.Priority.Rank(res.FacilityID, candidates[j].PriceGroupID)
		if ri != rj {
			return ri < rj
		}
		if !candidates[i].EffectiveFrom.Equal(candidates[j].EffectiveFrom) {
			return candidates[i].EffectiveFrom.After(candidates[j].EffectiveFrom)
		}
		return candidates[i].ID < candidates[j].ID
	})

	best := candidates[0]
	return &best, nil
}
