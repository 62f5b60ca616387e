/*
store.go - Catalog persistence interface

PURPOSE:
  Defines persistence for the reference data the engine consumes from its
  administrative collaborators: resources, accounts, price groups, and
  price-group memberships. The engine reads this catalog; creating and
  editing it is the CRUD layer's concern.

INTERFACE PLACEMENT:
  Each subsystem owns the store interface for the records it owns:
    core.CatalogStore       - reference data (this file)
    schedule.RuleStore      - schedule rules and exceptions
    booking.ReservationStore - reservations
    pricing.PolicyStore     - price policies
    billing.OrderStore / JournalStore / StatementStore

IMPLEMENTATIONS:
  - store/sqlite: production store (all interfaces)
  - store/memory: in-memory store for tests
*/
package core

import "context"

// CatalogStore persists the reference data supplied by administrative
// collaborators. Lookups return ErrNotFound-wrapped errors for missing IDs.
type CatalogStore interface {
	SaveResource(ctx context.Context, r Resource) error
	GetResource(ctx context.Context, id ResourceID) (*Resource, error)
	ListResources(ctx context.Context, facility FacilityID) ([]Resource, error)

	SaveAccount(ctx context.Context, a Account) error
	GetAccount(ctx context.Context, id AccountID) (*Account, error)
	ListAccounts(ctx context.Context) ([]Account, error)

	SavePriceGroup(ctx context.Context, g PriceGroup) error
	ListPriceGroups(ctx context.Context, facility FacilityID) ([]PriceGroup, error)

	SaveMembership(ctx context.Context, m Membership) error

	// MembershipsFor returns the memberships held by an account within a
	// facility, in no particular order. Effective-date filtering is the
	// caller's job (pricing resolves as-of a date).
	MembershipsFor(ctx context.Context, account AccountID, facility FacilityID) ([]Membership, error)
}
