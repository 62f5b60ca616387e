/*
Package memory provides an in-memory implementation of every store
interface, used by tests and the dev server.

PURPOSE:
  One Store struct implements core.CatalogStore, schedule.RuleStore,
  booking.ReservationStore, billing.OrderStore, billing.JournalStore and
  billing.StatementStore behind a single RWMutex. The claim operations
  (journal claim, statement creation) are atomic under the write lock,
  which is exactly the contract the SQL store provides with conditional
  UPDATEs.

SEE ALSO:
  - store/sqlite: the production implementation
*/
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/facility-engine/billing"
	"github.com/warp/facility-engine/booking"
	"github.com/warp/facility-engine/core"
	"github.com/warp/facility-engine/pricing"
	"github.com/warp/facility-engine/schedule"
)

type Store struct {
	mu sync.RWMutex

	resources   map[core.ResourceID]core.Resource
	accounts    map[core.AccountID]core.Account
	groups      map[core.PriceGroupID]core.PriceGroup
	memberships []core.Membership

	rules      map[core.ResourceID][]schedule.ScheduleRule
	exceptions map[core.ResourceID][]schedule.ScheduleException

	reservations map[core.ReservationID]booking.Reservation

	policies map[core.PolicyID]pricing.PricePolicy

	orders  map[core.OrderID]billing.Order
	details map[core.OrderDetailID]billing.OrderDetail

	journal    map[core.JournalRowID]billing.JournalRow
	statements map[core.StatementID]billing.Statement
}

func New() *Store {
	return &Store{
		resources:    make(map[core.ResourceID]core.Resource),
		accounts:     make(map[core.AccountID]core.Account),
		groups:       make(map[core.PriceGroupID]core.PriceGroup),
		rules:        make(map[core.ResourceID][]schedule.ScheduleRule),
		exceptions:   make(map[core.ResourceID][]schedule.ScheduleException),
		reservations: make(map[core.ReservationID]booking.Reservation),
		policies:     make(map[core.PolicyID]pricing.PricePolicy),
		orders:       make(map[core.OrderID]billing.Order),
		details:      make(map[core.OrderDetailID]billing.OrderDetail),
		journal:      make(map[core.JournalRowID]billing.JournalRow),
		statements:   make(map[core.StatementID]billing.Statement),
	}
}

// =============================================================================
// CATALOG (core.CatalogStore)
// =============================================================================

func (s *Store) SaveResource(_ context.Context, r core.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[r.ID] = r
	return nil
}

func (s *Store) GetResource(_ context.Context, id core.ResourceID) (*core.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.resources[id]
	if !ok {
		return nil, fmt.Errorf("resource %s: %w", id, core.ErrNotFound)
	}
	return &r, nil
}

func (s *Store) ListResources(_ context.Context, facility core.FacilityID) ([]core.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Resource
	for _, r := range s.resources {
		if facility == "" || r.FacilityID == facility {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SaveAccount(_ context.Context, a core.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
	return nil
}

func (s *Store) GetAccount(_ context.Context, id core.AccountID) (*core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, core.ErrNotFound)
	}
	return &a, nil
}

func (s *Store) ListAccounts(_ context.Context) ([]core.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SavePriceGroup(_ context.Context, g core.PriceGroup) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.ID] = g
	return nil
}

func (s *Store) ListPriceGroups(_ context.Context, facility core.FacilityID) ([]core.PriceGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.PriceGroup
	for _, g := range s.groups {
		if facility == "" || g.FacilityID == facility {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) SaveMembership(_ context.Context, m core.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships = append(s.memberships, m)
	return nil
}

func (s *Store) MembershipsFor(_ context.Context, account core.AccountID, facility core.FacilityID) ([]core.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Membership
	for _, m := range s.memberships {
		if m.AccountID == account && m.FacilityID == facility {
			out = append(out, m)
		}
	}
	return out, nil
}

// =============================================================================
// SCHEDULE (schedule.RuleStore)
// =============================================================================

func (s *Store) SaveRule(_ context.Context, r schedule.ScheduleRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[r.ResourceID] = append(s.rules[r.ResourceID], r)
	return nil
}

func (s *Store) RulesFor(_ context.Context, resource core.ResourceID) ([]schedule.ScheduleRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]schedule.ScheduleRule(nil), s.rules[resource]...), nil
}

func (s *Store) SaveException(_ context.Context, e schedule.ScheduleException) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.exceptions[e.ResourceID] = append(s.exceptions[e.ResourceID], e)
	return nil
}

func (s *Store) ExceptionsFor(_ context.Context, resource core.ResourceID, within core.Interval) ([]schedule.ScheduleException, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []schedule.ScheduleException
	for _, e := range s.exceptions[resource] {
		if e.Window.Overlaps(within) {
			out = append(out, e)
		}
	}
	return out, nil
}

// =============================================================================
// RESERVATIONS (booking.ReservationStore)
// =============================================================================

func (s *Store) SaveReservation(_ context.Context, r booking.Reservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reservations[r.ID] = r
	return nil
}

func (s *Store) GetReservation(_ context.Context, id core.ReservationID) (*booking.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.reservations[id]
	if !ok {
		return nil, fmt.Errorf("reservation %s: %w", id, core.ErrNotFound)
	}
	return &r, nil
}

func (s *Store) ActiveOverlapping(_ context.Context, resource core.ResourceID, iv core.Interval) ([]booking.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []booking.Reservation
	for _, r := range s.reservations {
		if r.ResourceID == resource && r.Status.Active() && r.Requested.Overlaps(iv) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Requested.Start.Before(out[j].Requested.Start) })
	return out, nil
}

func (s *Store) CountActiveForAccount(_ context.Context, resource core.ResourceID, account core.AccountID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.reservations {
		if r.ResourceID == resource && r.AccountID == account && r.Status.Active() {
			n++
		}
	}
	return n, nil
}

func (s *Store) ListReservations(_ context.Context, resource core.ResourceID) ([]booking.Reservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []booking.Reservation
	for _, r := range s.reservations {
		if resource == "" || r.ResourceID == resource {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Requested.Start.Before(out[j].Requested.Start) })
	return out, nil
}

// =============================================================================
// POLICIES (pricing.PolicyStore)
// =============================================================================

func (s *Store) SavePolicy(_ context.Context, p pricing.PricePolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policies[p.ID] = p
	return nil
}

func (s *Store) GetPolicy(_ context.Context, id core.PolicyID) (*pricing.PricePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.policies[id]
	if !ok {
		return nil, fmt.Errorf("policy %s: %w", id, core.ErrNotFound)
	}
	return &p, nil
}

func (s *Store) PoliciesFor(_ context.Context, resource core.ResourceID) ([]pricing.PricePolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []pricing.PricePolicy
	for _, p := range s.policies {
		if p.ResourceID == resource {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// =============================================================================
// ORDERS (billing.OrderStore)
// =============================================================================

func (s *Store) SaveOrder(_ context.Context, o billing.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
	return nil
}

func (s *Store) GetOrder(_ context.Context, id core.OrderID) (*billing.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, core.ErrNotFound)
	}
	return &o, nil
}

func (s *Store) SaveDetail(_ context.Context, d billing.OrderDetail) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.details[d.ID] = d
	return nil
}

func (s *Store) GetDetail(_ context.Context, id core.OrderDetailID) (*billing.OrderDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.details[id]
	if !ok {
		return nil, fmt.Errorf("order detail %s: %w", id, core.ErrNotFound)
	}
	return &d, nil
}

func (s *Store) ListDetailsByAccount(_ context.Context, account core.AccountID) ([]billing.OrderDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []billing.OrderDetail
	for _, d := range s.details {
		if d.AccountID == account {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CommittedUnits(_ context.Context, account core.AccountID, policy core.PolicyID, period core.Period) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, d := range s.details {
		if d.AccountID == account && d.PolicyID == policy &&
			d.Status == billing.DetailComplete && d.CostKind == billing.CostUsage &&
			period.Contains(d.UsageAt) {
			total = total.Add(d.BilledUnits)
		}
	}
	return total, nil
}

func (s *Store) ClaimForJournal(_ context.Context, account core.AccountID, asOf time.Time, batchID string) ([]billing.OrderDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var claimed []billing.OrderDetail
	for id, d := range s.details {
		if d.AccountID != account || d.Status != billing.DetailComplete || d.UsageAt.After(asOf) {
			continue
		}
		switch {
		case d.JournalBatchID == "":
			d.JournalBatchID = batchID
			s.details[id] = d
			claimed = append(claimed, d)
		case d.JournalBatchID == batchID:
			// Re-entrant retry of the same batch.
			claimed = append(claimed, d)
		case !s.liveRowExistsLocked(id):
			// Claimed by a batch that died before appending its row.
			d.JournalBatchID = batchID
			s.details[id] = d
			claimed = append(claimed, d)
		}
	}
	sort.Slice(claimed, func(i, j int) bool { return claimed[i].CreatedAt.Before(claimed[j].CreatedAt) })
	return claimed, nil
}

func (s *Store) liveRowExistsLocked(detail core.OrderDetailID) bool {
	for _, r := range s.journal {
		if r.OrderDetailID == detail && !r.Voided && !r.Reversing() {
			return true
		}
	}
	return false
}

// =============================================================================
// JOURNAL (billing.JournalStore)
// =============================================================================

func (s *Store) AppendRow(_ context.Context, r billing.JournalRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !r.Reversing() {
		for _, existing := range s.journal {
			if existing.OrderDetailID == r.OrderDetailID && !existing.Voided && !existing.Reversing() {
				return fmt.Errorf("detail %s: %w", r.OrderDetailID, core.ErrAlreadyJournaled)
			}
		}
	}
	s.journal[r.ID] = r
	return nil
}

func (s *Store) GetRow(_ context.Context, id core.JournalRowID) (*billing.JournalRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.journal[id]
	if !ok {
		return nil, fmt.Errorf("journal row %s: %w", id, core.ErrNotFound)
	}
	return &r, nil
}

func (s *Store) RowForDetail(_ context.Context, detail core.OrderDetailID) (*billing.JournalRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.journal {
		if r.OrderDetailID == detail && !r.Voided && !r.Reversing() {
			row := r
			return &row, nil
		}
	}
	return nil, nil
}

func (s *Store) VoidRow(_ context.Context, id core.JournalRowID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.journal[id]
	if !ok {
		return fmt.Errorf("journal row %s: %w", id, core.ErrNotFound)
	}
	r.Voided = true
	r.VoidedAt = &at
	s.journal[id] = r
	return nil
}

func (s *Store) UnassignedRows(_ context.Context, account core.AccountID, period core.Period) ([]billing.JournalRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []billing.JournalRow
	for _, r := range s.journal {
		if r.AccountID == account && !r.Voided && r.StatementID == "" && period.Contains(r.JournalDate) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) ListRows(_ context.Context, account core.AccountID) ([]billing.JournalRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []billing.JournalRow
	for _, r := range s.journal {
		if r.AccountID == account {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// =============================================================================
// STATEMENTS (billing.StatementStore)
// =============================================================================

func (s *Store) CreateStatement(_ context.Context, st billing.Statement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.statements {
		if existing.AccountID == st.AccountID && existing.Period == st.Period {
			return fmt.Errorf("account %s period %s: %w", st.AccountID, st.Period, core.ErrStatementClosed)
		}
	}
	// Stamp member rows in the same atomic step.
	for _, rowID := range st.RowIDs {
		r, ok := s.journal[rowID]
		if !ok {
			return fmt.Errorf("journal row %s: %w", rowID, core.ErrNotFound)
		}
		r.StatementID = st.ID
		s.journal[rowID] = r
	}
	s.statements[st.ID] = st
	return nil
}

func (s *Store) GetStatement(_ context.Context, id core.StatementID) (*billing.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.statements[id]
	if !ok {
		return nil, fmt.Errorf("statement %s: %w", id, core.ErrNotFound)
	}
	return &st, nil
}

func (s *Store) GetStatementForPeriod(_ context.Context, account core.AccountID, period core.Period) (*billing.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.statements {
		if st.AccountID == account && st.Period == period {
			out := st
			return &out, nil
		}
	}
	return nil, nil
}

func (s *Store) ListStatements(_ context.Context, account core.AccountID) ([]billing.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []billing.Statement
	for _, st := range s.statements {
		if st.AccountID == account {
			out = append(out, st)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
