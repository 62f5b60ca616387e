/*
Package billing ties purchase line items to reservations and turns
completed, priced line items into accounting rows and statements.

PURPOSE:
  Owns the Order/OrderDetail lifecycle, the journal-row builder, and the
  statement creator. The completion transition is the only place a price
  policy is resolved and a cost computed; the result is frozen onto the
  order detail and later policy changes never reprice it.

LIFECYCLE:
  New -> InProcess -> { Complete | Cancelled | Problem }

  - Complete: resolves the policy, computes the cost, freezes both
  - Cancelled: terminal; fee-liable cancellations instead complete with
    the cancellation fee as their frozen cost, so the fee is journaled
  - Problem: terminal-but-reviewable, reachable from any non-terminal
    state; requires manual resolution before journaling

CAP CONSISTENCY:
  Completion runs under a per-account lock so the calculator's read of
  cumulative committed usage and the write of the newly completed detail
  are serialized. Two concurrent completions cannot both slip under a cap.

SEE ALSO:
  - journal.go: at-most-once journal row creation and reversal
  - statement.go: per-period statement batching
*/
package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/facility-engine/core"
	"github.com/warp/facility-engine/pricing"
)

// =============================================================================
// ORDER / ORDER DETAIL
// =============================================================================

// Order is the cart-like grouping of line items for one account.
type Order struct {
	ID        core.OrderID
	AccountID core.AccountID
	CreatedAt time.Time
}

type DetailStatus string

const (
	DetailNew       DetailStatus = "new"
	DetailInProcess DetailStatus = "in_process"
	DetailComplete  DetailStatus = "complete"
	DetailCancelled DetailStatus = "cancelled"
	DetailProblem   DetailStatus = "problem"
)

// Terminal reports whether the status admits no further transitions.
// Problem is reviewable: it resolves back to InProcess, never forward.
func (s DetailStatus) Terminal() bool {
	return s == DetailComplete || s == DetailCancelled
}

// CostKind records what a frozen cost represents.
type CostKind string

const (
	CostUsage           CostKind = "usage"
	CostCancellationFee CostKind = "cancellation_fee"
)

// OrderDetail is the billable line item. Never deleted; cancellation is a
// terminal status, not removal.
type OrderDetail struct {
	ID         core.OrderDetailID
	OrderID    core.OrderID
	ResourceID core.ResourceID
	AccountID  core.AccountID
	Kind       core.ResourceKind

	// ReservationID links the 1:1 reservation for schedulable resources.
	ReservationID core.ReservationID

	// Quantity applies to quantity-rated details (items/services).
	Quantity decimal.Decimal

	Status DetailStatus

	// Frozen at completion. PolicyID records which policy priced the
	// detail; Cost never changes afterwards.
	PolicyID    core.PolicyID
	Cost        *pricing.Cost
	CostKind    CostKind
	BilledUnits decimal.Decimal
	UsageAt     time.Time // anchors the cap/billing period

	// ProblemNote explains a Problem transition for the reviewer.
	ProblemNote string

	// JournalBatchID marks the journal run that claimed this detail.
	// Empty = not yet journaled.
	JournalBatchID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Journalable reports whether a journal run may claim the detail.
func (d OrderDetail) Journalable() bool {
	return d.Status == DetailComplete && d.JournalBatchID == "" && d.Cost != nil
}

// =============================================================================
// STORES
// =============================================================================

// OrderStore persists orders and details. It also serves the pricing
// calculator's committed-usage reads (pricing.UsageReader).
type OrderStore interface {
	SaveOrder(ctx context.Context, o Order) error
	GetOrder(ctx context.Context, id core.OrderID) (*Order, error)

	SaveDetail(ctx context.Context, d OrderDetail) error
	GetDetail(ctx context.Context, id core.OrderDetailID) (*OrderDetail, error)
	ListDetailsByAccount(ctx context.Context, account core.AccountID) ([]OrderDetail, error)

	// CommittedUnits sums BilledUnits of Complete usage-cost details for
	// the account+policy whose UsageAt falls in the period. In-flight
	// details never count.
	CommittedUnits(ctx context.Context, account core.AccountID, policy core.PolicyID, period core.Period) (decimal.Decimal, error)

	// ClaimForJournal atomically selects Complete details for the account
	// with UsageAt <= asOf and stamps them with batchID. Eligible details
	// are those not yet stamped, those already stamped with batchID
	// (re-entrant retry), and those stamped by a batch that never
	// produced a live journal row (the claiming run failed). A detail
	// with a live row is never returned.
	ClaimForJournal(ctx context.Context, account core.AccountID, asOf time.Time, batchID string) ([]OrderDetail, error)
}

// =============================================================================
// SERVICE - Order detail lifecycle
// =============================================================================

type Service struct {
	Orders     OrderStore
	Resolver   *pricing.Resolver
	Calculator *pricing.Calculator

	// AccountLocks serializes completion per account for cap consistency.
	AccountLocks *core.LockRegistry

	// Clock is injectable for tests; nil means time.Now.
	Clock func() time.Time
}

func NewService(orders OrderStore, resolver *pricing.Resolver, calc *pricing.Calculator) *Service {
	return &Service{
		Orders:       orders,
		Resolver:     resolver,
		Calculator:   calc,
		AccountLocks: core.NewLockRegistry(),
	}
}

func (s *Service) now() time.Time {
	if s.Clock != nil {
		return s.Clock().UTC()
	}
	return time.Now().UTC()
}

// OpenDetailForReservation creates the order and line item owned by a new
// reservation. Called by the booking scheduler inside its commit; the
// detail starts InProcess because the reservation is already confirmed.
func (s *Service) OpenDetailForReservation(ctx context.Context, resource *core.Resource, account core.AccountID, reservationID core.ReservationID) (core.OrderDetailID, error) {
	now := s.now()
	order := Order{ID: core.OrderID(core.NewID()), AccountID: account, CreatedAt: now}
	if err := s.Orders.SaveOrder(ctx, order); err != nil {
		return "", err
	}

	detail := OrderDetail{
		ID:            core.OrderDetailID(core.NewID()),
		OrderID:       order.ID,
		ResourceID:    resource.ID,
		AccountID:     account,
		Kind:          resource.Kind,
		ReservationID: reservationID,
		Status:        DetailInProcess,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.Orders.SaveDetail(ctx, detail); err != nil {
		return "", err
	}
	return detail.ID, nil
}

// OpenItemDetail creates a quantity-rated line item (items/services, no
// reservation). It starts New and moves to InProcess when fulfillment
// begins.
func (s *Service) OpenItemDetail(ctx context.Context, resource *core.Resource, account core.AccountID, quantity decimal.Decimal) (*OrderDetail, error) {
	if resource.Kind.Schedulable() {
		return nil, fmt.Errorf("resource %s requires a reservation", resource.ID)
	}
	now := s.now()
	order := Order{ID: core.OrderID(core.NewID()), AccountID: account, CreatedAt: now}
	if err := s.Orders.SaveOrder(ctx, order); err != nil {
		return nil, err
	}
	detail := OrderDetail{
		ID:         core.OrderDetailID(core.NewID()),
		OrderID:    order.ID,
		ResourceID: resource.ID,
		AccountID:  account,
		Kind:       resource.Kind,
		Quantity:   quantity,
		Status:     DetailNew,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.Orders.SaveDetail(ctx, detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// Start moves a New detail to InProcess.
func (s *Service) Start(ctx context.Context, id core.OrderDetailID) (*OrderDetail, error) {
	d, err := s.Orders.GetDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != DetailNew {
		return nil, &core.TransitionError{Entity: "order detail", From: string(d.Status), To: string(DetailInProcess)}
	}
	d.Status = DetailInProcess
	d.UpdatedAt = s.now()
	if err := s.Orders.SaveDetail(ctx, *d); err != nil {
		return nil, err
	}
	return d, nil
}

// Complete is the InProcess -> Complete transition: resolve the policy as
// of the usage date, compute the cost, freeze both. usageAt anchors both
// policy resolution and the cap period; for reservations it is the actual
// usage start.
func (s *Service) Complete(ctx context.Context, id core.OrderDetailID, usage pricing.Usage, usageAt time.Time) (*OrderDetail, error) {
	d, err := s.Orders.GetDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != DetailInProcess {
		return nil, &core.TransitionError{Entity: "order detail", From: string(d.Status), To: string(DetailComplete)}
	}

	// Cap reads and the completing write serialize per account.
	release, err := s.AccountLocks.Acquire(ctx, string(d.AccountID))
	if err != nil {
		return nil, err
	}
	defer release()

	policy, err := s.Resolver.Resolve(ctx, d.ResourceID, d.AccountID, usageAt)
	if err != nil {
		return nil, err
	}

	cost, err := s.Calculator.Compute(ctx, policy, d.AccountID, usage, usageAt)
	if err != nil {
		return nil, err
	}

	d.Status = DetailComplete
	d.PolicyID = policy.ID
	d.Cost = &cost
	d.CostKind = CostUsage
	d.BilledUnits = usage.BilledUnits(time.Duration(policy.Rate.ProrateIncrementMinutes) * time.Minute)
	d.UsageAt = usageAt.UTC()
	d.UpdatedAt = s.now()

	if err := s.Orders.SaveDetail(ctx, *d); err != nil {
		return nil, err
	}
	return d, nil
}

// Cancel terminates a detail whose reservation was cancelled. A fee-liable
// cancellation with a nonzero configured fee completes the detail with the
// fee as its frozen cost so it reaches the journal; otherwise the detail
// ends Cancelled and is never billed. planned is what the reservation
// would have consumed.
func (s *Service) Cancel(ctx context.Context, id core.OrderDetailID, feeLiable bool, planned pricing.Usage, usageAt time.Time) (*OrderDetail, error) {
	d, err := s.Orders.GetDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status.Terminal() {
		return nil, &core.TransitionError{Entity: "order detail", From: string(d.Status), To: string(DetailCancelled)}
	}

	if feeLiable {
		policy, err := s.Resolver.Resolve(ctx, d.ResourceID, d.AccountID, usageAt)
		if err != nil {
			return nil, err
		}
		fee := s.Calculator.ComputeCancellationFee(policy, planned)
		if fee.Net.IsPositive() {
			d.Status = DetailComplete
			d.PolicyID = policy.ID
			d.Cost = &fee
			d.CostKind = CostCancellationFee
			d.UsageAt = usageAt.UTC()
			d.UpdatedAt = s.now()
			if err := s.Orders.SaveDetail(ctx, *d); err != nil {
				return nil, err
			}
			return d, nil
		}
	}

	d.Status = DetailCancelled
	d.UpdatedAt = s.now()
	if err := s.Orders.SaveDetail(ctx, *d); err != nil {
		return nil, err
	}
	return d, nil
}

// MarkProblem parks a disputed/erroneous detail for manual review. Legal
// from any non-terminal state; a Problem detail is never journaled.
func (s *Service) MarkProblem(ctx context.Context, id core.OrderDetailID, note string) (*OrderDetail, error) {
	d, err := s.Orders.GetDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status.Terminal() || d.Status == DetailProblem {
		return nil, &core.TransitionError{Entity: "order detail", From: string(d.Status), To: string(DetailProblem)}
	}
	d.Status = DetailProblem
	d.ProblemNote = note
	d.UpdatedAt = s.now()
	if err := s.Orders.SaveDetail(ctx, *d); err != nil {
		return nil, err
	}
	return d, nil
}

// ResolveProblem returns a reviewed detail to InProcess.
func (s *Service) ResolveProblem(ctx context.Context, id core.OrderDetailID) (*OrderDetail, error) {
	d, err := s.Orders.GetDetail(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != DetailProblem {
		return nil, &core.TransitionError{Entity: "order detail", From: string(d.Status), To: string(DetailInProcess)}
	}
	d.Status = DetailInProcess
	d.ProblemNote = ""
	d.UpdatedAt = s.now()
	if err := s.Orders.SaveDetail(ctx, *d); err != nil {
		return nil, err
	}
	return d, nil
}
