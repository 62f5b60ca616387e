/*
journal.go - Journal row builder

PURPOSE:
  Converts completed, priced order details into immutable accounting rows.
  The invariant is at-most-once: a detail is claimed by exactly one
  journal run, and carries at most one non-voided journal row, no matter
  how many runs execute concurrently or how often a run is retried.

CLAIM PROTOCOL:
  RunBatch stamps its batch ID onto eligible details in one atomic store
  operation (ClaimForJournal). A concurrent run sees the stamp and skips
  them. A stamp with no live journal row marks a batch that died before
  appending; ClaimForJournal re-claims such details, and the store's
  one-live-row-per-detail guard keeps a lost race idempotent. No detail
  is ever stranded by a partial failure.

REVERSAL:
  Reverse voids the original row (never deletes it), appends a reversing
  row with the negated amount, and parks the detail in Problem for manual
  review. A closed statement is never mutated; the reversing row lands on
  the next statement.
*/
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/warp/facility-engine/core"
)

// =============================================================================
// JOURNAL ROW
// =============================================================================

// JournalRow is an immutable, append-only record that an order detail's
// cost has been recognized. Voided on reversal, never deleted.
type JournalRow struct {
	ID            core.JournalRowID
	OrderDetailID core.OrderDetailID
	AccountID     core.AccountID
	Amount        core.Money
	Description   string
	JournalDate   time.Time
	BatchID       string

	Voided   bool
	VoidedAt *time.Time

	// ReversesRowID marks a reversing row; such rows do not count toward
	// the one-non-voided-row-per-detail invariant.
	ReversesRowID core.JournalRowID

	StatementID core.StatementID
	CreatedAt   time.Time
}

// Reversing reports whether the row offsets a voided row.
func (r JournalRow) Reversing() bool { return r.ReversesRowID != "" }

// JournalStore persists journal rows.
type JournalStore interface {
	// AppendRow persists a row. For non-reversing rows the store enforces
	// at most one non-voided row per order detail: a duplicate append
	// fails with ErrAlreadyJournaled.
	AppendRow(ctx context.Context, r JournalRow) error

	GetRow(ctx context.Context, id core.JournalRowID) (*JournalRow, error)

	// RowForDetail returns the non-voided, non-reversing row for a detail,
	// or nil.
	RowForDetail(ctx context.Context, detail core.OrderDetailID) (*JournalRow, error)

	VoidRow(ctx context.Context, id core.JournalRowID, at time.Time) error

	// UnassignedRows returns non-voided rows for the account with no
	// statement, whose journal date falls in the period.
	UnassignedRows(ctx context.Context, account core.AccountID, period core.Period) ([]JournalRow, error)

	ListRows(ctx context.Context, account core.AccountID) ([]JournalRow, error)
}

// =============================================================================
// PAYMENT GATEWAY - External settlement collaborator
// =============================================================================

// ChargeResult is whatever the gateway reports back; the engine records
// it but settlement success is not a journaling precondition.
type ChargeResult struct {
	TransactionID string
	Approved      bool
	Message       string
}

// PaymentGateway receives a charge amount and returns a transaction
// result. Settlement itself is out of scope.
type PaymentGateway interface {
	Charge(ctx context.Context, account core.AccountID, amount core.Money) (ChargeResult, error)
}

// NopGateway approves every charge without side effects.
type NopGateway struct{}

func (NopGateway) Charge(_ context.Context, _ core.AccountID, _ core.Money) (ChargeResult, error) {
	return ChargeResult{TransactionID: core.NewID(), Approved: true}, nil
}

// =============================================================================
// JOURNALER
// =============================================================================

type Journaler struct {
	Orders  OrderStore
	Journal JournalStore

	Gateway PaymentGateway // optional
	Logger  *zap.Logger    // optional

	Clock func() time.Time
}

func NewJournaler(orders OrderStore, journal JournalStore) *Journaler {
	return &Journaler{Orders: orders, Journal: journal}
}

func (j *Journaler) now() time.Time {
	if j.Clock != nil {
		return j.Clock().UTC()
	}
	return time.Now().UTC()
}

func (j *Journaler) logger() *zap.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return zap.NewNop()
}

// RunBatch journals every Complete, not-yet-journaled order detail of the
// account with usage up to asOf. Returns the rows created (or, on retry,
// the rows that already existed for the claimed details).
func (j *Journaler) RunBatch(ctx context.Context, account core.AccountID, asOf time.Time) ([]JournalRow, error) {
	batchID := core.NewID()
	details, err := j.Orders.ClaimForJournal(ctx, account, asOf, batchID)
	if err != nil {
		return nil, fmt.Errorf("claim order details: %w", err)
	}

	rows := make([]JournalRow, 0, len(details))
	for _, d := range details {
		row := JournalRow{
			ID:            core.JournalRowID(core.NewID()),
			OrderDetailID: d.ID,
			AccountID:     d.AccountID,
			Amount:        d.Cost.Net,
			Description:   journalDescription(d),
			JournalDate:   asOf.UTC(),
			BatchID:       batchID,
			CreatedAt:     j.now(),
		}

		if err := j.Journal.AppendRow(ctx, row); err != nil {
			if errors.Is(err, core.ErrAlreadyJournaled) {
				// Retried batch: the row from the failed attempt stands.
				existing, lookupErr := j.Journal.RowForDetail(ctx, d.ID)
				if lookupErr != nil {
					return rows, lookupErr
				}
				rows = append(rows, *existing)
				continue
			}
			return rows, fmt.Errorf("append journal row: %w", err)
		}
		rows = append(rows, row)

		j.charge(ctx, row)
	}
	return rows, nil
}

// charge forwards the amount to the settlement collaborator. The result
// is logged; it does not gate journaling.
func (j *Journaler) charge(ctx context.Context, row JournalRow) {
	if j.Gateway == nil || !row.Amount.IsPositive() {
		return
	}
	result, err := j.Gateway.Charge(ctx, row.AccountID, row.Amount)
	if err != nil {
		j.logger().Warn("charge failed",
			zap.String("journal_row", string(row.ID)),
			zap.String("account", string(row.AccountID)),
			zap.Error(err))
		return
	}
	j.logger().Info("charge submitted",
		zap.String("journal_row", string(row.ID)),
		zap.String("transaction", result.TransactionID),
		zap.Bool("approved", result.Approved))
}

// Reverse voids a journal row, appends the offsetting reversing row, and
// parks the underlying detail in Problem for manual review.
func (j *Journaler) Reverse(ctx context.Context, rowID core.JournalRowID, reason string) (*JournalRow, error) {
	row, err := j.Journal.GetRow(ctx, rowID)
	if err != nil {
		return nil, err
	}
	if row.Voided {
		return nil, fmt.Errorf("journal row %s already voided", rowID)
	}
	if row.Reversing() {
		return nil, fmt.Errorf("journal row %s is itself a reversal", rowID)
	}

	now := j.now()
	if err := j.Journal.VoidRow(ctx, rowID, now); err != nil {
		return nil, err
	}

	reversal := JournalRow{
		ID:            core.JournalRowID(core.NewID()),
		OrderDetailID: row.OrderDetailID,
		AccountID:     row.AccountID,
		Amount:        row.Amount.Neg(),
		Description:   "reversal: " + reason,
		JournalDate:   now,
		ReversesRowID: row.ID,
		CreatedAt:     now,
	}
	if err := j.Journal.AppendRow(ctx, reversal); err != nil {
		return nil, err
	}

	// The detail is billable again only after manual review.
	d, err := j.Orders.GetDetail(ctx, row.OrderDetailID)
	if err != nil {
		return nil, err
	}
	d.Status = DetailProblem
	d.ProblemNote = "journal reversal: " + reason
	d.JournalBatchID = ""
	d.UpdatedAt = now
	if err := j.Orders.SaveDetail(ctx, *d); err != nil {
		return nil, err
	}

	return &reversal, nil
}

func journalDescription(d OrderDetail) string {
	if d.CostKind == CostCancellationFee {
		return fmt.Sprintf("cancellation fee, resource %s", d.ResourceID)
	}
	return fmt.Sprintf("usage, resource %s (%s units)", d.ResourceID, d.BilledUnits)
}
