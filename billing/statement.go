/*
statement.go - Statement creator

PURPOSE:
  Batches journaled charges for one account and billing period into a
  statement. Once created, a statement's member set is closed: later
  corrections go through Journaler.Reverse plus a fresh statement, never
  mutation of the closed one. Generation is idempotent per
  (account, period) so the batch worker can safely retry.
*/
package billing

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/warp/facility-engine/core"
	"github.com/warp/facility-engine/notify"
)

// Statement is a closed, dated collection of journal rows for one
// account and billing period.
type Statement struct {
	ID        core.StatementID
	AccountID core.AccountID
	Period    core.Period
	RowIDs    []core.JournalRowID
	Total     core.Money
	CreatedAt time.Time
}

// StatementStore persists statements.
type StatementStore interface {
	// CreateStatement atomically records the statement and stamps its
	// member rows. Fails with ErrStatementClosed if a statement for
	// (account, period) already exists.
	CreateStatement(ctx context.Context, st Statement) error

	GetStatement(ctx context.Context, id core.StatementID) (*Statement, error)
	GetStatementForPeriod(ctx context.Context, account core.AccountID, period core.Period) (*Statement, error)
	ListStatements(ctx context.Context, account core.AccountID) ([]Statement, error)
}

// StatementCreator groups journaled order details into statements.
type StatementCreator struct {
	Journal    JournalStore
	Statements StatementStore

	Notify notify.Sink // optional
	Logger *zap.Logger // optional

	Clock func() time.Time
}

func NewStatementCreator(journal JournalStore, statements StatementStore) *StatementCreator {
	return &StatementCreator{Journal: journal, Statements: statements}
}

func (sc *StatementCreator) now() time.Time {
	if sc.Clock != nil {
		return sc.Clock().UTC()
	}
	return time.Now().UTC()
}

// Generate creates the statement for (account, period), or returns the
// existing one. A closed statement is never regenerated or amended.
// Returns nil without error when the period has no unassigned rows.
func (sc *StatementCreator) Generate(ctx context.Context, account core.AccountID, period core.Period) (*Statement, error) {
	if existing, err := sc.Statements.GetStatementForPeriod(ctx, account, period); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	rows, err := sc.Journal.UnassignedRows(ctx, account, period)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	st := Statement{
		ID:        core.StatementID(core.NewID()),
		AccountID: account,
		Period:    period,
		CreatedAt: sc.now(),
	}
	total := core.Zero()
	for _, r := range rows {
		st.RowIDs = append(st.RowIDs, r.ID)
		total = total.Add(r.Amount)
	}
	st.Total = total

	if err := sc.Statements.CreateStatement(ctx, st); err != nil {
		if errors.Is(err, core.ErrStatementClosed) {
			// Lost the race to a concurrent run; its statement stands.
			return sc.Statements.GetStatementForPeriod(ctx, account, period)
		}
		return nil, err
	}

	sc.publish(ctx, st)
	return &st, nil
}

func (sc *StatementCreator) publish(ctx context.Context, st Statement) {
	sink := sc.Notify
	if sink == nil {
		return
	}
	e := notify.NewEvent(notify.StatementGenerated, map[string]string{
		"statement_id": string(st.ID),
		"account_id":   string(st.AccountID),
		"period":       st.Period.String(),
		"total":        st.Total.String(),
	})
	if err := sink.Publish(ctx, e); err != nil {
		logger := sc.Logger
		if logger == nil {
			logger = zap.NewNop()
		}
		logger.Warn("notify publish failed", zap.Error(err))
	}
}
