/*
worker.go - Background journal and statement worker

PURPOSE:
  Periodically journals completed order details for every account and
  generates statements for the previous calendar month.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - The journal claim and the statement creation are idempotent, so a
    tick racing a manual API run is harmless
  - Failures on one account never block the others

USAGE:
  worker := NewBillingWorker(handler, logger)
  worker.Start()
  // ... later
  worker.Stop()

SEE ALSO:
  - handlers.go: RunJournal/GenerateStatement endpoints (manual runs)
  - billing/journal.go: batch semantics
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/facility-engine/core"
)

// BillingWorker handles automated journal and statement runs.
type BillingWorker struct {
	Handler       *Handler
	CheckInterval time.Duration
	Logger        *zap.Logger

	// Clock is injectable for tests; nil means time.Now.
	Clock func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewBillingWorker creates a new worker.
func NewBillingWorker(h *Handler, logger *zap.Logger) *BillingWorker {
	return &BillingWorker{
		Handler:       h,
		CheckInterval: time.Hour,
		Logger:        logger,
		stop:          make(chan struct{}),
	}
}

func (bw *BillingWorker) now() time.Time {
	if bw.Clock != nil {
		return bw.Clock().UTC()
	}
	return time.Now().UTC()
}

func (bw *BillingWorker) logger() *zap.Logger {
	if bw.Logger != nil {
		return bw.Logger
	}
	return zap.NewNop()
}

// Start begins the worker.
func (bw *BillingWorker) Start() {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	bw.ticker = time.NewTicker(bw.CheckInterval)
	bw.wg.Add(1)
	go bw.run(bw.ticker)

	bw.logger().Info("billing worker started", zap.Duration("interval", bw.CheckInterval))
}

// Stop stops the worker and waits for an in-flight run. Safe to call
// more than once.
func (bw *BillingWorker) Stop() {
	bw.mu.Lock()
	defer bw.mu.Unlock()

	if bw.ticker != nil {
		bw.ticker.Stop()
		bw.ticker = nil
		close(bw.stop)
		bw.wg.Wait()
		bw.logger().Info("billing worker stopped")
	}
}

func (bw *BillingWorker) run(ticker *time.Ticker) {
	defer bw.wg.Done()

	// Run immediately on start
	bw.RunOnce(context.Background())

	for {
		select {
		case <-ticker.C:
			bw.RunOnce(context.Background())
		case <-bw.stop:
			return
		}
	}
}

// RunOnce journals every account and generates last month's statements.
// Exported so tests and manual triggers can drive a single pass.
func (bw *BillingWorker) RunOnce(ctx context.Context) {
	now := bw.now()
	accounts, err := bw.Handler.Store.ListAccounts(ctx)
	if err != nil {
		bw.logger().Error("billing worker: list accounts", zap.Error(err))
		return
	}

	// Statements cover the previous month; the current one is still open.
	period := core.PeriodOf(now).Prev()

	for _, a := range accounts {
		rows, err := bw.Handler.Journal.RunBatch(ctx, a.ID, now)
		if err != nil {
			bw.logger().Error("billing worker: journal run",
				zap.String("account", string(a.ID)), zap.Error(err))
			continue
		}
		if len(rows) > 0 {
			bw.logger().Info("billing worker: journaled",
				zap.String("account", string(a.ID)), zap.Int("rows", len(rows)))
		}

		st, err := bw.Handler.Stmts.Generate(ctx, a.ID, period)
		if err != nil {
			bw.logger().Error("billing worker: statement",
				zap.String("account", string(a.ID)),
				zap.String("period", period.String()), zap.Error(err))
			continue
		}
		if st != nil {
			bw.logger().Info("billing worker: statement ready",
				zap.String("account", string(a.ID)),
				zap.String("statement", string(st.ID)),
				zap.String("total", st.Total.Value.StringFixed(2)))
		}
	}
}
