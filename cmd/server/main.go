/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the facility scheduling and billing server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (env vars / .env, flags override)
  2. Initialize SQLite store
  3. Wire the domain stack into the API handler
  4. Seed the demo catalog when requested
  5. Start HTTP server and the billing worker with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides DATABASE_PATH)
           Use ":memory:" for an in-memory database
  -seed    Provision the demo facility catalog on startup

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the billing worker
  4. Close database connection
  5. Exit

ENVIRONMENT:
  See config.Load for the full variable list. AMQP_URL enables the
  notification sink; JOURNAL_INTERVAL enables the billing worker.

SEE ALSO:
  - api/server.go: Router configuration
  - config/config.go: Environment configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/facility-engine/api"
	"github.com/warp/facility-engine/config"
	"github.com/warp/facility-engine/factory"
	"github.com/warp/facility-engine/notify"
	"github.com/warp/facility-engine/store/sqlite"
)

func main() {
	cfg := config.Load()

	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	seed := flag.Bool("seed", false, "provision the demo facility catalog")
	flag.Parse()

	logger := newLogger(cfg.Environment)
	defer logger.Sync()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer store.Close()

	handler := api.NewHandler(store, logger)
	handler.Booking.Locks.Timeout = cfg.LockTimeout
	handler.Billing.AccountLocks.Timeout = cfg.LockTimeout
	handler.Schedule.MaxHorizon = time.Duration(cfg.MaxHorizonDays) * 24 * time.Hour

	if cfg.AMQPURL != "" {
		sink := &notify.AMQPSink{URL: cfg.AMQPURL}
		handler.Booking.Notify = sink
		handler.Stmts.Notify = sink
		logger.Info("amqp notifications enabled")
	}

	if *seed {
		err := factory.Seed(context.Background(), factory.SeedStores{
			Catalog:  store,
			Rules:    store,
			Policies: store,
			Priority: handler.Priority,
		})
		if err != nil {
			logger.Fatal("failed to seed demo catalog", zap.Error(err))
		}
		logger.Info("demo catalog seeded")
	}

	var worker *api.BillingWorker
	if cfg.JournalInterval > 0 {
		worker = api.NewBillingWorker(handler, logger)
		worker.CheckInterval = cfg.JournalInterval
		worker.Start()
	}

	router := api.NewRouter(handler)
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.Int("port", *port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("forced shutdown", zap.Error(err))
	}
	if worker != nil {
		worker.Stop()
	}

	logger.Info("server stopped")
}

func newLogger(environment string) *zap.Logger {
	if environment == "production" {
		logger, err := zap.NewProduction()
		if err != nil {
			panic(err)
		}
		return logger
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return logger
}
