// Command sweep runs one reconciliation sweep over pending transactions and
// exits. It is meant for cron jobs and manual repair.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"agri-token-ledger/internal/app"
	"agri-token-ledger/internal/config"
	"agri-token-ledger/internal/logger"
	"agri-token-ledger/internal/notify"
)

func main() {
	timeout := flag.Duration("timeout", 5*time.Minute, "Maximum duration of the sweep")
	flag.Parse()

	// Load .env file if exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if cfg.UseMemory {
		log.Warn("sweep against in-memory storage has nothing to reconcile")
	}

	if err := run(cfg, log, *timeout); err != nil {
		log.Error("sweep failed", "error", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	stores, err := app.OpenStores(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer stores.Close()

	c, err := app.OpenCache(ctx, cfg, stores, log)
	if err != nil {
		return err
	}

	deps := app.Deps{
		Stores:   stores,
		Cache:    c,
		Notifier: notify.Nop{},
		Actor:    app.NewActor(cfg),
		Logger:   log,
	}
	svc, err := app.NewServices(cfg, deps)
	if err != nil {
		return err
	}
	defer svc.Distribution.Close()

	report, err := svc.Coordinator.Sweep(ctx)
	if err != nil {
		return err
	}
	log.Info("sweep complete",
		"resubmitted", report.Resubmitted, "retokenized", report.Retokenized, "replayed", report.Replayed,
		"abandoned", report.Abandoned, "updated", report.Updated, "errors", report.Errors)
	return nil
}
