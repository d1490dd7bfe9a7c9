// Command ledgerd runs the tokenized asset ledger: the HTTP API, the
// submission workers, the chain event reconciler and the scheduled sweep.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"agri-token-ledger/internal/api"
	"agri-token-ledger/internal/app"
	"agri-token-ledger/internal/chain"
	"agri-token-ledger/internal/config"
	"agri-token-ledger/internal/coordinator"
	"agri-token-ledger/internal/logger"
	"agri-token-ledger/internal/observability"
)

const shutdownTimeout = 30 * time.Second

func main() {
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

	if err := run(cfg, log); err != nil {
		log.Error("ledgerd exited", "error", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
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
	notifier, err := app.OpenNotifier(cfg, log)
	if err != nil {
		return err
	}
	defer notifier.Close()

	deps := app.Deps{
		Stores:   stores,
		Cache:    c,
		Notifier: notifier,
		Actor:    app.NewActor(cfg),
		Metrics:  observability.NewMetrics("", nil),
		Logger:   log,
	}
	svc, err := app.NewServices(cfg, deps)
	if err != nil {
		return err
	}
	log.Info("chain actor ready", "mode", cfg.ChainMode)

	svc.Coordinator.Start(ctx)
	defer svc.Coordinator.Stop()
	svc.Reconciler.Start(ctx)
	defer func() { _ = svc.Reconciler.Stop() }()
	defer svc.Distribution.Close()

	sched, err := coordinator.NewScheduler(svc.Coordinator, cfg.SweepSchedule, time.Minute, log)
	if err != nil {
		return err
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	subErr := make(chan error, 1)
	if cfg.ChainWSURL != "" {
		sub := chain.NewEventSubscriber(cfg.ChainWSURL, svc.Reconciler.Handle, nil, log)
		go func() { subErr <- sub.Run(ctx) }()
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(svc.Handler(cfg, deps)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srvErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
		close(srvErr)
	}()

	// Handle shutdown signals with graceful timeout
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		log.Info("received signal, shutting down", "signal", sig.String())
	case err := <-srvErr:
		runErr = fmt.Errorf("http server: %w", err)
	case err := <-subErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = fmt.Errorf("event subscriber: %w", err)
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown incomplete", "error", err)
	}
	cancel()
	return runErr
}
