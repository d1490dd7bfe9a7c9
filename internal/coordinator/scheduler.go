package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"agri-token-ledger/internal/logger"
)

// Scheduler runs the sweep on a cron schedule.
type Scheduler struct {
	cron    *cron.Cron
	coord   *Coordinator
	log     *logger.Logger
	timeout time.Duration
}

// NewScheduler creates a scheduler running the sweep on schedule, for
// example "@every 1m". Each run is bounded by timeout.
func NewScheduler(coord *Coordinator, schedule string, timeout time.Duration, log *logger.Logger) (*Scheduler, error) {
	log = logger.OrNop(log).With("component", "sweep")
	c := cron.New(cron.WithChain(
		cron.Recover(cronLogger{log}),
		cron.SkipIfStillRunning(cronLogger{log}),
	))

	s := &Scheduler{cron: c, coord: coord, log: log, timeout: timeout}
	if s.timeout <= 0 {
		s.timeout = time.Minute
	}
	if _, err := c.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("schedule sweep %q: %w", schedule, err)
	}
	log.Info("scheduled reconciliation sweep", "schedule", schedule)
	return s, nil
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.coord.Sweep(ctx); err != nil {
		s.log.Error("sweep failed", "error", err)
	}
}

// Start starts the cron scheduler.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the scheduler; the returned context is done when a running
// sweep finishes.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// cronLogger adapts Logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(keysAndValues, "error", err)...)
}
