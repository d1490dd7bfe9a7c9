// Package coordinator drives the on-chain lifecycle of assets and investments:
// reservation, submission with bounded retry, idempotent confirmation, and the
// divergence sweep.
package coordinator

import (
	"context"
	"errors"
	"sync"
	"time"

	"agri-token-ledger/internal/cache"
	"agri-token-ledger/internal/chain"
	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/logger"
	"agri-token-ledger/internal/notify"
	"agri-token-ledger/internal/observability"
	"agri-token-ledger/internal/storage"
)

// Default values for Options.
const (
	DefaultWorkers        = 4
	DefaultQueueSize      = 256
	DefaultPendingTimeout = 2 * time.Minute
	DefaultAbandonTimeout = 30 * time.Minute
	DefaultSubmitTimeout  = 2 * time.Minute
)

// ErrNotPending is returned when submitting an investment that left pending.
var ErrNotPending = errors.New("investment is not pending")

// RiskAssessor scores an asset at reservation time.
type RiskAssessor interface {
	AssessRisk(ctx context.Context, asset *domain.Asset) (domain.RiskAssessment, error)
}

// PayoutFlagger marks a distribution entry for manual reconciliation.
type PayoutFlagger interface {
	FlagPayout(ctx context.Context, assetID, key, reason string) error
}

// Options configures Coordinator.
type Options struct {
	Assets       storage.AssetStore
	Investments  storage.InvestmentStore
	Transactions storage.TransactionStore
	Actor        chain.Actor

	Retry    chain.RetryPolicy
	Cache    *cache.Invalidator
	Notifier notify.Notifier
	Metrics  *observability.Metrics
	Logger   *logger.Logger
	Risk     RiskAssessor

	// Workers is the number of submission workers started by Start.
	Workers   int
	QueueSize int

	// PendingTimeout is how long a submission may stay pending before the
	// sweep looks it up on-chain.
	PendingTimeout time.Duration
	// AbandonTimeout is how long a transaction may stay unknown on-chain
	// before the sweep fails it.
	AbandonTimeout time.Duration
	// SubmitTimeout bounds one queued submission including retries.
	SubmitTimeout time.Duration

	Now func() time.Time
}

// Coordinator implements the transaction lifecycle.
type Coordinator struct {
	assets       storage.AssetStore
	investments  storage.InvestmentStore
	transactions storage.TransactionStore
	actor        chain.Actor

	retry    chain.RetryPolicy
	cache    *cache.Invalidator
	notifier notify.Notifier
	metrics  *observability.Metrics
	log      *logger.Logger
	risk     RiskAssessor

	flaggerMu sync.RWMutex
	flagger   PayoutFlagger

	workers        int
	pendingTimeout time.Duration
	abandonTimeout time.Duration
	submitTimeout  time.Duration
	now            func() time.Time

	// Confirm locks per hash, Submit per investment, Tokenize per asset. A
	// held key blocks only callers of the same key.
	txLocks         *keyedMutex
	investmentLocks *keyedMutex
	assetLocks      *keyedMutex

	queue   chan int64
	stop    chan struct{}
	wg      sync.WaitGroup
	running bool
	runMu   sync.Mutex
}

// New creates a coordinator.
func New(opts Options) *Coordinator {
	c := &Coordinator{
		assets:         opts.Assets,
		investments:    opts.Investments,
		transactions:   opts.Transactions,
		actor:          opts.Actor,
		retry:          opts.Retry,
		cache:          opts.Cache,
		notifier:       opts.Notifier,
		metrics:        opts.Metrics,
		log:            logger.OrNop(opts.Logger).With("component", "coordinator"),
		risk:           opts.Risk,
		workers:        opts.Workers,
		pendingTimeout: opts.PendingTimeout,
		abandonTimeout: opts.AbandonTimeout,
		submitTimeout:  opts.SubmitTimeout,
		now:            opts.Now,

		txLocks:         newKeyedMutex(),
		investmentLocks: newKeyedMutex(),
		assetLocks:      newKeyedMutex(),
	}

	if c.notifier == nil {
		c.notifier = notify.Nop{}
	}
	if c.workers <= 0 {
		c.workers = DefaultWorkers
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if c.pendingTimeout <= 0 {
		c.pendingTimeout = DefaultPendingTimeout
	}
	if c.abandonTimeout <= 0 {
		c.abandonTimeout = DefaultAbandonTimeout
	}
	if c.submitTimeout <= 0 {
		c.submitTimeout = DefaultSubmitTimeout
	}
	if c.now == nil {
		c.now = time.Now
	}

	// Chain call attempts are observed by metrics unless the caller set a hook.
	if c.retry.OnAttempt == nil && c.metrics != nil {
		c.retry.OnAttempt = c.metrics.RecordChainCall
	}

	c.queue = make(chan int64, opts.QueueSize)
	return c
}

// SetPayoutFlagger registers the distribution engine for failed payouts.
func (c *Coordinator) SetPayoutFlagger(f PayoutFlagger) {
	c.flaggerMu.Lock()
	defer c.flaggerMu.Unlock()
	c.flagger = f
}

func (c *Coordinator) payoutFlagger() PayoutFlagger {
	c.flaggerMu.RLock()
	defer c.flaggerMu.RUnlock()
	return c.flagger
}

// Start launches the submission workers. They stop when ctx is done or Stop
// is called.
func (c *Coordinator) Start(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.stop = make(chan struct{})

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx)
	}
	c.log.Info("submission workers started", "workers", c.workers)
}

// Stop signals the workers and waits for in-flight submissions.
func (c *Coordinator) Stop() {
	c.runMu.Lock()
	if !c.running {
		c.runMu.Unlock()
		return
	}
	c.running = false
	close(c.stop)
	c.runMu.Unlock()

	c.wg.Wait()
}

func (c *Coordinator) worker(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		case id := <-c.queue:
			c.metrics.SetQueueDepth(len(c.queue))
			subCtx, cancel := context.WithTimeout(ctx, c.submitTimeout)
			if _, err := c.Submit(subCtx, id); err != nil && !errors.Is(err, ErrNotPending) {
				c.log.Warn("queued submission failed", "investment_id", id, "error", err)
			}
			cancel()
		}
	}
}

// enqueue hands an investment to the workers. A full queue or stopped pool
// leaves it for the sweep.
func (c *Coordinator) enqueue(id int64) {
	c.runMu.Lock()
	running := c.running
	c.runMu.Unlock()
	if !running {
		return
	}

	select {
	case c.queue <- id:
		c.metrics.SetQueueDepth(len(c.queue))
	default:
		c.log.Warn("submission queue full, deferring to sweep", "investment_id", id)
	}
}

func (c *Coordinator) publish(ctx context.Context, eventType string, payload any) {
	if err := c.notifier.Publish(ctx, eventType, payload); err != nil {
		c.log.Warn("notification not published", "type", eventType, "error", err)
	}
}
