// Package distribution pays periodic returns of an asset to its active
// investors in proportion to their shares, as checkpointed jobs that can be
// resumed after a crash or interruption.
package distribution

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"agri-token-ledger/internal/cache"
	"agri-token-ledger/internal/chain"
	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/idhash"
	"agri-token-ledger/internal/logger"
	"agri-token-ledger/internal/notify"
	"agri-token-ledger/internal/observability"
	"agri-token-ledger/internal/storage"
)

// Default values for Options.
const (
	DefaultMaxAttempts     = 3
	DefaultTransferTimeout = 30 * time.Second
	DefaultPrecision       = 0
)

// ErrJobRunning is returned when the job of an (asset, period) is already
// being processed.
var ErrJobRunning = errors.New("distribution job already running")

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("distribution engine closed")

// PayoutSubmitter transfers one payout on-chain and records its transaction.
type PayoutSubmitter interface {
	SubmitPayout(ctx context.Context, req chain.PayoutRequest, policy chain.RetryPolicy) (*domain.Transaction, error)
}

// Options configures Engine.
type Options struct {
	Assets      storage.AssetStore
	Investments storage.InvestmentStore
	Jobs        storage.DistributionStore
	// Payouts is optional; paid entries are appended to it for analytics.
	Payouts   storage.PayoutSeriesStore
	Submitter PayoutSubmitter

	Cache    *cache.Invalidator
	Notifier notify.Notifier
	Metrics  *observability.Metrics
	Logger   *logger.Logger

	// Retry is the base policy for one transfer. MaxAttempts and
	// TransferTimeout override its attempt count and per-attempt timeout.
	Retry           chain.RetryPolicy
	MaxAttempts     int
	TransferTimeout time.Duration
	// Precision is the number of decimal places payouts are floored to.
	Precision int32

	Now func() time.Time
}

// Engine runs distribution jobs.
type Engine struct {
	assets      storage.AssetStore
	investments storage.InvestmentStore
	jobs        storage.DistributionStore
	payouts     storage.PayoutSeriesStore
	submitter   PayoutSubmitter

	cache    *cache.Invalidator
	notifier notify.Notifier
	metrics  *observability.Metrics
	log      *logger.Logger

	policy    chain.RetryPolicy
	precision int32
	now       func() time.Time

	// active holds the live snapshot of every running job. Entry updates
	// and FlagPayout go through mu.
	mu     sync.Mutex
	active map[string]*domain.DistributionJob

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a distribution engine.
func New(opts Options) *Engine {
	e := &Engine{
		assets:      opts.Assets,
		investments: opts.Investments,
		jobs:        opts.Jobs,
		payouts:     opts.Payouts,
		submitter:   opts.Submitter,
		cache:       opts.Cache,
		notifier:    opts.Notifier,
		metrics:     opts.Metrics,
		log:         logger.OrNop(opts.Logger).With("component", "distribution"),
		policy:      opts.Retry,
		precision:   opts.Precision,
		now:         opts.Now,
		active:      make(map[string]*domain.DistributionJob),
	}
	if e.notifier == nil {
		e.notifier = notify.Nop{}
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.precision < 0 {
		e.precision = DefaultPrecision
	}

	e.policy.MaxAttempts = opts.MaxAttempts
	if e.policy.MaxAttempts <= 0 {
		e.policy.MaxAttempts = DefaultMaxAttempts
	}
	e.policy.CallTimeout = opts.TransferTimeout
	if e.policy.CallTimeout <= 0 {
		e.policy.CallTimeout = DefaultTransferTimeout
	}

	e.ctx, e.cancel = context.WithCancel(context.Background())
	return e
}

// Distribute runs the job of (assetID, period) to completion and returns it.
// An existing job is resumed from its snapshot. A job with flagged entries
// is returned together with a *domain.DistributionPartialFailure.
func (e *Engine) Distribute(ctx context.Context, assetID, period string, amount decimal.Decimal) (*domain.DistributionJob, error) {
	id := idhash.DistributionJobID(assetID, period)
	if !e.claim(id) {
		return nil, ErrJobRunning
	}

	job, err := e.prepare(ctx, id, assetID, period, amount)
	if err != nil || job.Status == domain.JobStatusSucceeded {
		e.release(id)
		return job, err
	}
	e.track(job)
	defer e.release(id)

	return e.run(ctx, job)
}

// Start prepares the job of (assetID, period) and processes it in the
// background. It returns the job as stored before processing begins. When
// the job is already running, its live snapshot is returned.
func (e *Engine) Start(ctx context.Context, assetID, period string, amount decimal.Decimal) (*domain.DistributionJob, error) {
	if e.ctx.Err() != nil {
		return nil, ErrClosed
	}

	id := idhash.DistributionJobID(assetID, period)
	if !e.claim(id) {
		live, err := e.GetJob(ctx, id)
		if err != nil {
			return nil, err
		}
		if !live.TotalAmount.Equal(amount) {
			return nil, amountMismatch(live)
		}
		return live, nil
	}

	job, err := e.prepare(ctx, id, assetID, period, amount)
	if err != nil || job.Status == domain.JobStatusSucceeded {
		e.release(id)
		return job, err
	}
	e.track(job)
	snapshot := e.snapshot(job)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.release(id)
		if _, err := e.run(e.ctx, job); err != nil {
			var partial *domain.DistributionPartialFailure
			if !errors.As(err, &partial) {
				e.log.Error("distribution job failed", "job_id", id, "error", err)
			}
		}
	}()
	return snapshot, nil
}

// GetJob returns a job, preferring the live snapshot of a running one.
func (e *Engine) GetJob(ctx context.Context, id string) (*domain.DistributionJob, error) {
	e.mu.Lock()
	if job, ok := e.active[id]; ok && job != nil {
		c := job.Clone()
		e.mu.Unlock()
		return c, nil
	}
	e.mu.Unlock()
	return e.jobs.GetByID(ctx, id)
}

// Close interrupts background jobs and waits for them to checkpoint.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// claim marks id as running. The slot holds nil until the job is tracked.
func (e *Engine) claim(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active[id]; ok {
		return false
	}
	e.active[id] = nil
	return true
}

func (e *Engine) track(job *domain.DistributionJob) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active[job.ID] = job
}

func (e *Engine) release(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.active, id)
}

func (e *Engine) snapshot(job *domain.DistributionJob) *domain.DistributionJob {
	e.mu.Lock()
	defer e.mu.Unlock()
	return job.Clone()
}

func amountMismatch(job *domain.DistributionJob) error {
	return domain.NewValidationError("amount",
		fmt.Sprintf("period %s was already distributed with amount %s", job.Period, job.TotalAmount))
}

// prepare loads the stored job of id or snapshots the active investments of
// the asset into a new one.
func (e *Engine) prepare(ctx context.Context, id, assetID, period string, amount decimal.Decimal) (*domain.DistributionJob, error) {
	if assetID == "" {
		return nil, domain.NewValidationError("assetId", "required")
	}
	if period == "" {
		return nil, domain.NewValidationError("period", "required")
	}
	if !amount.IsPositive() {
		return nil, domain.NewValidationError("amount", "must be positive")
	}
	if !amount.Equal(amount.Truncate(e.precision)) {
		return nil, domain.NewValidationError("amount", fmt.Sprintf("more than %d decimal places", e.precision))
	}

	stored, err := e.jobs.GetByID(ctx, id)
	switch {
	case err == nil:
		if !stored.TotalAmount.Equal(amount) {
			return nil, amountMismatch(stored)
		}
		if stored.Status != domain.JobStatusSucceeded {
			e.log.Info("resuming distribution job", "job_id", id, "status", stored.Status)
		}
		return stored, nil
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("load job %s: %w", id, err)
	}

	if _, err := e.assets.GetByID(ctx, assetID); err != nil {
		return nil, err
	}
	invs, err := e.investments.ListByAsset(ctx, assetID, domain.InvestmentStatusActive)
	if err != nil {
		return nil, fmt.Errorf("snapshot investments of %s: %w", assetID, err)
	}
	if len(invs) == 0 {
		return nil, domain.NewValidationError("assetId", "asset has no active investments")
	}
	sort.Slice(invs, func(i, j int) bool { return invs[i].ID < invs[j].ID })

	shares := make([]int64, len(invs))
	for i, inv := range invs {
		shares[i] = inv.Shares
	}
	amounts := Allocate(amount, shares, e.precision)

	now := e.now().UTC()
	job := &domain.DistributionJob{
		ID:          id,
		AssetID:     assetID,
		Period:      period,
		TotalAmount: amount,
		Status:      domain.JobStatusRunning,
		Entries:     make([]domain.DistributionEntry, len(invs)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for i, inv := range invs {
		job.Entries[i] = domain.DistributionEntry{
			InvestmentID: inv.ID,
			InvestorID:   inv.InvestorID,
			Shares:       inv.Shares,
			Amount:       amounts[i],
			Principal:    inv.Amount,
			Key:          idhash.PayoutKey(assetID, period, inv.ID),
			Status:       domain.EntryStatusPending,
		}
	}

	if err := e.jobs.Save(ctx, job.Clone()); err != nil {
		return nil, fmt.Errorf("save job %s: %w", id, err)
	}
	e.log.Info("distribution job created",
		"job_id", id, "asset_id", assetID, "period", period, "amount", amount.String(), "entries", len(job.Entries))
	return job, nil
}
