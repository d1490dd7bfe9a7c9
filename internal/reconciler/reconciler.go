// Package reconciler applies signed contract events to the asset projection.
// Events of one asset are applied by a single worker in block order; events
// of different assets are applied in parallel.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"agri-token-ledger/internal/cache"
	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/logger"
	"agri-token-ledger/internal/notify"
	"agri-token-ledger/internal/observability"
	"agri-token-ledger/internal/signature"
	"agri-token-ledger/internal/storage"
)

// Default values for Options.
const (
	DefaultBufferLimit = 1024
	DefaultQueueSize   = 64
	DefaultIdleTimeout = 5 * time.Minute
)

// ErrNotRunning is returned by Submit before Start or after Stop.
var ErrNotRunning = errors.New("reconciler is not running")

// Outcome is the result of an applied event.
type Outcome string

const (
	OutcomeApplied Outcome = "applied"
)

// Result describes an applied event.
type Result struct {
	Outcome Outcome       `json:"outcome"`
	Asset   *domain.Asset `json:"asset"`
	// Drained is the number of buffered events applied right after it.
	Drained int `json:"drained"`
}

// Verifier checks event signatures.
type Verifier interface {
	Verify(message []byte, signer, sig string) error
}

// Options configures Reconciler.
type Options struct {
	Assets storage.AssetStore
	// Transactions is optional; share transfers are recorded in it.
	Transactions storage.TransactionStore
	Verifier     Verifier
	// Pending persists buffered events so they outlive the worker holding
	// them. Optional; without it buffered events live only in memory.
	Pending storage.PendingEventStore

	Cache    *cache.Invalidator
	Notifier notify.Notifier
	Metrics  *observability.Metrics
	Logger   *logger.Logger

	// BufferLimit bounds the out-of-order events held per asset.
	BufferLimit int
	QueueSize   int
	// IdleTimeout is how long a worker with nothing queued lives on.
	IdleTimeout time.Duration
}

// Reconciler feeds chain events to per-asset workers.
type Reconciler struct {
	assets       storage.AssetStore
	transactions storage.TransactionStore
	verifier     Verifier
	pending      storage.PendingEventStore
	cache        *cache.Invalidator
	notifier     notify.Notifier
	metrics      *observability.Metrics
	log          *logger.Logger
	bufferLimit  int
	queueSize    int
	idleTimeout  time.Duration

	mu      sync.Mutex
	workers map[string]*worker
	group   *errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
}

type worker struct {
	assetID string
	queue   chan request
	pending *buffer
	// inflight counts Submit calls holding the worker. Guarded by
	// Reconciler.mu.
	inflight int
}

type request struct {
	ev    *domain.ChainEvent
	reply chan reply
}

type reply struct {
	res *Result
	err error
}

// New creates a reconciler.
func New(opts Options) *Reconciler {
	r := &Reconciler{
		assets:       opts.Assets,
		transactions: opts.Transactions,
		verifier:     opts.Verifier,
		pending:      opts.Pending,
		cache:        opts.Cache,
		notifier:     opts.Notifier,
		metrics:      opts.Metrics,
		log:          logger.OrNop(opts.Logger).With("component", "reconciler"),
		bufferLimit:  opts.BufferLimit,
		queueSize:    opts.QueueSize,
		idleTimeout:  opts.IdleTimeout,
		workers:      make(map[string]*worker),
	}
	if r.notifier == nil {
		r.notifier = notify.Nop{}
	}
	if r.bufferLimit <= 0 {
		r.bufferLimit = DefaultBufferLimit
	}
	if r.queueSize <= 0 {
		r.queueSize = DefaultQueueSize
	}
	if r.idleTimeout <= 0 {
		r.idleTimeout = DefaultIdleTimeout
	}
	return r
}

// Start enables Submit. Workers run until ctx is done or Stop is called.
// Assets with persisted buffered events get a worker right away.
func (r *Reconciler) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.group != nil {
		return
	}
	ctx, r.cancel = context.WithCancel(ctx)
	r.group, r.ctx = errgroup.WithContext(ctx)
	if r.pending != nil {
		resumeCtx := r.ctx
		r.group.Go(func() error {
			r.resume(resumeCtx)
			return nil
		})
	}
}

// Stop shuts down the workers and waits for them. Buffered events are kept
// in the pending store when one is configured and lost otherwise.
func (r *Reconciler) Stop() error {
	r.mu.Lock()
	group, cancel := r.group, r.cancel
	r.group = nil
	if group != nil {
		r.workers = make(map[string]*worker)
	}
	r.mu.Unlock()

	if group == nil {
		return nil
	}
	cancel()
	return group.Wait()
}

// Submit verifies ev and applies it through the worker of its asset. Events
// that are not applied return a *domain.ReconciliationConflict naming why.
// Cache invalidation for an applied event has finished when Submit returns.
func (r *Reconciler) Submit(ctx context.Context, ev *domain.ChainEvent) (*Result, error) {
	if err := ev.Validate(); err != nil {
		r.metrics.RecordEvent(string(ev.Type), "invalid")
		return nil, err
	}
	if err := r.verify(ev); err != nil {
		r.metrics.RecordEvent(string(ev.Type), string(domain.ConflictBadSignature))
		r.log.Warn("chain event signature rejected",
			"type", ev.Type, "asset_id", ev.AssetID, "block", ev.BlockNumber, "signer", ev.Signer, "error", err)
		return nil, &domain.ReconciliationConflict{
			Reason: domain.ConflictBadSignature, AssetID: ev.AssetID, Block: ev.BlockNumber, Err: err,
		}
	}

	w, done, err := r.workerFor(ev.AssetID)
	if err != nil {
		return nil, err
	}
	defer r.release(w)

	req := request{ev: ev, reply: make(chan reply, 1)}
	select {
	case w.queue <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
		return nil, ErrNotRunning
	}

	select {
	case rep := <-req.reply:
		return rep.res, rep.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-done:
		return nil, ErrNotRunning
	}
}

// Handle is a chain.EventHandler. Conflicts are expected on a redelivering
// stream and are not reported as errors.
func (r *Reconciler) Handle(ctx context.Context, ev *domain.ChainEvent) error {
	_, err := r.Submit(ctx, ev)
	var conflict *domain.ReconciliationConflict
	if errors.As(err, &conflict) {
		return nil
	}
	return err
}

func (r *Reconciler) verify(ev *domain.ChainEvent) error {
	if r.verifier == nil {
		return signature.ErrUntrustedSigner
	}
	return r.verifier.Verify(signature.ChainEventMessage(ev), ev.Signer, ev.Signature)
}

// workerFor returns the worker of assetID, starting it on first use. The
// worker is held until release is called.
func (r *Reconciler) workerFor(assetID string) (*worker, <-chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.group == nil {
		return nil, nil, ErrNotRunning
	}
	w := r.spawnLocked(assetID)
	w.inflight++
	return w, r.ctx.Done(), nil
}

func (r *Reconciler) release(w *worker) {
	r.mu.Lock()
	w.inflight--
	r.mu.Unlock()
}

func (r *Reconciler) spawnLocked(assetID string) *worker {
	if w, ok := r.workers[assetID]; ok {
		return w
	}
	ctx := r.ctx
	w := &worker{
		assetID: assetID,
		queue:   make(chan request, r.queueSize),
		pending: newBuffer(r.bufferLimit),
	}
	r.workers[assetID] = w
	r.group.Go(func() error { return r.run(ctx, w) })
	return w
}

// resume starts a worker for every asset with persisted buffered events.
func (r *Reconciler) resume(ctx context.Context) {
	ids, err := r.pending.ListAssets(ctx)
	if err != nil {
		r.log.Error("list pending assets failed", "error", err)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.group == nil || r.ctx != ctx {
		return
	}
	for _, id := range ids {
		r.spawnLocked(id)
	}
}

// Workers returns the number of live workers.
func (r *Reconciler) Workers() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workers)
}

func (r *Reconciler) run(ctx context.Context, w *worker) error {
	defer func() { r.metrics.AddBuffered(-w.pending.len()) }()
	r.restore(ctx, w)

	idle := time.NewTimer(r.idleTimeout)
	defer idle.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case req := <-w.queue:
			res, err := r.process(ctx, w, req.ev)
			req.reply <- reply{res: res, err: err}
			idle.Reset(r.idleTimeout)
		case <-idle.C:
			if r.retire(w) {
				return nil
			}
			idle.Reset(r.idleTimeout)
		}
	}
}

// retire removes an idle worker from the map and reports whether it may
// exit. A worker holding buffered events stays unless they are persisted.
func (r *Reconciler) retire(w *worker) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w.inflight > 0 || len(w.queue) > 0 {
		return false
	}
	if w.pending.len() > 0 && r.pending == nil {
		return false
	}
	if r.workers[w.assetID] == w {
		delete(r.workers, w.assetID)
	}
	r.log.Debug("worker retired", "asset_id", w.assetID, "buffered", w.pending.len())
	return true
}

// restore loads the persisted buffered events of the worker's asset and
// applies those that are already eligible.
func (r *Reconciler) restore(ctx context.Context, w *worker) {
	if r.pending == nil {
		return
	}
	events, err := r.pending.ListByAsset(ctx, w.assetID)
	if err != nil {
		r.log.Error("load pending events failed", "asset_id", w.assetID, "error", err)
		return
	}
	if len(events) == 0 {
		return
	}
	skipped := 0
	for _, ev := range events {
		if ok, _ := w.pending.add(ev); !ok {
			skipped++
			continue
		}
		r.metrics.AddBuffered(1)
	}
	if skipped > 0 {
		r.log.Warn("pending events over buffer limit", "asset_id", w.assetID, "skipped", skipped, "limit", r.bufferLimit)
	}
	drained := r.drain(ctx, w)
	r.log.Info("buffered events restored", "asset_id", w.assetID, "restored", len(events)-skipped, "drained", drained)
}

// process handles ev and, when it was applied, drains whatever it unblocked.
func (r *Reconciler) process(ctx context.Context, w *worker, ev *domain.ChainEvent) (*Result, error) {
	res, err := r.handle(ctx, w, ev)
	r.record(ev, err)
	if err != nil {
		return nil, err
	}
	res.Drained = r.drain(ctx, w)
	if res.Drained > 0 {
		if asset, err := r.assets.GetByID(ctx, ev.AssetID); err == nil {
			res.Asset = asset
		}
	}
	return res, nil
}

func (r *Reconciler) handle(ctx context.Context, w *worker, ev *domain.ChainEvent) (*Result, error) {
	asset, err := r.assets.GetByID(ctx, ev.AssetID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		if ev.Type != domain.EventAssetTokenized {
			return r.hold(ctx, w, ev, "unknown asset")
		}
		if asset, err = r.createFromEvent(ctx, ev); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("load asset %s: %w", ev.AssetID, err)
	}

	if !ev.Type.IsStrict() {
		if asset.LastProcessedBlock == 0 {
			return r.hold(ctx, w, ev, "asset not tokenized")
		}
		if err := passed(ev, asset.MetadataBlock); err != nil {
			return nil, err
		}
		return r.apply(ctx, ev, storage.CursorMetadata)
	}

	if err := passed(ev, asset.LastProcessedBlock); err != nil {
		return nil, err
	}
	if ev.Type != domain.EventAssetTokenized {
		switch {
		case asset.LastProcessedBlock == 0:
			return r.hold(ctx, w, ev, "asset not tokenized")
		case ev.PreviousBlock > asset.LastProcessedBlock:
			return r.hold(ctx, w, ev, "previous block not applied")
		case w.pending.hasStrictBelow(ev.BlockNumber):
			return r.hold(ctx, w, ev, "older event buffered")
		}
	}
	return r.apply(ctx, ev, storage.CursorLedger)
}

// passed returns the conflict of an event at or below cursor.
func passed(ev *domain.ChainEvent, cursor uint64) error {
	switch {
	case ev.BlockNumber == cursor:
		return &domain.ReconciliationConflict{Reason: domain.ConflictDuplicate, AssetID: ev.AssetID, Block: ev.BlockNumber}
	case ev.BlockNumber < cursor:
		return &domain.ReconciliationConflict{Reason: domain.ConflictStale, AssetID: ev.AssetID, Block: ev.BlockNumber}
	}
	return nil
}

// hold buffers ev until the events it depends on are applied. A buffered
// event has been persisted when hold returns the ConflictBuffered conflict.
func (r *Reconciler) hold(ctx context.Context, w *worker, ev *domain.ChainEvent, why string) (*Result, error) {
	ok, dup := w.pending.add(ev)
	switch {
	case dup:
		return nil, &domain.ReconciliationConflict{Reason: domain.ConflictDuplicate, AssetID: ev.AssetID, Block: ev.BlockNumber}
	case !ok:
		r.log.Error("event buffer full", "asset_id", ev.AssetID, "block", ev.BlockNumber, "limit", r.bufferLimit)
		return nil, &domain.ReconciliationConflict{Reason: domain.ConflictBufferFull, AssetID: ev.AssetID, Block: ev.BlockNumber}
	}
	if r.pending != nil {
		if err := r.pending.Add(ctx, ev); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			w.pending.discard(ev)
			return nil, fmt.Errorf("persist buffered event %s@%d: %w", ev.AssetID, ev.BlockNumber, err)
		}
	}
	r.metrics.AddBuffered(1)
	r.log.Debug("event buffered", "type", ev.Type, "asset_id", ev.AssetID, "block", ev.BlockNumber, "reason", why)
	return nil, &domain.ReconciliationConflict{
		Reason: domain.ConflictBuffered, AssetID: ev.AssetID, Block: ev.BlockNumber, Err: errors.New(why),
	}
}

// drain applies buffered events until none is eligible and returns how many
// were applied.
func (r *Reconciler) drain(ctx context.Context, w *worker) int {
	applied := 0
	for w.pending.len() > 0 {
		asset, err := r.assets.GetByID(ctx, w.assetID)
		if errors.Is(err, storage.ErrNotFound) {
			return applied
		}
		if err != nil {
			r.log.Error("drain: load asset failed", "asset_id", w.assetID, "error", err)
			return applied
		}
		for _, ev := range w.pending.dropStale(asset) {
			r.metrics.AddBuffered(-1)
			r.record(ev, &domain.ReconciliationConflict{Reason: domain.ConflictStale})
			r.log.Warn("buffered event superseded", "type", ev.Type, "asset_id", ev.AssetID, "block", ev.BlockNumber)
			r.forget(ctx, ev)
		}

		ev := w.pending.next(asset)
		if ev == nil {
			return applied
		}
		r.metrics.AddBuffered(-1)

		cursor := storage.CursorLedger
		if !ev.Type.IsStrict() {
			cursor = storage.CursorMetadata
		}
		_, err = r.apply(ctx, ev, cursor)
		if err != nil && ctx.Err() != nil {
			// Still persisted; restored by the next worker.
			return applied
		}
		r.forget(ctx, ev)
		r.record(ev, err)
		if err != nil {
			r.log.Warn("buffered event dropped", "type", ev.Type, "asset_id", ev.AssetID, "block", ev.BlockNumber, "error", err)
			continue
		}
		applied++
	}
	return applied
}

// forget removes a buffered event from the pending store.
func (r *Reconciler) forget(ctx context.Context, ev *domain.ChainEvent) {
	if r.pending == nil {
		return
	}
	if err := r.pending.Remove(ctx, ev.AssetID, ev.BlockNumber, ev.Type); err != nil {
		r.log.Warn("remove pending event failed", "asset_id", ev.AssetID, "block", ev.BlockNumber, "error", err)
	}
}

func (r *Reconciler) record(ev *domain.ChainEvent, err error) {
	outcome := string(OutcomeApplied)
	if err != nil {
		var conflict *domain.ReconciliationConflict
		var invalid *domain.ValidationError
		switch {
		case errors.As(err, &conflict):
			outcome = string(conflict.Reason)
		case errors.As(err, &invalid):
			outcome = "invalid"
		default:
			outcome = "error"
		}
	}
	r.metrics.RecordEvent(string(ev.Type), outcome)
}
