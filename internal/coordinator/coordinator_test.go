package coordinator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agri-token-ledger/internal/cache"
	"agri-token-ledger/internal/chain"
	"agri-token-ledger/internal/chain/stub"
	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/idhash"
	"agri-token-ledger/internal/notify"
	"agri-token-ledger/internal/storage"
	"agri-token-ledger/internal/storage/memory"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// flakyTransactions fails Insert while failInsert is set.
type flakyTransactions struct {
	storage.TransactionStore
	failInsert atomic.Bool
}

func (f *flakyTransactions) Insert(ctx context.Context, tx *domain.Transaction) error {
	if f.failInsert.Load() {
		return errors.New("connection refused")
	}
	return f.TransactionStore.Insert(ctx, tx)
}

type harness struct {
	assets      *memory.AssetStore
	investments *memory.InvestmentStore
	txs         *flakyTransactions
	chain       *stub.Mock
	cache       *cache.MemoryCache
	notifier    *notify.Recorder
	clock       *clock
	coord       *Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		assets:   memory.NewAssetStore(),
		txs:      &flakyTransactions{TransactionStore: memory.NewTransactionStore()},
		chain:    stub.NewMock(),
		cache:    cache.NewMemoryCache(),
		notifier: &notify.Recorder{},
		clock:    &clock{now: time.Now().UTC()},
	}
	h.investments = memory.NewInvestmentStore(h.assets)

	h.coord = New(Options{
		Assets:       h.assets,
		Investments:  h.investments,
		Transactions: h.txs,
		Actor:        h.chain,
		Retry:        chain.RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, CallTimeout: time.Second},
		Cache:        cache.NewInvalidator(h.cache, h.investments),
		Notifier:     h.notifier,
		Workers:      2,
		Now:          h.clock.Now,
	})

	require.NoError(t, h.assets.Create(context.Background(), &domain.Asset{
		ID:          "farm-1",
		TokenID:     "token-1",
		Owner:       "owner-1",
		TotalSupply: 1000,
		Status:      domain.AssetStatusActive,
	}))
	return h
}

func (h *harness) request(t *testing.T, investor string, shares int64) *domain.Investment {
	t.Helper()
	inv, err := h.coord.RequestInvestment(context.Background(), InvestmentRequest{
		InvestorID: investor,
		AssetID:    "farm-1",
		Amount:     decimal.NewFromInt(shares * 10),
		Shares:     shares,
	})
	require.NoError(t, err)
	return inv
}

func TestConfirm_CompletedAppliesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv := h.request(t, "alice", 100)
	tx, err := h.coord.Submit(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusPending, tx.Status)
	assert.Equal(t, idhash.InvestmentRef(inv.ID), tx.Reference)

	first, err := h.coord.Confirm(ctx, tx.Hash, domain.TxStatusCompleted, 10)
	require.NoError(t, err)
	assert.True(t, first.Applied)
	assert.Equal(t, domain.TxStatusCompleted, first.Transaction.Status)

	second, err := h.coord.Confirm(ctx, tx.Hash, domain.TxStatusCompleted, 10)
	require.NoError(t, err)
	assert.False(t, second.Applied)

	// A contradictory late status cannot reopen a terminal transaction
	third, err := h.coord.Confirm(ctx, tx.Hash, domain.TxStatusFailed, 11)
	require.NoError(t, err)
	assert.False(t, third.Applied)

	asset, err := h.assets.GetByID(ctx, "farm-1")
	require.NoError(t, err)
	assert.True(t, asset.Financials.TotalInvestment.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, int64(100), asset.Financials.TotalShares)
	assert.Equal(t, int64(100), asset.ReservedShares)

	got, err := h.investments.GetByID(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvestmentStatusActive, got.Status)
	assert.Equal(t, tx.Hash, got.TransactionHash)

	assert.Equal(t, []string{notify.InvestmentRequested, notify.InvestmentConfirmed}, h.notifier.Types())
}

func TestConfirm_ConcurrentSameHash(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv := h.request(t, "alice", 50)
	tx, err := h.coord.Submit(ctx, inv.ID)
	require.NoError(t, err)

	var applied atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := h.coord.Confirm(ctx, tx.Hash, domain.TxStatusCompleted, 5)
			if assert.NoError(t, err) && res.Applied {
				applied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
	asset, _ := h.assets.GetByID(ctx, "farm-1")
	assert.True(t, asset.Financials.TotalInvestment.Equal(decimal.NewFromInt(500)))
}

func TestConfirm_FailedReleasesReservation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv := h.request(t, "alice", 300)
	tx, err := h.coord.Submit(ctx, inv.ID)
	require.NoError(t, err)

	res, err := h.coord.Confirm(ctx, tx.Hash, domain.TxStatusFailed, 12)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Equal(t, domain.TxStatusFailed, res.Transaction.Status)

	got, _ := h.investments.GetByID(ctx, inv.ID)
	assert.Equal(t, domain.InvestmentStatusCancelled, got.Status)

	asset, _ := h.assets.GetByID(ctx, "farm-1")
	assert.Equal(t, int64(0), asset.ReservedShares)
	assert.True(t, asset.Financials.TotalInvestment.IsZero())
}

func TestConfirm_UnknownAndInvalid(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.coord.Confirm(ctx, "missing", domain.TxStatusCompleted, 1)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	_, err = h.coord.Confirm(ctx, "hash", "finalized", 1)
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestSubmit_RetriesThenSucceeds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv := h.request(t, "alice", 10)
	h.chain.FailNext(stub.OpMintShares, errors.New("timeout"), errors.New("timeout"))

	tx, err := h.coord.Submit(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, h.chain.Calls(stub.OpMintShares))
	assert.Equal(t, domain.TxStatusPending, tx.Status)
}

func TestSubmit_ExhaustedFailsAndReleases(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv := h.request(t, "alice", 10)
	h.chain.FailNext(stub.OpMintShares, errors.New("a"), errors.New("b"), errors.New("c"))

	tx, err := h.coord.Submit(ctx, inv.ID)
	var ce *domain.ChainCallError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, 3, ce.Attempts)

	require.NotNil(t, tx)
	assert.Equal(t, idhash.FailedTxHash(idhash.InvestmentRef(inv.ID)), tx.Hash)

	stored, err := h.txs.GetByHash(ctx, tx.Hash)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusFailed, stored.Status)

	got, _ := h.investments.GetByID(ctx, inv.ID)
	assert.Equal(t, domain.InvestmentStatusCancelled, got.Status)

	_, err = h.coord.Submit(ctx, inv.ID)
	assert.ErrorIs(t, err, ErrNotPending)
}

func TestSubmit_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv := h.request(t, "alice", 10)
	first, err := h.coord.Submit(ctx, inv.ID)
	require.NoError(t, err)
	second, err := h.coord.Submit(ctx, inv.ID)
	require.NoError(t, err)

	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, 1, h.chain.Calls(stub.OpMintShares))
}

func TestRequestInvestment_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.coord.RequestInvestment(ctx, InvestmentRequest{InvestorID: "a", AssetID: "farm-1", Amount: decimal.NewFromInt(1), Shares: 1001})
	var capErr *domain.CapacityError
	assert.ErrorAs(t, err, &capErr)

	_, err = h.coord.RequestInvestment(ctx, InvestmentRequest{InvestorID: "a", AssetID: "farm-1", Amount: decimal.Zero, Shares: 1})
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)

	_, err = h.coord.RequestInvestment(ctx, InvestmentRequest{InvestorID: "a", AssetID: "nope", Amount: decimal.NewFromInt(1), Shares: 1})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRequestInvestment_LastSharesRace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.request(t, "whale", 990)

	var wins, capacity atomic.Int32
	var wg sync.WaitGroup
	for _, investor := range []string{"alice", "bob"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.coord.RequestInvestment(ctx, InvestmentRequest{
				InvestorID: investor, AssetID: "farm-1", Amount: decimal.NewFromInt(100), Shares: 10,
			})
			var capErr *domain.CapacityError
			switch {
			case err == nil:
				wins.Add(1)
			case errors.As(err, &capErr):
				capacity.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(1), capacity.Load())
	asset, _ := h.assets.GetByID(ctx, "farm-1")
	assert.Equal(t, int64(1000), asset.ReservedShares)
}

func TestRequestInvestment_InvalidatesCache(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.NoError(t, h.cache.Set(ctx, cache.AssetNamespace("farm-1"), "view", "stale", time.Minute))
	require.NoError(t, h.cache.Set(ctx, cache.InvestorAnalyticsNamespace("alice"), "portfolio", "stale", time.Minute))

	h.request(t, "alice", 1)

	var v string
	hit, _ := h.cache.Get(ctx, cache.AssetNamespace("farm-1"), "view", &v)
	assert.False(t, hit)
	hit, _ = h.cache.Get(ctx, cache.InvestorAnalyticsNamespace("alice"), "portfolio", &v)
	assert.False(t, hit)
}

func TestWorkers_SubmitQueuedInvestments(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h.coord.Start(ctx)
	defer h.coord.Stop()

	inv := h.request(t, "alice", 5)

	require.Eventually(t, func() bool {
		got, err := h.investments.GetByID(ctx, inv.ID)
		return err == nil && got.TransactionHash != ""
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSweep_HealsLostTransactionWrite(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv := h.request(t, "alice", 20)

	// Chain accepts, off-chain write fails
	h.txs.failInsert.Store(true)
	_, err := h.coord.Submit(ctx, inv.ID)
	require.Error(t, err)
	h.txs.failInsert.Store(false)

	got, _ := h.investments.GetByID(ctx, inv.ID)
	require.Equal(t, domain.InvestmentStatusPending, got.Status)
	require.Empty(t, got.TransactionHash)

	h.clock.Advance(time.Hour)
	report, err := h.coord.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Resubmitted)

	hash := stub.HashFor(stub.OpMintShares, idhash.InvestmentRef(inv.ID))
	got, _ = h.investments.GetByID(ctx, inv.ID)
	assert.Equal(t, hash, got.TransactionHash)

	// Confirmation webhook was lost too; the chain finalized it
	h.chain.SetStatus(hash, domain.TxStatusCompleted, 44)
	h.clock.Advance(time.Hour)

	report, err = h.coord.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Replayed)

	got, _ = h.investments.GetByID(ctx, inv.ID)
	assert.Equal(t, domain.InvestmentStatusActive, got.Status)

	tx, _ := h.txs.GetByHash(ctx, hash)
	assert.Equal(t, domain.TxStatusCompleted, tx.Status)
	assert.Equal(t, uint64(44), tx.BlockNumber)
	assert.Equal(t, stub.DefaultConfirmations, tx.Confirmations)
}

func TestSweep_AbandonsUnknownTransactions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv := h.request(t, "alice", 20)
	tx, err := h.coord.Submit(ctx, inv.ID)
	require.NoError(t, err)
	h.chain.Forget(tx.Hash)

	// Unknown but young: left alone
	h.clock.Advance(5 * time.Minute)
	report, err := h.coord.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Abandoned)

	h.clock.Advance(time.Hour)
	report, err = h.coord.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Abandoned)

	got, _ := h.investments.GetByID(ctx, inv.ID)
	assert.Equal(t, domain.InvestmentStatusCancelled, got.Status)
	asset, _ := h.assets.GetByID(ctx, "farm-1")
	assert.Equal(t, int64(0), asset.ReservedShares)
}

func TestTokenize(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	asset, tx, err := h.coord.Tokenize(ctx, TokenizeRequest{
		ID:          "farm-2",
		Name:        "Olive grove",
		Owner:       "owner-2",
		AssetType:   "farmland",
		Location:    "Andalusia",
		TotalSupply: 500,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.AssetStatusPending, asset.Status)
	assert.NotEmpty(t, asset.TokenID)
	assert.Equal(t, domain.TxTypeTokenize, tx.Type)
	assert.Equal(t, idhash.TokenizeRef("farm-2"), tx.Reference)

	stored, err := h.assets.GetByID(ctx, "farm-2")
	require.NoError(t, err)
	assert.Equal(t, asset.TokenID, stored.TokenID)
	assert.Equal(t, domain.MetadataSchemaVersion, stored.Metadata.SchemaVersion)

	_, _, err = h.coord.Tokenize(ctx, TokenizeRequest{Name: "x", Owner: "o", TotalSupply: 0})
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestTokenize_RetriesAfterExhaustedChainCalls(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	req := TokenizeRequest{ID: "farm-3", Name: "Vineyard", Owner: "owner-3", TotalSupply: 300}

	h.chain.FailNext(stub.OpCreateToken, errors.New("timeout"), errors.New("timeout"), errors.New("timeout"))
	_, failed, err := h.coord.Tokenize(ctx, req)
	require.Error(t, err)
	assert.Equal(t, domain.TxStatusFailed, failed.Status)

	stored, err := h.assets.GetByID(ctx, "farm-3")
	require.NoError(t, err)
	assert.Equal(t, domain.AssetStatusPending, stored.Status)
	assert.Empty(t, stored.TokenID)

	h.clock.Advance(time.Minute)
	asset, tx, err := h.coord.Tokenize(ctx, req)
	require.NoError(t, err)
	assert.NotEmpty(t, asset.TokenID)
	assert.Equal(t, idhash.TokenizeRef("farm-3"), tx.Reference)
	assert.Equal(t, stub.HashFor(stub.OpCreateToken, idhash.TokenizeRef("farm-3")), tx.Hash)
	assert.Equal(t, 4, h.chain.Calls(stub.OpCreateToken))

	// Tokenized: the same request returns the recorded submission
	again, tx2, err := h.coord.Tokenize(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, asset.TokenID, again.TokenID)
	assert.Equal(t, tx.Hash, tx2.Hash)
	assert.Equal(t, 4, h.chain.Calls(stub.OpCreateToken))
}

func TestSweep_RetriesTokenization(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.chain.FailNext(stub.OpCreateToken, errors.New("a"), errors.New("b"), errors.New("c"))
	_, _, err := h.coord.Tokenize(ctx, TokenizeRequest{ID: "farm-4", Name: "Orchard", Owner: "owner-4", TotalSupply: 100})
	require.Error(t, err)

	// Young: left for the caller to retry
	report, err := h.coord.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Retokenized)

	h.clock.Advance(time.Hour)
	report, err = h.coord.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retokenized)

	stored, err := h.assets.GetByID(ctx, "farm-4")
	require.NoError(t, err)
	assert.NotEmpty(t, stored.TokenID)

	tx, err := h.txs.GetByReference(ctx, idhash.TokenizeRef("farm-4"))
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusPending, tx.Status)

	report, err = h.coord.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Retokenized)
}

func TestConfirm_NotBlockedBySlowSubmit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.request(t, "alice", 10)
	tx, err := h.coord.Submit(ctx, first.ID)
	require.NoError(t, err)

	second := h.request(t, "bob", 10)
	h.chain.Latency = 500 * time.Millisecond
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = h.coord.Submit(ctx, second.ID)
	}()
	require.Eventually(t, func() bool { return h.chain.Calls(stub.OpMintShares) == 2 }, time.Second, time.Millisecond)

	start := time.Now()
	res, err := h.coord.Confirm(ctx, tx.Hash, domain.TxStatusCompleted, 12)
	elapsed := time.Since(start)
	require.NoError(t, err)
	assert.True(t, res.Applied)
	assert.Less(t, elapsed, 250*time.Millisecond, "confirm waited on an unrelated submission")

	<-done
}

func TestCompleteAndDefault(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	inv := h.request(t, "alice", 100)
	_, err := h.coord.CompleteInvestment(ctx, inv.ID)
	assert.ErrorIs(t, err, storage.ErrIllegalTransition)

	tx, err := h.coord.Submit(ctx, inv.ID)
	require.NoError(t, err)
	_, err = h.coord.Confirm(ctx, tx.Hash, domain.TxStatusCompleted, 3)
	require.NoError(t, err)

	done, err := h.coord.CompleteInvestment(ctx, inv.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.InvestmentStatusCompleted, done.Status)

	_, err = h.coord.DefaultInvestment(ctx, inv.ID)
	assert.ErrorIs(t, err, storage.ErrIllegalTransition)

	asset, _ := h.assets.GetByID(ctx, "farm-1")
	assert.Equal(t, int64(0), asset.ReservedShares)
}

type recordingFlagger struct {
	mu   sync.Mutex
	keys []string
}

func (f *recordingFlagger) FlagPayout(_ context.Context, _, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys = append(f.keys, key)
	return nil
}

func TestConfirm_FailedPayoutIsFlagged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	flagger := &recordingFlagger{}
	h.coord.SetPayoutFlagger(flagger)

	key := idhash.PayoutKey("farm-1", "2026-Q1", 1)
	tx, err := h.coord.SubmitPayout(ctx, chain.PayoutRequest{
		Reference: key, AssetID: "farm-1", InvestmentID: 1, InvestorID: "alice", Amount: decimal.NewFromInt(7),
	}, chain.RetryPolicy{MaxAttempts: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.TxTypeDistribution, tx.Type)

	_, err = h.coord.Confirm(ctx, tx.Hash, domain.TxStatusFailed, 9)
	require.NoError(t, err)
	assert.Equal(t, []string{key}, flagger.keys)
}

func TestTransferShares_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	req := TransferRequest{RequestID: "r-1", AssetID: "farm-1", From: "alice", To: "bob", Shares: 3}
	first, err := h.coord.TransferShares(ctx, req)
	require.NoError(t, err)
	second, err := h.coord.TransferShares(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, 1, h.chain.Calls(stub.OpTransferShares))

	_, err = h.coord.TransferShares(ctx, TransferRequest{RequestID: "r-2", AssetID: "farm-1", From: "a", To: "a", Shares: 1})
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestRefreshValuation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.chain.SetValue("token-1", decimal.NewFromInt(250000))

	v, err := h.coord.RefreshValuation(ctx, "farm-1")
	require.NoError(t, err)
	assert.True(t, v.Equal(decimal.NewFromInt(250000)))

	asset, _ := h.assets.GetByID(ctx, "farm-1")
	assert.True(t, asset.Financials.CurrentValue.Equal(decimal.NewFromInt(250000)))
}
