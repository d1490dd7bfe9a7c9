package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/storage"
)

func newActiveAsset(t *testing.T, assets *AssetStore, id string, supply int64) {
	t.Helper()
	err := assets.Create(context.Background(), &domain.Asset{
		ID:          id,
		Owner:       "owner-1",
		Name:        "North Field",
		AssetType:   "farmland",
		Location:    "Iowa",
		TotalSupply: supply,
		Status:      domain.AssetStatusActive,
		Metadata:    domain.AssetMetadata{SchemaVersion: 1},
	})
	if err != nil {
		t.Fatalf("Create asset failed: %v", err)
	}
}

func reserve(t *testing.T, store *InvestmentStore, assetID, investor string, shares int64) *domain.Investment {
	t.Helper()
	inv, err := store.Reserve(context.Background(), &domain.Investment{
		InvestorID: investor,
		AssetID:    assetID,
		Amount:     decimal.NewFromInt(shares * 10),
		Shares:     shares,
	})
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	return inv
}

func TestInvestmentStore_ReserveAndCapacity(t *testing.T) {
	assets := NewAssetStore()
	store := NewInvestmentStore(assets)
	ctx := context.Background()
	newActiveAsset(t, assets, "asset-1", 1000)

	first := reserve(t, store, "asset-1", "alice", 600)
	second := reserve(t, store, "asset-1", "bob", 400)

	if first.ID >= second.ID {
		t.Errorf("ids not ascending: %d, %d", first.ID, second.ID)
	}
	if first.Status != domain.InvestmentStatusPending {
		t.Errorf("status: got %s, want pending", first.Status)
	}

	_, err := store.Reserve(ctx, &domain.Investment{
		InvestorID: "carol", AssetID: "asset-1", Amount: decimal.NewFromInt(10), Shares: 1,
	})
	var capErr *domain.CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected CapacityError, got %v", err)
	}
	if capErr.Available != 0 {
		t.Errorf("available: got %d, want 0", capErr.Available)
	}

	a, err := assets.GetByID(ctx, "asset-1")
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if a.ReservedShares != 1000 {
		t.Errorf("reserved: got %d, want 1000", a.ReservedShares)
	}
}

func TestInvestmentStore_ReserveValidation(t *testing.T) {
	assets := NewAssetStore()
	store := NewInvestmentStore(assets)
	ctx := context.Background()

	err := assets.Create(ctx, &domain.Asset{ID: "pending-asset", TotalSupply: 10, Status: domain.AssetStatusPending})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err = store.Reserve(ctx, &domain.Investment{
		InvestorID: "alice", AssetID: "pending-asset", Amount: decimal.NewFromInt(10), Shares: 1,
	})
	var ve *domain.ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("inactive asset: expected ValidationError, got %v", err)
	}

	_, err = store.Reserve(ctx, &domain.Investment{
		InvestorID: "alice", AssetID: "pending-asset", Amount: decimal.Zero, Shares: 1,
	})
	if !errors.As(err, &ve) {
		t.Errorf("zero amount: expected ValidationError, got %v", err)
	}

	_, err = store.Reserve(ctx, &domain.Investment{
		InvestorID: "alice", AssetID: "missing", Amount: decimal.NewFromInt(10), Shares: 1,
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("missing asset: expected ErrNotFound, got %v", err)
	}
}

func TestInvestmentStore_ConcurrentReserveLastShares(t *testing.T) {
	for round := 0; round < 50; round++ {
		assets := NewAssetStore()
		store := NewInvestmentStore(assets)
		newActiveAsset(t, assets, "asset-1", 100)
		reserve(t, store, "asset-1", "alice", 90)

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = store.Reserve(context.Background(), &domain.Investment{
					InvestorID: "racer", AssetID: "asset-1", Amount: decimal.NewFromInt(100), Shares: 10,
				})
			}(i)
		}
		wg.Wait()

		successes, capacity := 0, 0
		for _, err := range errs {
			var capErr *domain.CapacityError
			switch {
			case err == nil:
				successes++
			case errors.As(err, &capErr):
				capacity++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		if successes != 1 || capacity != 1 {
			t.Fatalf("round %d: got %d successes and %d capacity errors", round, successes, capacity)
		}
	}
}

func TestInvestmentStore_ReleaseIdempotent(t *testing.T) {
	assets := NewAssetStore()
	store := NewInvestmentStore(assets)
	ctx := context.Background()
	newActiveAsset(t, assets, "asset-1", 100)
	inv := reserve(t, store, "asset-1", "alice", 40)

	for i := 0; i < 2; i++ {
		got, err := store.Release(ctx, inv.ID)
		if err != nil {
			t.Fatalf("Release #%d failed: %v", i+1, err)
		}
		if got.Status != domain.InvestmentStatusCancelled {
			t.Errorf("status: got %s, want cancelled", got.Status)
		}
	}

	a, _ := assets.GetByID(ctx, "asset-1")
	if a.ReservedShares != 0 {
		t.Errorf("reserved: got %d, want 0", a.ReservedShares)
	}
}

func TestInvestmentStore_CommitOnce(t *testing.T) {
	assets := NewAssetStore()
	store := NewInvestmentStore(assets)
	ctx := context.Background()
	newActiveAsset(t, assets, "asset-1", 100)
	inv := reserve(t, store, "asset-1", "alice", 40)

	applied, got, err := store.Commit(ctx, inv.ID, "hash-1")
	if err != nil || !applied {
		t.Fatalf("first Commit: applied=%v err=%v", applied, err)
	}
	if got.Status != domain.InvestmentStatusActive {
		t.Errorf("status: got %s, want active", got.Status)
	}

	applied, _, err = store.Commit(ctx, inv.ID, "hash-1")
	if err != nil || applied {
		t.Fatalf("second Commit: applied=%v err=%v", applied, err)
	}

	a, _ := assets.GetByID(ctx, "asset-1")
	if !a.Financials.TotalInvestment.Equal(decimal.NewFromInt(400)) {
		t.Errorf("total investment: got %s, want 400", a.Financials.TotalInvestment)
	}
	if a.Financials.TotalShares != 40 {
		t.Errorf("total shares: got %d, want 40", a.Financials.TotalShares)
	}

	if _, err := store.Release(ctx, inv.ID); !errors.Is(err, storage.ErrIllegalTransition) {
		t.Errorf("release of active: expected ErrIllegalTransition, got %v", err)
	}
}

func TestInvestmentStore_Transition(t *testing.T) {
	assets := NewAssetStore()
	store := NewInvestmentStore(assets)
	ctx := context.Background()
	newActiveAsset(t, assets, "asset-1", 100)
	inv := reserve(t, store, "asset-1", "alice", 40)

	if _, err := store.Transition(ctx, inv.ID, domain.InvestmentStatusCompleted); !errors.Is(err, storage.ErrIllegalTransition) {
		t.Fatalf("pending -> completed: expected ErrIllegalTransition, got %v", err)
	}

	if _, _, err := store.Commit(ctx, inv.ID, "hash-1"); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	got, err := store.Transition(ctx, inv.ID, domain.InvestmentStatusDefaulted)
	if err != nil {
		t.Fatalf("active -> defaulted failed: %v", err)
	}
	if got.Status != domain.InvestmentStatusDefaulted {
		t.Errorf("status: got %s, want defaulted", got.Status)
	}

	a, _ := assets.GetByID(ctx, "asset-1")
	if a.ReservedShares != 0 {
		t.Errorf("reserved after default: got %d, want 0", a.ReservedShares)
	}

	if _, err := store.Transition(ctx, inv.ID, domain.InvestmentStatusCompleted); !errors.Is(err, storage.ErrIllegalTransition) {
		t.Errorf("defaulted -> completed: expected ErrIllegalTransition, got %v", err)
	}
}

func TestInvestmentStore_RecordPayoutOnce(t *testing.T) {
	assets := NewAssetStore()
	store := NewInvestmentStore(assets)
	ctx := context.Background()
	newActiveAsset(t, assets, "asset-1", 100)
	inv := reserve(t, store, "asset-1", "alice", 40)

	p := &domain.Payout{
		Key:          "key-1",
		InvestmentID: inv.ID,
		AssetID:      "asset-1",
		Period:       "2026-09",
		Amount:       decimal.NewFromInt(25),
		PaidAt:       time.Date(2026, 9, 30, 0, 0, 0, 0, time.UTC),
	}
	for i, want := range []bool{true, false} {
		got, err := store.RecordPayout(ctx, p)
		if err != nil {
			t.Fatalf("RecordPayout #%d failed: %v", i+1, err)
		}
		if got != want {
			t.Errorf("RecordPayout #%d: got %v, want %v", i+1, got, want)
		}
	}

	updated, _ := store.GetByID(ctx, inv.ID)
	if !updated.Returns.Actual.Equal(decimal.NewFromInt(25)) {
		t.Errorf("returns actual: got %s, want 25", updated.Returns.Actual)
	}
	if updated.Returns.LastDistribution == nil || !updated.Returns.LastDistribution.Equal(p.PaidAt) {
		t.Errorf("last distribution: got %v", updated.Returns.LastDistribution)
	}
}

func TestInvestmentStore_ListPendingWithoutTransaction(t *testing.T) {
	assets := NewAssetStore()
	store := NewInvestmentStore(assets)
	ctx := context.Background()
	newActiveAsset(t, assets, "asset-1", 100)
	a := reserve(t, store, "asset-1", "alice", 10)
	b := reserve(t, store, "asset-1", "bob", 10)

	if err := store.AttachTransaction(ctx, b.ID, "hash-b"); err != nil {
		t.Fatalf("AttachTransaction failed: %v", err)
	}

	got, err := store.ListPendingWithoutTransaction(ctx, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("ListPendingWithoutTransaction failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Fatalf("expected only investment %d, got %v", a.ID, got)
	}

	got, _ = store.ListPendingWithoutTransaction(ctx, time.Now().Add(-time.Hour))
	if len(got) != 0 {
		t.Errorf("expected none older than an hour ago, got %d", len(got))
	}
}
