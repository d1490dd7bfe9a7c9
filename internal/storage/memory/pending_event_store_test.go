package memory

import (
	"context"
	"errors"
	"testing"

	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/storage"
)

func TestPendingEventStore_OrderAndRemove(t *testing.T) {
	store := NewPendingEventStore()
	ctx := context.Background()

	for _, block := range []uint64{110, 105} {
		ev := &domain.ChainEvent{Type: domain.EventAssetTransferred, AssetID: "asset-1", BlockNumber: block}
		if err := store.Add(ctx, ev); err != nil {
			t.Fatalf("Add(%d) failed: %v", block, err)
		}
	}
	meta := &domain.ChainEvent{Type: domain.EventAssetMetadataUpdated, AssetID: "asset-1", BlockNumber: 105}
	if err := store.Add(ctx, meta); err != nil {
		t.Fatalf("Add metadata failed: %v", err)
	}
	if err := store.Add(ctx, meta); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}

	events, err := store.ListByAsset(ctx, "asset-1")
	if err != nil {
		t.Fatalf("ListByAsset failed: %v", err)
	}
	if len(events) != 3 || events[0].BlockNumber != 105 || events[2].BlockNumber != 110 {
		t.Fatalf("unexpected order: %+v", events)
	}

	// Stored copies are not aliased.
	events[0].BlockNumber = 1
	again, _ := store.ListByAsset(ctx, "asset-1")
	if again[0].BlockNumber != 105 {
		t.Errorf("store mutated through returned event")
	}

	for _, ev := range again {
		if err := store.Remove(ctx, ev.AssetID, ev.BlockNumber, ev.Type); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
	}
	if err := store.Remove(ctx, "asset-1", 105, domain.EventAssetTransferred); err != nil {
		t.Errorf("Remove of missing event: %v", err)
	}
	assets, _ := store.ListAssets(ctx)
	if len(assets) != 0 {
		t.Errorf("expected no assets, got %v", assets)
	}
}
