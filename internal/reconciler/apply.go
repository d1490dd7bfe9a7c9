package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/idhash"
	"agri-token-ledger/internal/notify"
	"agri-token-ledger/internal/storage"
)

// effects collects what a mutation touched besides the asset row.
type effects struct {
	owners     []string
	transfer   *domain.TransferPayload
	divergence string
}

func (fx *effects) touch(owners ...string) {
	for _, o := range owners {
		if o != "" && o != domain.ZeroAddress {
			fx.owners = append(fx.owners, o)
		}
	}
}

func decode(ev *domain.ChainEvent, v any) error {
	if err := json.Unmarshal(ev.Payload, v); err != nil {
		return domain.NewValidationError("payload", fmt.Sprintf("decode %s: %v", ev.Type, err))
	}
	return nil
}

// apply mutates the asset projection for ev and advances cursor.
func (r *Reconciler) apply(ctx context.Context, ev *domain.ChainEvent, cursor storage.Cursor) (*Result, error) {
	var fx effects
	asset, err := r.assets.ApplyEvent(ctx, ev.AssetID, cursor, ev.BlockNumber, func(a *domain.Asset) error {
		fx = effects{}
		return mutate(a, ev, &fx)
	})
	switch {
	case errors.Is(err, storage.ErrStaleBlock):
		return nil, &domain.ReconciliationConflict{Reason: domain.ConflictStale, AssetID: ev.AssetID, Block: ev.BlockNumber, Err: err}
	case err != nil:
		var invalid *domain.ValidationError
		if errors.As(err, &invalid) {
			r.log.Warn("chain event rejected", "type", ev.Type, "asset_id", ev.AssetID, "block", ev.BlockNumber, "error", err)
			return nil, err
		}
		return nil, fmt.Errorf("apply %s to %s at %d: %w", ev.Type, ev.AssetID, ev.BlockNumber, err)
	}

	log := r.log.With("type", ev.Type, "asset_id", ev.AssetID, "block", ev.BlockNumber)
	if fx.divergence != "" {
		r.metrics.RecordDivergence(fx.divergence)
		log.Warn("chain state diverges from ledger", "kind", fx.divergence)
	}
	if fx.transfer != nil {
		r.recordTransfer(ctx, ev, fx.transfer)
	}

	if err := r.cache.Asset(ctx, ev.AssetID, fx.owners...); err != nil {
		log.Error("cache invalidation failed", "error", err)
	}

	eventType := notify.AssetUpdated
	if ev.Type == domain.EventAssetTokenized {
		eventType = notify.AssetTokenized
	}
	if err := r.notifier.Publish(ctx, eventType, map[string]any{
		"assetId": ev.AssetID,
		"event":   ev.Type,
		"block":   ev.BlockNumber,
		"asset":   asset,
	}); err != nil {
		log.Warn("notification publish failed", "error", err)
	}

	log.Info("chain event applied")
	return &Result{Outcome: OutcomeApplied, Asset: asset}, nil
}

// mutate applies the payload of ev to a.
func mutate(a *domain.Asset, ev *domain.ChainEvent, fx *effects) error {
	switch ev.Type {
	case domain.EventAssetTokenized:
		var p domain.TokenizedPayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		if p.TokenID == "" {
			return domain.NewValidationError("payload.tokenId", "required")
		}
		fx.touch(a.Owner, p.Owner)
		a.TokenID = p.TokenID
		if p.ContractAddress != "" {
			a.ContractAddress = p.ContractAddress
		}
		if p.Owner != "" {
			a.Owner = p.Owner
		}
		if p.Name != "" {
			a.Name = p.Name
		}
		if p.AssetType != "" {
			a.AssetType = p.AssetType
		}
		if p.Location != "" {
			a.Location = p.Location
		}
		if p.TotalSupply != 0 && p.TotalSupply != a.TotalSupply {
			fx.divergence = "total_supply"
		}
		if a.Status == domain.AssetStatusPending {
			a.Status = domain.AssetStatusActive
		}

	case domain.EventAssetTransferred:
		var p domain.TransferredPayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		if p.To == "" {
			return domain.NewValidationError("payload.to", "required")
		}
		if p.From != "" && p.From != a.Owner {
			fx.divergence = "owner"
		}
		fx.touch(a.Owner, p.From, p.To)
		a.Owner = p.To

	case domain.EventAssetStatusChanged:
		var p domain.StatusChangedPayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		if !p.Status.IsValid() {
			return domain.NewValidationError("payload.status", fmt.Sprintf("unknown status %q", p.Status))
		}
		// The cursor still advances past an illegal transition so later
		// events are not held behind it.
		switch {
		case p.Status == a.Status:
		case a.Status.CanTransitionTo(p.Status):
			a.Status = p.Status
		default:
			fx.divergence = "status_transition"
		}
		fx.touch(a.Owner)

	case domain.EventAssetMetadataUpdated:
		var m domain.AssetMetadata
		if err := decode(ev, &m); err != nil {
			return err
		}
		if err := m.Validate(); err != nil {
			return err
		}
		a.Metadata = m

	case domain.EventTransfer:
		var p domain.TransferPayload
		if err := decode(ev, &p); err != nil {
			return err
		}
		if p.Shares <= 0 {
			return domain.NewValidationError("payload.shares", "must be positive")
		}
		switch {
		case p.IsMint():
			a.CirculatingShares += p.Shares
			if a.CirculatingShares > a.TotalSupply {
				fx.divergence = "circulating_supply"
			}
		case p.IsBurn():
			a.CirculatingShares -= p.Shares
			if a.CirculatingShares < 0 {
				a.CirculatingShares = 0
				fx.divergence = "circulating_supply"
			}
		}
		fx.touch(p.From, p.To)
		fx.transfer = &p

	default:
		return domain.NewValidationError("type", fmt.Sprintf("unknown event type %q", ev.Type))
	}
	return nil
}

// createFromEvent creates the projection of an asset first seen through its
// tokenization event.
func (r *Reconciler) createFromEvent(ctx context.Context, ev *domain.ChainEvent) (*domain.Asset, error) {
	var p domain.TokenizedPayload
	if err := decode(ev, &p); err != nil {
		return nil, err
	}
	if p.TotalSupply <= 0 {
		return nil, domain.NewValidationError("payload.totalSupply", "must be positive")
	}

	a := &domain.Asset{
		ID:          ev.AssetID,
		Name:        p.Name,
		AssetType:   p.AssetType,
		Location:    p.Location,
		Owner:       p.Owner,
		TotalSupply: p.TotalSupply,
		Status:      domain.AssetStatusPending,
		Metadata:    domain.AssetMetadata{SchemaVersion: domain.MetadataSchemaVersion},
	}
	err := r.assets.Create(ctx, a)
	switch {
	case errors.Is(err, storage.ErrDuplicateKey):
		return r.assets.GetByID(ctx, ev.AssetID)
	case err != nil:
		return nil, fmt.Errorf("create asset %s from chain: %w", ev.AssetID, err)
	}
	r.log.Info("asset discovered on chain", "asset_id", ev.AssetID, "total_supply", p.TotalSupply)
	return a, nil
}

// recordTransfer completes the audit record of a share transfer, creating it
// when the transfer did not originate here.
func (r *Reconciler) recordTransfer(ctx context.Context, ev *domain.ChainEvent, p *domain.TransferPayload) {
	if r.transactions == nil {
		return
	}
	hash := p.TransactionHash
	if hash == "" {
		hash = idhash.EventTxHash(ev.AssetID, ev.BlockNumber, string(ev.Type))
	}
	log := r.log.With("asset_id", ev.AssetID, "block", ev.BlockNumber, "hash", hash)

	existing, err := r.transactions.GetByHash(ctx, hash)
	switch {
	case err == nil:
		if existing.Status.IsTerminal() {
			return
		}
		if _, err := r.transactions.MarkTerminal(ctx, hash, domain.TxStatusCompleted, ev.BlockNumber); err != nil {
			log.Error("complete transfer transaction failed", "error", err)
		}
		return
	case !errors.Is(err, storage.ErrNotFound):
		log.Error("load transfer transaction failed", "error", err)
		return
	}

	err = r.transactions.Insert(ctx, &domain.Transaction{
		Hash:        hash,
		Type:        domain.TxTypeTransfer,
		Status:      domain.TxStatusCompleted,
		From:        p.From,
		To:          p.To,
		AssetID:     ev.AssetID,
		Amount:      decimal.NewFromInt(p.Shares),
		BlockNumber: ev.BlockNumber,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		log.Error("record transfer transaction failed", "error", err)
	}
}
