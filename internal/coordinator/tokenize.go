package coordinator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"agri-token-ledger/internal/chain"
	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/idhash"
	"agri-token-ledger/internal/storage"
)

// TokenizeRequest asks for a new asset to be tokenized.
type TokenizeRequest struct {
	ID           string               `json:"id,omitempty"`
	Name         string               `json:"name"`
	Owner        string               `json:"owner"`
	AssetType    string               `json:"assetType"`
	Location     string               `json:"location"`
	TotalSupply  int64                `json:"totalSupply"`
	CurrentValue decimal.Decimal      `json:"currentValue"`
	Metadata     domain.AssetMetadata `json:"metadata"`
}

func (r *TokenizeRequest) validate() error {
	if r.Name == "" {
		return domain.NewValidationError("name", "required")
	}
	if r.Owner == "" {
		return domain.NewValidationError("owner", "required")
	}
	if r.TotalSupply <= 0 {
		return domain.NewValidationError("totalSupply", "must be positive")
	}
	if r.CurrentValue.IsNegative() {
		return domain.NewValidationError("currentValue", "must not be negative")
	}
	if r.Metadata.SchemaVersion == 0 {
		r.Metadata.SchemaVersion = domain.MetadataSchemaVersion
	}
	return r.Metadata.Validate()
}

// Tokenize creates a pending asset and requests its token on-chain. The
// asset becomes active when the AssetTokenized event is reconciled.
// Repeating the request for a pending asset without a token retries the
// chain call under the same reference; for a tokenized asset it returns the
// recorded transaction.
func (c *Coordinator) Tokenize(ctx context.Context, req TokenizeRequest) (*domain.Asset, *domain.Transaction, error) {
	if err := req.validate(); err != nil {
		return nil, nil, err
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	unlock := c.assetLocks.lock(req.ID)
	defer unlock()

	asset := &domain.Asset{
		ID:          req.ID,
		Owner:       req.Owner,
		Name:        req.Name,
		AssetType:   req.AssetType,
		Location:    req.Location,
		TotalSupply: req.TotalSupply,
		Status:      domain.AssetStatusPending,
		Financials:  domain.AssetFinancials{CurrentValue: req.CurrentValue},
		Metadata:    req.Metadata,
	}
	err := c.assets.Create(ctx, asset)
	if errors.Is(err, storage.ErrDuplicateKey) {
		existing, getErr := c.assets.GetByID(ctx, req.ID)
		if getErr != nil {
			return nil, nil, getErr
		}
		if existing.TokenID != "" {
			tx, txErr := c.transactions.GetByReference(ctx, idhash.TokenizeRef(existing.ID))
			if txErr != nil {
				return existing, nil, txErr
			}
			return existing, tx, nil
		}
		if existing.Status != domain.AssetStatusPending {
			return nil, nil, err
		}
		c.log.Info("retrying tokenization", "asset_id", existing.ID)
		asset = existing
	} else if err != nil {
		return nil, nil, err
	}

	return c.tokenize(ctx, asset)
}

// tokenize requests the token of a pending asset and records the result.
// Caller must hold the asset lock.
func (c *Coordinator) tokenize(ctx context.Context, asset *domain.Asset) (*domain.Asset, *domain.Transaction, error) {
	ref := idhash.TokenizeRef(asset.ID)
	res, err := chain.Call(ctx, c.retry, "createToken", func(ctx context.Context) (*chain.TokenResult, error) {
		return c.actor.CreateToken(ctx, chain.CreateTokenRequest{
			Reference:   ref,
			AssetID:     asset.ID,
			Name:        asset.Name,
			Owner:       asset.Owner,
			TotalSupply: asset.TotalSupply,
			Metadata:    asset.Metadata,
		})
	})
	if err != nil {
		c.metrics.RecordSubmission("failed")
		tx := &domain.Transaction{
			Hash:      idhash.FailedTxHash(ref),
			Type:      domain.TxTypeTokenize,
			Status:    domain.TxStatusFailed,
			From:      asset.Owner,
			AssetID:   asset.ID,
			Reference: ref,
			CreatedAt: c.now(),
		}
		if insErr := c.transactions.Insert(ctx, tx); insErr != nil && !errors.Is(insErr, storage.ErrDuplicateKey) {
			c.log.Error("failed tokenization not recorded", "asset_id", asset.ID, "error", insErr)
		}
		c.log.Warn("tokenization failed", "asset_id", asset.ID, "error", err)
		return asset, tx, err
	}
	c.metrics.RecordSubmission("ok")

	if err := c.assets.SetToken(ctx, asset.ID, res.TokenID, res.ContractAddress); err != nil {
		c.metrics.RecordDivergence("set_token")
		return asset, nil, fmt.Errorf("record token of %s: %w", asset.ID, err)
	}
	asset.TokenID = res.TokenID
	asset.ContractAddress = res.ContractAddress

	tx, err := c.recordTransaction(ctx, &domain.Transaction{
		Hash:      res.TransactionHash,
		Type:      domain.TxTypeTokenize,
		Status:    domain.TxStatusPending,
		From:      asset.Owner,
		AssetID:   asset.ID,
		Fees:      res.Fees,
		Reference: ref,
		CreatedAt: c.now(),
	})
	if err != nil {
		return asset, nil, err
	}

	if err := c.cache.Asset(ctx, asset.ID, asset.Owner); err != nil {
		c.log.Error("cache invalidation failed", "asset_id", asset.ID, "error", err)
	}
	c.log.Info("tokenization submitted", "asset_id", asset.ID, "token_id", asset.TokenID, "hash", tx.Hash)
	return asset, tx, nil
}

// retokenize retries the chain call of a pending asset that never got a
// token. It reports false when the asset no longer needs it.
func (c *Coordinator) retokenize(ctx context.Context, assetID string) (bool, error) {
	unlock := c.assetLocks.lock(assetID)
	defer unlock()

	asset, err := c.assets.GetByID(ctx, assetID)
	if err != nil {
		return false, err
	}
	if asset.Status != domain.AssetStatusPending || asset.TokenID != "" {
		return false, nil
	}
	if _, _, err := c.tokenize(ctx, asset); err != nil {
		return false, err
	}
	return true, nil
}

// RefreshValuation reads the asset value from chain and stores it.
func (c *Coordinator) RefreshValuation(ctx context.Context, assetID string) (decimal.Decimal, error) {
	asset, err := c.assets.GetByID(ctx, assetID)
	if err != nil {
		return decimal.Zero, err
	}
	if asset.TokenID == "" {
		return decimal.Zero, domain.NewValidationError("assetId", "asset is not tokenized")
	}

	value, err := chain.Call(ctx, c.retry, "getAssetValue", func(ctx context.Context) (decimal.Decimal, error) {
		return c.actor.GetAssetValue(ctx, asset.TokenID)
	})
	if err != nil {
		return decimal.Zero, err
	}
	if err := c.assets.UpdateValuation(ctx, assetID, value); err != nil {
		return decimal.Zero, err
	}
	if err := c.cache.Asset(ctx, assetID); err != nil {
		c.log.Error("cache invalidation failed", "asset_id", assetID, "error", err)
	}
	return value, nil
}
