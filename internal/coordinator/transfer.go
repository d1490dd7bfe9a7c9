package coordinator

import (
	"context"

	"agri-token-ledger/internal/chain"
	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/idhash"
)

// TransferRequest asks for shares to move between holders. RequestID makes
// the submission idempotent.
type TransferRequest struct {
	RequestID string `json:"requestId"`
	AssetID   string `json:"assetId"`
	From      string `json:"from"`
	To        string `json:"to"`
	Shares    int64  `json:"shares"`
}

// TransferShares submits a share transfer. Holdings change when the
// resulting Transfer event is reconciled.
func (c *Coordinator) TransferShares(ctx context.Context, req TransferRequest) (*domain.Transaction, error) {
	switch {
	case req.RequestID == "":
		return nil, domain.NewValidationError("requestId", "required")
	case req.From == "" || req.To == "":
		return nil, domain.NewValidationError("to", "from and to are required")
	case req.From == req.To:
		return nil, domain.NewValidationError("to", "must differ from from")
	case req.Shares <= 0:
		return nil, domain.NewValidationError("shares", "must be positive")
	}

	asset, err := c.assets.GetByID(ctx, req.AssetID)
	if err != nil {
		return nil, err
	}
	if asset.Status != domain.AssetStatusActive {
		return nil, domain.NewValidationError("assetId", "asset is "+string(asset.Status))
	}

	ref := idhash.TransferRef(asset.ID, req.RequestID)
	if existing, err := c.transactions.GetByReference(ctx, ref); err == nil {
		return existing, nil
	}

	sub, err := chain.Call(ctx, c.retry, "transferShares", func(ctx context.Context) (*chain.Submission, error) {
		return c.actor.TransferShares(ctx, chain.TransferRequest{
			Reference: ref,
			TokenID:   asset.TokenID,
			From:      req.From,
			To:        req.To,
			Shares:    req.Shares,
		})
	})
	if err != nil {
		c.metrics.RecordSubmission("failed")
		return nil, err
	}
	c.metrics.RecordSubmission("ok")

	return c.recordTransaction(ctx, &domain.Transaction{
		Hash:      sub.TransactionHash,
		Type:      domain.TxTypeTransfer,
		Status:    domain.TxStatusPending,
		From:      req.From,
		To:        req.To,
		AssetID:   asset.ID,
		Fees:      sub.Fees,
		Reference: ref,
		CreatedAt: c.now(),
	})
}
