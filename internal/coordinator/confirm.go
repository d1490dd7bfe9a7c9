package coordinator

import (
	"context"
	"fmt"

	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/notify"
)

// ConfirmResult is the outcome of Confirm.
type ConfirmResult struct {
	Transaction *domain.Transaction `json:"transaction"`
	// Applied is false when the transaction was already terminal or the
	// reported status was still pending.
	Applied bool `json:"applied"`
}

// Confirm applies an on-chain status to a recorded transaction. Calls are
// serialized per hash; only the first call that observes a terminal status
// has effect, later calls return the recorded transaction.
func (c *Coordinator) Confirm(ctx context.Context, hash string, status domain.TxStatus, block uint64) (*ConfirmResult, error) {
	if hash == "" {
		return nil, domain.NewValidationError("transactionHash", "required")
	}
	if !status.IsValid() {
		return nil, domain.NewValidationError("status", fmt.Sprintf("unknown status %q", status))
	}

	unlock := c.txLocks.lock(hash)
	defer unlock()

	tx, err := c.transactions.GetByHash(ctx, hash)
	if err != nil {
		return nil, err
	}

	if tx.Status.IsTerminal() {
		c.metrics.RecordConfirmation("duplicate")
		return &ConfirmResult{Transaction: tx}, nil
	}
	if status == domain.TxStatusPending {
		c.metrics.RecordConfirmation("pending")
		return &ConfirmResult{Transaction: tx}, nil
	}

	switch status {
	case domain.TxStatusCompleted:
		err = c.applyCompleted(ctx, tx)
	case domain.TxStatusFailed:
		err = c.applyFailed(ctx, tx)
	}
	if err != nil {
		c.metrics.RecordConfirmation("error")
		return nil, err
	}

	if _, err := c.transactions.MarkTerminal(ctx, hash, status, block); err != nil {
		c.metrics.RecordConfirmation("error")
		return nil, fmt.Errorf("mark transaction %s %s: %w", hash, status, err)
	}

	recorded, err := c.transactions.GetByHash(ctx, hash)
	if err != nil {
		return nil, err
	}
	c.metrics.RecordConfirmation(string(status))
	c.log.Info("transaction confirmed", "hash", hash, "type", tx.Type, "status", status, "block", block)
	return &ConfirmResult{Transaction: recorded, Applied: true}, nil
}

// applyCompleted performs the ledger effect of a completed transaction.
// Commit is guarded by its own processed marker, so a crash between Commit
// and MarkTerminal is safe to replay.
func (c *Coordinator) applyCompleted(ctx context.Context, tx *domain.Transaction) error {
	if tx.Type != domain.TxTypeInvestment {
		return nil
	}

	applied, inv, err := c.investments.Commit(ctx, tx.InvestmentID, tx.Hash)
	if err != nil {
		return fmt.Errorf("commit investment %d: %w", tx.InvestmentID, err)
	}
	if !applied {
		return nil
	}

	if err := c.cache.Asset(ctx, inv.AssetID); err != nil {
		c.log.Error("cache invalidation failed", "asset_id", inv.AssetID, "error", err)
	}
	c.publish(ctx, notify.InvestmentConfirmed, inv)
	return nil
}

// applyFailed releases the reservation of a failed investment or flags a
// failed payout.
func (c *Coordinator) applyFailed(ctx context.Context, tx *domain.Transaction) error {
	switch tx.Type {
	case domain.TxTypeInvestment:
		inv, err := c.investments.Release(ctx, tx.InvestmentID)
		if err != nil {
			return fmt.Errorf("release investment %d: %w", tx.InvestmentID, err)
		}
		if err := c.cache.Investment(ctx, inv); err != nil {
			c.log.Error("cache invalidation failed", "investment_id", inv.ID, "error", err)
		}
		c.publish(ctx, notify.InvestmentFailed, inv)

	case domain.TxTypeDistribution:
		f := c.payoutFlagger()
		if f == nil {
			c.log.Warn("failed payout has no flagger", "hash", tx.Hash, "reference", tx.Reference)
			return nil
		}
		if err := f.FlagPayout(ctx, tx.AssetID, tx.Reference, "on-chain transfer failed: "+tx.Hash); err != nil {
			return fmt.Errorf("flag payout %s: %w", tx.Reference, err)
		}
	}
	return nil
}
