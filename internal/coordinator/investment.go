package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"agri-token-ledger/internal/chain"
	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/idhash"
	"agri-token-ledger/internal/notify"
	"agri-token-ledger/internal/storage"
)

// InvestmentRequest is an investor's request for shares of an asset.
type InvestmentRequest struct {
	InvestorID string          `json:"investorId"`
	AssetID    string          `json:"assetId"`
	Amount     decimal.Decimal `json:"amount"`
	Shares     int64           `json:"shares"`
}

// RequestInvestment reserves shares and queues the on-chain submission.
func (c *Coordinator) RequestInvestment(ctx context.Context, req InvestmentRequest) (*domain.Investment, error) {
	inv := &domain.Investment{
		InvestorID: req.InvestorID,
		AssetID:    req.AssetID,
		Amount:     req.Amount,
		Shares:     req.Shares,
	}
	if err := inv.ValidateRequest(); err != nil {
		c.metrics.RecordReservation("invalid")
		return nil, err
	}

	asset, err := c.assets.GetByID(ctx, req.AssetID)
	if err != nil {
		c.metrics.RecordReservation("error")
		return nil, err
	}

	if c.risk != nil {
		risk, err := c.risk.AssessRisk(ctx, asset)
		if err != nil {
			c.log.Warn("risk assessment failed", "asset_id", asset.ID, "error", err)
		} else {
			inv.Risk = risk
		}
	}
	if asset.Metadata.ExpectedYieldPct > 0 {
		yield := decimal.NewFromFloat(asset.Metadata.ExpectedYieldPct).Div(decimal.NewFromInt(100))
		inv.Returns.Expected = req.Amount.Mul(yield).Round(2)
	}

	reserved, err := c.investments.Reserve(ctx, inv)
	if err != nil {
		c.metrics.RecordReservation(reservationOutcome(err))
		return nil, err
	}
	c.metrics.RecordReservation("ok")

	if err := c.cache.Investment(ctx, reserved); err != nil {
		c.log.Error("cache invalidation failed", "investment_id", reserved.ID, "error", err)
	}
	c.log.Info("shares reserved",
		"investment_id", reserved.ID, "asset_id", reserved.AssetID,
		"investor_id", reserved.InvestorID, "shares", reserved.Shares)
	c.publish(ctx, notify.InvestmentRequested, reserved)

	c.enqueue(reserved.ID)
	return reserved, nil
}

func reservationOutcome(err error) string {
	var capErr *domain.CapacityError
	var valErr *domain.ValidationError
	switch {
	case errors.As(err, &capErr):
		return "capacity"
	case errors.As(err, &valErr):
		return "invalid"
	case errors.Is(err, storage.ErrNotFound):
		return "not_found"
	}
	return "error"
}

// Submit registers a pending investment on-chain and records its pending
// transaction. The chain call happens first; the relayer dedupes on the
// investment reference, so a repeated Submit returns the same hash.
// Exhausted retries record a failed transaction and release the reservation.
func (c *Coordinator) Submit(ctx context.Context, investmentID int64) (*domain.Transaction, error) {
	unlock := c.investmentLocks.lock(strconv.FormatInt(investmentID, 10))
	defer unlock()

	inv, err := c.investments.GetByID(ctx, investmentID)
	if err != nil {
		return nil, err
	}
	ref := idhash.InvestmentRef(inv.ID)

	if inv.TransactionHash != "" {
		return c.transactions.GetByHash(ctx, inv.TransactionHash)
	}
	if inv.Status != domain.InvestmentStatusPending {
		return nil, fmt.Errorf("%w: investment %d is %s", ErrNotPending, inv.ID, inv.Status)
	}

	asset, err := c.assets.GetByID(ctx, inv.AssetID)
	if err != nil {
		return nil, fmt.Errorf("load asset %s: %w", inv.AssetID, err)
	}

	sub, err := chain.Call(ctx, c.retry, "mintShares", func(ctx context.Context) (*chain.Submission, error) {
		return c.actor.MintShares(ctx, chain.MintRequest{
			Reference:  ref,
			AssetID:    asset.ID,
			TokenID:    asset.TokenID,
			InvestorID: inv.InvestorID,
			Shares:     inv.Shares,
			Amount:     inv.Amount,
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			// Left pending; the sweep resubmits with the same reference.
			c.metrics.RecordSubmission("interrupted")
			return nil, ctx.Err()
		}
		c.metrics.RecordSubmission("failed")
		return c.failSubmission(ctx, inv, ref, err)
	}
	c.metrics.RecordSubmission("ok")

	tx := &domain.Transaction{
		Hash:         sub.TransactionHash,
		Type:         domain.TxTypeInvestment,
		Status:       domain.TxStatusPending,
		From:         asset.Owner,
		To:           inv.InvestorID,
		AssetID:      inv.AssetID,
		InvestmentID: inv.ID,
		Amount:       inv.Amount,
		Fees:         sub.Fees,
		Reference:    ref,
		CreatedAt:    c.now(),
	}
	recorded, err := c.recordTransaction(ctx, tx)
	if err != nil {
		return nil, err
	}
	if err := c.investments.AttachTransaction(ctx, inv.ID, recorded.Hash); err != nil {
		c.metrics.RecordDivergence("attach")
		c.log.Error("submission hash not attached", "investment_id", inv.ID, "hash", recorded.Hash, "error", err)
	}

	c.log.Info("investment submitted", "investment_id", inv.ID, "hash", recorded.Hash)
	return recorded, nil
}

// recordTransaction inserts tx, returning the stored record when the hash
// is already known. A failed insert after a successful chain call is a
// divergence the sweep heals.
func (c *Coordinator) recordTransaction(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	err := c.transactions.Insert(ctx, tx)
	if err == nil {
		return tx, nil
	}
	if errors.Is(err, storage.ErrDuplicateKey) {
		return c.transactions.GetByHash(ctx, tx.Hash)
	}
	c.metrics.RecordDivergence("tx_insert")
	c.log.Error("on-chain submission not recorded", "hash", tx.Hash, "reference", tx.Reference, "error", err)
	return nil, fmt.Errorf("record transaction %s: %w", tx.Hash, err)
}

// failSubmission records the failed attempt and releases the reservation.
func (c *Coordinator) failSubmission(ctx context.Context, inv *domain.Investment, ref string, cause error) (*domain.Transaction, error) {
	tx := &domain.Transaction{
		Hash:         idhash.FailedTxHash(ref),
		Type:         domain.TxTypeInvestment,
		Status:       domain.TxStatusFailed,
		To:           inv.InvestorID,
		AssetID:      inv.AssetID,
		InvestmentID: inv.ID,
		Amount:       inv.Amount,
		Reference:    ref,
		CreatedAt:    c.now(),
	}
	if err := c.transactions.Insert(ctx, tx); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		c.log.Error("failed transaction not recorded", "investment_id", inv.ID, "error", err)
	}

	released, err := c.investments.Release(ctx, inv.ID)
	if err != nil {
		return tx, fmt.Errorf("release investment %d after %v: %w", inv.ID, cause, err)
	}
	if err := c.cache.Investment(ctx, released); err != nil {
		c.log.Error("cache invalidation failed", "investment_id", inv.ID, "error", err)
	}

	c.log.Warn("investment submission failed", "investment_id", inv.ID, "error", cause)
	c.publish(ctx, notify.InvestmentFailed, released)
	return tx, cause
}

// CompleteInvestment moves an active investment to completed.
func (c *Coordinator) CompleteInvestment(ctx context.Context, investmentID int64) (*domain.Investment, error) {
	return c.transition(ctx, investmentID, domain.InvestmentStatusCompleted, notify.InvestmentCompleted)
}

// DefaultInvestment moves an active investment to defaulted.
func (c *Coordinator) DefaultInvestment(ctx context.Context, investmentID int64) (*domain.Investment, error) {
	return c.transition(ctx, investmentID, domain.InvestmentStatusDefaulted, notify.InvestmentDefaulted)
}

func (c *Coordinator) transition(ctx context.Context, id int64, to domain.InvestmentStatus, eventType string) (*domain.Investment, error) {
	inv, err := c.investments.Transition(ctx, id, to)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Investment(ctx, inv); err != nil {
		c.log.Error("cache invalidation failed", "investment_id", id, "error", err)
	}
	c.log.Info("investment transitioned", "investment_id", id, "status", to)
	c.publish(ctx, eventType, inv)
	return inv, nil
}

// SubmitPayout transfers one payout on-chain under policy and records the
// distribution transaction. The reference is the payout idempotency key.
func (c *Coordinator) SubmitPayout(ctx context.Context, req chain.PayoutRequest, policy chain.RetryPolicy) (*domain.Transaction, error) {
	if policy.OnAttempt == nil {
		policy.OnAttempt = c.retry.OnAttempt
	}

	sub, err := chain.Call(ctx, policy, "distributeReturns", func(ctx context.Context) (*chain.Submission, error) {
		return c.actor.DistributeReturns(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	tx := &domain.Transaction{
		Hash:         sub.TransactionHash,
		Type:         domain.TxTypeDistribution,
		Status:       domain.TxStatusPending,
		To:           req.InvestorID,
		AssetID:      req.AssetID,
		InvestmentID: req.InvestmentID,
		Amount:       req.Amount,
		Fees:         sub.Fees,
		Reference:    req.Reference,
		CreatedAt:    c.now(),
	}
	recorded, err := c.recordTransaction(ctx, tx)
	if err != nil {
		// The transfer happened; the payout stands without its audit row.
		return tx, nil
	}
	return recorded, nil
}
