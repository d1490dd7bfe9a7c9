package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"agri-token-ledger/internal/chain"
	"agri-token-ledger/internal/domain"
)

// SweepReport counts what a sweep healed.
type SweepReport struct {
	Resubmitted int `json:"resubmitted"`
	Retokenized int `json:"retokenized"`
	Replayed    int `json:"replayed"`
	Abandoned   int `json:"abandoned"`
	Updated     int `json:"updated"`
	Errors      int `json:"errors"`
}

// Sweep reconciles the store with the chain:
//   - pending investments without a transaction past PendingTimeout are
//     resubmitted (same reference, so the lost hash comes back);
//   - pending assets without a token past PendingTimeout get their
//     tokenization retried under the same reference;
//   - pending transactions past PendingTimeout are looked up and replayed
//     through Confirm, or get their confirmation count refreshed;
//   - transactions still unknown on-chain past AbandonTimeout are failed.
func (c *Coordinator) Sweep(ctx context.Context) (SweepReport, error) {
	var (
		mu     sync.Mutex
		report SweepReport
	)
	count := func(field *int) {
		mu.Lock()
		*field++
		mu.Unlock()
	}

	now := c.now()

	orphans, err := c.investments.ListPendingWithoutTransaction(ctx, now.Add(-c.pendingTimeout))
	if err != nil {
		c.metrics.RecordSweep(err)
		return report, fmt.Errorf("list unsubmitted investments: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for _, inv := range orphans {
		g.Go(func() error {
			c.metrics.RecordDivergence("unsubmitted")
			if _, err := c.Submit(gctx, inv.ID); err != nil && !errors.Is(err, ErrNotPending) {
				c.log.Warn("sweep resubmission failed", "investment_id", inv.ID, "error", err)
				count(&report.Errors)
				return nil
			}
			count(&report.Resubmitted)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.metrics.RecordSweep(err)
		return report, err
	}

	assets, err := c.assets.List(ctx)
	if err != nil {
		c.metrics.RecordSweep(err)
		return report, fmt.Errorf("list assets: %w", err)
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for _, a := range assets {
		if a.Status != domain.AssetStatusPending || a.TokenID != "" || !a.CreatedAt.Before(now.Add(-c.pendingTimeout)) {
			continue
		}
		g.Go(func() error {
			c.metrics.RecordDivergence("untokenized")
			done, err := c.retokenize(gctx, a.ID)
			if err != nil {
				c.log.Warn("sweep tokenization failed", "asset_id", a.ID, "error", err)
				count(&report.Errors)
				return nil
			}
			if done {
				count(&report.Retokenized)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.metrics.RecordSweep(err)
		return report, err
	}

	pending, err := c.transactions.ListPending(ctx, now.Add(-c.pendingTimeout))
	if err != nil {
		c.metrics.RecordSweep(err)
		return report, fmt.Errorf("list pending transactions: %w", err)
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(c.workers)

	for _, tx := range pending {
		g.Go(func() error {
			outcome, err := c.sweepTransaction(gctx, tx)
			if err != nil {
				c.log.Warn("sweep lookup failed", "hash", tx.Hash, "error", err)
				count(&report.Errors)
				return nil
			}
			switch outcome {
			case sweepReplayed:
				count(&report.Replayed)
			case sweepAbandoned:
				count(&report.Abandoned)
			case sweepUpdated:
				count(&report.Updated)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.metrics.RecordSweep(err)
		return report, err
	}

	c.metrics.RecordSweep(nil)
	if report != (SweepReport{}) {
		c.log.Info("sweep finished",
			"resubmitted", report.Resubmitted, "retokenized", report.Retokenized, "replayed", report.Replayed,
			"abandoned", report.Abandoned, "updated", report.Updated, "errors", report.Errors)
	}
	return report, ctx.Err()
}

type sweepOutcome int

const (
	sweepNone sweepOutcome = iota
	sweepReplayed
	sweepAbandoned
	sweepUpdated
)

func (c *Coordinator) sweepTransaction(ctx context.Context, tx *domain.Transaction) (sweepOutcome, error) {
	st, err := chain.Call(ctx, c.retry, "getTransactionStatus", func(ctx context.Context) (*chain.TxStatus, error) {
		return c.actor.GetTransactionStatus(ctx, tx.Hash)
	})
	if errors.Is(err, chain.ErrTxNotFound) {
		if c.now().Sub(tx.CreatedAt) < c.abandonTimeout {
			return sweepNone, nil
		}
		c.metrics.RecordDivergence("abandoned")
		if _, err := c.Confirm(ctx, tx.Hash, domain.TxStatusFailed, 0); err != nil {
			return sweepNone, err
		}
		c.log.Warn("abandoned unknown transaction", "hash", tx.Hash, "type", tx.Type)
		return sweepAbandoned, nil
	}
	if err != nil {
		return sweepNone, err
	}

	if st.Status.IsTerminal() {
		c.metrics.RecordDivergence("missed_confirmation")
		res, err := c.Confirm(ctx, tx.Hash, st.Status, st.BlockNumber)
		if err != nil {
			return sweepNone, err
		}
		if err := c.transactions.UpdateConfirmations(ctx, tx.Hash, st.Confirmations); err != nil {
			c.log.Warn("confirmation count not updated", "hash", tx.Hash, "error", err)
		}
		if res.Applied {
			return sweepReplayed, nil
		}
		return sweepNone, nil
	}

	if st.Confirmations != tx.Confirmations {
		if err := c.transactions.UpdateConfirmations(ctx, tx.Hash, st.Confirmations); err != nil {
			return sweepNone, err
		}
		return sweepUpdated, nil
	}
	return sweepNone, nil
}
