package distribution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"agri-token-ledger/internal/chain"
	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/notify"
)

// errInterrupted stops the batch without flagging the current entry.
var errInterrupted = errors.New("distribution interrupted")

// payable reports whether a run should attempt the entry. Entries flagged
// after their transfer went through are left for manual reconciliation.
func payable(e *domain.DistributionEntry) bool {
	switch e.Status {
	case domain.EntryStatusPending:
		return true
	case domain.EntryStatusFlagged:
		return e.TransactionHash == ""
	}
	return false
}

// run pays every payable entry of job in order, checkpointing after each.
func (e *Engine) run(ctx context.Context, job *domain.DistributionJob) (*domain.DistributionJob, error) {
	start := time.Now()
	// Checkpoints must land even when ctx is the reason the batch stops.
	saveCtx := context.WithoutCancel(ctx)
	var points []*domain.PayoutPoint

	e.mu.Lock()
	job.Status = domain.JobStatusRunning
	n := len(job.Entries)
	e.mu.Unlock()

	var runErr error
	for i := 0; i < n; i++ {
		e.mu.Lock()
		entry := job.Entries[i]
		e.mu.Unlock()
		if !payable(&entry) {
			continue
		}
		if ctx.Err() != nil {
			runErr = errInterrupted
			break
		}

		point, err := e.pay(ctx, job, i, entry)
		if point != nil {
			points = append(points, point)
		}
		if cerr := e.checkpoint(saveCtx, job); cerr != nil && err == nil {
			err = cerr
		}
		if err != nil {
			runErr = err
			break
		}
	}

	e.appendSeries(saveCtx, points)

	e.mu.Lock()
	switch {
	case runErr != nil:
		job.Status = domain.JobStatusInterrupted
	default:
		if _, flagged := job.Counts(); flagged > 0 {
			job.Status = domain.JobStatusPartialSuccess
		} else {
			job.Status = domain.JobStatusSucceeded
		}
	}
	status := job.Status
	paid, flagged := job.Counts()
	e.mu.Unlock()

	if err := e.checkpoint(saveCtx, job); err != nil && runErr == nil {
		runErr = err
	}
	if err := e.cache.Asset(saveCtx, job.AssetID); err != nil {
		e.log.Warn("cache invalidation failed", "asset_id", job.AssetID, "error", err)
	}
	e.metrics.RecordDistribution(string(status), time.Since(start))

	result := e.snapshot(job)
	log := e.log.With("job_id", job.ID, "asset_id", job.AssetID, "period", job.Period)

	if runErr != nil {
		if errors.Is(runErr, errInterrupted) {
			log.Warn("distribution interrupted", "paid", paid, "flagged", flagged)
			return result, ctx.Err()
		}
		log.Error("distribution stopped", "paid", paid, "flagged", flagged, "error", runErr)
		return result, runErr
	}

	e.publish(saveCtx, notify.DistributionDone, map[string]any{
		"jobId":   job.ID,
		"assetId": job.AssetID,
		"period":  job.Period,
		"status":  status,
		"paid":    paid,
		"flagged": flagged,
	})
	log.Info("distribution finished", "status", status, "paid", paid, "flagged", flagged)

	if flagged > 0 {
		return result, &domain.DistributionPartialFailure{JobID: job.ID, Paid: paid, Flagged: flagged}
	}
	return result, nil
}

// pay transfers one entry and credits it. It returns the payout point of a
// fresh credit.
func (e *Engine) pay(ctx context.Context, job *domain.DistributionJob, i int, entry domain.DistributionEntry) (*domain.PayoutPoint, error) {
	log := e.log.With("job_id", job.ID, "investment_id", entry.InvestmentID)

	if !entry.Amount.IsPositive() {
		e.update(job, i, func(en *domain.DistributionEntry) {
			en.Status = domain.EntryStatusPaid
			en.LastError = ""
		})
		return nil, nil
	}

	e.update(job, i, func(en *domain.DistributionEntry) {
		en.Status = domain.EntryStatusPending
		en.Attempts++
	})

	tx, err := e.submitter.SubmitPayout(ctx, chain.PayoutRequest{
		Reference:    entry.Key,
		AssetID:      job.AssetID,
		InvestmentID: entry.InvestmentID,
		InvestorID:   entry.InvestorID,
		Amount:       entry.Amount,
	}, e.policy)
	if err != nil {
		if ctx.Err() != nil {
			e.update(job, i, func(en *domain.DistributionEntry) { en.LastError = err.Error() })
			return nil, errInterrupted
		}
		e.update(job, i, func(en *domain.DistributionEntry) {
			en.Status = domain.EntryStatusFlagged
			en.LastError = err.Error()
		})
		e.metrics.RecordPayout("flagged")
		log.Warn("payout flagged", "error", err)
		e.publish(ctx, notify.PayoutFlagged, map[string]any{
			"jobId":        job.ID,
			"assetId":      job.AssetID,
			"investmentId": entry.InvestmentID,
			"key":          entry.Key,
			"reason":       err.Error(),
		})
		return nil, nil
	}

	paidAt := e.now().UTC()
	e.update(job, i, func(en *domain.DistributionEntry) { en.TransactionHash = tx.Hash })

	credited, err := e.investments.RecordPayout(ctx, &domain.Payout{
		Key:             entry.Key,
		InvestmentID:    entry.InvestmentID,
		AssetID:         job.AssetID,
		Period:          job.Period,
		Amount:          entry.Amount,
		TransactionHash: tx.Hash,
		PaidAt:          paidAt,
	})
	if err != nil {
		// The transfer went through; a resumed run resubmits under the same
		// reference and credits once.
		e.update(job, i, func(en *domain.DistributionEntry) { en.LastError = err.Error() })
		return nil, fmt.Errorf("record payout %s: %w", entry.Key, err)
	}

	e.update(job, i, func(en *domain.DistributionEntry) {
		// A confirmation failure may have flagged the entry meanwhile.
		if en.Status == domain.EntryStatusPending {
			en.Status = domain.EntryStatusPaid
			en.LastError = ""
		}
	})
	e.metrics.RecordPayout("paid")

	if err := e.cache.Investment(ctx, &domain.Investment{
		ID: entry.InvestmentID, AssetID: job.AssetID, InvestorID: entry.InvestorID,
	}); err != nil {
		log.Warn("cache invalidation failed", "error", err)
	}

	if !credited {
		log.Debug("payout already credited", "key", entry.Key)
		return nil, nil
	}
	return &domain.PayoutPoint{
		InvestmentID: entry.InvestmentID,
		InvestorID:   entry.InvestorID,
		AssetID:      job.AssetID,
		Period:       job.Period,
		Amount:       entry.Amount,
		Principal:    entry.Principal,
		PaidAt:       paidAt,
	}, nil
}

func (e *Engine) update(job *domain.DistributionJob, i int, fn func(en *domain.DistributionEntry)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&job.Entries[i])
}

func (e *Engine) checkpoint(ctx context.Context, job *domain.DistributionJob) error {
	e.mu.Lock()
	job.UpdatedAt = e.now().UTC()
	c := job.Clone()
	e.mu.Unlock()

	if err := e.jobs.Save(ctx, c); err != nil {
		return fmt.Errorf("checkpoint job %s: %w", job.ID, err)
	}
	return nil
}

// appendSeries writes paid entries to the payout series. The series feeds
// analytics only, so failures are logged.
func (e *Engine) appendSeries(ctx context.Context, points []*domain.PayoutPoint) {
	if e.payouts == nil || len(points) == 0 {
		return
	}
	if err := e.payouts.InsertBulk(ctx, points); err != nil {
		e.log.Error("append payout series failed", "points", len(points), "error", err)
	}
}

func (e *Engine) publish(ctx context.Context, eventType string, payload any) {
	if err := e.notifier.Publish(ctx, eventType, payload); err != nil {
		e.log.Warn("notification publish failed", "type", eventType, "error", err)
	}
}

// FlagPayout marks the entry with key in a job of assetID for manual
// reconciliation. It is called when a submitted transfer fails on-chain.
func (e *Engine) FlagPayout(ctx context.Context, assetID, key, reason string) error {
	e.mu.Lock()
	for _, job := range e.active {
		if job == nil || job.AssetID != assetID {
			continue
		}
		for i := range job.Entries {
			if job.Entries[i].Key == key {
				job.Entries[i].Status = domain.EntryStatusFlagged
				job.Entries[i].LastError = reason
				e.mu.Unlock()
				// The running job checkpoints the change.
				e.flagged(ctx, job.ID, assetID, key, reason)
				return nil
			}
		}
	}
	e.mu.Unlock()

	jobs, err := e.jobs.ListByAsset(ctx, assetID)
	if err != nil {
		return fmt.Errorf("list jobs of %s: %w", assetID, err)
	}
	for _, job := range jobs {
		for i := range job.Entries {
			if job.Entries[i].Key != key {
				continue
			}
			job.Entries[i].Status = domain.EntryStatusFlagged
			job.Entries[i].LastError = reason
			if job.Status == domain.JobStatusSucceeded {
				job.Status = domain.JobStatusPartialSuccess
			}
			job.UpdatedAt = e.now().UTC()
			if err := e.jobs.Save(ctx, job); err != nil {
				return fmt.Errorf("save job %s: %w", job.ID, err)
			}
			e.flagged(ctx, job.ID, assetID, key, reason)
			return nil
		}
	}
	return fmt.Errorf("payout %s of asset %s: %w", key, assetID, errNoEntry)
}

var errNoEntry = errors.New("no distribution entry")

func (e *Engine) flagged(ctx context.Context, jobID, assetID, key, reason string) {
	e.metrics.RecordPayout("flagged")
	e.log.Warn("payout flagged after submission", "job_id", jobID, "key", key, "reason", reason)
	e.publish(ctx, notify.PayoutFlagged, map[string]any{
		"jobId":   jobID,
		"assetId": assetID,
		"key":     key,
		"reason":  reason,
	})
}
