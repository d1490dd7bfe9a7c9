package domain

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed request or a violated business rule.
// Not retried.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// CapacityError reports that an asset has fewer unreserved shares than requested.
type CapacityError struct {
	AssetID   string
	Requested int64
	Available int64
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("capacity: asset %s has %d shares available, %d requested",
		e.AssetID, e.Available, e.Requested)
}

// ChainCallError reports a failed or timed out on-chain call.
type ChainCallError struct {
	Op        string
	Attempts  int
	Retryable bool
	Err       error
}

func (e *ChainCallError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("chain call %s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
	}
	return fmt.Sprintf("chain call %s: %v", e.Op, e.Err)
}

func (e *ChainCallError) Unwrap() error {
	return e.Err
}

// ConflictReason classifies why a chain event or webhook was not applied.
type ConflictReason string

const (
	ConflictBadSignature ConflictReason = "bad_signature"
	ConflictStale        ConflictReason = "stale"
	ConflictDuplicate    ConflictReason = "duplicate"
	ConflictBuffered     ConflictReason = "buffered"
	ConflictBufferFull   ConflictReason = "buffer_full"
)

// ReconciliationConflict reports an inbound event that was dropped.
type ReconciliationConflict struct {
	Reason  ConflictReason
	AssetID string
	Block   uint64
	Err     error
}

func (e *ReconciliationConflict) Error() string {
	msg := fmt.Sprintf("reconciliation conflict (%s) for asset %s at block %d", e.Reason, e.AssetID, e.Block)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ReconciliationConflict) Unwrap() error {
	return e.Err
}

// DistributionPartialFailure reports a job in which some payouts were flagged.
type DistributionPartialFailure struct {
	JobID   string
	Paid    int
	Flagged int
}

func (e *DistributionPartialFailure) Error() string {
	return fmt.Sprintf("distribution %s partially failed: %d paid, %d flagged", e.JobID, e.Paid, e.Flagged)
}

// IsRetryable reports whether err is worth retrying against the chain.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	var ce *ChainCallError
	if errors.As(err, &ce) {
		return ce.Retryable
	}
	return true
}
