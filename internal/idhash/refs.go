package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// sum returns the hex-encoded SHA256 of data (64 characters).
func sum(data string) string {
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// InvestmentRef computes the submission reference of an investment.
// Formula: SHA256(investment|investment_id)
// The relayer dedupes on it, so resubmitting the same investment never
// produces a second chain transaction.
func InvestmentRef(investmentID int64) string {
	return sum(fmt.Sprintf("investment|%d", investmentID))
}

// TokenizeRef computes the submission reference of an asset tokenization.
// Formula: SHA256(tokenize|asset_id)
func TokenizeRef(assetID string) string {
	return sum(fmt.Sprintf("tokenize|%s", assetID))
}

// FailedTxHash computes the audit hash recorded for a submission that never
// reached the chain.
// Formula: SHA256(failed|reference)
func FailedTxHash(reference string) string {
	return sum(fmt.Sprintf("failed|%s", reference))
}

// EventTxHash computes the audit hash of a chain event that carried no
// transaction hash of its own.
// Formula: SHA256(event|asset_id|block_number|event_type)
func EventTxHash(assetID string, blockNumber uint64, eventType string) string {
	return sum(fmt.Sprintf("event|%s|%d|%s", assetID, blockNumber, eventType))
}

// TransferRef computes the submission reference of a share transfer.
// Formula: SHA256(transfer|asset_id|request_id)
func TransferRef(assetID, requestID string) string {
	return sum(fmt.Sprintf("transfer|%s|%s", assetID, requestID))
}
