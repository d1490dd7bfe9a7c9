package idhash

import "fmt"

// DistributionJobID computes the id of a distribution job.
// Formula: SHA256(distribution|asset_id|period)
// One job exists per (asset, period); rerunning resumes it.
func DistributionJobID(assetID, period string) string {
	return sum(fmt.Sprintf("distribution|%s|%s", assetID, period))
}

// PayoutKey computes the idempotency key of one investor payout.
// Formula: SHA256(payout|asset_id|period|investment_id)
func PayoutKey(assetID, period string, investmentID int64) string {
	return sum(fmt.Sprintf("payout|%s|%s|%d", assetID, period, investmentID))
}
