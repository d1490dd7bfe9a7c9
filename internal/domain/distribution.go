package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// JobStatus is the status of a distribution job.
type JobStatus string

const (
	JobStatusRunning        JobStatus = "running"
	JobStatusSucceeded      JobStatus = "succeeded"
	JobStatusPartialSuccess JobStatus = "partial_success"
	JobStatusInterrupted    JobStatus = "interrupted"
)

// EntryStatus is the status of a single payout within a job.
type EntryStatus string

const (
	EntryStatusPending EntryStatus = "pending"
	EntryStatusPaid    EntryStatus = "paid"
	EntryStatusFlagged EntryStatus = "flagged" // needs manual reconciliation
)

// DistributionEntry is one investor payout in a job snapshot.
type DistributionEntry struct {
	InvestmentID    int64           `json:"investmentId"`
	InvestorID      string          `json:"investorId"`
	Shares          int64           `json:"shares"`
	Amount          decimal.Decimal `json:"amount"`
	Principal       decimal.Decimal `json:"principal"`
	Key             string          `json:"key"`
	Status          EntryStatus     `json:"status"`
	Attempts        int             `json:"attempts"`
	TransactionHash string          `json:"transactionHash,omitempty"`
	LastError       string          `json:"lastError,omitempty"`
}

// DistributionJob is a checkpointed proportional payout over the active
// investments of an asset for one period.
type DistributionJob struct {
	ID          string              `json:"jobId"`
	AssetID     string              `json:"assetId"`
	Period      string              `json:"period"`
	TotalAmount decimal.Decimal     `json:"totalAmount"`
	Status      JobStatus           `json:"status"`
	Entries     []DistributionEntry `json:"entries"`
	CreatedAt   time.Time           `json:"createdAt"`
	UpdatedAt   time.Time           `json:"updatedAt"`
}

// Counts returns the number of paid and flagged entries.
func (j *DistributionJob) Counts() (paid, flagged int) {
	for _, e := range j.Entries {
		switch e.Status {
		case EntryStatusPaid:
			paid++
		case EntryStatusFlagged:
			flagged++
		}
	}
	return paid, flagged
}

// Clone returns a deep copy of the job.
func (j *DistributionJob) Clone() *DistributionJob {
	c := *j
	c.Entries = append([]DistributionEntry(nil), j.Entries...)
	return &c
}

// PayoutPoint is one paid distribution in the analytics time series.
type PayoutPoint struct {
	InvestmentID int64           `json:"investmentId"`
	InvestorID   string          `json:"investorId"`
	AssetID      string          `json:"assetId"`
	Period       string          `json:"period"`
	Amount       decimal.Decimal `json:"amount"`
	Principal    decimal.Decimal `json:"principal"`
	PaidAt       time.Time       `json:"paidAt"`
}
