package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvestmentStatus represents the lifecycle state of an investment.
type InvestmentStatus string

const (
	InvestmentStatusPending   InvestmentStatus = "pending"
	InvestmentStatusActive    InvestmentStatus = "active"
	InvestmentStatusCompleted InvestmentStatus = "completed"
	InvestmentStatusCancelled InvestmentStatus = "cancelled"
	InvestmentStatusDefaulted InvestmentStatus = "defaulted"
)

// investmentTransitions lists the only legal investment transitions.
var investmentTransitions = map[InvestmentStatus][]InvestmentStatus{
	InvestmentStatusPending: {InvestmentStatusActive, InvestmentStatusCancelled},
	InvestmentStatusActive:  {InvestmentStatusCompleted, InvestmentStatusDefaulted},
}

// String returns the string representation of the status.
func (s InvestmentStatus) String() string {
	return string(s)
}

// IsValid checks if the status is a known value.
func (s InvestmentStatus) IsValid() bool {
	switch s {
	case InvestmentStatusPending, InvestmentStatusActive, InvestmentStatusCompleted,
		InvestmentStatusCancelled, InvestmentStatusDefaulted:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s InvestmentStatus) CanTransitionTo(next InvestmentStatus) bool {
	for _, allowed := range investmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// HoldsReservation reports whether investments in this status count against supply.
func (s InvestmentStatus) HoldsReservation() bool {
	return s == InvestmentStatusPending || s == InvestmentStatusActive
}

// RiskLevel is a coarse bucket of RiskAssessment.Score.
type RiskLevel string

const (
	RiskLevelLow    RiskLevel = "low"
	RiskLevelMedium RiskLevel = "medium"
	RiskLevelHigh   RiskLevel = "high"
)

// RiskAssessment is computed when an investment is requested.
type RiskAssessment struct {
	Score float64   `json:"score"` // 0-100
	Level RiskLevel `json:"level"`
}

// InvestmentReturns tracks expected and realised returns.
type InvestmentReturns struct {
	Expected         decimal.Decimal `json:"expected"`
	Actual           decimal.Decimal `json:"actual"`
	LastDistribution *time.Time      `json:"lastDistribution,omitempty"`
}

// Investment is an investor's claim on shares of an asset.
type Investment struct {
	ID              int64             `json:"id"` // monotonically assigned
	InvestorID      string            `json:"investorId"`
	AssetID         string            `json:"assetId"`
	Amount          decimal.Decimal   `json:"amount"`
	Shares          int64             `json:"shares"`
	Status          InvestmentStatus  `json:"status"`
	Returns         InvestmentReturns `json:"returns"`
	Risk            RiskAssessment    `json:"risk"`
	TransactionHash string            `json:"transactionHash,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// ValidateRequest checks the fields required to reserve shares.
func (i *Investment) ValidateRequest() error {
	if i.InvestorID == "" {
		return NewValidationError("investorId", "required")
	}
	if i.AssetID == "" {
		return NewValidationError("assetId", "required")
	}
	if !i.Amount.IsPositive() {
		return NewValidationError("amount", "must be positive")
	}
	if i.Shares <= 0 {
		return NewValidationError("shares", "must be positive")
	}
	return nil
}

// Clone returns a deep copy of the investment.
func (i *Investment) Clone() *Investment {
	c := *i
	if i.Returns.LastDistribution != nil {
		t := *i.Returns.LastDistribution
		c.Returns.LastDistribution = &t
	}
	return &c
}

// Payout is a single credited distribution, keyed for idempotency.
type Payout struct {
	Key             string          `json:"key"`
	InvestmentID    int64           `json:"investmentId"`
	AssetID         string          `json:"assetId"`
	Period          string          `json:"period"`
	Amount          decimal.Decimal `json:"amount"`
	TransactionHash string          `json:"transactionHash"`
	PaidAt          time.Time       `json:"paidAt"`
}
