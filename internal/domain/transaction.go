package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TxType identifies the on-chain operation a Transaction records.
type TxType string

const (
	TxTypeTokenize     TxType = "tokenize"
	TxTypeInvestment   TxType = "investment"
	TxTypeDistribution TxType = "distribution"
	TxTypeTransfer     TxType = "transfer"
)

// String returns the string representation of the type.
func (t TxType) String() string {
	return string(t)
}

// TxStatus is the lifecycle status of an on-chain transaction.
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusCompleted TxStatus = "completed"
	TxStatusFailed    TxStatus = "failed"
)

// String returns the string representation of the status.
func (s TxStatus) String() string {
	return string(s)
}

// IsValid checks if the status is a known value.
func (s TxStatus) IsValid() bool {
	return s == TxStatusPending || s == TxStatusCompleted || s == TxStatusFailed
}

// IsTerminal reports whether the status can no longer change.
func (s TxStatus) IsTerminal() bool {
	return s == TxStatusCompleted || s == TxStatusFailed
}

// Transaction is the audit record of an on-chain operation.
// Immutable once terminal, except for Confirmations.
type Transaction struct {
	Hash          string          `json:"transactionHash"`
	Type          TxType          `json:"type"`
	Status        TxStatus        `json:"status"`
	From          string          `json:"from,omitempty"`
	To            string          `json:"to,omitempty"`
	AssetID       string          `json:"assetId"`
	InvestmentID  int64           `json:"investmentId,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Fees          decimal.Decimal `json:"fees"`
	Signatures    []string        `json:"signatures,omitempty"`
	Confirmations int             `json:"confirmations"`
	BlockNumber   uint64          `json:"blockNumber,omitempty"`
	Reference     string          `json:"reference,omitempty"` // deterministic submission reference
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Clone returns a deep copy of the transaction.
func (t *Transaction) Clone() *Transaction {
	c := *t
	if t.Signatures != nil {
		c.Signatures = append([]string(nil), t.Signatures...)
	}
	return &c
}
