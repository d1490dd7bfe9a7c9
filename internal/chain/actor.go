// Package chain defines the on-chain actor used by the ledger and its live
// implementations.
package chain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"agri-token-ledger/internal/domain"
)

// ErrTxNotFound indicates the chain has no record of a transaction.
var ErrTxNotFound = errors.New("transaction not found on chain")

// Actor performs on-chain operations. Every submitting call carries a
// Reference; implementations return the original submission when a
// reference is reused.
type Actor interface {
	CreateToken(ctx context.Context, req CreateTokenRequest) (*TokenResult, error)
	MintShares(ctx context.Context, req MintRequest) (*Submission, error)
	TransferShares(ctx context.Context, req TransferRequest) (*Submission, error)
	GetAssetValue(ctx context.Context, tokenID string) (decimal.Decimal, error)
	DistributeReturns(ctx context.Context, req PayoutRequest) (*Submission, error)
	GetTransactionStatus(ctx context.Context, hash string) (*TxStatus, error)
}

// Submission is the receipt of an accepted transaction.
type Submission struct {
	TransactionHash string          `json:"transactionHash"`
	Fees            decimal.Decimal `json:"fees"`
}

// CreateTokenRequest asks for a new asset token.
type CreateTokenRequest struct {
	Reference   string               `json:"reference"`
	AssetID     string               `json:"assetId"`
	Name        string               `json:"name"`
	Owner       string               `json:"owner"`
	TotalSupply int64                `json:"totalSupply"`
	Metadata    domain.AssetMetadata `json:"metadata"`
}

// TokenResult is the receipt of CreateToken.
type TokenResult struct {
	Submission
	TokenID         string `json:"tokenId"`
	ContractAddress string `json:"contractAddress"`
}

// MintRequest asks for investor shares to be minted.
type MintRequest struct {
	Reference  string          `json:"reference"`
	AssetID    string          `json:"assetId"`
	TokenID    string          `json:"tokenId"`
	InvestorID string          `json:"investorId"`
	Shares     int64           `json:"shares"`
	Amount     decimal.Decimal `json:"amount"`
}

// TransferRequest asks for shares to move between holders.
type TransferRequest struct {
	Reference string `json:"reference"`
	TokenID   string `json:"tokenId"`
	From      string `json:"from"`
	To        string `json:"to"`
	Shares    int64  `json:"shares"`
}

// PayoutRequest asks for a returns payout to an investor.
type PayoutRequest struct {
	Reference    string          `json:"reference"`
	AssetID      string          `json:"assetId"`
	InvestmentID int64           `json:"investmentId"`
	InvestorID   string          `json:"investorId"`
	Amount       decimal.Decimal `json:"amount"`
}

// TxStatus is the chain view of a transaction.
type TxStatus struct {
	Hash          string          `json:"transactionHash"`
	Status        domain.TxStatus `json:"status"`
	BlockNumber   uint64          `json:"blockNumber"`
	Confirmations int             `json:"confirmations"`
}
