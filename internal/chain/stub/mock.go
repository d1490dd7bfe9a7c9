// Package stub provides an in-memory chain.Actor for tests and local runs.
package stub

import (
	"context"
	"crypto/sha512"
	"errors"
	"sync"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"

	"agri-token-ledger/internal/chain"
	"agri-token-ledger/internal/domain"
)

// Operation names used by FailNext and Calls.
const (
	OpCreateToken       = "CreateToken"
	OpMintShares        = "MintShares"
	OpTransferShares    = "TransferShares"
	OpGetAssetValue     = "GetAssetValue"
	OpDistributeReturns = "DistributeReturns"
	OpGetStatus         = "GetTransactionStatus"
)

// ErrInjected is the default error returned by FailNext.
var ErrInjected = errors.New("injected chain failure")

// DefaultConfirmations is reported for completed transactions.
const DefaultConfirmations = 32

// Mock implements chain.Actor in memory. Submissions are deduplicated by
// reference the way the relayer does it: the same reference always yields
// the same transaction hash.
type Mock struct {
	mu sync.Mutex

	byRef    map[string]*chain.TokenResult
	statuses map[string]*chain.TxStatus
	values   map[string]decimal.Decimal
	failures map[string][]error
	calls    map[string]int
	payouts  []chain.PayoutRequest
	block    uint64

	// Latency delays every call; the call fails with the context error if the
	// context ends first.
	Latency time.Duration
	// AutoComplete makes new submissions finalized immediately.
	AutoComplete bool
}

// NewMock creates an empty mock chain.
func NewMock() *Mock {
	return &Mock{
		byRef:    make(map[string]*chain.TokenResult),
		statuses: make(map[string]*chain.TxStatus),
		values:   make(map[string]decimal.Decimal),
		failures: make(map[string][]error),
		calls:    make(map[string]int),
	}
}

// FailNext queues errors returned by the next calls of op, one per call.
// With no errors given it queues a single ErrInjected.
func (m *Mock) FailNext(op string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(errs) == 0 {
		errs = []error{ErrInjected}
	}
	m.failures[op] = append(m.failures[op], errs...)
}

// Calls returns how many times op was invoked, failures included.
func (m *Mock) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Payouts returns the accepted DistributeReturns requests in order.
func (m *Mock) Payouts() []chain.PayoutRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]chain.PayoutRequest(nil), m.payouts...)
}

// SetStatus finalizes or fails a known transaction at block.
func (m *Mock) SetStatus(hash string, status domain.TxStatus, block uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[hash]
	if !ok {
		st = &chain.TxStatus{Hash: hash}
		m.statuses[hash] = st
	}
	st.Status = status
	st.BlockNumber = block
	if status == domain.TxStatusCompleted {
		st.Confirmations = DefaultConfirmations
	}
}

// Forget drops a transaction so status lookups report it unknown.
func (m *Mock) Forget(hash string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, hash)
}

// SetValue sets the valuation reported for a token.
func (m *Mock) SetValue(tokenID string, value decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[tokenID] = value
}

// HashFor returns the transaction hash the mock assigns to op and reference.
func HashFor(op, reference string) string {
	digest := sha512.Sum512([]byte(op + "|" + reference))
	return base58.Encode(digest[:])
}

// begin counts the call, waits out Latency and pops a queued failure.
func (m *Mock) begin(ctx context.Context, op string) error {
	m.mu.Lock()
	m.calls[op]++
	var injected error
	if q := m.failures[op]; len(q) > 0 {
		injected = q[0]
		m.failures[op] = q[1:]
	}
	latency := m.Latency
	m.mu.Unlock()

	if latency > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(latency):
		}
	}
	return injected
}

// record returns the existing result for reference or stores a new one.
// Caller must hold m.mu.
func (m *Mock) record(op, reference string) (*chain.TokenResult, bool) {
	if res, ok := m.byRef[op+"|"+reference]; ok {
		return res, false
	}
	m.block++
	hash := HashFor(op, reference)
	res := &chain.TokenResult{
		Submission: chain.Submission{TransactionHash: hash, Fees: decimal.NewFromInt(5000)},
	}
	m.byRef[op+"|"+reference] = res

	st := &chain.TxStatus{Hash: hash, Status: domain.TxStatusPending, BlockNumber: m.block}
	if m.AutoComplete {
		st.Status = domain.TxStatusCompleted
		st.Confirmations = DefaultConfirmations
	}
	m.statuses[hash] = st
	return res, true
}

// CreateToken implements chain.Actor.
func (m *Mock) CreateToken(ctx context.Context, req chain.CreateTokenRequest) (*chain.TokenResult, error) {
	if err := m.begin(ctx, OpCreateToken); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	res, created := m.record(OpCreateToken, req.Reference)
	if created {
		res.TokenID = HashFor("token", req.AssetID)[:44]
		res.ContractAddress = HashFor("contract", req.AssetID)[:44]
	}
	out := *res
	return &out, nil
}

// MintShares implements chain.Actor.
func (m *Mock) MintShares(ctx context.Context, req chain.MintRequest) (*chain.Submission, error) {
	return m.submit(ctx, OpMintShares, req.Reference)
}

// TransferShares implements chain.Actor.
func (m *Mock) TransferShares(ctx context.Context, req chain.TransferRequest) (*chain.Submission, error) {
	return m.submit(ctx, OpTransferShares, req.Reference)
}

// DistributeReturns implements chain.Actor.
func (m *Mock) DistributeReturns(ctx context.Context, req chain.PayoutRequest) (*chain.Submission, error) {
	if err := m.begin(ctx, OpDistributeReturns); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	res, created := m.record(OpDistributeReturns, req.Reference)
	if created {
		m.payouts = append(m.payouts, req)
	}
	out := res.Submission
	return &out, nil
}

func (m *Mock) submit(ctx context.Context, op, reference string) (*chain.Submission, error) {
	if err := m.begin(ctx, op); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	res, _ := m.record(op, reference)
	out := res.Submission
	return &out, nil
}

// GetAssetValue implements chain.Actor.
func (m *Mock) GetAssetValue(ctx context.Context, tokenID string) (decimal.Decimal, error) {
	if err := m.begin(ctx, OpGetAssetValue); err != nil {
		return decimal.Zero, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.values[tokenID], nil
}

// GetTransactionStatus implements chain.Actor.
func (m *Mock) GetTransactionStatus(ctx context.Context, hash string) (*chain.TxStatus, error) {
	if err := m.begin(ctx, OpGetStatus); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.statuses[hash]
	if !ok {
		return nil, chain.ErrTxNotFound
	}
	out := *st
	return &out, nil
}

// Verify interface compliance at compile time.
var _ chain.Actor = (*Mock)(nil)
