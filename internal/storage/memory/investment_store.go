package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/storage"
)

// InvestmentStore is an in-memory implementation of storage.InvestmentStore.
// Operations touching asset counters lock the asset store first, then this store.
type InvestmentStore struct {
	assets *AssetStore

	mu        sync.RWMutex
	data      map[int64]*domain.Investment // keyed by investment id
	nextID    int64
	processed map[string]int64          // tx hash -> investment id
	payouts   map[string]*domain.Payout // keyed by idempotency key
}

// NewInvestmentStore creates a new in-memory investment store backed by assets.
func NewInvestmentStore(assets *AssetStore) *InvestmentStore {
	return &InvestmentStore{
		assets:    assets,
		data:      make(map[int64]*domain.Investment),
		processed: make(map[string]int64),
		payouts:   make(map[string]*domain.Payout),
	}
}

// Reserve creates a pending investment and reserves its shares atomically.
func (s *InvestmentStore) Reserve(_ context.Context, inv *domain.Investment) (*domain.Investment, error) {
	if inv == nil {
		return nil, storage.ErrInvalidInput
	}
	if err := inv.ValidateRequest(); err != nil {
		return nil, err
	}

	s.assets.mu.Lock()
	defer s.assets.mu.Unlock()

	a, exists := s.assets.data[inv.AssetID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	if a.Status != domain.AssetStatusActive {
		return nil, domain.NewValidationError("assetId", fmt.Sprintf("asset is %s", a.Status))
	}
	if a.ReservedShares+inv.Shares > a.TotalSupply {
		return nil, &domain.CapacityError{AssetID: a.ID, Requested: inv.Shares, Available: a.AvailableShares()}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	a.ReservedShares += inv.Shares
	a.Version++
	a.UpdatedAt = now

	s.nextID++
	c := inv.Clone()
	c.ID = s.nextID
	c.Status = domain.InvestmentStatusPending
	c.TransactionHash = ""
	c.CreatedAt = now
	c.UpdatedAt = now
	s.data[c.ID] = c

	return c.Clone(), nil
}

// Release cancels a pending investment and frees its shares.
func (s *InvestmentStore) Release(_ context.Context, id int64) (*domain.Investment, error) {
	s.assets.mu.Lock()
	defer s.assets.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	switch inv.Status {
	case domain.InvestmentStatusCancelled:
		return inv.Clone(), nil
	case domain.InvestmentStatusPending:
	default:
		return nil, fmt.Errorf("release %s investment %d: %w", inv.Status, id, storage.ErrIllegalTransition)
	}

	s.freeShares(inv)
	inv.Status = domain.InvestmentStatusCancelled
	inv.UpdatedAt = time.Now().UTC()
	return inv.Clone(), nil
}

// Commit activates a pending investment once per txHash.
func (s *InvestmentStore) Commit(_ context.Context, id int64, txHash string) (bool, *domain.Investment, error) {
	if txHash == "" {
		return false, nil, storage.ErrInvalidInput
	}

	s.assets.mu.Lock()
	defer s.assets.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, exists := s.data[id]
	if !exists {
		return false, nil, storage.ErrNotFound
	}
	if _, done := s.processed[txHash]; done {
		return false, inv.Clone(), nil
	}
	if inv.Status != domain.InvestmentStatusPending {
		return false, nil, fmt.Errorf("commit %s investment %d: %w", inv.Status, id, storage.ErrIllegalTransition)
	}

	now := time.Now().UTC()
	if a, ok := s.assets.data[inv.AssetID]; ok {
		a.Financials.TotalInvestment = a.Financials.TotalInvestment.Add(inv.Amount)
		a.Financials.TotalShares += inv.Shares
		a.Version++
		a.UpdatedAt = now
	}

	s.processed[txHash] = id
	inv.Status = domain.InvestmentStatusActive
	inv.TransactionHash = txHash
	inv.UpdatedAt = now
	return true, inv.Clone(), nil
}

// Transition moves an active investment to completed or defaulted.
func (s *InvestmentStore) Transition(_ context.Context, id int64, to domain.InvestmentStatus) (*domain.Investment, error) {
	if to != domain.InvestmentStatusCompleted && to != domain.InvestmentStatusDefaulted {
		return nil, storage.ErrInvalidInput
	}

	s.assets.mu.Lock()
	defer s.assets.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	if !inv.Status.CanTransitionTo(to) {
		return nil, fmt.Errorf("%s -> %s for investment %d: %w", inv.Status, to, id, storage.ErrIllegalTransition)
	}

	s.freeShares(inv)
	inv.Status = to
	inv.UpdatedAt = time.Now().UTC()
	return inv.Clone(), nil
}

// AttachTransaction records the submission hash on a pending investment.
func (s *InvestmentStore) AttachTransaction(_ context.Context, id int64, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	if inv.Status != domain.InvestmentStatusPending {
		return storage.ErrIllegalTransition
	}
	inv.TransactionHash = txHash
	inv.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordPayout credits a payout once per key.
func (s *InvestmentStore) RecordPayout(_ context.Context, p *domain.Payout) (bool, error) {
	if p == nil || p.Key == "" || p.Amount.IsNegative() {
		return false, storage.ErrInvalidInput
	}

	s.assets.mu.Lock()
	defer s.assets.mu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, done := s.payouts[p.Key]; done {
		return false, nil
	}
	inv, exists := s.data[p.InvestmentID]
	if !exists {
		return false, storage.ErrNotFound
	}

	paidAt := p.PaidAt.UTC()
	inv.Returns.Actual = inv.Returns.Actual.Add(p.Amount)
	inv.Returns.LastDistribution = &paidAt
	inv.UpdatedAt = time.Now().UTC()

	if a, ok := s.assets.data[inv.AssetID]; ok {
		a.Financials.Returns = a.Financials.Returns.Add(p.Amount)
		a.Version++
		a.UpdatedAt = inv.UpdatedAt
	}

	pc := *p
	s.payouts[p.Key] = &pc
	return true, nil
}

// GetByID retrieves an investment. Returns ErrNotFound if not exists.
func (s *InvestmentStore) GetByID(_ context.Context, id int64) (*domain.Investment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return inv.Clone(), nil
}

// ListByAsset retrieves investments of an asset ordered by id ASC.
func (s *InvestmentStore) ListByAsset(_ context.Context, assetID string, statuses ...domain.InvestmentStatus) ([]*domain.Investment, error) {
	return s.filter(func(inv *domain.Investment) bool {
		return inv.AssetID == assetID && hasStatus(inv.Status, statuses)
	}), nil
}

// ListByInvestor retrieves investments of an investor ordered by id ASC.
func (s *InvestmentStore) ListByInvestor(_ context.Context, investorID string) ([]*domain.Investment, error) {
	return s.filter(func(inv *domain.Investment) bool {
		return inv.InvestorID == investorID
	}), nil
}

// ListPendingWithoutTransaction retrieves stale pending investments with no hash.
func (s *InvestmentStore) ListPendingWithoutTransaction(_ context.Context, olderThan time.Time) ([]*domain.Investment, error) {
	return s.filter(func(inv *domain.Investment) bool {
		return inv.Status == domain.InvestmentStatusPending &&
			inv.TransactionHash == "" &&
			inv.CreatedAt.Before(olderThan)
	}), nil
}

// freeShares decrements the reservation held by inv. Caller holds both locks.
func (s *InvestmentStore) freeShares(inv *domain.Investment) {
	if a, ok := s.assets.data[inv.AssetID]; ok {
		a.ReservedShares -= inv.Shares
		if a.ReservedShares < 0 {
			a.ReservedShares = 0
		}
		a.Version++
		a.UpdatedAt = time.Now().UTC()
	}
}

func (s *InvestmentStore) filter(match func(inv *domain.Investment) bool) []*domain.Investment {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Investment
	for _, inv := range s.data {
		if match(inv) {
			result = append(result, inv.Clone())
		}
	}

	// Sort by id ASC
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

func hasStatus(status domain.InvestmentStatus, statuses []domain.InvestmentStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// Verify interface compliance at compile time.
var _ storage.InvestmentStore = (*InvestmentStore)(nil)
