package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/storage"
)

// AssetStore is an in-memory implementation of storage.AssetStore.
// InvestmentStore shares its mutex for reservation updates.
type AssetStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Asset // keyed by asset id
}

// NewAssetStore creates a new in-memory asset store.
func NewAssetStore() *AssetStore {
	return &AssetStore{
		data: make(map[string]*domain.Asset),
	}
}

// Create adds a new asset. Returns ErrDuplicateKey if the id exists.
func (s *AssetStore) Create(_ context.Context, a *domain.Asset) error {
	if a == nil || a.ID == "" || a.TotalSupply <= 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[a.ID]; exists {
		return storage.ErrDuplicateKey
	}

	c := a.Clone()
	now := time.Now().UTC()
	c.ReservedShares = 0
	c.Version = 1
	c.CreatedAt = now
	c.UpdatedAt = now
	s.data[a.ID] = c

	a.Version = c.Version
	a.CreatedAt = now
	a.UpdatedAt = now
	return nil
}

// GetByID retrieves an asset. Returns ErrNotFound if not exists.
func (s *AssetStore) GetByID(_ context.Context, id string) (*domain.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return a.Clone(), nil
}

// List retrieves all assets ordered by id.
func (s *AssetStore) List(_ context.Context) ([]*domain.Asset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Asset, 0, len(s.data))
	for _, a := range s.data {
		result = append(result, a.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// SetToken records the on-chain identity assigned at tokenization.
func (s *AssetStore) SetToken(_ context.Context, id, tokenID, contractAddress string) error {
	return s.update(id, func(a *domain.Asset) {
		a.TokenID = tokenID
		a.ContractAddress = contractAddress
	})
}

// UpdateValuation sets Financials.CurrentValue.
func (s *AssetStore) UpdateValuation(_ context.Context, id string, value decimal.Decimal) error {
	return s.update(id, func(a *domain.Asset) {
		a.Financials.CurrentValue = value
	})
}

// ApplyEvent runs mutate on a copy of the asset and stores it with the cursor advanced.
func (s *AssetStore) ApplyEvent(_ context.Context, id string, cursor storage.Cursor, block uint64, mutate func(a *domain.Asset) error) (*domain.Asset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	switch cursor {
	case storage.CursorLedger:
		if block <= current.LastProcessedBlock {
			return nil, storage.ErrStaleBlock
		}
	case storage.CursorMetadata:
		if block <= current.MetadataBlock {
			return nil, storage.ErrStaleBlock
		}
	default:
		return nil, storage.ErrInvalidInput
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}

	// Fields owned by the reservation path cannot be changed by events.
	next.ID = current.ID
	next.TotalSupply = current.TotalSupply
	next.ReservedShares = current.ReservedShares
	next.Financials.TotalInvestment = current.Financials.TotalInvestment
	next.Financials.TotalShares = current.Financials.TotalShares
	next.Financials.Returns = current.Financials.Returns

	if cursor == storage.CursorLedger {
		next.LastProcessedBlock = block
	} else {
		next.MetadataBlock = block
	}
	next.Version = current.Version + 1
	next.UpdatedAt = time.Now().UTC()
	s.data[id] = next

	return next.Clone(), nil
}

// update applies fn to the stored asset under the write lock.
func (s *AssetStore) update(id string, fn func(a *domain.Asset)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}
	fn(a)
	a.Version++
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// Verify interface compliance at compile time.
var _ storage.AssetStore = (*AssetStore)(nil)
