package memory

import (
	"context"
	"sort"
	"sync"

	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/storage"
)

// PayoutSeriesStore is an in-memory implementation of storage.PayoutSeriesStore.
type PayoutSeriesStore struct {
	mu     sync.RWMutex
	points []*domain.PayoutPoint
}

// NewPayoutSeriesStore creates a new in-memory payout series store.
func NewPayoutSeriesStore() *PayoutSeriesStore {
	return &PayoutSeriesStore{}
}

// InsertBulk appends points.
func (s *PayoutSeriesStore) InsertBulk(_ context.Context, points []*domain.PayoutPoint) error {
	for _, p := range points {
		if p == nil || p.AssetID == "" || p.InvestmentID == 0 {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range points {
		pc := *p
		s.points = append(s.points, &pc)
	}
	return nil
}

// GetByInvestment retrieves points of an investment ordered by paid_at ASC.
func (s *PayoutSeriesStore) GetByInvestment(_ context.Context, investmentID int64) ([]*domain.PayoutPoint, error) {
	return s.filter(func(p *domain.PayoutPoint) bool { return p.InvestmentID == investmentID }), nil
}

// GetByAsset retrieves points of an asset ordered by paid_at ASC.
func (s *PayoutSeriesStore) GetByAsset(_ context.Context, assetID string) ([]*domain.PayoutPoint, error) {
	return s.filter(func(p *domain.PayoutPoint) bool { return p.AssetID == assetID }), nil
}

func (s *PayoutSeriesStore) filter(match func(p *domain.PayoutPoint) bool) []*domain.PayoutPoint {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.PayoutPoint
	for _, p := range s.points {
		if match(p) {
			pc := *p
			result = append(result, &pc)
		}
	}

	// Stable sort keeps insertion order for equal timestamps
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].PaidAt.Before(result[j].PaidAt)
	})
	return result
}

// Verify interface compliance at compile time.
var _ storage.PayoutSeriesStore = (*PayoutSeriesStore)(nil)
