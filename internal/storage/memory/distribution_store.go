package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/storage"
)

// DistributionStore is an in-memory implementation of storage.DistributionStore.
type DistributionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.DistributionJob // keyed by job id
}

// NewDistributionStore creates a new in-memory distribution store.
func NewDistributionStore() *DistributionStore {
	return &DistributionStore{
		data: make(map[string]*domain.DistributionJob),
	}
}

// Save inserts or replaces a job.
func (s *DistributionStore) Save(_ context.Context, job *domain.DistributionJob) error {
	if job == nil || job.ID == "" || job.AssetID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := job.Clone()
	now := time.Now().UTC()
	if existing, ok := s.data[job.ID]; ok {
		c.CreatedAt = existing.CreatedAt
	} else if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.data[job.ID] = c
	return nil
}

// GetByID retrieves a job. Returns ErrNotFound if not exists.
func (s *DistributionStore) GetByID(_ context.Context, id string) (*domain.DistributionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return job.Clone(), nil
}

// ListByAsset retrieves jobs of an asset ordered by created_at ASC.
func (s *DistributionStore) ListByAsset(_ context.Context, assetID string) ([]*domain.DistributionJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.DistributionJob
	for _, job := range s.data {
		if job.AssetID == assetID {
			result = append(result, job.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})
	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.DistributionStore = (*DistributionStore)(nil)
