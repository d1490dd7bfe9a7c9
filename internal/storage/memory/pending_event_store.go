package memory

import (
	"context"
	"sort"
	"sync"

	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/storage"
)

type pendingKey struct {
	block     uint64
	eventType domain.EventType
}

// PendingEventStore is an in-memory implementation of storage.PendingEventStore.
type PendingEventStore struct {
	mu   sync.RWMutex
	data map[string]map[pendingKey]*domain.ChainEvent // keyed by asset id
}

// NewPendingEventStore creates a new in-memory pending event store.
func NewPendingEventStore() *PendingEventStore {
	return &PendingEventStore{
		data: make(map[string]map[pendingKey]*domain.ChainEvent),
	}
}

// Add stores ev. Returns ErrDuplicateKey if the key is already held.
func (s *PendingEventStore) Add(_ context.Context, ev *domain.ChainEvent) error {
	if ev == nil || ev.AssetID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	events, ok := s.data[ev.AssetID]
	if !ok {
		events = make(map[pendingKey]*domain.ChainEvent)
		s.data[ev.AssetID] = events
	}
	key := pendingKey{block: ev.BlockNumber, eventType: ev.Type}
	if _, exists := events[key]; exists {
		return storage.ErrDuplicateKey
	}
	c := *ev
	events[key] = &c
	return nil
}

// Remove deletes an event.
func (s *PendingEventStore) Remove(_ context.Context, assetID string, block uint64, eventType domain.EventType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	events, ok := s.data[assetID]
	if !ok {
		return nil
	}
	delete(events, pendingKey{block: block, eventType: eventType})
	if len(events) == 0 {
		delete(s.data, assetID)
	}
	return nil
}

// ListByAsset retrieves the events of an asset ordered by block ASC.
func (s *PendingEventStore) ListByAsset(_ context.Context, assetID string) ([]*domain.ChainEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.ChainEvent, 0, len(s.data[assetID]))
	for _, ev := range s.data[assetID] {
		c := *ev
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].BlockNumber != result[j].BlockNumber {
			return result[i].BlockNumber < result[j].BlockNumber
		}
		return result[i].Type < result[j].Type
	})
	return result, nil
}

// ListAssets retrieves the ids of assets with held events, sorted.
func (s *PendingEventStore) ListAssets(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.data))
	for id := range s.data {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Verify interface compliance at compile time.
var _ storage.PendingEventStore = (*PendingEventStore)(nil)
