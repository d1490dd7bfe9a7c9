package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/storage"
)

// TransactionStore is an in-memory implementation of storage.TransactionStore.
type TransactionStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Transaction // keyed by hash
}

// NewTransactionStore creates a new in-memory transaction store.
func NewTransactionStore() *TransactionStore {
	return &TransactionStore{
		data: make(map[string]*domain.Transaction),
	}
}

// Insert adds a new transaction. Returns ErrDuplicateKey if the hash exists.
func (s *TransactionStore) Insert(_ context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.Hash == "" || !tx.Status.IsValid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[tx.Hash]; exists {
		return storage.ErrDuplicateKey
	}

	c := tx.Clone()
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	s.data[tx.Hash] = c
	return nil
}

// GetByHash retrieves a transaction. Returns ErrNotFound if not exists.
func (s *TransactionStore) GetByHash(_ context.Context, hash string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, exists := s.data[hash]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return tx.Clone(), nil
}

// GetByReference retrieves the most recent transaction submitted with ref.
func (s *TransactionStore) GetByReference(_ context.Context, ref string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.Transaction
	for _, tx := range s.data {
		if tx.Reference != ref {
			continue
		}
		if latest == nil || tx.CreatedAt.After(latest.CreatedAt) {
			latest = tx
		}
	}
	if latest == nil {
		return nil, storage.ErrNotFound
	}
	return latest.Clone(), nil
}

// MarkTerminal moves a pending transaction to a terminal status.
func (s *TransactionStore) MarkTerminal(_ context.Context, hash string, status domain.TxStatus, block uint64) (bool, error) {
	if !status.IsTerminal() {
		return false, storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, exists := s.data[hash]
	if !exists {
		return false, storage.ErrNotFound
	}
	if tx.Status != domain.TxStatusPending {
		return false, nil
	}
	tx.Status = status
	if block > 0 {
		tx.BlockNumber = block
	}
	tx.UpdatedAt = time.Now().UTC()
	return true, nil
}

// UpdateConfirmations sets the confirmation count.
func (s *TransactionStore) UpdateConfirmations(_ context.Context, hash string, confirmations int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, exists := s.data[hash]
	if !exists {
		return storage.ErrNotFound
	}
	tx.Confirmations = confirmations
	tx.UpdatedAt = time.Now().UTC()
	return nil
}

// ListPending retrieves pending transactions created before olderThan.
func (s *TransactionStore) ListPending(_ context.Context, olderThan time.Time) ([]*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Transaction
	for _, tx := range s.data {
		if tx.Status == domain.TxStatusPending && tx.CreatedAt.Before(olderThan) {
			result = append(result, tx.Clone())
		}
	}

	// Sort by created_at ASC, hash ASC
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].Hash < result[j].Hash
	})
	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.TransactionStore = (*TransactionStore)(nil)
