package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/storage"
)

// PendingEventStore is a PostgreSQL implementation of storage.PendingEventStore.
type PendingEventStore struct {
	pool *Pool
}

// NewPendingEventStore creates a new PostgreSQL pending event store.
func NewPendingEventStore(pool *Pool) *PendingEventStore {
	return &PendingEventStore{pool: pool}
}

// Add stores ev. Returns ErrDuplicateKey if the key is already held.
func (s *PendingEventStore) Add(ctx context.Context, ev *domain.ChainEvent) error {
	if ev == nil || ev.AssetID == "" {
		return storage.ErrInvalidInput
	}

	payload := []byte(ev.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO pending_events (asset_id, block_number, event_type, previous_block, payload, signature, signer)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ev.AssetID, int64(ev.BlockNumber), string(ev.Type), int64(ev.PreviousBlock), payload, ev.Signature, ev.Signer)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert pending event: %w", err)
	}
	return nil
}

// Remove deletes an event.
func (s *PendingEventStore) Remove(ctx context.Context, assetID string, block uint64, eventType domain.EventType) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM pending_events
		WHERE asset_id = $1 AND block_number = $2 AND event_type = $3
	`, assetID, int64(block), string(eventType))
	if err != nil {
		return fmt.Errorf("delete pending event: %w", err)
	}
	return nil
}

// ListByAsset retrieves the events of an asset ordered by block ASC.
func (s *PendingEventStore) ListByAsset(ctx context.Context, assetID string) ([]*domain.ChainEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT asset_id, block_number, event_type, previous_block, payload, signature, signer
		FROM pending_events
		WHERE asset_id = $1
		ORDER BY block_number ASC, event_type ASC
	`, assetID)
	if err != nil {
		return nil, fmt.Errorf("query pending events: %w", err)
	}
	defer rows.Close()

	var result []*domain.ChainEvent
	for rows.Next() {
		ev, err := scanPendingEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending event row: %w", err)
		}
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending event rows: %w", err)
	}
	return result, nil
}

// ListAssets retrieves the ids of assets with held events.
func (s *PendingEventStore) ListAssets(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT asset_id FROM pending_events ORDER BY asset_id`)
	if err != nil {
		return nil, fmt.Errorf("query pending assets: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect pending assets: %w", err)
	}
	return ids, nil
}

func scanPendingEvent(row pgx.Row) (*domain.ChainEvent, error) {
	var ev domain.ChainEvent
	var block, prev int64
	var eventType string
	var payload []byte

	if err := row.Scan(&ev.AssetID, &block, &eventType, &prev, &payload, &ev.Signature, &ev.Signer); err != nil {
		return nil, err
	}
	ev.BlockNumber = uint64(block)
	ev.PreviousBlock = uint64(prev)
	ev.Type = domain.EventType(eventType)
	ev.Payload = payload
	return &ev, nil
}

// Compile-time interface check.
var _ storage.PendingEventStore = (*PendingEventStore)(nil)
