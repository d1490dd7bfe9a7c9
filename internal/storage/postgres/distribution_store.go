package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/storage"
)

// DistributionStore is a PostgreSQL implementation of storage.DistributionStore.
// Entries are stored as a JSONB snapshot per job.
type DistributionStore struct {
	pool *Pool
}

// NewDistributionStore creates a new PostgreSQL distribution store.
func NewDistributionStore(pool *Pool) *DistributionStore {
	return &DistributionStore{pool: pool}
}

const distributionColumns = `id, asset_id, period, total_amount::text, status, entries, created_at, updated_at`

// Save inserts or replaces a job. CreatedAt of an existing job is kept.
func (s *DistributionStore) Save(ctx context.Context, job *domain.DistributionJob) error {
	if job == nil || job.ID == "" || job.AssetID == "" {
		return storage.ErrInvalidInput
	}

	entries := job.Entries
	if entries == nil {
		entries = []domain.DistributionEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("marshal entries: %w", err)
	}

	query := `
		INSERT INTO distribution_jobs (id, asset_id, period, total_amount, status, entries)
		VALUES ($1, $2, $3, $4::numeric, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			total_amount = EXCLUDED.total_amount,
			status = EXCLUDED.status,
			entries = EXCLUDED.entries,
			updated_at = NOW()
		RETURNING created_at, updated_at
	`

	err = s.pool.QueryRow(ctx, query,
		job.ID,
		job.AssetID,
		job.Period,
		job.TotalAmount.String(),
		string(job.Status),
		data,
	).Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if isForeignKeyError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("save distribution job: %w", err)
	}
	return nil
}

// GetByID retrieves a job. Returns ErrNotFound if not exists.
func (s *DistributionStore) GetByID(ctx context.Context, id string) (*domain.DistributionJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+distributionColumns+` FROM distribution_jobs WHERE id = $1`, id)
	job, err := scanDistributionJob(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get distribution job: %w", err)
	}
	return job, nil
}

// ListByAsset retrieves jobs of an asset ordered by created_at ASC.
func (s *DistributionStore) ListByAsset(ctx context.Context, assetID string) ([]*domain.DistributionJob, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+distributionColumns+` FROM distribution_jobs
		WHERE asset_id = $1
		ORDER BY created_at ASC, id ASC
	`, assetID)
	if err != nil {
		return nil, fmt.Errorf("query distribution jobs: %w", err)
	}
	defer rows.Close()

	var result []*domain.DistributionJob
	for rows.Next() {
		job, err := scanDistributionJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan distribution job row: %w", err)
		}
		result = append(result, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate distribution job rows: %w", err)
	}
	return result, nil
}

func scanDistributionJob(row pgx.Row) (*domain.DistributionJob, error) {
	var job domain.DistributionJob
	var total, status string
	var entries []byte

	if err := row.Scan(&job.ID, &job.AssetID, &job.Period, &total, &status, &entries, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return nil, err
	}

	var err error
	job.Status = domain.JobStatus(status)
	if job.TotalAmount, err = parseDecimal(total); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(entries, &job.Entries); err != nil {
		return nil, fmt.Errorf("unmarshal entries: %w", err)
	}
	return &job, nil
}

// Compile-time interface check.
var _ storage.DistributionStore = (*DistributionStore)(nil)
