package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/storage"
)

// AssetStore is a PostgreSQL implementation of storage.AssetStore.
type AssetStore struct {
	pool *Pool
}

// NewAssetStore creates a new PostgreSQL asset store.
func NewAssetStore(pool *Pool) *AssetStore {
	return &AssetStore{pool: pool}
}

const assetColumns = `
	id, token_id, contract_address, owner, name, asset_type, location,
	total_supply, reserved_shares, circulating_shares, status,
	total_investment::text, total_shares, current_value::text, returns::text,
	metadata, last_processed_block, metadata_block, version, created_at, updated_at`

// Create adds a new asset. Returns ErrDuplicateKey if the id exists.
func (s *AssetStore) Create(ctx context.Context, a *domain.Asset) error {
	if a == nil || a.ID == "" || a.TotalSupply <= 0 {
		return storage.ErrInvalidInput
	}

	metadata, err := json.Marshal(a.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	query := `
		INSERT INTO assets (
			id, token_id, contract_address, owner, name, asset_type, location,
			total_supply, circulating_shares, status, current_value, metadata,
			last_processed_block, metadata_block
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::numeric, $12, $13, $14)
		RETURNING version, created_at, updated_at
	`

	err = s.pool.QueryRow(ctx, query,
		a.ID,
		a.TokenID,
		a.ContractAddress,
		a.Owner,
		a.Name,
		a.AssetType,
		a.Location,
		a.TotalSupply,
		a.CirculatingShares,
		string(a.Status),
		a.Financials.CurrentValue.String(),
		metadata,
		a.LastProcessedBlock,
		a.MetadataBlock,
	).Scan(&a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert asset: %w", err)
	}
	return nil
}

// GetByID retrieves an asset. Returns ErrNotFound if not exists.
func (s *AssetStore) GetByID(ctx context.Context, id string) (*domain.Asset, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = $1`, id)

	a, err := scanAsset(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get asset: %w", err)
	}
	return a, nil
}

// List retrieves all assets ordered by id.
func (s *AssetStore) List(ctx context.Context) ([]*domain.Asset, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+assetColumns+` FROM assets ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query assets: %w", err)
	}
	defer rows.Close()

	var assets []*domain.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("scan asset row: %w", err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate asset rows: %w", err)
	}
	return assets, nil
}

// SetToken records the on-chain identity assigned at tokenization.
func (s *AssetStore) SetToken(ctx context.Context, id, tokenID, contractAddress string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE assets
		SET token_id = $2, contract_address = $3, version = version + 1, updated_at = NOW()
		WHERE id = $1
	`, id, tokenID, contractAddress)
	if err != nil {
		return fmt.Errorf("set asset token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// UpdateValuation sets Financials.CurrentValue.
func (s *AssetStore) UpdateValuation(ctx context.Context, id string, value decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE assets
		SET current_value = $2::numeric, version = version + 1, updated_at = NOW()
		WHERE id = $1
	`, id, value.String())
	if err != nil {
		return fmt.Errorf("update asset valuation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ApplyEvent locks the asset row, runs mutate and writes back the
// event-owned columns with the selected cursor advanced.
func (s *AssetStore) ApplyEvent(ctx context.Context, id string, cursor storage.Cursor, block uint64, mutate func(a *domain.Asset) error) (*domain.Asset, error) {
	var cursorColumn string
	switch cursor {
	case storage.CursorLedger:
		cursorColumn = "last_processed_block"
	case storage.CursorMetadata:
		cursorColumn = "metadata_block"
	default:
		return nil, storage.ErrInvalidInput
	}

	var result *domain.Asset
	err := s.pool.inTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+assetColumns+` FROM assets WHERE id = $1 FOR UPDATE`, id)
		a, err := scanAsset(row)
		if err != nil {
			if isNotFoundError(err) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("lock asset: %w", err)
		}

		current := a.LastProcessedBlock
		if cursor == storage.CursorMetadata {
			current = a.MetadataBlock
		}
		if block <= current {
			return storage.ErrStaleBlock
		}

		if err := mutate(a); err != nil {
			return err
		}

		metadata, err := json.Marshal(a.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}

		// Reservation and financial aggregates are not written here.
		query := fmt.Sprintf(`
			UPDATE assets
			SET token_id = $2, contract_address = $3, owner = $4, name = $5,
			    asset_type = $6, location = $7, circulating_shares = $8, status = $9,
			    current_value = $10::numeric, metadata = $11, %s = $12,
			    version = version + 1, updated_at = NOW()
			WHERE id = $1
			RETURNING `+assetColumns, cursorColumn)

		row = tx.QueryRow(ctx, query,
			id,
			a.TokenID,
			a.ContractAddress,
			a.Owner,
			a.Name,
			a.AssetType,
			a.Location,
			a.CirculatingShares,
			string(a.Status),
			a.Financials.CurrentValue.String(),
			metadata,
			block,
		)
		result, err = scanAsset(row)
		if err != nil {
			return fmt.Errorf("update asset: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// scanAsset scans a row selected with assetColumns.
func scanAsset(row pgx.Row) (*domain.Asset, error) {
	var a domain.Asset
	var status, totalInvestment, currentValue, returns string
	var metadata []byte

	err := row.Scan(
		&a.ID,
		&a.TokenID,
		&a.ContractAddress,
		&a.Owner,
		&a.Name,
		&a.AssetType,
		&a.Location,
		&a.TotalSupply,
		&a.ReservedShares,
		&a.CirculatingShares,
		&status,
		&totalInvestment,
		&a.Financials.TotalShares,
		&currentValue,
		&returns,
		&metadata,
		&a.LastProcessedBlock,
		&a.MetadataBlock,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.Status = domain.AssetStatus(status)
	if a.Financials.TotalInvestment, err = parseDecimal(totalInvestment); err != nil {
		return nil, err
	}
	if a.Financials.CurrentValue, err = parseDecimal(currentValue); err != nil {
		return nil, err
	}
	if a.Financials.Returns, err = parseDecimal(returns); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &a.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return &a, nil
}

// Compile-time interface check.
var _ storage.AssetStore = (*AssetStore)(nil)
