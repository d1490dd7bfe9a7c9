package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/storage"
)

// PayoutSeriesStore implements storage.PayoutSeriesStore using ClickHouse.
type PayoutSeriesStore struct {
	conn *Conn
}

// NewPayoutSeriesStore creates a new PayoutSeriesStore.
func NewPayoutSeriesStore(conn *Conn) *PayoutSeriesStore {
	return &PayoutSeriesStore{conn: conn}
}

// Compile-time interface check.
var _ storage.PayoutSeriesStore = (*PayoutSeriesStore)(nil)

// InsertBulk appends points in a single batch.
func (s *PayoutSeriesStore) InsertBulk(ctx context.Context, points []*domain.PayoutPoint) error {
	if len(points) == 0 {
		return nil
	}
	for _, p := range points {
		if p == nil || p.AssetID == "" || p.InvestmentID == 0 {
			return storage.ErrInvalidInput
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO payout_points (
			investment_id, investor_id, asset_id, period, amount, principal, paid_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, p := range points {
		err = batch.Append(
			p.InvestmentID, p.InvestorID, p.AssetID, p.Period,
			p.Amount, p.Principal, p.PaidAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByInvestment retrieves points of an investment ordered by paid_at ASC.
func (s *PayoutSeriesStore) GetByInvestment(ctx context.Context, investmentID int64) ([]*domain.PayoutPoint, error) {
	query := `
		SELECT investment_id, investor_id, asset_id, period, amount, principal, paid_at
		FROM payout_points
		WHERE investment_id = ?
		ORDER BY paid_at ASC
	`

	rows, err := s.conn.Query(ctx, query, investmentID)
	if err != nil {
		return nil, fmt.Errorf("query by investment id: %w", err)
	}
	defer rows.Close()

	return scanPayoutPoints(rows)
}

// GetByAsset retrieves points of an asset ordered by paid_at ASC.
func (s *PayoutSeriesStore) GetByAsset(ctx context.Context, assetID string) ([]*domain.PayoutPoint, error) {
	query := `
		SELECT investment_id, investor_id, asset_id, period, amount, principal, paid_at
		FROM payout_points
		WHERE asset_id = ?
		ORDER BY paid_at ASC, investment_id ASC
	`

	rows, err := s.conn.Query(ctx, query, assetID)
	if err != nil {
		return nil, fmt.Errorf("query by asset id: %w", err)
	}
	defer rows.Close()

	return scanPayoutPoints(rows)
}

func scanPayoutPoints(rows driver.Rows) ([]*domain.PayoutPoint, error) {
	var result []*domain.PayoutPoint
	for rows.Next() {
		var p domain.PayoutPoint
		if err := rows.Scan(
			&p.InvestmentID, &p.InvestorID, &p.AssetID, &p.Period,
			&p.Amount, &p.Principal, &p.PaidAt,
		); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		result = append(result, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return result, nil
}
