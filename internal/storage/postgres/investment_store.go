package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/storage"
)

// InvestmentStore is a PostgreSQL implementation of storage.InvestmentStore.
type InvestmentStore struct {
	pool *Pool
}

// NewInvestmentStore creates a new PostgreSQL investment store.
func NewInvestmentStore(pool *Pool) *InvestmentStore {
	return &InvestmentStore{pool: pool}
}

const investmentColumns = `
	id, investor_id, asset_id, amount::text, shares, status,
	returns_expected::text, returns_actual::text, last_distribution,
	risk_score, risk_level, transaction_hash, created_at, updated_at`

// Reserve increments reserved_shares with a conditional UPDATE and inserts
// the pending investment in the same transaction.
func (s *InvestmentStore) Reserve(ctx context.Context, inv *domain.Investment) (*domain.Investment, error) {
	if inv == nil {
		return nil, storage.ErrInvalidInput
	}
	if err := inv.ValidateRequest(); err != nil {
		return nil, err
	}

	var result *domain.Investment
	err := s.pool.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE assets
			SET reserved_shares = reserved_shares + $2, version = version + 1, updated_at = NOW()
			WHERE id = $1
			  AND status = 'active'
			  AND reserved_shares + $2 <= total_supply
		`, inv.AssetID, inv.Shares)
		if err != nil {
			return fmt.Errorf("reserve shares: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return classifyReserveFailure(ctx, tx, inv)
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO investments (
				investor_id, asset_id, amount, shares, status,
				returns_expected, risk_score, risk_level
			) VALUES ($1, $2, $3::numeric, $4, $5, $6::numeric, $7, $8)
			RETURNING `+investmentColumns,
			inv.InvestorID,
			inv.AssetID,
			inv.Amount.String(),
			inv.Shares,
			string(domain.InvestmentStatusPending),
			inv.Returns.Expected.String(),
			inv.Risk.Score,
			string(inv.Risk.Level),
		)
		result, err = scanInvestment(row)
		if err != nil {
			return fmt.Errorf("insert investment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// classifyReserveFailure explains why the conditional reservation matched no row.
func classifyReserveFailure(ctx context.Context, tx pgx.Tx, inv *domain.Investment) error {
	var status string
	var supply, reserved int64
	err := tx.QueryRow(ctx, `
		SELECT status, total_supply, reserved_shares FROM assets WHERE id = $1
	`, inv.AssetID).Scan(&status, &supply, &reserved)
	if err != nil {
		if isNotFoundError(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("load asset: %w", err)
	}
	if domain.AssetStatus(status) != domain.AssetStatusActive {
		return domain.NewValidationError("assetId", fmt.Sprintf("asset is %s", status))
	}
	return &domain.CapacityError{AssetID: inv.AssetID, Requested: inv.Shares, Available: supply - reserved}
}

// Release cancels a pending investment and frees its shares.
func (s *InvestmentStore) Release(ctx context.Context, id int64) (*domain.Investment, error) {
	var result *domain.Investment
	err := s.pool.inTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			UPDATE investments
			SET status = 'cancelled', updated_at = NOW()
			WHERE id = $1 AND status = 'pending'
			RETURNING `+investmentColumns, id)
		inv, err := scanInvestment(row)
		if isNotFoundError(err) {
			current, getErr := getInvestment(ctx, tx, id)
			if getErr != nil {
				return getErr
			}
			if current.Status == domain.InvestmentStatusCancelled {
				result = current
				return nil
			}
			return fmt.Errorf("release %s investment %d: %w", current.Status, id, storage.ErrIllegalTransition)
		}
		if err != nil {
			return fmt.Errorf("cancel investment: %w", err)
		}

		if err := freeShares(ctx, tx, inv); err != nil {
			return err
		}
		result = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Commit activates a pending investment guarded by processed_transactions.
func (s *InvestmentStore) Commit(ctx context.Context, id int64, txHash string) (bool, *domain.Investment, error) {
	if txHash == "" {
		return false, nil, storage.ErrInvalidInput
	}

	var applied bool
	var result *domain.Investment
	err := s.pool.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO processed_transactions (tx_hash, investment_id)
			VALUES ($1, $2)
			ON CONFLICT (tx_hash) DO NOTHING
		`, txHash, id)
		if err != nil {
			if isForeignKeyError(err) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("insert processed marker: %w", err)
		}
		if tag.RowsAffected() == 0 {
			result, err = getInvestment(ctx, tx, id)
			return err
		}

		row := tx.QueryRow(ctx, `
			UPDATE investments
			SET status = 'active', transaction_hash = $2, updated_at = NOW()
			WHERE id = $1 AND status = 'pending'
			RETURNING `+investmentColumns, id, txHash)
		inv, err := scanInvestment(row)
		if isNotFoundError(err) {
			current, getErr := getInvestment(ctx, tx, id)
			if getErr != nil {
				return getErr
			}
			return fmt.Errorf("commit %s investment %d: %w", current.Status, id, storage.ErrIllegalTransition)
		}
		if err != nil {
			return fmt.Errorf("activate investment: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE assets
			SET total_investment = total_investment + $2::numeric,
			    total_shares = total_shares + $3,
			    version = version + 1, updated_at = NOW()
			WHERE id = $1
		`, inv.AssetID, inv.Amount.String(), inv.Shares)
		if err != nil {
			return fmt.Errorf("update asset financials: %w", err)
		}

		applied = true
		result = inv
		return nil
	})
	if err != nil {
		return false, nil, err
	}
	return applied, result, nil
}

// Transition moves an active investment to completed or defaulted.
func (s *InvestmentStore) Transition(ctx context.Context, id int64, to domain.InvestmentStatus) (*domain.Investment, error) {
	if to != domain.InvestmentStatusCompleted && to != domain.InvestmentStatusDefaulted {
		return nil, storage.ErrInvalidInput
	}

	var result *domain.Investment
	err := s.pool.inTx(ctx, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+investmentColumns+` FROM investments WHERE id = $1 FOR UPDATE`, id)
		current, err := scanInvestment(row)
		if err != nil {
			if isNotFoundError(err) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("lock investment: %w", err)
		}
		if !current.Status.CanTransitionTo(to) {
			return fmt.Errorf("%s -> %s for investment %d: %w", current.Status, to, id, storage.ErrIllegalTransition)
		}

		row = tx.QueryRow(ctx, `
			UPDATE investments SET status = $2, updated_at = NOW()
			WHERE id = $1
			RETURNING `+investmentColumns, id, string(to))
		inv, err := scanInvestment(row)
		if err != nil {
			return fmt.Errorf("update investment status: %w", err)
		}
		if err := freeShares(ctx, tx, inv); err != nil {
			return err
		}
		result = inv
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AttachTransaction records the submission hash on a pending investment.
func (s *InvestmentStore) AttachTransaction(ctx context.Context, id int64, txHash string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE investments SET transaction_hash = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, txHash)
	if err != nil {
		return fmt.Errorf("attach transaction: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetByID(ctx, id); err != nil {
			return err
		}
		return storage.ErrIllegalTransition
	}
	return nil
}

// RecordPayout credits a payout once per idempotency key.
func (s *InvestmentStore) RecordPayout(ctx context.Context, p *domain.Payout) (bool, error) {
	if p == nil || p.Key == "" || p.Amount.IsNegative() {
		return false, storage.ErrInvalidInput
	}

	var recorded bool
	err := s.pool.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO payout_ledger (
				idempotency_key, investment_id, asset_id, period, amount, transaction_hash, paid_at
			) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7)
			ON CONFLICT (idempotency_key) DO NOTHING
		`, p.Key, p.InvestmentID, p.AssetID, p.Period, p.Amount.String(), p.TransactionHash, p.PaidAt)
		if err != nil {
			if isForeignKeyError(err) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("insert payout: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		var assetID string
		err = tx.QueryRow(ctx, `
			UPDATE investments
			SET returns_actual = returns_actual + $2::numeric, last_distribution = $3, updated_at = NOW()
			WHERE id = $1
			RETURNING asset_id
		`, p.InvestmentID, p.Amount.String(), p.PaidAt).Scan(&assetID)
		if err != nil {
			return fmt.Errorf("credit investment returns: %w", err)
		}

		_, err = tx.Exec(ctx, `
			UPDATE assets SET returns = returns + $2::numeric, version = version + 1, updated_at = NOW()
			WHERE id = $1
		`, assetID, p.Amount.String())
		if err != nil {
			return fmt.Errorf("credit asset returns: %w", err)
		}

		recorded = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return recorded, nil
}

// GetByID retrieves an investment. Returns ErrNotFound if not exists.
func (s *InvestmentStore) GetByID(ctx context.Context, id int64) (*domain.Investment, error) {
	inv, err := getInvestment(ctx, s.pool, id)
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// ListByAsset retrieves investments of an asset ordered by id ASC.
func (s *InvestmentStore) ListByAsset(ctx context.Context, assetID string, statuses ...domain.InvestmentStatus) ([]*domain.Investment, error) {
	if len(statuses) == 0 {
		return s.list(ctx, `WHERE asset_id = $1`, assetID)
	}
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	return s.list(ctx, `WHERE asset_id = $1 AND status = ANY($2)`, assetID, names)
}

// ListByInvestor retrieves investments of an investor ordered by id ASC.
func (s *InvestmentStore) ListByInvestor(ctx context.Context, investorID string) ([]*domain.Investment, error) {
	return s.list(ctx, `WHERE investor_id = $1`, investorID)
}

// ListPendingWithoutTransaction retrieves stale pending investments with no hash.
func (s *InvestmentStore) ListPendingWithoutTransaction(ctx context.Context, olderThan time.Time) ([]*domain.Investment, error) {
	return s.list(ctx, `WHERE status = 'pending' AND transaction_hash = '' AND created_at < $1`, olderThan)
}

func (s *InvestmentStore) list(ctx context.Context, where string, args ...any) ([]*domain.Investment, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+investmentColumns+` FROM investments `+where+` ORDER BY id ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("query investments: %w", err)
	}
	defer rows.Close()

	var result []*domain.Investment
	for rows.Next() {
		inv, err := scanInvestment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan investment row: %w", err)
		}
		result = append(result, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate investment rows: %w", err)
	}
	return result, nil
}

// querier is satisfied by both *Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getInvestment(ctx context.Context, q querier, id int64) (*domain.Investment, error) {
	row := q.QueryRow(ctx, `SELECT `+investmentColumns+` FROM investments WHERE id = $1`, id)
	inv, err := scanInvestment(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get investment: %w", err)
	}
	return inv, nil
}

// freeShares releases the reservation held by inv.
func freeShares(ctx context.Context, tx pgx.Tx, inv *domain.Investment) error {
	_, err := tx.Exec(ctx, `
		UPDATE assets
		SET reserved_shares = GREATEST(reserved_shares - $2, 0), version = version + 1, updated_at = NOW()
		WHERE id = $1
	`, inv.AssetID, inv.Shares)
	if err != nil {
		return fmt.Errorf("free reserved shares: %w", err)
	}
	return nil
}

// scanInvestment scans a row selected with investmentColumns.
func scanInvestment(row pgx.Row) (*domain.Investment, error) {
	var inv domain.Investment
	var amount, expected, actual, status, riskLevel string

	err := row.Scan(
		&inv.ID,
		&inv.InvestorID,
		&inv.AssetID,
		&amount,
		&inv.Shares,
		&status,
		&expected,
		&actual,
		&inv.Returns.LastDistribution,
		&inv.Risk.Score,
		&riskLevel,
		&inv.TransactionHash,
		&inv.CreatedAt,
		&inv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	inv.Status = domain.InvestmentStatus(status)
	inv.Risk.Level = domain.RiskLevel(riskLevel)
	if inv.Amount, err = parseDecimal(amount); err != nil {
		return nil, err
	}
	if inv.Returns.Expected, err = parseDecimal(expected); err != nil {
		return nil, err
	}
	if inv.Returns.Actual, err = parseDecimal(actual); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Compile-time interface check.
var _ storage.InvestmentStore = (*InvestmentStore)(nil)
