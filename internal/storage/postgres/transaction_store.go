package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"agri-token-ledger/internal/domain"
	"agri-token-ledger/internal/storage"
)

// TransactionStore is a PostgreSQL implementation of storage.TransactionStore.
type TransactionStore struct {
	pool *Pool
}

// NewTransactionStore creates a new PostgreSQL transaction store.
func NewTransactionStore(pool *Pool) *TransactionStore {
	return &TransactionStore{pool: pool}
}

const transactionColumns = `
	hash, type, status, from_address, to_address, asset_id, investment_id,
	amount::text, fees::text, signatures, confirmations, block_number, reference,
	created_at, updated_at`

// Insert adds a new transaction. Returns ErrDuplicateKey if the hash exists.
func (s *TransactionStore) Insert(ctx context.Context, tx *domain.Transaction) error {
	if tx == nil || tx.Hash == "" || !tx.Status.IsValid() {
		return storage.ErrInvalidInput
	}

	createdAt := tx.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	signatures := tx.Signatures
	if signatures == nil {
		signatures = []string{}
	}

	query := `
		INSERT INTO transactions (
			hash, type, status, from_address, to_address, asset_id, investment_id,
			amount, fees, signatures, confirmations, block_number, reference, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10, $11, $12, $13, $14)
		RETURNING created_at, updated_at
	`

	err := s.pool.QueryRow(ctx, query,
		tx.Hash,
		string(tx.Type),
		string(tx.Status),
		tx.From,
		tx.To,
		tx.AssetID,
		tx.InvestmentID,
		tx.Amount.String(),
		tx.Fees.String(),
		signatures,
		tx.Confirmations,
		tx.BlockNumber,
		tx.Reference,
		createdAt,
	).Scan(&tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// GetByHash retrieves a transaction. Returns ErrNotFound if not exists.
func (s *TransactionStore) GetByHash(ctx context.Context, hash string) (*domain.Transaction, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE hash = $1`, hash)
	tx, err := scanTransaction(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

// GetByReference retrieves the most recent transaction submitted with ref.
func (s *TransactionStore) GetByReference(ctx context.Context, ref string) (*domain.Transaction, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE reference = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, ref)
	tx, err := scanTransaction(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get transaction by reference: %w", err)
	}
	return tx, nil
}

// MarkTerminal moves a pending transaction to a terminal status.
func (s *TransactionStore) MarkTerminal(ctx context.Context, hash string, status domain.TxStatus, block uint64) (bool, error) {
	if !status.IsTerminal() {
		return false, storage.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE transactions
		SET status = $2,
		    block_number = CASE WHEN $3::bigint > 0 THEN $3::bigint ELSE block_number END,
		    updated_at = NOW()
		WHERE hash = $1 AND status = 'pending'
	`, hash, string(status), block)
	if err != nil {
		return false, fmt.Errorf("mark transaction terminal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetByHash(ctx, hash); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// UpdateConfirmations sets the confirmation count.
func (s *TransactionStore) UpdateConfirmations(ctx context.Context, hash string, confirmations int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE transactions SET confirmations = $2, updated_at = NOW() WHERE hash = $1
	`, hash, confirmations)
	if err != nil {
		return fmt.Errorf("update confirmations: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListPending retrieves pending transactions created before olderThan.
func (s *TransactionStore) ListPending(ctx context.Context, olderThan time.Time) ([]*domain.Transaction, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+transactionColumns+` FROM transactions
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC, hash ASC
	`, olderThan)
	if err != nil {
		return nil, fmt.Errorf("query pending transactions: %w", err)
	}
	defer rows.Close()

	var result []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction row: %w", err)
		}
		result = append(result, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transaction rows: %w", err)
	}
	return result, nil
}

// scanTransaction scans a row selected with transactionColumns.
func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	var txType, status, amount, fees string

	err := row.Scan(
		&tx.Hash,
		&txType,
		&status,
		&tx.From,
		&tx.To,
		&tx.AssetID,
		&tx.InvestmentID,
		&amount,
		&fees,
		&tx.Signatures,
		&tx.Confirmations,
		&tx.BlockNumber,
		&tx.Reference,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Type = domain.TxType(txType)
	tx.Status = domain.TxStatus(status)
	if tx.Amount, err = parseDecimal(amount); err != nil {
		return nil, err
	}
	if tx.Fees, err = parseDecimal(fees); err != nil {
		return nil, err
	}
	if len(tx.Signatures) == 0 {
		tx.Signatures = nil
	}
	return &tx, nil
}

// Compile-time interface check.
var _ storage.TransactionStore = (*TransactionStore)(nil)
