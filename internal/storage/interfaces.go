package storage

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"agri-token-ledger/internal/domain"
)

// Cursor selects which asset block cursor an event advances.
type Cursor int

const (
	// CursorLedger is LastProcessedBlock, advanced by strictly ordered events.
	CursorLedger Cursor = iota
	// CursorMetadata is MetadataBlock, advanced by metadata updates.
	CursorMetadata
)

// AssetStore provides access to assets storage. Assets are never deleted.
type AssetStore interface {
	// Create adds a new asset. Returns ErrDuplicateKey if the id exists.
	Create(ctx context.Context, a *domain.Asset) error

	// GetByID retrieves an asset. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.Asset, error)

	// List retrieves all assets ordered by id.
	List(ctx context.Context) ([]*domain.Asset, error)

	// SetToken records the on-chain identity assigned at tokenization.
	SetToken(ctx context.Context, id, tokenID, contractAddress string) error

	// UpdateValuation sets Financials.CurrentValue.
	UpdateValuation(ctx context.Context, id string, value decimal.Decimal) error

	// ApplyEvent atomically loads the asset, runs mutate on it and persists
	// the result with the selected cursor set to block. Returns ErrStaleBlock
	// without calling mutate if block is not ahead of the cursor. The returned
	// asset reflects the persisted state.
	ApplyEvent(ctx context.Context, id string, cursor Cursor, block uint64, mutate func(a *domain.Asset) error) (*domain.Asset, error)
}

// InvestmentStore provides access to investments and the share reservation
// counter of their assets.
type InvestmentStore interface {
	// Reserve creates a pending investment and increments the asset's reserved
	// shares in one atomic conditional step. Returns *domain.ValidationError
	// if the request is invalid or the asset is not active, *domain.CapacityError
	// if the shares are unavailable, ErrNotFound if the asset does not exist.
	Reserve(ctx context.Context, inv *domain.Investment) (*domain.Investment, error)

	// Release cancels a pending investment and frees its shares.
	// A call on an already-cancelled investment is a no-op.
	// Returns ErrIllegalTransition for any other status.
	Release(ctx context.Context, id int64) (*domain.Investment, error)

	// Commit activates a pending investment and adds it to the asset
	// financials, guarded by a processed marker on txHash. Returns applied=false
	// with the current investment if the marker already exists.
	Commit(ctx context.Context, id int64, txHash string) (applied bool, inv *domain.Investment, err error)

	// Transition moves an active investment to completed or defaulted and
	// frees its shares. Returns ErrIllegalTransition for illegal moves.
	Transition(ctx context.Context, id int64, to domain.InvestmentStatus) (*domain.Investment, error)

	// AttachTransaction records the submission hash on a pending investment.
	AttachTransaction(ctx context.Context, id int64, txHash string) error

	// RecordPayout credits a payout once per Payout.Key. Returns false if the
	// key was already recorded.
	RecordPayout(ctx context.Context, p *domain.Payout) (bool, error)

	// GetByID retrieves an investment. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id int64) (*domain.Investment, error)

	// ListByAsset retrieves investments of an asset ordered by id ASC,
	// optionally filtered by status.
	ListByAsset(ctx context.Context, assetID string, statuses ...domain.InvestmentStatus) ([]*domain.Investment, error)

	// ListByInvestor retrieves investments of an investor ordered by id ASC.
	ListByInvestor(ctx context.Context, investorID string) ([]*domain.Investment, error)

	// ListPendingWithoutTransaction retrieves pending investments that have no
	// submission hash and were created before olderThan, ordered by id ASC.
	ListPendingWithoutTransaction(ctx context.Context, olderThan time.Time) ([]*domain.Investment, error)
}

// TransactionStore provides access to transactions storage.
type TransactionStore interface {
	// Insert adds a new transaction. Returns ErrDuplicateKey if the hash exists.
	Insert(ctx context.Context, tx *domain.Transaction) error

	// GetByHash retrieves a transaction. Returns ErrNotFound if not exists.
	GetByHash(ctx context.Context, hash string) (*domain.Transaction, error)

	// GetByReference retrieves the most recent transaction submitted with ref.
	GetByReference(ctx context.Context, ref string) (*domain.Transaction, error)

	// MarkTerminal moves a pending transaction to a terminal status.
	// Returns false if it was not pending.
	MarkTerminal(ctx context.Context, hash string, status domain.TxStatus, block uint64) (bool, error)

	// UpdateConfirmations sets the confirmation count.
	UpdateConfirmations(ctx context.Context, hash string, confirmations int) error

	// ListPending retrieves pending transactions created before olderThan,
	// ordered by created_at ASC.
	ListPending(ctx context.Context, olderThan time.Time) ([]*domain.Transaction, error)
}

// DistributionStore provides access to distribution job checkpoints.
type DistributionStore interface {
	// Save inserts or replaces a job.
	Save(ctx context.Context, job *domain.DistributionJob) error

	// GetByID retrieves a job. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.DistributionJob, error)

	// ListByAsset retrieves jobs of an asset ordered by created_at ASC.
	ListByAsset(ctx context.Context, assetID string) ([]*domain.DistributionJob, error)
}

// PayoutSeriesStore provides access to the payout time series.
type PayoutSeriesStore interface {
	// InsertBulk appends points.
	InsertBulk(ctx context.Context, points []*domain.PayoutPoint) error

	// GetByInvestment retrieves points of an investment ordered by paid_at ASC.
	GetByInvestment(ctx context.Context, investmentID int64) ([]*domain.PayoutPoint, error)

	// GetByAsset retrieves points of an asset ordered by paid_at ASC.
	GetByAsset(ctx context.Context, assetID string) ([]*domain.PayoutPoint, error)
}

// PendingEventStore holds out-of-order chain events until they can be applied.
// An event is keyed by (AssetID, BlockNumber, Type).
type PendingEventStore interface {
	// Add stores ev. Returns ErrDuplicateKey if the key is already held.
	Add(ctx context.Context, ev *domain.ChainEvent) error

	// Remove deletes an event. Removing a missing event is not an error.
	Remove(ctx context.Context, assetID string, block uint64, eventType domain.EventType) error

	// ListByAsset retrieves the events of an asset ordered by block ASC.
	ListByAsset(ctx context.Context, assetID string) ([]*domain.ChainEvent, error)

	// ListAssets retrieves the ids of assets with held events.
	ListAssets(ctx context.Context) ([]string, error)
}
