package storage

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/spwatcher/spwatcher/internal/core/domain"
)

// PaymentKey is the restart cursor for ordered payment queries: the last
// (height, txid, vout) the caller has seen.
type PaymentKey struct {
	Height uint64
	Txid   chainhash.Hash
	Vout   uint32
}

// QueryOptions bounds and pages a payment query. MaxHeight 0 means
// unbounded; Limit 0 means no limit. After resumes a previous query just
// past the given key.
type QueryOptions struct {
	MinHeight uint64
	MaxHeight uint64
	After     *PaymentKey
	Limit     int
}

// BlockCommit is everything a fully scanned block writes: the block row,
// the detected payments and the public tweak records. It is committed
// atomically so readers never observe a partially indexed block.
type BlockCommit struct {
	Block    *domain.Block
	Payments []*domain.DetectedPayment
	Tweaks   []*domain.TweakRecord
}

// PaymentRepository stores detected payments.
type PaymentRepository interface {
	// SaveBatch appends payments. Idempotent on (identity, txid, vout,
	// label): duplicates are silently skipped.
	SaveBatch(ctx context.Context, payments []*domain.DetectedPayment) error

	// Query returns payments for an identity ordered by height, txid
	// bytes, vout.
	Query(ctx context.Context, identityID int64, opts QueryOptions) ([]*domain.DetectedPayment, error)

	// DeleteAbove removes all payments above the given height and
	// returns the count removed.
	DeleteAbove(ctx context.Context, height uint64) (int64, error)
}

// BlockRepository stores processed block headers.
type BlockRepository interface {
	Save(ctx context.Context, block *domain.Block) error
	GetByHeight(ctx context.Context, height uint64) (*domain.Block, error)
	GetByHash(ctx context.Context, hash chainhash.Hash) (*domain.Block, error)
	GetLatest(ctx context.Context) (*domain.Block, error)
	UpdateStatus(ctx context.Context, height uint64, status domain.BlockStatus) error
	DeleteAbove(ctx context.Context, height uint64) error
}

// TweakRepository stores per-transaction tweak records for rescans.
type TweakRepository interface {
	SaveBatch(ctx context.Context, records []*domain.TweakRecord) error

	// GetByHeightRange returns records with start <= height <= end,
	// ordered by height then txid.
	GetByHeightRange(ctx context.Context, start, end uint64) ([]*domain.TweakRecord, error)

	DeleteAbove(ctx context.Context, height uint64) error
}

// IdentityRepository stores registered scan identities.
type IdentityRepository interface {
	// Save registers a new identity and returns its assigned ID.
	// Identities are immutable; re-registration inserts a new row.
	Save(ctx context.Context, identity *domain.ScanIdentity) (int64, error)

	GetAll(ctx context.Context) ([]*domain.ScanIdentity, error)
	GetByID(ctx context.Context, id int64) (*domain.ScanIdentity, error)
	Delete(ctx context.Context, id int64) error

	// SetCoveredHeight raises the identity's replay coverage watermark.
	// Lower values are ignored so out-of-order rescan completions cannot
	// regress it.
	SetCoveredHeight(ctx context.Context, id int64, height uint64) error
}

// CursorRepository stores the last-committed-height watermark. Get returns
// (nil, nil) when no cursor exists yet.
type CursorRepository interface {
	Get(ctx context.Context) (*domain.Cursor, error)
	Save(ctx context.Context, cursor *domain.Cursor) error
	UpdateBlock(ctx context.Context, height uint64, hash chainhash.Hash) error
	UpdateState(ctx context.Context, state domain.CursorState) error
	Rollback(ctx context.Context, height uint64, hash chainhash.Hash) error
}

// UnitOfWork groups the writes that must be atomic per block.
type UnitOfWork interface {
	// CommitBlock persists a scanned block's batch in one transaction.
	CommitBlock(ctx context.Context, commit *BlockCommit) error

	// RollbackAbove removes payments, tweaks and blocks above the given
	// height in one transaction and returns the number of payments
	// removed.
	RollbackAbove(ctx context.Context, height uint64) (int64, error)
}
