package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/jmoiron/sqlx"

	"github.com/spwatcher/spwatcher/internal/core/domain"
)

// BlockRepo implements storage.BlockRepository using PostgreSQL.
type BlockRepo struct {
	db *DB
}

// NewBlockRepo creates a new PostgreSQL block repository.
func NewBlockRepo(db *DB) *BlockRepo {
	return &BlockRepo{db: db}
}

const upsertBlockQuery = `
	INSERT INTO blocks (height, hash, parent_hash, status)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (height) DO UPDATE SET
		hash = EXCLUDED.hash,
		parent_hash = EXCLUDED.parent_hash,
		status = EXCLUDED.status
`

// Save saves a block header.
func (r *BlockRepo) Save(ctx context.Context, block *domain.Block) error {
	_, err := r.db.ExecContext(ctx, upsertBlockQuery,
		block.Height,
		block.Hash[:],
		block.ParentHash[:],
		string(block.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to save block: %w", err)
	}
	return nil
}

func saveBlock(ctx context.Context, tx *sqlx.Tx, block *domain.Block) error {
	_, err := tx.ExecContext(ctx, upsertBlockQuery,
		block.Height,
		block.Hash[:],
		block.ParentHash[:],
		string(block.Status),
	)
	if err != nil {
		return fmt.Errorf("failed to save block: %w", err)
	}
	return nil
}

type blockRow struct {
	Height     uint64 `db:"height"`
	Hash       []byte `db:"hash"`
	ParentHash []byte `db:"parent_hash"`
	Status     string `db:"status"`
}

func (b *blockRow) toDomain() *domain.Block {
	return &domain.Block{
		Height:     b.Height,
		Hash:       hashFromBytes(b.Hash),
		ParentHash: hashFromBytes(b.ParentHash),
		Status:     domain.BlockStatus(b.Status),
	}
}

// GetByHeight retrieves a block by height, (nil, nil) when absent.
func (r *BlockRepo) GetByHeight(ctx context.Context, height uint64) (*domain.Block, error) {
	var row blockRow
	err := r.db.GetContext(ctx, &row, `
		SELECT height, hash, parent_hash, status FROM blocks WHERE height = $1
	`, height)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block %d: %w", height, err)
	}
	return row.toDomain(), nil
}

// GetByHash retrieves a block by hash, (nil, nil) when absent.
func (r *BlockRepo) GetByHash(ctx context.Context, hash chainhash.Hash) (*domain.Block, error) {
	var row blockRow
	err := r.db.GetContext(ctx, &row, `
		SELECT height, hash, parent_hash, status FROM blocks WHERE hash = $1
	`, hash[:])
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get block %s: %w", hash, err)
	}
	return row.toDomain(), nil
}

// GetLatest retrieves the highest stored block, (nil, nil) when empty.
func (r *BlockRepo) GetLatest(ctx context.Context) (*domain.Block, error) {
	var row blockRow
	err := r.db.GetContext(ctx, &row, `
		SELECT height, hash, parent_hash, status FROM blocks
		ORDER BY height DESC LIMIT 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest block: %w", err)
	}
	return row.toDomain(), nil
}

// UpdateStatus updates a block's status.
func (r *BlockRepo) UpdateStatus(ctx context.Context, height uint64, status domain.BlockStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE blocks SET status = $1 WHERE height = $2
	`, string(status), height)
	if err != nil {
		return fmt.Errorf("failed to update block status: %w", err)
	}
	return nil
}

// DeleteAbove removes blocks above the given height.
func (r *BlockRepo) DeleteAbove(ctx context.Context, height uint64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM blocks WHERE height > $1`, height)
	if err != nil {
		return fmt.Errorf("failed to delete blocks: %w", err)
	}
	return nil
}
