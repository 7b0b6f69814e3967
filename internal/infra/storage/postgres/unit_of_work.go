package postgres

import (
	"context"
	"fmt"

	"github.com/spwatcher/spwatcher/internal/core/domain"
	"github.com/spwatcher/spwatcher/internal/infra/storage"
)

// UnitOfWork implements storage.UnitOfWork: the per-block batch and the
// reorg rollback each run inside a single database transaction, so readers
// never observe a half-indexed block.
type UnitOfWork struct {
	db *DB
}

// NewUnitOfWork creates a new PostgreSQL unit of work.
func NewUnitOfWork(db *DB) *UnitOfWork {
	return &UnitOfWork{db: db}
}

// CommitBlock persists a scanned block's batch atomically. The watermark
// moves in the same transaction, so a crash can never leave index rows
// above the committed tip.
func (u *UnitOfWork) CommitBlock(ctx context.Context, commit *storage.BlockCommit) error {
	tx, err := u.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin commit: %w", err)
	}
	defer tx.Rollback()

	block := *commit.Block
	block.Status = domain.BlockStatusProcessed
	if err := saveBlock(ctx, tx, &block); err != nil {
		return err
	}
	if err := savePayments(ctx, tx, commit.Payments); err != nil {
		return err
	}
	if err := saveTweaks(ctx, tx, commit.Tweaks); err != nil {
		return err
	}
	if err := advanceCursor(ctx, tx, block.Height, block.Hash); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit block %d: %w", commit.Block.Height, err)
	}
	return nil
}

// RollbackAbove removes all index data above the given height atomically
// and returns the number of payments removed.
func (u *UnitOfWork) RollbackAbove(ctx context.Context, height uint64) (int64, error) {
	tx, err := u.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin rollback: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM payments WHERE height > $1`, height)
	if err != nil {
		return 0, fmt.Errorf("failed to delete payments: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM tweaks WHERE height > $1`, height); err != nil {
		return 0, fmt.Errorf("failed to delete tweaks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM blocks WHERE height > $1`, height); err != nil {
		return 0, fmt.Errorf("failed to delete blocks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit rollback above %d: %w", height, err)
	}
	return removed, nil
}
