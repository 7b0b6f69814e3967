package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/jmoiron/sqlx"

	"github.com/spwatcher/spwatcher/internal/core/domain"
)

// CursorRepo implements storage.CursorRepository using PostgreSQL. There is
// a single watermark row.
type CursorRepo struct {
	db *DB
}

// NewCursorRepo creates a new PostgreSQL cursor repository.
func NewCursorRepo(db *DB) *CursorRepo {
	return &CursorRepo{db: db}
}

type cursorRow struct {
	Height    uint64    `db:"height"`
	Hash      []byte    `db:"hash"`
	State     string    `db:"state"`
	UpdatedAt time.Time `db:"updated_at"`
}

// Get returns the watermark, (nil, nil) when none exists yet.
func (r *CursorRepo) Get(ctx context.Context) (*domain.Cursor, error) {
	var row cursorRow
	err := r.db.GetContext(ctx, &row, `
		SELECT height, hash, state, updated_at FROM cursor_state WHERE id = 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}

	cursor := &domain.Cursor{
		Height:    row.Height,
		State:     domain.CursorState(row.State),
		UpdatedAt: row.UpdatedAt,
	}
	copy(cursor.Hash[:], row.Hash)
	return cursor, nil
}

// Save upserts the whole watermark row.
func (r *CursorRepo) Save(ctx context.Context, cursor *domain.Cursor) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cursor_state (id, height, hash, state, updated_at)
		VALUES (1, $1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE SET
			height = EXCLUDED.height,
			hash = EXCLUDED.hash,
			state = EXCLUDED.state,
			updated_at = EXCLUDED.updated_at
	`, cursor.Height, cursor.Hash[:], string(cursor.State))
	if err != nil {
		return fmt.Errorf("failed to save cursor: %w", err)
	}
	return nil
}

// UpdateBlock advances the watermark position, preserving state.
func (r *CursorRepo) UpdateBlock(ctx context.Context, height uint64, hash chainhash.Hash) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO cursor_state (id, height, hash, state, updated_at)
		VALUES (1, $1, $2, 'synced', now())
		ON CONFLICT (id) DO UPDATE SET
			height = EXCLUDED.height,
			hash = EXCLUDED.hash,
			updated_at = EXCLUDED.updated_at
	`, height, hash[:])
	if err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}
	return nil
}

// advanceCursor moves the watermark inside the caller's transaction,
// creating it on first use and preserving state afterwards.
func advanceCursor(ctx context.Context, tx *sqlx.Tx, height uint64, hash chainhash.Hash) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO cursor_state (id, height, hash, state, updated_at)
		VALUES (1, $1, $2, 'synced', now())
		ON CONFLICT (id) DO UPDATE SET
			height = EXCLUDED.height,
			hash = EXCLUDED.hash,
			updated_at = EXCLUDED.updated_at
	`, height, hash[:])
	if err != nil {
		return fmt.Errorf("failed to advance cursor: %w", err)
	}
	return nil
}

// UpdateState changes only the state.
func (r *CursorRepo) UpdateState(ctx context.Context, state domain.CursorState) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE cursor_state SET state = $1, updated_at = now() WHERE id = 1
	`, string(state))
	if err != nil {
		return fmt.Errorf("failed to update cursor state: %w", err)
	}
	return nil
}

// Rollback moves the watermark back and marks the reorging state.
func (r *CursorRepo) Rollback(ctx context.Context, height uint64, hash chainhash.Hash) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE cursor_state SET height = $1, hash = $2, state = 'reorging', updated_at = now()
		WHERE id = 1
	`, height, hash[:])
	if err != nil {
		return fmt.Errorf("failed to rollback cursor: %w", err)
	}
	return nil
}
