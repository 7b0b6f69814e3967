package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/spwatcher/spwatcher/internal/core/domain"
)

// IdentityRepo implements storage.IdentityRepository using PostgreSQL.
type IdentityRepo struct {
	db *DB
}

// NewIdentityRepo creates a new PostgreSQL identity repository.
func NewIdentityRepo(db *DB) *IdentityRepo {
	return &IdentityRepo{db: db}
}

// Save registers a new identity row and returns its assigned ID.
func (r *IdentityRepo) Save(ctx context.Context, identity *domain.ScanIdentity) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO scan_identities (scan_secret, scan_pubkey, spend_pubkey, num_labels, covered_height, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`,
		identity.ScanSecret[:],
		identity.ScanPubKey[:],
		identity.SpendPubKey[:],
		identity.NumLabels,
		identity.CoveredHeight,
		time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to save identity: %w", err)
	}
	return id, nil
}

type identityRow struct {
	ID            int64     `db:"id"`
	ScanSecret    []byte    `db:"scan_secret"`
	ScanPubKey    []byte    `db:"scan_pubkey"`
	SpendPubKey   []byte    `db:"spend_pubkey"`
	NumLabels     uint32    `db:"num_labels"`
	CoveredHeight uint64    `db:"covered_height"`
	CreatedAt     time.Time `db:"created_at"`
}

func (r *identityRow) toDomain() *domain.ScanIdentity {
	ident := &domain.ScanIdentity{
		ID:            r.ID,
		NumLabels:     r.NumLabels,
		CoveredHeight: r.CoveredHeight,
		CreatedAt:     r.CreatedAt,
	}
	copy(ident.ScanSecret[:], r.ScanSecret)
	copy(ident.ScanPubKey[:], r.ScanPubKey)
	copy(ident.SpendPubKey[:], r.SpendPubKey)
	return ident
}

// GetAll returns all registered identities in registration order.
func (r *IdentityRepo) GetAll(ctx context.Context) ([]*domain.ScanIdentity, error) {
	var rows []identityRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT id, scan_secret, scan_pubkey, spend_pubkey, num_labels, covered_height, created_at
		FROM scan_identities ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query identities: %w", err)
	}

	identities := make([]*domain.ScanIdentity, 0, len(rows))
	for i := range rows {
		identities = append(identities, rows[i].toDomain())
	}
	return identities, nil
}

// GetByID returns one identity, (nil, nil) when absent.
func (r *IdentityRepo) GetByID(ctx context.Context, id int64) (*domain.ScanIdentity, error) {
	var row identityRow
	err := r.db.GetContext(ctx, &row, `
		SELECT id, scan_secret, scan_pubkey, spend_pubkey, num_labels, covered_height, created_at
		FROM scan_identities WHERE id = $1
	`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get identity %d: %w", id, err)
	}
	return row.toDomain(), nil
}

// SetCoveredHeight raises the replay coverage watermark, never lowers it.
func (r *IdentityRepo) SetCoveredHeight(ctx context.Context, id int64, height uint64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE scan_identities SET covered_height = GREATEST(covered_height, $2)
		WHERE id = $1
	`, id, height)
	if err != nil {
		return fmt.Errorf("failed to set covered height for identity %d: %w", id, err)
	}
	return nil
}

// Delete removes an identity and, via cascade, its payments.
func (r *IdentityRepo) Delete(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM scan_identities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete identity %d: %w", id, err)
	}
	return nil
}
