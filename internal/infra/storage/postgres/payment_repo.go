package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/jmoiron/sqlx"

	"github.com/spwatcher/spwatcher/internal/core/domain"
	"github.com/spwatcher/spwatcher/internal/infra/storage"
)

// PaymentRepo implements storage.PaymentRepository using PostgreSQL.
type PaymentRepo struct {
	db *DB
}

// NewPaymentRepo creates a new PostgreSQL payment repository.
func NewPaymentRepo(db *DB) *PaymentRepo {
	return &PaymentRepo{db: db}
}

const insertPaymentQuery = `
	INSERT INTO payments (identity_id, label, txid, vout, value, height, tweak)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (identity_id, txid, vout, label) DO NOTHING
`

// SaveBatch appends payments, skipping duplicates.
func (r *PaymentRepo) SaveBatch(ctx context.Context, payments []*domain.DetectedPayment) error {
	if len(payments) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := savePayments(ctx, tx, payments); err != nil {
		return err
	}
	return tx.Commit()
}

func savePayments(ctx context.Context, tx *sqlx.Tx, payments []*domain.DetectedPayment) error {
	stmt, err := tx.PrepareContext(ctx, insertPaymentQuery)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, p := range payments {
		_, err := stmt.ExecContext(ctx,
			p.IdentityID,
			p.Label,
			p.Txid[:],
			p.Vout,
			p.Value,
			p.Height,
			p.Tweak[:],
		)
		if err != nil {
			return fmt.Errorf("failed to save payment: %w", err)
		}
	}
	return nil
}

type paymentRow struct {
	IdentityID int64  `db:"identity_id"`
	Label      uint32 `db:"label"`
	Txid       []byte `db:"txid"`
	Vout       uint32 `db:"vout"`
	Value      int64  `db:"value"`
	Height     uint64 `db:"height"`
	Tweak      []byte `db:"tweak"`
}

func (p *paymentRow) toDomain() *domain.DetectedPayment {
	out := &domain.DetectedPayment{
		IdentityID: p.IdentityID,
		Label:      p.Label,
		Vout:       p.Vout,
		Value:      p.Value,
		Height:     p.Height,
	}
	copy(out.Txid[:], p.Txid)
	copy(out.Tweak[:], p.Tweak)
	return out
}

// Query returns payments for an identity ordered by height, txid, vout.
func (r *PaymentRepo) Query(ctx context.Context, identityID int64, opts storage.QueryOptions) ([]*domain.DetectedPayment, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT identity_id, label, txid, vout, value, height, tweak
		FROM payments
		WHERE identity_id = $1 AND height >= $2
	`)
	args := []interface{}{identityID, opts.MinHeight}

	if opts.MaxHeight > 0 {
		args = append(args, opts.MaxHeight)
		fmt.Fprintf(&sb, " AND height <= $%d", len(args))
	}
	if opts.After != nil {
		args = append(args, opts.After.Height, opts.After.Txid[:], opts.After.Vout)
		fmt.Fprintf(&sb, " AND (height, txid, vout) > ($%d, $%d, $%d)",
			len(args)-2, len(args)-1, len(args))
	}
	sb.WriteString(" ORDER BY height, txid, vout")
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	var rows []paymentRow
	if err := r.db.SelectContext(ctx, &rows, sb.String(), args...); err != nil {
		return nil, fmt.Errorf("failed to query payments: %w", err)
	}

	payments := make([]*domain.DetectedPayment, 0, len(rows))
	for i := range rows {
		payments = append(payments, rows[i].toDomain())
	}
	return payments, nil
}

// DeleteAbove removes payments above the given height.
func (r *PaymentRepo) DeleteAbove(ctx context.Context, height uint64) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM payments WHERE height > $1`, height)
	if err != nil {
		return 0, fmt.Errorf("failed to delete payments: %w", err)
	}
	return res.RowsAffected()
}

// hashFromBytes converts a stored bytea back to a chainhash.
func hashFromBytes(b []byte) chainhash.Hash {
	var h chainhash.Hash
	copy(h[:], b)
	return h
}
