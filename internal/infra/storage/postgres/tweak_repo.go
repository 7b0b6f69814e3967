package postgres

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/spwatcher/spwatcher/internal/core/domain"
)

// TweakRepo implements storage.TweakRepository using PostgreSQL. Taproot
// outputs are packed into one bytea column as fixed-width 48-byte records,
// the same flat binary layout the payments themselves use for keys.
type TweakRepo struct {
	db *DB
}

// NewTweakRepo creates a new PostgreSQL tweak repository.
func NewTweakRepo(db *DB) *TweakRepo {
	return &TweakRepo{db: db}
}

const insertTweakQuery = `
	INSERT INTO tweaks (txid, height, tweak, outputs)
	VALUES ($1, $2, $3, $4)
	ON CONFLICT (txid) DO NOTHING
`

// SaveBatch persists tweak records, skipping duplicates.
func (r *TweakRepo) SaveBatch(ctx context.Context, records []*domain.TweakRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := saveTweaks(ctx, tx, records); err != nil {
		return err
	}
	return tx.Commit()
}

func saveTweaks(ctx context.Context, tx *sqlx.Tx, records []*domain.TweakRecord) error {
	stmt, err := tx.PrepareContext(ctx, insertTweakQuery)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		_, err := stmt.ExecContext(ctx,
			rec.Txid[:],
			rec.Height,
			rec.TweakPoint[:],
			packOutputs(rec.Outputs),
		)
		if err != nil {
			return fmt.Errorf("failed to save tweak record: %w", err)
		}
	}
	return nil
}

type tweakRow struct {
	Txid    []byte `db:"txid"`
	Height  uint64 `db:"height"`
	Tweak   []byte `db:"tweak"`
	Outputs []byte `db:"outputs"`
}

// GetByHeightRange returns tweak records in [start, end] ordered by height
// then txid.
func (r *TweakRepo) GetByHeightRange(ctx context.Context, start, end uint64) ([]*domain.TweakRecord, error) {
	var rows []tweakRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT txid, height, tweak, outputs FROM tweaks
		WHERE height >= $1 AND height <= $2
		ORDER BY height, txid
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query tweaks: %w", err)
	}

	records := make([]*domain.TweakRecord, 0, len(rows))
	for i := range rows {
		rec := &domain.TweakRecord{Height: rows[i].Height}
		copy(rec.Txid[:], rows[i].Txid)
		copy(rec.TweakPoint[:], rows[i].Tweak)

		outs, err := unpackOutputs(rows[i].Outputs)
		if err != nil {
			return nil, fmt.Errorf("corrupt outputs for tweak %s: %w", rec.Txid, err)
		}
		rec.Outputs = outs
		records = append(records, rec)
	}
	return records, nil
}

// DeleteAbove removes tweak records above the given height.
func (r *TweakRepo) DeleteAbove(ctx context.Context, height uint64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM tweaks WHERE height > $1`, height)
	if err != nil {
		return fmt.Errorf("failed to delete tweaks: %w", err)
	}
	return nil
}

// outputRecordSize is vout(4) + taproot_index(4) + value(8) + key(32).
const outputRecordSize = 48

func packOutputs(outs []domain.TaprootOutput) []byte {
	buf := make([]byte, 0, len(outs)*outputRecordSize)
	for i := range outs {
		var rec [outputRecordSize]byte
		binary.BigEndian.PutUint32(rec[0:4], outs[i].Vout)
		binary.BigEndian.PutUint32(rec[4:8], outs[i].TaprootIndex)
		binary.BigEndian.PutUint64(rec[8:16], uint64(outs[i].Value))
		copy(rec[16:48], outs[i].OutputKey[:])
		buf = append(buf, rec[:]...)
	}
	return buf
}

func unpackOutputs(buf []byte) ([]domain.TaprootOutput, error) {
	if len(buf)%outputRecordSize != 0 {
		return nil, fmt.Errorf("length %d is not a multiple of %d", len(buf), outputRecordSize)
	}

	outs := make([]domain.TaprootOutput, 0, len(buf)/outputRecordSize)
	for off := 0; off < len(buf); off += outputRecordSize {
		rec := buf[off : off+outputRecordSize]
		out := domain.TaprootOutput{
			Vout:         binary.BigEndian.Uint32(rec[0:4]),
			TaprootIndex: binary.BigEndian.Uint32(rec[4:8]),
			Value:        int64(binary.BigEndian.Uint64(rec[8:16])),
		}
		copy(out.OutputKey[:], rec[16:48])
		outs = append(outs, out)
	}
	return outs, nil
}
