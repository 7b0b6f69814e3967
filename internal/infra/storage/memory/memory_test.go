package memory

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/spwatcher/spwatcher/internal/core/domain"
	"github.com/spwatcher/spwatcher/internal/infra/storage"
)

func testHash(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	h[1] = 0xee
	return h
}

func testCommit(height uint64, hash, parent byte) *storage.BlockCommit {
	return &storage.BlockCommit{
		Block: &domain.Block{
			Height:     height,
			Hash:       testHash(hash),
			ParentHash: testHash(parent),
		},
		Payments: []*domain.DetectedPayment{{
			IdentityID: 1,
			Txid:       testHash(hash ^ 0x40),
			Vout:       0,
			Value:      10_000,
			Height:     height,
		}},
		Tweaks: []*domain.TweakRecord{{
			Txid:   testHash(hash ^ 0x40),
			Height: height,
		}},
	}
}

// The watermark moves inside the same commit as the batch: after
// CommitBlock returns there is never a window where payments exist above
// the cursor, no matter where a crash lands.
func TestUnitOfWork_CommitMovesWatermark(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	uow := NewUnitOfWork(store)

	if err := uow.CommitBlock(ctx, testCommit(5, 0x05, 0x04)); err != nil {
		t.Fatalf("CommitBlock failed: %v", err)
	}

	cur, err := NewCursorRepo(store).Get(ctx)
	if err != nil {
		t.Fatalf("cursor get failed: %v", err)
	}
	if cur == nil {
		t.Fatal("expected the commit to create the watermark")
	}
	if cur.Height != 5 || cur.Hash != testHash(0x05) {
		t.Errorf("expected watermark at 5/%s, got %d/%s", testHash(0x05), cur.Height, cur.Hash)
	}
	if cur.State != domain.CursorStateSynced {
		t.Errorf("expected synced state, got %s", cur.State)
	}

	payments, err := NewPaymentRepo(store).Query(ctx, 1, storage.QueryOptions{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	for _, p := range payments {
		if p.Height > cur.Height {
			t.Errorf("payment at height %d sits above watermark %d", p.Height, cur.Height)
		}
	}
}

func TestUnitOfWork_CommitPreservesCursorState(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	uow := NewUnitOfWork(store)
	cursorRepo := NewCursorRepo(store)

	if err := uow.CommitBlock(ctx, testCommit(5, 0x05, 0x04)); err != nil {
		t.Fatalf("CommitBlock failed: %v", err)
	}
	if err := cursorRepo.UpdateState(ctx, domain.CursorStateReorging); err != nil {
		t.Fatalf("UpdateState failed: %v", err)
	}

	// Connecting the replacement block moves the position but leaves the
	// state transition to the manager.
	if err := uow.CommitBlock(ctx, testCommit(6, 0x16, 0x05)); err != nil {
		t.Fatalf("CommitBlock failed: %v", err)
	}

	cur, _ := cursorRepo.Get(ctx)
	if cur.Height != 6 {
		t.Errorf("expected watermark at 6, got %d", cur.Height)
	}
	if cur.State != domain.CursorStateReorging {
		t.Errorf("expected reorging state preserved, got %s", cur.State)
	}
}

func TestIdentityRepo_SetCoveredHeightIsMonotonic(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStorage()
	repo := NewIdentityRepo(store)

	id, err := repo.Save(ctx, &domain.ScanIdentity{NumLabels: 1})
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := repo.SetCoveredHeight(ctx, id, 500); err != nil {
		t.Fatalf("SetCoveredHeight failed: %v", err)
	}
	// A later, lower completion must not regress the watermark.
	if err := repo.SetCoveredHeight(ctx, id, 300); err != nil {
		t.Fatalf("SetCoveredHeight failed: %v", err)
	}

	ident, err := repo.GetByID(ctx, id)
	if err != nil || ident == nil {
		t.Fatalf("GetByID failed: %v, %v", ident, err)
	}
	if ident.CoveredHeight != 500 {
		t.Errorf("expected covered height 500, got %d", ident.CoveredHeight)
	}
}
