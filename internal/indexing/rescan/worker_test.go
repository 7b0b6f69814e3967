package rescan

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/spwatcher/spwatcher/internal/core/domain"
	redisclient "github.com/spwatcher/spwatcher/internal/infra/redis"
	"github.com/spwatcher/spwatcher/internal/infra/storage"
	"github.com/spwatcher/spwatcher/internal/infra/storage/memory"
	"github.com/spwatcher/spwatcher/internal/scan/match"
)

func taskFor(id int64, start, end uint64) redisclient.Task {
	return redisclient.Task{IdentityID: id, Start: start, End: end}
}

func newTestWorker(store *memory.MemoryStorage) *Worker {
	return NewWorker(
		DefaultConfig(),
		nil,
		match.NewMatcher(nil),
		memory.NewIdentityRepo(store),
		memory.NewTweakRepo(store),
		memory.NewPaymentRepo(store),
		memory.NewCursorRepo(store),
	)
}

func setCursor(t *testing.T, store *memory.MemoryStorage, height uint64) {
	t.Helper()
	err := memory.NewCursorRepo(store).Save(context.Background(), &domain.Cursor{
		Height: height,
		State:  domain.CursorStateSynced,
	})
	if err != nil {
		t.Fatalf("cursor save failed: %v", err)
	}
}

// A task whose range reaches past the watermark is parked, not run:
// records for those heights are not all committed yet. This is what lets
// registration queue one block past the tip safely.
func TestProcessTask_WaitsForWatermark(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	w := newTestWorker(store)

	setCursor(t, store, 100)
	task := taskFor(1, 0, 101)
	if err := w.processTask(ctx, task); !errors.Is(err, errWatermarkBehind) {
		t.Errorf("expected errWatermarkBehind for range past tip, got: %v", err)
	}
}

func TestProcessTask_NoCursorDefers(t *testing.T) {
	ctx := context.Background()
	w := newTestWorker(memory.NewMemoryStorage())

	if err := w.processTask(ctx, taskFor(1, 0, 10)); !errors.Is(err, errWatermarkBehind) {
		t.Errorf("expected errWatermarkBehind with no cursor, got: %v", err)
	}
}

func TestProcessTask_UnknownIdentityDropped(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	w := newTestWorker(store)

	setCursor(t, store, 100)
	// Covered range, but the identity was deleted after queueing.
	if err := w.processTask(ctx, taskFor(99, 0, 100)); err != nil {
		t.Errorf("expected dropped task for unknown identity, got: %v", err)
	}
}

// A rollback that crosses a replaying chunk must not leave the replayed
// payments stranded above the new tip.
func TestPruneIfRolledBack(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	w := newTestWorker(store)
	payRepo := memory.NewPaymentRepo(store)

	var txLow, txHigh chainhash.Hash
	txLow[0], txHigh[0] = 0x01, 0x02
	seed := []*domain.DetectedPayment{
		{IdentityID: 1, Txid: txLow, Height: 90, Value: 1},
		{IdentityID: 1, Txid: txHigh, Height: 120, Value: 2},
	}
	if err := payRepo.SaveBatch(ctx, seed); err != nil {
		t.Fatalf("SaveBatch failed: %v", err)
	}

	// The chain rolled back to 100 while the chunk through 120 replayed.
	setCursor(t, store, 100)
	if err := w.pruneIfRolledBack(ctx, 120); !errors.Is(err, errWatermarkBehind) {
		t.Fatalf("expected errWatermarkBehind after rollback, got: %v", err)
	}

	payments, err := payRepo.Query(ctx, 1, storage.QueryOptions{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(payments) != 1 || payments[0].Height != 90 {
		t.Errorf("expected only the payment below the tip to survive, got %d payments", len(payments))
	}
}

func TestPruneIfRolledBack_CoveredChunkIsNoop(t *testing.T) {
	ctx := context.Background()
	store := memory.NewMemoryStorage()
	w := newTestWorker(store)

	setCursor(t, store, 150)
	if err := w.pruneIfRolledBack(ctx, 120); err != nil {
		t.Errorf("expected covered chunk to pass, got: %v", err)
	}
}
