package reorg

import (
	"context"
	"errors"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/spwatcher/spwatcher/internal/core/cursor"
	"github.com/spwatcher/spwatcher/internal/core/domain"
	"github.com/spwatcher/spwatcher/internal/infra/storage"
)

type mockCursorManager struct {
	cursor         domain.Cursor
	rollbackCalled bool
	rollbackHeight uint64
}

func (m *mockCursorManager) Get(ctx context.Context) (*domain.Cursor, error) {
	c := m.cursor
	return &c, nil
}

func (m *mockCursorManager) Initialize(ctx context.Context, height uint64, hash chainhash.Hash) (*domain.Cursor, error) {
	return nil, nil
}

func (m *mockCursorManager) Advance(ctx context.Context, height uint64, hash chainhash.Hash) error {
	return nil
}

func (m *mockCursorManager) SetState(ctx context.Context, newState cursor.State, reason string) error {
	m.cursor.State = newState
	return nil
}

func (m *mockCursorManager) Rollback(ctx context.Context, safeHeight uint64, safeHash chainhash.Hash) error {
	m.rollbackCalled = true
	m.rollbackHeight = safeHeight
	m.cursor.Height = safeHeight
	m.cursor.Hash = safeHash
	m.cursor.State = domain.CursorStateReorging
	return nil
}

func (m *mockCursorManager) Pause(ctx context.Context, reason string) error { return nil }
func (m *mockCursorManager) Resume(ctx context.Context) error               { return nil }

func (m *mockCursorManager) GetLag(ctx context.Context, tipHeight uint64) (int64, error) {
	return 0, nil
}

func (m *mockCursorManager) GetMetrics() cursor.Metrics { return cursor.Metrics{} }

func (m *mockCursorManager) SetStateChangeCallback(fn func(t cursor.Transition)) {}

type mockUnitOfWork struct {
	rollbackAbove  []uint64
	removedPerCall int64
}

func (u *mockUnitOfWork) CommitBlock(ctx context.Context, commit *storage.BlockCommit) error {
	return nil
}

func (u *mockUnitOfWork) RollbackAbove(ctx context.Context, height uint64) (int64, error) {
	u.rollbackAbove = append(u.rollbackAbove, height)
	return u.removedPerCall, nil
}

func TestHandler_Disconnect(t *testing.T) {
	blockRepo := newMockBlockRepo()
	blockRepo.addBlock(99, hashOf(0x63), hashOf(0x62))
	blockRepo.addBlock(100, hashOf(0x64), hashOf(0x63))

	cm := &mockCursorManager{cursor: domain.Cursor{
		Height: 100,
		Hash:   hashOf(0x64),
		State:  domain.CursorStateSynced,
	}}
	uow := &mockUnitOfWork{removedPerCall: 3}

	handler := NewHandler(Config{MaxDepth: 10}, uow, blockRepo, cm)

	var events []RevertEvent
	handler.SetRevertCallback(func(e RevertEvent) { events = append(events, e) })

	result, err := handler.Disconnect(context.Background(), 100, hashOf(0x64))
	if err != nil {
		t.Fatalf("Disconnect failed: %v", err)
	}

	if result.RemovedPayments != 3 {
		t.Errorf("expected 3 removed payments, got %d", result.RemovedPayments)
	}
	if len(uow.rollbackAbove) != 1 || uow.rollbackAbove[0] != 99 {
		t.Errorf("expected RollbackAbove(99), got %v", uow.rollbackAbove)
	}
	if !cm.rollbackCalled || cm.rollbackHeight != 99 {
		t.Errorf("expected cursor rollback to 99, got called=%v height=%d",
			cm.rollbackCalled, cm.rollbackHeight)
	}
	if len(events) != 1 || events[0].Height != 100 {
		t.Errorf("expected one revert event for height 100, got %v", events)
	}
}

func TestHandler_Disconnect_TipMismatch(t *testing.T) {
	cm := &mockCursorManager{cursor: domain.Cursor{
		Height: 100,
		Hash:   hashOf(0x64),
		State:  domain.CursorStateSynced,
	}}
	handler := NewHandler(Config{MaxDepth: 10}, &mockUnitOfWork{}, newMockBlockRepo(), cm)

	// Disconnect for a block that is not the tip.
	_, err := handler.Disconnect(context.Background(), 95, hashOf(0x5f))
	if !errors.Is(err, ErrTipMismatch) {
		t.Errorf("expected ErrTipMismatch, got: %v", err)
	}

	// Right height, wrong hash.
	_, err = handler.Disconnect(context.Background(), 100, hashOf(0x99))
	if !errors.Is(err, ErrTipMismatch) {
		t.Errorf("expected ErrTipMismatch for hash mismatch, got: %v", err)
	}
}

func TestHandler_Disconnect_DepthBound(t *testing.T) {
	blockRepo := newMockBlockRepo()
	for h := uint64(95); h <= 100; h++ {
		blockRepo.addBlock(h, hashOf(byte(h)), hashOf(byte(h-1)))
	}

	cm := &mockCursorManager{cursor: domain.Cursor{
		Height: 100,
		Hash:   hashOf(100),
		State:  domain.CursorStateSynced,
	}}
	handler := NewHandler(Config{MaxDepth: 2}, &mockUnitOfWork{}, blockRepo, cm)

	ctx := context.Background()
	if _, err := handler.Disconnect(ctx, 100, hashOf(100)); err != nil {
		t.Fatalf("disconnect 100 failed: %v", err)
	}
	if _, err := handler.Disconnect(ctx, 99, hashOf(99)); err != nil {
		t.Fatalf("disconnect 99 failed: %v", err)
	}

	// Third consecutive disconnect exceeds MaxDepth=2.
	_, err := handler.Disconnect(ctx, 98, hashOf(98))
	if !errors.Is(err, ErrTooDeep) {
		t.Errorf("expected ErrTooDeep, got: %v", err)
	}
}

func TestHandler_ResetClearsDepth(t *testing.T) {
	blockRepo := newMockBlockRepo()
	blockRepo.addBlock(99, hashOf(99), hashOf(98))
	blockRepo.addBlock(100, hashOf(100), hashOf(99))

	cm := &mockCursorManager{cursor: domain.Cursor{
		Height: 100,
		Hash:   hashOf(100),
		State:  domain.CursorStateSynced,
	}}
	handler := NewHandler(Config{MaxDepth: 1}, &mockUnitOfWork{}, blockRepo, cm)

	ctx := context.Background()
	if _, err := handler.Disconnect(ctx, 100, hashOf(100)); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	if handler.Depth() != 1 {
		t.Errorf("expected depth 1, got %d", handler.Depth())
	}

	handler.Reset()
	if handler.Depth() != 0 {
		t.Errorf("expected depth 0 after reset, got %d", handler.Depth())
	}

	// A fresh reorg after a connect gets the full budget again.
	cm.cursor = domain.Cursor{Height: 100, Hash: hashOf(100), State: domain.CursorStateSynced}
	blockRepo.addBlock(100, hashOf(100), hashOf(99))
	if _, err := handler.Disconnect(ctx, 100, hashOf(100)); err != nil {
		t.Errorf("disconnect after reset failed: %v", err)
	}
}
