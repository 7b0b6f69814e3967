package cursor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/spwatcher/spwatcher/internal/core/domain"
)

// =============================================================================
// Mock Repository
// =============================================================================

type mockCursorRepo struct {
	mu     sync.RWMutex
	cursor *domain.Cursor
}

func newMockCursorRepo() *mockCursorRepo {
	return &mockCursorRepo{}
}

func (r *mockCursorRepo) Get(ctx context.Context) (*domain.Cursor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.cursor == nil {
		return nil, nil
	}
	// Return a copy
	c := *r.cursor
	return &c, nil
}

func (r *mockCursorRepo) Save(ctx context.Context, cursor *domain.Cursor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := *cursor
	c.UpdatedAt = time.Now()
	r.cursor = &c
	return nil
}

func (r *mockCursorRepo) UpdateBlock(ctx context.Context, height uint64, hash chainhash.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cursor == nil {
		return ErrCursorNotFound
	}
	r.cursor.Height = height
	r.cursor.Hash = hash
	r.cursor.UpdatedAt = time.Now()
	return nil
}

func (r *mockCursorRepo) UpdateState(ctx context.Context, state domain.CursorState) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cursor == nil {
		return ErrCursorNotFound
	}
	r.cursor.State = state
	r.cursor.UpdatedAt = time.Now()
	return nil
}

func (r *mockCursorRepo) Rollback(ctx context.Context, height uint64, hash chainhash.Hash) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cursor == nil {
		return ErrCursorNotFound
	}
	r.cursor.Height = height
	r.cursor.Hash = hash
	r.cursor.UpdatedAt = time.Now()
	return nil
}

func testHash(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

// =============================================================================
// State Transition Tests
// =============================================================================

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name     string
		from     State
		to       State
		expected bool
	}{
		{"init to synced", domain.CursorStateInit, domain.CursorStateSynced, true},
		{"init to rescanning", domain.CursorStateInit, domain.CursorStateRescanning, true},
		{"init to reorging", domain.CursorStateInit, domain.CursorStateReorging, false},
		{"synced to reorging", domain.CursorStateSynced, domain.CursorStateReorging, true},
		{"synced to rescanning", domain.CursorStateSynced, domain.CursorStateRescanning, true},
		{"synced to paused", domain.CursorStateSynced, domain.CursorStatePaused, true},
		{"paused to synced", domain.CursorStatePaused, domain.CursorStateSynced, true},
		{"paused to reorging", domain.CursorStatePaused, domain.CursorStateReorging, false},
		{"reorging to synced", domain.CursorStateReorging, domain.CursorStateSynced, true},
		{"reorging to paused", domain.CursorStateReorging, domain.CursorStatePaused, false},
		{"rescanning to synced", domain.CursorStateRescanning, domain.CursorStateSynced, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CanTransition(tt.from, tt.to)
			if result != tt.expected {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, result, tt.expected)
			}
		})
	}
}

func TestTransitionIsValid(t *testing.T) {
	valid := NewTransition(domain.CursorStateSynced, domain.CursorStatePaused, "maintenance")
	if !valid.IsValid() {
		t.Error("expected transition synced->paused to be valid")
	}

	invalid := NewTransition(domain.CursorStatePaused, domain.CursorStateReorging, "unexpected")
	if invalid.IsValid() {
		t.Error("expected transition paused->reorging to be invalid")
	}
}

// =============================================================================
// Manager Tests
// =============================================================================

func TestManagerInitialize(t *testing.T) {
	repo := newMockCursorRepo()
	manager := NewManager(repo)

	ctx := context.Background()
	cursor, err := manager.Initialize(ctx, 1000, testHash(0xaa))

	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if cursor.Height != 1000 {
		t.Errorf("expected height 1000, got %d", cursor.Height)
	}
	if cursor.State != domain.CursorStateInit {
		t.Errorf("expected state init, got %s", cursor.State)
	}
}

func TestManagerGet_NotFound(t *testing.T) {
	repo := newMockCursorRepo()
	manager := NewManager(repo)

	_, err := manager.Get(context.Background())
	if !errors.Is(err, ErrCursorNotFound) {
		t.Errorf("expected ErrCursorNotFound, got: %v", err)
	}
}

func TestManagerAdvance(t *testing.T) {
	repo := newMockCursorRepo()
	manager := NewManager(repo)
	ctx := context.Background()

	_, err := manager.Initialize(ctx, 1000, testHash(0xaa))
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	_ = manager.SetState(ctx, domain.CursorStateSynced, "start")

	// Advance to 1001 should succeed
	err = manager.Advance(ctx, 1001, testHash(0xbb))
	if err != nil {
		t.Errorf("Advance to 1001 failed: %v", err)
	}

	cursor, _ := manager.Get(ctx)
	if cursor.Height != 1001 {
		t.Errorf("expected height 1001, got %d", cursor.Height)
	}
}

func TestManagerAdvance_DuplicateIsNoop(t *testing.T) {
	repo := newMockCursorRepo()
	manager := NewManager(repo)
	ctx := context.Background()

	_, _ = manager.Initialize(ctx, 1000, testHash(0xaa))
	_ = manager.SetState(ctx, domain.CursorStateSynced, "start")

	if err := manager.Advance(ctx, 1001, testHash(0xbb)); err != nil {
		t.Fatalf("Advance failed: %v", err)
	}

	// Re-delivering the exact same block must succeed without moving.
	if err := manager.Advance(ctx, 1001, testHash(0xbb)); err != nil {
		t.Errorf("duplicate Advance failed: %v", err)
	}
	cursor, _ := manager.Get(ctx)
	if cursor.Height != 1001 {
		t.Errorf("expected height 1001 after duplicate, got %d", cursor.Height)
	}

	// Same height with a different hash is a feed violation.
	if err := manager.Advance(ctx, 1001, testHash(0xcc)); err == nil {
		t.Error("expected error for same height with different hash")
	}
}

func TestManagerAdvance_GapDetection(t *testing.T) {
	repo := newMockCursorRepo()
	manager := NewManager(repo)
	ctx := context.Background()

	_, _ = manager.Initialize(ctx, 1000, testHash(0xaa))
	_ = manager.SetState(ctx, domain.CursorStateSynced, "start")

	// Try to skip to block 1005 (gap)
	err := manager.Advance(ctx, 1005, testHash(0xdd))
	if !errors.Is(err, ErrBlockGap) {
		t.Errorf("expected ErrBlockGap, got: %v", err)
	}
}

func TestManagerAdvance_PausedCursor(t *testing.T) {
	repo := newMockCursorRepo()
	manager := NewManager(repo)
	ctx := context.Background()

	_, _ = manager.Initialize(ctx, 1000, testHash(0xaa))
	_ = manager.SetState(ctx, domain.CursorStateSynced, "start")
	_ = manager.Pause(ctx, "maintenance")

	err := manager.Advance(ctx, 1001, testHash(0xbb))
	if !errors.Is(err, ErrCursorPaused) {
		t.Errorf("expected ErrCursorPaused, got: %v", err)
	}
}

func TestManagerRollback(t *testing.T) {
	repo := newMockCursorRepo()
	manager := NewManager(repo)
	ctx := context.Background()

	// Track state changes
	var transitions []Transition
	manager.SetStateChangeCallback(func(t Transition) {
		transitions = append(transitions, t)
	})

	_, _ = manager.Initialize(ctx, 1000, testHash(0xaa))
	_ = manager.SetState(ctx, domain.CursorStateSynced, "start")

	// Advance a few blocks
	for i := uint64(1001); i <= 1005; i++ {
		if err := manager.Advance(ctx, i, testHash(byte(i))); err != nil {
			t.Fatalf("Advance to %d failed: %v", i, err)
		}
	}

	// Rollback to block 1002
	err := manager.Rollback(ctx, 1002, testHash(0x02))
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}

	cursor, _ := manager.Get(ctx)
	if cursor.Height != 1002 {
		t.Errorf("expected height 1002 after rollback, got %d", cursor.Height)
	}
	if cursor.State != domain.CursorStateReorging {
		t.Errorf("expected reorging state, got %s", cursor.State)
	}

	// Should have recorded the transition to reorging
	found := false
	for _, tr := range transitions {
		if tr.To == domain.CursorStateReorging {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected transition to reorging to be recorded")
	}
}

func TestManagerGetLag(t *testing.T) {
	repo := newMockCursorRepo()
	manager := NewManager(repo)
	ctx := context.Background()

	_, _ = manager.Initialize(ctx, 1000, testHash(0xaa))

	lag, err := manager.GetLag(ctx, 1100)
	if err != nil {
		t.Fatalf("GetLag failed: %v", err)
	}
	if lag != 100 {
		t.Errorf("expected lag 100, got %d", lag)
	}
}

// =============================================================================
// Metrics Tests
// =============================================================================

func TestMetricsCollector(t *testing.T) {
	mc := NewMetricsCollector(10)

	now := time.Now()
	for i := 0; i < 5; i++ {
		mc.RecordBlock(uint64(100+i), now.Add(time.Duration(i)*time.Second))
	}

	metrics := mc.GetMetrics()

	if metrics.BlocksPerSecond < 0.5 || metrics.BlocksPerSecond > 2.0 {
		t.Errorf("expected ~1 block/sec, got %f", metrics.BlocksPerSecond)
	}
}

func TestMetricsCollector_TransitionTracking(t *testing.T) {
	mc := NewMetricsCollector(10)

	mc.RecordTransition(NewTransition(domain.CursorStateInit, domain.CursorStateSynced, "start"))
	mc.RecordTransition(NewTransition(domain.CursorStateSynced, domain.CursorStateReorging, "reorg detected"))

	metrics := mc.GetMetrics()

	if len(metrics.StateHistory) != 2 {
		t.Errorf("expected 2 transitions, got %d", len(metrics.StateHistory))
	}
	if metrics.LastReorgAt == nil {
		t.Error("expected LastReorgAt to be set")
	}
}
