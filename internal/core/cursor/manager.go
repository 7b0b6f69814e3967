package cursor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/spwatcher/spwatcher/internal/core/domain"
	"github.com/spwatcher/spwatcher/internal/infra/storage"
)

var (
	// ErrCursorNotFound is returned when the cursor doesn't exist yet.
	ErrCursorNotFound = errors.New("cursor not found")

	// ErrBlockGap is returned when a gap is detected during Advance.
	ErrBlockGap = errors.New("block gap detected")

	// ErrCursorPaused is returned when trying to advance a paused cursor.
	ErrCursorPaused = errors.New("cursor is paused")
)

// Manager handles cursor operations with state machine enforcement.
type Manager interface {
	// Get retrieves the current cursor, or ErrCursorNotFound.
	Get(ctx context.Context) (*domain.Cursor, error)

	// Initialize creates the cursor at a starting block.
	Initialize(ctx context.Context, height uint64, hash chainhash.Hash) (*domain.Cursor, error)

	// Advance moves the cursor forward (validates sequential, duplicate no-op).
	Advance(ctx context.Context, height uint64, hash chainhash.Hash) error

	// SetState transitions the cursor to a new state (validates transition).
	SetState(ctx context.Context, newState State, reason string) error

	// Rollback moves the cursor back for a reorg (transitions to reorging).
	Rollback(ctx context.Context, safeHeight uint64, safeHash chainhash.Hash) error

	// Pause pauses indexing.
	Pause(ctx context.Context, reason string) error

	// Resume resumes indexing.
	Resume(ctx context.Context) error

	// GetLag returns blocks behind the given feed tip.
	GetLag(ctx context.Context, tipHeight uint64) (int64, error)

	// GetMetrics returns cursor performance metrics.
	GetMetrics() Metrics

	// SetStateChangeCallback registers a callback for state changes.
	SetStateChangeCallback(fn func(t Transition))
}

// DefaultManager implements Manager with state machine enforcement.
type DefaultManager struct {
	repo          storage.CursorRepository
	mu            sync.RWMutex
	stateCallback func(Transition)
	collector     *MetricsCollector
}

// Get retrieves the current cursor.
func (m *DefaultManager) Get(ctx context.Context) (*domain.Cursor, error) {
	cursor, err := m.repo.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	if cursor == nil {
		return nil, ErrCursorNotFound
	}
	return cursor, nil
}

// Initialize creates the cursor at a starting block.
func (m *DefaultManager) Initialize(
	ctx context.Context,
	height uint64,
	hash chainhash.Hash,
) (*domain.Cursor, error) {
	cursor := &domain.Cursor{
		Height:    height,
		Hash:      hash,
		State:     domain.CursorStateInit,
		UpdatedAt: time.Now(),
	}

	if err := m.repo.Save(ctx, cursor); err != nil {
		return nil, fmt.Errorf("failed to save cursor: %w", err)
	}

	return cursor, nil
}

// Advance moves the cursor forward after a block is fully committed.
func (m *DefaultManager) Advance(
	ctx context.Context,
	height uint64,
	hash chainhash.Hash,
) error {
	cursor, err := m.Get(ctx)
	if err != nil {
		return err
	}

	if cursor.State == domain.CursorStatePaused {
		return ErrCursorPaused
	}

	// Check for idempotency (duplicate delivery / re-process). The unit
	// of work persists the watermark with the block batch, so the normal
	// call sequence lands here with the row already in place.
	if height == cursor.Height {
		if hash == cursor.Hash {
			// Already committed this exact block. Treat as success.
			m.mu.Lock()
			m.collector.RecordBlock(height, time.Now())
			m.mu.Unlock()
			return nil
		}
		// Same height, different hash: the feed replayed a competing
		// block without disconnecting the old one first.
		return fmt.Errorf(
			"idempotency check failed: cursor at %d with hash %s, got same height %d with hash %s",
			cursor.Height, cursor.Hash, height, hash,
		)
	}

	// Block must be exactly current + 1.
	if expected := cursor.Height + 1; height != expected {
		return fmt.Errorf("%w: expected height %d, got %d", ErrBlockGap, expected, height)
	}

	if err := m.repo.UpdateBlock(ctx, height, hash); err != nil {
		return fmt.Errorf("failed to update cursor: %w", err)
	}

	m.mu.Lock()
	m.collector.RecordBlock(height, time.Now())
	m.mu.Unlock()

	return nil
}

// SetState transitions the cursor to a new state.
func (m *DefaultManager) SetState(ctx context.Context, newState State, reason string) error {
	cursor, err := m.Get(ctx)
	if err != nil {
		return err
	}

	if !CanTransition(cursor.State, newState) {
		return fmt.Errorf(
			"%w: cannot transition from %s to %s",
			ErrInvalidTransition, cursor.State, newState,
		)
	}

	transition := NewTransition(cursor.State, newState, reason)

	if err := m.repo.UpdateState(ctx, newState); err != nil {
		return fmt.Errorf("failed to update state: %w", err)
	}

	m.mu.Lock()
	m.collector.RecordTransition(transition)
	callback := m.stateCallback
	m.mu.Unlock()

	if callback != nil {
		callback(transition)
	}

	return nil
}

// Rollback moves the cursor back for reorg handling. The cursor ends at
// the safe block in the reorging state; the caller returns it to synced
// once the replacement branch connects.
func (m *DefaultManager) Rollback(
	ctx context.Context,
	safeHeight uint64,
	safeHash chainhash.Hash,
) error {
	cursor, err := m.Get(ctx)
	if err != nil {
		return err
	}

	if cursor.State != domain.CursorStateReorging {
		transition := NewTransition(
			cursor.State,
			domain.CursorStateReorging,
			fmt.Sprintf("rollback to height %d", safeHeight),
		)

		if err := m.repo.UpdateState(ctx, domain.CursorStateReorging); err != nil {
			return fmt.Errorf("failed to set reorging state: %w", err)
		}

		m.mu.Lock()
		m.collector.RecordTransition(transition)
		callback := m.stateCallback
		m.mu.Unlock()

		if callback != nil {
			callback(transition)
		}
	}

	if err := m.repo.Rollback(ctx, safeHeight, safeHash); err != nil {
		return fmt.Errorf("failed to rollback cursor: %w", err)
	}

	return nil
}

// Pause pauses indexing.
func (m *DefaultManager) Pause(ctx context.Context, reason string) error {
	return m.SetState(ctx, domain.CursorStatePaused, reason)
}

// Resume resumes indexing.
func (m *DefaultManager) Resume(ctx context.Context) error {
	cursor, err := m.Get(ctx)
	if err != nil {
		return err
	}

	if cursor.State != domain.CursorStatePaused {
		return fmt.Errorf("cursor is not paused, current state: %s", cursor.State)
	}

	return m.SetState(ctx, domain.CursorStateSynced, "manual resume")
}

// GetLag returns how many blocks behind the feed tip the cursor sits.
func (m *DefaultManager) GetLag(ctx context.Context, tipHeight uint64) (int64, error) {
	cursor, err := m.Get(ctx)
	if err != nil {
		return 0, err
	}

	return int64(tipHeight) - int64(cursor.Height), nil
}

// GetMetrics returns cursor performance metrics.
func (m *DefaultManager) GetMetrics() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collector.GetMetrics()
}

// SetStateChangeCallback registers a callback for state changes.
func (m *DefaultManager) SetStateChangeCallback(fn func(t Transition)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateCallback = fn
}
