// Package cursor tracks the indexing position of the scanner.
//
// # Purpose
//
// The cursor acts as a watermark that remembers the last fully committed
// block:
//   - Height: know which block to process next
//   - Block hash: detect chain reorganizations (if hash changes, reorg happened)
//   - State: control behavior (synced, reorging, rescanning, paused)
//
// # Key Features
//
// State Machine - Only allows valid transitions:
//
//	INIT → SYNCED → REORGING → SYNCED (valid)
//	PAUSED → REORGING (invalid - can't enter a reorg while paused)
//
// Gap Detection - When you call Advance(1005) but the cursor is at 1000,
// it returns ErrBlockGap so you know blocks 1001-1004 are missing.
//
// Duplicate Tolerance - Advancing to the exact block already committed is
// a no-op, so replayed feed deliveries are harmless.
//
// Atomic Updates - The cursor only advances AFTER a block's batch is
// committed, so a crash between commit and advance replays an already
// committed block, which the idempotent store absorbs.
//
// # Quick Start
//
//	manager := cursor.NewManager(cursorRepo)
//
//	// Initialize cursor at block 1000
//	c, _ := manager.Initialize(ctx, 1000, hash1000)
//
//	// Start indexing
//	manager.SetState(ctx, cursor.StateSynced, "indexer started")
//
//	// Commit blocks - must be sequential
//	manager.Advance(ctx, 1001, hash1001)  // OK
//	manager.Advance(ctx, 1005, hash1005)  // ErrBlockGap
//
//	// Handle reorg - rollback to safe block
//	manager.Rollback(ctx, 995, hash995)
//
//	// Track state changes
//	manager.SetStateChangeCallback(func(t cursor.Transition) {
//	    log.Printf("cursor: %s -> %s (%s)", t.From, t.To, t.Reason)
//	})
//
// # Package Structure
//
//   - state.go   - State machine definitions and valid transitions
//   - manager.go - Core Manager implementation with gap detection, rollback
//   - metrics.go - Performance metrics (blocks/sec, state history)
package cursor

import (
	"github.com/spwatcher/spwatcher/internal/core/domain"
	"github.com/spwatcher/spwatcher/internal/infra/storage"
)

// =============================================================================
// Re-exported types from domain package
// =============================================================================

// Cursor represents the indexing position.
type Cursor = domain.Cursor

// CursorState represents the current state of the cursor.
type CursorState = domain.CursorState

// State constants re-exported for convenience.
const (
	StateInit       = domain.CursorStateInit
	StateSynced     = domain.CursorStateSynced
	StateReorging   = domain.CursorStateReorging
	StateRescanning = domain.CursorStateRescanning
	StatePaused     = domain.CursorStatePaused
)

// =============================================================================
// Constructor functions
// =============================================================================

// NewManager creates a new cursor manager with the given repository.
func NewManager(repo storage.CursorRepository) *DefaultManager {
	return &DefaultManager{
		repo:      repo,
		collector: NewMetricsCollector(100),
	}
}

// NewMetricsCollector creates a new metrics collector with the given window size.
func NewMetricsCollector(windowSize int) *MetricsCollector {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &MetricsCollector{
		windowSize:  windowSize,
		blockTimes:  make([]blockRecord, 0, windowSize),
		transitions: make([]Transition, 0, 10),
	}
}
