// Package reorg handles blockchain reorganization rollback.
//
// # Design: Disconnect-Driven Rollback
//
// The block feed announces reorgs explicitly: it disconnects stale blocks
// from the old tip downward before connecting the replacement branch. The
// handler therefore never has to discover a fork point on its own; it only
// verifies that each disconnect matches the current tip and unwinds one
// block at a time.
//
// # Rollback Process
//
//  1. Feed delivers a disconnect for the current tip
//  2. Verify the disconnected block matches the stored tip hash
//  3. Remove payments, tweaks and the block row atomically
//  4. Emit a revert event for downstream services
//  5. Move the cursor to the parent and mark it reorging
//
// A depth counter bounds consecutive disconnects; exceeding the configured
// maximum is fatal, since recovering would require data older than the
// index retains.
//
// # Usage
//
//	handler := reorg.NewHandler(cfg, uow, blockRepo, cursorMgr)
//
//	// On every disconnect event from the feed
//	if _, err := handler.Disconnect(ctx, event.Height, event.Hash); err != nil {
//	    return err
//	}
//
//	// On the first connect after a rollback
//	handler.Reset()
package reorg

import (
	"github.com/spwatcher/spwatcher/internal/core/cursor"
	"github.com/spwatcher/spwatcher/internal/infra/storage"
)

// Config holds configuration for reorg handling.
type Config struct {
	MaxDepth int // Maximum consecutive disconnects tolerated (default: 100)
}

// DefaultMaxDepth bounds a reorg when no limit is configured.
const DefaultMaxDepth = 100

// NewDetector creates a new connect verifier.
func NewDetector(blockRepo storage.BlockRepository) *Detector {
	return &Detector{blockRepo: blockRepo}
}

// NewHandler creates a new reorg handler.
func NewHandler(
	config Config,
	uow storage.UnitOfWork,
	blockRepo storage.BlockRepository,
	cursorMgr cursor.Manager,
) *Handler {
	if config.MaxDepth <= 0 {
		config.MaxDepth = DefaultMaxDepth
	}
	return &Handler{
		config:    config,
		uow:       uow,
		blockRepo: blockRepo,
		cursorMgr: cursorMgr,
	}
}
