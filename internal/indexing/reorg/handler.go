package reorg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/spwatcher/spwatcher/internal/core/cursor"
	"github.com/spwatcher/spwatcher/internal/infra/storage"
)

var (
	// ErrTooDeep is returned when consecutive disconnects exceed the
	// configured maximum depth. This is fatal: the index cannot follow a
	// reorg deeper than it retains rollback data for.
	ErrTooDeep = errors.New("reorg exceeds maximum depth")

	// ErrTipMismatch is returned when a disconnect names a block that is
	// not the current tip. The feed violated its ordering contract.
	ErrTipMismatch = errors.New("disconnect does not match current tip")
)

// Handler unwinds the index one block at a time as the feed disconnects
// stale blocks.
type Handler struct {
	config    Config
	uow       storage.UnitOfWork
	blockRepo storage.BlockRepository
	cursorMgr cursor.Manager
	callback  func(event RevertEvent)

	depth int // consecutive disconnects since the last connect
}

// RollbackResult describes one disconnect's effect on the index.
type RollbackResult struct {
	Height          uint64
	RemovedPayments int64
	Depth           int
	Duration        time.Duration
}

// RevertEvent is emitted for each rolled-back block.
type RevertEvent struct {
	Height          uint64
	Hash            chainhash.Hash
	RemovedPayments int64
	DetectedAt      time.Time
}

// SetRevertCallback sets a callback for revert events.
func (h *Handler) SetRevertCallback(fn func(event RevertEvent)) {
	h.callback = fn
}

// Disconnect rolls back one block from the tip:
// 1. Verify the disconnected block is the current tip
// 2. Enforce the depth bound
// 3. Remove the block's payments, tweaks and row atomically
// 4. Move the cursor to the parent, marked reorging
func (h *Handler) Disconnect(
	ctx context.Context,
	height uint64,
	hash chainhash.Hash,
) (*RollbackResult, error) {
	start := time.Now()

	cur, err := h.cursorMgr.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get cursor: %w", err)
	}
	if cur.Height != height || cur.Hash != hash {
		return nil, fmt.Errorf(
			"%w: tip at %d (%s), disconnect for %d (%s)",
			ErrTipMismatch, cur.Height, cur.Hash, height, hash,
		)
	}

	h.depth++
	if h.depth > h.config.MaxDepth {
		return nil, fmt.Errorf("%w: %d consecutive disconnects (max %d)",
			ErrTooDeep, h.depth, h.config.MaxDepth)
	}

	// The parent becomes the new safe tip.
	parent, err := h.blockRepo.GetByHeight(ctx, height-1)
	if err != nil {
		return nil, fmt.Errorf("failed to get parent block %d: %w", height-1, err)
	}
	var parentHash chainhash.Hash
	if parent != nil {
		parentHash = parent.Hash
	}

	removed, err := h.uow.RollbackAbove(ctx, height-1)
	if err != nil {
		return nil, fmt.Errorf("failed to rollback index above %d: %w", height-1, err)
	}

	if err := h.cursorMgr.Rollback(ctx, height-1, parentHash); err != nil {
		return nil, fmt.Errorf("failed to rollback cursor: %w", err)
	}

	if h.callback != nil {
		h.callback(RevertEvent{
			Height:          height,
			Hash:            hash,
			RemovedPayments: removed,
			DetectedAt:      time.Now(),
		})
	}

	return &RollbackResult{
		Height:          height,
		RemovedPayments: removed,
		Depth:           h.depth,
		Duration:        time.Since(start),
	}, nil
}

// Depth returns the number of consecutive disconnects since the last
// connect.
func (h *Handler) Depth() int {
	return h.depth
}

// Reset clears the depth counter. Called when a block connects, ending
// the current reorg sequence.
func (h *Handler) Reset() {
	h.depth = 0
}
