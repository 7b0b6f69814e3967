package domain

import (
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Cursor is the last-fully-committed-height watermark. A block's batch is
// visible iff the cursor has advanced past it, which makes rollback and
// replay idempotent across restarts.
type Cursor struct {
	Height    uint64
	Hash      chainhash.Hash
	State     CursorState
	UpdatedAt time.Time
}

type CursorState string

const (
	CursorStateInit       CursorState = "init"
	CursorStateSynced     CursorState = "synced"
	CursorStateReorging   CursorState = "reorging"
	CursorStateRescanning CursorState = "rescanning"
	CursorStatePaused     CursorState = "paused"
)
