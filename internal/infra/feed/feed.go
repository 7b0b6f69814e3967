// Package feed defines the ordered block event stream the indexer
// consumes.
//
// A feed delivers connect and disconnect events in chain order: each
// connect extends the current tip by exactly one block, and a reorg is
// announced as disconnects from the old tip downward followed by connects
// of the replacement branch. The indexer treats any violation of that
// contract as fatal rather than guessing at the feed's intent.
package feed

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/spwatcher/spwatcher/internal/core/domain"
)

// EventType distinguishes connect and disconnect deliveries.
type EventType int

const (
	// EventConnect attaches a new block at the tip.
	EventConnect EventType = iota

	// EventDisconnect detaches the current tip during a reorg.
	EventDisconnect
)

// String returns the event type name.
func (t EventType) String() string {
	switch t {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	default:
		return "unknown"
	}
}

// Event is one feed delivery. Block is set for connects; Height and Hash
// identify the detached block for disconnects.
type Event struct {
	Type   EventType
	Block  *domain.Block
	Height uint64
	Hash   chainhash.Hash
}

// Feed is an ordered source of block events.
type Feed interface {
	// Next blocks until an event is available, the context is cancelled,
	// or the feed is closed (ErrClosed).
	Next(ctx context.Context) (*Event, error)
}
