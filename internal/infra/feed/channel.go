package feed

import (
	"context"
	"errors"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/spwatcher/spwatcher/internal/core/domain"
)

// ErrClosed is returned by Next once the feed is closed and drained.
var ErrClosed = errors.New("feed closed")

// ChannelFeed is an in-process Feed backed by a buffered channel. Node
// adapters push events in chain order; the indexer pulls them via Next.
type ChannelFeed struct {
	events chan *Event

	mu     sync.Mutex
	closed bool
}

// NewChannelFeed creates a channel feed with the given buffer size.
func NewChannelFeed(buffer int) *ChannelFeed {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChannelFeed{
		events: make(chan *Event, buffer),
	}
}

// Connect queues a connect event for the given block.
func (f *ChannelFeed) Connect(block *domain.Block) error {
	return f.push(&Event{
		Type:   EventConnect,
		Block:  block,
		Height: block.Height,
		Hash:   block.Hash,
	})
}

// Disconnect queues a disconnect event for the given block.
func (f *ChannelFeed) Disconnect(height uint64, hash chainhash.Hash) error {
	return f.push(&Event{
		Type:   EventDisconnect,
		Height: height,
		Hash:   hash,
	})
}

func (f *ChannelFeed) push(ev *Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	f.events <- ev
	return nil
}

// Next returns the next queued event. After Close, queued events are
// still drained before ErrClosed is returned.
func (f *ChannelFeed) Next(ctx context.Context) (*Event, error) {
	select {
	case ev, ok := <-f.events:
		if !ok {
			return nil, ErrClosed
		}
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the feed. Pending events remain readable via Next.
func (f *ChannelFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	close(f.events)
}
