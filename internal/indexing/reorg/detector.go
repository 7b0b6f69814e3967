package reorg

import (
	"context"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/spwatcher/spwatcher/internal/infra/storage"
)

// Detector verifies that connect events extend the stored chain. The feed
// is expected to disconnect stale blocks before connecting replacements,
// so a parent hash mismatch here is a feed contract violation rather than
// an ordinary reorg.
type Detector struct {
	blockRepo storage.BlockRepository
}

// VerifyConnect checks that a new block's parent hash matches the stored
// block below it. Returns true when the block extends the chain cleanly.
// A missing stored parent (index starting mid-chain) also verifies.
func (d *Detector) VerifyConnect(
	ctx context.Context,
	height uint64,
	parentHash chainhash.Hash,
) (bool, error) {
	if height == 0 {
		return true, nil
	}

	stored, err := d.blockRepo.GetByHeight(ctx, height-1)
	if err != nil {
		return false, fmt.Errorf("failed to get block %d: %w", height-1, err)
	}
	if stored == nil {
		return true, nil
	}

	return stored.Hash == parentHash, nil
}
