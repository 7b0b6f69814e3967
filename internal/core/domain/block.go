package domain

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

type BlockStatus string

const (
	BlockStatusPending   BlockStatus = "pending"
	BlockStatusProcessed BlockStatus = "processed"
	BlockStatusOrphaned  BlockStatus = "orphaned"
)

// Block is a fully validated block delivered by the validation engine.
type Block struct {
	Height     uint64
	Hash       chainhash.Hash
	ParentHash chainhash.Hash
	Status     BlockStatus
	Txs        []*Transaction
}
