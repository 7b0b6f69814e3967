package domain

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// TaprootOutput is one taproot-shaped output of a transaction.
// TaprootIndex is the 0-based position among the taproot outputs only,
// which is the candidate index k used for tweak derivation; Vout is the
// position among all outputs.
type TaprootOutput struct {
	Vout         uint32
	TaprootIndex uint32
	Value        int64
	OutputKey    [32]byte
}

// TweakRecord is the public per-transaction scan data persisted for every
// eligible transaction: the partial tweak point inputHash*A_sum plus the
// taproot outputs. Multiplying TweakPoint by a scan secret yields the
// shared secret, so identities registered after the block was processed can
// be rescanned from stored records without refetching blocks.
type TweakRecord struct {
	Txid       chainhash.Hash
	Height     uint64
	TweakPoint [33]byte
	Outputs    []TaprootOutput
}
