package domain

import (
	"bytes"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// DetectedPayment is a confirmed silent payment to a registered identity.
// Label 0 means the unlabeled address; labeled payments carry the label
// index and a Tweak that already includes the label scalar, so adding Tweak
// to the spend private key always yields the output's key. Payments are
// created only by the matcher and removed only by reorg rollback.
type DetectedPayment struct {
	IdentityID int64
	Label      uint32
	Txid       chainhash.Hash
	Vout       uint32
	Value      int64
	Height     uint64
	Tweak      [32]byte
}

// Less orders payments by height, then txid bytes, then vout. This is the
// canonical index order used by queries and by deterministic batch output.
func (p *DetectedPayment) Less(other *DetectedPayment) bool {
	if p.Height != other.Height {
		return p.Height < other.Height
	}
	if c := bytes.Compare(p.Txid[:], other.Txid[:]); c != 0 {
		return c < 0
	}
	return p.Vout < other.Vout
}
