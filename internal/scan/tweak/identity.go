// Package tweak binds the BIP-352 derivation primitives to registered scan
// identities: per-identity shared secrets, label scalars and the reverse
// label-point lookup built once at registration time.
package tweak

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/spwatcher/spwatcher/internal/core/domain"
	"github.com/spwatcher/spwatcher/internal/scan/bip352"
)

// Identity is the runtime form of a registered scan identity: parsed keys
// plus the precomputed label structures. It is immutable after
// construction; re-registration builds a fresh Identity.
type Identity struct {
	ID        int64
	NumLabels uint32

	scanSecret btcec.ModNScalar
	ScanPub    *btcec.PublicKey
	SpendPub   *btcec.PublicKey

	// labelScalars[m-1] is the scalar for label index m.
	labelScalars []*btcec.ModNScalar

	// labelIndex maps label*G (compressed) back to the label index,
	// avoiding per-candidate label recomputation during matching.
	labelIndex map[[33]byte]uint32
}

// NewIdentity parses a stored scan identity and pre-derives its labels.
func NewIdentity(id *domain.ScanIdentity) (*Identity, error) {
	scanPub, err := btcec.ParsePubKey(id.ScanPubKey[:])
	if err != nil {
		return nil, fmt.Errorf("identity %d: invalid scan pubkey: %w", id.ID, err)
	}
	spendPub, err := btcec.ParsePubKey(id.SpendPubKey[:])
	if err != nil {
		return nil, fmt.Errorf("identity %d: invalid spend pubkey: %w", id.ID, err)
	}

	ident := &Identity{
		ID:        id.ID,
		NumLabels: id.NumLabels,
		ScanPub:   scanPub,
		SpendPub:  spendPub,
	}

	if overflow := ident.scanSecret.SetBytes(&id.ScanSecret); overflow != 0 || ident.scanSecret.IsZero() {
		return nil, fmt.Errorf("identity %d: scan secret out of range", id.ID)
	}

	// Sanity: the stored scan pubkey must match the secret.
	var derived btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(&ident.scanSecret, &derived)
	derived.ToAffine()
	if bip352.SerializePoint(&derived) != id.ScanPubKey {
		return nil, fmt.Errorf("identity %d: scan pubkey does not match scan secret", id.ID)
	}

	ident.labelScalars = make([]*btcec.ModNScalar, id.NumLabels)
	ident.labelIndex = make(map[[33]byte]uint32, id.NumLabels)
	for m := uint32(1); m <= id.NumLabels; m++ {
		scalar := bip352.LabelScalar(id.ScanSecret, m)
		ident.labelScalars[m-1] = scalar
		ident.labelIndex[bip352.LabelPoint(scalar)] = m
	}

	return ident, nil
}

// SharedSecret computes this identity's ECDH point for a transaction's
// input sum and input hash.
func (id *Identity) SharedSecret(sum *btcec.JacobianPoint, inputHash *btcec.ModNScalar) [33]byte {
	return bip352.SharedSecret(&id.scanSecret, sum, inputHash)
}

// SharedSecretFromTweak recovers the shared secret from a stored per-tx
// tweak point, the rescan path for identities registered after the block
// was indexed.
func (id *Identity) SharedSecretFromTweak(tweakPoint [33]byte) ([33]byte, error) {
	return bip352.SharedSecretFromTweak(&id.scanSecret, tweakPoint)
}

// LookupLabel resolves a candidate label point to a registered label index.
func (id *Identity) LookupLabel(point [33]byte) (uint32, bool) {
	m, ok := id.labelIndex[point]
	return m, ok
}

// SpendTweak returns the spend-enabling scalar for a detection: t_k alone
// for the unlabeled address, t_k plus the label scalar otherwise.
func (id *Identity) SpendTweak(t *btcec.ModNScalar, label uint32) [32]byte {
	full := *t
	if label > 0 {
		full.Add(id.labelScalars[label-1])
	}
	return full.Bytes()
}
