// Package bip352 implements the silent-payment key derivation primitives:
// tagged hashes, input hash, label scalars and candidate output keys. All
// scalar and point arithmetic happens mod the secp256k1 group order, and
// every x-only result follows the even-Y convention of taproot outputs.
//
// Functions here are pure; the expected "no candidate possible" outcomes
// (input keys summing to the point at infinity, a hash reducing to zero)
// are reported as ok=false, never as errors.
package bip352

import (
	"encoding/binary"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

var (
	// TagInputs is the BIP-352 domain tag for the input hash.
	TagInputs = []byte("BIP0352/Inputs")

	// TagSharedSecret is the BIP-352 domain tag for output tweaks.
	TagSharedSecret = []byte("BIP0352/SharedSecret")

	// TagLabel is the BIP-352 domain tag for label scalars.
	TagLabel = []byte("BIP0352/Label")
)

// NumsH is the x coordinate of the BIP-341 "nothing up my sleeve" point.
// A taproot input whose x-only key equals it has no usable key path and is
// excluded from input aggregation.
var NumsH = [32]byte{
	0x50, 0x92, 0x9b, 0x74, 0xc1, 0xa0, 0x49, 0x54,
	0xb7, 0x8b, 0x4b, 0x60, 0x35, 0xe9, 0x7a, 0x5e,
	0x07, 0x8a, 0x5a, 0x0f, 0x28, 0xec, 0x96, 0xd5,
	0x47, 0xbf, 0xee, 0x9a, 0xce, 0x80, 0x3a, 0xc0,
}

// infinityPoint is the jacobian representation of the point at infinity.
var infinityPoint btcec.JacobianPoint

var ErrInfinitePoint = errors.New("point at infinity")

// SumPubKeys adds the eligible input public keys. ok is false when the sum
// is the point at infinity, in which case no candidate output can exist for
// this transaction for any identity. The returned point is affine.
func SumPubKeys(keys []*btcec.PublicKey) (*btcec.JacobianPoint, bool) {
	var sum btcec.JacobianPoint
	for _, key := range keys {
		var p btcec.JacobianPoint
		key.AsJacobian(&p)
		btcec.AddNonConst(&sum, &p, &sum)
	}
	if sum == infinityPoint {
		return nil, false
	}
	sum.ToAffine()
	return &sum, true
}

// InputHash computes the domain-tagged hash binding the transaction's
// lexicographically smallest outpoint to the input key sum, reduced mod the
// group order. ok is false on the (negligible) zero reduction.
func InputHash(smallestOutpoint [36]byte, sum *btcec.JacobianPoint) (*btcec.ModNScalar, bool) {
	ser := SerializePoint(sum)
	hash := chainhash.TaggedHash(TagInputs, smallestOutpoint[:], ser[:])

	var s btcec.ModNScalar
	s.SetByteSlice(hash[:])
	if s.IsZero() {
		return nil, false
	}
	return &s, true
}

// TweakPoint computes inputHash*A_sum, the public per-transaction partial
// tweak persisted in the index. Scaling it by a scan secret yields that
// identity's shared secret.
func TweakPoint(sum *btcec.JacobianPoint, inputHash *btcec.ModNScalar) [33]byte {
	var p btcec.JacobianPoint
	btcec.ScalarMultNonConst(inputHash, sum, &p)
	p.ToAffine()
	return SerializePoint(&p)
}

// SharedSecret computes the receiver-side ECDH point
// (inputHash*scanSecret)*A_sum in compressed form.
func SharedSecret(scanSecret *btcec.ModNScalar, sum *btcec.JacobianPoint, inputHash *btcec.ModNScalar) [33]byte {
	k := new(btcec.ModNScalar).Mul2(inputHash, scanSecret)

	var ecdh btcec.JacobianPoint
	btcec.ScalarMultNonConst(k, sum, &ecdh)
	ecdh.ToAffine()
	return SerializePoint(&ecdh)
}

// SharedSecretFromTweak recovers the shared secret from a stored tweak
// point: scanSecret*(inputHash*A_sum). Used on the rescan path.
func SharedSecretFromTweak(scanSecret *btcec.ModNScalar, tweakPoint [33]byte) ([33]byte, error) {
	pub, err := btcec.ParsePubKey(tweakPoint[:])
	if err != nil {
		return [33]byte{}, err
	}

	var p, ecdh btcec.JacobianPoint
	pub.AsJacobian(&p)
	btcec.ScalarMultNonConst(scanSecret, &p, &ecdh)
	if ecdh == infinityPoint {
		return [33]byte{}, ErrInfinitePoint
	}
	ecdh.ToAffine()
	return SerializePoint(&ecdh), nil
}

// OutputTweak derives t_k for candidate index k (0-based among the taproot
// outputs of the transaction). ok is false on a zero reduction.
func OutputTweak(sharedSecret [33]byte, k uint32) (*btcec.ModNScalar, bool) {
	var kBuf [4]byte
	binary.BigEndian.PutUint32(kBuf[:], k)
	hash := chainhash.TaggedHash(TagSharedSecret, sharedSecret[:], kBuf[:])

	var t btcec.ModNScalar
	t.SetByteSlice(hash[:])
	if t.IsZero() {
		return nil, false
	}
	return &t, true
}

// OutputKeyPoint computes B_spend + t*G, the unlabeled candidate output key
// as an affine point.
func OutputKeyPoint(spendPub *btcec.PublicKey, t *btcec.ModNScalar) *btcec.JacobianPoint {
	var tG, spend, out btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(t, &tG)
	spendPub.AsJacobian(&spend)
	btcec.AddNonConst(&spend, &tG, &out)
	out.ToAffine()
	return &out
}

// LabelScalar derives the label scalar for index m >= 1 from the scan
// secret. Index 0 denotes the unlabeled address and has no scalar.
func LabelScalar(scanSecret [32]byte, m uint32) *btcec.ModNScalar {
	var mBuf [4]byte
	binary.BigEndian.PutUint32(mBuf[:], m)
	hash := chainhash.TaggedHash(TagLabel, scanSecret[:], mBuf[:])

	var s btcec.ModNScalar
	s.SetByteSlice(hash[:])
	return &s
}

// LabelPoint returns label*G in compressed form, the key under which a
// label is entered into an identity's reverse lookup map.
func LabelPoint(label *btcec.ModNScalar) [33]byte {
	var p btcec.JacobianPoint
	btcec.ScalarBaseMultNonConst(label, &p)
	p.ToAffine()
	return SerializePoint(&p)
}

// LabelDiffs recovers the two possible label points implied by an on-chain
// x-only output key relative to the unlabeled candidate base: since the
// output encodes only x, both P-base and -P-base are candidates, where P is
// the even-Y lift. Diffs that land on infinity are omitted.
func LabelDiffs(outputKey [32]byte, base *btcec.JacobianPoint) ([][33]byte, error) {
	pub, err := schnorr.ParsePubKey(outputKey[:])
	if err != nil {
		return nil, err
	}

	var negBase btcec.JacobianPoint
	negBase = *base
	negBase.Y.Negate(1)
	negBase.Y.Normalize()

	var lift btcec.JacobianPoint
	pub.AsJacobian(&lift)

	diffs := make([][33]byte, 0, 2)
	for i := 0; i < 2; i++ {
		var diff btcec.JacobianPoint
		btcec.AddNonConst(&lift, &negBase, &diff)
		if diff != infinityPoint {
			diff.ToAffine()
			diffs = append(diffs, SerializePoint(&diff))
		}

		// Second pass with the odd-Y lift.
		lift.Y.Negate(1)
		lift.Y.Normalize()
	}
	return diffs, nil
}

// XOnlyKey reduces an affine point to its canonical x-only form.
func XOnlyKey(p *btcec.JacobianPoint) [32]byte {
	var out [32]byte
	p.X.PutBytes(&out)
	return out
}

// SerializePoint compresses an affine jacobian point.
func SerializePoint(p *btcec.JacobianPoint) [33]byte {
	var out [33]byte
	pub := btcec.NewPublicKey(&p.X, &p.Y)
	copy(out[:], pub.SerializeCompressed())
	return out
}
