package bip352

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
)

func privFromByte(b byte) (*btcec.PrivateKey, *btcec.PublicKey) {
	var buf [32]byte
	buf[31] = b
	return btcec.PrivKeyFromBytes(buf[:])
}

func testOutpoint(b byte) [36]byte {
	var op [36]byte
	op[0] = b
	return op
}

func negate(pub *btcec.PublicKey) *btcec.PublicKey {
	var p btcec.JacobianPoint
	pub.AsJacobian(&p)
	p.Y.Negate(1)
	p.Y.Normalize()
	p.ToAffine()
	return btcec.NewPublicKey(&p.X, &p.Y)
}

func TestSumPubKeys(t *testing.T) {
	_, pub1 := privFromByte(3)
	_, pub2 := privFromByte(5)

	sum, ok := SumPubKeys([]*btcec.PublicKey{pub1, pub2})
	if !ok {
		t.Fatal("expected a finite sum")
	}

	// 3G + 5G must equal 8G.
	_, pub8 := privFromByte(8)
	var want [33]byte
	copy(want[:], pub8.SerializeCompressed())
	if SerializePoint(sum) != want {
		t.Error("sum of 3G and 5G is not 8G")
	}
}

func TestSumPubKeys_Infinity(t *testing.T) {
	_, pub := privFromByte(7)
	if _, ok := SumPubKeys([]*btcec.PublicKey{pub, negate(pub)}); ok {
		t.Error("P + (-P) must report no candidate")
	}
}

// The sender derives the shared secret as (inputHash*a_sum)*B_scan, the
// receiver as (inputHash*b_scan)*A_sum. Both must land on the same point.
func TestSharedSecret_SenderReceiverAgreement(t *testing.T) {
	inputPriv1, inputPub1 := privFromByte(11)
	inputPriv2, inputPub2 := privFromByte(13)
	scanPriv, scanPub := privFromByte(17)

	sum, ok := SumPubKeys([]*btcec.PublicKey{inputPub1, inputPub2})
	if !ok {
		t.Fatal("unexpected infinity")
	}
	inputHash, ok := InputHash(testOutpoint(1), sum)
	if !ok {
		t.Fatal("unexpected zero input hash")
	}

	receiver := SharedSecret(&scanPriv.Key, sum, inputHash)

	// Sender side: scale B_scan by inputHash*(a1+a2).
	aSum := new(btcec.ModNScalar).Add2(&inputPriv1.Key, &inputPriv2.Key)
	k := new(btcec.ModNScalar).Mul2(inputHash, aSum)
	var scanPoint, ecdh btcec.JacobianPoint
	scanPub.AsJacobian(&scanPoint)
	btcec.ScalarMultNonConst(k, &scanPoint, &ecdh)
	ecdh.ToAffine()
	sender := SerializePoint(&ecdh)

	if receiver != sender {
		t.Error("sender and receiver derive different shared secrets")
	}
}

func TestSharedSecretFromTweak_MatchesDirect(t *testing.T) {
	_, inputPub := privFromByte(19)
	scanPriv, _ := privFromByte(23)

	sum, _ := SumPubKeys([]*btcec.PublicKey{inputPub})
	inputHash, _ := InputHash(testOutpoint(2), sum)

	direct := SharedSecret(&scanPriv.Key, sum, inputHash)

	replayed, err := SharedSecretFromTweak(&scanPriv.Key, TweakPoint(sum, inputHash))
	if err != nil {
		t.Fatalf("SharedSecretFromTweak failed: %v", err)
	}
	if direct != replayed {
		t.Error("tweak replay diverges from direct derivation")
	}
}

func TestSharedSecretFromTweak_BadPoint(t *testing.T) {
	scanPriv, _ := privFromByte(29)
	var garbage [33]byte
	if _, err := SharedSecretFromTweak(&scanPriv.Key, garbage); err == nil {
		t.Error("expected error for an unparsable tweak point")
	}
}

func TestInputHash_OutpointBinding(t *testing.T) {
	_, pub := privFromByte(31)
	sum, _ := SumPubKeys([]*btcec.PublicKey{pub})

	h1, _ := InputHash(testOutpoint(1), sum)
	h2, _ := InputHash(testOutpoint(2), sum)
	if h1.Equals(h2) {
		t.Error("different outpoints must produce different input hashes")
	}
}

func TestOutputTweak_IndexSeparation(t *testing.T) {
	var secret [33]byte
	secret[0] = 0x02
	secret[32] = 1

	t0, ok := OutputTweak(secret, 0)
	if !ok {
		t.Fatal("unexpected zero tweak")
	}
	t1, ok := OutputTweak(secret, 1)
	if !ok {
		t.Fatal("unexpected zero tweak")
	}
	if t0.Equals(t1) {
		t.Error("candidate indexes 0 and 1 must tweak differently")
	}
}

func TestLabelDiffs_RecoversLabelPoint(t *testing.T) {
	var scanSecret [32]byte
	scanSecret[31] = 37

	label := LabelScalar(scanSecret, 1)
	labelPoint := LabelPoint(label)

	// Candidate base B, on-chain output B + label*G.
	_, basePub := privFromByte(41)
	var base, labelG, out btcec.JacobianPoint
	basePub.AsJacobian(&base)
	btcec.ScalarBaseMultNonConst(label, &labelG)
	btcec.AddNonConst(&base, &labelG, &out)
	out.ToAffine()
	base.ToAffine()

	diffs, err := LabelDiffs(XOnlyKey(&out), &base)
	if err != nil {
		t.Fatalf("LabelDiffs failed: %v", err)
	}

	found := false
	for _, d := range diffs {
		if d == labelPoint {
			found = true
		}
	}
	if !found {
		t.Error("label point not among the recovered diffs")
	}
}

func TestLabelScalar_IndexSeparation(t *testing.T) {
	var scanSecret [32]byte
	scanSecret[31] = 43

	if LabelScalar(scanSecret, 1).Equals(LabelScalar(scanSecret, 2)) {
		t.Error("label indexes 1 and 2 must derive different scalars")
	}
}
