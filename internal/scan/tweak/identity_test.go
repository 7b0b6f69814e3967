package tweak

import (
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/spwatcher/spwatcher/internal/core/domain"
	"github.com/spwatcher/spwatcher/internal/scan/bip352"
)

func testRecord(t *testing.T, scanSeed, spendSeed byte, numLabels uint32) *domain.ScanIdentity {
	t.Helper()

	var scanBuf, spendBuf [32]byte
	scanBuf[31] = scanSeed
	spendBuf[31] = spendSeed
	_, scanPub := btcec.PrivKeyFromBytes(scanBuf[:])
	_, spendPub := btcec.PrivKeyFromBytes(spendBuf[:])

	rec := &domain.ScanIdentity{ID: 1, NumLabels: numLabels, ScanSecret: scanBuf}
	copy(rec.ScanPubKey[:], scanPub.SerializeCompressed())
	copy(rec.SpendPubKey[:], spendPub.SerializeCompressed())
	return rec
}

func TestNewIdentity(t *testing.T) {
	ident, err := NewIdentity(testRecord(t, 7, 9, 3))
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}
	if ident.ID != 1 || ident.NumLabels != 3 {
		t.Errorf("unexpected identity fields: id=%d labels=%d", ident.ID, ident.NumLabels)
	}
}

func TestNewIdentity_PubKeyMismatch(t *testing.T) {
	rec := testRecord(t, 7, 9, 0)
	other := testRecord(t, 11, 9, 0)
	rec.ScanPubKey = other.ScanPubKey

	if _, err := NewIdentity(rec); err == nil {
		t.Error("scan pubkey not matching the secret must be rejected")
	}
}

func TestNewIdentity_ZeroSecret(t *testing.T) {
	rec := testRecord(t, 7, 9, 0)
	rec.ScanSecret = [32]byte{}

	if _, err := NewIdentity(rec); err == nil {
		t.Error("zero scan secret must be rejected")
	}
}

func TestLookupLabel(t *testing.T) {
	rec := testRecord(t, 7, 9, 2)
	ident, err := NewIdentity(rec)
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}

	for m := uint32(1); m <= 2; m++ {
		point := bip352.LabelPoint(bip352.LabelScalar(rec.ScanSecret, m))
		got, ok := ident.LookupLabel(point)
		if !ok || got != m {
			t.Errorf("label %d: got (%d, %v)", m, got, ok)
		}
	}

	// Label 3 was never derived.
	point := bip352.LabelPoint(bip352.LabelScalar(rec.ScanSecret, 3))
	if _, ok := ident.LookupLabel(point); ok {
		t.Error("unregistered label must not resolve")
	}
}

func TestSpendTweak(t *testing.T) {
	rec := testRecord(t, 7, 9, 1)
	ident, err := NewIdentity(rec)
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}

	var tk btcec.ModNScalar
	tk.SetInt(5)

	unlabeled := ident.SpendTweak(&tk, 0)
	if unlabeled != tk.Bytes() {
		t.Error("unlabeled spend tweak must be t_k itself")
	}

	labeled := ident.SpendTweak(&tk, 1)
	want := *bip352.LabelScalar(rec.ScanSecret, 1)
	want.Add(&tk)
	if labeled != want.Bytes() {
		t.Error("labeled spend tweak must be t_k plus the label scalar")
	}

	// SpendTweak must not mutate the caller's scalar.
	if !tk.Equals(new(btcec.ModNScalar).SetInt(5)) {
		t.Error("t_k was mutated")
	}
}

func TestSharedSecretFromTweak_MatchesLive(t *testing.T) {
	ident, err := NewIdentity(testRecord(t, 7, 9, 0))
	if err != nil {
		t.Fatalf("NewIdentity failed: %v", err)
	}

	var inputBuf [32]byte
	inputBuf[31] = 21
	_, inputPub := btcec.PrivKeyFromBytes(inputBuf[:])
	sum, _ := bip352.SumPubKeys([]*btcec.PublicKey{inputPub})
	var op [36]byte
	op[0] = 1
	inputHash, _ := bip352.InputHash(op, sum)

	live := ident.SharedSecret(sum, inputHash)
	replayed, err := ident.SharedSecretFromTweak(bip352.TweakPoint(sum, inputHash))
	if err != nil {
		t.Fatalf("SharedSecretFromTweak failed: %v", err)
	}
	if live != replayed {
		t.Error("rescan derivation diverges from live derivation")
	}
}
