// Package extract determines BIP-352 eligibility per transaction and pulls
// out the material the tweak engine needs: the eligible input public keys
// and the lexicographically smallest serialized outpoint.
package extract

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/spwatcher/spwatcher/internal/core/domain"
	"github.com/spwatcher/spwatcher/internal/scan/bip352"
)

// EligibleInputSet is the per-transaction scan input: the parsed public
// keys of the eligible inputs plus the smallest outpoint across ALL inputs
// (the shared-secret tag is taken over every input, eligible or not).
type EligibleInputSet struct {
	PubKeys          []*btcec.PublicKey
	SmallestOutpoint [36]byte
}

// Extract returns the eligible input set for a transaction, or ok=false
// when the transaction cannot carry a silent payment (no eligible input, or
// no taproot output). Ineligibility is the common case, not an error; an
// error means the feed delivered structurally broken data (an eligible-type
// input whose public key does not parse).
func Extract(tx *domain.Transaction) (*EligibleInputSet, bool, error) {
	if len(tx.Inputs) == 0 {
		return nil, false, nil
	}

	hasTaproot := false
	for i := range tx.Outputs {
		if txscript.IsPayToTaproot(tx.Outputs[i].PkScript) {
			hasTaproot = true
			break
		}
	}
	if !hasTaproot {
		return nil, false, nil
	}

	set := &EligibleInputSet{}
	set.SmallestOutpoint = serializeOutpoint(&tx.Inputs[0].PrevOut)
	for i := range tx.Inputs {
		in := &tx.Inputs[i]

		op := serializeOutpoint(&in.PrevOut)
		if bytes.Compare(op[:], set.SmallestOutpoint[:]) < 0 {
			set.SmallestOutpoint = op
		}

		if !in.ScriptType.Eligible() {
			continue
		}

		key, skip, err := parseInputKey(in)
		if err != nil {
			return nil, false, fmt.Errorf("tx %s input %d: %w", tx.Txid, i, err)
		}
		if skip {
			continue
		}
		set.PubKeys = append(set.PubKeys, key)
	}

	if len(set.PubKeys) == 0 {
		return nil, false, nil
	}
	return set, true, nil
}

// parseInputKey parses the prevout public key of an eligible input. Taproot
// keys arrive x-only and are lifted to the even-Y point; the NUMS internal
// key has no key path and is skipped rather than rejected.
func parseInputKey(in *domain.TxInput) (*btcec.PublicKey, bool, error) {
	switch in.ScriptType {
	case domain.ScriptP2TR:
		if len(in.PubKey) != 32 {
			return nil, false, fmt.Errorf("taproot key must be 32 bytes, got %d", len(in.PubKey))
		}
		if bytes.Equal(in.PubKey, bip352.NumsH[:]) {
			return nil, true, nil
		}
		key, err := schnorr.ParsePubKey(in.PubKey)
		if err != nil {
			return nil, false, fmt.Errorf("invalid taproot key: %w", err)
		}
		return key, false, nil

	default:
		if len(in.PubKey) != 33 {
			return nil, false, fmt.Errorf("compressed key must be 33 bytes, got %d", len(in.PubKey))
		}
		key, err := btcec.ParsePubKey(in.PubKey)
		if err != nil {
			return nil, false, fmt.Errorf("invalid compressed key: %w", err)
		}
		return key, false, nil
	}
}

// TaprootOutputs collects the taproot-shaped outputs of a transaction in
// output order, assigning the candidate index k.
func TaprootOutputs(tx *domain.Transaction) []domain.TaprootOutput {
	var outs []domain.TaprootOutput
	for vout := range tx.Outputs {
		o := &tx.Outputs[vout]
		if !txscript.IsPayToTaproot(o.PkScript) {
			continue
		}

		var key [32]byte
		copy(key[:], o.PkScript[2:34])
		outs = append(outs, domain.TaprootOutput{
			Vout:         uint32(vout),
			TaprootIndex: uint32(len(outs)),
			Value:        o.Value,
			OutputKey:    key,
		})
	}
	return outs
}

// serializeOutpoint serializes an outpoint the way it appears in a
// transaction: txid bytes followed by the little-endian output index.
func serializeOutpoint(op *wire.OutPoint) [36]byte {
	var buf [36]byte
	copy(buf[:32], op.Hash[:])
	binary.LittleEndian.PutUint32(buf[32:], op.Index)
	return buf
}
