package domain

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// ScriptType classifies the previous output script of an input. The
// validation engine resolves prevouts, so inputs arrive with their type and,
// for the silent-payment-eligible types, the public key already extracted.
type ScriptType string

const (
	ScriptP2TR       ScriptType = "p2tr"
	ScriptP2WPKH     ScriptType = "p2wpkh"
	ScriptP2SHP2WPKH ScriptType = "p2sh-p2wpkh"
	ScriptP2PKH      ScriptType = "p2pkh"
	ScriptOther      ScriptType = "other"
)

// Eligible reports whether the script type can contribute an input public
// key under BIP-352.
func (s ScriptType) Eligible() bool {
	switch s {
	case ScriptP2TR, ScriptP2WPKH, ScriptP2SHP2WPKH, ScriptP2PKH:
		return true
	}
	return false
}

// TxInput carries the resolved prevout data needed for scanning. PubKey is
// 32 bytes (x-only) for p2tr inputs, 33 bytes (compressed) for the other
// eligible types, and nil for ineligible ones.
type TxInput struct {
	PrevOut    wire.OutPoint
	ScriptType ScriptType
	PubKey     []byte
}

type TxOutput struct {
	Value    int64
	PkScript []byte
}

// Transaction is a validated transaction with resolved inputs.
type Transaction struct {
	Txid    chainhash.Hash
	Inputs  []TxInput
	Outputs []TxOutput
}
