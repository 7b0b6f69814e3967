// Package control assembles the application: it wires storage, the
// scanning pipeline, the rescan worker and the health server, and owns
// their lifecycle. It also accepts scan identity registrations from the
// outer surfaces (CLI, operators).
package control

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/spwatcher/spwatcher/internal/core/domain"
)

// IdentityRequest is a scan identity registration in wire form: hex
// strings as operators and config files carry them.
type IdentityRequest struct {
	ScanSecret  string // 32-byte scan secret, hex
	SpendPubKey string // 33-byte compressed spend public key, hex
	NumLabels   uint32
}

// ParseIdentity validates a registration request and produces the stored
// form. The scan public key is derived from the secret rather than
// accepted from the caller, so the pair can never disagree.
func ParseIdentity(req IdentityRequest) (*domain.ScanIdentity, error) {
	secretBytes, err := hex.DecodeString(req.ScanSecret)
	if err != nil {
		return nil, fmt.Errorf("invalid scan secret: %w", err)
	}
	if len(secretBytes) != 32 {
		return nil, fmt.Errorf("invalid scan secret: want 32 bytes, got %d", len(secretBytes))
	}

	spendBytes, err := hex.DecodeString(req.SpendPubKey)
	if err != nil {
		return nil, fmt.Errorf("invalid spend pubkey: %w", err)
	}
	if len(spendBytes) != 33 {
		return nil, fmt.Errorf("invalid spend pubkey: want 33 bytes, got %d", len(spendBytes))
	}
	if _, err := btcec.ParsePubKey(spendBytes); err != nil {
		return nil, fmt.Errorf("invalid spend pubkey: %w", err)
	}

	var scalar btcec.ModNScalar
	if overflow := scalar.SetByteSlice(secretBytes); overflow || scalar.IsZero() {
		return nil, fmt.Errorf("invalid scan secret: out of range")
	}
	_, pub := btcec.PrivKeyFromBytes(secretBytes)

	rec := &domain.ScanIdentity{
		NumLabels: req.NumLabels,
		CreatedAt: time.Now().UTC(),
	}
	copy(rec.ScanSecret[:], secretBytes)
	copy(rec.ScanPubKey[:], pub.SerializeCompressed())
	copy(rec.SpendPubKey[:], spendBytes)
	return rec, nil
}
