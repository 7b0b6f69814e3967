// Package match compares candidate output keys against a transaction's
// real taproot outputs and resolves label identity on hit.
package match

import (
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/spwatcher/spwatcher/internal/core/domain"
	"github.com/spwatcher/spwatcher/internal/scan/bip352"
	"github.com/spwatcher/spwatcher/internal/scan/extract"
	"github.com/spwatcher/spwatcher/internal/scan/tweak"
)

// Matcher evaluates every registered identity against every candidate
// output independently; a match on one pair never suppresses another, so a
// single transaction can yield zero, one or many payments. Output order is
// deterministic: identities in registration order, outputs in taproot
// order.
//
// Registration is safe while scans are running: each scan works on the
// identity snapshot taken at its start.
type Matcher struct {
	mu         sync.RWMutex
	identities []*tweak.Identity
}

func NewMatcher(identities []*tweak.Identity) *Matcher {
	return &Matcher{identities: identities}
}

// Register adds an identity at the end of the evaluation order. Newly
// registered identities only see blocks scanned after registration;
// earlier blocks are covered by tweak-record replay.
func (m *Matcher) Register(ident *tweak.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Copy-on-write: scans already holding the old slice are unaffected.
	next := make([]*tweak.Identity, len(m.identities), len(m.identities)+1)
	copy(next, m.identities)
	m.identities = append(next, ident)
}

// Identities returns the registered identities in evaluation order.
func (m *Matcher) Identities() []*tweak.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identities
}

// ScanTransaction runs extract, tweak and match for one transaction.
// Ineligible transactions and input sums at infinity return (nil, nil, nil);
// both are expected outcomes. The returned TweakRecord is non-nil for every
// eligible transaction, matched or not, so late-registered identities can
// rescan from storage.
func (m *Matcher) ScanTransaction(tx *domain.Transaction, height uint64) ([]*domain.DetectedPayment, *domain.TweakRecord, error) {
	set, ok, err := extract.Extract(tx)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, nil
	}

	sum, ok := bip352.SumPubKeys(set.PubKeys)
	if !ok {
		// Keys cancel out: no candidate can exist for any identity.
		return nil, nil, nil
	}
	inputHash, ok := bip352.InputHash(set.SmallestOutpoint, sum)
	if !ok {
		return nil, nil, nil
	}

	record := &domain.TweakRecord{
		Txid:       tx.Txid,
		Height:     height,
		TweakPoint: bip352.TweakPoint(sum, inputHash),
		Outputs:    extract.TaprootOutputs(tx),
	}

	var payments []*domain.DetectedPayment
	for _, ident := range m.Identities() {
		secret := ident.SharedSecret(sum, inputHash)
		payments = append(payments, matchOutputs(ident, secret, tx.Txid, height, record.Outputs)...)
	}
	return payments, record, nil
}

// ScanTweakRecord replays a stored tweak record for a single identity, the
// rescan path. Results are identical to what ScanTransaction would have
// produced for that identity when the block was first processed.
func (m *Matcher) ScanTweakRecord(record *domain.TweakRecord, ident *tweak.Identity) ([]*domain.DetectedPayment, error) {
	secret, err := ident.SharedSecretFromTweak(record.TweakPoint)
	if err != nil {
		return nil, err
	}
	return matchOutputs(ident, secret, record.Txid, record.Height, record.Outputs), nil
}

// matchOutputs tests each taproot output against the unlabeled candidate
// first, then falls back to the reverse label lookup.
func matchOutputs(ident *tweak.Identity, secret [33]byte, txid chainhash.Hash, height uint64, outs []domain.TaprootOutput) []*domain.DetectedPayment {
	var payments []*domain.DetectedPayment
	for i := range outs {
		out := &outs[i]

		t, ok := bip352.OutputTweak(secret, out.TaprootIndex)
		if !ok {
			continue
		}
		base := bip352.OutputKeyPoint(ident.SpendPub, t)

		if bip352.XOnlyKey(base) == out.OutputKey {
			payments = append(payments, &domain.DetectedPayment{
				IdentityID: ident.ID,
				Label:      0,
				Txid:       txid,
				Vout:       out.Vout,
				Value:      out.Value,
				Height:     height,
				Tweak:      ident.SpendTweak(t, 0),
			})
			continue
		}

		diffs, err := bip352.LabelDiffs(out.OutputKey, base)
		if err != nil {
			continue
		}
		for _, diff := range diffs {
			label, ok := ident.LookupLabel(diff)
			if !ok {
				continue
			}
			payments = append(payments, &domain.DetectedPayment{
				IdentityID: ident.ID,
				Label:      label,
				Txid:       txid,
				Vout:       out.Vout,
				Value:      out.Value,
				Height:     height,
				Tweak:      ident.SpendTweak(t, label),
			})
			break
		}
	}
	return payments
}
