package domain

import (
	"time"
)

// ScanIdentity is a registered BIP-352 receiving identity. The server holds
// the scan secret (the semi-trusted scan tier of the protocol); the spend
// key is present only as a public key. Identities are immutable once
// registered: changing the label count means registering a new identity.
type ScanIdentity struct {
	ID          int64
	ScanSecret  [32]byte
	ScanPubKey  [33]byte
	SpendPubKey [33]byte
	NumLabels   uint32

	// CoveredHeight is the height through which history replay has
	// completed for this identity. Heights above it are covered by live
	// scanning or by rescan tasks still queued. It only ever rises.
	CoveredHeight uint64

	CreatedAt time.Time
}
