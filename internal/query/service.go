// Package query exposes read access to the payment index. Results reflect
// the last committed block only; a block being scanned is never visible.
package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/spwatcher/spwatcher/internal/core/domain"
	"github.com/spwatcher/spwatcher/internal/infra/storage"
)

// ErrUnknownIdentity is returned for queries against an unregistered
// identity.
var ErrUnknownIdentity = errors.New("unknown scan identity")

// Service answers payment queries for registered identities.
type Service struct {
	payments   storage.PaymentRepository
	identities storage.IdentityRepository
	cursors    storage.CursorRepository
}

// NewService creates a query service.
func NewService(
	payments storage.PaymentRepository,
	identities storage.IdentityRepository,
	cursors storage.CursorRepository,
) *Service {
	return &Service{
		payments:   payments,
		identities: identities,
		cursors:    cursors,
	}
}

// Payments returns an identity's detected payments ordered by height,
// txid, vout, bounded by the options.
func (s *Service) Payments(ctx context.Context, identityID int64, opts storage.QueryOptions) ([]*domain.DetectedPayment, error) {
	if err := s.checkIdentity(ctx, identityID); err != nil {
		return nil, err
	}
	return s.payments.Query(ctx, identityID, opts)
}

// Since returns one page of payments after the given key and the key to
// resume from. A nil next key means the page was not full; the caller can
// retry later with the same key to pick up new blocks.
func (s *Service) Since(ctx context.Context, identityID int64, after *storage.PaymentKey, limit int) ([]*domain.DetectedPayment, *storage.PaymentKey, error) {
	if limit <= 0 {
		limit = 100
	}
	if err := s.checkIdentity(ctx, identityID); err != nil {
		return nil, nil, err
	}

	page, err := s.payments.Query(ctx, identityID, storage.QueryOptions{
		After: after,
		Limit: limit,
	})
	if err != nil {
		return nil, nil, err
	}

	var next *storage.PaymentKey
	if len(page) == limit {
		last := page[len(page)-1]
		next = &storage.PaymentKey{
			Height: last.Height,
			Txid:   last.Txid,
			Vout:   last.Vout,
		}
	}
	return page, next, nil
}

// Tip returns the height and hash of the last committed block, the upper
// bound every query result is consistent with. ok is false before the
// first commit.
func (s *Service) Tip(ctx context.Context) (*domain.Cursor, bool, error) {
	cur, err := s.cursors.Get(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cursor: %w", err)
	}
	if cur == nil {
		return nil, false, nil
	}
	return cur, true, nil
}

func (s *Service) checkIdentity(ctx context.Context, identityID int64) error {
	ident, err := s.identities.GetByID(ctx, identityID)
	if err != nil {
		return fmt.Errorf("failed to load identity %d: %w", identityID, err)
	}
	if ident == nil {
		return fmt.Errorf("%w: id %d", ErrUnknownIdentity, identityID)
	}
	return nil
}
