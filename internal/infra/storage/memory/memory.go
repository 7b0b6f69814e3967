// Package memory provides an in-memory storage implementation used by
// tests and by embedders that do not need persistence.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/spwatcher/spwatcher/internal/core/domain"
	"github.com/spwatcher/spwatcher/internal/infra/storage"
)

type paymentKey struct {
	identity int64
	txid     chainhash.Hash
	vout     uint32
	label    uint32
}

type MemoryStorage struct {
	mu         sync.RWMutex
	payments   map[paymentKey]*domain.DetectedPayment
	blocks     map[uint64]*domain.Block
	tweaks     map[chainhash.Hash]*domain.TweakRecord
	identities map[int64]*domain.ScanIdentity
	nextID     int64
	cursor     *domain.Cursor
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		payments:   make(map[paymentKey]*domain.DetectedPayment),
		blocks:     make(map[uint64]*domain.Block),
		tweaks:     make(map[chainhash.Hash]*domain.TweakRecord),
		identities: make(map[int64]*domain.ScanIdentity),
		nextID:     1,
	}
}

// -----------------------------------------------------------------------------
// Payment Repository
// -----------------------------------------------------------------------------

type PaymentRepo struct {
	store *MemoryStorage
}

func NewPaymentRepo(store *MemoryStorage) *PaymentRepo {
	return &PaymentRepo{store: store}
}

func (r *PaymentRepo) SaveBatch(ctx context.Context, payments []*domain.DetectedPayment) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.saveBatchLocked(payments)
	return nil
}

func (s *MemoryStorage) saveBatchLocked(payments []*domain.DetectedPayment) {
	for _, p := range payments {
		key := paymentKey{p.IdentityID, p.Txid, p.Vout, p.Label}
		if _, exists := s.payments[key]; exists {
			continue
		}
		cp := *p
		s.payments[key] = &cp
	}
}

func (r *PaymentRepo) Query(ctx context.Context, identityID int64, opts storage.QueryOptions) ([]*domain.DetectedPayment, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var result []*domain.DetectedPayment
	for _, p := range r.store.payments {
		if p.IdentityID != identityID {
			continue
		}
		if p.Height < opts.MinHeight {
			continue
		}
		if opts.MaxHeight > 0 && p.Height > opts.MaxHeight {
			continue
		}
		cp := *p
		result = append(result, &cp)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].Less(result[j]) && !result[j].Less(result[i]) {
			return result[i].Label < result[j].Label
		}
		return result[i].Less(result[j])
	})

	if opts.After != nil {
		after := *opts.After
		idx := sort.Search(len(result), func(i int) bool {
			p := result[i]
			probe := &domain.DetectedPayment{Height: after.Height, Txid: after.Txid, Vout: after.Vout}
			return probe.Less(p)
		})
		result = result[idx:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

func (r *PaymentRepo) DeleteAbove(ctx context.Context, height uint64) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	return r.store.deletePaymentsAboveLocked(height), nil
}

func (s *MemoryStorage) deletePaymentsAboveLocked(height uint64) int64 {
	var removed int64
	for key, p := range s.payments {
		if p.Height > height {
			delete(s.payments, key)
			removed++
		}
	}
	return removed
}

// -----------------------------------------------------------------------------
// Block Repository
// -----------------------------------------------------------------------------

type BlockRepo struct {
	store *MemoryStorage
}

func NewBlockRepo(store *MemoryStorage) *BlockRepo {
	return &BlockRepo{store: store}
}

func (r *BlockRepo) Save(ctx context.Context, block *domain.Block) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.saveBlockLocked(block)
	return nil
}

func (s *MemoryStorage) saveBlockLocked(block *domain.Block) {
	s.blocks[block.Height] = &domain.Block{
		Height:     block.Height,
		Hash:       block.Hash,
		ParentHash: block.ParentHash,
		Status:     block.Status,
	}
}

func (r *BlockRepo) GetByHeight(ctx context.Context, height uint64) (*domain.Block, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	b, ok := r.store.blocks[height]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (r *BlockRepo) GetByHash(ctx context.Context, hash chainhash.Hash) (*domain.Block, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	for _, b := range r.store.blocks {
		if b.Hash == hash {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (r *BlockRepo) GetLatest(ctx context.Context) (*domain.Block, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var latest *domain.Block
	for _, b := range r.store.blocks {
		if latest == nil || b.Height > latest.Height {
			latest = b
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (r *BlockRepo) UpdateStatus(ctx context.Context, height uint64, status domain.BlockStatus) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if b, ok := r.store.blocks[height]; ok {
		b.Status = status
	}
	return nil
}

func (r *BlockRepo) DeleteAbove(ctx context.Context, height uint64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.deleteBlocksAboveLocked(height)
	return nil
}

func (s *MemoryStorage) deleteBlocksAboveLocked(height uint64) {
	for h := range s.blocks {
		if h > height {
			delete(s.blocks, h)
		}
	}
}

// -----------------------------------------------------------------------------
// Tweak Repository
// -----------------------------------------------------------------------------

type TweakRepo struct {
	store *MemoryStorage
}

func NewTweakRepo(store *MemoryStorage) *TweakRepo {
	return &TweakRepo{store: store}
}

func (r *TweakRepo) SaveBatch(ctx context.Context, records []*domain.TweakRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.saveTweaksLocked(records)
	return nil
}

func (s *MemoryStorage) saveTweaksLocked(records []*domain.TweakRecord) {
	for _, rec := range records {
		cp := *rec
		cp.Outputs = append([]domain.TaprootOutput(nil), rec.Outputs...)
		s.tweaks[rec.Txid] = &cp
	}
}

func (r *TweakRepo) GetByHeightRange(ctx context.Context, start, end uint64) ([]*domain.TweakRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()

	var result []*domain.TweakRecord
	for _, rec := range r.store.tweaks {
		if rec.Height < start || rec.Height > end {
			continue
		}
		cp := *rec
		cp.Outputs = append([]domain.TaprootOutput(nil), rec.Outputs...)
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Height != result[j].Height {
			return result[i].Height < result[j].Height
		}
		return result[i].Txid.String() < result[j].Txid.String()
	})
	return result, nil
}

func (r *TweakRepo) DeleteAbove(ctx context.Context, height uint64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.deleteTweaksAboveLocked(height)
	return nil
}

func (s *MemoryStorage) deleteTweaksAboveLocked(height uint64) {
	for txid, rec := range s.tweaks {
		if rec.Height > height {
			delete(s.tweaks, txid)
		}
	}
}

// -----------------------------------------------------------------------------
// Identity Repository
// -----------------------------------------------------------------------------

type IdentityRepo struct {
	store *MemoryStorage
}

func NewIdentityRepo(store *MemoryStorage) *IdentityRepo {
	return &IdentityRepo{store: store}
}

func (r *IdentityRepo) Save(ctx context.Context, identity *domain.ScanIdentity) (int64, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *identity
	cp.ID = r.store.nextID
	r.store.nextID++
	r.store.identities[cp.ID] = &cp
	return cp.ID, nil
}

func (r *IdentityRepo) GetAll(ctx context.Context) ([]*domain.ScanIdentity, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	result := make([]*domain.ScanIdentity, 0, len(r.store.identities))
	for _, ident := range r.store.identities {
		cp := *ident
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (r *IdentityRepo) GetByID(ctx context.Context, id int64) (*domain.ScanIdentity, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	ident, ok := r.store.identities[id]
	if !ok {
		return nil, nil
	}
	cp := *ident
	return &cp, nil
}

func (r *IdentityRepo) Delete(ctx context.Context, id int64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	delete(r.store.identities, id)
	return nil
}

func (r *IdentityRepo) SetCoveredHeight(ctx context.Context, id int64, height uint64) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if ident, ok := r.store.identities[id]; ok && height > ident.CoveredHeight {
		ident.CoveredHeight = height
	}
	return nil
}

// -----------------------------------------------------------------------------
// Cursor Repository
// -----------------------------------------------------------------------------

type CursorRepo struct {
	store *MemoryStorage
}

func NewCursorRepo(store *MemoryStorage) *CursorRepo {
	return &CursorRepo{store: store}
}

func (r *CursorRepo) Get(ctx context.Context) (*domain.Cursor, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	if r.store.cursor == nil {
		return nil, nil
	}
	cp := *r.store.cursor
	return &cp, nil
}

func (r *CursorRepo) Save(ctx context.Context, cursor *domain.Cursor) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *cursor
	r.store.cursor = &cp
	return nil
}

func (r *CursorRepo) UpdateBlock(ctx context.Context, height uint64, hash chainhash.Hash) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	r.store.updateCursorLocked(height, hash)
	return nil
}

func (s *MemoryStorage) updateCursorLocked(height uint64, hash chainhash.Hash) {
	if s.cursor == nil {
		s.cursor = &domain.Cursor{State: domain.CursorStateSynced}
	}
	s.cursor.Height = height
	s.cursor.Hash = hash
}

func (r *CursorRepo) UpdateState(ctx context.Context, state domain.CursorState) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.cursor == nil {
		r.store.cursor = &domain.Cursor{}
	}
	r.store.cursor.State = state
	return nil
}

func (r *CursorRepo) Rollback(ctx context.Context, height uint64, hash chainhash.Hash) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if r.store.cursor == nil {
		r.store.cursor = &domain.Cursor{}
	}
	r.store.cursor.Height = height
	r.store.cursor.Hash = hash
	r.store.cursor.State = domain.CursorStateReorging
	return nil
}

// -----------------------------------------------------------------------------
// Unit of Work
// -----------------------------------------------------------------------------

type UnitOfWork struct {
	store *MemoryStorage
}

func NewUnitOfWork(store *MemoryStorage) *UnitOfWork {
	return &UnitOfWork{store: store}
}

// CommitBlock writes the whole batch under one lock, the in-memory
// equivalent of a single transaction. The watermark moves with the batch
// so the index never holds rows above the committed tip.
func (u *UnitOfWork) CommitBlock(ctx context.Context, commit *storage.BlockCommit) error {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()

	block := *commit.Block
	block.Status = domain.BlockStatusProcessed
	u.store.saveBlockLocked(&block)
	u.store.saveBatchLocked(commit.Payments)
	u.store.saveTweaksLocked(commit.Tweaks)
	u.store.updateCursorLocked(block.Height, block.Hash)
	return nil
}

func (u *UnitOfWork) RollbackAbove(ctx context.Context, height uint64) (int64, error) {
	u.store.mu.Lock()
	defer u.store.mu.Unlock()

	removed := u.store.deletePaymentsAboveLocked(height)
	u.store.deleteTweaksAboveLocked(height)
	u.store.deleteBlocksAboveLocked(height)
	return removed, nil
}
