package reorg

import (
	"context"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/spwatcher/spwatcher/internal/core/domain"
)

type mockBlockRepo struct {
	mu     sync.RWMutex
	blocks map[uint64]*domain.Block
}

func newMockBlockRepo() *mockBlockRepo {
	return &mockBlockRepo{
		blocks: make(map[uint64]*domain.Block),
	}
}

func (r *mockBlockRepo) addBlock(height uint64, hash, parentHash chainhash.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blocks[height] = &domain.Block{
		Height:     height,
		Hash:       hash,
		ParentHash: parentHash,
		Status:     domain.BlockStatusProcessed,
	}
}

func (r *mockBlockRepo) Save(ctx context.Context, block *domain.Block) error { return nil }

func (r *mockBlockRepo) GetByHeight(ctx context.Context, height uint64) (*domain.Block, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if b, ok := r.blocks[height]; ok {
		copy := *b
		return &copy, nil
	}
	return nil, nil
}

func (r *mockBlockRepo) GetByHash(ctx context.Context, hash chainhash.Hash) (*domain.Block, error) {
	return nil, nil
}

func (r *mockBlockRepo) GetLatest(ctx context.Context) (*domain.Block, error) {
	return nil, nil
}

func (r *mockBlockRepo) UpdateStatus(ctx context.Context, height uint64, status domain.BlockStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.blocks[height]; ok {
		b.Status = status
	}
	return nil
}

func (r *mockBlockRepo) DeleteAbove(ctx context.Context, height uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for h := range r.blocks {
		if h > height {
			delete(r.blocks, h)
		}
	}
	return nil
}

func hashOf(b byte) chainhash.Hash {
	var h chainhash.Hash
	h[0] = b
	return h
}

func TestDetector_ParentHashMatch(t *testing.T) {
	repo := newMockBlockRepo()
	// Chain: 999 -> 1000 -> 1001
	repo.addBlock(999, hashOf(99), hashOf(98))
	repo.addBlock(1000, hashOf(100), hashOf(99))

	detector := NewDetector(repo)
	ctx := context.Background()

	// New block 1001 with correct parent hash
	ok, err := detector.VerifyConnect(ctx, 1001, hashOf(100))
	if err != nil {
		t.Fatalf("VerifyConnect failed: %v", err)
	}
	if !ok {
		t.Error("expected clean extension to verify")
	}
}

func TestDetector_ParentHashMismatch(t *testing.T) {
	repo := newMockBlockRepo()
	repo.addBlock(999, hashOf(99), hashOf(98))
	repo.addBlock(1000, hashOf(100), hashOf(99))

	detector := NewDetector(repo)
	ctx := context.Background()

	// New block 1001 with WRONG parent hash
	ok, err := detector.VerifyConnect(ctx, 1001, hashOf(200))
	if err != nil {
		t.Fatalf("VerifyConnect failed: %v", err)
	}
	if ok {
		t.Error("expected parent mismatch to fail verification")
	}
}

func TestDetector_NoStoredBlock(t *testing.T) {
	repo := newMockBlockRepo()
	detector := NewDetector(repo)
	ctx := context.Background()

	// Block 1001 with no stored block 1000 (index starting mid-chain)
	ok, err := detector.VerifyConnect(ctx, 1001, hashOf(1))
	if err != nil {
		t.Fatalf("VerifyConnect failed: %v", err)
	}
	if !ok {
		t.Error("expected verification to pass when no parent is stored")
	}
}

func TestDetector_BlockZero(t *testing.T) {
	repo := newMockBlockRepo()
	detector := NewDetector(repo)
	ctx := context.Background()

	ok, err := detector.VerifyConnect(ctx, 0, hashOf(0))
	if err != nil {
		t.Fatalf("VerifyConnect failed: %v", err)
	}
	if !ok {
		t.Error("expected block 0 to always verify")
	}
}
