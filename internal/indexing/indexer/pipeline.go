package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/spwatcher/spwatcher/internal/core/cursor"
	"github.com/spwatcher/spwatcher/internal/core/domain"
	"github.com/spwatcher/spwatcher/internal/indexing/metrics"
	"github.com/spwatcher/spwatcher/internal/infra/feed"
	"github.com/spwatcher/spwatcher/internal/infra/storage"
)

// ErrMalformedFeed is returned when the feed violates its ordering
// contract: a connect that neither extends the tip nor re-delivers it,
// without intervening disconnects. The pipeline halts rather than index a
// chain it cannot trust.
var ErrMalformedFeed = errors.New("malformed block feed")

// Pipeline implements the Indexer interface.
type Pipeline struct {
	cfg      Config
	running  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
}

// NewPipeline creates a new indexing pipeline.
func NewPipeline(cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.CommitAttempts == 0 {
		cfg.CommitAttempts = 5
	}
	if cfg.CommitBackoff <= 0 {
		cfg.CommitBackoff = 100 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pipeline{
		cfg:  cfg,
		stop: make(chan struct{}),
	}
}

// Start consumes the feed until the context is cancelled, Stop is called,
// the feed closes, or a fatal error occurs. Fatal errors are returned;
// the caller decides whether to restart.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("pipeline already running")
	}
	defer p.running.Store(false)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-p.stop:
			cancel()
		case <-runCtx.Done():
		}
	}()

	for {
		ev, err := p.cfg.Feed.Next(runCtx)
		if errors.Is(err, feed.ErrClosed) || errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("feed error: %w", err)
		}

		switch ev.Type {
		case feed.EventConnect:
			if err := p.connectBlock(runCtx, ev.Block); err != nil {
				return err
			}
		case feed.EventDisconnect:
			result, err := p.cfg.ReorgHandler.Disconnect(runCtx, ev.Height, ev.Hash)
			if err != nil {
				return fmt.Errorf("disconnect of block %d failed: %w", ev.Height, err)
			}
			metrics.ReorgsHandled.Inc()
			metrics.PaymentsReverted.Add(float64(result.RemovedPayments))
			metrics.IndexerHeight.Set(float64(ev.Height - 1))
			p.cfg.Logger.Warn("block disconnected",
				"height", ev.Height,
				"hash", ev.Hash,
				"reverted_payments", result.RemovedPayments,
				"reorg_depth", result.Depth,
			)
		default:
			return fmt.Errorf("%w: unknown event type %d", ErrMalformedFeed, ev.Type)
		}
	}
}

// Stop stops the pipeline.
func (p *Pipeline) Stop() error {
	p.stopOnce.Do(func() { close(p.stop) })
	return nil
}

// GetStatus returns the current status.
func (p *Pipeline) GetStatus(ctx context.Context) Status {
	status := Status{Running: p.running.Load()}

	cur, err := p.cfg.Cursor.Get(ctx)
	if err == nil {
		status.Height = cur.Height
		status.State = string(cur.State)
	}

	m := p.cfg.Cursor.GetMetrics()
	status.BlocksPerSecond = m.BlocksPerSecond
	status.LastReorgAt = m.LastReorgAt

	return status
}

// connectBlock scans one connected block and commits its batch.
func (p *Pipeline) connectBlock(ctx context.Context, block *domain.Block) error {
	start := time.Now()

	cur, err := p.cfg.Cursor.Get(ctx)
	first := errors.Is(err, cursor.ErrCursorNotFound)
	if err != nil && !first {
		return err
	}

	// The first block ever has nothing to validate against; committing
	// it below creates the watermark at its height. This holds for any
	// starting height, genesis included.
	if !first {
		if cur.State == domain.CursorStatePaused {
			return cursor.ErrCursorPaused
		}

		// Re-delivery of the committed tip is a no-op, which makes
		// replay after a crash harmless.
		if block.Height == cur.Height && block.Hash == cur.Hash {
			p.cfg.Logger.Debug("duplicate block delivery ignored", "height", block.Height)
			return nil
		}

		if block.Height != cur.Height+1 {
			return fmt.Errorf("%w: connect at height %d does not extend tip %d",
				ErrMalformedFeed, block.Height, cur.Height)
		}
		if block.ParentHash != cur.Hash {
			return fmt.Errorf("%w: block %d parent %s does not match tip hash %s",
				ErrMalformedFeed, block.Height, block.ParentHash, cur.Hash)
		}
		ok, err := p.cfg.Detector.VerifyConnect(ctx, block.Height, block.ParentHash)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: block %d parent does not match stored block %d",
				ErrMalformedFeed, block.Height, block.Height-1)
		}
	}

	payments, tweaks, err := p.scanBlock(ctx, block)
	if err != nil {
		return fmt.Errorf("scan of block %d failed: %w", block.Height, err)
	}

	commit := &storage.BlockCommit{
		Block:    block,
		Payments: payments,
		Tweaks:   tweaks,
	}
	backoff := retry.WithMaxRetries(p.cfg.CommitAttempts, retry.NewExponential(p.cfg.CommitBackoff))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := p.cfg.UnitOfWork.CommitBlock(ctx, commit); err != nil {
			metrics.CommitRetries.Inc()
			p.cfg.Logger.Warn("block commit failed, retrying", "height", block.Height, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("commit of block %d failed: %w", block.Height, err)
	}

	if first {
		p.cfg.Logger.Info("watermark created at first block", "height", block.Height)
	} else if cur.State == domain.CursorStateReorging {
		// A successful connect ends any reorg sequence.
		if err := p.cfg.Cursor.SetState(ctx, cursor.StateSynced, "replacement branch connected"); err != nil {
			return err
		}
	}
	p.cfg.ReorgHandler.Reset()

	// The commit already persisted the watermark; this re-validates the
	// sequence and records progress.
	if err := p.cfg.Cursor.Advance(ctx, block.Height, block.Hash); err != nil {
		return fmt.Errorf("cursor advance failed: %w", err)
	}

	metrics.BlocksProcessed.Inc()
	metrics.IndexerHeight.Set(float64(block.Height))
	metrics.EligibleTransactions.Add(float64(len(tweaks)))
	metrics.BlockScanDuration.Observe(time.Since(start).Seconds())
	for _, pay := range payments {
		metrics.PaymentsDetected.WithLabelValues(strconv.FormatInt(pay.IdentityID, 10)).Inc()
	}

	p.cfg.Logger.Info("block committed",
		"height", block.Height,
		"txs", len(block.Txs),
		"eligible", len(tweaks),
		"payments", len(payments),
		"took", time.Since(start),
	)
	return nil
}

// scanBlock fans transactions out over the worker pool and reassembles
// results in transaction order, so commits are deterministic regardless of
// scheduling.
func (p *Pipeline) scanBlock(ctx context.Context, block *domain.Block) ([]*domain.DetectedPayment, []*domain.TweakRecord, error) {
	type txResult struct {
		payments []*domain.DetectedPayment
		record   *domain.TweakRecord
	}
	results := make([]txResult, len(block.Txs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for i, tx := range block.Txs {
		i, tx := i, tx
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			payments, record, err := p.cfg.Matcher.ScanTransaction(tx, block.Height)
			if err != nil {
				return fmt.Errorf("tx %s: %w", tx.Txid, err)
			}
			results[i] = txResult{payments: payments, record: record}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var payments []*domain.DetectedPayment
	var tweaks []*domain.TweakRecord
	for _, res := range results {
		payments = append(payments, res.payments...)
		if res.record != nil {
			tweaks = append(tweaks, res.record)
		}
	}
	return payments, tweaks, nil
}
