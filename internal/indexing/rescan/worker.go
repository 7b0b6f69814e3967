package rescan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spwatcher/spwatcher/internal/indexing/metrics"
	redisclient "github.com/spwatcher/spwatcher/internal/infra/redis"
	"github.com/spwatcher/spwatcher/internal/infra/storage"
	"github.com/spwatcher/spwatcher/internal/scan/match"
	"github.com/spwatcher/spwatcher/internal/scan/tweak"
)

// WorkerConfig holds configuration for the rescan worker.
type WorkerConfig struct {
	ChunkSize   uint64        // Max blocks per chunk (default: 1000)
	LockTTL     time.Duration // Lock TTL (default: 60s)
	ProgressTTL time.Duration // Progress TTL (default: 5m)
	EmptySleep  time.Duration // Sleep when queue empty (default: 10s)
	ScanTimeout time.Duration // Max time per task (default: 5m)
}

// DefaultConfig returns default worker configuration.
func DefaultConfig() WorkerConfig {
	return WorkerConfig{
		ChunkSize:   1000,
		LockTTL:     60 * time.Second,
		ProgressTTL: 5 * time.Minute,
		EmptySleep:  10 * time.Second,
		ScanTimeout: 5 * time.Minute,
	}
}

// errWatermarkBehind marks a task whose range reaches past the committed
// watermark, either because it was queued ahead of live scanning or
// because a reorg rolled the index back. Such tasks are parked, not
// failed: the records they need are not all committed yet.
var errWatermarkBehind = errors.New("rescan range above committed watermark")

// Worker replays stored tweak records for identities registered after
// their blocks were indexed. Tasks come from the Redis queue; results go
// through the same idempotent payment store as live scanning, so a range
// that overlaps live processing is harmless. A task only runs once the
// watermark covers its whole range, and completing it raises the
// identity's coverage watermark.
type Worker struct {
	cfg        WorkerConfig
	redis      *redisclient.Client
	matcher    *match.Matcher
	identities storage.IdentityRepository
	tweaks     storage.TweakRepository
	payments   storage.PaymentRepository
	cursors    storage.CursorRepository
	log        *slog.Logger
}

// NewWorker creates a new rescan worker.
func NewWorker(
	cfg WorkerConfig,
	redis *redisclient.Client,
	matcher *match.Matcher,
	identities storage.IdentityRepository,
	tweaks storage.TweakRepository,
	payments storage.PaymentRepository,
	cursors storage.CursorRepository,
) *Worker {
	return &Worker{
		cfg:        cfg,
		redis:      redis,
		matcher:    matcher,
		identities: identities,
		tweaks:     tweaks,
		payments:   payments,
		cursors:    cursors,
		log:        slog.Default().With("component", "rescan"),
	}
}

// Run starts the worker loop.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("Starting rescan worker")

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Rescan worker stopped")
			return nil
		default:
		}

		// Coalesce overlapping ranges per identity before popping
		if err := w.mergeQueueTasks(ctx); err != nil {
			w.log.Warn("Failed to merge tasks", "error", err)
		}

		task, found, err := w.redis.PopTask(ctx)
		if err != nil {
			w.log.Error("Failed to pop task", "error", err)
			w.sleep(ctx, w.cfg.EmptySleep)
			continue
		}

		if !found {
			w.sleep(ctx, w.cfg.EmptySleep)
			continue
		}

		taskCtx, cancel := context.WithTimeout(ctx, w.cfg.ScanTimeout)
		err = w.processTask(taskCtx, task)
		cancel()
		if err != nil {
			if errors.Is(err, errWatermarkBehind) {
				w.log.Debug("Rescan range not committed yet, deferring",
					"identity", task.IdentityID, "start", task.Start, "end", task.End)
			} else {
				w.log.Error("Failed to process task",
					"identity", task.IdentityID, "start", task.Start, "end", task.End, "error", err)
			}
			// Re-queue for retry
			if requeueErr := w.redis.PushTask(ctx, task); requeueErr != nil {
				w.log.Error("Failed to re-queue task", "error", requeueErr)
			}
			if errors.Is(err, errWatermarkBehind) {
				w.sleep(ctx, w.cfg.EmptySleep)
			}
		}
	}
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// processTask processes one rescan task chunk by chunk.
func (w *Worker) processTask(ctx context.Context, task redisclient.Task) error {
	// Hold the task until every height in its range is committed, so a
	// range queued at registration time waits out the block that was
	// mid-scan, and a range hit by a rollback waits for the replacement
	// branch.
	cur, err := w.cursors.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to read watermark: %w", err)
	}
	if cur == nil || cur.Height < task.End {
		return errWatermarkBehind
	}

	w.log.Info("Processing rescan",
		"identity", task.IdentityID, "start", task.Start, "end", task.End)

	stored, err := w.identities.GetByID(ctx, task.IdentityID)
	if err != nil {
		return fmt.Errorf("failed to load identity %d: %w", task.IdentityID, err)
	}
	if stored == nil {
		// Identity was deleted after the task was queued; drop it.
		w.log.Warn("Dropping rescan for unknown identity", "identity", task.IdentityID)
		return nil
	}
	ident, err := tweak.NewIdentity(stored)
	if err != nil {
		return fmt.Errorf("failed to build identity %d: %w", task.IdentityID, err)
	}

	chunks := Range{Start: task.Start, End: task.End}.Split(w.cfg.ChunkSize)
	for _, chunk := range chunks {
		if err := w.processChunk(ctx, task, ident, chunk); err != nil {
			// Re-queue the not-yet-finished chunks
			for i := len(chunks) - 1; i >= 0; i-- {
				if chunks[i].Start >= chunk.Start {
					requeue := redisclient.Task{
						IdentityID: task.IdentityID,
						Start:      chunks[i].Start,
						End:        chunks[i].End,
					}
					if reqErr := w.redis.PushTask(ctx, requeue); reqErr != nil {
						w.log.Error("Failed to re-queue chunk", "error", reqErr)
					}
				}
			}
			return err
		}
	}

	if err := w.identities.SetCoveredHeight(ctx, task.IdentityID, task.End); err != nil {
		w.log.Warn("Failed to record rescan coverage",
			"identity", task.IdentityID, "error", err)
	}

	metrics.RescansCompleted.Inc()
	w.log.Info("Rescan completed",
		"identity", task.IdentityID, "start", task.Start, "end", task.End)
	return nil
}

// processChunk replays one chunk with locking and resumable progress.
func (w *Worker) processChunk(ctx context.Context, task redisclient.Task, ident *tweak.Identity, chunk Range) error {
	lockTask := redisclient.Task{IdentityID: task.IdentityID, Start: chunk.Start, End: chunk.End}

	locked, err := w.redis.AcquireLock(ctx, lockTask, w.cfg.LockTTL)
	if err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if !locked {
		w.log.Debug("Chunk already locked by another worker",
			"identity", task.IdentityID, "start", chunk.Start, "end", chunk.End)
		return nil // Another worker is processing this
	}

	defer func() {
		if err := w.redis.ReleaseLock(ctx, lockTask); err != nil {
			w.log.Warn("Failed to release lock", "error", err)
		}
		if err := w.redis.ClearProgress(ctx, lockTask); err != nil {
			w.log.Warn("Failed to clear progress", "error", err)
		}
	}()

	// Resume after a crash mid-chunk
	current, err := w.redis.GetProgress(ctx, lockTask)
	if err != nil {
		return fmt.Errorf("failed to get progress: %w", err)
	}
	if current > chunk.End {
		return nil
	}

	records, err := w.tweaks.GetByHeightRange(ctx, current, chunk.End)
	if err != nil {
		return fmt.Errorf("failed to load tweak records: %w", err)
	}

	var payments int
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return err
		}

		detected, err := w.matcher.ScanTweakRecord(record, ident)
		if err != nil {
			return fmt.Errorf("failed to scan tweak %s: %w", record.Txid, err)
		}
		if len(detected) > 0 {
			if err := w.payments.SaveBatch(ctx, detected); err != nil {
				return fmt.Errorf("failed to save payments: %w", err)
			}
			payments += len(detected)
		}

		if record.Height > current {
			current = record.Height
			if err := w.redis.SetProgress(ctx, lockTask, current, w.cfg.ProgressTTL); err != nil {
				w.log.Warn("Failed to update progress", "error", err)
			}
			if err := w.redis.RefreshLock(ctx, lockTask, w.cfg.LockTTL); err != nil {
				w.log.Warn("Failed to refresh lock", "error", err)
			}
		}
	}

	// A reorg can roll the index back while the chunk replays, leaving
	// rows just written stranded above the new tip.
	if err := w.pruneIfRolledBack(ctx, chunk.End); err != nil {
		return err
	}

	w.log.Debug("Chunk processed",
		"identity", task.IdentityID, "start", chunk.Start, "end", chunk.End,
		"tweaks", len(records), "payments", payments)
	return nil
}

// pruneIfRolledBack verifies the watermark still covers a chunk after its
// rows were written. If a concurrent rollback dropped below the chunk,
// payments above the tip are removed and errWatermarkBehind re-queues the
// range to replay against the replacement branch.
func (w *Worker) pruneIfRolledBack(ctx context.Context, chunkEnd uint64) error {
	cur, err := w.cursors.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to re-read watermark: %w", err)
	}
	if cur != nil && cur.Height >= chunkEnd {
		return nil
	}
	if cur != nil {
		if _, err := w.payments.DeleteAbove(ctx, cur.Height); err != nil {
			return fmt.Errorf("failed to prune payments above watermark: %w", err)
		}
	}
	return errWatermarkBehind
}

// mergeQueueTasks merges overlapping/adjacent ranges queued for the same
// identity.
func (w *Worker) mergeQueueTasks(ctx context.Context) error {
	members, err := w.redis.GetAllTasks(ctx)
	if err != nil {
		return err
	}
	if len(members) <= 1 {
		return nil // Nothing to merge
	}

	perIdentity := make(map[int64][]Range)
	for _, m := range members {
		task, err := redisclient.ParseTask(m)
		if err != nil {
			return err
		}
		perIdentity[task.IdentityID] = append(perIdentity[task.IdentityID],
			Range{Start: task.Start, End: task.End})
	}

	merged := 0
	var rebuilt []redisclient.Task
	for id, ranges := range perIdentity {
		out := MergeRanges(ranges)
		merged += len(ranges) - len(out)
		for _, r := range out {
			rebuilt = append(rebuilt, redisclient.Task{IdentityID: id, Start: r.Start, End: r.End})
		}
	}
	if merged == 0 {
		return nil // No change
	}

	w.log.Info("Merging rescan tasks", "before", len(members), "after", len(rebuilt))

	if err := w.redis.ClearQueue(ctx); err != nil {
		return err
	}
	for _, task := range rebuilt {
		if err := w.redis.PushTask(ctx, task); err != nil {
			return err
		}
	}
	return nil
}
