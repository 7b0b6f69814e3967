package indexer

import (
	"context"
	"log/slog"
	"time"

	"github.com/spwatcher/spwatcher/internal/core/cursor"
	"github.com/spwatcher/spwatcher/internal/indexing/reorg"
	"github.com/spwatcher/spwatcher/internal/infra/feed"
	"github.com/spwatcher/spwatcher/internal/infra/storage"
	"github.com/spwatcher/spwatcher/internal/scan/match"
)

// Indexer is the main orchestrator that coordinates all components
type Indexer interface {
	// Start begins consuming the block feed until the context is
	// cancelled, the feed closes, or a fatal error occurs
	Start(ctx context.Context) error

	// Stop gracefully stops the indexer
	Stop() error

	// GetStatus returns current indexing status
	GetStatus(ctx context.Context) Status
}

type Status struct {
	Running         bool
	Height          uint64
	State           string
	BlocksPerSecond float64
	LastReorgAt     *time.Time
}

// Config holds indexer configuration
type Config struct {
	Feed         feed.Feed
	Matcher      *match.Matcher
	UnitOfWork   storage.UnitOfWork
	Cursor       cursor.Manager
	Detector     *reorg.Detector
	ReorgHandler *reorg.Handler
	Logger       *slog.Logger

	// Workers bounds concurrent transaction scans within one block
	Workers int

	// CommitAttempts and CommitBackoff govern retries of transient
	// commit failures before the pipeline gives up
	CommitAttempts uint64
	CommitBackoff  time.Duration
}
