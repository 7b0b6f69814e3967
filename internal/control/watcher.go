package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"

	"github.com/spwatcher/spwatcher/internal/core/config"
	"github.com/spwatcher/spwatcher/internal/core/cursor"
	"github.com/spwatcher/spwatcher/internal/core/domain"
	"github.com/spwatcher/spwatcher/internal/indexing/health"
	"github.com/spwatcher/spwatcher/internal/indexing/indexer"
	"github.com/spwatcher/spwatcher/internal/indexing/metrics"
	"github.com/spwatcher/spwatcher/internal/indexing/reorg"
	"github.com/spwatcher/spwatcher/internal/indexing/rescan"
	"github.com/spwatcher/spwatcher/internal/infra/feed"
	redisclient "github.com/spwatcher/spwatcher/internal/infra/redis"
	"github.com/spwatcher/spwatcher/internal/infra/storage"
	"github.com/spwatcher/spwatcher/internal/infra/storage/memory"
	"github.com/spwatcher/spwatcher/internal/infra/storage/postgres"
	"github.com/spwatcher/spwatcher/internal/query"
	"github.com/spwatcher/spwatcher/internal/scan/match"
	"github.com/spwatcher/spwatcher/internal/scan/tweak"
)

// Watcher wires storage, the scanning pipeline, the rescan worker and the
// health server together and manages their lifecycle.
type Watcher struct {
	cfg          config.AppConfig
	feed         *feed.ChannelFeed
	matcher      *match.Matcher
	pipeline     indexer.Indexer
	cursorMgr    cursor.Manager
	rescanWorker *rescan.Worker
	healthMon    *health.Monitor
	healthServer *health.Server
	queries      *query.Service

	identityRepo storage.IdentityRepository

	db          *postgres.DB
	redisClient *redisclient.Client
	log         *slog.Logger
}

// NewWatcher creates a Watcher with all dependencies initialized. With a
// database URL configured it runs migrations and uses PostgreSQL; without
// one it falls back to in-memory storage, which is only useful for tests
// and local experiments.
func NewWatcher(ctx context.Context, cfg config.AppConfig) (*Watcher, error) {
	log := slog.Default()

	if _, err := cfg.Network.Params(); err != nil {
		return nil, err
	}

	// 1. Storage
	var (
		paymentRepo  storage.PaymentRepository
		blockRepo    storage.BlockRepository
		tweakRepo    storage.TweakRepository
		identityRepo storage.IdentityRepository
		cursorRepo   storage.CursorRepository
		uow          storage.UnitOfWork
		db           *postgres.DB
	)

	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}

		if err := goose.SetDialect("postgres"); err != nil {
			return nil, err
		}
		if err := goose.Up(db.DB.DB, "migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}

		paymentRepo = postgres.NewPaymentRepo(db)
		blockRepo = postgres.NewBlockRepo(db)
		tweakRepo = postgres.NewTweakRepo(db)
		identityRepo = postgres.NewIdentityRepo(db)
		cursorRepo = postgres.NewCursorRepo(db)
		uow = postgres.NewUnitOfWork(db)
		log.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		paymentRepo = memory.NewPaymentRepo(store)
		blockRepo = memory.NewBlockRepo(store)
		tweakRepo = memory.NewTweakRepo(store)
		identityRepo = memory.NewIdentityRepo(store)
		cursorRepo = memory.NewCursorRepo(store)
		uow = memory.NewUnitOfWork(store)
		log.Info("Using memory storage")
	}

	// 2. Identities and matcher
	records, err := identityRepo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load scan identities: %w", err)
	}
	identities := make([]*tweak.Identity, 0, len(records))
	for _, rec := range records {
		ident, err := tweak.NewIdentity(rec)
		if err != nil {
			return nil, fmt.Errorf("identity %d: %w", rec.ID, err)
		}
		identities = append(identities, ident)
	}
	matcher := match.NewMatcher(identities)
	metrics.RegisteredIdentities.Set(float64(len(identities)))
	log.Info("Loaded scan identities", "count", len(identities))

	// 3. Pipeline
	cursorMgr := cursor.NewManager(cursorRepo)
	blockFeed := feed.NewChannelFeed(cfg.Scan.FeedBuffer)
	detector := reorg.NewDetector(blockRepo)
	reorgHandler := reorg.NewHandler(
		reorg.Config{MaxDepth: cfg.Scan.MaxReorgDepth},
		uow,
		blockRepo,
		cursorMgr,
	)

	pipeline := indexer.NewPipeline(indexer.Config{
		Feed:           blockFeed,
		Matcher:        matcher,
		UnitOfWork:     uow,
		Cursor:         cursorMgr,
		Detector:       detector,
		ReorgHandler:   reorgHandler,
		Logger:         log,
		Workers:        cfg.Scan.Workers,
		CommitAttempts: cfg.Scan.CommitAttempts,
		CommitBackoff:  cfg.Scan.CommitBackoff,
	})

	// 4. Redis and rescan worker
	var redisClient *redisclient.Client
	var rescanWorker *rescan.Worker
	if cfg.Redis.URL != "" && cfg.Rescan.Enabled {
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, rescan disabled", "error", err)
		} else {
			rescanWorker = rescan.NewWorker(
				rescan.WorkerConfig{
					ChunkSize:   cfg.Rescan.ChunkSize,
					LockTTL:     cfg.Rescan.LockTTL,
					ProgressTTL: cfg.Rescan.ProgressTTL,
					EmptySleep:  cfg.Rescan.EmptySleep,
					ScanTimeout: cfg.Rescan.ScanTimeout,
				},
				redisClient,
				matcher,
				identityRepo,
				tweakRepo,
				paymentRepo,
				cursorRepo,
			)
			log.Info("Rescan worker initialized")

			// Identities registered while this process was down (or via
			// the CLI against a running one) were not live-scanned past
			// their coverage watermark. Queue the gap up to the tip.
			cur, err := cursorRepo.Get(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to read watermark: %w", err)
			}
			if cur != nil {
				for _, task := range catchUpTasks(records, cur.Height) {
					if err := redisClient.PushTask(ctx, task); err != nil {
						log.Warn("Failed to queue catch-up rescan",
							"identity", task.IdentityID, "error", err)
						continue
					}
					metrics.RescansQueued.Inc()
					log.Info("Queued catch-up rescan",
						"identity", task.IdentityID, "start", task.Start, "end", task.End)
				}
			}
		}
	}

	// 5. Health monitor
	components := []health.Component{}
	if db != nil {
		components = append(components, health.Component{
			Name:     "database",
			Checker:  db,
			Required: true,
		})
	}
	if redisClient != nil {
		components = append(components, health.Component{
			Name:    "redis",
			Checker: redisClient,
		})
	}
	healthMon := health.NewMonitor(cursorMgr, components...)
	healthServer := health.NewServer(healthMon, cfg.Server.Port)

	return &Watcher{
		cfg:          cfg,
		feed:         blockFeed,
		matcher:      matcher,
		pipeline:     pipeline,
		cursorMgr:    cursorMgr,
		rescanWorker: rescanWorker,
		healthMon:    healthMon,
		healthServer: healthServer,
		queries:      query.NewService(paymentRepo, identityRepo, cursorRepo),
		identityRepo: identityRepo,
		db:           db,
		redisClient:  redisClient,
		log:          log,
	}, nil
}

// Feed returns the block feed. Block sources push connect and disconnect
// events into it; the pipeline consumes them in order.
func (w *Watcher) Feed() *feed.ChannelFeed {
	return w.feed
}

// Queries returns the read-side query service.
func (w *Watcher) Queries() *query.Service {
	return w.queries
}

// catchUpTasks returns the rescan tasks that close each identity's gap
// between its replay coverage watermark and the committed tip.
func catchUpTasks(records []*domain.ScanIdentity, tip uint64) []redisclient.Task {
	var tasks []redisclient.Task
	for _, rec := range records {
		if rec.CoveredHeight >= tip {
			continue
		}
		tasks = append(tasks, redisclient.Task{
			IdentityID: rec.ID,
			Start:      rec.CoveredHeight,
			End:        tip,
		})
	}
	return tasks
}

// RegisterIdentity validates and stores a new scan identity, adds it to
// the live matcher, and queues a rescan of all committed history so the
// identity's past payments surface without a restart. Rescans need Redis;
// without it history stays uncovered until the next start queues the
// catch-up.
func (w *Watcher) RegisterIdentity(ctx context.Context, rec *domain.ScanIdentity) (int64, error) {
	ident, err := tweak.NewIdentity(rec)
	if err != nil {
		return 0, fmt.Errorf("invalid identity: %w", err)
	}

	id, err := w.identityRepo.Save(ctx, rec)
	if err != nil {
		return 0, fmt.Errorf("failed to save identity: %w", err)
	}
	ident.ID = id

	w.matcher.Register(ident)
	metrics.RegisteredIdentities.Set(float64(len(w.matcher.Identities())))
	w.log.Info("Registered scan identity", "id", id, "labels", rec.NumLabels)

	// Queue history replay up to the current watermark.
	cur, err := w.cursorMgr.Get(ctx)
	if err != nil {
		if errors.Is(err, cursor.ErrCursorNotFound) {
			return id, nil // nothing committed yet, nothing to replay
		}
		return id, err
	}
	if w.redisClient == nil {
		w.log.Warn("Redis unavailable, history not rescanned", "identity", id)
		return id, nil
	}
	// End one block past the watermark: a block mid-scan at registration
	// time may have used the previous identity snapshot. The worker
	// holds the task until that height commits.
	task := redisclient.Task{IdentityID: id, Start: 0, End: cur.Height + 1}
	if err := w.redisClient.PushTask(ctx, task); err != nil {
		return id, fmt.Errorf("failed to queue rescan: %w", err)
	}
	metrics.RescansQueued.Inc()
	w.log.Info("Queued identity rescan", "identity", id, "end", task.End)
	return id, nil
}

// Start launches the health server, the pipeline and the rescan worker.
// It returns immediately; components run until the context is cancelled
// or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	go func() {
		if err := w.healthServer.Start(); err != nil {
			w.log.Error("Health server failed", "error", err)
		}
	}()

	if w.db != nil {
		w.db.StartMetricsCollector(ctx)
	}

	go func() {
		if err := w.pipeline.Start(ctx); err != nil {
			w.log.Error("Pipeline failed", "error", err)
		}
	}()

	if w.rescanWorker != nil {
		go func() {
			if err := w.rescanWorker.Run(ctx); err != nil {
				w.log.Error("Rescan worker failed", "error", err)
			}
		}()
	}

	return nil
}

// Stop shuts the watcher down. The feed is closed first so the pipeline
// drains queued events and commits in-flight work before stopping.
func (w *Watcher) Stop(ctx context.Context) error {
	w.log.Info("Stopping watcher")

	w.feed.Close()

	// Give the pipeline a moment to drain before forcing it down.
	select {
	case <-ctx.Done():
	case <-time.After(100 * time.Millisecond):
	}
	w.pipeline.Stop()

	if w.redisClient != nil {
		if err := w.redisClient.Close(); err != nil {
			w.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if w.db != nil {
		if err := w.db.Close(); err != nil {
			w.log.Warn("Failed to close database", "error", err)
		}
	}

	return w.healthServer.Stop(ctx)
}
