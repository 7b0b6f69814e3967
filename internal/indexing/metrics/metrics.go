package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BlocksProcessed tracks total blocks committed
	BlocksProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spwatcher_blocks_processed_total",
			Help: "Total number of blocks scanned and committed",
		},
	)

	// PaymentsDetected tracks detected payments per identity
	PaymentsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "spwatcher_payments_detected_total",
			Help: "Total number of silent payment outputs detected",
		},
		[]string{"identity"},
	)

	// EligibleTransactions tracks transactions that passed input extraction
	EligibleTransactions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spwatcher_eligible_transactions_total",
			Help: "Total number of transactions eligible for scanning",
		},
	)

	// ReorgsHandled tracks reorg rollbacks
	ReorgsHandled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spwatcher_reorgs_handled_total",
			Help: "Total number of block disconnects rolled back",
		},
	)

	// PaymentsReverted tracks payments removed by reorg rollbacks
	PaymentsReverted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spwatcher_payments_reverted_total",
			Help: "Total number of payments removed during reorg rollbacks",
		},
	)

	// BlockScanDuration tracks per-block scan latency
	BlockScanDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "spwatcher_block_scan_duration_seconds",
			Help:    "Time spent scanning and committing one block",
			Buckets: prometheus.DefBuckets,
		},
	)

	// CommitRetries tracks transient commit failures that were retried
	CommitRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spwatcher_commit_retries_total",
			Help: "Total number of retried block commits",
		},
	)

	// IndexerHeight tracks the last committed height
	IndexerHeight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spwatcher_indexer_height",
			Help: "Last fully committed block height",
		},
	)

	// RegisteredIdentities tracks the number of loaded scan identities
	RegisteredIdentities = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spwatcher_registered_identities",
			Help: "Number of scan identities loaded into the matcher",
		},
	)

	// RescansQueued tracks queued rescan ranges
	RescansQueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spwatcher_rescans_queued_total",
			Help: "Total number of rescan ranges enqueued",
		},
	)

	// RescansCompleted tracks finished rescan ranges
	RescansCompleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spwatcher_rescans_completed_total",
			Help: "Total number of rescan ranges completed",
		},
	)

	// DBConnectionPoolUsage tracks the fraction of the pool in use
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spwatcher_db_connection_pool_usage",
			Help: "Fraction of database connections in use",
		},
	)
)
