package config

import (
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	redisclient "github.com/spwatcher/spwatcher/internal/infra/redis"
	"github.com/spwatcher/spwatcher/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig       `yaml:"server"`
	Network  NetworkConfig      `yaml:"network"`
	Scan     ScanConfig         `yaml:"scan"`
	Rescan   RescanConfig       `yaml:"rescan"`
	Redis    redisclient.Config `yaml:"redis"`
	Logging  LoggingConfig      `yaml:"logging"`
	Database postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// NetworkConfig selects the Bitcoin network.
type NetworkConfig struct {
	Name string `yaml:"name"` // mainnet, testnet3, signet, regtest
}

// Params resolves the network name to chain parameters.
func (n NetworkConfig) Params() (*chaincfg.Params, error) {
	switch n.Name {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network: %s", n.Name)
	}
}

// ScanConfig tunes the live scanning pipeline.
type ScanConfig struct {
	Workers        int           `yaml:"workers"`         // concurrent tx scans per block
	MaxReorgDepth  int           `yaml:"max_reorg_depth"` // consecutive disconnects tolerated
	CommitAttempts uint64        `yaml:"commit_attempts"` // retries on transient commit failure
	CommitBackoff  time.Duration `yaml:"commit_backoff"`  // initial retry backoff
	FeedBuffer     int           `yaml:"feed_buffer"`     // block feed channel depth
}

// RescanConfig tunes the background rescan worker.
type RescanConfig struct {
	Enabled     bool          `yaml:"enabled"`
	ChunkSize   uint64        `yaml:"chunk_size"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
	ProgressTTL time.Duration `yaml:"progress_ttl"`
	EmptySleep  time.Duration `yaml:"empty_sleep"`
	ScanTimeout time.Duration `yaml:"scan_timeout"`
}
