package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if _, err := cfg.Network.Params(); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

func (cfg *AppConfig) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Scan.Workers <= 0 {
		cfg.Scan.Workers = 4
	}
	if cfg.Scan.MaxReorgDepth <= 0 {
		cfg.Scan.MaxReorgDepth = 100
	}
	if cfg.Scan.CommitAttempts == 0 {
		cfg.Scan.CommitAttempts = 5
	}
	if cfg.Scan.CommitBackoff <= 0 {
		cfg.Scan.CommitBackoff = 100 * time.Millisecond
	}
	if cfg.Scan.FeedBuffer <= 0 {
		cfg.Scan.FeedBuffer = 64
	}

	if cfg.Rescan.ChunkSize == 0 {
		cfg.Rescan.ChunkSize = 1000
	}
	if cfg.Rescan.LockTTL <= 0 {
		cfg.Rescan.LockTTL = 60 * time.Second
	}
	if cfg.Rescan.ProgressTTL <= 0 {
		cfg.Rescan.ProgressTTL = 5 * time.Minute
	}
	if cfg.Rescan.EmptySleep <= 0 {
		cfg.Rescan.EmptySleep = 10 * time.Second
	}
	if cfg.Rescan.ScanTimeout <= 0 {
		cfg.Rescan.ScanTimeout = 5 * time.Minute
	}
}
