// Package config loads ferry's TOML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/ferryhq/ferry/internal/constants"
)

// Upload contains settings for the upload engine.
type Upload struct {
	Destination   string   `toml:"destination"`
	MaxConcurrent int      `toml:"max_concurrent"`
	ChunkSizeMB   int      `toml:"chunk_size_mb"`
	WorkerLabels  []string `toml:"worker_labels"`
}

// Metrics contains settings for the estimation tick.
type Metrics struct {
	TickIntervalMS int `toml:"tick_interval_ms"`
}

// Logging contains log output settings.
type Logging struct {
	Level string `toml:"level"`
}

// Config is the root configuration document.
type Config struct {
	Upload  Upload  `toml:"upload"`
	Metrics Metrics `toml:"metrics"`
	Logging Logging `toml:"logging"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Upload: Upload{
			MaxConcurrent: constants.DefaultMaxConcurrent,
			ChunkSizeMB:   constants.DefaultChunkSize / (1024 * 1024),
		},
		Metrics: Metrics{
			TickIntervalMS: int(constants.TickInterval / time.Millisecond),
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// DefaultConfigPath returns the per-user config file location.
func DefaultConfigPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "ferry", "config.toml"), nil
}

// Load reads the config at path, layered over the defaults. An empty path
// falls back to DefaultConfigPath; a missing file is not an error and
// yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return cfg, err
		}
		path = p
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := toml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects values the engine cannot honor.
func (c Config) Validate() error {
	if c.Upload.MaxConcurrent < 1 || c.Upload.MaxConcurrent > constants.MaxConcurrentCeiling {
		return fmt.Errorf("upload.max_concurrent must be between 1 and %d", constants.MaxConcurrentCeiling)
	}
	if c.Upload.ChunkSizeMB < 1 || c.Upload.ChunkSizeMB*1024*1024 > constants.MaxChunkSize {
		return fmt.Errorf("upload.chunk_size_mb must be between 1 and %d", constants.MaxChunkSize/(1024*1024))
	}
	if c.Metrics.TickIntervalMS < 100 {
		return errors.New("metrics.tick_interval_ms must be at least 100")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	return nil
}

// TickInterval returns the configured tick cadence as a duration.
func (c Config) TickInterval() time.Duration {
	return time.Duration(c.Metrics.TickIntervalMS) * time.Millisecond
}

// ChunkSize returns the configured chunk size in bytes.
func (c Config) ChunkSize() int64 {
	return int64(c.Upload.ChunkSizeMB) * 1024 * 1024
}
