package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the gpufence configuration file (~/.config/gpufence/config.yaml).
// Numeric fields are pointers so we can distinguish "not set" from zero values.
type Config struct {
	PoolCapacity   *int64         `yaml:"pool_capacity"`
	MaxQueryPoints *int64         `yaml:"max_query_points"`
	SyncSlots      *int64         `yaml:"sync_slots"`
	EventTimeout   *time.Duration `yaml:"event_timeout"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	if configFile != "" {
		return configFile
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "gpufence", "config.yaml")
}

// LoadConfig reads the config file at path. A missing default file yields a
// zero Config; a file named with --config must exist.
func LoadConfig(path string, explicit bool) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return Config{}, nil
		}
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// validate rejects engine sizes that are present but not positive. The
// engine would otherwise replace them with its defaults without a word.
func (c Config) validate() error {
	for _, f := range []struct {
		key string
		v   *int64
	}{
		{"pool_capacity", c.PoolCapacity},
		{"max_query_points", c.MaxQueryPoints},
		{"sync_slots", c.SyncSlots},
	} {
		if f.v != nil && *f.v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", f.key, *f.v)
		}
	}
	if c.EventTimeout != nil && *c.EventTimeout <= 0 {
		return fmt.Errorf("event_timeout must be positive, got %s", *c.EventTimeout)
	}
	return nil
}

// applyLoggingConfig applies config file defaults to the logging flags when
// they were not explicitly set.
func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyEngineConfig applies config file defaults to the engine and device flags.
func applyEngineConfig(c *cli.Command, cfg Config) {
	if cfg.PoolCapacity != nil && !c.IsSet("pool-capacity") {
		poolCapacity = *cfg.PoolCapacity
	}
	if cfg.MaxQueryPoints != nil && !c.IsSet("max-query-points") {
		maxQueryPoints = *cfg.MaxQueryPoints
	}
	if cfg.SyncSlots != nil && !c.IsSet("sync-slots") {
		syncSlots = *cfg.SyncSlots
	}
	if cfg.EventTimeout != nil && !c.IsSet("event-timeout") {
		eventTimeout = *cfg.EventTimeout
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}
