// Package config loads and validates qarchive configuration from a YAML file
// with environment-variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the top-level configuration.
type Config struct {
	Storage   StorageConfig   `yaml:"storage"`
	Search    SearchConfig    `yaml:"search"`
	Ingestion IngestionConfig `yaml:"ingestion"`
	Reindex   ReindexConfig   `yaml:"reindex"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// StorageConfig controls the record store.
type StorageConfig struct {
	Path          string        `yaml:"path"`
	InMemory      bool          `yaml:"inMemory"`
	FlushInterval time.Duration `yaml:"flushInterval"`
	RetryAttempts int           `yaml:"retryAttempts"`
	RetryDelay    time.Duration `yaml:"retryDelay"`
}

// SearchConfig controls the search index and query defaults.
type SearchConfig struct {
	PoolSize     int `yaml:"poolSize"`
	DefaultLimit int `yaml:"defaultLimit"`
}

// IngestionConfig controls batch ingestion.
type IngestionConfig struct {
	PoolSize int `yaml:"poolSize"`
}

// ReindexConfig controls operator rebuilds.
type ReindexConfig struct {
	ReportInterval int           `yaml:"reportInterval"`
	MaxAttempts    int           `yaml:"maxAttempts"`
	RetryDelay     time.Duration `yaml:"retryDelay"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:          "qarchive.db",
			FlushInterval: time.Second,
			RetryAttempts: 3,
			RetryDelay:    10 * time.Millisecond,
		},
		Search: SearchConfig{
			DefaultLimit: 20,
		},
		Reindex: ReindexConfig{
			ReportInterval: 1000,
			MaxAttempts:    3,
			RetryDelay:     time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks that every value is usable.
func (c *Config) Validate() error {
	var errs []error
	if c.Storage.Path == "" && !c.Storage.InMemory {
		errs = append(errs, errors.New("storage.path is required"))
	}
	if c.Storage.FlushInterval < 0 {
		errs = append(errs, fmt.Errorf("storage.flushInterval must not be negative, got %s", c.Storage.FlushInterval))
	}
	if c.Storage.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("storage.retryAttempts must be at least 1, got %d", c.Storage.RetryAttempts))
	}
	if c.Search.PoolSize < 0 {
		errs = append(errs, fmt.Errorf("search.poolSize must not be negative, got %d", c.Search.PoolSize))
	}
	if c.Search.DefaultLimit < 0 {
		errs = append(errs, fmt.Errorf("search.defaultLimit must not be negative, got %d", c.Search.DefaultLimit))
	}
	if c.Ingestion.PoolSize < 0 {
		errs = append(errs, fmt.Errorf("ingestion.poolSize must not be negative, got %d", c.Ingestion.PoolSize))
	}
	if c.Reindex.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("reindex.maxAttempts must be at least 1, got %d", c.Reindex.MaxAttempts))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// applyEnvOverrides reads QARCHIVE_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) error {
	if v := os.Getenv("QARCHIVE_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("QARCHIVE_STORAGE_IN_MEMORY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("QARCHIVE_STORAGE_IN_MEMORY: %w", err)
		}
		cfg.Storage.InMemory = b
	}
	if v := os.Getenv("QARCHIVE_STORAGE_FLUSH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("QARCHIVE_STORAGE_FLUSH_INTERVAL: %w", err)
		}
		cfg.Storage.FlushInterval = d
	}
	if v := os.Getenv("QARCHIVE_SEARCH_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("QARCHIVE_SEARCH_POOL_SIZE: %w", err)
		}
		cfg.Search.PoolSize = n
	}
	if v := os.Getenv("QARCHIVE_SEARCH_DEFAULT_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("QARCHIVE_SEARCH_DEFAULT_LIMIT: %w", err)
		}
		cfg.Search.DefaultLimit = n
	}
	if v := os.Getenv("QARCHIVE_INGESTION_POOL_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("QARCHIVE_INGESTION_POOL_SIZE: %w", err)
		}
		cfg.Ingestion.PoolSize = n
	}
	if v := os.Getenv("QARCHIVE_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("QARCHIVE_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	return nil
}
