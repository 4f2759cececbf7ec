// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Templar Contributors

package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"

	templarerr "github.com/templar-dev/templar/pkg/errors"
)

// Config is the top-level Templar configuration.
type Config struct {
	Storage    StorageConfig    `mapstructure:"storage"`
	Provider   ProviderConfig   `mapstructure:"provider"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Migration  MigrationConfig  `mapstructure:"migration"`
	Validation ValidationConfig `mapstructure:"validation"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// StorageConfig selects and parameterises the storage backend.
type StorageConfig struct {
	Backend     string `mapstructure:"backend"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// ProviderConfig holds credentials and model identity for the
// embedding provider.
type ProviderConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	Model      string        `mapstructure:"model"`
	Dimensions int           `mapstructure:"dimensions"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// RetrievalConfig controls ranking behavior.
type RetrievalConfig struct {
	TopK                int     `mapstructure:"top_k"`
	WeightBySuccessRate bool    `mapstructure:"weight_by_success_rate"`
	SimilarityWeight    float64 `mapstructure:"similarity_weight"`
	SuccessRateWeight   float64 `mapstructure:"success_rate_weight"`
}

// MigrationConfig controls migration runs.
type MigrationConfig struct {
	CatalogPath string `mapstructure:"catalog_path"`
	BatchSize   int    `mapstructure:"batch_size"`
}

// ValidationConfig controls the validation harness.
type ValidationConfig struct {
	Top3Gate float64 `mapstructure:"top3_gate"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from the given path (or defaults) with
// environment variable overrides (prefix TEMPLAR_).
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("storage.backend", "sqlite")
	v.SetDefault("storage.sqlite_path", "templar.db")
	v.SetDefault("provider.model", "text-embedding-3-small")
	v.SetDefault("provider.dimensions", 1536)
	v.SetDefault("provider.timeout", 30*time.Second)
	v.SetDefault("provider.max_retries", 3)
	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.weight_by_success_rate", false)
	v.SetDefault("retrieval.similarity_weight", 0.7)
	v.SetDefault("retrieval.success_rate_weight", 0.3)
	v.SetDefault("migration.catalog_path", "templates.yaml")
	v.SetDefault("migration.batch_size", 32)
	v.SetDefault("validation.top3_gate", 80.0)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	// Environment
	v.SetEnvPrefix("TEMPLAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// File
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, templarerr.Errorf(templarerr.CodeConfigLoadReadFailure, "reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, templarerr.Errorf(templarerr.CodeConfigValidateInvalidValue, "unmarshalling config: %w", err)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, templarerr.Errorf(templarerr.CodeConfigValidateInvalidValue, "validating config: %w", errors.Join(errs...))
	}

	return &cfg, nil
}

// Validate checks the configuration for logical errors. It returns all
// validation errors found rather than stopping at the first one.
func (c *Config) Validate() []error {
	var errs []error

	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateProvider()...)
	errs = append(errs, c.validateRetrieval()...)
	errs = append(errs, c.validateMigration()...)
	errs = append(errs, c.validateValidation()...)
	errs = append(errs, c.validateLogging()...)

	return errs
}

func (c *Config) validateStorage() []error {
	var errs []error

	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			errs = append(errs, errors.New("storage.sqlite_path is required for the sqlite backend"))
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres backend"))
		}
	case "memory":
	default:
		errs = append(errs, errors.New("storage.backend must be one of: sqlite, postgres, memory"))
	}

	return errs
}

func (c *Config) validateProvider() []error {
	var errs []error

	if c.Provider.Model == "" {
		errs = append(errs, errors.New("provider.model must not be empty"))
	}
	if c.Provider.Dimensions < 1 {
		errs = append(errs, errors.New("provider.dimensions must be at least 1"))
	}
	if c.Provider.Timeout <= 0 {
		errs = append(errs, errors.New("provider.timeout must be positive"))
	}
	if c.Provider.MaxRetries < 1 {
		errs = append(errs, errors.New("provider.max_retries must be at least 1"))
	}

	return errs
}

func (c *Config) validateRetrieval() []error {
	var errs []error

	if c.Retrieval.TopK < 1 || c.Retrieval.TopK > 10 {
		errs = append(errs, errors.New("retrieval.top_k must be between 1 and 10"))
	}

	sum := c.Retrieval.SimilarityWeight + c.Retrieval.SuccessRateWeight
	if sum < 0.999 || sum > 1.001 {
		errs = append(errs, errors.New("retrieval.similarity_weight and retrieval.success_rate_weight must sum to 1"))
	}
	if c.Retrieval.SimilarityWeight < 0 || c.Retrieval.SuccessRateWeight < 0 {
		errs = append(errs, errors.New("retrieval weights must not be negative"))
	}

	return errs
}

func (c *Config) validateMigration() []error {
	var errs []error

	if c.Migration.CatalogPath == "" {
		errs = append(errs, errors.New("migration.catalog_path must not be empty"))
	}
	if c.Migration.BatchSize < 1 {
		errs = append(errs, errors.New("migration.batch_size must be at least 1"))
	}

	return errs
}

func (c *Config) validateValidation() []error {
	var errs []error

	if c.Validation.Top3Gate <= 0 || c.Validation.Top3Gate > 100 {
		errs = append(errs, errors.New("validation.top3_gate must be in (0, 100]"))
	}

	return errs
}

func (c *Config) validateLogging() []error {
	var errs []error

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, errors.New("logging.level must be one of: debug, info, warn, error"))
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, errors.New("logging.format must be one of: text, json"))
	}

	return errs
}
