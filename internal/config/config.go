//-------------------------------------------------------------------------
//
// Bazaar ETL
//
// Portions copyright (c) 2025 - 2026, Sialkot Labs
// This software is released under The PostgreSQL License
//
//-------------------------------------------------------------------------

// Package config handles configuration management for bazaar-etl.
// Configuration is loaded from config files, BAZAAR_ETL_* environment
// variables, and CLI flags, in increasing order of precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for bazaar-etl.
type Config struct {
	// Source selects and connects the operational change source.
	Source SourceConfig `mapstructure:"source"`

	// Warehouse holds the analytical store settings.
	Warehouse WarehouseConfig `mapstructure:"warehouse"`

	// Ledger holds the local batch ledger settings.
	Ledger LedgerConfig `mapstructure:"ledger"`

	// Batch holds ETL batch execution settings.
	Batch BatchConfig `mapstructure:"batch"`

	// Aggregates holds aggregate rebuild settings.
	Aggregates AggregatesConfig `mapstructure:"aggregates"`

	// Seed holds demo source seeding settings.
	Seed SeedConfig `mapstructure:"seed"`

	// LogLevel controls logging verbosity (debug, info, warn, error).
	LogLevel string `mapstructure:"log_level"`

	// LogPretty selects human-readable console output over JSON.
	LogPretty bool `mapstructure:"log_pretty"`
}

// SourceConfig identifies the operational store changes are extracted from.
type SourceConfig struct {
	// Name is the registered change source to use.
	Name string `mapstructure:"name"`

	// Connection is the source database connection string.
	Connection string `mapstructure:"connection"`
}

// WarehouseConfig holds settings for the star-schema warehouse.
type WarehouseConfig struct {
	// Connection is the warehouse PostgreSQL connection string.
	Connection string `mapstructure:"connection"`

	// DateStart is the first day covered by the date dimension (YYYY-MM-DD).
	DateStart string `mapstructure:"date_start"`

	// DateEnd is the last day covered by the date dimension (YYYY-MM-DD).
	DateEnd string `mapstructure:"date_end"`

	// DropExisting drops existing warehouse tables before initialization.
	DropExisting bool `mapstructure:"drop_existing"`
}

// LedgerConfig holds settings for the local SQLite batch ledger.
type LedgerConfig struct {
	// Path is the ledger database file.
	Path string `mapstructure:"path"`
}

// BatchConfig holds ETL batch execution settings.
type BatchConfig struct {
	// Parallelism bounds how many dimension entity types load concurrently.
	Parallelism int `mapstructure:"parallelism"`

	// RetryAttempts bounds retries of a contended version transition.
	RetryAttempts int `mapstructure:"retry_attempts"`

	// FactBatchSize is the number of fact rows per insert statement.
	FactBatchSize int `mapstructure:"fact_batch_size"`

	// FullRefresh ignores stored watermarks and re-extracts everything.
	FullRefresh bool `mapstructure:"full_refresh"`

	// SkipAggregates leaves aggregates untouched after fact loading.
	SkipAggregates bool `mapstructure:"skip_aggregates"`
}

// AggregatesConfig holds aggregate rebuild settings.
type AggregatesConfig struct {
	// MovingAveragePeriods is the trailing window for the sales moving average.
	MovingAveragePeriods int `mapstructure:"moving_average_periods"`
}

// SeedConfig holds row counts for populating the demo operational store.
type SeedConfig struct {
	Customers int `mapstructure:"customers"`
	Products  int `mapstructure:"products"`
	Stores    int `mapstructure:"stores"`
	Employees int `mapstructure:"employees"`
	Orders    int `mapstructure:"orders"`

	// Days is how far back order history reaches.
	Days int `mapstructure:"days"`

	// RandomSeed makes generated data reproducible (0 = random).
	RandomSeed int64 `mapstructure:"random_seed"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogPretty: true,
		Source: SourceConfig{
			Name: "retail",
		},
		Warehouse: WarehouseConfig{
			DateStart: "2020-01-01",
			DateEnd:   "2030-12-31",
		},
		Ledger: LedgerConfig{
			Path: "bazaar-etl.db",
		},
		Batch: BatchConfig{
			Parallelism:   4,
			RetryAttempts: 3,
			FactBatchSize: 500,
		},
		Aggregates: AggregatesConfig{
			MovingAveragePeriods: 3,
		},
		Seed: SeedConfig{
			Customers: 1000,
			Products:  400,
			Stores:    12,
			Employees: 150,
			Orders:    5000,
			Days:      365,
		},
	}
}

// Load reads configuration from config files.
// Config file locations (in order of precedence):
// 1. Path specified by configFile parameter
// 2. ./bazaar-etl.yaml
// 3. ~/.config/bazaar-etl/config.yaml
// Environment variables override file values:
// BAZAAR_ETL_WAREHOUSE_CONNECTION maps to warehouse.connection, and so on.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	// Set config name and type
	v.SetConfigName("bazaar-etl")
	v.SetConfigType("yaml")

	// Add config paths
	v.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "bazaar-etl"))
	}

	// Use specific config file if provided
	if configFile != "" {
		v.SetConfigFile(configFile)
	}

	v.SetEnvPrefix("BAZAAR_ETL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Register every key so env-only overrides survive Unmarshal.
	setDefaults(v)

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Start with defaults
	cfg := DefaultConfig()

	// Unmarshal config file and environment values
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_pretty", d.LogPretty)
	v.SetDefault("source.name", d.Source.Name)
	v.SetDefault("source.connection", d.Source.Connection)
	v.SetDefault("warehouse.connection", d.Warehouse.Connection)
	v.SetDefault("warehouse.date_start", d.Warehouse.DateStart)
	v.SetDefault("warehouse.date_end", d.Warehouse.DateEnd)
	v.SetDefault("warehouse.drop_existing", d.Warehouse.DropExisting)
	v.SetDefault("ledger.path", d.Ledger.Path)
	v.SetDefault("batch.parallelism", d.Batch.Parallelism)
	v.SetDefault("batch.retry_attempts", d.Batch.RetryAttempts)
	v.SetDefault("batch.fact_batch_size", d.Batch.FactBatchSize)
	v.SetDefault("batch.full_refresh", d.Batch.FullRefresh)
	v.SetDefault("batch.skip_aggregates", d.Batch.SkipAggregates)
	v.SetDefault("aggregates.moving_average_periods", d.Aggregates.MovingAveragePeriods)
	v.SetDefault("seed.customers", d.Seed.Customers)
	v.SetDefault("seed.products", d.Seed.Products)
	v.SetDefault("seed.stores", d.Seed.Stores)
	v.SetDefault("seed.employees", d.Seed.Employees)
	v.SetDefault("seed.orders", d.Seed.Orders)
	v.SetDefault("seed.days", d.Seed.Days)
	v.SetDefault("seed.random_seed", d.Seed.RandomSeed)
}

// Validate checks configuration shared by every command.
func (c *Config) Validate() error {
	if c.Source.Name == "" {
		return fmt.Errorf("source name is required")
	}
	if c.Ledger.Path == "" {
		return fmt.Errorf("ledger path is required")
	}
	return nil
}

// ValidateInit checks configuration required for the init command.
func (c *Config) ValidateInit() error {
	if c.Warehouse.Connection == "" {
		return fmt.Errorf("warehouse connection string is required")
	}
	start, err := time.Parse("2006-01-02", c.Warehouse.DateStart)
	if err != nil {
		return fmt.Errorf("invalid warehouse date_start: %w", err)
	}
	end, err := time.Parse("2006-01-02", c.Warehouse.DateEnd)
	if err != nil {
		return fmt.Errorf("invalid warehouse date_end: %w", err)
	}
	if end.Before(start) {
		return fmt.Errorf("warehouse date_end must not precede date_start")
	}
	return nil
}

// ValidateSeed checks configuration required for the seed and mutate commands.
func (c *Config) ValidateSeed() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Source.Connection == "" {
		return fmt.Errorf("source connection string is required")
	}
	if c.Seed.Customers < 1 || c.Seed.Products < 1 || c.Seed.Stores < 1 ||
		c.Seed.Employees < 1 {
		return fmt.Errorf("seed entity counts must be at least 1")
	}
	if c.Seed.Orders < 0 {
		return fmt.Errorf("seed order count must be non-negative")
	}
	if c.Seed.Days < 1 {
		return fmt.Errorf("seed days must be at least 1")
	}
	return nil
}

// ValidateRun checks configuration required for the run command.
func (c *Config) ValidateRun() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.Source.Connection == "" {
		return fmt.Errorf("source connection string is required")
	}
	if c.Warehouse.Connection == "" {
		return fmt.Errorf("warehouse connection string is required")
	}
	if c.Batch.Parallelism < 1 {
		return fmt.Errorf("batch parallelism must be at least 1")
	}
	if c.Batch.RetryAttempts < 1 {
		return fmt.Errorf("batch retry_attempts must be at least 1")
	}
	if c.Batch.FactBatchSize < 1 {
		return fmt.Errorf("batch fact_batch_size must be at least 1")
	}
	if c.Aggregates.MovingAveragePeriods < 1 {
		return fmt.Errorf("moving_average_periods must be at least 1")
	}
	return nil
}
