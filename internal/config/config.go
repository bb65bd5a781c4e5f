// Package config handles configuration loading for filingwatch.
// It supports YAML config files with environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"   yaml:"database"`
	SEC        SECConfig        `mapstructure:"sec"        yaml:"sec"`
	EFD        EFDConfig        `mapstructure:"efd"        yaml:"efd"`
	Fetch      FetchConfig      `mapstructure:"fetch"      yaml:"fetch"`
	Reconcile  ReconcileConfig  `mapstructure:"reconcile"  yaml:"reconcile"`
	Jobs       JobsConfig       `mapstructure:"jobs"       yaml:"jobs"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"   yaml:"pipeline"`
	Securities SecuritiesConfig `mapstructure:"securities" yaml:"securities"`
	API        APIConfig        `mapstructure:"api"        yaml:"api"`
	Logging    LoggingConfig    `mapstructure:"logging"    yaml:"logging"`
	Entities   []EntityConfig   `mapstructure:"entities"   yaml:"entities"   validate:"dive"`
}

// DatabaseConfig selects the store backend.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"         yaml:"driver"         validate:"oneof=sqlite postgres"`
	DSN          string `mapstructure:"dsn"            yaml:"dsn"            validate:"required"` // file path for sqlite
	MaxOpenConns int    `mapstructure:"max_open_conns" yaml:"max_open_conns" validate:"gte=0"`
}

// SECConfig holds EDGAR endpoints. SEC rejects requests without a
// User-Agent naming the operator and a contact address.
type SECConfig struct {
	DataURL     string  `mapstructure:"data_url"     yaml:"data_url"     validate:"omitempty,url"`
	ArchivesURL string  `mapstructure:"archives_url" yaml:"archives_url" validate:"omitempty,url"`
	FeedURL     string  `mapstructure:"feed_url"     yaml:"feed_url"     validate:"omitempty,url"`
	UserAgent   string  `mapstructure:"user_agent"   yaml:"user_agent"   validate:"required"`
	RateLimit   float64 `mapstructure:"rate_limit"   yaml:"rate_limit"   validate:"gte=0,lte=10"` // requests/second
}

// EFDConfig holds Senate eFD settings.
type EFDConfig struct {
	BaseURL   string  `mapstructure:"base_url"   yaml:"base_url"   validate:"omitempty,url"`
	UserAgent string  `mapstructure:"user_agent" yaml:"user_agent"`
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit" validate:"gte=0"`
	PageSize  int     `mapstructure:"page_size"  yaml:"page_size"  validate:"gte=0,lte=100"`
}

// FetchConfig holds settings shared by every fetcher.
type FetchConfig struct {
	Timeout         time.Duration `mapstructure:"timeout"          yaml:"timeout"          validate:"gt=0"`
	CacheTTL        time.Duration `mapstructure:"cache_ttl"        yaml:"cache_ttl"`
	MaxAttempts     int           `mapstructure:"max_attempts"     yaml:"max_attempts"     validate:"gte=1"`
	InitialInterval time.Duration `mapstructure:"initial_interval" yaml:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"     yaml:"max_interval"`
	ArchiveDir      string        `mapstructure:"archive_dir"      yaml:"archive_dir"` // keep a copy of every fetched document
	ReplayDir       string        `mapstructure:"replay_dir"       yaml:"replay_dir"`  // serve documents from disk instead of the network
}

// ReconcileConfig holds the noise thresholds. Values are decimal strings.
type ReconcileConfig struct {
	AbsoluteThreshold string `mapstructure:"absolute_threshold" yaml:"absolute_threshold" validate:"required,numeric"`
	RelativeThreshold string `mapstructure:"relative_threshold" yaml:"relative_threshold" validate:"required,numeric"`
}

// JobsConfig holds job tracker settings.
type JobsConfig struct {
	StaleAfter time.Duration `mapstructure:"stale_after" yaml:"stale_after" validate:"gt=0"`
	RetainFor  time.Duration `mapstructure:"retain_for"  yaml:"retain_for"  validate:"gte=0"`
}

// PipelineConfig holds runner settings.
type PipelineConfig struct {
	Concurrency       int `mapstructure:"concurrency"         yaml:"concurrency"         validate:"gte=1,lte=64"`
	MaxPersistRetries int `mapstructure:"max_persist_retries" yaml:"max_persist_retries" validate:"gte=1"`
	WindowDays        int `mapstructure:"window_days"         yaml:"window_days"         validate:"gte=1"` // default run-all lookback
}

// SecuritiesConfig points at an optional identifier mapping file.
type SecuritiesConfig struct {
	MappingFile string `mapstructure:"mapping_file" yaml:"mapping_file"`
}

// APIConfig holds status server settings.
type APIConfig struct {
	Host        string   `mapstructure:"host"         yaml:"host"`
	Port        int      `mapstructure:"port"         yaml:"port"         validate:"gte=1,lte=65535"`
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
	Token       string   `mapstructure:"token"        yaml:"token"` // bearer token for /jobs; empty disables auth
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"  yaml:"level"  validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=json console"`
}

// EntityConfig seeds a tracked entity.
type EntityConfig struct {
	ExternalID string `mapstructure:"external_id" yaml:"external_id" validate:"required"`
	Kind       string `mapstructure:"kind"        yaml:"kind"        validate:"oneof=institutional legislator"`
	Name       string `mapstructure:"name"        yaml:"name"`
	FirstName  string `mapstructure:"first_name"  yaml:"first_name"  validate:"required_if=Kind legislator"`
	LastName   string `mapstructure:"last_name"   yaml:"last_name"   validate:"required_if=Kind legislator"`
	Firm       string `mapstructure:"firm"        yaml:"firm"`
	Party      string `mapstructure:"party"       yaml:"party"`
	Chamber    string `mapstructure:"chamber"     yaml:"chamber"`
	State      string `mapstructure:"state"       yaml:"state"`
}

// Load reads the configuration from file and environment variables.
// Config file search order:
//  1. ./config/config.yaml (project root)
//  2. ~/.filingwatch/config.yaml (home directory)
//  3. /etc/filingwatch/config.yaml (system)
//
// Environment variables override config file values.
// Format: FILINGWATCH_<SECTION>_<KEY>, e.g., FILINGWATCH_DATABASE_DSN
func Load() (*Config, error) {
	v := newViper()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(filepath.Join(homeDir(), ".filingwatch"))
	v.AddConfigPath("/etc/filingwatch")

	// Read config file (not required to exist)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return decode(v)
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("FILINGWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	overrideFromEnv(&cfg)
	cfg.Database.DSN = expandHome(cfg.Database.DSN)
	cfg.Fetch.ArchiveDir = expandHome(cfg.Fetch.ArchiveDir)
	cfg.Fetch.ReplayDir = expandHome(cfg.Fetch.ReplayDir)
	cfg.Securities.MappingFile = expandHome(cfg.Securities.MappingFile)
	return &cfg, nil
}

// Validate checks the struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if _, _, err := c.Reconcile.Thresholds(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Thresholds parses the absolute and relative noise thresholds.
func (r ReconcileConfig) Thresholds() (absolute, relative decimal.Decimal, err error) {
	absolute, err = decimal.NewFromString(r.AbsoluteThreshold)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("reconcile.absolute_threshold: %w", err)
	}
	relative, err = decimal.NewFromString(r.RelativeThreshold)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("reconcile.relative_threshold: %w", err)
	}
	if absolute.IsNegative() || relative.IsNegative() {
		return decimal.Zero, decimal.Zero, errors.New("reconcile thresholds must not be negative")
	}
	return absolute, relative, nil
}

// Addr is the status server listen address.
func (a APIConfig) Addr() string { return fmt.Sprintf("%s:%d", a.Host, a.Port) }

// setDefaults sets sensible defaults for all config values.
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "~/.filingwatch/filingwatch.db")
	v.SetDefault("database.max_open_conns", 0)

	// SEC EDGAR defaults
	v.SetDefault("sec.data_url", "https://data.sec.gov")
	v.SetDefault("sec.archives_url", "https://www.sec.gov/Archives/edgar/data")
	v.SetDefault("sec.feed_url", "https://www.sec.gov/cgi-bin/browse-edgar")
	v.SetDefault("sec.user_agent", "filingwatch/1.0 (ops@filingwatch.example)")
	v.SetDefault("sec.rate_limit", 8.0) // EDGAR allows 10/s

	// Senate eFD defaults
	v.SetDefault("efd.base_url", "https://efdsearch.senate.gov")
	v.SetDefault("efd.rate_limit", 2.0)
	v.SetDefault("efd.page_size", 100)

	// Fetch defaults
	v.SetDefault("fetch.timeout", "30s")
	v.SetDefault("fetch.cache_ttl", "10m")
	v.SetDefault("fetch.max_attempts", 4)
	v.SetDefault("fetch.initial_interval", "500ms")
	v.SetDefault("fetch.max_interval", "10s")

	// Reconcile defaults
	v.SetDefault("reconcile.absolute_threshold", "0")
	v.SetDefault("reconcile.relative_threshold", "0.005")

	// Job tracker defaults
	v.SetDefault("jobs.stale_after", "30m")
	v.SetDefault("jobs.retain_for", "720h")

	// Pipeline defaults
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.max_persist_retries", 3)
	v.SetDefault("pipeline.window_days", 400)

	// API defaults
	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", []string{})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// overrideFromEnv explicitly reads sensitive keys from environment variables.
func overrideFromEnv(cfg *Config) {
	if dsn := os.Getenv("FILINGWATCH_DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if token := os.Getenv("FILINGWATCH_API_TOKEN"); token != "" {
		cfg.API.Token = token
	}
}

func expandHome(p string) string {
	if p == "~" {
		return homeDir()
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(homeDir(), p[2:])
	}
	return p
}

// homeDir returns the user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
