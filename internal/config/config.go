// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"

	"github.com/JakeFAU/codesearch-harvester/internal/harvest"
)

// EnvPrefix namespaces every environment override, e.g. HARVEST_GITHUB_TOKEN.
const EnvPrefix = "HARVEST"

// Store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	GitHub     GitHubConfig     `mapstructure:"github"`
	Search     SearchConfig     `mapstructure:"search"`
	Partition  PartitionConfig  `mapstructure:"partition"`
	Throttle   ThrottleConfig   `mapstructure:"throttle"`
	Store      StoreConfig      `mapstructure:"store"`
	Checkpoint CheckpointConfig `mapstructure:"checkpoint"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

// GitHubConfig identifies the API endpoint and credentials.
type GitHubConfig struct {
	APIURL    string        `mapstructure:"api_url"`
	Username  string        `mapstructure:"username"`
	Token     string        `mapstructure:"token"`
	UserAgent string        `mapstructure:"user_agent"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// SearchConfig holds the base query and pagination window.
type SearchConfig struct {
	Query      string `mapstructure:"query"`
	PageSize   int    `mapstructure:"page_size"`
	MaxResults int    `mapstructure:"max_results"`
}

// PartitionConfig bounds the size partitions.
type PartitionConfig struct {
	Start int64 `mapstructure:"start"`
	End   int64 `mapstructure:"end"`
	Width int64 `mapstructure:"width"`
}

// ThrottleConfig controls waits and retries.
type ThrottleConfig struct {
	Cooldown           time.Duration `mapstructure:"cooldown"`
	RetryDelay         time.Duration `mapstructure:"retry_delay"`
	QuotaRetryDelay    time.Duration `mapstructure:"quota_retry_delay"`
	PagePause          time.Duration `mapstructure:"page_pause"`
	MaxAttempts        int           `mapstructure:"max_attempts"`
	EscalateAfter      int           `mapstructure:"escalate_after"`
	RequestsPerMinute  int           `mapstructure:"requests_per_minute"`
	ResolveConcurrency int           `mapstructure:"resolve_concurrency"`
}

// StoreConfig selects the persistence collaborator.
type StoreConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// CheckpointConfig locates the checkpoint file.
type CheckpointConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig toggles zap development features and the rotating file sink.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	File        string `mapstructure:"file"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
}

// MetricsConfig enables the Prometheus listener when ListenAddr is set.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Every key is registered so AutomaticEnv overrides reach Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("github.api_url", "https://api.github.com")
	v.SetDefault("github.username", "")
	v.SetDefault("github.token", "")
	v.SetDefault("github.user_agent", "codesearch-harvester/0.1")
	v.SetDefault("github.timeout", 30*time.Second)
	v.SetDefault("search.query", "")
	v.SetDefault("search.page_size", 100)
	v.SetDefault("search.max_results", harvest.MaxResultsPerQuery)
	v.SetDefault("partition.start", 1)
	v.SetDefault("partition.end", 300000)
	v.SetDefault("partition.width", 1)
	v.SetDefault("throttle.cooldown", 5*time.Minute)
	v.SetDefault("throttle.retry_delay", 3*time.Second)
	v.SetDefault("throttle.quota_retry_delay", 3*time.Second)
	v.SetDefault("throttle.page_pause", 5*time.Second)
	v.SetDefault("throttle.max_attempts", 0)
	v.SetDefault("throttle.escalate_after", 10)
	v.SetDefault("throttle.requests_per_minute", 0)
	v.SetDefault("throttle.resolve_concurrency", 0)
	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.path", "harvest.db")
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.table", "data")
	v.SetDefault("store.max_conns", 0)
	v.SetDefault("checkpoint.path", "checkpoint.yaml")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 15)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("metrics.listen_addr", "")
}

// Validate enforces required values and reasonable limits. Every problem is
// reported, not just the first.
func (c Config) Validate() error {
	var errs *multierror.Error
	add := func(format string, args ...any) {
		errs = multierror.Append(errs, fmt.Errorf(format, args...))
	}

	if strings.TrimSpace(c.GitHub.Username) == "" {
		add("github.username is required")
	}
	if strings.TrimSpace(c.GitHub.Token) == "" {
		add("github.token is required")
	}
	if c.GitHub.Timeout <= 0 {
		add("github.timeout must be > 0")
	}
	if strings.TrimSpace(c.Search.Query) == "" {
		add("search.query is required")
	}
	if c.Search.PageSize < 1 || c.Search.PageSize > 100 {
		add("search.page_size must be between 1 and 100, got %d", c.Search.PageSize)
	}
	if c.Search.MaxResults < c.Search.PageSize {
		add("search.max_results must be >= search.page_size")
	}
	if c.Search.MaxResults > harvest.MaxResultsPerQuery {
		add(fmt.Sprintf("search.max_results must be <= %d", harvest.MaxResultsPerQuery))
	}
	if c.Partition.Start < 0 {
		add("partition.start must be >= 0")
	}
	if c.Partition.End < c.Partition.Start {
		add("partition.end must be >= partition.start")
	}
	if c.Partition.Width <= 0 {
		add("partition.width must be > 0")
	}
	if c.Throttle.Cooldown <= 0 {
		add("throttle.cooldown must be > 0")
	}
	if c.Throttle.RetryDelay <= 0 {
		add("throttle.retry_delay must be > 0")
	}
	if c.Throttle.QuotaRetryDelay <= 0 {
		add("throttle.quota_retry_delay must be > 0")
	}
	if c.Throttle.PagePause < 0 {
		add("throttle.page_pause must be >= 0")
	}
	if c.Throttle.MaxAttempts < 0 || c.Throttle.EscalateAfter < 0 ||
		c.Throttle.RequestsPerMinute < 0 || c.Throttle.ResolveConcurrency < 0 {
		add("throttle counters must be >= 0")
	}
	switch c.Store.Driver {
	case DriverSQLite:
		if c.Store.Path == "" {
			add("store.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Store.DSN == "" {
			add("store.dsn is required for the postgres driver")
		}
	case DriverMemory:
	default:
		add("store.driver must be one of sqlite, postgres, memory; got %q", c.Store.Driver)
	}
	if c.Checkpoint.Path == "" {
		add("checkpoint.path is required")
	}
	if c.Logging.File != "" && c.Logging.MaxSizeMB <= 0 {
		add("logging.max_size_mb must be > 0 when logging.file is set")
	}
	return errs.ErrorOrNil()
}
