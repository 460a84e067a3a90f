// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/JakeFAU/journal-harvester/internal/harvest"
)

// Storage backends.
const (
	BackendLocal    = "local"
	BackendGCS      = "gcs"
	BackendPostgres = "postgres"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Source   SourceConfig   `mapstructure:"source"`
	Harvest  HarvestConfig  `mapstructure:"harvest"`
	Output   OutputConfig   `mapstructure:"output"`
	Fetch    FetchConfig    `mapstructure:"fetch"`
	Headless HeadlessConfig `mapstructure:"headless"`
	Enrich   EnrichConfig   `mapstructure:"enrich"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// SourceConfig identifies the journal portal.
type SourceConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Journal string `mapstructure:"journal"`
}

// HarvestConfig selects what to harvest.
type HarvestConfig struct {
	Year     int    `mapstructure:"year"`
	Issues   string `mapstructure:"issues"`
	Details  bool   `mapstructure:"details"`
	MaxPages int    `mapstructure:"max_pages"`
}

// OutputConfig sets where local datasets are written.
type OutputConfig struct {
	Path         string `mapstructure:"path"`
	FilteredPath string `mapstructure:"filtered_path"`
}

// FetchConfig configures the fetch client budget and retry behavior.
type FetchConfig struct {
	UserAgent      string        `mapstructure:"user_agent"`
	Timeout        time.Duration `mapstructure:"timeout"`
	MaxConcurrency int           `mapstructure:"max_concurrency"`
	MinDelay       time.Duration `mapstructure:"min_delay"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BackoffBase    time.Duration `mapstructure:"backoff_base"`
	BackoffMax     time.Duration `mapstructure:"backoff_max"`
	RespectRobots  bool          `mapstructure:"respect_robots"`
}

// HeadlessConfig configures the headless rendering subsystem.
type HeadlessConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Listing     bool          `mapstructure:"listing"`
	NavTimeout  time.Duration `mapstructure:"nav_timeout"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
}

// EnrichConfig sizes the detail enricher worker pool.
type EnrichConfig struct {
	Workers int `mapstructure:"workers"`
}

// StorageConfig selects the dataset backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for hand-off notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	Topic     string `mapstructure:"topic"`
}

// Enabled reports whether notifications should be published.
func (c PubSubConfig) Enabled() bool {
	return c.ProjectID != "" && c.Topic != ""
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// MetricsConfig exposes the Prometheus endpoint when Addr is set.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// New returns a Viper instance with env bindings and defaults applied.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates a Config from an already populated Viper,
// such as one with cobra flags bound to it.
func FromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("source.base_url", "")
	v.SetDefault("source.journal", "journal")
	v.SetDefault("harvest.year", 0)
	v.SetDefault("harvest.issues", "1")
	v.SetDefault("harvest.details", true)
	v.SetDefault("harvest.max_pages", 50)
	v.SetDefault("output.path", "results.json")
	v.SetDefault("output.filtered_path", "")
	v.SetDefault("fetch.user_agent", "journal-harvester/0.1")
	v.SetDefault("fetch.timeout", 20*time.Second)
	v.SetDefault("fetch.max_concurrency", 4)
	v.SetDefault("fetch.min_delay", 300*time.Millisecond)
	v.SetDefault("fetch.max_attempts", 3)
	v.SetDefault("fetch.backoff_base", 500*time.Millisecond)
	v.SetDefault("fetch.backoff_max", 8*time.Second)
	v.SetDefault("fetch.respect_robots", true)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.listing", false)
	v.SetDefault("headless.nav_timeout", 30*time.Second)
	v.SetDefault("headless.settle_delay", 500*time.Millisecond)
	v.SetDefault("enrich.workers", 4)
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.prefix", "")
	v.SetDefault("db.table", "issue_datasets")
	v.SetDefault("logging.development", true)
	v.SetDefault("metrics.addr", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Source.BaseURL == "" {
		return fmt.Errorf("source.base_url is required")
	}
	u, err := url.Parse(c.Source.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("source.base_url must be an absolute http(s) url")
	}
	if c.Source.Journal == "" {
		return fmt.Errorf("source.journal is required")
	}
	if c.Harvest.Year < 1900 || c.Harvest.Year > 2100 {
		return fmt.Errorf("harvest.year must be between 1900 and 2100")
	}
	if _, err := harvest.ParseIssues(c.Harvest.Issues); err != nil {
		return fmt.Errorf("harvest.issues: %w", err)
	}
	if c.Harvest.MaxPages <= 0 {
		return fmt.Errorf("harvest.max_pages must be > 0")
	}
	if c.Fetch.MaxConcurrency <= 0 {
		return fmt.Errorf("fetch.max_concurrency must be > 0")
	}
	if c.Fetch.MaxAttempts <= 0 {
		return fmt.Errorf("fetch.max_attempts must be > 0")
	}
	if c.Fetch.MinDelay < 0 || c.Fetch.BackoffBase < 0 || c.Fetch.BackoffMax < 0 {
		return fmt.Errorf("fetch delays must not be negative")
	}
	if c.Fetch.Timeout <= 0 {
		return fmt.Errorf("fetch.timeout must be > 0")
	}
	if c.Enrich.Workers <= 0 {
		return fmt.Errorf("enrich.workers must be > 0")
	}
	if c.Headless.Listing && !c.Headless.Enabled {
		return fmt.Errorf("headless.listing requires headless.enabled")
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if c.Output.Path == "" {
			return fmt.Errorf("output.path is required for the local backend")
		}
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs backend")
		}
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage.backend %q", c.Storage.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.Topic == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic must be set together")
	}
	return nil
}

// Issues returns the parsed issue expression.
func (c Config) Issues() []int {
	issues, _ := harvest.ParseIssues(c.Harvest.Issues)
	return issues
}

// RetryPolicy converts the fetch knobs into a harvest.RetryPolicy.
func (c Config) RetryPolicy() harvest.RetryPolicy {
	return harvest.NewExponentialRetryPolicy(c.Fetch.MaxAttempts, c.Fetch.BackoffBase, c.Fetch.BackoffMax)
}

// OutputTemplate returns the local path template. Multi-issue runs get an
// {issue} placeholder so issues never overwrite each other.
func (c Config) OutputTemplate() string {
	return c.perIssue(c.Output.Path)
}

// FilteredTemplate returns the annotator's filtered path template, expanded
// per issue the same way as OutputTemplate. Empty when no filtered path is set.
func (c Config) FilteredTemplate() string {
	if c.Output.FilteredPath == "" {
		return ""
	}
	return c.perIssue(c.Output.FilteredPath)
}

func (c Config) perIssue(path string) string {
	if len(c.Issues()) > 1 && !strings.Contains(path, "{issue}") {
		ext := ""
		if i := strings.LastIndex(path, "."); i > strings.LastIndex(path, "/") {
			path, ext = path[:i], path[i:]
		}
		path = path + "_{issue}" + ext
	}
	return path
}
