// Package config loads and validates crawler configuration via Viper.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/JakeFAU/cromap-crawler/internal/crawler"
)

// AppName names the data directory under the XDG data home.
const AppName = "cromap"

// Storage backends.
const (
	BackendLocal  = "local"
	BackendMemory = "memory"
	BackendGCS    = "gcs"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Dedup    DedupConfig    `mapstructure:"dedup"`
	Storage  StorageConfig  `mapstructure:"storage"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	Headless HeadlessConfig `mapstructure:"headless"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Report   ReportConfig   `mapstructure:"report"`
}

// ServerConfig controls the optional status server.
type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// CrawlerConfig governs the frontier engine.
type CrawlerConfig struct {
	BaseURL            string `mapstructure:"base_url"`
	SeedName           string `mapstructure:"seed_name"`
	BatchSize          int    `mapstructure:"batch_size"`
	ItemTimeoutSeconds int    `mapstructure:"item_timeout_seconds"`
	Order              string `mapstructure:"order"`
}

// CacheConfig locates the fetch cache and sets its checkpoint cadence.
type CacheConfig struct {
	Path            string `mapstructure:"path"`
	CheckpointEvery int    `mapstructure:"checkpoint_every"`
}

// DedupConfig locates the dedup export.
type DedupConfig struct {
	Path string `mapstructure:"path"`
	// Resume seeds the index from the previous export instead of starting empty.
	Resume bool `mapstructure:"resume"`
}

// StorageConfig selects the blob backend holding the cache and export.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// HTTPConfig configures the plain HTTP transport.
type HTTPConfig struct {
	UserAgent         string  `mapstructure:"user_agent"`
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
	RespectRobots     bool    `mapstructure:"respect_robots"`
}

// HeadlessConfig configures the browser transport.
type HeadlessConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MaxParallel   int    `mapstructure:"max_parallel"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs int    `mapstructure:"settle_delay_ms"`
	ExecPath      string `mapstructure:"exec_path"`
}

// DBConfig controls the optional Postgres mirror.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for admitted-record notifications. A topic
// without a project records notifications in process only.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// ReportConfig holds the downstream report defaults.
type ReportConfig struct {
	CSVPath  string   `mapstructure:"csv_path"`
	Regions  []string `mapstructure:"regions"`
	Keywords []string `mapstructure:"keywords"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CROMAP")
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

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// DefaultDataDir is where the local backend keeps its files.
func DefaultDataDir() string {
	return filepath.Join(xdg.DataHome, AppName)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("crawler.base_url", "http://www.contractresearchmap.com")
	v.SetDefault("crawler.seed_name", "BASE")
	v.SetDefault("crawler.batch_size", crawler.DefaultBatchSize)
	v.SetDefault("crawler.item_timeout_seconds", int(crawler.DefaultItemTimeout/time.Second))
	v.SetDefault("crawler.order", string(crawler.OrderPrepend))
	v.SetDefault("cache.path", "memory.json")
	v.SetDefault("cache.checkpoint_every", 100)
	v.SetDefault("dedup.path", "cro.json")
	v.SetDefault("storage.backend", BackendLocal)
	v.SetDefault("storage.base_dir", DefaultDataDir())
	v.SetDefault("http.user_agent", "cromap-bot/0.1")
	v.SetDefault("http.timeout_seconds", 30)
	v.SetDefault("http.requests_per_second", 2.0)
	v.SetDefault("http.burst", 1)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.max_parallel", crawler.DefaultBatchSize)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.settle_delay_ms", 0)
	v.SetDefault("db.table", "cro_records")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("logging.development", true)
	v.SetDefault("report.csv_path", "cro.csv")
	v.SetDefault("report.regions", []string{"united_states", "united_kingdom", "germany", "canada"})
	v.SetDefault("report.keywords", []string{"oncology", "cancer", "tumour", "immuno-oncology", "preclinical", "pre-clinical"})
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if err := c.EngineConfig().Validate(); err != nil {
		return err
	}
	if c.Cache.Path == "" {
		return fmt.Errorf("cache.path must be set")
	}
	if c.Dedup.Path == "" {
		return fmt.Errorf("dedup.path must be set")
	}
	if c.Cache.Path == c.Dedup.Path {
		return fmt.Errorf("cache.path and dedup.path must differ")
	}
	switch c.Storage.Backend {
	case BackendLocal:
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for the local backend")
		}
	case BackendMemory:
	case BackendGCS:
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set for the gcs backend")
		}
	default:
		return fmt.Errorf("storage.backend must be one of local, memory, gcs; got %q", c.Storage.Backend)
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("http.requests_per_second must be >= 0")
	}
	if c.Headless.Enabled && c.Headless.MaxParallel <= 0 {
		return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
	}
	if c.Server.Enabled && c.Server.Addr == "" {
		return fmt.Errorf("server.addr must be set when the status server is enabled")
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name must be set when pubsub.project_id is set")
	}
	return nil
}

// EngineConfig projects the crawler section onto the engine's settings.
func (c Config) EngineConfig() crawler.Config {
	return crawler.Config{
		BaseURL:      c.Crawler.BaseURL,
		BatchSize:    c.Crawler.BatchSize,
		ItemTimeout:  time.Duration(c.Crawler.ItemTimeoutSeconds) * time.Second,
		Order:        crawler.FrontierOrder(c.Crawler.Order),
		PublishTopic: c.PubSub.TopicName,
	}
}

// Seed returns the root link the crawl starts from.
func (c Config) Seed() crawler.Link {
	return crawler.NewLink(c.Crawler.SeedName, c.Crawler.BaseURL, crawler.KindRoot)
}

// HTTPTimeout converts the HTTP timeout into a duration.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// NavTimeout converts the headless navigation timeout into a duration.
func (c Config) NavTimeout() time.Duration {
	return time.Duration(c.Headless.NavTimeoutSec) * time.Second
}

// SettleDelay converts the headless settle delay into a duration.
func (c Config) SettleDelay() time.Duration {
	return time.Duration(c.Headless.SettleDelayMs) * time.Millisecond
}
