package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cromap-crawler/internal/crawler"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://www.contractresearchmap.com", cfg.Crawler.BaseURL)
	assert.Equal(t, 4, cfg.Crawler.BatchSize)
	assert.Equal(t, "prepend", cfg.Crawler.Order)
	assert.Equal(t, "memory.json", cfg.Cache.Path)
	assert.Equal(t, 100, cfg.Cache.CheckpointEvery)
	assert.Equal(t, "cro.json", cfg.Dedup.Path)
	assert.Equal(t, BackendLocal, cfg.Storage.Backend)
	assert.Equal(t, DefaultDataDir(), cfg.Storage.BaseDir)
	assert.Equal(t, "cro_records", cfg.DB.Table)
	assert.True(t, cfg.Logging.Development)
	assert.Equal(t, []string{"united_states", "united_kingdom", "germany", "canada"}, cfg.Report.Regions)
	assert.Contains(t, cfg.Report.Keywords, "immuno-oncology")

	engine := cfg.EngineConfig()
	assert.Equal(t, 60*time.Second, engine.ItemTimeout)
	assert.Equal(t, crawler.OrderPrepend, engine.Order)

	seed := cfg.Seed()
	assert.Equal(t, crawler.KindRoot, seed.Kind)
	assert.Equal(t, "BASE", seed.Name)
	assert.Equal(t, cfg.Crawler.BaseURL, seed.Href)
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  enabled: true
  addr: 127.0.0.1:9090
crawler:
  base_url: https://mirror.example
  batch_size: 8
  item_timeout_seconds: 5
  order: fifo
cache:
  path: state/memory.json
  checkpoint_every: 10
dedup:
  path: state/cro.json
storage:
  backend: gcs
  gcs_bucket: cromap-bucket
  prefix: runs
http:
  user_agent: test-agent
  timeout_seconds: 45
  requests_per_second: 0.5
headless:
  enabled: true
  max_parallel: 2
  nav_timeout_seconds: 12
  settle_delay_ms: 250
db:
  dsn: postgres://localhost/cromap
pubsub:
  project_id: proj
  topic_name: cro-records
logging:
  development: false
report:
  regions: [germany]
  keywords: [oncology]
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Server.Enabled)
	assert.Equal(t, "127.0.0.1:9090", cfg.Server.Addr)
	assert.Equal(t, 8, cfg.Crawler.BatchSize)
	assert.Equal(t, "state/memory.json", cfg.Cache.Path)
	assert.Equal(t, 10, cfg.Cache.CheckpointEvery)
	assert.Equal(t, BackendGCS, cfg.Storage.Backend)
	assert.Equal(t, "cromap-bucket", cfg.Storage.GCSBucket)
	assert.Equal(t, 45*time.Second, cfg.HTTPTimeout())
	assert.InDelta(t, 0.5, cfg.HTTP.RequestsPerSecond, 1e-9)
	assert.Equal(t, 12*time.Second, cfg.NavTimeout())
	assert.Equal(t, 250*time.Millisecond, cfg.SettleDelay())
	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, []string{"germany"}, cfg.Report.Regions)

	engine := cfg.EngineConfig()
	assert.Equal(t, crawler.OrderFIFO, engine.Order)
	assert.Equal(t, 5*time.Second, engine.ItemTimeout)
	assert.Equal(t, "cro-records", engine.PublishTopic)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CROMAP_CRAWLER_BATCH_SIZE", "2")
	t.Setenv("CROMAP_STORAGE_BACKEND", "memory")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Crawler.BatchSize)
	assert.Equal(t, BackendMemory, cfg.Storage.Backend)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "read config")
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()

	base, err := Load("")
	require.NoError(t, err)

	cases := map[string]func(*Config){
		"batch size":       func(c *Config) { c.Crawler.BatchSize = 0 },
		"relative base":    func(c *Config) { c.Crawler.BaseURL = "/cro" },
		"order":            func(c *Config) { c.Crawler.Order = "random" },
		"same paths":       func(c *Config) { c.Dedup.Path = c.Cache.Path },
		"empty cache path": func(c *Config) { c.Cache.Path = "" },
		"backend":          func(c *Config) { c.Storage.Backend = "s3" },
		"gcs bucket":       func(c *Config) { c.Storage.Backend = BackendGCS },
		"local dir":        func(c *Config) { c.Storage.BaseDir = "" },
		"http timeout":     func(c *Config) { c.HTTP.TimeoutSeconds = 0 },
		"rate":             func(c *Config) { c.HTTP.RequestsPerSecond = -1 },
		"headless":         func(c *Config) { c.Headless.Enabled = true; c.Headless.MaxParallel = 0 },
		"server addr":      func(c *Config) { c.Server.Enabled = true; c.Server.Addr = "" },
		"pubsub topic":     func(c *Config) { c.PubSub.ProjectID = "p" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
