package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/issue-harvester/pkg/logging"
)

const sampleYAML = `
api:
  endpoint: https://issues.example.org/rest/api/2/search
  filter_template: "project=%s AND type=Bug"
  extra_params:
    expand: changelog
    fields: "*all"
  page_size: 100
  requests_per_second: 2.5
retry:
  max_retries: 5
  initial_delay: 1s
storage:
  checkpoint_backend: redis
  page_backend: sqlite
  sqlite_path: /var/lib/harvest/pages.db
run:
  collections: [SPARK, KAFKA]
  workers: 2
logging:
  level: debug
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "harvester.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "jql", cfg.API.FilterParam)
	assert.Equal(t, "project=%s", cfg.API.FilterTemplate)
	assert.Equal(t, 50, cfg.API.PageSize)
	assert.Equal(t, 30*time.Second, cfg.API.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.API.PolitenessDelay)
	assert.Equal(t, 3, cfg.Retry.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.Retry.InitialDelay)
	assert.Equal(t, 2.0, cfg.Retry.ExponentialBase)
	assert.Equal(t, 60*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 60*time.Second, cfg.Retry.RateLimitDelay)
	assert.Equal(t, "file", cfg.Storage.CheckpointBackend)
	assert.Equal(t, "fs", cfg.Storage.PageBackend)
	assert.Equal(t, 1, cfg.Run.Workers)
	assert.Equal(t, "info", cfg.Logging.Level)

	// No endpoint configured.
	assert.Error(t, cfg.Validate())
}

func TestLoad_File(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "project=%s AND type=Bug", cfg.API.FilterTemplate)
	assert.Equal(t, map[string]string{"expand": "changelog", "fields": "*all"}, cfg.API.ExtraParams)
	assert.Equal(t, 100, cfg.API.PageSize)
	assert.Equal(t, 2.5, cfg.API.RequestsPerSecond)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, time.Second, cfg.Retry.InitialDelay)
	assert.Equal(t, 60*time.Second, cfg.Retry.MaxDelay, "unset keys keep defaults")
	assert.True(t, cfg.Storage.UsesRedis())
	assert.Equal(t, []string{"SPARK", "KAFKA"}, cfg.Run.Collections)
	assert.Equal(t, 2, cfg.Run.Workers)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HARVEST_API_ENDPOINT", "https://env.example.org/search")
	t.Setenv("HARVEST_API_PAGE_SIZE", "25")
	t.Setenv("HARVEST_RETRY_MAX_DELAY", "10s")
	t.Setenv("HARVEST_RUN_MAX_ITEMS", "100")

	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, "https://env.example.org/search", cfg.API.Endpoint)
	assert.Equal(t, 25, cfg.API.PageSize)
	assert.Equal(t, 10*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, 100, cfg.Run.MaxItems)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		cfg.API.Endpoint = "https://issues.example.org/search"
		return cfg
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"page size above maximum", func(c *Config) { c.API.PageSize = 101 }},
		{"page size zero", func(c *Config) { c.API.PageSize = 0 }},
		{"relative endpoint", func(c *Config) { c.API.Endpoint = "/search" }},
		{"missing user agent", func(c *Config) { c.API.UserAgent = "" }},
		{"unknown checkpoint backend", func(c *Config) { c.Storage.CheckpointBackend = "s3" }},
		{"unknown page backend", func(c *Config) { c.Storage.PageBackend = "tape" }},
		{"redis without address", func(c *Config) {
			c.Storage.PageBackend = "redis"
			c.Storage.RedisAddr = ""
		}},
		{"sqlite without path", func(c *Config) {
			c.Storage.PageBackend = "sqlite"
			c.Storage.SQLitePath = ""
		}},
		{"no workers", func(c *Config) { c.Run.Workers = 0 }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "trace" }},
		{"two placeholders", func(c *Config) { c.API.FilterTemplate = "project=%s OR key=%s" }},
		{"negative retries", func(c *Config) { c.Retry.MaxRetries = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestDerivedConfigs(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleYAML))
	require.NoError(t, err)

	cc := cfg.ClientConfig()
	assert.Equal(t, cfg.API.Endpoint, cc.Endpoint)
	assert.Equal(t, "jql", cc.FilterParam)
	assert.Equal(t, "changelog", cc.ExtraParams.Get("expand"))
	assert.Equal(t, 5, cc.Retry.MaxRetries)
	assert.Equal(t, time.Second, cc.Retry.InitialDelay)

	pc := cfg.ControllerConfig()
	assert.Equal(t, 100, pc.PageSize)
	assert.Equal(t, 3, pc.WriteRetries)
	assert.Equal(t, 500*time.Millisecond, pc.PoliteDelay)

	lc := cfg.LoggerConfig()
	assert.Equal(t, logging.LevelDebug, lc.Level)

	tc := cfg.TelemetryConfig()
	assert.Empty(t, tc.Endpoint)
	assert.Equal(t, "issue-harvester", tc.ServiceName)
}

func TestLoad_ExampleConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "harvester.yaml"))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"SPARK", "KAFKA", "HADOOP", "HIVE", "FLINK"}, cfg.Run.Collections)
	assert.Equal(t, "fs", cfg.Storage.PageBackend)
	assert.False(t, cfg.Storage.UsesRedis())
}
