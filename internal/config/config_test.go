package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/headless-fetch/internal/auth"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Crawler.Timeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Crawler.IdleTime)
	assert.Equal(t, 4, cfg.Crawler.MaxConcurrency)
	assert.InDelta(t, 1.0, cfg.Crawler.RatePerHost, 1e-9)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, QueueMemory, cfg.Queue.Driver)
	assert.Equal(t, "fetch_queue", cfg.Queue.Table)
	assert.Equal(t, StorageNone, cfg.Storage.Driver)
	assert.False(t, cfg.PubSub.Enabled())
	assert.Equal(t, 1024, cfg.Events.BufferSize)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Empty(t, cfg.Auth)
}

func TestLoadWithFileOverrides(t *testing.T) {
	path := writeConfig(t, `
crawler:
  timeout: 45s
  ignore_invalid_ssl: true
  max_concurrency: 8
  idle_time: 750ms
  user_agent: fetch-bot/1.0
  rate_per_host: 2.5
proxy:
  enabled: true
  host: proxy.internal
  port: 3128
  username: u
  password: p
auth:
  - domain: Example.com
    type: basic
    username: alice
    password: secret
  - domain: secure.example
    type: x509
    certificate_path: /certs/client.p12
    certificate_passphrase: hunter2
server:
  port: 9090
queue:
  driver: postgres
  dsn: postgres://localhost/fetch
  table: items
storage:
  driver: gcs
  bucket: pages-bucket
  prefix: html
pubsub:
  project_id: proj
  topic: outcomes
telemetry:
  stdout_traces: true
logging:
  development: true
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 45*time.Second, cfg.Crawler.Timeout)
	assert.True(t, cfg.Crawler.IgnoreInvalidSSL)
	assert.Equal(t, 8, cfg.Crawler.MaxConcurrency)
	assert.Equal(t, 750*time.Millisecond, cfg.Crawler.IdleTime)
	assert.Equal(t, "fetch-bot/1.0", cfg.Crawler.UserAgent)
	assert.InDelta(t, 2.5, cfg.Crawler.RatePerHost, 1e-9)
	assert.Equal(t, "http://u:p@proxy.internal:3128", cfg.Proxy.URL())
	require.Len(t, cfg.Auth, 2)
	assert.Equal(t, auth.TypeBasic, cfg.Auth[0].Type)
	assert.Equal(t, "alice", cfg.Auth[0].Username)
	assert.Equal(t, auth.TypeX509, cfg.Auth[1].Type)
	assert.Equal(t, "hunter2", cfg.Auth[1].CertificatePassphrase)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, QueuePostgres, cfg.Queue.Driver)
	assert.Equal(t, "items", cfg.Queue.Table)
	assert.Equal(t, "pages-bucket", cfg.Storage.Bucket)
	assert.True(t, cfg.PubSub.Enabled())
	assert.True(t, cfg.Telemetry.StdoutTraces)
	assert.True(t, cfg.Logging.Development)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("FETCHER_CRAWLER_TIMEOUT", "5s")
	t.Setenv("FETCHER_SERVER_PORT", "7000")
	t.Setenv("FETCHER_STORAGE_DRIVER", "local")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.Crawler.Timeout)
	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, StorageLocal, cfg.Storage.Driver)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero timeout", func(c *Config) { c.Crawler.Timeout = 0 }, "crawler.timeout"},
		{"negative idle", func(c *Config) { c.Crawler.IdleTime = -time.Second }, "crawler.idle_time"},
		{"no concurrency", func(c *Config) { c.Crawler.MaxConcurrency = 0 }, "crawler.max_concurrency"},
		{"negative rate", func(c *Config) { c.Crawler.RatePerHost = -1 }, "crawler.rate_per_host"},
		{"proxy without host", func(c *Config) { c.Proxy.Enabled = true }, "proxy.host"},
		{"auth without domain", func(c *Config) { c.Auth = []auth.Entry{{Type: auth.TypeBasic}} }, "domain is required"},
		{"auth unknown type", func(c *Config) { c.Auth = []auth.Entry{{Domain: "a", Type: "ntlm"}} }, "unknown type"},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"postgres without dsn", func(c *Config) { c.Queue.Driver = QueuePostgres }, "queue.dsn"},
		{"unknown queue", func(c *Config) { c.Queue.Driver = "redis" }, "queue.driver"},
		{"local without dir", func(c *Config) {
			c.Storage.Driver = StorageLocal
			c.Storage.BaseDir = ""
		}, "storage.base_dir"},
		{"gcs without bucket", func(c *Config) { c.Storage.Driver = StorageGCS }, "storage.bucket"},
		{"unknown storage", func(c *Config) { c.Storage.Driver = "s3" }, "storage.driver"},
		{"topic without project", func(c *Config) { c.PubSub.Topic = "t" }, "pubsub.project_id"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	base, err := Load("")
	require.NoError(t, err)
	base.Server.Port = 0
	base.Crawler.Timeout = 0

	err = base.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "crawler.timeout")
}
