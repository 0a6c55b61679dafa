package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
name: crawler
store:
  dialect: postgres
  host: ${HEALSINK_TEST_HOST}
  port: 5432
  user: writer
  password: ${HEALSINK_TEST_PASSWORD}
  database: crawl
tables:
  prefix: spider_
  entries:
    - suffix: orders
      notes: customer orders
      code: OPS-12
write:
  strategy: queued
  workers: 4
  queue_size: 64
reliability:
  retry_min_delay: 100ms
  retry_max_delay: 500ms
`

func TestParse(t *testing.T) {
	t.Setenv("HEALSINK_TEST_HOST", "db.internal")
	t.Setenv("HEALSINK_TEST_PASSWORD", "s3cret")

	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "crawler", cfg.Name)
	assert.Equal(t, "postgres", cfg.Store.Dialect)
	assert.Equal(t, "db.internal", cfg.Store.Host)
	assert.Equal(t, "s3cret", cfg.Store.Password)
	assert.Equal(t, "spider_", cfg.Tables.Prefix)
	require.Len(t, cfg.Tables.Entries, 1)
	assert.Equal(t, "OPS-12", cfg.Tables.Entries[0].Code)
	assert.True(t, cfg.Write.IsQueued())
	assert.Equal(t, 4, cfg.Write.Workers)
	assert.Equal(t, 100*time.Millisecond, cfg.Reliability.RetryMinDelay)

	// untouched sections keep their defaults
	assert.Equal(t, 3, cfg.Reliability.ConnectAttempts)
	assert.True(t, cfg.Write.Upsert)
	assert.Equal(t, "utf8mb4", cfg.Store.Charset)
}

func TestLoadWithEnvOverride(t *testing.T) {
	t.Setenv("HEALSINK_TEST_HOST", "db.internal")
	t.Setenv("HEALSINK_STORE_DATABASE", "override")
	t.Setenv("HEALSINK_WRITE_WORKERS", "2")

	path := filepath.Join(t.TempDir(), "healsink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Store.Host)
	assert.Equal(t, "override", cfg.Store.Database)
	assert.Equal(t, 2, cfg.Write.Workers)
	assert.Equal(t, 500*time.Millisecond, cfg.Reliability.RetryMaxDelay)
	require.Len(t, cfg.Tables.Entries, 1)
	assert.Equal(t, "customer orders", cfg.Tables.Entries[0].Notes)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no name", func(c *Config) { c.Name = "" }},
		{"no dialect", func(c *Config) { c.Store.Dialect = "" }},
		{"no database", func(c *Config) { c.Store.Database = "" }},
		{"bad port", func(c *Config) { c.Store.Port = 70000 }},
		{"bad strategy", func(c *Config) { c.Write.Strategy = "deferred" }},
		{"queued without workers", func(c *Config) { c.Write.Strategy = StrategyQueued; c.Write.Workers = 0 }},
		{"negative ceiling", func(c *Config) { c.Write.MaxRemediations = -1 }},
		{"no attempts", func(c *Config) { c.Reliability.ConnectAttempts = 0 }},
		{"inverted window", func(c *Config) { c.Reliability.RetryMinDelay = 2 * time.Second }},
		{"bad sample rate", func(c *Config) { c.Observability.TracingSampleRate = 2 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewConfig("test")
			cfg.Store.Database = "db"
			require.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("HEALSINK_TEST_A", "x")
	assert.Equal(t, "x-x-", substituteEnvVars("${HEALSINK_TEST_A}-${HEALSINK_TEST_A}-${HEALSINK_TEST_UNSET}"))
	assert.Equal(t, "open ${brace", substituteEnvVars("open ${brace"))
}

func TestRedactedAndMarshal(t *testing.T) {
	cfg := NewConfig("test")
	cfg.Store.Password = "s3cret"

	red := cfg.Redacted()
	assert.Equal(t, "******", red.Store.Password)
	assert.Equal(t, "s3cret", cfg.Store.Password)

	out, err := Marshal(red)
	require.NoError(t, err)
	assert.Contains(t, string(out), "dialect: mysql")
	assert.NotContains(t, string(out), "s3cret")
}
