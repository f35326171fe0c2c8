package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 5000, cfg.Sources.Wayback.PageSize)
	require.Equal(t, 2000, cfg.Sources.CommonCrawl.PageSize)
	require.Equal(t, 120*time.Second, cfg.Sources.Wayback.Timeout())
	require.Equal(t, 5, cfg.Breaker.FailureThreshold)
	require.True(t, cfg.Breaker.ExponentialBackoff)
	require.Equal(t, 2.0, cfg.Breaker.BackoffFactor)
	require.Equal(t, 600, cfg.Breaker.MaxTimeoutSeconds)
	require.Equal(t, 0.5, cfg.Extraction.AcceptThreshold)
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.True(t, cfg.Progress.Enabled)
	require.Equal(t, 120*time.Minute, cfg.JobTimeout())
}

func TestLoad_FileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  port: 9191
sources:
  wayback:
    page_size: 1000
storage:
  backend: local
  local:
    base_dir: /tmp/snapshots
extraction:
  accept_threshold: 0.7
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9191, cfg.Server.Port)
	require.Equal(t, 1000, cfg.Sources.Wayback.PageSize)
	require.Equal(t, "local", cfg.Storage.Backend)
	require.Equal(t, "/tmp/snapshots", cfg.Storage.Local.BaseDir)
	require.Equal(t, 0.7, cfg.Extraction.AcceptThreshold)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ARCHIVER_SERVER_PORT", "7070")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
}

func TestValidate_Rejections(t *testing.T) {
	base := func() Config {
		cfg, err := Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"auth without key", func(c *Config) { c.Auth.Enabled = true }, "auth.api_key"},
		{"bad threshold", func(c *Config) { c.Extraction.AcceptThreshold = 1.5 }, "accept_threshold"},
		{"gcs without bucket", func(c *Config) { c.Storage.Backend = "gcs" }, "storage.bucket"},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "tape" }, "storage backend"},
		{"zero workers", func(c *Config) { c.Orchestrator.Workers = 0 }, "orchestrator.workers"},
		{"shrinking backoff", func(c *Config) { c.Breaker.BackoffFactor = 0.5 }, "breaker.backoff_factor"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}
