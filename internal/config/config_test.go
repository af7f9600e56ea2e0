package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MOZ_FETCHES_DIR", "/fetches")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/fetches", cfg.FetchDir)
	assert.Equal(t, DefaultOutputDir, cfg.OutputDir)
	assert.Equal(t, DefaultMaxTime, cfg.MaxTime)
	assert.InDelta(t, 0.7, cfg.Similarity.Threshold, 1e-9)
	assert.False(t, cfg.Similarity.Enabled)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "visual-metrics.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
fetch_dir: /from-file
output_dir: /out
max_time: 30s
workers: 3
similarity:
  enabled: true
  threshold: 0.5
`), 0o600))

	t.Setenv("MOZ_FETCHES_DIR", "")
	t.Setenv("MAX_TIME", "12")
	t.Setenv("SIMILARITY_THRESHOLD", "0.25")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/from-file", cfg.FetchDir)
	assert.Equal(t, "/out", cfg.OutputDir)
	assert.Equal(t, 12*time.Second, cfg.MaxTime)
	assert.Equal(t, 3, cfg.Workers)
	assert.True(t, cfg.Similarity.Enabled)
	assert.InDelta(t, 0.25, cfg.Similarity.Threshold, 1e-9)
}

func TestLoad_MissingFileIgnored(t *testing.T) {
	t.Setenv("MOZ_FETCHES_DIR", "/fetches")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "/fetches", cfg.FetchDir)
}

func TestLoad_InvalidEnv(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "max time", key: "MAX_TIME", val: "five"},
		{name: "workers", key: "VISMET_WORKERS", val: "many"},
		{name: "similarity flag", key: "VISMET_SIMILARITY", val: "maybe"},
		{name: "threshold", key: "SIMILARITY_THRESHOLD", val: "high"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)

			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{name: "valid", mutate: func(_ *Config) {}},
		{name: "missing fetch dir", mutate: func(c *Config) { c.FetchDir = "" }, wantErr: errFetchDirRequired},
		{name: "zero max time", mutate: func(c *Config) { c.MaxTime = 0 }, wantErr: errInvalidMaxTime},
		{name: "negative workers", mutate: func(c *Config) { c.Workers = -1 }, wantErr: errInvalidWorkers},
		{name: "threshold out of range", mutate: func(c *Config) { c.Similarity.Threshold = 1.5 }, wantErr: errInvalidThreshold},
		{name: "empty tool", mutate: func(c *Config) { c.Tool = "  " }, wantErr: errEmptyToolCommand},
		{name: "zero cache size", mutate: func(c *Config) { c.Similarity.CacheMaxSize = 0 }, wantErr: errInvalidCacheLimit},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := Default()
			cfg.FetchDir = "/fetches"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConfig_ToolCommand(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.FetchDir = "/fetches"

	argv, err := cfg.ToolCommand()
	require.NoError(t, err)
	assert.Equal(t, []string{
		"python3",
		"/fetches/visualmetrics.py",
		"-vvv",
		"--logformat",
		"[%(levelname)s] - %(message)s",
	}, argv)
}

func TestConfig_StringMasksPassword(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.ClickhouseURL = "clickhouse://writer:hunter2@ch:9000/perf"

	out := cfg.String()
	assert.Contains(t, out, "clickhouse://writer:********@ch:9000/perf")
	assert.NotContains(t, out, "hunter2")
}
