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
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://loki:3100", cfg.LokiURL)
	assert.Equal(t, 1000, cfg.MaxBatchSize)
	assert.Equal(t, 5*time.Second, cfg.FlushInterval.D())
	assert.Equal(t, 2, cfg.MinWorkers)
	assert.Equal(t, 10, cfg.MaxWorkers)
}

func TestLoad_YAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	content := `
loki_url: http://localhost:3100
node_name: worker-7
max_batch_size: 250
flush_interval: 2s
scan_interval: 1m
min_workers: 4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:3100", cfg.LokiURL)
	assert.Equal(t, "worker-7", cfg.NodeName)
	assert.Equal(t, 250, cfg.MaxBatchSize)
	assert.Equal(t, 2*time.Second, cfg.FlushInterval.D())
	assert.Equal(t, time.Minute, cfg.ScanInterval.D())
	assert.Equal(t, 4, cfg.MinWorkers)
	// untouched keys keep defaults
	assert.Equal(t, 10, cfg.MaxWorkers)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_batch_size: 250\n"), 0644))

	t.Setenv("MAX_BATCH_SIZE", "77")
	t.Setenv("FLUSH_INTERVAL", "250ms")
	t.Setenv("NODE_NAME", "env-node")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 77, cfg.MaxBatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.FlushInterval.D())
	assert.Equal(t, "env-node", cfg.NodeName)
}

func TestLoad_BadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_batch_size: [not an int\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/agent.yaml")
	assert.Error(t, err)
}

func TestDuration_UnmarshalForms(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("flush_interval: 1500000000\n"), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, cfg.FlushInterval.D())

	require.NoError(t, os.WriteFile(path, []byte("flush_interval: oops\n"), 0644))
	_, err = Load(path)
	assert.Error(t, err)
}
