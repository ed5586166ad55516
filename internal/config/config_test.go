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
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Queue.Backend)
	assert.Equal(t, "transactions", cfg.Queue.Name)
	assert.Equal(t, "least_connections", cfg.Balancer.Strategy)
	assert.Equal(t, 3, cfg.Processor.MaxRetries)
	assert.Equal(t, 4*time.Second, cfg.Processor.RetryBase)
	assert.Equal(t, 10*time.Second, cfg.Processor.RetryMax)
	assert.Equal(t, 60*time.Second, cfg.Balancer.StaleAfter)
	assert.Equal(t, 5*time.Minute, cfg.Processor.MetricsWindow)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("QUEUE_BACKEND", "redis")
	t.Setenv("LB_STRATEGY", "round_robin")
	t.Setenv("WORKERS", "6")
	t.Setenv("WORKER_CAPABILITIES", "transfer, fx ,")
	t.Setenv("PROCESSOR_RETRY_BASE", "250ms")
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Queue.Backend)
	assert.Equal(t, "round_robin", cfg.Balancer.Strategy)
	assert.Equal(t, 6, cfg.Worker.Count)
	assert.Equal(t, []string{"transfer", "fx"}, cfg.Worker.Capabilities)
	assert.Equal(t, 250*time.Millisecond, cfg.Processor.RetryBase)
	assert.Equal(t, 9090, cfg.HTTP.Port)
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "engine.toml")
	content := `
[queue]
backend = "stream"
name = "payments"

[processor]
max_retries = 5
daily_limit = "2500"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("PROCESSOR_MAX_RETRIES", "2")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "stream", cfg.Queue.Backend)
	assert.Equal(t, "payments", cfg.Queue.Name)
	assert.Equal(t, "2500", cfg.Processor.DailyLimit)
	assert.Equal(t, 2, cfg.Processor.MaxRetries)
	assert.Equal(t, "txn-workers", cfg.Queue.StreamGroup)
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("QUEUE_BACKEND", "kafka")
	t.Setenv("PROCESSOR_DAILY_LIMIT", "lots")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown queue backend")
	assert.Contains(t, err.Error(), "daily_limit")
}

func TestLoad_InvalidDuration(t *testing.T) {
	t.Setenv("WORKER_POLL_TIMEOUT", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "WORKER_POLL_TIMEOUT")
}

func TestLoad_InvalidPort(t *testing.T) {
	t.Setenv("SERVER_PORT", "70000")

	_, err := Load()
	assert.Error(t, err)
}
