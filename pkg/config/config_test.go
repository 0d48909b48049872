package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Baseline(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "agentic", cfg.Redis.Namespace)
	assert.Equal(t, 3, cfg.Redis.MaxRetries)
	assert.True(t, cfg.Redis.EnableDLQ)
	assert.Equal(t, []string{"leads"}, cfg.Persist.ReadTables)
	assert.Equal(t, []string{"leads"}, cfg.Persist.WriteTables)
}

func withEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		require.NoError(t, os.Setenv(k, v))
		t.Cleanup(func(key string) func() {
			return func() { os.Unsetenv(key) }
		}(k))
	}
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	withEnv(t, map[string]string{
		"REDIS_HOST":         "redis.internal",
		"REDIS_PORT":         "6380",
		"REDIS_MAX_RETRIES":  "7",
		"OPS_HB_ENABLED":     "false",
		"RAG_DEFAULT_LIMIT":  "50",
		"LOG_LEVEL":          "debug",
		"METRICS_ADDR":       ":9999",
	})

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "redis.internal", cfg.Redis.Host)
	assert.Equal(t, 6380, cfg.Redis.Port)
	assert.Equal(t, 7, cfg.Redis.MaxRetries)
	assert.False(t, cfg.Ops.HeartbeatEnabled)
	assert.Equal(t, 50, cfg.RAG.DefaultLimit)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":9999", cfg.MetricsAddr)
}

func TestLoad_MissingYAMLFileIsNotAnError(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, Default().Redis.Namespace, cfg.Redis.Namespace)
}

func TestLoad_YAMLOverridesDefaultsButEnvWinsOverYAML(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "cfg-*.yaml")
	require.NoError(t, err)
	_, err = f.WriteString("redis:\n  namespace: from-yaml\n  max_retries: 9\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	withEnv(t, map[string]string{"REDIS_MAX_RETRIES": "11"})

	cfg, err := Load(f.Name())
	require.NoError(t, err)

	assert.Equal(t, "from-yaml", cfg.Redis.Namespace) // YAML beats default
	assert.Equal(t, 11, cfg.Redis.MaxRetries)          // env beats YAML
}

func TestApplyEnv_RetryBackoffIsMilliseconds(t *testing.T) {
	withEnv(t, map[string]string{"REDIS_RETRY_BACKOFF_MS": "1500"})
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 1500*time.Millisecond, cfg.Redis.RetryBackoff)
}

func TestApplyEnv_WriteDenyFiltersWriteTables(t *testing.T) {
	withEnv(t, map[string]string{
		"PERSIST_WRITE_TABLES": "leads,accounts,billing_ledger",
		"PERSIST_WRITE_DENY":   "billing_ledger",
	})
	cfg, err := Load("")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"leads", "accounts"}, cfg.Persist.WriteTables)
}

func TestApplyEnv_ListParsingTrimsAndSkipsEmpty(t *testing.T) {
	withEnv(t, map[string]string{"PERSIST_READ_TABLES": " leads , accounts ,,"})
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, []string{"leads", "accounts"}, cfg.Persist.ReadTables)
}

func TestApplyEnv_InvalidIntIsIgnored(t *testing.T) {
	withEnv(t, map[string]string{"REDIS_PORT": "not-a-number"})
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Redis.Port)
}
