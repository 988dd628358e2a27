package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so the host environment does not leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"APP_ENV", "OPENAI_API_KEY", secretKeyEnv,
		"DEEPRESEARCH_ADDR", "DEEPRESEARCH_LLM_MODE", "DEEPRESEARCH_LLM_LOCAL_URL",
		"DEEPRESEARCH_LLM_REMOTE_URL", "DEEPRESEARCH_LLM_MODEL", "DEEPRESEARCH_LOG_LEVEL",
		"DEEPRESEARCH_LOG_FORMAT", "DEEPRESEARCH_API_KEY", "DEEPRESEARCH_ALLOWED_ORIGINS",
		"DEEPRESEARCH_MAX_CONCURRENT_JOBS", "DEEPRESEARCH_QUEUE_DEPTH",
		"DEEPRESEARCH_MAX_CONCURRENT_RESEARCHERS", "DEEPRESEARCH_JOB_TIMEOUT",
		"DEEPRESEARCH_JOB_RETENTION", "DEEPRESEARCH_SYNC_WAIT",
		"DEEPRESEARCH_SEARCH_ENABLED", "BRAVE_SEARCH_API_KEY",
	} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadFrom("", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "local", cfg.LLM.Mode)
	assert.Equal(t, int64(10), cfg.Jobs.MaxConcurrent)
	assert.Equal(t, 8, cfg.Sessions.MaxInflight)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
server:
  addr: ":9090"
  sync_wait: 90s
jobs:
  max_concurrent: 4
  timeout: 10m
supervisor:
  max_concurrent_researchers: 2
llm:
  default_model: llama3
`)
	t.Setenv("DEEPRESEARCH_LLM_MODEL", "qwen2.5")
	t.Setenv("DEEPRESEARCH_JOB_RETENTION", "15m")

	cfg, err := LoadFrom(path, dir)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 90*time.Second, cfg.Server.SyncWait)
	assert.Equal(t, int64(4), cfg.Jobs.MaxConcurrent)
	assert.Equal(t, 10*time.Minute, cfg.Jobs.Timeout)
	assert.Equal(t, 15*time.Minute, cfg.Jobs.Retention)
	assert.Equal(t, 2, cfg.Supervisor.MaxConcurrentResearchers)
	assert.Equal(t, "qwen2.5", cfg.LLM.DefaultModel)
	// untouched sections keep defaults
	assert.Equal(t, 32, cfg.Sessions.InboundCapacity)
	assert.True(t, cfg.Search.Enabled)
}

func TestLoad_DotEnvFiles(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), "DEEPRESEARCH_ADDR=:7000\nDEEPRESEARCH_LOG_LEVEL=debug\n")
	writeFile(t, filepath.Join(dir, ".env.staging"), "DEEPRESEARCH_ADDR=:7100\n")
	t.Setenv("APP_ENV", "staging")
	// godotenv.Load does not override, so the blank value from clearEnv must go
	require.NoError(t, os.Unsetenv("DEEPRESEARCH_ADDR"))
	require.NoError(t, os.Unsetenv("DEEPRESEARCH_LOG_LEVEL"))
	t.Cleanup(func() {
		os.Unsetenv("DEEPRESEARCH_ADDR")
		os.Unsetenv("DEEPRESEARCH_LOG_LEVEL")
	})

	cfg, err := LoadFrom("", dir)
	require.NoError(t, err)
	assert.Equal(t, ":7100", cfg.Server.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_EncryptedAPIKey(t *testing.T) {
	clearEnv(t)
	t.Setenv(secretKeyEnv, "unit-test-key")
	enc, err := NewSecretKeyFromPassphrase("unit-test-key").Encrypt("sk-live-1234")
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "llm:\n  mode: remote\n  api_key: \""+enc+"\"\nsearch:\n  brave_api_key: \""+enc+"\"\n")
	t.Setenv("DEEPRESEARCH_SEARCH_ENABLED", "false")

	cfg, err := LoadFrom(path, dir)
	require.NoError(t, err)
	assert.Equal(t, "sk-live-1234", cfg.LLM.APIKey)
	assert.Equal(t, "sk-live-1234", cfg.Search.BraveAPIKey)
	assert.False(t, cfg.Search.Enabled)
}

func TestLoad_Invalid(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()

	t.Setenv("DEEPRESEARCH_MAX_CONCURRENT_JOBS", "lots")
	_, err := LoadFrom("", dir)
	assert.ErrorContains(t, err, "DEEPRESEARCH_MAX_CONCURRENT_JOBS")

	t.Setenv("DEEPRESEARCH_MAX_CONCURRENT_JOBS", "")
	t.Setenv("DEEPRESEARCH_LLM_MODE", "remote")
	_, err = LoadFrom("", dir)
	assert.ErrorContains(t, err, "api_key is required")

	_, err = LoadFrom(filepath.Join(dir, "missing.yaml"), dir)
	assert.Error(t, err)
}
