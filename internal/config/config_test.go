package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "development", cfg.Server.Env)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 4, cfg.Worker.Concurrency)
	assert.Equal(t, 3, cfg.Worker.MaxRetry)
	assert.Equal(t, 30*time.Minute, cfg.Worker.Timeout)
	assert.True(t, cfg.Worker.Embedded)
	assert.Equal(t, 30*time.Minute, cfg.Stream.IdleTimeout)
	assert.Equal(t, 20, cfg.RateLimit.TasksPerHour)
	assert.Equal(t, "https://api.assemblyai.com/v2", cfg.Transcriber.BaseURL)
	assert.Equal(t, "llama-3.3-70b-versatile", cfg.Analyzer.Model)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9000")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("WORKER_CONCURRENCY", "8")
	t.Setenv("WORKER_EMBEDDED", "false")
	t.Setenv("STREAM_IDLE_TIMEOUT_MIN", "5")
	t.Setenv("ANALYZER_API_KEY", "gsk_test")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 8, cfg.Worker.Concurrency)
	assert.False(t, cfg.Worker.Embedded)
	assert.Equal(t, 5*time.Minute, cfg.Stream.IdleTimeout)
	assert.Equal(t, "gsk_test", cfg.Analyzer.APIKey)
}

func TestReadSecretFromFile(t *testing.T) {
	secretFile := filepath.Join(t.TempDir(), "analyzer_key")
	require.NoError(t, os.WriteFile(secretFile, []byte("gsk_from_file\n"), 0o600))

	t.Setenv("ANALYZER_API_KEY", "")
	os.Unsetenv("ANALYZER_API_KEY")
	t.Setenv("ANALYZER_API_KEY_FILE", secretFile)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "gsk_from_file", cfg.Analyzer.APIKey)
}

func TestReadSecretDirectEnvWins(t *testing.T) {
	secretFile := filepath.Join(t.TempDir(), "analyzer_key")
	require.NoError(t, os.WriteFile(secretFile, []byte("gsk_from_file"), 0o600))

	t.Setenv("ANALYZER_API_KEY", "gsk_direct")
	t.Setenv("ANALYZER_API_KEY_FILE", secretFile)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "gsk_direct", cfg.Analyzer.APIKey)
}
