package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidateStandalone(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "standalone"
	require.NoError(t, cfg.Validate())
}

func TestValidateConnectedRequiresAPIKey(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "full"
	cfg.Remote.APIKey = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "remote: api_key")
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "replicate"
	cfg.LogLevel = "trace"
	cfg.Sync.Strategy = "merge"
	cfg.Queue.DrainInterval.Duration = 0
	cfg.Remote.APIKey = "k"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown mode "replicate"`)
	assert.Contains(t, err.Error(), `unknown log_level "trace"`)
	assert.Contains(t, err.Error(), `unknown strategy "merge"`)
	assert.Contains(t, err.Error(), "drain_interval")
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "sync"

[postgres]
database = "ledger_test"

[sync]
interval = "90s"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	t.Setenv("LEDGER_REMOTE_API_KEY", "from-env")
	t.Setenv("LEDGER_SYNC_INTERVAL", "10m")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "sync", cfg.Mode)
	assert.Equal(t, "ledger_test", cfg.Postgres.Database)
	// File overrides defaults, env overrides the file.
	assert.Equal(t, 10*time.Minute, cfg.Sync.Interval.Duration)
	assert.Equal(t, "from-env", cfg.Remote.APIKey)
	// Untouched values keep their defaults.
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestRedactedConfigMasksSecrets(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "pg-secret"
	cfg.Redis.Password = "redis-secret"
	cfg.Remote.APIKey = "api-secret"
	cfg.S3.SecretKey = "s3-secret"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Postgres.Password)
	assert.Equal(t, "***", out.Redis.Password)
	assert.Equal(t, "***", out.Remote.APIKey)
	assert.Equal(t, "***", out.S3.SecretKey)
	// Original untouched.
	assert.Equal(t, "pg-secret", cfg.Postgres.Password)
}
