package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, int64(1), cfg.Server.WorkerID)
	assert.Equal(t, "mysql", cfg.Database.Driver)
	assert.Equal(t, "none", cfg.Lock.Mode)
	assert.Equal(t, 50, cfg.Business.HistoryDefaultLimit)
	assert.Equal(t, 500, cfg.Business.HistoryMaxLimit)
	assert.Equal(t, 5, cfg.Business.ReaderRecentLimit)
	assert.Equal(t, 12*time.Hour, cfg.Auth.SessionTTL)
	assert.Equal(t, "ledger.movement", cfg.Kafka.Topic.Movements)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  port: 9100
database:
  driver: sqlite
  path: /tmp/ledger.db
  lock_wait_timeout: 2s
lock:
  mode: local
  wait: 250ms
business:
  history_default_limit: 20
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "/tmp/ledger.db", cfg.Database.Path)
	assert.Equal(t, 2*time.Second, cfg.Database.LockWaitTimeout)
	assert.Equal(t, "local", cfg.Lock.Mode)
	assert.Equal(t, 250*time.Millisecond, cfg.Lock.Wait)
	assert.Equal(t, 20, cfg.Business.HistoryDefaultLimit)
	assert.Equal(t, 500, cfg.Business.HistoryMaxLimit, "untouched keys keep defaults")
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Setenv("CARDPAY_DATABASE_DRIVER", "postgres")
	t.Setenv("CARDPAY_SERVER_PORT", "9200")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 9200, cfg.Server.Port)
}

func TestLoad_RejectsInvalidSettings(t *testing.T) {
	t.Run("unknown driver", func(t *testing.T) {
		t.Setenv("CARDPAY_DATABASE_DRIVER", "oracle")
		_, err := Load("")
		assert.ErrorContains(t, err, "unsupported database driver")
	})

	t.Run("redis lock without redis", func(t *testing.T) {
		t.Setenv("CARDPAY_LOCK_MODE", "redis")
		_, err := Load("")
		assert.ErrorContains(t, err, "requires redis.enabled")
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}
