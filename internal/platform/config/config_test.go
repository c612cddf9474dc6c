package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom(t *testing.T) {
	t.Run("defaults validate", func(t *testing.T) {
		cfg, err := LoadFrom("")
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.Server.Addr)
		assert.Equal(t, CounterBackendMemory, cfg.Engine.CounterBackend)
		assert.Equal(t, 50*time.Millisecond, cfg.Engine.CheckTimeout)
		assert.False(t, cfg.KafkaEnabled())
	})

	t.Run("file overrides defaults and env overrides file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "warden.yaml")
		require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
engine:
  check_timeout: 20ms
  max_keys: 1000
kafka:
  brokers: ["k1:9092"]
`), 0o600))
		t.Setenv("WARDEN_ENGINE__CHECK_TIMEOUT", "35ms")
		t.Setenv("WARDEN_KAFKA__BROKERS", "a:9092, b:9092")

		cfg, err := LoadFrom(path)
		require.NoError(t, err)
		assert.Equal(t, "debug", cfg.Log.Level)
		assert.Equal(t, 1000, cfg.Engine.MaxKeys)
		assert.Equal(t, 35*time.Millisecond, cfg.Engine.CheckTimeout)
		assert.Equal(t, []string{"a:9092", "b:9092"}, cfg.Kafka.Brokers)
		assert.True(t, cfg.KafkaEnabled())
	})

	t.Run("redis backend requires a url", func(t *testing.T) {
		t.Setenv("WARDEN_ENGINE__COUNTER_BACKEND", "redis")
		_, err := LoadFrom("")
		require.Error(t, err)
	})

	t.Run("unknown log level rejected", func(t *testing.T) {
		t.Setenv("WARDEN_LOG__LEVEL", "chatty")
		_, err := LoadFrom("")
		require.Error(t, err)
	})

	t.Run("production refuses the development signing key", func(t *testing.T) {
		t.Setenv("WARDEN_ENVIRONMENT", "production")
		_, err := LoadFrom("")
		require.Error(t, err)

		t.Setenv("WARDEN_SERVER__REVIEWER_SIGNING_KEY", "a-real-production-secret")
		_, err = LoadFrom("")
		require.NoError(t, err)
	})
}
