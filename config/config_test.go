package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astroskulture/checkout/config"
)

func TestDefaults(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "INR", cfg.Gateway.Currency)
	assert.Equal(t, 5*time.Minute, cfg.Reconcile.Interval)
	assert.Equal(t, 24*time.Hour, cfg.Reconcile.Grace)
	assert.Equal(t, 500*time.Millisecond, cfg.Reconcile.CallDelay)
	assert.Equal(t, "orders", cfg.Kafka.Topic)
}

func TestValidateRequiresSecrets(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ASTROS_AUTH_JWT_SECRET")
	assert.Contains(t, err.Error(), "ASTROS_GATEWAY_KEY_ID")
	assert.Contains(t, err.Error(), "ASTROS_GATEWAY_KEY_SECRET")
}

func TestFileAndEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "astros.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db:
  path: /var/lib/astros/shop.db
gateway:
  key_id: rzp_test_file
  key_secret: from-file
reconcile:
  grace: 12h
kafka:
  brokers: [kafka-1:9092]
`), 0o600))

	t.Setenv("ASTROS_GATEWAY_KEY_SECRET", "from-env")
	t.Setenv("ASTROS_AUTH_JWT_SECRET", "jwt")
	t.Setenv("ASTROS_LOG_FORMAT", "text")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/var/lib/astros/shop.db", cfg.DB.Path)
	assert.Equal(t, "rzp_test_file", cfg.Gateway.KeyID)
	assert.Equal(t, "from-env", cfg.Gateway.KeySecret, "environment wins over the file")
	assert.Equal(t, 12*time.Hour, cfg.Reconcile.Grace)
	assert.Equal(t, []string{"kafka-1:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestMissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
