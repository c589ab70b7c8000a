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
	t.Setenv("CONSULT_CONFIG_FILE", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Shipping.DefaultWeightGrams)
	assert.Equal(t, 15*time.Second, cfg.Carrier.Timeout)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Equal(t, "consultation-audit", cfg.KafkaAuditTopic)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONSULT_CONFIG_FILE", "")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("CARRIER_TIMEOUT", "3")
	t.Setenv("SHIPPING_RETRY_DELAY", "90s")
	t.Setenv("DEFAULT_WEIGHT_GRAMS", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 3*time.Second, cfg.Carrier.Timeout)
	assert.Equal(t, 90*time.Second, cfg.Shipping.RetryDelay)
	assert.Equal(t, 100, cfg.Shipping.DefaultWeightGrams)
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consult.yaml")
	err := os.WriteFile(path, []byte(`
dsn: postgres://localhost/consult
carrier:
  service_code: CRL24
  timeout: 5s
shipping:
  default_weight_grams: 250
`), 0o644)
	require.NoError(t, err)
	t.Setenv("CONSULT_CONFIG_FILE", path)
	t.Setenv("CARRIER_TOKEN", "from-env")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres://localhost/consult", cfg.DSN)
	assert.Equal(t, "CRL24", cfg.Carrier.ServiceCode)
	assert.Equal(t, 5*time.Second, cfg.Carrier.Timeout)
	assert.Equal(t, "from-env", cfg.Carrier.Token)
	assert.Equal(t, 250, cfg.Shipping.DefaultWeightGrams)
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("CONSULT_CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)
}
