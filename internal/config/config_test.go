package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.DBHost)
	assert.Equal(t, "doc_collab", cfg.DBName)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.PollTimeout)
	assert.Equal(t, 30*time.Second, cfg.AutoSaveInterval)
	assert.Equal(t, time.Hour, cfg.LockTTL)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("POLL_INTERVAL_MS", "250")
	t.Setenv("LOCK_TTL_MINUTES", "15")
	t.Setenv("STORE_URL", "http://store:9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.DBHost)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 15*time.Minute, cfg.LockTTL)
	assert.Equal(t, "http://store:9090", cfg.StoreURL)
}

func TestLoadRejectsNonPositivePolling(t *testing.T) {
	t.Setenv("POLL_INTERVAL_MS", "0")

	_, err := Load()
	assert.Error(t, err)
}

func TestDatabaseURL(t *testing.T) {
	cfg := &Config{
		DBHost:     "localhost",
		DBPort:     "5432",
		DBUser:     "postgres",
		DBPassword: "secret",
		DBName:     "doc_collab",
		DBSSLMode:  "disable",
	}

	assert.Equal(t,
		"host=localhost port=5432 user=postgres password=secret dbname=doc_collab sslmode=disable",
		cfg.DatabaseURL())
}

func TestInvalidIntFallsBackToDefault(t *testing.T) {
	t.Setenv("POLL_TIMEOUT_MS", "not a number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.PollTimeout)
}
