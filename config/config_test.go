package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir() + "/missing.env")
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.StoreDriver)
	assert.Equal(t, 5, cfg.RateLimitRequests)
	assert.Equal(t, 10*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 2*time.Second, cfg.RetryDelay)
	assert.Equal(t, 1, cfg.FipeVehicleType)
	assert.True(t, cfg.SkipHistoricalPrices)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", "/tmp/catalog.db")
	t.Setenv("RATE_LIMIT_REQUESTS", "7")
	t.Setenv("RATE_LIMIT_WINDOW", "3s")
	t.Setenv("PRICE_WORKERS", "4")

	cfg, err := Load(t.TempDir() + "/missing.env")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.RateLimitRequests)
	assert.Equal(t, 3*time.Second, cfg.RateLimitWindow)
	assert.Equal(t, 4, cfg.PriceWorkers)
	assert.Equal(t, "file:/tmp/catalog.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", cfg.DSN())
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mysql")

	_, err := Load(t.TempDir() + "/missing.env")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORE_DRIVER")
}

func TestPostgresDSN(t *testing.T) {
	cfg := &Config{
		StoreDriver:      DriverPostgres,
		PostgresHost:     "db",
		PostgresPort:     "5433",
		PostgresUser:     "u",
		PostgresPassword: "p",
		PostgresDB:       "fipe",
		PostgresSSLMode:  "require",
	}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=fipe sslmode=require", cfg.DSN())
}
