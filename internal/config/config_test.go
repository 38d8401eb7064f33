package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, ":8000", cfg.APIAddr)
	assert.Equal(t, "sqlite3", cfg.DBDriver)
	assert.Equal(t, "solarsight.db", cfg.DBDSN)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, 30*time.Second, cfg.ProviderTimeout)
	assert.Equal(t, 23*time.Hour, cfg.CacheWindow)
	assert.Equal(t, 1, cfg.RefreshHour)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9999")
	t.Setenv("DB_DRIVER", "pgx")
	t.Setenv("CACHE_WINDOW", "12h")
	t.Setenv("REFRESH_HOUR", "4")

	cfg := Load()
	assert.Equal(t, ":9999", cfg.APIAddr)
	assert.Equal(t, "pgx", cfg.DBDriver)
	assert.Equal(t, 12*time.Hour, cfg.CacheWindow)
	assert.Equal(t, 4, cfg.RefreshHour)
}
