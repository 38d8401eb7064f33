// Package config loads service configuration from a .env file and the
// environment.
package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the service.
type Config struct {
	// HTTP API
	APIAddr string

	// Storage. Driver is sqlite3 or pgx.
	DBDriver string
	DBDSN    string

	// Optional shared cache tier. Empty address disables it.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Provider HTTP timeout
	ProviderTimeout time.Duration

	// Result cache freshness window
	CacheWindow time.Duration

	// Hour of day (0-23) the batch refresher runs
	RefreshHour int

	// Log level: trace, debug, info, warn, error
	LogLevel string
}

// Load reads configuration from .env (when present) and the environment,
// over built-in defaults.
func Load() *Config {
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("API_ADDR", ":8000")
	v.SetDefault("DB_DRIVER", "sqlite3")
	v.SetDefault("DB_DSN", "solarsight.db")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("PROVIDER_TIMEOUT", 30*time.Second)
	v.SetDefault("CACHE_WINDOW", 23*time.Hour)
	v.SetDefault("REFRESH_HOUR", 1)
	v.SetDefault("LOG_LEVEL", "info")

	return &Config{
		APIAddr:         v.GetString("API_ADDR"),
		DBDriver:        v.GetString("DB_DRIVER"),
		DBDSN:           v.GetString("DB_DSN"),
		RedisAddr:       v.GetString("REDIS_ADDR"),
		RedisPassword:   v.GetString("REDIS_PASSWORD"),
		RedisDB:         v.GetInt("REDIS_DB"),
		ProviderTimeout: v.GetDuration("PROVIDER_TIMEOUT"),
		CacheWindow:     v.GetDuration("CACHE_WINDOW"),
		RefreshHour:     v.GetInt("REFRESH_HOUR"),
		LogLevel:        v.GetString("LOG_LEVEL"),
	}
}
