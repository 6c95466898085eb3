// Package config loads runtime configuration from environment variables.
//
// The surface is deliberately small: a DATABASE_URL pointing at PostgreSQL
// for cluster deployments, or (default) a local SQLite file at DB_PATH.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	// DatabaseURL selects the PostgreSQL backend when set to a
	// postgres:// URL. Empty means local SQLite at DBPath.
	DatabaseURL string
	DBPath      string

	Host     string
	Port     int
	LogLevel string

	// MetricsPort serves /metrics and /healthz separately from the API.
	MetricsPort int

	// BinanceBaseURL overrides the venue endpoint (testnets, mocks).
	// Empty means the production spot API.
	BinanceBaseURL string

	TelegramBotToken string
	TelegramChatID   string
	WebhookURL       string
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("DB_PATH", "data/trading_tools.db")
	v.SetDefault("HOST", "0.0.0.0")
	v.SetDefault("PORT", 8000)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("METRICS_PORT", 9100)

	return &Config{
		DatabaseURL:      v.GetString("DATABASE_URL"),
		DBPath:           v.GetString("DB_PATH"),
		Host:             v.GetString("HOST"),
		Port:             v.GetInt("PORT"),
		LogLevel:         v.GetString("LOG_LEVEL"),
		MetricsPort:      v.GetInt("METRICS_PORT"),
		BinanceBaseURL:   v.GetString("BINANCE_BASE_URL"),
		TelegramBotToken: v.GetString("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   v.GetString("TELEGRAM_CHAT_ID"),
		WebhookURL:       v.GetString("WEBHOOK_URL"),
	}
}

// IsPostgres reports whether DATABASE_URL points at a PostgreSQL server.
func (c *Config) IsPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") ||
		strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// ListenAddr returns the host:port the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MetricsAddr returns the host:port the metrics server binds to.
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.MetricsPort)
}
