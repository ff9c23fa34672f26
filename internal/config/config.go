// Package config loads engine configuration from file and environment.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Trading   TradingConfig   `mapstructure:"trading"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Exposure  ExposureConfig  `mapstructure:"exposure"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// DatabaseConfig holds PostgreSQL settings. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// RedisConfig holds Redis settings. An empty URL disables the cache and
// the distributed rate limiter.
type RedisConfig struct {
	URL      string        `mapstructure:"url"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// TradingConfig holds trade-execution bounds.
type TradingConfig struct {
	StartingBalance   float64       `mapstructure:"starting_balance"`
	MaxSharesPerTrade int64         `mapstructure:"max_shares_per_trade"`
	PriceTolerance    float64       `mapstructure:"price_tolerance"`
	MaxGrant          float64       `mapstructure:"max_grant"`
	TxRetries         int           `mapstructure:"tx_retries"`
	TxRetryBackoff    time.Duration `mapstructure:"tx_retry_backoff"`
}

// RateLimitConfig holds the per-operation sliding windows.
type RateLimitConfig struct {
	TradeLimit int           `mapstructure:"trade_limit"`
	GrantLimit int           `mapstructure:"grant_limit"`
	Window     time.Duration `mapstructure:"window"`
}

// ExposureConfig holds the position limits.
type ExposureConfig struct {
	MaxPerMarket float64 `mapstructure:"max_per_market"`
	MaxTotal     float64 `mapstructure:"max_total"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from an optional file and environment
// variables (PREDEX_ prefix). An empty path loads defaults + env only.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("PREDEX")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.request_timeout", "30s")

	v.SetDefault("database.url", "")
	v.SetDefault("redis.url", "")
	v.SetDefault("redis.cache_ttl", "30s")

	v.SetDefault("trading.starting_balance", 1000.0)
	v.SetDefault("trading.max_shares_per_trade", 1000)
	v.SetDefault("trading.price_tolerance", 0.01)
	v.SetDefault("trading.max_grant", 10000.0)
	v.SetDefault("trading.tx_retries", 3)
	v.SetDefault("trading.tx_retry_backoff", "10ms")

	v.SetDefault("rate_limit.trade_limit", 30)
	v.SetDefault("rate_limit.grant_limit", 10)
	v.SetDefault("rate_limit.window", "60s")

	v.SetDefault("exposure.max_per_market", 10000.0)
	v.SetDefault("exposure.max_total", 50000.0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are usable.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server.port is required")
	}
	if c.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be positive")
	}

	if c.Trading.StartingBalance < 0 {
		return fmt.Errorf("trading.starting_balance must not be negative")
	}
	if c.Trading.MaxSharesPerTrade < 1 {
		return fmt.Errorf("trading.max_shares_per_trade must be at least 1")
	}
	if c.Trading.PriceTolerance < 0 || c.Trading.PriceTolerance > 1 {
		return fmt.Errorf("trading.price_tolerance must be within [0, 1]")
	}
	if c.Trading.MaxGrant <= 0 {
		return fmt.Errorf("trading.max_grant must be positive")
	}
	if c.Trading.TxRetries < 0 {
		return fmt.Errorf("trading.tx_retries must not be negative")
	}

	if c.RateLimit.TradeLimit < 1 {
		return fmt.Errorf("rate_limit.trade_limit must be at least 1")
	}
	if c.RateLimit.GrantLimit < 1 {
		return fmt.Errorf("rate_limit.grant_limit must be at least 1")
	}
	if c.RateLimit.Window < time.Second {
		return fmt.Errorf("rate_limit.window must be at least 1 second")
	}

	if c.Exposure.MaxPerMarket <= 0 {
		return fmt.Errorf("exposure.max_per_market must be positive")
	}
	if c.Exposure.MaxTotal < c.Exposure.MaxPerMarket {
		return fmt.Errorf("exposure.max_total must be at least exposure.max_per_market")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
