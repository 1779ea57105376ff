package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
	Redis    Redis    `mapstructure:"redis"`
	Logger   Logger   `mapstructure:"logger"`
	Webhook  Webhook  `mapstructure:"webhook"`
	Bots     Bots     `mapstructure:"bots"`
	Binance  Exchange `mapstructure:"binance"`
	Kraken   Exchange `mapstructure:"kraken"`
}

// Server holds the configuration for the HTTP API server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Redis holds the configuration for the rate-limit window store.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Webhook holds the default admission-control policy for inbound signals.
// A subscription plan with a per-hour limit overrides the default.
type Webhook struct {
	RateLimit     int `mapstructure:"rate_limit"`
	WindowSeconds int `mapstructure:"window_seconds"`
	SecretLength  int `mapstructure:"secret_length"`
}

// Bots holds the configuration for bot run loops and order dispatch.
type Bots struct {
	TickInterval   int `mapstructure:"tick_interval"`
	AdapterTimeout int `mapstructure:"adapter_timeout"`
}

// Exchange holds per-exchange client settings. API credentials are per
// user and live in the database, not here.
type Exchange struct {
	Testnet        bool    `mapstructure:"testnet"`
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config")
	viper.SetConfigType("yml")

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("webhook.rate_limit", 10)     // requests per window
	viper.SetDefault("webhook.window_seconds", 60) // sliding window size
	viper.SetDefault("webhook.secret_length", 32)
	viper.SetDefault("bots.tick_interval", 10)   // seconds
	viper.SetDefault("bots.adapter_timeout", 15) // seconds
	viper.SetDefault("binance.rate_limit", 20)   // requests per second
	viper.SetDefault("binance.rate_limit_burst", 5)
	viper.SetDefault("kraken.rate_limit", 1)
	viper.SetDefault("kraken.rate_limit_burst", 2)

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
