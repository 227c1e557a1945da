// Package config loads application settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application settings
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Profiling     ProfilingConfig
	Observability ObservabilityConfig
	Processing    ProcessingConfig
	Rates         RatesConfig
	Duplicate     DuplicateConfig
	LogLevel      slog.Level
}

type ServerConfig struct {
	Host               string
	Port               int
	RateLimitPerSecond int
	RateLimitBurst     int
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s", d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode)
}

type ProfilingConfig struct {
	Enabled bool
	Port    int
}

type ObservabilityConfig struct {
	MetricsEnabled bool
}

// ProcessingConfig sizes the worker pool and the stale sweep.
type ProcessingConfig struct {
	Workers       int
	QueueSize     int
	StaleAfter    time.Duration
	SweepInterval time.Duration
}

// RatesConfig configures the exchange-rate sources. An empty APIURL
// disables the HTTP source.
type RatesConfig struct {
	APIURL            string
	APIKey            string
	LookupTimeout     time.Duration
	CacheTTL          time.Duration
	RequestsPerSecond float64
}

type DuplicateConfig struct {
	Tolerance float64
}

// Load reads the configuration from the environment. Callers load .env first.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:               getEnv("SERVER_HOST", "0.0.0.0"),
			Port:               getEnvAsInt("SERVER_PORT", 8080),
			RateLimitPerSecond: getEnvAsInt("RATE_LIMIT_PER_SECOND", 20),
			RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 40),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			Name:     getEnv("DB_NAME", "ledger"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Profiling: ProfilingConfig{
			Enabled: getEnvAsBool("PROFILING_ENABLED", false),
			Port:    getEnvAsInt("PROFILING_PORT", 6060),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
		Processing: ProcessingConfig{
			Workers:       getEnvAsInt("PROCESSING_WORKERS", 4),
			QueueSize:     getEnvAsInt("PROCESSING_QUEUE_SIZE", 64),
			StaleAfter:    getEnvAsDuration("PROCESSING_STALE_AFTER", 15*time.Minute),
			SweepInterval: getEnvAsDuration("PROCESSING_SWEEP_INTERVAL", time.Minute),
		},
		Rates: RatesConfig{
			APIURL:            getEnv("RATES_API_URL", ""),
			APIKey:            getEnv("RATES_API_KEY", ""),
			LookupTimeout:     getEnvAsDuration("RATES_LOOKUP_TIMEOUT", 5*time.Second),
			CacheTTL:          getEnvAsDuration("RATES_CACHE_TTL", 6*time.Hour),
			RequestsPerSecond: getEnvAsFloat("RATES_REQUESTS_PER_SECOND", 5),
		},
		Duplicate: DuplicateConfig{
			Tolerance: getEnvAsFloat("DUPLICATE_TOLERANCE", 0.01),
		},
		LogLevel: parseLevel(getEnv("LOG_LEVEL", "info")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid SERVER_PORT %d", c.Server.Port)
	}
	if c.Processing.Workers < 1 {
		return fmt.Errorf("PROCESSING_WORKERS must be at least 1, got %d", c.Processing.Workers)
	}
	if c.Processing.QueueSize < 0 {
		return fmt.Errorf("PROCESSING_QUEUE_SIZE must not be negative, got %d", c.Processing.QueueSize)
	}
	if c.Duplicate.Tolerance <= 0 || c.Duplicate.Tolerance >= 1 {
		return fmt.Errorf("DUPLICATE_TOLERANCE must be in (0, 1), got %v", c.Duplicate.Tolerance)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	if valueStr != "" {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", valueStr, "default", defaultValue)
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	if valueStr != "" {
		slog.Warn("invalid number in environment, using default", "key", key, "value", valueStr, "default", defaultValue)
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	if valueStr != "" {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", valueStr, "default", defaultValue)
	}
	return defaultValue
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
