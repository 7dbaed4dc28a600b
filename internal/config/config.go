// Package config loads application configuration from environment
// variables, with local overrides from a .env file via godotenv.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds every runtime option recognized by the service (spec.md
// §6.5 plus the ambient options SPEC_FULL.md adds on top of it).
type Config struct {
	Port     int
	LogLevel string
	Pretty   bool

	DatabasePath string

	EnrichmentWorkerConcurrency int
	CompetitorWorkerConcurrency int
	AnalyticsWorkerConcurrency  int

	EnableAutoAnalytics bool
	HolidaysEnabled     bool

	MaxRequestsPerMinute int

	JobTimeout    time.Duration
	ShutdownGrace time.Duration

	RateLimitBackend string // "memory" | "redis"
	RedisURL         string

	FrontendURL string

	S3Bucket    string
	S3Endpoint  string
	S3AccessKey string
	S3SecretKey string

	SessionJWTSecret string

	FetcherTimeout time.Duration
}

// Load reads configuration from the environment, applying the defaults
// spec.md §6.5 names. A .env file in the working directory is loaded
// first if present; missing .env is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:     getEnvAsInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Pretty:   getEnvAsBool("LOG_PRETTY", false),

		DatabasePath: getEnv("DATABASE_PATH", "./data/pricing.db"),

		EnrichmentWorkerConcurrency: getEnvAsInt("ENRICHMENT_WORKER_CONCURRENCY", 3),
		CompetitorWorkerConcurrency: getEnvAsInt("COMPETITOR_WORKER_CONCURRENCY", 2),
		AnalyticsWorkerConcurrency:  getEnvAsInt("ANALYTICS_WORKER_CONCURRENCY", 2),

		EnableAutoAnalytics: getEnv("ENABLE_AUTO_ANALYTICS", "true") != "false",
		HolidaysEnabled:     getEnv("HOLIDAYS_ENABLED", "true") != "false",

		MaxRequestsPerMinute: getEnvAsInt("MAX_REQUESTS_PER_MINUTE", 60),

		JobTimeout:    getEnvAsDuration("JOB_TIMEOUT", 10*time.Minute),
		ShutdownGrace: getEnvAsDuration("SHUTDOWN_GRACE", 30*time.Second),

		RateLimitBackend: getEnv("RATE_LIMIT_BACKEND", "memory"),
		RedisURL:         getEnv("REDIS_URL", ""),

		FrontendURL: getEnv("FRONTEND_URL", "*"),

		S3Bucket:    getEnv("S3_BUCKET", ""),
		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3AccessKey: getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey: getEnv("S3_SECRET_KEY", ""),

		SessionJWTSecret: getEnv("SESSION_JWT_SECRET", ""),

		FetcherTimeout: getEnvAsDuration("FETCHER_TIMEOUT", 15*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as confusing
// runtime failures much later.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d", c.Port)
	}
	if c.RateLimitBackend != "memory" && c.RateLimitBackend != "redis" {
		return fmt.Errorf("invalid RATE_LIMIT_BACKEND: %q", c.RateLimitBackend)
	}
	if c.RateLimitBackend == "redis" && c.RedisURL == "" {
		return fmt.Errorf("RATE_LIMIT_BACKEND=redis requires REDIS_URL")
	}
	return nil
}

// S3Enabled reports whether enough S3 configuration is present to wire
// the optional durable cache/backup export.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
