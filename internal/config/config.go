// Package config loads the coordination backbone's process-wide settings
// once at startup from the environment.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/guildforge/backbone/pkg/errs"
)

// Config holds every setting the host process reads once at startup.
// Nothing in this module re-reads the environment after Load returns.
type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	DBPoolSize         int
	DBQueryTimeout     time.Duration
	DBBreakerThreshold int
	DBBreakerTimeout   time.Duration

	TranslationPath     string
	TranslationMaxBytes int64

	LLMAPIKey string

	Timezone string

	AdminBindAddr    string
	AdminBearerToken string

	NATSURL string

	InfluxURL    string
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string
}

// Load reads configuration from the environment. Missing required fields
// fail fast with a KindConfig error so the host aborts startup.
func Load() (*Config, error) {
	cfg := &Config{
		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", ""),

		DBPoolSize:         getEnvInt("DB_POOL_SIZE", 10),
		DBQueryTimeout:     getEnvDuration("DB_QUERY_TIMEOUT", 5*time.Second),
		DBBreakerThreshold: getEnvInt("DB_BREAKER_THRESHOLD", 5),
		DBBreakerTimeout:   getEnvDuration("DB_BREAKER_TIMEOUT", 30*time.Second),

		TranslationPath:     getEnv("TRANSLATION_PATH", ""),
		TranslationMaxBytes: getEnvInt64("TRANSLATION_MAX_BYTES", 2<<20),

		LLMAPIKey: getEnv("LLM_API_KEY", ""),

		Timezone: getEnv("TIMEZONE", "Europe/Paris"),

		AdminBindAddr:    getEnv("ADMIN_BIND_ADDR", ":8089"),
		AdminBearerToken: getEnv("ADMIN_BEARER_TOKEN", ""),

		NATSURL: getEnv("NATS_URL", "nats://localhost:4222"),

		InfluxURL:    getEnv("INFLUX_URL", ""),
		InfluxToken:  getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:    getEnv("INFLUX_ORG", ""),
		InfluxBucket: getEnv("INFLUX_BUCKET", "backbone"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DBHost == "" {
		return errs.New(errs.KindConfig, "DB_HOST is required")
	}
	if c.DBName == "" {
		return errs.New(errs.KindConfig, "DB_NAME is required")
	}
	if c.TranslationPath == "" {
		return errs.New(errs.KindConfig, "TRANSLATION_PATH is required")
	}
	if c.DBPoolSize <= 0 {
		return errs.New(errs.KindConfig, "DB_POOL_SIZE must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
