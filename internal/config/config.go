package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	ServerPort string
	ServerHost string

	// Coordinator configuration
	StoreURL         string
	PollInterval     time.Duration
	PollTimeout      time.Duration
	AutoSaveInterval time.Duration
	LockTTL          time.Duration

	// Observability
	JaegerEndpoint string
}

func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "doc_collab"),
		DBSSLMode:  getEnv("DB_SSLMODE", "disable"),

		ServerPort: getEnv("SERVER_PORT", "8080"),
		ServerHost: getEnv("SERVER_HOST", "localhost"),

		StoreURL:         getEnv("STORE_URL", "http://localhost:8080"),
		PollInterval:     getEnvMillis("POLL_INTERVAL_MS", 5000),
		PollTimeout:      getEnvMillis("POLL_TIMEOUT_MS", 5000),
		AutoSaveInterval: getEnvMillis("AUTOSAVE_INTERVAL_MS", 30000),
		LockTTL:          time.Duration(getEnvInt("LOCK_TTL_MINUTES", 60)) * time.Minute,

		JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
	}

	if cfg.PollInterval <= 0 || cfg.PollTimeout <= 0 {
		return nil, fmt.Errorf("poll interval and timeout must be positive")
	}

	return cfg, nil
}

func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Millisecond
}
