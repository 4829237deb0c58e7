package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"candlesync/internal/adapters/logger" // Import the logger package for LogLevel
)

// Config holds all application configuration.
type Config struct {
	// Binance API (klines are public; keys are only needed for higher rate limits)
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Ingestion Parameters
	ArchiveBaseURL string        // Base URL of the daily archive host
	LiveCutoffDays int           // Windows starting earlier than now - N days route to the archive
	FetchLimit     int           // Max bars per live API call
	ArchiveWorkers int           // Bounded concurrency for archive day fetches
	HTTPTimeout    time.Duration // Per-request timeout for archive downloads

	// Database
	DBPath string

	// Logging
	LogLevel logger.LogLevel // Use the LogLevel type from the logger adapter
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Binance API
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", false)

	// Ingestion Parameters
	cfg.ArchiveBaseURL = getEnv("ARCHIVE_BASE_URL", "https://data.binance.vision")
	if cfg.ArchiveBaseURL == "" {
		errs = append(errs, "ARCHIVE_BASE_URL must be set")
	}

	cfg.LiveCutoffDays, err = getEnvAsIntRequired("LIVE_CUTOFF_DAYS", 30)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid LIVE_CUTOFF_DAYS: %v", err))
	} else if cfg.LiveCutoffDays <= 0 {
		errs = append(errs, "LIVE_CUTOFF_DAYS must be positive")
	}

	cfg.FetchLimit, err = getEnvAsIntRequired("FETCH_LIMIT", 500)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid FETCH_LIMIT: %v", err))
	} else if cfg.FetchLimit <= 0 || cfg.FetchLimit > 1000 {
		errs = append(errs, "FETCH_LIMIT must be between 1 and 1000")
	}

	cfg.ArchiveWorkers, err = getEnvAsIntRequired("ARCHIVE_WORKERS", 4)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid ARCHIVE_WORKERS: %v", err))
	} else if cfg.ArchiveWorkers <= 0 {
		errs = append(errs, "ARCHIVE_WORKERS must be positive")
	}

	httpTimeoutSeconds := getEnvAsInt("HTTP_TIMEOUT_SECONDS", 60)
	if httpTimeoutSeconds <= 0 {
		errs = append(errs, "HTTP_TIMEOUT_SECONDS must be positive")
	}
	cfg.HTTPTimeout = time.Duration(httpTimeoutSeconds) * time.Second

	// Database
	cfg.DBPath = getEnv("DB_PATH", "./data/candles.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Logging
	logLevelStr := getEnv("LOG_LEVEL", "INFO")
	cfg.LogLevel = logger.ParseLevel(logLevelStr) // Use the parser from the logger package

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// --- Env Var Helpers ---

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Log warning? For non-required fields, default is often acceptable.
		return defaultValue
	}
	return value
}

func getEnvAsIntRequired(key string, defaultValue int) (int, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		// Use default if env var is not set at all
		return defaultValue, nil
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		// Return error if env var is set but invalid
		return 0, fmt.Errorf("invalid integer value '%s' for key %s: %w", valueStr, key, err)
	}
	return value, nil
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
