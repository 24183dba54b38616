// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds application configuration
type Config struct {
	DataDir      string // Base directory for the market database and run artifacts
	MarketDBPath string // Path to market.db (derived from DataDir unless overridden)
	LogLevel     string
	Port         int
	DevMode      bool

	// Simulation defaults for runs triggered without explicit parameters
	// (scheduled runs, CLI runs without flags).
	Samples int
	Threads int
	Seed    int64

	// Cron expression for the scheduled end-of-day valuation run.
	// Empty disables scheduling.
	ValuationSchedule string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	dataDir := getEnv("RISKENGINE_DATA_DIR", "")
	if dataDir == "" {
		dataDir = "./data"
	}
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory to absolute path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	marketDBPath := getEnv("RISKENGINE_MARKET_DB", "")
	if marketDBPath == "" {
		marketDBPath = filepath.Join(absDataDir, "market.db")
	}

	port, err := strconv.Atoi(getEnv("RISKENGINE_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid RISKENGINE_PORT: %w", err)
	}

	samples, err := strconv.Atoi(getEnv("RISKENGINE_SAMPLES", "1000"))
	if err != nil {
		return nil, fmt.Errorf("invalid RISKENGINE_SAMPLES: %w", err)
	}

	threads, err := strconv.Atoi(getEnv("RISKENGINE_THREADS", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid RISKENGINE_THREADS: %w", err)
	}

	seed, err := strconv.ParseInt(getEnv("RISKENGINE_SEED", "42"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid RISKENGINE_SEED: %w", err)
	}
	if seed == 0 {
		// A zero seed produces a path sequence that cannot be reconciled
		// with a classic simulation run, so reject it up front.
		return nil, fmt.Errorf("RISKENGINE_SEED must be non-zero")
	}

	return &Config{
		DataDir:           absDataDir,
		MarketDBPath:      marketDBPath,
		LogLevel:          getEnv("RISKENGINE_LOG_LEVEL", "info"),
		Port:              port,
		DevMode:           getEnv("RISKENGINE_DEV_MODE", "false") == "true",
		Samples:           samples,
		Threads:           threads,
		Seed:              seed,
		ValuationSchedule: getEnv("RISKENGINE_VALUATION_SCHEDULE", ""),
	}, nil
}

// getEnv retrieves an environment variable value, returning a fallback if
// the variable is not set or is empty.
func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
