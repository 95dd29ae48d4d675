// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds application configuration. Engine tunables (fee rate,
// surveillance thresholds, tax rate) are deployment configuration, not
// regulations: regulators manage the named regulation store at runtime.
type Config struct {
	DataDir  string
	Port     int
	LogLevel string
	DevMode  bool

	// FeeRate is the per-side transaction fee rate applied at settlement.
	FeeRate decimal.Decimal
	// ProfitTaxRate is applied when profit is capitalized or withdrawn.
	ProfitTaxRate decimal.Decimal

	// Surveillance thresholds.
	VolumeRatio    decimal.Decimal
	PriceDeviation decimal.Decimal
	FreqThreshold  int
	FreqWindowMin  int

	// DividendEligibleMinDays gates the dividend_eligible flag on the
	// FIFO holdings projection.
	DividendEligibleMinDays int

	// SubmitDeadlineSeconds bounds how long a submission may wait on the
	// per-stock lock before failing with ResourceBusy.
	SubmitDeadlineSeconds int

	// TraderSeedBalance is the cash balance granted to newly provisioned traders.
	TraderSeedBalance decimal.Decimal
}

// Load reads configuration from environment variables (.env supported).
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("EXCHANGE_DATA_DIR", "./data")
	absDataDir, err := filepath.Abs(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory path: %w", err)
	}
	if err := os.MkdirAll(absDataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	cfg := &Config{
		DataDir:                 absDataDir,
		Port:                    getEnvAsInt("EXCHANGE_PORT", 8001),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		DevMode:                 getEnvAsBool("DEV_MODE", false),
		FeeRate:                 getEnvAsDecimal("FEE_RATE", "0.01"),
		ProfitTaxRate:           getEnvAsDecimal("PROFIT_TAX_RATE", "0.15"),
		VolumeRatio:             getEnvAsDecimal("SURVEILLANCE_VOLUME_RATIO", "0.10"),
		PriceDeviation:          getEnvAsDecimal("SURVEILLANCE_PRICE_DEVIATION", "0.20"),
		FreqThreshold:           getEnvAsInt("SURVEILLANCE_FREQ_THRESHOLD", 2),
		FreqWindowMin:           getEnvAsInt("SURVEILLANCE_FREQ_WINDOW_MIN", 10),
		DividendEligibleMinDays: getEnvAsInt("DIVIDEND_ELIGIBLE_MIN_DAYS", 180),
		SubmitDeadlineSeconds:   getEnvAsInt("SUBMIT_DEADLINE_SECONDS", 5),
		TraderSeedBalance:       getEnvAsDecimal("TRADER_SEED_BALANCE", "20000.00"),
	}

	if cfg.FeeRate.IsNegative() {
		return nil, fmt.Errorf("FEE_RATE must not be negative")
	}
	if cfg.ProfitTaxRate.IsNegative() || cfg.ProfitTaxRate.GreaterThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("PROFIT_TAX_RATE must be within [0, 1]")
	}

	return cfg, nil
}

// DatabasePath returns the path of the exchange database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "exchange.db")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDecimal(key, fallback string) decimal.Decimal {
	if value := os.Getenv(key); value != "" {
		if parsed, err := decimal.NewFromString(value); err == nil {
			return parsed
		}
	}
	return decimal.RequireFromString(fallback)
}
