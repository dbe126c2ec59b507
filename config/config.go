package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"riskGate/internal/adapters/logger" // Import the logger package for LogLevel
)

// VenueKind selects the execution venue adapter.
type VenueKind string

const (
	VenueNone    VenueKind = "none" // Pure in-memory mode
	VenueSim     VenueKind = "sim"
	VenueBinance VenueKind = "binance"
)

// Config holds all application configuration.
type Config struct {
	// Capital & Risk Limits (ratios are fractions of total capital)
	TotalCapital          float64
	MaxTotalPositionRatio float64
	MaxSingleStockRatio   float64
	MaxSectorRatio        float64
	MaxOrderToVolumeRatio float64
	DailyLossLimitRatio   float64
	StopLossRatio         float64
	TakeProfitRatio       float64

	// Market Policy
	RoundLotSize int
	// SectorMap maps symbol prefixes to sector names, e.g. "60=Shanghai,00=Shenzhen".
	SectorMap map[string]string

	// Automation
	AutoProtect   bool
	SweepInterval time.Duration

	// Venue
	Venue     VenueKind
	APIKey    string
	SecretKey string
	IsTestnet bool

	// Audit Database
	DBPath string

	// Retention
	OrderRetention time.Duration
	AlertRetention time.Duration

	// Logging
	LogLevel  logger.LogLevel
	LogFormat string // "text" or "json"

	// Metrics
	MetricsAddr string // Empty disables the metrics endpoint
}

// LoadConfig loads configuration from environment variables (.env file).
func LoadConfig() (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := &Config{}
	var err error
	var errs []string // Collect validation errors

	// Capital & Risk Limits
	cfg.TotalCapital, err = getEnvAsFloatRequired("TOTAL_CAPITAL", 1_000_000.0)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid TOTAL_CAPITAL: %v", err))
	} else if cfg.TotalCapital <= 0 {
		errs = append(errs, "TOTAL_CAPITAL must be positive")
	}

	ratios := []struct {
		key  string
		def  float64
		dest *float64
	}{
		{"MAX_TOTAL_POSITION_RATIO", 0.80, &cfg.MaxTotalPositionRatio},
		{"MAX_SINGLE_STOCK_RATIO", 0.10, &cfg.MaxSingleStockRatio},
		{"MAX_SECTOR_RATIO", 0.30, &cfg.MaxSectorRatio},
		{"MAX_ORDER_TO_VOLUME_RATIO", 0.05, &cfg.MaxOrderToVolumeRatio},
		{"DAILY_LOSS_LIMIT_RATIO", 0.05, &cfg.DailyLossLimitRatio},
		{"STOP_LOSS_RATIO", 0.08, &cfg.StopLossRatio},
		{"TAKE_PROFIT_RATIO", 0.15, &cfg.TakeProfitRatio},
	}
	for _, r := range ratios {
		*r.dest, err = getEnvAsFloatRequired(r.key, r.def)
		if err != nil {
			errs = append(errs, fmt.Sprintf("invalid %s: %v", r.key, err))
		} else if *r.dest <= 0 || *r.dest >= 1.0 {
			errs = append(errs, fmt.Sprintf("%s must be between 0.0 and 1.0 (exclusive)", r.key))
		}
	}

	// Market Policy
	cfg.RoundLotSize, err = getEnvAsIntRequired("ROUND_LOT_SIZE", 100)
	if err != nil {
		errs = append(errs, fmt.Sprintf("invalid ROUND_LOT_SIZE: %v", err))
	} else if cfg.RoundLotSize <= 0 {
		errs = append(errs, "ROUND_LOT_SIZE must be positive")
	}
	cfg.SectorMap = parseSectorMap(getEnv("SECTOR_MAP", ""))

	// Automation
	cfg.AutoProtect = getEnvAsBool("AUTO_PROTECT", true)
	sweepSeconds := getEnvAsInt("SWEEP_INTERVAL_SECONDS", 5)
	if sweepSeconds <= 0 {
		errs = append(errs, "SWEEP_INTERVAL_SECONDS must be positive")
	}
	cfg.SweepInterval = time.Duration(sweepSeconds) * time.Second

	// Venue
	cfg.Venue = VenueKind(strings.ToLower(getEnv("VENUE", string(VenueSim))))
	switch cfg.Venue {
	case VenueNone, VenueSim, VenueBinance:
	default:
		errs = append(errs, fmt.Sprintf("invalid VENUE %q (want none, sim or binance)", cfg.Venue))
	}
	cfg.APIKey = getEnv("BINANCE_API_KEY", "")
	cfg.SecretKey = getEnv("BINANCE_API_SECRET", "")
	cfg.IsTestnet = getEnvAsBool("IS_TESTNET", true) // Default to testnet for safety
	if cfg.Venue == VenueBinance {
		if cfg.APIKey == "" {
			errs = append(errs, "BINANCE_API_KEY must be set for the binance venue")
		}
		if cfg.SecretKey == "" {
			errs = append(errs, "BINANCE_API_SECRET must be set for the binance venue")
		}
	}

	// Audit Database
	cfg.DBPath = getEnv("DB_PATH", "./data/audit.db")
	if cfg.DBPath == "" {
		errs = append(errs, "DB_PATH must be set")
	}

	// Retention
	orderRetentionHours := getEnvAsInt("ORDER_RETENTION_HOURS", 24)
	if orderRetentionHours <= 0 {
		errs = append(errs, "ORDER_RETENTION_HOURS must be positive")
	}
	cfg.OrderRetention = time.Duration(orderRetentionHours) * time.Hour

	alertRetentionHours := getEnvAsInt("ALERT_RETENTION_HOURS", 72)
	if alertRetentionHours <= 0 {
		errs = append(errs, "ALERT_RETENTION_HOURS must be positive")
	}
	cfg.AlertRetention = time.Duration(alertRetentionHours) * time.Hour

	// Logging
	cfg.LogLevel = logger.ParseLevel(getEnv("LOG_LEVEL", "INFO"))
	cfg.LogFormat = strings.ToLower(getEnv("LOG_FORMAT", "text"))
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		errs = append(errs, fmt.Sprintf("invalid LOG_FORMAT %q (want text or json)", cfg.LogFormat))
	}

	// Metrics
	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9091")

	// Combine validation errors
	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}

	return cfg, nil
}

// SectorResolver returns a resolver mapping symbols to sectors by the
// longest matching configured prefix. Unmatched symbols resolve to "".
func (c *Config) SectorResolver() func(symbol string) string {
	prefixes := c.SectorMap
	return func(symbol string) string {
		best, bestLen := "", 0
		for prefix, sector := range prefixes {
			if strings.HasPrefix(symbol, prefix) && len(prefix) > bestLen {
				best, bestLen = sector, len(prefix)
			}
		}
		return best
	}
}

// parseSectorMap parses "PREFIX=Sector,PREFIX=Sector" pairs.
func parseSectorMap(raw string) map[string]string {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 || kv[0] == "" || kv[1] == "" {
			continue
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out
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

func getEnvAsFloatRequired(key string, defaultValue float64) (float64, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid float value '%s' for key %s: %w", valueStr, key, err)
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
