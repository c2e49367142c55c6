// Package config loads the bridge's closed set of runtime tunables from
// the environment, in the teacher's style: a flat typed struct, a
// single Load(), .env support via godotenv.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/aristath/signals-bridge/internal/signal"
)

// Config holds every runtime tunable of the bridge. The set is closed:
// operators adjust these values, they don't extend the schema.
type Config struct {
	DataDir      string
	Port         int
	LogLevel     string
	DevMode      bool
	DatabasePath string

	MinRRRatio         float64
	WarnRRRatio        float64
	MaxLatency         time.Duration
	WarnLatency        time.Duration
	RiskCeilingByClass map[signal.AssetClass]float64
	PrecisionByClass   map[signal.AssetClass]int
	DuplicateWindow    time.Duration
	DuplicateBandPct   float64

	ProximityCloseRatio float64
	ProximityMidRatio   float64
	PollIntervalClose   time.Duration
	PollIntervalMid     time.Duration
	PollIntervalFar     time.Duration

	WebhookTimeout         time.Duration
	WebhookRetryDelays     []time.Duration
	MaxConsecutiveFailures int
	DeliveryConcurrency    int
	WebhookHMACDefault     string

	PriceCacheTTL        time.Duration
	MonitorCycleInterval time.Duration
	MonitorBatchSize     int

	TwelveDataAPIKey   string
	AlphaVantageAPIKey string
}

// Load reads configuration from the environment, falling back to the
// §4.2/§7 defaults for anything unset. A .env file in the working
// directory is loaded first, if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")

	cfg := &Config{
		DataDir:      dataDir,
		Port:         getEnvAsInt("PORT", 8001),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		DevMode:      getEnvAsBool("DEV_MODE", false),
		DatabasePath: getEnv("DATABASE_PATH", filepath.Join(dataDir, "signals.db")),

		MinRRRatio:  getEnvAsFloat("MIN_RR_RATIO", 0.5),
		WarnRRRatio: getEnvAsFloat("WARN_RR_RATIO", 1.0),
		MaxLatency:  getEnvAsSeconds("MAX_LATENCY_SECONDS", 300),
		WarnLatency: getEnvAsSeconds("WARN_LATENCY_SECONDS", 120),
		RiskCeilingByClass: map[signal.AssetClass]float64{
			signal.Futures: 0.03,
			signal.Forex:   0.02,
			signal.Crypto:  0.15,
			signal.Stocks:  0.05,
			signal.Other:   0.10,
		},
		PrecisionByClass: map[signal.AssetClass]int{
			signal.Futures: 2,
			signal.Forex:   5,
			signal.Crypto:  8,
			signal.Stocks:  2,
		},
		DuplicateWindow:  getEnvAsSeconds("DUPLICATE_WINDOW_SECONDS", 3600),
		DuplicateBandPct: getEnvAsFloat("DUPLICATE_BAND_PCT", 0.001),

		ProximityCloseRatio: getEnvAsFloat("PROXIMITY_CLOSE_RATIO", 0.10),
		ProximityMidRatio:   getEnvAsFloat("PROXIMITY_MID_RATIO", 0.30),
		PollIntervalClose:   getEnvAsSeconds("POLL_INTERVAL_CLOSE_SECONDS", 5),
		PollIntervalMid:     getEnvAsSeconds("POLL_INTERVAL_MID_SECONDS", 15),
		PollIntervalFar:     getEnvAsSeconds("POLL_INTERVAL_FAR_SECONDS", 60),

		WebhookTimeout:         getEnvAsSeconds("WEBHOOK_TIMEOUT_SECONDS", 10),
		WebhookRetryDelays:     []time.Duration{0, time.Second, 5 * time.Second, 30 * time.Second},
		MaxConsecutiveFailures: getEnvAsInt("MAX_CONSECUTIVE_FAILURES", 10),
		DeliveryConcurrency:    getEnvAsInt("DELIVERY_CONCURRENCY", 10),
		WebhookHMACDefault:     getEnv("WEBHOOK_HMAC_DEFAULT", ""),

		PriceCacheTTL:        getEnvAsSeconds("PRICE_CACHE_TTL_SECONDS", 10),
		MonitorCycleInterval: getEnvAsSeconds("MONITOR_CYCLE_INTERVAL_SECONDS", 3),
		MonitorBatchSize:     getEnvAsInt("MONITOR_BATCH_SIZE", 200),

		TwelveDataAPIKey:   getEnv("TWELVEDATA_API_KEY", ""),
		AlphaVantageAPIKey: getEnv("ALPHAVANTAGE_API_KEY", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks internal consistency of the loaded configuration.
func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	if c.ProximityCloseRatio >= c.ProximityMidRatio {
		return fmt.Errorf("PROXIMITY_CLOSE_RATIO (%v) must be less than PROXIMITY_MID_RATIO (%v)", c.ProximityCloseRatio, c.ProximityMidRatio)
	}
	return nil
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

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
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

func getEnvAsSeconds(key string, defaultSeconds int) time.Duration {
	return time.Duration(getEnvAsInt(key, defaultSeconds)) * time.Second
}
