package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the order-flow service.
type Config struct {
	Port string

	// Market
	Symbol           string
	Delimiter        string
	Lookback         time.Duration // live warm-up window replayed from the tick log; 0 replays the whole file
	HistoryFile      string
	HistoryStartID   uint64
	HistoryPageLimit int // pages to download before a replay; 0 disables the download

	// Database
	DBPath string

	// ML scoring service
	EnableML bool
	MLAddr   string

	// Ledger
	InitialBalance float64
	MinBet         float64

	// Exchange
	BinanceTestnet bool
	Live           bool

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics ("" disables the prometheus listener)
	MetricsAddr string

	// Per-asset tuning
	AssetsFile string

	// Export written when a replay completes ("" disables it)
	ExportDir    string
	ExportFormat string
}

// Load reads environment variables (optionally via .env) into Config.
func Load() (*Config, error) {
	// Ignore error so the app still starts when .env is missing.
	_ = godotenv.Load()

	symbol := strings.ToUpper(getEnv("SYMBOL", "BTCUSDT"))
	return &Config{
		Port:             getEnv("PORT", "8080"),
		Symbol:           symbol,
		Delimiter:        getEnv("DELIMITER", "volume:1000"),
		Lookback:         getEnvDuration("LOOKBACK", 0),
		HistoryFile:      getEnv("HISTORY_FILE", "./data/"+strings.ToLower(symbol)+".ticks"),
		HistoryStartID:   getEnvUint("HISTORY_START_ID", 0),
		HistoryPageLimit: getEnvInt("HISTORY_PAGE_LIMIT", 0),
		DBPath:           getEnv("DB_PATH", "./data/orderflow.db"),
		EnableML:         getEnv("ENABLE_ML", "false") == "true",
		MLAddr:           getEnv("ML_ADDR", "localhost:50051"),
		InitialBalance:   getEnvFloat("INITIAL_BALANCE", 1000),
		MinBet:           getEnvFloat("MIN_BET", 10),
		BinanceTestnet:   getEnv("BINANCE_TESTNET", "false") == "true",
		Live:             getEnv("LIVE", "false") == "true",
		LogLevel:         getEnv("LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOG_FORMAT", "json"),
		MetricsAddr:      getEnv("METRICS_ADDR", ":9090"),
		AssetsFile:       getEnv("ASSETS_FILE", ""),
		ExportDir:        getEnv("EXPORT_DIR", ""),
		ExportFormat:     strings.ToLower(getEnv("EXPORT_FORMAT", "json")),
	}, nil
}

// Mode names the run for persistence and status.
func (c *Config) Mode() string {
	if c.Live {
		return "live"
	}
	return "replay"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvUint(key string, def uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			return u
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("90m") or bare milliseconds.
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}
