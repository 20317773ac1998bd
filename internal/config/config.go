package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mukhametgalin/predict-trading-system/execution-engine/internal/strategies"
)

type Config struct {
	HTTPAddr string
	LogLevel string

	StoreDriver string
	PostgresURL string
	SQLitePath  string

	RedisHost string
	RedisPort int

	MarketDataURL  string
	MarketCacheTTL time.Duration

	VenueURL       string
	VenueAPIKey    string
	VenueRateLimit float64

	DryRun        bool
	PaperBalance  float64
	PaperFeeRate  float64
	PaperSlippage float64

	PollInterval time.Duration
	StrategyFile string
}

// Load reads the environment, after priming it from a .env file when one
// exists. Variables already set win over the file.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:       getEnv("HTTP_ADDR", ":8080"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		StoreDriver:    getEnv("STORE_DRIVER", "sqlite"),
		PostgresURL:    getEnv("POSTGRES_URL", buildPostgresURL()),
		SQLitePath:     getEnv("SQLITE_PATH", "execution.db"),
		RedisHost:      getEnv("REDIS_HOST", ""),
		RedisPort:      getEnvInt("REDIS_PORT", 6379),
		MarketDataURL:  getEnv("MARKET_DATA_URL", "https://api.binance.com"),
		MarketCacheTTL: getEnvDuration("MARKET_CACHE_TTL", 30*time.Second),
		VenueURL:       getEnv("VENUE_URL", ""),
		VenueAPIKey:    getEnv("VENUE_API_KEY", ""),
		VenueRateLimit: getEnvFloat("VENUE_RATE_LIMIT", 10),
		DryRun:         getEnvBool("DRY_RUN", true),
		PaperBalance:   getEnvFloat("PAPER_BALANCE", 10000),
		PaperFeeRate:   getEnvFloat("PAPER_FEE_RATE", 0.001),
		PaperSlippage:  getEnvFloat("PAPER_SLIPPAGE", 0.0005),
		PollInterval:   getEnvDuration("POLL_INTERVAL", time.Minute),
		StrategyFile:   getEnv("STRATEGY_FILE", ""),
	}
}

func buildPostgresURL() string {
	host := getEnv("POSTGRES_HOST", "postgres")
	db := getEnv("POSTGRES_DB", "trading_system")
	user := getEnv("POSTGRES_USER", "trading")
	pass := getEnv("POSTGRES_PASSWORD", "changeme123")

	return fmt.Sprintf("postgres://%s:%s@%s:5432/%s?sslmode=disable", user, pass, host, db)
}

type strategyFile struct {
	Strategies []yaml.Node `yaml:"strategies"`
}

// LoadStrategies reads strategy definitions from a YAML file of the form
//
//	strategies:
//	  - id: grid
//	    symbol: BTC-USDT
//	    params: {upper_price: 110, lower_price: 90}
//
// Fields left out keep their defaults.
func LoadStrategies(path string) ([]strategies.Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy file: %w", err)
	}
	return ParseStrategies(raw)
}

func ParseStrategies(raw []byte) ([]strategies.Spec, error) {
	var doc strategyFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse strategy file: %w", err)
	}

	specs := make([]strategies.Spec, 0, len(doc.Strategies))
	for i := range doc.Strategies {
		node := &doc.Strategies[i]

		var head struct {
			ID string `yaml:"id"`
		}
		if err := node.Decode(&head); err != nil {
			return nil, fmt.Errorf("strategy %d: %w", i, err)
		}
		if head.ID == "" {
			return nil, fmt.Errorf("strategy %d: missing id", i)
		}

		spec := strategies.NewSpec(head.ID)
		if err := node.Decode(&spec); err != nil {
			return nil, fmt.Errorf("strategy %d (%s): %w", i, head.ID, err)
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
