// Package config provides configuration management for the AlpacaLotto backend.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Chain     ChainConfig
	Cache     CacheConfig
	Optimizer OptimizerConfig
	Session   SessionConfig
	Watcher   WatcherConfig
	Budget    BudgetConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port string
	Host string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	MaxConnections int
}

// ClickHouseConfig holds ClickHouse configuration
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ChainConfig holds lottery contract and RPC provider configuration
type ChainConfig struct {
	RPCEndpoints    []string      // Ordered provider list; failover walks it front to back
	ContractAddress string        // Lottery contract address
	ChainID         int64         // EIP-155 chain id
	CallTimeout     time.Duration // Per contract call
}

// CacheConfig holds cache configuration
type CacheConfig struct {
	TTL        time.Duration // Lottery reads
	TicketsTTL time.Duration // Per-address ticket reads
	PriceTTL   time.Duration // In-memory price entries
}

// OptimizerConfig holds token optimizer configuration
type OptimizerConfig struct {
	ReferenceGasUSD string // Default gas estimate in USD when a token carries none
	PriceAPIURL     string
	PriceAPIKey     string
	GasOracleURL    string
	GasOracleAPIKey string
}

// SessionConfig holds session key configuration
type SessionConfig struct {
	MaxDuration   time.Duration // Longest session a client may request
	WarningWindow time.Duration // Default expiring-soon window
	SweepSchedule string        // Cron expression for the expiry sweeper
}

// WatcherConfig holds draw watcher configuration
type WatcherConfig struct {
	PollInterval time.Duration
	Enabled      bool
}

// BudgetConfig holds upstream RPC call budget configuration
type BudgetConfig struct {
	DailyCallLimit int  // Calls per provider per day; 0 disables budgeting
	Enabled        bool
}

// RateLimitConfig holds per-client API rate limiting configuration
type RateLimitConfig struct {
	RequestsPerSecond     float64 // Free tier
	PaidRequestsPerSecond float64 // Paid tier (X-User-Tier granted upstream)
	Burst                 int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// Load .env file (optional in production)
	if err := godotenv.Load(); err != nil {
		// .env file is optional - environment variables can be set directly
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "alpaca_lotto"),
				User:           getEnv("POSTGRES_USER", "lotto"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 100),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "alpaca_lotto"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Chain: ChainConfig{
			RPCEndpoints:    getEnvAsSlice("CHAIN_RPC_ENDPOINTS", []string{"http://localhost:8545"}),
			ContractAddress: getEnv("LOTTERY_CONTRACT_ADDRESS", ""),
			ChainID:         int64(getEnvAsInt("CHAIN_ID", 1)),
			CallTimeout:     getEnvAsDuration("CHAIN_CALL_TIMEOUT", 10*time.Second),
		},
		Cache: CacheConfig{
			TTL:        getEnvAsDuration("CACHE_TTL", 20*time.Second),
			TicketsTTL: getEnvAsDuration("CACHE_TICKETS_TTL", 30*time.Second),
			PriceTTL:   getEnvAsDuration("CACHE_PRICE_TTL", 60*time.Second),
		},
		Optimizer: OptimizerConfig{
			ReferenceGasUSD: getEnv("OPTIMIZER_REFERENCE_GAS_USD", "0.50"),
			PriceAPIURL:     getEnv("PRICE_API_URL", ""),
			PriceAPIKey:     getEnv("PRICE_API_KEY", ""),
			GasOracleURL:    getEnv("GAS_ORACLE_URL", ""),
			GasOracleAPIKey: getEnv("GAS_ORACLE_API_KEY", ""),
		},
		Session: SessionConfig{
			MaxDuration:   getEnvAsDuration("SESSION_MAX_DURATION", 24*time.Hour),
			WarningWindow: getEnvAsDuration("SESSION_WARNING_WINDOW", 5*time.Minute),
			SweepSchedule: getEnv("SESSION_SWEEP_SCHEDULE", "*/5 * * * *"),
		},
		Watcher: WatcherConfig{
			PollInterval: getEnvAsDuration("WATCHER_POLL_INTERVAL", 15*time.Second),
			Enabled:      getEnvAsBool("WATCHER_ENABLED", true),
		},
		Budget: BudgetConfig{
			DailyCallLimit: getEnvAsInt("BUDGET_DAILY_CALL_LIMIT", 100000),
			Enabled:        getEnvAsBool("BUDGET_ENABLED", true),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond:     getEnvAsFloat("RATE_LIMIT_RPS", 50),
			PaidRequestsPerSecond: getEnvAsFloat("RATE_LIMIT_PAID_RPS", 200),
			Burst:                 getEnvAsInt("RATE_LIMIT_BURST", 100),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat gets an environment variable as a float with a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice gets a comma-separated environment variable as a string slice
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	parts := strings.Split(valueStr, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	if len(values) == 0 {
		return defaultValue
	}
	return values
}
