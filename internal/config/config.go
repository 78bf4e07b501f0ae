// Package config provides configuration management for the reward settlement service.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Chain      ChainConfig
	Settlement SettlementConfig
	Logging    LoggingConfig
}

// ServerConfig holds HTTP server configuration
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

// ClickHouseConfig holds ClickHouse configuration for the settlement audit log
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
	Enabled  bool
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// ChainConfig holds blockchain node and contract configuration
type ChainConfig struct {
	RPCURL          string
	ChainID         int64
	ContractAddress string
	ContractABIPath string
	PrivateKey      string
	AdminAddress    string

	// Fee parameters. The tip is used as maxPriorityFeePerGas on fee-market
	// chains; FallbackGasPriceWei is used as a flat gasPrice on chains
	// without a base fee.
	PriorityFeeWei      int64
	FallbackGasPriceWei int64

	// Gas limit for a mint batch scales with recipient count:
	// gas = GasBase + GasPerRecipient * len(recipients).
	GasBase         uint64
	GasPerRecipient uint64

	RPCTimeout time.Duration
	RPCRateRPS int
}

// SettlementConfig holds settlement pipeline configuration
type SettlementConfig struct {
	RewardPerFeedback decimal.Decimal
	MinWithdrawal     decimal.Decimal

	SettleInterval    time.Duration
	ReconcileInterval time.Duration

	// MaxBatchSize caps recipients per on-chain transaction; rows beyond the
	// cap stay pending for the next cycle.
	MaxBatchSize int

	// MaxAddressAttempts bounds how many cycles a reward with an invalid
	// wallet address is retried before it is failed terminally.
	MaxAddressAttempts int

	// StaleClaimAge is how long a claimed row may sit without a transaction
	// hash before the reconciler returns it to the pending pool.
	StaleClaimAge time.Duration

	LockTTL         time.Duration
	BalanceCacheTTL time.Duration
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
				Database:       getEnv("POSTGRES_DB", "reward_settler"),
				User:           getEnv("POSTGRES_USER", "settler"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 50),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "reward_settler"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
				Enabled:  getEnvAsBool("CLICKHOUSE_AUDIT_ENABLED", true),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 20),
			},
		},
		Chain: ChainConfig{
			RPCURL:              getEnv("RPC_URL", "http://localhost:8545"),
			ChainID:             getEnvAsInt64("CHAIN_ID", 11155111),
			ContractAddress:     getEnv("CONTRACT_ADDRESS", ""),
			ContractABIPath:     getEnv("CONTRACT_ABI_PATH", "artifacts/FeedbackToken.json"),
			PrivateKey:          getEnv("PRIVATE_KEY", ""),
			AdminAddress:        getEnv("ADMIN_ADDRESS", ""),
			PriorityFeeWei:      getEnvAsInt64("PRIORITY_FEE_WEI", 2_000_000_000),
			FallbackGasPriceWei: getEnvAsInt64("FALLBACK_GAS_PRICE_WEI", 2_000_000_000),
			GasBase:             getEnvAsUint64("GAS_BASE", 200_000),
			GasPerRecipient:     getEnvAsUint64("GAS_PER_RECIPIENT", 60_000),
			RPCTimeout:          getEnvAsDuration("RPC_TIMEOUT", 10*time.Second),
			RPCRateRPS:          getEnvAsInt("RPC_RATE_RPS", 20),
		},
		Settlement: SettlementConfig{
			RewardPerFeedback:  getEnvAsDecimal("REWARD_PER_FEEDBACK", "0.5"),
			MinWithdrawal:      getEnvAsDecimal("MIN_WITHDRAWAL", "50"),
			SettleInterval:     getEnvAsDuration("SETTLE_INTERVAL", 60*time.Second),
			ReconcileInterval:  getEnvAsDuration("RECONCILE_INTERVAL", 30*time.Second),
			MaxBatchSize:       getEnvAsInt("MAX_BATCH_SIZE", 100),
			MaxAddressAttempts: getEnvAsInt("MAX_ADDRESS_ATTEMPTS", 10),
			StaleClaimAge:      getEnvAsDuration("STALE_CLAIM_AGE", 10*time.Minute),
			LockTTL:            getEnvAsDuration("SETTLEMENT_LOCK_TTL", 2*time.Minute),
			BalanceCacheTTL:    getEnvAsDuration("BALANCE_CACHE_TTL", 20*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// validate checks invariants that would otherwise surface as runtime failures
// deep inside a settlement cycle.
func (c *Config) validate() error {
	if c.Chain.RPCURL == "" {
		return fmt.Errorf("RPC_URL must be set")
	}
	if c.Settlement.MaxBatchSize <= 0 {
		return fmt.Errorf("MAX_BATCH_SIZE must be positive, got %d", c.Settlement.MaxBatchSize)
	}
	if c.Settlement.MaxAddressAttempts <= 0 {
		return fmt.Errorf("MAX_ADDRESS_ATTEMPTS must be positive, got %d", c.Settlement.MaxAddressAttempts)
	}
	if c.Settlement.RewardPerFeedback.Sign() <= 0 {
		return fmt.Errorf("REWARD_PER_FEEDBACK must be positive")
	}
	if c.Settlement.MinWithdrawal.Sign() <= 0 {
		return fmt.Errorf("MIN_WITHDRAWAL must be positive")
	}
	return nil
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

// getEnvAsInt64 gets an environment variable as an int64 with a default value
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsUint64 gets an environment variable as a uint64 with a default value
func getEnvAsUint64(key string, defaultValue uint64) uint64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseUint(valueStr, 10, 64)
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

// getEnvAsDecimal gets an environment variable as a decimal with a default value
func getEnvAsDecimal(key, defaultValue string) decimal.Decimal {
	valueStr := getEnv(key, defaultValue)

	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		value, _ = decimal.NewFromString(defaultValue)
	}
	return value
}
