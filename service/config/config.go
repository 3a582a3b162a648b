package config

import (
	"fmt"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/hntlabs/walletsync/service/wallet"
)

// Default public endpoints. Production deployments point these at dedicated
// RPC providers; the public endpoints rate-limit aggressively.
const (
	defaultMainnetRPCURL = "https://api.mainnet-beta.solana.com"
	defaultMainnetWSURL  = "wss://api.mainnet-beta.solana.com"
	defaultDevnetRPCURL  = "https://api.devnet.solana.com"
	defaultDevnetWSURL   = "wss://api.devnet.solana.com"
	defaultTestnetRPCURL = "https://api.testnet.solana.com"
	defaultTestnetWSURL  = "wss://api.testnet.solana.com"

	// Pyth HNT/USD price account on mainnet.
	defaultOraclePriceAccount = "7moA1i5vQUpfDwSpK6Pw9s56ahB7WFGidtbL2ujWrVvm"
)

// Config holds all application configuration loaded from environment variables.
// All required fields are validated at startup to ensure fail-fast behavior.
type Config struct {
	// Server configuration
	ServerAddr string
	LogLevel   string

	// Database configuration. Empty disables the Postgres archive.
	DatabaseURL string

	// NATS configuration
	NATSURL string

	// Solana RPC/WebSocket endpoints per cluster
	MainnetRPCURL string
	MainnetWSURL  string
	DevnetRPCURL  string
	DevnetWSURL   string
	TestnetRPCURL string
	TestnetWSURL  string

	// Upstream wallet APIs
	PriceAPIURL    string
	HistoryAPIURL  string
	ActivityAPIURL string

	// Oracle configuration
	OraclePriceAccount string

	// Refresh configuration
	DefaultCurrency    string
	PricePollInterval  time.Duration
	OraclePollInterval time.Duration
}

// Load reads configuration from environment variables and validates all
// required fields. Returns an error if any configuration is invalid.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", ":8080")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.NATSURL = getEnvOrDefault("NATS_URL", "nats://localhost:4222")

	cfg.MainnetRPCURL = getEnvOrDefault("SOLANA_MAINNET_RPC_URL", defaultMainnetRPCURL)
	cfg.MainnetWSURL = getEnvOrDefault("SOLANA_MAINNET_WS_URL", defaultMainnetWSURL)
	cfg.DevnetRPCURL = getEnvOrDefault("SOLANA_DEVNET_RPC_URL", defaultDevnetRPCURL)
	cfg.DevnetWSURL = getEnvOrDefault("SOLANA_DEVNET_WS_URL", defaultDevnetWSURL)
	cfg.TestnetRPCURL = getEnvOrDefault("SOLANA_TESTNET_RPC_URL", defaultTestnetRPCURL)
	cfg.TestnetWSURL = getEnvOrDefault("SOLANA_TESTNET_WS_URL", defaultTestnetWSURL)

	cfg.PriceAPIURL = os.Getenv("PRICE_API_URL")
	if cfg.PriceAPIURL == "" {
		errs = append(errs, fmt.Errorf("PRICE_API_URL is required"))
	}
	cfg.HistoryAPIURL = os.Getenv("HISTORY_API_URL")
	if cfg.HistoryAPIURL == "" {
		errs = append(errs, fmt.Errorf("HISTORY_API_URL is required"))
	}
	cfg.ActivityAPIURL = os.Getenv("ACTIVITY_API_URL")
	if cfg.ActivityAPIURL == "" {
		errs = append(errs, fmt.Errorf("ACTIVITY_API_URL is required"))
	}

	cfg.OraclePriceAccount = getEnvOrDefault("ORACLE_PRICE_ACCOUNT", defaultOraclePriceAccount)
	if _, err := solana.PublicKeyFromBase58(cfg.OraclePriceAccount); err != nil {
		errs = append(errs, fmt.Errorf("ORACLE_PRICE_ACCOUNT: invalid public key %q: %w", cfg.OraclePriceAccount, err))
	}

	cfg.DefaultCurrency = getEnvOrDefault("DEFAULT_CURRENCY", "usd")

	priceInterval, err := parseDuration("PRICE_POLL_INTERVAL", "5m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.PricePollInterval = priceInterval
	}

	oracleInterval, err := parseDuration("ORACLE_POLL_INTERVAL", "5m")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.OraclePollInterval = oracleInterval
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
// Useful for server initialization where misconfiguration should halt startup.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks if the configuration is valid.
// This is useful for testing configuration without loading from env.
func (c *Config) Validate() error {
	var errs []error

	if c.MainnetRPCURL == "" {
		errs = append(errs, fmt.Errorf("MainnetRPCURL is required"))
	}
	if c.MainnetWSURL == "" {
		errs = append(errs, fmt.Errorf("MainnetWSURL is required"))
	}
	if c.PriceAPIURL == "" {
		errs = append(errs, fmt.Errorf("PriceAPIURL is required"))
	}
	if c.HistoryAPIURL == "" {
		errs = append(errs, fmt.Errorf("HistoryAPIURL is required"))
	}
	if c.ActivityAPIURL == "" {
		errs = append(errs, fmt.Errorf("ActivityAPIURL is required"))
	}
	if c.DefaultCurrency == "" {
		errs = append(errs, fmt.Errorf("DefaultCurrency is required"))
	}
	if c.PricePollInterval < time.Second {
		errs = append(errs, fmt.Errorf("PricePollInterval must be at least 1 second"))
	}
	if c.OraclePollInterval < time.Second {
		errs = append(errs, fmt.Errorf("OraclePollInterval must be at least 1 second"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}

	return nil
}

// Endpoints returns the RPC and WebSocket URLs for a cluster.
func (c *Config) Endpoints(cluster wallet.Cluster) (rpcURL, wsURL string, err error) {
	switch cluster {
	case wallet.ClusterMainnet:
		return c.MainnetRPCURL, c.MainnetWSURL, nil
	case wallet.ClusterDevnet:
		return c.DevnetRPCURL, c.DevnetWSURL, nil
	case wallet.ClusterTestnet:
		return c.TestnetRPCURL, c.TestnetWSURL, nil
	}
	return "", "", fmt.Errorf("unknown cluster %q", cluster)
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseDuration parses a duration from an environment variable or uses a default.
func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}
