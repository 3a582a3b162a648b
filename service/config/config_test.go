package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hntlabs/walletsync/service/wallet"
)

func setRequiredEnv() {
	os.Setenv("PRICE_API_URL", "https://wallet-api.example.com")
	os.Setenv("HISTORY_API_URL", "https://wallet-api.example.com")
	os.Setenv("ACTIVITY_API_URL", "https://wallet-api.example.com")
}

func TestLoad_ValidConfig(t *testing.T) {
	setRequiredEnv()
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":8080", cfg.ServerAddr) // Default
	assert.Equal(t, "info", cfg.LogLevel)    // Default
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, defaultMainnetRPCURL, cfg.MainnetRPCURL)
	assert.Equal(t, defaultMainnetWSURL, cfg.MainnetWSURL)
	assert.Equal(t, defaultOraclePriceAccount, cfg.OraclePriceAccount)
	assert.Equal(t, "usd", cfg.DefaultCurrency)
	assert.Equal(t, 5*time.Minute, cfg.PricePollInterval)
	assert.Equal(t, 5*time.Minute, cfg.OraclePollInterval)
	assert.Empty(t, cfg.DatabaseURL, "archive is optional")
}

func TestLoad_MissingUpstreamAPIs(t *testing.T) {
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "PRICE_API_URL is required")
	assert.Contains(t, err.Error(), "HISTORY_API_URL is required")
	assert.Contains(t, err.Error(), "ACTIVITY_API_URL is required")
}

func TestLoad_InvalidOracleAccount(t *testing.T) {
	setRequiredEnv()
	os.Setenv("ORACLE_PRICE_ACCOUNT", "not-a-pubkey")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "ORACLE_PRICE_ACCOUNT")
}

func TestLoad_InvalidPollInterval(t *testing.T) {
	setRequiredEnv()
	os.Setenv("PRICE_POLL_INTERVAL", "invalid")
	defer cleanupEnv()

	cfg, err := Load()
	require.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "invalid duration")
}

func TestLoad_CustomValues(t *testing.T) {
	setRequiredEnv()
	os.Setenv("SERVER_ADDR", ":9090")
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("NATS_URL", "nats://nats.example.com:4222")
	os.Setenv("DATABASE_URL", "postgres://localhost/walletsync")
	os.Setenv("SOLANA_MAINNET_RPC_URL", "https://rpc.example.com")
	os.Setenv("SOLANA_MAINNET_WS_URL", "wss://rpc.example.com")
	os.Setenv("DEFAULT_CURRENCY", "eur")
	os.Setenv("PRICE_POLL_INTERVAL", "1m")
	defer cleanupEnv()

	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, ":9090", cfg.ServerAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "nats://nats.example.com:4222", cfg.NATSURL)
	assert.Equal(t, "postgres://localhost/walletsync", cfg.DatabaseURL)
	assert.Equal(t, "https://rpc.example.com", cfg.MainnetRPCURL)
	assert.Equal(t, "wss://rpc.example.com", cfg.MainnetWSURL)
	assert.Equal(t, "eur", cfg.DefaultCurrency)
	assert.Equal(t, time.Minute, cfg.PricePollInterval)
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := &Config{
		MainnetRPCURL:      "https://rpc.example.com",
		MainnetWSURL:       "wss://rpc.example.com",
		PriceAPIURL:        "https://wallet-api.example.com",
		HistoryAPIURL:      "https://wallet-api.example.com",
		ActivityAPIURL:     "https://wallet-api.example.com",
		DefaultCurrency:    "usd",
		PricePollInterval:  5 * time.Minute,
		OraclePollInterval: 5 * time.Minute,
	}

	err := cfg.Validate()
	assert.NoError(t, err)
}

func TestValidate_MissingMainnetRPC(t *testing.T) {
	cfg := &Config{
		MainnetWSURL:       "wss://rpc.example.com",
		PriceAPIURL:        "https://wallet-api.example.com",
		HistoryAPIURL:      "https://wallet-api.example.com",
		ActivityAPIURL:     "https://wallet-api.example.com",
		DefaultCurrency:    "usd",
		PricePollInterval:  5 * time.Minute,
		OraclePollInterval: 5 * time.Minute,
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MainnetRPCURL is required")
}

func TestValidate_TooShortInterval(t *testing.T) {
	cfg := &Config{
		MainnetRPCURL:      "https://rpc.example.com",
		MainnetWSURL:       "wss://rpc.example.com",
		PriceAPIURL:        "https://wallet-api.example.com",
		HistoryAPIURL:      "https://wallet-api.example.com",
		ActivityAPIURL:     "https://wallet-api.example.com",
		DefaultCurrency:    "usd",
		PricePollInterval:  500 * time.Millisecond,
		OraclePollInterval: 5 * time.Minute,
	}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be at least 1 second")
}

func TestEndpoints(t *testing.T) {
	cfg := &Config{
		MainnetRPCURL: "https://mainnet.example.com",
		MainnetWSURL:  "wss://mainnet.example.com",
		DevnetRPCURL:  "https://devnet.example.com",
		DevnetWSURL:   "wss://devnet.example.com",
	}

	rpcURL, wsURL, err := cfg.Endpoints(wallet.ClusterMainnet)
	require.NoError(t, err)
	assert.Equal(t, "https://mainnet.example.com", rpcURL)
	assert.Equal(t, "wss://mainnet.example.com", wsURL)

	rpcURL, wsURL, err = cfg.Endpoints(wallet.ClusterDevnet)
	require.NoError(t, err)
	assert.Equal(t, "https://devnet.example.com", rpcURL)
	assert.Equal(t, "wss://devnet.example.com", wsURL)

	_, _, err = cfg.Endpoints(wallet.Cluster("localnet"))
	assert.Error(t, err)
}

func TestMustLoad_Panics(t *testing.T) {
	// Don't set required env vars
	defer cleanupEnv()

	assert.Panics(t, func() {
		MustLoad()
	})
}

func TestMustLoad_Success(t *testing.T) {
	setRequiredEnv()
	defer cleanupEnv()

	assert.NotPanics(t, func() {
		cfg := MustLoad()
		assert.NotNil(t, cfg)
	})
}

// cleanupEnv clears all environment variables used in tests
func cleanupEnv() {
	os.Unsetenv("DATABASE_URL")
	os.Unsetenv("SERVER_ADDR")
	os.Unsetenv("LOG_LEVEL")
	os.Unsetenv("NATS_URL")
	os.Unsetenv("SOLANA_MAINNET_RPC_URL")
	os.Unsetenv("SOLANA_MAINNET_WS_URL")
	os.Unsetenv("SOLANA_DEVNET_RPC_URL")
	os.Unsetenv("SOLANA_DEVNET_WS_URL")
	os.Unsetenv("SOLANA_TESTNET_RPC_URL")
	os.Unsetenv("SOLANA_TESTNET_WS_URL")
	os.Unsetenv("PRICE_API_URL")
	os.Unsetenv("HISTORY_API_URL")
	os.Unsetenv("ACTIVITY_API_URL")
	os.Unsetenv("ORACLE_PRICE_ACCOUNT")
	os.Unsetenv("DEFAULT_CURRENCY")
	os.Unsetenv("PRICE_POLL_INTERVAL")
	os.Unsetenv("ORACLE_POLL_INTERVAL")
}
