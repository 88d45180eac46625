// Package config provides environment-aware configuration loading for the
// worker, following the teacher's pattern of an env-file plus
// environment-variable overlay resolved through typed getters.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jinn-network/jinn-worker/internal/runtimeenv"
	"github.com/joho/godotenv"
)

// Config holds all worker configuration, sourced from environment variables
// per spec.md §6.
type Config struct {
	Env runtimeenv.Environment

	// Wallet / profile.
	OperatePassword string
	OperateBasePath string

	// Chain.
	RPCURL  string
	ChainID int64

	// External services.
	X402GatewayURL     string
	ControlAPIURL      string
	PonderGraphQLURL   string
	IPFSGatewayURL     string
	CredentialBridgeURL string

	// Staking.
	StakingContract      string
	StakingRefreshMillis int64

	// Gemini credential rotation.
	GeminiOAuthCredentialsJSON string
	GeminiOAuthClientID        string
	GeminiOAuthClientSecret    string
	GeminiAPIKey               string

	// Agent subprocess.
	AgentBinaryPath        string
	AgentWorkDir           string
	AgentTimeoutSeconds    int64

	// Local paths.
	MiddlewarePath    string
	LocalQueueDBPath  string
	AllowlistConfigPath string

	// Logging.
	LogLevel  string
	LogFormat string

	// Metrics.
	MetricsEnabled bool
	MetricsPort    int

	// Feature flags and periodic-task intervals.
	VentureWatcherEnabled      bool
	VentureTickIntervalMillis  int64
	CheckpointEnabled          bool
	CheckpointIntervalSeconds  int64
	TxProcessorIntervalMillis  int64
	MarketplaceResponseTimeout uint64
}

// Load loads configuration based on WORKER_ENV, overlaying an optional
// `config/<env>.env` file beneath real environment variables.
func Load() (*Config, error) {
	env := runtimeenv.Env()

	configFile := filepath.Join("config", fmt.Sprintf("%s.env", env))
	if err := godotenv.Load(configFile); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("warning: could not load %s: %v\n", configFile, err)
		}
	}

	cfg := &Config{Env: env}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	c.OperatePassword = getEnv("OPERATE_PASSWORD", "")
	c.OperateBasePath = getEnv("OPERATE_BASE_PATH", defaultOperateBasePath())

	c.RPCURL = getEnv("RPC_URL", "")
	chainID, err := strconv.ParseInt(getEnv("CHAIN_ID", "8453"), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid CHAIN_ID: %w", err)
	}
	c.ChainID = chainID

	c.X402GatewayURL = getEnv("X402_GATEWAY_URL", "")
	c.ControlAPIURL = getEnv("CONTROL_API_URL", "")
	c.PonderGraphQLURL = getEnv("PONDER_GRAPHQL_URL", "")
	c.IPFSGatewayURL = getEnv("IPFS_GATEWAY_URL", "")
	c.CredentialBridgeURL = getEnv("CREDENTIAL_BRIDGE_URL", "")

	c.StakingContract = getEnv("WORKER_STAKING_CONTRACT", "")
	refreshMs, err := strconv.ParseInt(getEnv("WORKER_STAKING_REFRESH_MS", "300000"), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid WORKER_STAKING_REFRESH_MS: %w", err)
	}
	c.StakingRefreshMillis = refreshMs

	c.GeminiOAuthCredentialsJSON = getEnv("GEMINI_OAUTH_CREDENTIALS", "")
	c.GeminiOAuthClientID = getEnv("GEMINI_OAUTH_CLIENT_ID", "")
	c.GeminiOAuthClientSecret = getEnv("GEMINI_OAUTH_CLIENT_SECRET", "")
	c.GeminiAPIKey = getEnv("GEMINI_API_KEY", "")

	c.AgentBinaryPath = getEnv("AGENT_BINARY_PATH", "")
	c.AgentWorkDir = getEnv("AGENT_WORK_DIR", "./worker/agent-workdir")
	c.AgentTimeoutSeconds = int64(getIntEnv("AGENT_TIMEOUT_SECONDS", 1800))

	c.MiddlewarePath = getEnv("MIDDLEWARE_PATH", "")
	c.LocalQueueDBPath = getEnv("LOCAL_QUEUE_DB_PATH", "./worker/data/txqueue.db")
	c.AllowlistConfigPath = getEnv("ALLOWLIST_CONFIG_PATH", "./worker/config/allowlists.json")

	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.LogFormat = getEnv("LOG_FORMAT", "json")

	c.MetricsEnabled = getBoolEnv("METRICS_ENABLED", c.Env == runtimeenv.Production)
	c.MetricsPort = getIntEnv("METRICS_PORT", 9090)

	c.VentureWatcherEnabled = getBoolEnv("VENTURE_WATCHER_ENABLED", true)
	c.VentureTickIntervalMillis = int64(getIntEnv("VENTURE_TICK_INTERVAL_MS", 60_000))
	c.CheckpointEnabled = getBoolEnv("CHECKPOINT_ENABLED", true)
	c.CheckpointIntervalSeconds = int64(getIntEnv("CHECKPOINT_INTERVAL_SECONDS", 3600))
	c.TxProcessorIntervalMillis = int64(getIntEnv("TX_PROCESSOR_INTERVAL_MS", 5_000))
	c.MarketplaceResponseTimeout = uint64(getIntEnv("MARKETPLACE_RESPONSE_TIMEOUT_SECONDS", 60))

	return nil
}

// Validate enforces required fields and production-specific constraints.
func (c *Config) Validate() error {
	if c.OperatePassword == "" {
		return fmt.Errorf("OPERATE_PASSWORD is required")
	}
	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}
	if c.ControlAPIURL == "" {
		return fmt.Errorf("CONTROL_API_URL is required")
	}
	if c.PonderGraphQLURL == "" {
		return fmt.Errorf("PONDER_GRAPHQL_URL is required")
	}
	if c.IPFSGatewayURL == "" {
		return fmt.Errorf("IPFS_GATEWAY_URL is required")
	}
	if c.AgentBinaryPath == "" {
		return fmt.Errorf("AGENT_BINARY_PATH is required")
	}

	if c.Env == runtimeenv.Production {
		if c.GeminiOAuthCredentialsJSON == "" && c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_OAUTH_CREDENTIALS or GEMINI_API_KEY is required in production")
		}
	}

	if c.MetricsPort < 1 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid METRICS_PORT: %d", c.MetricsPort)
	}

	return nil
}

func defaultOperateBasePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".operate"
	}
	return filepath.Join(home, ".operate")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// SplitCSV splits a comma-separated environment value into a trimmed slice.
func SplitCSV(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
