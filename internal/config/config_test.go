package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresOperatePassword(t *testing.T) {
	t.Setenv("WORKER_ENV", "testing")
	t.Setenv("OPERATE_PASSWORD", "")
	t.Setenv("RPC_URL", "https://rpc.example")
	t.Setenv("CONTROL_API_URL", "https://control.example")
	t.Setenv("PONDER_GRAPHQL_URL", "https://ledger.example")
	t.Setenv("IPFS_GATEWAY_URL", "https://ipfs.example")

	cfg, err := Load()
	require.NoError(t, err)
	require.Error(t, cfg.Validate())
}

func TestLoad_ValidConfig(t *testing.T) {
	t.Setenv("WORKER_ENV", "testing")
	t.Setenv("OPERATE_PASSWORD", "hunter2")
	t.Setenv("RPC_URL", "https://rpc.example")
	t.Setenv("CONTROL_API_URL", "https://control.example")
	t.Setenv("PONDER_GRAPHQL_URL", "https://ledger.example")
	t.Setenv("IPFS_GATEWAY_URL", "https://ipfs.example")
	t.Setenv("CHAIN_ID", "8453")
	t.Setenv("AGENT_BINARY_PATH", "/usr/local/bin/jinn-agent")

	cfg, err := Load()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Equal(t, int64(8453), cfg.ChainID)
}

func TestLoad_RequiresAgentBinaryPath(t *testing.T) {
	t.Setenv("WORKER_ENV", "testing")
	t.Setenv("OPERATE_PASSWORD", "hunter2")
	t.Setenv("RPC_URL", "https://rpc.example")
	t.Setenv("CONTROL_API_URL", "https://control.example")
	t.Setenv("PONDER_GRAPHQL_URL", "https://ledger.example")
	t.Setenv("IPFS_GATEWAY_URL", "https://ipfs.example")
	t.Setenv("AGENT_BINARY_PATH", "")

	cfg, err := Load()
	require.NoError(t, err)
	require.Error(t, cfg.Validate())
}

func TestLoad_DefaultsPeriodicTaskIntervals(t *testing.T) {
	t.Setenv("WORKER_ENV", "testing")
	t.Setenv("OPERATE_PASSWORD", "hunter2")
	t.Setenv("RPC_URL", "https://rpc.example")
	t.Setenv("CONTROL_API_URL", "https://control.example")
	t.Setenv("PONDER_GRAPHQL_URL", "https://ledger.example")
	t.Setenv("IPFS_GATEWAY_URL", "https://ipfs.example")
	t.Setenv("AGENT_BINARY_PATH", "/usr/local/bin/jinn-agent")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, int64(60_000), cfg.VentureTickIntervalMillis)
	require.Equal(t, int64(3600), cfg.CheckpointIntervalSeconds)
	require.Equal(t, int64(5_000), cfg.TxProcessorIntervalMillis)
	require.Equal(t, uint64(60), cfg.MarketplaceResponseTimeout)
}

func TestSplitCSV(t *testing.T) {
	require.Equal(t, []string{"a", "b"}, SplitCSV(" a, b "))
	require.Nil(t, SplitCSV(""))
}
