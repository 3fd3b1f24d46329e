package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PNGPROTECT_SERVICE_URL", "")
	t.Setenv("PNGPROTECT_DATABASE_URL", "")
	t.Setenv("PNGPROTECT_CHAIN_RPC_URL", "")
	t.Setenv("PNGPROTECT_WALLET_RPC_URL", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.Service.URL)
	assert.Equal(t, "sqlite", cfg.Storage.Type)
	assert.Equal(t, 2, cfg.Retry.MaxRetries)
	assert.Equal(t, cfg.Wallet.RPCURL, cfg.Chain.RPCURL)
}

func TestLoadPostgresFromDatabaseURL(t *testing.T) {
	t.Setenv("PNGPROTECT_STORAGE_TYPE", "")
	t.Setenv("PNGPROTECT_DATABASE_URL", "postgres://u:p@localhost/db")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Storage.Type)
}

func TestLoadChainRPCOverride(t *testing.T) {
	t.Setenv("PNGPROTECT_WALLET_RPC_URL", "http://wallet:8545")
	t.Setenv("PNGPROTECT_CHAIN_RPC_URL", "http://chain:8545")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "http://wallet:8545", cfg.Wallet.RPCURL)
	assert.Equal(t, "http://chain:8545", cfg.Chain.RPCURL)
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("PNGPROTECT_TEST_INT", "notanumber")
	assert.Equal(t, 7, getEnvInt("PNGPROTECT_TEST_INT", 7))

	t.Setenv("PNGPROTECT_TEST_BOOL", "1")
	assert.True(t, getEnvBool("PNGPROTECT_TEST_BOOL", false))

	t.Setenv("PNGPROTECT_TEST_BOOL", "TRUE")
	assert.True(t, getEnvBool("PNGPROTECT_TEST_BOOL", false))

	t.Setenv("PNGPROTECT_TEST_BOOL", "no")
	assert.False(t, getEnvBool("PNGPROTECT_TEST_BOOL", true))
}
