package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testUSDCMint        = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	testTreasuryAccount = "ATokenGPvbdGVxr1b2hvZbsiqW5xWH25efTNsLJA8knL"
	testIndexMint       = "So11111111111111111111111111111111111111112"
	testTreasuryOwner   = "TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("USDC_MINT", testUSDCMint)
	t.Setenv("TREASURY_USDC_ACCOUNT", testTreasuryAccount)
	t.Setenv("CAP5_MINT", testIndexMint)
	t.Setenv("TREASURY_OWNER", testTreasuryOwner)
	t.Setenv("PYTH_PRICE_IDS", `["0xaaa","0xbbb"]`)
}

func TestLoad(t *testing.T) {
	t.Run("loads settlement settings from environment", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("HELIUS_WEBHOOK_TOKEN", "Bearer secret")
		t.Setenv("FAST_MODE", "true")
		t.Setenv("DEBUG", "1")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, testUSDCMint, cfg.Treasury.StablecoinMint)
		assert.Equal(t, testTreasuryAccount, cfg.Treasury.StablecoinAccount)
		assert.Equal(t, testIndexMint, cfg.Treasury.IndexMint)
		assert.Equal(t, testTreasuryOwner, cfg.Treasury.Owner)
		assert.Equal(t, []string{"0xaaa", "0xbbb"}, cfg.Oracle.FeedIDs)
		assert.Equal(t, "Bearer secret", cfg.Settlement.WebhookToken)
		assert.True(t, cfg.Settlement.FastMode)
		assert.True(t, cfg.Debug)
		assert.Equal(t, "debug", cfg.LogLevel)
	})

	t.Run("applies defaults", func(t *testing.T) {
		setRequiredEnv(t)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 45*time.Second, cfg.Oracle.CacheTTL)
		assert.Equal(t, 5*time.Second, cfg.Settlement.DebounceWindow)
		assert.Equal(t, uint32(200_000), cfg.Solana.ComputeUnitLimit)
		assert.Equal(t, uint64(10_000), cfg.Solana.ComputeUnitPrice)
		assert.Equal(t, "memory", cfg.Store.Driver)
		assert.Equal(t, "pool", cfg.Workers.Dispatcher)
		assert.Equal(t, "TREASURY_PRIVATE_KEY", cfg.Treasury.KeySecretName)
		assert.False(t, cfg.Settlement.FastMode)
		assert.Equal(t, "1.0.0", cfg.Version)
		assert.Equal(t, "settlement-service", cfg.Tracing.ServiceName)
		assert.False(t, cfg.Tracing.Insecure)
	})

	t.Run("collector settings from environment", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel-collector:4317")
		t.Setenv("OTEL_EXPORTER_OTLP_INSECURE", "true")
		t.Setenv("APP_VERSION", "2.3.1")

		cfg, err := Load()
		require.NoError(t, err)

		assert.True(t, cfg.Tracing.Enabled)
		assert.Equal(t, "otel-collector:4317", cfg.Tracing.CollectorURL)
		assert.True(t, cfg.Tracing.Insecure)
		assert.Equal(t, "2.3.1", cfg.Version)
	})

	t.Run("fails fast without treasury owner", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("TREASURY_OWNER", "")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config validation failed")
	})

	t.Run("rejects malformed feed list", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("PYTH_PRICE_IDS", "0xaaa,0xbbb")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "PYTH_PRICE_IDS")
	})

	t.Run("rejects invalid address", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("CAP5_MINT", "not-an-address")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "treasury.index_mint")
	})
}

func TestValidateStoreRequirements(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := Load()
	require.NoError(t, err)

	cfg.Store.Driver = "postgres"
	cfg.Database.URL = ""
	assert.Error(t, Validate(cfg))

	cfg.Store.Driver = "sqlite"
	assert.Error(t, Validate(cfg))
}
