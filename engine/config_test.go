package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
relayer_url: https://relayer.example.com
indexer_url: https://indexer.example.com
cache_path: /var/lib/veil/cache.db
artifact_dir: /var/lib/veil/artifacts
pool_account: 6y7s9DEnrK2T3zQ4hVCkqyG7DrKnrCTopJ3XASnEpDFy
withdraw_fee_bps: 50
tokens:
  USDC:
    mint: 9vMJfxuKxXBoEa7rM12mYLMwTacLMLDJqHozw96WQL8i
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "https://relayer.example.com", cfg.RelayerURL)
	require.EqualValues(t, 50, cfg.WithdrawFeeBps)

	// Unset fields keep their defaults.
	require.Equal(t, DefaultConfig().TreeDepth, cfg.TreeDepth)
	require.Equal(t, 10, cfg.ConfirmAttempts)

	pool, err := cfg.Pool("USDC")
	require.NoError(t, err)
	require.Equal(t, "USDC", pool.Token)
	require.NotEmpty(t, pool.Mint)

	_, err = cfg.Pool("DOGE")
	require.Error(t, err)
}

func TestLoadConfigRejectsIncomplete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("relayer_url: https://relayer.example.com\n"), 0644))
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestWithdrawFeeRoundsUp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.WithdrawFeeBps = 30

	require.EqualValues(t, 3, cfg.WithdrawFee(10_000))
	// 30 bps of 10001 is 30.003: the fee rounds up, against the recipient.
	require.EqualValues(t, 4, cfg.WithdrawFee(10_001))
	require.EqualValues(t, 1, cfg.WithdrawFee(1))
	require.Zero(t, cfg.WithdrawFee(0))
}
