// config.go - Client configuration.

package engine

import (
	"fmt"
	"os"
	"time"

	"github.com/btcsuite/btcd/btcutil/base58"
	"gopkg.in/yaml.v2"

	"github.com/veilpool/veil/scanner"
	"github.com/veilpool/veil/zkproof"
)

// TokenConfig describes one SPL-style token pool the client can target.
type TokenConfig struct {
	Mint string `yaml:"mint"`
}

// Config carries everything the engine needs to talk to one deployment.
type Config struct {
	RelayerURL  string `yaml:"relayer_url"`
	IndexerURL  string `yaml:"indexer_url"`
	CachePath   string `yaml:"cache_path"`
	ArtifactDir string `yaml:"artifact_dir"`
	PoolAccount string `yaml:"pool_account"`
	TreeDepth   int    `yaml:"tree_depth"`

	// WithdrawFeeBps is the protocol fee in basis points of the requested
	// withdrawal amount. The fee rounds up, so the recipient absorbs the
	// remainder.
	WithdrawFeeBps uint64 `yaml:"withdraw_fee_bps"`
	// Referrer is an optional referral wallet forwarded to the relayer.
	Referrer string `yaml:"referrer"`

	ConfirmIntervalSeconds int `yaml:"confirm_interval_seconds"`
	ConfirmAttempts        int `yaml:"confirm_attempts"`

	// Tokens maps token names (as the indexer knows them) to their pools.
	Tokens map[string]TokenConfig `yaml:"tokens"`
}

// DefaultConfig returns a config with production defaults; deployment
// endpoints still have to be filled in.
func DefaultConfig() *Config {
	return &Config{
		TreeDepth:              zkproof.DefaultTreeDepth,
		WithdrawFeeBps:         30,
		ConfirmIntervalSeconds: 2,
		ConfirmAttempts:        10,
	}
}

// LoadConfig reads a YAML config file over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields without which no operation can run.
func (c *Config) Validate() error {
	switch {
	case c.RelayerURL == "":
		return fmt.Errorf("config: relayer_url is required")
	case c.IndexerURL == "":
		return fmt.Errorf("config: indexer_url is required")
	case c.CachePath == "":
		return fmt.Errorf("config: cache_path is required")
	case c.PoolAccount == "":
		return fmt.Errorf("config: pool_account is required")
	case c.TreeDepth <= 0:
		return fmt.Errorf("config: tree_depth must be positive")
	}
	return nil
}

// Pool resolves a token name to its pool. The empty name is the native
// pool.
func (c *Config) Pool(token string) (scanner.Pool, error) {
	if token == "" {
		return scanner.Native, nil
	}
	tc, ok := c.Tokens[token]
	if !ok {
		return scanner.Pool{}, fmt.Errorf("unknown token %q", token)
	}
	mint := base58.Decode(tc.Mint)
	if len(mint) == 0 {
		return scanner.Pool{}, fmt.Errorf("token %q has a malformed mint address", token)
	}
	return scanner.Pool{Token: token, Mint: mint}, nil
}

// WithdrawFee computes the protocol fee for a requested withdrawal amount,
// rounded up.
func (c *Config) WithdrawFee(requested uint64) uint64 {
	return (requested*c.WithdrawFeeBps + 9_999) / 10_000
}

// ConfirmInterval returns the confirmation poll spacing.
func (c *Config) ConfirmInterval() time.Duration {
	return time.Duration(c.ConfirmIntervalSeconds) * time.Second
}
