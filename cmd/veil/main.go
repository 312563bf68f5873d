// main.go - veil command line client.
//
// Drives the shielded pool engine from a YAML config and a local wallet
// key file: keygen, trusted-setup artifact generation, balance, sync,
// deposit, withdraw, and cache maintenance.

package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/veilpool/veil/engine"
	"github.com/veilpool/veil/keychain"
	"github.com/veilpool/veil/txbuilder"
	"github.com/veilpool/veil/zkproof"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "veil",
		Usage: "shielded pool client",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "veil.yaml", Usage: "config file path"},
			&cli.StringFlag{Name: "key", Value: "wallet.key", Usage: "wallet key file path"},
			&cli.BoolFlag{Name: "verbose", Usage: "enable debug logging"},
		},
		Commands: []*cli.Command{
			keygenCommand(),
			setupCommand(),
			balanceCommand(),
			syncCommand(),
			depositCommand(),
			withdrawCommand(),
			clearCacheCommand(),
		},
	}
}

func newLogger(c *cli.Context) zerolog.Logger {
	level := zerolog.InfoLevel
	if c.Bool("verbose") {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
}

func loadWallet(c *cli.Context) (*keychain.WalletKeypair, error) {
	data, err := os.ReadFile(c.String("key"))
	if err != nil {
		return nil, fmt.Errorf("failed to read wallet key: %w", err)
	}
	priv := base58.Decode(strings.TrimSpace(string(data)))
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("wallet key file does not hold an ed25519 private key")
	}
	return keychain.NewWalletKeypair(ed25519.PrivateKey(priv)), nil
}

func loadEngine(c *cli.Context) (*engine.Engine, error) {
	cfg, err := engine.LoadConfig(c.String("config"))
	if err != nil {
		return nil, err
	}
	wallet, err := loadWallet(c)
	if err != nil {
		return nil, err
	}
	log := newLogger(c)
	return engine.New(cfg, wallet, log, engine.WithObserver(func(op, from, to string) {
		log.Info().Str("operation", op).Str("from", from).Str("to", to).Msg("state")
	}))
}

func keygenCommand() *cli.Command {
	return &cli.Command{
		Name:  "keygen",
		Usage: "generate a wallet key file",
		Action: func(c *cli.Context) error {
			path := c.String("key")
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("refusing to overwrite existing key file %s", path)
			}
			wallet, err := keychain.GenerateWalletKeypair()
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, []byte(wallet.Encode()+"\n"), 0600); err != nil {
				return fmt.Errorf("failed to write wallet key: %w", err)
			}
			fmt.Println("address:", base58.Encode(wallet.PublicKey()))
			return nil
		},
	}
}

func setupCommand() *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "generate the proving artifacts (slow, one-time)",
		Action: func(c *cli.Context) error {
			cfg, err := engine.LoadConfig(c.String("config"))
			if err != nil {
				return err
			}
			logger := newLogger(c)
			logger.Info().Str("dir", cfg.ArtifactDir).Int("depth", cfg.TreeDepth).
				Msg("compiling circuit and running setup")
			return zkproof.Setup(cfg.ArtifactDir, cfg.TreeDepth)
		},
	}
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:  "balance",
		Usage: "show the spendable shielded balance",
		Flags: []cli.Flag{tokenFlag()},
		Action: func(c *cli.Context) error {
			eng, err := loadEngine(c)
			if err != nil {
				return err
			}
			defer eng.Close()
			balance, err := eng.Balance(c.Context, c.String("token"))
			if err != nil {
				return err
			}
			fmt.Println(balance)
			return nil
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "refresh the local note cache",
		Flags: []cli.Flag{tokenFlag()},
		Action: func(c *cli.Context) error {
			eng, err := loadEngine(c)
			if err != nil {
				return err
			}
			defer eng.Close()
			notes, err := eng.Sync(c.Context, c.String("token"))
			if err != nil {
				return err
			}
			fmt.Printf("%d notes in cache\n", len(notes))
			return nil
		},
	}
}

func depositCommand() *cli.Command {
	return &cli.Command{
		Name:  "deposit",
		Usage: "shield funds into the pool",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "amount", Required: true, Usage: "amount in base units"},
			tokenFlag(),
			&cli.BoolFlag{Name: "unsigned", Usage: "print the unsigned transaction instead of relaying"},
		},
		Action: func(c *cli.Context) error {
			eng, err := loadEngine(c)
			if err != nil {
				return err
			}
			defer eng.Close()

			mode := engine.ModeSigned
			if c.Bool("unsigned") {
				mode = engine.ModeUnsigned
			}
			result, err := eng.Deposit(c.Context, c.Uint64("amount"), c.String("token"), mode)
			if err != nil {
				return err
			}
			switch r := result.(type) {
			case *txbuilder.Signed:
				fmt.Println("signature:", r.TxSignature)
			case *txbuilder.Unsigned:
				fmt.Println("unsigned transaction:", base64.StdEncoding.EncodeToString(r.Tx.Serialize()))
				fmt.Println("encrypted output:", base64.StdEncoding.EncodeToString(r.Metadata.EncryptedOutput))
			}
			return nil
		},
	}
}

func withdrawCommand() *cli.Command {
	return &cli.Command{
		Name:  "withdraw",
		Usage: "unshield funds to a public address",
		Flags: []cli.Flag{
			&cli.Uint64Flag{Name: "amount", Required: true, Usage: "requested amount in base units, fee included"},
			&cli.StringFlag{Name: "recipient", Required: true, Usage: "public recipient address"},
			tokenFlag(),
		},
		Action: func(c *cli.Context) error {
			eng, err := loadEngine(c)
			if err != nil {
				return err
			}
			defer eng.Close()
			sig, err := eng.Withdraw(c.Context, c.Uint64("amount"), c.String("recipient"), c.String("token"))
			if err != nil {
				return err
			}
			fmt.Println("signature:", sig)
			return nil
		},
	}
}

func clearCacheCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear-cache",
		Usage: "drop the local note cache, forcing a full resync",
		Action: func(c *cli.Context) error {
			eng, err := loadEngine(c)
			if err != nil {
				return err
			}
			defer eng.Close()
			return eng.ClearCache()
		},
	}
}

func tokenFlag() cli.Flag {
	return &cli.StringFlag{Name: "token", Usage: "token pool name (empty for the native pool)"}
}
