// engine.go - Top-level note lifecycle orchestration.
//
// The engine owns the derived keys, the local cache, and the clients for
// one deployment, and drives deposits and withdrawals through their
// lifecycle: assemble and prove, build and sign the transaction, relay it,
// and wait for the note to be indexed. Each operation is independent;
// running several engines (or operations) concurrently is fine because no
// state is process-global.

package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/rs/zerolog"

	"github.com/veilpool/veil/indexer"
	"github.com/veilpool/veil/keychain"
	"github.com/veilpool/veil/note"
	"github.com/veilpool/veil/notedb"
	"github.com/veilpool/veil/relay"
	"github.com/veilpool/veil/scanner"
	"github.com/veilpool/veil/txbuilder"
	"github.com/veilpool/veil/zkproof"
)

// Mode selects who signs a deposit transaction.
type Mode int

const (
	// ModeSigned signs with the engine's own wallet credential and relays
	// immediately.
	ModeSigned Mode = iota
	// ModeUnsigned returns the transaction and metadata for an external
	// signer; SubmitSigned completes the flow.
	ModeUnsigned
)

// Engine drives the shielded pool note lifecycle for one wallet.
type Engine struct {
	cfg      *Config
	keys     *keychain.Keychain
	codec    *note.Codec
	db       *notedb.DB
	index    *indexer.Client
	scan     *scanner.Scanner
	prover   zkproof.TransferProver
	asm      *zkproof.Assembler
	builder  *txbuilder.Builder
	relayer  *relay.Client
	observer Observer
	log      zerolog.Logger
}

// Option adjusts engine construction.
type Option func(*Engine)

// WithObserver registers a lifecycle transition observer.
func WithObserver(obs Observer) Option {
	return func(e *Engine) { e.observer = obs }
}

// WithProver overrides the proving backend loaded from the artifact dir.
func WithProver(p zkproof.TransferProver) Option {
	return func(e *Engine) { e.prover = p }
}

// WithHTTPClient routes indexer and relayer traffic through the given
// client.
func WithHTTPClient(httpc *http.Client) Option {
	return func(e *Engine) {
		e.index.WithHTTPClient(httpc)
		e.relayer.WithHTTPClient(httpc)
	}
}

// New derives the wallet's key material and wires the engine. Fails with
// *keychain.KeyDerivationError when the credential cannot sign the
// derivation message.
func New(cfg *Config, signer keychain.Signer, log zerolog.Logger, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	keys, err := keychain.FromSigner(signer)
	if err != nil {
		return nil, err
	}
	codec, err := note.NewCodec(keys.EncryptionKey())
	if err != nil {
		return nil, err
	}
	db, err := notedb.Open(cfg.CachePath)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		keys:    keys,
		codec:   codec,
		db:      db,
		index:   indexer.New(cfg.IndexerURL, log),
		builder: txbuilder.NewBuilder(cfg.PoolAccount),
		log:     log.With().Str("component", "engine").Logger(),
	}
	e.relayer = relay.New(cfg.RelayerURL, e.index, log).
		WithConfirmation(cfg.ConfirmInterval(), cfg.ConfirmAttempts)
	for _, opt := range opts {
		opt(e)
	}
	if e.prover == nil {
		p, err := zkproof.NewProver(cfg.ArtifactDir, cfg.TreeDepth)
		if err != nil {
			db.Close()
			return nil, err
		}
		e.prover = p
	}
	e.scan = scanner.New(keys, codec, db, e.index, log)
	e.asm = zkproof.NewAssembler(e.index, e.prover, keys, log)
	return e, nil
}

// Close releases the local cache.
func (e *Engine) Close() error { return e.db.Close() }

// Address returns the wallet's public address.
func (e *Engine) Address() string { return e.keys.Address() }

// Sync refreshes the local cache for the token's pool and returns the
// decodable notes.
func (e *Engine) Sync(ctx context.Context, token string) ([]*note.Note, error) {
	pool, err := e.cfg.Pool(token)
	if err != nil {
		return nil, err
	}
	return e.scan.Sync(ctx, pool)
}

// Balance returns the spendable balance in the token's pool.
func (e *Engine) Balance(ctx context.Context, token string) (uint64, error) {
	pool, err := e.cfg.Pool(token)
	if err != nil {
		return 0, err
	}
	return e.scan.Balance(ctx, pool)
}

// ClearCache drops the cached state for the native pool and every
// configured token pool.
func (e *Engine) ClearCache() error {
	if err := e.scan.Clear(scanner.Native); err != nil {
		return err
	}
	for token := range e.cfg.Tokens {
		pool, err := e.cfg.Pool(token)
		if err != nil {
			return err
		}
		if err := e.scan.Clear(pool); err != nil {
			return err
		}
	}
	return nil
}

// Deposit proves a deposit of amount into the token's pool. In ModeSigned
// the transaction is signed, relayed, and confirmed, returning
// *txbuilder.Signed. In ModeUnsigned it returns *txbuilder.Unsigned for an
// external signer; SubmitSigned completes that flow.
func (e *Engine) Deposit(ctx context.Context, amount uint64, token string, mode Mode) (txbuilder.Result, error) {
	pool, err := e.cfg.Pool(token)
	if err != nil {
		return nil, err
	}
	op := newOperation("deposit", e.observer, e.log)

	transfer, err := e.asm.Assemble(ctx, &zkproof.Request{
		Kind:   zkproof.KindDeposit,
		Amount: amount,
	})
	if err != nil {
		return nil, err
	}
	op.advance(EventProve)

	meta, err := e.metadata(transfer, pool)
	if err != nil {
		return nil, err
	}

	if mode == ModeUnsigned {
		tx := e.builder.BuildUnsigned(transfer, e.keys.Address())
		e.log.Info().Uint64("amount", amount).Msg("unsigned deposit built")
		return &txbuilder.Unsigned{Tx: tx, Metadata: meta}, nil
	}

	tx, err := e.builder.BuildSigned(transfer, e.keys.Signer())
	if err != nil {
		return nil, err
	}
	sig, err := e.relayAndConfirm(ctx, op, &relay.Submission{Tx: tx, Metadata: meta, Token: pool.Token})
	if err != nil {
		return nil, err
	}
	return &txbuilder.Signed{TxSignature: sig}, nil
}

// SubmitSigned relays an externally signed transaction built by a prior
// ModeUnsigned deposit and waits for confirmation.
func (e *Engine) SubmitSigned(ctx context.Context, tx *txbuilder.Transaction, meta *txbuilder.Metadata, token string) (string, error) {
	pool, err := e.cfg.Pool(token)
	if err != nil {
		return "", err
	}
	op := newOperation("deposit", e.observer, e.log)
	op.advance(EventProve) // proof was produced when the unsigned tx was built
	return e.relayAndConfirm(ctx, op, &relay.Submission{Tx: tx, Metadata: meta, Token: pool.Token})
}

// Withdraw pays requested minus the protocol fee to the public recipient
// from the token's pool, returning the ledger signature. The requested
// amount always equals paid plus fee.
func (e *Engine) Withdraw(ctx context.Context, requested uint64, recipient string, token string) (string, error) {
	pool, err := e.cfg.Pool(token)
	if err != nil {
		return "", err
	}
	fee := e.cfg.WithdrawFee(requested)
	if requested <= fee {
		return "", fmt.Errorf("withdrawal of %d does not cover the %d fee", requested, fee)
	}
	paid := requested - fee

	unspent, err := e.scan.Unspent(ctx, pool)
	if err != nil {
		return "", err
	}
	op := newOperation("withdraw", e.observer, e.log)

	transfer, err := e.asm.Assemble(ctx, &zkproof.Request{
		Kind:      zkproof.KindWithdraw,
		Amount:    paid,
		Fee:       fee,
		Recipient: zkproof.RecipientField(base58.Decode(recipient)),
		Unspent:   unspent,
	})
	if err != nil {
		return "", err
	}
	op.advance(EventProve)

	meta, err := e.metadata(transfer, pool)
	if err != nil {
		return "", err
	}
	tx, err := e.builder.BuildSigned(transfer, e.keys.Signer())
	if err != nil {
		return "", err
	}
	return e.relayAndConfirm(ctx, op, &relay.Submission{Tx: tx, Metadata: meta, Token: pool.Token, Withdraw: true})
}

// relayAndConfirm drives the proven operation to its terminal state.
func (e *Engine) relayAndConfirm(ctx context.Context, op *operation, sub *relay.Submission) (string, error) {
	sig, err := e.relayer.Submit(ctx, sub)
	if err != nil {
		var rejected *relay.RelayRejectedError
		if errors.As(err, &rejected) {
			op.advance(EventReject)
		}
		return "", err
	}
	op.advance(EventSubmit)

	if err := e.relayer.Confirm(sub); err != nil {
		var timeout *relay.ConfirmationTimeoutError
		if errors.As(err, &timeout) {
			op.advance(EventTimeout)
		}
		return "", err
	}
	op.advance(EventConfirm)
	e.log.Info().Str("signature", sig).Str("state", op.state()).Msg("operation confirmed")
	return sig, nil
}

// metadata bundles the relay-side state for a transfer: the encrypted
// primary output, the owner key, and pool routing.
func (e *Engine) metadata(transfer *zkproof.Transfer, pool scanner.Pool) (*txbuilder.Metadata, error) {
	blob, err := e.codec.Encrypt(transfer.Outputs[0])
	if err != nil {
		return nil, fmt.Errorf("output encryption failed: %w", err)
	}
	meta := &txbuilder.Metadata{
		EncryptedOutput: blob,
		OwnerPublicKey:  e.keys.OwnerPublicKey().String(),
		Referrer:        e.cfg.Referrer,
	}
	if pool.Token != "" {
		meta.MintAddress = e.cfg.Tokens[pool.Token].Mint
	}
	return meta, nil
}
