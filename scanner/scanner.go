// scanner.go - Note cache synchronization against the remote index.
//
// The read path: fetch encrypted outputs from the remote index starting at
// the cached offset, durably persist them, then decode the entire cache
// (old and new) under the wallet's derived key. Outputs that fail to
// authenticate belong to other observers and are skipped, never raised.

package scanner

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"math/big"

	"github.com/rs/zerolog"

	"github.com/veilpool/veil/keychain"
	"github.com/veilpool/veil/note"
	"github.com/veilpool/veil/notedb"
)

// Pool selects which shielded pool an operation targets. The zero value is
// the native-asset pool; SPL-style pools carry the token name used by the
// indexer and the mint address the identity is derived from.
type Pool struct {
	Token string
	Mint  []byte
}

// Native is the native-asset pool.
var Native = Pool{}

// IndexSource is the slice of the indexer the scanner reads.
type IndexSource interface {
	FetchOutputs(ctx context.Context, owner string, offset uint64, token string) ([][]byte, error)
	CheckNullifier(ctx context.Context, nullifier *big.Int, token string) (bool, error)
}

// Scanner synchronizes the local note cache and derives the unspent set.
type Scanner struct {
	keys  *keychain.Keychain
	codec *note.Codec
	db    *notedb.DB
	index IndexSource
	log   zerolog.Logger
}

// New wires a scanner from its collaborators.
func New(keys *keychain.Keychain, codec *note.Codec, db *notedb.DB, index IndexSource, log zerolog.Logger) *Scanner {
	return &Scanner{
		keys:  keys,
		codec: codec,
		db:    db,
		index: index,
		log:   log.With().Str("component", "scanner").Logger(),
	}
}

// Identity returns the structured cache key for the pool: the wallet public
// key for the native pool, the wallet's associated token address for SPL
// pools.
func (s *Scanner) Identity(p Pool) notedb.Identity {
	if len(p.Mint) == 0 {
		return notedb.Identity{Kind: notedb.KindWallet, Address: s.keys.Signer().PublicKey()}
	}
	return notedb.Identity{Kind: notedb.KindToken, Address: associatedTokenAddress(s.keys.Signer().PublicKey(), p.Mint)}
}

// Sync fetches new encrypted outputs, persists them, and returns every note
// decodable from the full cache. The fetch offset only advances together
// with a durable persist of the fetched outputs.
func (s *Scanner) Sync(ctx context.Context, p Pool) ([]*note.Note, error) {
	id := s.Identity(p)
	offset, err := s.db.FetchOffset(id)
	if err != nil {
		return nil, err
	}
	fetched, err := s.index.FetchOutputs(ctx, s.keys.Address(), offset, p.Token)
	if err != nil {
		return nil, fmt.Errorf("index fetch failed: %w", err)
	}
	if len(fetched) > 0 {
		// Everything fetched is cached, decryptable or not, so the offset
		// always equals the number of cached outputs.
		if err := s.db.AppendOutputs(id, fetched); err != nil {
			return nil, err
		}
		s.log.Debug().Stringer("identity", id).Uint64("offset", offset).
			Int("new", len(fetched)).Msg("cached new encrypted outputs")
	}
	return s.decodeAll(id)
}

// Unspent returns the synced notes whose nullifiers have not appeared
// on-chain, i.e. the currently spendable set.
func (s *Scanner) Unspent(ctx context.Context, p Pool) ([]*note.Note, error) {
	notes, err := s.Sync(ctx, p)
	if err != nil {
		return nil, err
	}
	unspent := make([]*note.Note, 0, len(notes))
	for _, n := range notes {
		nf, err := n.Nullifier()
		if err != nil {
			return nil, err
		}
		spent, err := s.index.CheckNullifier(ctx, nf, p.Token)
		if err != nil {
			return nil, fmt.Errorf("nullifier check failed: %w", err)
		}
		if !spent {
			unspent = append(unspent, n)
		}
	}
	return unspent, nil
}

// Balance sums the unspent note amounts for the pool.
func (s *Scanner) Balance(ctx context.Context, p Pool) (uint64, error) {
	notes, err := s.Unspent(ctx, p)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, n := range notes {
		total += n.Amount
	}
	return total, nil
}

// Clear drops the cached offset and outputs for the pool, forcing a full
// resync on the next read.
func (s *Scanner) Clear(p Pool) error {
	return s.db.Clear(s.Identity(p))
}

func (s *Scanner) decodeAll(id notedb.Identity) ([]*note.Note, error) {
	blobs, err := s.db.Outputs(id)
	if err != nil {
		return nil, err
	}
	secret := s.keys.OwnerSecret()
	notes := make([]*note.Note, 0, len(blobs))
	for i, blob := range blobs {
		n, err := s.codec.Decrypt(blob, secret)
		if err != nil {
			var decErr *note.DecryptionError
			if errors.As(err, &decErr) {
				s.log.Debug().Int("index", i).Msg("skipping undecryptable output")
				continue
			}
			return nil, err
		}
		notes = append(notes, n)
	}
	return notes, nil
}

// associatedTokenAddress deterministically derives the identity address for
// a wallet's position in a token pool.
func associatedTokenAddress(walletPub, mint []byte) []byte {
	h := sha256.New()
	h.Write(walletPub)
	h.Write(mint)
	return h.Sum(nil)
}
